package subject

import (
	"time"
)

// Parcel is the read model of the logistics parcel table, limited to the
// columns a verification snapshot needs.
type Parcel struct {
	ID          string    `gorm:"column:parcel_id;primaryKey;type:varchar(64)"`
	TrackingRef string    `gorm:"column:tracking_ref;uniqueIndex;type:varchar(80);not null"`
	Status      string    `gorm:"column:status;type:varchar(30);not null"`
	ServiceType string    `gorm:"column:service_type;type:varchar(20)"`
	Weight      float64   `gorm:"column:weight;not null"`
	Fragile     bool      `gorm:"column:is_fragile;not null;default:false"`
	QRStatus    string    `gorm:"column:qr_status;type:varchar(20);not null;default:'PARTIAL'"`
	Locked      bool      `gorm:"column:is_locked;not null;default:false"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Parcel) TableName() string {
	return "parcel"
}

// PickupRequest is the read model of a scheduled pickup. Its tracking
// reference comes from the parcel it collects.
type PickupRequest struct {
	ID            string    `gorm:"column:pickup_id;primaryKey;type:varchar(64)"`
	ParcelID      string    `gorm:"column:parcel_id;index;type:varchar(64);not null"`
	Parcel        *Parcel   `gorm:"foreignKey:ParcelID;references:ID"`
	RequestedDate time.Time `gorm:"column:requested_date;not null"`
	TimeWindow    string    `gorm:"column:time_window;type:varchar(30);not null"`
	State         string    `gorm:"column:state;type:varchar(20);not null"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (PickupRequest) TableName() string {
	return "pickup_request"
}

func Models() []any {
	return []any{&Parcel{}, &PickupRequest{}}
}
