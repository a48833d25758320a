package qrtoken

import (
	"context"
	"time"
)

//go:generate mockgen -source=resolver.go -destination=mock_resolver_test.go -package=qrtoken

// SubjectResolver looks up the parcel or pickup a token is bound to. Both
// methods return nil, nil when the subject does not exist.
type SubjectResolver interface {
	ResolveParcel(ctx context.Context, parcelRef string) (*Subject, error)
	ResolvePickup(ctx context.Context, pickupRef string) (*Subject, error)
}

type SubjectKind string

const (
	SubjectParcel SubjectKind = "PARCEL"
	SubjectPickup SubjectKind = "PICKUP"
)

// Subject is the snapshot attached to a VALID outcome.
type Subject struct {
	Kind          SubjectKind `json:"kind"`
	ID            string      `json:"id"`
	TrackingRef   string      `json:"tracking_ref"`
	Status        string      `json:"status"`
	ServiceType   string      `json:"service_type,omitempty"`
	WeightKg      float64     `json:"weight_kg,omitempty"`
	Fragile       bool        `json:"fragile,omitempty"`
	RequestedDate *time.Time  `json:"requested_date,omitempty"`
	TimeWindow    string      `json:"time_window,omitempty"`
	QRStatus      string      `json:"qr_status,omitempty"`
	Locked        bool        `json:"locked,omitempty"`
}

// ParcelQRFinal is the QR status of a parcel whose data has been validated.
const ParcelQRFinal = "FINAL"

// Issuable reports whether a permanent QR may be printed for the parcel.
func (s *Subject) Issuable() bool {
	return s.QRStatus == ParcelQRFinal && s.Locked
}
