package subject

import (
	"context"
	"fmt"
	"strings"

	"parcelqr/pkg/db/option"
	"parcelqr/pkg/repository"
	"parcelqr/services/qrtoken"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Directory resolves token subjects against the parcel and pickup tables.
type Directory struct {
	parcels repository.Repository[Parcel]
	pickups repository.Repository[PickupRequest]
}

type Params struct {
	fx.In
	DB *gorm.DB
}

func NewDirectory(p Params) *Directory {
	return &Directory{
		parcels: repository.ProvideStore[Parcel](p.DB),
		pickups: repository.ProvideStore[PickupRequest](p.DB),
	}
}

var _ qrtoken.SubjectResolver = (*Directory)(nil)

func (d *Directory) ResolveParcel(ctx context.Context, parcelRef string) (*qrtoken.Subject, error) {
	if strings.TrimSpace(parcelRef) == "" {
		return nil, nil
	}

	parcel, err := d.parcels.FindOne(ctx, &Parcel{ID: parcelRef})
	if err != nil {
		zap.L().Error("failed to load parcel", zap.String("parcel_ref", parcelRef), zap.Error(err))
		return nil, fmt.Errorf("load parcel: %w", err)
	}
	if parcel == nil {
		return nil, nil
	}

	return &qrtoken.Subject{
		Kind:        qrtoken.SubjectParcel,
		ID:          parcel.ID,
		TrackingRef: parcel.TrackingRef,
		Status:      parcel.Status,
		ServiceType: parcel.ServiceType,
		WeightKg:    parcel.Weight,
		Fragile:     parcel.Fragile,
		QRStatus:    parcel.QRStatus,
		Locked:      parcel.Locked,
	}, nil
}

func (d *Directory) ResolvePickup(ctx context.Context, pickupRef string) (*qrtoken.Subject, error) {
	if strings.TrimSpace(pickupRef) == "" {
		return nil, nil
	}

	pickup, err := d.pickups.FindOne(ctx, &PickupRequest{ID: pickupRef}, option.WithPreload("Parcel"))
	if err != nil {
		zap.L().Error("failed to load pickup request", zap.String("pickup_ref", pickupRef), zap.Error(err))
		return nil, fmt.Errorf("load pickup request: %w", err)
	}
	if pickup == nil {
		return nil, nil
	}

	requested := pickup.RequestedDate
	s := &qrtoken.Subject{
		Kind:          qrtoken.SubjectPickup,
		ID:            pickup.ID,
		Status:        pickup.State,
		RequestedDate: &requested,
		TimeWindow:    pickup.TimeWindow,
	}
	if pickup.Parcel != nil {
		s.TrackingRef = pickup.Parcel.TrackingRef
		s.ServiceType = pickup.Parcel.ServiceType
		s.WeightKg = pickup.Parcel.Weight
		s.Fragile = pickup.Parcel.Fragile
	}

	return s, nil
}
