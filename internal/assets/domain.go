// Package assets exposes the fixed-asset rows consumed by depreciation and audit cycles.
package assets

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-assets/internal/shared"
)

// Status enumerates asset lifecycle states.
type Status string

const (
	StatusActive           Status = "active"
	StatusUnderMaintenance Status = "under_maintenance"
	StatusInactive         Status = "inactive"
	StatusDisposed         Status = "disposed"
	StatusRetired          Status = "retired"
)

// Held reports whether an asset in this status is expected on the premises.
func (s Status) Held() bool {
	return s != StatusDisposed && s != StatusRetired
}

// Dormant reports whether a physically found asset in this status needs reactivation.
func (s Status) Dormant() bool {
	return s == StatusInactive || s == StatusRetired || s == StatusDisposed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusUnderMaintenance, StatusInactive, StatusDisposed, StatusRetired:
		return true
	}
	return false
}

var (
	// ErrNotFound indicates the asset is missing or soft-deleted.
	ErrNotFound = fmt.Errorf("assets: asset %w", shared.ErrNotFound)
	// ErrCategoryNotFound indicates a dangling category reference.
	ErrCategoryNotFound = fmt.Errorf("assets: category %w", shared.ErrNotFound)
)

// ProductionPlan carries estimated output used by units-of-production depreciation.
// Units[i] is the expected output of period i+1.
type ProductionPlan struct {
	TotalUnits int64
	Units      []int64
}

// Empty reports whether no usable plan exists.
func (p ProductionPlan) Empty() bool {
	return p.TotalUnits <= 0
}

// Asset is a tracked physical asset.
type Asset struct {
	ID                 int64
	Code               string
	Name               string
	Serial             string
	CategoryID         *int64
	LocationID         *int64
	SupplierID         *int64
	CustodianID        *int64
	PurchaseValue      decimal.Decimal
	ResidualValue      decimal.Decimal
	UsefulLifeYears    int
	AcquiredAt         time.Time
	DepreciationMethod string
	Production         ProductionPlan
	Status             Status
	Version            int64
	UpdatedAt          time.Time
}

// Category groups assets and may carry a default depreciation method.
type Category struct {
	ID                 int64
	Name               string
	DepreciationMethod string
}

// SameRef compares two optional references.
func SameRef(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Ref returns a pointer to id, or nil for zero.
func Ref(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}
