// Package depreciation computes, persists and serves asset depreciation schedules.
package depreciation

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultUsefulLifeYears applies when an asset has no useful life recorded.
const DefaultUsefulLifeYears = 5

// MaxUsefulLifeYears bounds schedule length; longer recorded lives are clamped.
const MaxUsefulLifeYears = 100

// ErrScheduleNotFound indicates no persisted schedule rows match.
var ErrScheduleNotFound = errors.New("depreciation: schedule not found")

// ScheduleEntry is one period of a depreciation schedule.
type ScheduleEntry struct {
	Period                 int             `json:"period"`
	Depreciation           decimal.Decimal `json:"depreciation"`
	CumulativeDepreciation decimal.Decimal `json:"cumulative_depreciation"`
	BookValue              decimal.Decimal `json:"book_value"`
	Method                 MethodCode      `json:"method"`
}

// StoredEntry is a persisted schedule row.
type StoredEntry struct {
	ScheduleEntry
	AssetID    int64     `json:"asset_id"`
	ComputedAt time.Time `json:"computed_at"`
}

// Valuation reports an asset's book value at a point of its schedule.
// Period 0 means no depreciation has been recorded yet.
type Valuation struct {
	AssetID                int64           `json:"asset_id"`
	BookValue              decimal.Decimal `json:"book_value"`
	CumulativeDepreciation decimal.Decimal `json:"cumulative_depreciation"`
	Period                 int             `json:"period"`
}

// Schedule is the result of a compute or persist call.
type Schedule struct {
	AssetID int64           `json:"asset_id"`
	Method  MethodCode      `json:"method"`
	Entries []ScheduleEntry `json:"entries"`
}
