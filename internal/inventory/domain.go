// Package inventory runs physical-count audit cycles and the discrepancy approval workflow.
package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-assets/internal/shared"
)

// CycleStatus enumerates audit cycle states.
type CycleStatus string

const (
	CycleStatusPlanned         CycleStatus = "planned"
	CycleStatusInProgress      CycleStatus = "in_progress"
	CycleStatusCaptureComplete CycleStatus = "capture_complete"
	CycleStatusReconciling     CycleStatus = "reconciling"
	CycleStatusCompleted       CycleStatus = "completed"
)

// DiscrepancyType classifies a mismatch between expected and observed holdings.
type DiscrepancyType string

const (
	DiscrepancyMissing           DiscrepancyType = "missing"
	DiscrepancyExtra             DiscrepancyType = "extra"
	DiscrepancyLocationMismatch  DiscrepancyType = "location_mismatch"
	DiscrepancyCustodianMismatch DiscrepancyType = "custodian_mismatch"
)

// DiscrepancyStatus enumerates discrepancy workflow states.
type DiscrepancyStatus string

const (
	DiscrepancyStatusDetected        DiscrepancyStatus = "detected"
	DiscrepancyStatusPendingApproval DiscrepancyStatus = "pending_approval"
	DiscrepancyStatusApproved        DiscrepancyStatus = "approved"
	DiscrepancyStatusRejected        DiscrepancyStatus = "rejected"
	DiscrepancyStatusResolved        DiscrepancyStatus = "resolved"
)

// ApprovalModule tags approval history and idempotency keys written by this package.
const ApprovalModule = "AUDIT_DISCREPANCY"

var (
	// ErrCycleNotFound indicates the audit cycle does not exist.
	ErrCycleNotFound = fmt.Errorf("inventory: audit cycle %w", shared.ErrNotFound)
	// ErrDiscrepancyNotFound indicates the discrepancy does not exist.
	ErrDiscrepancyNotFound = fmt.Errorf("inventory: discrepancy %w", shared.ErrNotFound)
	// ErrReasonRequired guards rejections without a reason.
	ErrReasonRequired = fmt.Errorf("%w: rejection reason required", shared.ErrValidation)
)

// Cycle is a bounded physical-count campaign.
type Cycle struct {
	ID              int64       `json:"id"`
	Title           string      `json:"title"`
	Description     string      `json:"description,omitempty"`
	LocationID      *int64      `json:"location_id,omitempty"`
	Status          CycleStatus `json:"status"`
	CreatedBy       int64       `json:"created_by"`
	CreatedAt       time.Time   `json:"created_at"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	CaptureClosedAt *time.Time  `json:"capture_closed_at,omitempty"`
	ReconciledAt    *time.Time  `json:"reconciled_at,omitempty"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
}

// ExpectedHolding is an asset the cycle expects to find, snapshotted at start.
type ExpectedHolding struct {
	CycleID     int64  `json:"cycle_id"`
	AssetID     int64  `json:"asset_id"`
	AssetCode   string `json:"asset_code"`
	LocationID  *int64 `json:"location_id,omitempty"`
	CustodianID *int64 `json:"custodian_id,omitempty"`
}

// Capture is one physical observation. Captures are never updated or deleted.
type Capture struct {
	ID          int64     `json:"id"`
	CycleID     int64     `json:"cycle_id"`
	AssetID     int64     `json:"asset_id"`
	AssetCode   string    `json:"asset_code"`
	LocationID  int64     `json:"location_id"`
	CustodianID *int64    `json:"custodian_id,omitempty"`
	CapturedAt  time.Time `json:"captured_at"`
	CapturedBy  int64     `json:"captured_by"`
}

// Discrepancy records a mismatch and its approval state.
type Discrepancy struct {
	ID                  int64             `json:"id"`
	CycleID             int64             `json:"cycle_id"`
	AssetID             int64             `json:"asset_id"`
	AssetCode           string            `json:"asset_code"`
	Type                DiscrepancyType   `json:"type"`
	ExpectedLocationID  *int64            `json:"expected_location_id,omitempty"`
	ExpectedCustodianID *int64            `json:"expected_custodian_id,omitempty"`
	ExpectedQty         int               `json:"expected_qty"`
	FoundLocationID     *int64            `json:"found_location_id,omitempty"`
	FoundCustodianID    *int64            `json:"found_custodian_id,omitempty"`
	FoundQty            int               `json:"found_qty"`
	Status              DiscrepancyStatus `json:"status"`
	ApproverID          *int64            `json:"approver_id,omitempty"`
	Notes               string            `json:"notes,omitempty"`
	Resolution          string            `json:"resolution,omitempty"`
	DetectedAt          time.Time         `json:"detected_at"`
	DecidedAt           *time.Time        `json:"decided_at,omitempty"`
	ResolvedAt          *time.Time        `json:"resolved_at,omitempty"`
}

// CreateCycleInput describes a new audit cycle.
type CreateCycleInput struct {
	Title       string `validate:"required,max=200"`
	Description string `validate:"max=2000"`
	LocationID  *int64 `validate:"omitempty,gt=0"`
	ActorID     int64
}

// CaptureInput describes a scanned asset.
type CaptureInput struct {
	AssetCode   string `validate:"required,max=100"`
	LocationID  int64  `validate:"required,gt=0"`
	CustodianID *int64 `validate:"omitempty,gt=0"`
	ActorID     int64
}

// PendingDiscrepanciesError blocks completing a cycle with undecided discrepancies.
type PendingDiscrepanciesError struct {
	CycleID int64
	Open    int
}

func (e *PendingDiscrepanciesError) Error() string {
	return fmt.Sprintf("audit cycle %d: %d discrepancies awaiting decision", e.CycleID, e.Open)
}

// Unwrap allows errors.Is(err, shared.ErrPendingDiscrepancies).
func (e *PendingDiscrepanciesError) Unwrap() error {
	return shared.ErrPendingDiscrepancies
}

// IsPendingDiscrepancies reports whether err blocks cycle completion.
func IsPendingDiscrepancies(err error) bool {
	return errors.Is(err, shared.ErrPendingDiscrepancies)
}
