package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-assets/internal/assets"
	"github.com/odyssey-erp/odyssey-assets/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetCycle(ctx context.Context, id int64) (Cycle, error)
	ListCaptures(ctx context.Context, cycleID int64) ([]Capture, error)
	ListDiscrepancies(ctx context.Context, cycleID int64) ([]Discrepancy, error)
	GetDiscrepancy(ctx context.Context, id int64) (Discrepancy, error)
	ListApprovals(ctx context.Context, discrepancyID int64) ([]shared.ApprovalLog, error)
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	MissingPolicy MissingPolicy
}

// Service coordinates audit cycles and discrepancy decisions.
type Service struct {
	repo     RepositoryPort
	notifier shared.Notifier
	policy   MissingPolicy
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, notifier shared.Notifier, cfg ServiceConfig, logger *slog.Logger) *Service {
	if notifier == nil {
		notifier = shared.NopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	policy := cfg.MissingPolicy
	if policy.Action == "" {
		policy.Action = MissingRetire
	}
	if policy.GraceCycles < 0 {
		policy.GraceCycles = 0
	}
	return &Service{repo: repo, notifier: notifier, policy: policy, logger: logger, now: time.Now}
}

// WithNow overrides the clock, primarily for tests.
func (s *Service) WithNow(fn func() time.Time) {
	if fn != nil {
		s.now = fn
	}
}

// CreateCycle registers a planned audit cycle.
func (s *Service) CreateCycle(ctx context.Context, input CreateCycleInput) (Cycle, error) {
	input.Title = strings.TrimSpace(input.Title)
	if err := shared.ValidateStruct(input); err != nil {
		return Cycle{}, err
	}
	var cycle Cycle
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		cycle, err = tx.InsertCycle(ctx, Cycle{
			Title:       input.Title,
			Description: strings.TrimSpace(input.Description),
			LocationID:  input.LocationID,
			Status:      CycleStatusPlanned,
			CreatedBy:   input.ActorID,
			CreatedAt:   s.now(),
		})
		return err
	})
	if err != nil {
		return Cycle{}, err
	}
	return cycle, nil
}

// GetCycle loads an audit cycle.
func (s *Service) GetCycle(ctx context.Context, id int64) (Cycle, error) {
	return s.repo.GetCycle(ctx, id)
}

// Start opens the cycle for capture and snapshots the assets it expects to find.
func (s *Service) Start(ctx context.Context, cycleID, actorID int64) (Cycle, error) {
	var (
		cycle    Cycle
		expected int
	)
	now := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		cycle, err = tx.GetCycleForUpdate(ctx, cycleID)
		if err != nil {
			return err
		}
		if err := cycle.transition(CycleStatusInProgress); err != nil {
			return err
		}
		held, err := tx.ListHeldAssets(ctx, cycle.LocationID)
		if err != nil {
			return err
		}
		holdings := make([]ExpectedHolding, 0, len(held))
		for _, a := range held {
			holdings = append(holdings, ExpectedHolding{
				CycleID:     cycle.ID,
				AssetID:     a.ID,
				AssetCode:   a.Code,
				LocationID:  a.LocationID,
				CustodianID: a.CustodianID,
			})
		}
		if err := tx.InsertExpected(ctx, holdings); err != nil {
			return err
		}
		if err := tx.UpdateCycleStatus(ctx, cycle.ID, CycleStatusInProgress, now); err != nil {
			return err
		}
		cycle.Status = CycleStatusInProgress
		cycle.StartedAt = &now
		expected = len(holdings)
		return nil
	})
	if err != nil {
		return Cycle{}, err
	}
	s.notifier.Notify(ctx, cycleEvent(shared.EventCycleStarted, cycle, actorID, now, map[string]any{"expected": expected}))
	return cycle, nil
}

// CaptureAsset appends an observation while the cycle is in progress.
// The shared cycle lock keeps captures from interleaving with the finalize barrier.
func (s *Service) CaptureAsset(ctx context.Context, cycleID int64, input CaptureInput) (Capture, error) {
	input.AssetCode = strings.TrimSpace(input.AssetCode)
	if err := shared.ValidateStruct(input); err != nil {
		return Capture{}, err
	}
	var capture Capture
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		cycle, err := tx.GetCycleForShare(ctx, cycleID)
		if err != nil {
			return err
		}
		if err := cycle.require(CycleStatusInProgress, "capture"); err != nil {
			return err
		}
		asset, err := tx.GetAssetByCode(ctx, input.AssetCode)
		if err != nil {
			if errors.Is(err, assets.ErrNotFound) {
				return shared.NotFoundf("asset code %q", input.AssetCode)
			}
			return err
		}
		capture, err = tx.InsertCapture(ctx, Capture{
			CycleID:     cycle.ID,
			AssetID:     asset.ID,
			AssetCode:   asset.Code,
			LocationID:  input.LocationID,
			CustodianID: input.CustodianID,
			CapturedAt:  s.now(),
			CapturedBy:  input.ActorID,
		})
		return err
	})
	if err != nil {
		return Capture{}, err
	}
	return capture, nil
}

// ListCaptures returns every capture of a cycle, duplicates included.
func (s *Service) ListCaptures(ctx context.Context, cycleID int64) ([]Capture, error) {
	if _, err := s.repo.GetCycle(ctx, cycleID); err != nil {
		return nil, err
	}
	return s.repo.ListCaptures(ctx, cycleID)
}

// Finalize closes capture and reconciles the cycle. The capture barrier commits on its own,
// so a failed reconciliation can be resumed by calling Finalize again.
func (s *Service) Finalize(ctx context.Context, cycleID, actorID int64) ([]Discrepancy, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		cycle, err := tx.GetCycleForUpdate(ctx, cycleID)
		if err != nil {
			return err
		}
		if cycle.Status == CycleStatusCaptureComplete {
			return nil
		}
		if err := cycle.transition(CycleStatusCaptureComplete); err != nil {
			return err
		}
		return tx.UpdateCycleStatus(ctx, cycle.ID, CycleStatusCaptureComplete, s.now())
	})
	if err != nil {
		return nil, err
	}

	var (
		cycle  Cycle
		result []Discrepancy
	)
	now := s.now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		cycle, err = tx.GetCycleForUpdate(ctx, cycleID)
		if err != nil {
			return err
		}
		if err := cycle.transition(CycleStatusReconciling); err != nil {
			return err
		}
		expected, err := tx.ListExpected(ctx, cycle.ID)
		if err != nil {
			return err
		}
		captures, err := tx.ListCaptures(ctx, cycle.ID)
		if err != nil {
			return err
		}
		result, err = tx.InsertDiscrepancies(ctx, Reconcile(cycle.ID, expected, captures, now))
		if err != nil {
			return err
		}
		if _, err := tx.PromoteDetected(ctx, cycle.ID); err != nil {
			return err
		}
		for i := range result {
			result[i].Status = DiscrepancyStatusPendingApproval
		}
		if err := tx.UpdateCycleStatus(ctx, cycle.ID, CycleStatusReconciling, now); err != nil {
			return err
		}
		cycle.Status = CycleStatusReconciling
		cycle.ReconciledAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	events := make([]shared.DomainEvent, 0, len(result)+1)
	for _, d := range result {
		events = append(events, discrepancyEvent(shared.EventDiscrepancyDetected, d, actorID, now, nil))
	}
	events = append(events, cycleEvent(shared.EventCycleReconciled, cycle, actorID, now, map[string]any{"discrepancies": len(result)}))
	s.notifier.Notify(ctx, events...)
	s.logger.Info("audit cycle reconciled", slog.Int64("cycle_id", cycle.ID), slog.Int("discrepancies", len(result)))
	return result, nil
}

// Complete closes a reconciled cycle once no discrepancy awaits a decision.
func (s *Service) Complete(ctx context.Context, cycleID, actorID int64) (Cycle, error) {
	var cycle Cycle
	now := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		cycle, err = tx.GetCycleForUpdate(ctx, cycleID)
		if err != nil {
			return err
		}
		if err := cycle.transition(CycleStatusCompleted); err != nil {
			return err
		}
		open, err := tx.CountOpenDiscrepancies(ctx, cycle.ID)
		if err != nil {
			return err
		}
		if open > 0 {
			return &PendingDiscrepanciesError{CycleID: cycle.ID, Open: open}
		}
		if err := tx.UpdateCycleStatus(ctx, cycle.ID, CycleStatusCompleted, now); err != nil {
			return err
		}
		cycle.Status = CycleStatusCompleted
		cycle.CompletedAt = &now
		return nil
	})
	if err != nil {
		return Cycle{}, err
	}
	s.notifier.Notify(ctx, cycleEvent(shared.EventCycleCompleted, cycle, actorID, now, nil))
	return cycle, nil
}

// ListDiscrepancies returns the discrepancies of a cycle.
func (s *Service) ListDiscrepancies(ctx context.Context, cycleID int64) ([]Discrepancy, error) {
	if _, err := s.repo.GetCycle(ctx, cycleID); err != nil {
		return nil, err
	}
	return s.repo.ListDiscrepancies(ctx, cycleID)
}

// Transitions lists the states the discrepancy may move to next.
func (s *Service) Transitions(ctx context.Context, discrepancyID int64) ([]DiscrepancyStatus, error) {
	d, err := s.repo.GetDiscrepancy(ctx, discrepancyID)
	if err != nil {
		return nil, err
	}
	return d.Status.Transitions(), nil
}

// ApprovalHistory lists the recorded decisions for a discrepancy, oldest first.
func (s *Service) ApprovalHistory(ctx context.Context, discrepancyID int64) ([]shared.ApprovalLog, error) {
	if _, err := s.repo.GetDiscrepancy(ctx, discrepancyID); err != nil {
		return nil, err
	}
	return s.repo.ListApprovals(ctx, discrepancyID)
}

// Approve accepts a pending discrepancy and applies its corrective asset mutation in the same
// transaction. The correction key makes the mutation at-most-once.
func (s *Service) Approve(ctx context.Context, discrepancyID, approverID int64, notes string) (Discrepancy, error) {
	if approverID == 0 {
		return Discrepancy{}, shared.Validationf("approver required")
	}
	var (
		d    Discrepancy
		plan correction
	)
	now := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		d, err = s.lockDecidable(ctx, tx, discrepancyID, DiscrepancyStatusApproved)
		if err != nil {
			return err
		}
		d.Status = DiscrepancyStatusApproved
		d.ApproverID = &approverID
		d.Notes = strings.TrimSpace(notes)
		d.DecidedAt = &now
		if err := tx.RecordApproval(ctx, shared.ApprovalLog{
			Module:  ApprovalModule,
			RefID:   shared.ApprovalRef(ApprovalModule, d.ID),
			ActorID: approverID,
			Action:  shared.ApprovalApprove,
			Note:    d.Notes,
			At:      now,
		}); err != nil {
			return fmt.Errorf("inventory: record approval: %w", err)
		}

		if err := tx.ClaimCorrection(ctx, shared.CorrectionKey(d.ID)); err != nil {
			return fmt.Errorf("inventory: claim correction: %w", err)
		}
		asset, err := tx.GetAssetForUpdate(ctx, d.AssetID)
		if err != nil {
			return err
		}
		prior := 0
		if d.Type == DiscrepancyMissing {
			if prior, err = tx.CountPriorMissing(ctx, d.AssetID, d.CycleID); err != nil {
				return err
			}
		}
		plan = planCorrection(d, asset, s.policy, prior)
		if plan.changed {
			if plan.asset, err = tx.UpdateAsset(ctx, plan.asset); err != nil {
				return err
			}
		}

		if err := d.transition(DiscrepancyStatusResolved); err != nil {
			return err
		}
		d.Status = DiscrepancyStatusResolved
		d.Resolution = plan.resolution
		d.ResolvedAt = &now
		return tx.UpdateDiscrepancy(ctx, d)
	})
	if err != nil {
		return Discrepancy{}, err
	}

	events := []shared.DomainEvent{discrepancyEvent(shared.EventDiscrepancyApproved, d, approverID, now, map[string]any{"resolution": d.Resolution})}
	for _, typ := range plan.events {
		events = append(events, shared.DomainEvent{
			Type:       typ,
			Entity:     "asset",
			EntityID:   d.AssetID,
			ActorID:    approverID,
			OccurredAt: now,
			Data:       map[string]any{"discrepancy_id": d.ID, "cycle_id": d.CycleID, "status": string(plan.asset.Status)},
		})
	}
	s.notifier.Notify(ctx, events...)
	return d, nil
}

// Reject declines a pending discrepancy. The asset is left untouched.
func (s *Service) Reject(ctx context.Context, discrepancyID, approverID int64, reason string) (Discrepancy, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Discrepancy{}, ErrReasonRequired
	}
	if approverID == 0 {
		return Discrepancy{}, shared.Validationf("approver required")
	}
	var d Discrepancy
	now := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		d, err = s.lockDecidable(ctx, tx, discrepancyID, DiscrepancyStatusRejected)
		if err != nil {
			return err
		}
		d.Status = DiscrepancyStatusRejected
		d.ApproverID = &approverID
		d.Notes = reason
		d.DecidedAt = &now
		if err := tx.RecordApproval(ctx, shared.ApprovalLog{
			Module:  ApprovalModule,
			RefID:   shared.ApprovalRef(ApprovalModule, d.ID),
			ActorID: approverID,
			Action:  shared.ApprovalReject,
			Note:    reason,
			At:      now,
		}); err != nil {
			return fmt.Errorf("inventory: record rejection: %w", err)
		}
		return tx.UpdateDiscrepancy(ctx, d)
	})
	if err != nil {
		return Discrepancy{}, err
	}
	s.notifier.Notify(ctx, discrepancyEvent(shared.EventDiscrepancyRejected, d, approverID, now, map[string]any{"reason": reason}))
	return d, nil
}

// lockDecidable locks a discrepancy, checks the requested decision against its state and
// requires its cycle to be reconciling.
func (s *Service) lockDecidable(ctx context.Context, tx TxRepository, id int64, next DiscrepancyStatus) (Discrepancy, error) {
	d, err := tx.GetDiscrepancyForUpdate(ctx, id)
	if err != nil {
		return Discrepancy{}, err
	}
	if err := d.transition(next); err != nil {
		return Discrepancy{}, err
	}
	cycle, err := tx.GetCycleForShare(ctx, d.CycleID)
	if err != nil {
		return Discrepancy{}, err
	}
	if err := cycle.require(CycleStatusReconciling, "decide discrepancies"); err != nil {
		return Discrepancy{}, err
	}
	return d, nil
}

func cycleEvent(typ string, c Cycle, actorID int64, at time.Time, data map[string]any) shared.DomainEvent {
	if data == nil {
		data = map[string]any{}
	}
	data["title"] = c.Title
	data["status"] = string(c.Status)
	return shared.DomainEvent{Type: typ, Entity: "audit_cycle", EntityID: c.ID, ActorID: actorID, OccurredAt: at, Data: data}
}

func discrepancyEvent(typ string, d Discrepancy, actorID int64, at time.Time, data map[string]any) shared.DomainEvent {
	if data == nil {
		data = map[string]any{}
	}
	data["cycle_id"] = d.CycleID
	data["asset_id"] = d.AssetID
	data["asset_code"] = d.AssetCode
	data["type"] = string(d.Type)
	return shared.DomainEvent{Type: typ, Entity: "discrepancy", EntityID: d.ID, ActorID: actorID, OccurredAt: at, Data: data}
}
