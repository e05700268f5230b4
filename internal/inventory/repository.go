package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-assets/internal/assets"
	"github.com/odyssey-erp/odyssey-assets/internal/platform/db"
	"github.com/odyssey-erp/odyssey-assets/internal/shared"
)

const cycleColumns = `id, title, COALESCE(description, ''), location_id, status, created_by, created_at,
started_at, capture_closed_at, reconciled_at, completed_at`

const captureColumns = `id, cycle_id, asset_id, asset_code, location_id, custodian_id, captured_at, captured_by`

const discrepancyColumns = `id, cycle_id, asset_id, asset_code, type, expected_location_id, expected_custodian_id,
expected_qty, found_location_id, found_custodian_id, found_qty, status, approver_id, COALESCE(notes, ''),
COALESCE(resolution, ''), detected_at, decided_at, resolved_at`

// Repository persists audit cycles in PostgreSQL.
type Repository struct {
	pool      *pgxpool.Pool
	approvals *shared.ApprovalRecorder
	idem      *shared.IdempotencyStore
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, approvals *shared.ApprovalRecorder, idem *shared.IdempotencyStore) *Repository {
	return &Repository{pool: pool, approvals: approvals, idem: idem}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	InsertCycle(ctx context.Context, cycle Cycle) (Cycle, error)
	GetCycleForUpdate(ctx context.Context, id int64) (Cycle, error)
	GetCycleForShare(ctx context.Context, id int64) (Cycle, error)
	UpdateCycleStatus(ctx context.Context, id int64, status CycleStatus, at time.Time) error

	ListHeldAssets(ctx context.Context, locationID *int64) ([]assets.Asset, error)
	InsertExpected(ctx context.Context, holdings []ExpectedHolding) error
	ListExpected(ctx context.Context, cycleID int64) ([]ExpectedHolding, error)

	GetAssetByCode(ctx context.Context, code string) (assets.Asset, error)
	InsertCapture(ctx context.Context, capture Capture) (Capture, error)
	ListCaptures(ctx context.Context, cycleID int64) ([]Capture, error)

	InsertDiscrepancies(ctx context.Context, rows []Discrepancy) ([]Discrepancy, error)
	PromoteDetected(ctx context.Context, cycleID int64) (int64, error)
	CountOpenDiscrepancies(ctx context.Context, cycleID int64) (int, error)
	GetDiscrepancyForUpdate(ctx context.Context, id int64) (Discrepancy, error)
	UpdateDiscrepancy(ctx context.Context, d Discrepancy) error
	CountPriorMissing(ctx context.Context, assetID, excludeCycleID int64) (int, error)

	GetAssetForUpdate(ctx context.Context, id int64) (assets.Asset, error)
	UpdateAsset(ctx context.Context, asset assets.Asset) (assets.Asset, error)
	RecordApproval(ctx context.Context, log shared.ApprovalLog) error
	ClaimCorrection(ctx context.Context, key string) error
}

type txRepo struct {
	tx        pgx.Tx
	assets    *assets.Queries
	approvals *shared.ApprovalRecorder
	idem      *shared.IdempotencyStore
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, assets: assets.New(tx), approvals: r.approvals, idem: r.idem})
	})
}

// ListApprovals returns the decision history of a discrepancy.
func (r *Repository) ListApprovals(ctx context.Context, discrepancyID int64) ([]shared.ApprovalLog, error) {
	logs, err := r.approvals.List(ctx, r.pool, ApprovalModule, shared.ApprovalRef(ApprovalModule, discrepancyID))
	if err != nil {
		return nil, fmt.Errorf("inventory: list approvals %d: %w", discrepancyID, err)
	}
	return logs, nil
}

func (r *Repository) GetCycle(ctx context.Context, id int64) (Cycle, error) {
	return getCycle(ctx, r.pool, id, "")
}

func (r *Repository) ListCaptures(ctx context.Context, cycleID int64) ([]Capture, error) {
	return listCaptures(ctx, r.pool, cycleID)
}

func (r *Repository) ListDiscrepancies(ctx context.Context, cycleID int64) ([]Discrepancy, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+discrepancyColumns+` FROM audit_discrepancies WHERE cycle_id = $1 ORDER BY id`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("inventory: list discrepancies: %w", err)
	}
	defer rows.Close()
	var out []Discrepancy
	for rows.Next() {
		d, err := scanDiscrepancy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *Repository) GetDiscrepancy(ctx context.Context, id int64) (Discrepancy, error) {
	return getDiscrepancy(ctx, r.pool, id, "")
}

func (r *txRepo) InsertCycle(ctx context.Context, cycle Cycle) (Cycle, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO audit_cycles (title, description, location_id, status, created_by, created_at)
VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6) RETURNING id`,
		cycle.Title, cycle.Description, cycle.LocationID, string(cycle.Status), cycle.CreatedBy, cycle.CreatedAt).Scan(&cycle.ID)
	if err != nil {
		return Cycle{}, fmt.Errorf("inventory: insert cycle: %w", err)
	}
	return cycle, nil
}

func (r *txRepo) GetCycleForUpdate(ctx context.Context, id int64) (Cycle, error) {
	return getCycle(ctx, r.tx, id, " FOR UPDATE")
}

func (r *txRepo) GetCycleForShare(ctx context.Context, id int64) (Cycle, error) {
	return getCycle(ctx, r.tx, id, " FOR SHARE")
}

// UpdateCycleStatus stores status and stamps the timestamp column belonging to it.
func (r *txRepo) UpdateCycleStatus(ctx context.Context, id int64, status CycleStatus, at time.Time) error {
	column, ok := map[CycleStatus]string{
		CycleStatusInProgress:      "started_at",
		CycleStatusCaptureComplete: "capture_closed_at",
		CycleStatusReconciling:     "reconciled_at",
		CycleStatusCompleted:       "completed_at",
	}[status]
	if !ok {
		return fmt.Errorf("inventory: no timestamp for status %s", status)
	}
	tag, err := r.tx.Exec(ctx, `UPDATE audit_cycles SET status = $2, `+column+` = $3 WHERE id = $1`, id, string(status), at)
	if err != nil {
		return fmt.Errorf("inventory: update cycle status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCycleNotFound
	}
	return nil
}

func (r *txRepo) ListHeldAssets(ctx context.Context, locationID *int64) ([]assets.Asset, error) {
	return r.assets.ListHeld(ctx, locationID)
}

func (r *txRepo) InsertExpected(ctx context.Context, holdings []ExpectedHolding) error {
	if len(holdings) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(holdings))
	for _, h := range holdings {
		rows = append(rows, []any{h.CycleID, h.AssetID, h.AssetCode, h.LocationID, h.CustodianID})
	}
	_, err := r.tx.CopyFrom(ctx, pgx.Identifier{"audit_cycle_expected"},
		[]string{"cycle_id", "asset_id", "asset_code", "location_id", "custodian_id"}, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("inventory: snapshot expected: %w", err)
	}
	return nil
}

func (r *txRepo) ListExpected(ctx context.Context, cycleID int64) ([]ExpectedHolding, error) {
	rows, err := r.tx.Query(ctx, `SELECT cycle_id, asset_id, asset_code, location_id, custodian_id
FROM audit_cycle_expected WHERE cycle_id = $1 ORDER BY asset_id`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("inventory: list expected: %w", err)
	}
	defer rows.Close()
	var out []ExpectedHolding
	for rows.Next() {
		var h ExpectedHolding
		if err := rows.Scan(&h.CycleID, &h.AssetID, &h.AssetCode, &h.LocationID, &h.CustodianID); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *txRepo) GetAssetByCode(ctx context.Context, code string) (assets.Asset, error) {
	return r.assets.GetByCode(ctx, code)
}

func (r *txRepo) InsertCapture(ctx context.Context, c Capture) (Capture, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO audit_captures (cycle_id, asset_id, asset_code, location_id, custodian_id, captured_at, captured_by)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		c.CycleID, c.AssetID, c.AssetCode, c.LocationID, c.CustodianID, c.CapturedAt, c.CapturedBy).Scan(&c.ID)
	if err != nil {
		return Capture{}, fmt.Errorf("inventory: insert capture: %w", err)
	}
	return c, nil
}

func (r *txRepo) ListCaptures(ctx context.Context, cycleID int64) ([]Capture, error) {
	return listCaptures(ctx, r.tx, cycleID)
}

func (r *txRepo) InsertDiscrepancies(ctx context.Context, rows []Discrepancy) ([]Discrepancy, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	batch := &pgx.Batch{}
	for _, d := range rows {
		batch.Queue(`INSERT INTO audit_discrepancies
    (cycle_id, asset_id, asset_code, type, expected_location_id, expected_custodian_id, expected_qty,
     found_location_id, found_custodian_id, found_qty, status, detected_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`,
			d.CycleID, d.AssetID, d.AssetCode, string(d.Type), d.ExpectedLocationID, d.ExpectedCustodianID, d.ExpectedQty,
			d.FoundLocationID, d.FoundCustodianID, d.FoundQty, string(d.Status), d.DetectedAt)
	}
	results := r.tx.SendBatch(ctx, batch)
	out := make([]Discrepancy, len(rows))
	copy(out, rows)
	for i := range out {
		if err := results.QueryRow().Scan(&out[i].ID); err != nil {
			_ = results.Close()
			return nil, fmt.Errorf("inventory: insert discrepancy for asset %d: %w", out[i].AssetID, err)
		}
	}
	if err := results.Close(); err != nil {
		return nil, fmt.Errorf("inventory: insert discrepancies: %w", err)
	}
	return out, nil
}

func (r *txRepo) PromoteDetected(ctx context.Context, cycleID int64) (int64, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE audit_discrepancies SET status = $2 WHERE cycle_id = $1 AND status = $3`,
		cycleID, string(DiscrepancyStatusPendingApproval), string(DiscrepancyStatusDetected))
	if err != nil {
		return 0, fmt.Errorf("inventory: promote discrepancies: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *txRepo) CountOpenDiscrepancies(ctx context.Context, cycleID int64) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM audit_discrepancies WHERE cycle_id = $1 AND status IN ($2, $3)`,
		cycleID, string(DiscrepancyStatusDetected), string(DiscrepancyStatusPendingApproval)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("inventory: count open discrepancies: %w", err)
	}
	return n, nil
}

func (r *txRepo) GetDiscrepancyForUpdate(ctx context.Context, id int64) (Discrepancy, error) {
	return getDiscrepancy(ctx, r.tx, id, " FOR UPDATE")
}

func (r *txRepo) UpdateDiscrepancy(ctx context.Context, d Discrepancy) error {
	_, err := r.tx.Exec(ctx, `UPDATE audit_discrepancies
SET status = $2, approver_id = $3, notes = NULLIF($4, ''), resolution = NULLIF($5, ''), decided_at = $6, resolved_at = $7
WHERE id = $1`, d.ID, string(d.Status), d.ApproverID, d.Notes, d.Resolution, d.DecidedAt, d.ResolvedAt)
	if err != nil {
		return fmt.Errorf("inventory: update discrepancy %d: %w", d.ID, err)
	}
	return nil
}

func (r *txRepo) CountPriorMissing(ctx context.Context, assetID, excludeCycleID int64) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM audit_discrepancies
WHERE asset_id = $1 AND cycle_id <> $2 AND type = $3 AND status = $4`,
		assetID, excludeCycleID, string(DiscrepancyMissing), string(DiscrepancyStatusResolved)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("inventory: count prior missing: %w", err)
	}
	return n, nil
}

func (r *txRepo) GetAssetForUpdate(ctx context.Context, id int64) (assets.Asset, error) {
	return r.assets.GetForUpdate(ctx, id)
}

func (r *txRepo) UpdateAsset(ctx context.Context, asset assets.Asset) (assets.Asset, error) {
	return r.assets.Update(ctx, asset)
}

func (r *txRepo) RecordApproval(ctx context.Context, log shared.ApprovalLog) error {
	return r.approvals.Record(ctx, r.tx, log)
}

func (r *txRepo) ClaimCorrection(ctx context.Context, key string) error {
	return r.idem.CheckAndInsert(ctx, r.tx, key, ApprovalModule)
}

func getCycle(ctx context.Context, conn db.DBTX, id int64, lock string) (Cycle, error) {
	var (
		c      Cycle
		status string
	)
	err := conn.QueryRow(ctx, `SELECT `+cycleColumns+` FROM audit_cycles WHERE id = $1`+lock, id).Scan(
		&c.ID, &c.Title, &c.Description, &c.LocationID, &status, &c.CreatedBy, &c.CreatedAt,
		&c.StartedAt, &c.CaptureClosedAt, &c.ReconciledAt, &c.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Cycle{}, ErrCycleNotFound
	}
	if err != nil {
		return Cycle{}, fmt.Errorf("inventory: get cycle %d: %w", id, err)
	}
	c.Status = CycleStatus(status)
	return c, nil
}

func listCaptures(ctx context.Context, conn db.DBTX, cycleID int64) ([]Capture, error) {
	rows, err := conn.Query(ctx, `SELECT `+captureColumns+` FROM audit_captures WHERE cycle_id = $1 ORDER BY captured_at, id`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("inventory: list captures: %w", err)
	}
	defer rows.Close()
	var out []Capture
	for rows.Next() {
		var c Capture
		if err := rows.Scan(&c.ID, &c.CycleID, &c.AssetID, &c.AssetCode, &c.LocationID, &c.CustodianID, &c.CapturedAt, &c.CapturedBy); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func getDiscrepancy(ctx context.Context, conn db.DBTX, id int64, lock string) (Discrepancy, error) {
	d, err := scanDiscrepancy(conn.QueryRow(ctx, `SELECT `+discrepancyColumns+` FROM audit_discrepancies WHERE id = $1`+lock, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Discrepancy{}, ErrDiscrepancyNotFound
	}
	if err != nil {
		return Discrepancy{}, fmt.Errorf("inventory: get discrepancy %d: %w", id, err)
	}
	return d, nil
}

func scanDiscrepancy(row pgx.Row) (Discrepancy, error) {
	var (
		d           Discrepancy
		kind, state string
	)
	err := row.Scan(&d.ID, &d.CycleID, &d.AssetID, &d.AssetCode, &kind, &d.ExpectedLocationID, &d.ExpectedCustodianID,
		&d.ExpectedQty, &d.FoundLocationID, &d.FoundCustodianID, &d.FoundQty, &state, &d.ApproverID, &d.Notes,
		&d.Resolution, &d.DetectedAt, &d.DecidedAt, &d.ResolvedAt)
	if err != nil {
		return Discrepancy{}, err
	}
	d.Type = DiscrepancyType(kind)
	d.Status = DiscrepancyStatus(state)
	return d, nil
}
