package depreciation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-assets/internal/assets"
	"github.com/odyssey-erp/odyssey-assets/internal/platform/db"
)

const entryColumns = `s.asset_id, s.period, s.depreciation, s.cumulative_depreciation, s.book_value, s.method, s.computed_at`

// Only rows of live assets are visible.
const entryFrom = `FROM asset_depreciation_schedules s
JOIN assets a ON a.id = s.asset_id AND a.deleted_at IS NULL`

const upsertEntrySQL = `INSERT INTO asset_depreciation_schedules
    (asset_id, period, depreciation, cumulative_depreciation, book_value, method, computed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (asset_id, period) DO UPDATE SET
    depreciation = EXCLUDED.depreciation,
    cumulative_depreciation = EXCLUDED.cumulative_depreciation,
    book_value = EXCLUDED.book_value,
    method = EXCLUDED.method,
    computed_at = EXCLUDED.computed_at
WHERE (asset_depreciation_schedules.depreciation, asset_depreciation_schedules.cumulative_depreciation,
       asset_depreciation_schedules.book_value, asset_depreciation_schedules.method)
    IS DISTINCT FROM (EXCLUDED.depreciation, EXCLUDED.cumulative_depreciation, EXCLUDED.book_value, EXCLUDED.method)`

// Repository persists depreciation schedules in PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	assets *assets.Queries
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, assets: assets.New(pool)}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetAssetForUpdate(ctx context.Context, id int64) (assets.Asset, error)
	GetCategory(ctx context.Context, id int64) (assets.Category, error)
	UpsertEntries(ctx context.Context, assetID int64, entries []ScheduleEntry, computedAt time.Time) error
	DeleteEntriesAfter(ctx context.Context, assetID int64, period int) error
}

type txRepo struct {
	tx     pgx.Tx
	assets *assets.Queries
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, assets: assets.New(tx)})
	})
}

func (r *Repository) GetAsset(ctx context.Context, id int64) (assets.Asset, error) {
	return r.assets.Get(ctx, id)
}

func (r *Repository) GetCategory(ctx context.Context, id int64) (assets.Category, error) {
	return r.assets.GetCategory(ctx, id)
}

func (r *Repository) ListDepreciableAssetIDs(ctx context.Context) ([]int64, error) {
	return r.assets.ListDepreciableIDs(ctx)
}

// LatestEntry returns the highest-period row for an asset.
func (r *Repository) LatestEntry(ctx context.Context, assetID int64) (StoredEntry, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+entryColumns+` `+entryFrom+`
WHERE s.asset_id = $1 ORDER BY s.period DESC LIMIT 1`, assetID)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return StoredEntry{}, ErrScheduleNotFound
	}
	return entry, err
}

// ListEntries returns all rows for an asset ordered by period.
func (r *Repository) ListEntries(ctx context.Context, assetID int64) ([]StoredEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+entryColumns+` `+entryFrom+`
WHERE s.asset_id = $1 ORDER BY s.period`, assetID)
	if err != nil {
		return nil, fmt.Errorf("depreciation: list entries: %w", err)
	}
	defer rows.Close()
	var entries []StoredEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *txRepo) GetAssetForUpdate(ctx context.Context, id int64) (assets.Asset, error) {
	return r.assets.GetForUpdate(ctx, id)
}

func (r *txRepo) GetCategory(ctx context.Context, id int64) (assets.Category, error) {
	return r.assets.GetCategory(ctx, id)
}

// UpsertEntries writes every period in one batch. Unchanged rows keep their computed_at.
func (r *txRepo) UpsertEntries(ctx context.Context, assetID int64, entries []ScheduleEntry, computedAt time.Time) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(upsertEntrySQL, assetID, e.Period, e.Depreciation, e.CumulativeDepreciation, e.BookValue, string(e.Method), computedAt)
	}
	results := r.tx.SendBatch(ctx, batch)
	for _, e := range entries {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("upsert period %d: %w", e.Period, err)
		}
	}
	return results.Close()
}

func (r *txRepo) DeleteEntriesAfter(ctx context.Context, assetID int64, period int) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM asset_depreciation_schedules WHERE asset_id = $1 AND period > $2`, assetID, period)
	return err
}

func scanEntry(row pgx.Row) (StoredEntry, error) {
	var (
		e      StoredEntry
		method string
	)
	if err := row.Scan(&e.AssetID, &e.Period, &e.Depreciation, &e.CumulativeDepreciation, &e.BookValue, &method, &e.ComputedAt); err != nil {
		return StoredEntry{}, err
	}
	e.Method = MethodCode(method)
	return e, nil
}
