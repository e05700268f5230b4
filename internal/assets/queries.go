package assets

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-assets/internal/platform/db"
	"github.com/odyssey-erp/odyssey-assets/internal/shared"
)

const assetColumns = `id, code, name, COALESCE(serial, ''), category_id, location_id, supplier_id, custodian_id,
purchase_value, residual_value, useful_life_years, acquired_at, COALESCE(depreciation_method, ''),
COALESCE(production_total_units, 0), COALESCE(production_units, '{}'), status, version, updated_at`

// Queries reads and writes asset rows on a pool or an open transaction.
// Soft-deleted rows are invisible to every query.
type Queries struct {
	db db.DBTX
}

// New binds queries to conn.
func New(conn db.DBTX) *Queries {
	return &Queries{db: conn}
}

// Get loads a live asset by id.
func (q *Queries) Get(ctx context.Context, id int64) (Asset, error) {
	return q.one(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = $1 AND deleted_at IS NULL`, id)
}

// GetForUpdate loads and row-locks a live asset.
func (q *Queries) GetForUpdate(ctx context.Context, id int64) (Asset, error) {
	return q.one(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, id)
}

// GetByCode resolves a scanned code to a live asset.
func (q *Queries) GetByCode(ctx context.Context, code string) (Asset, error) {
	return q.one(ctx, `SELECT `+assetColumns+` FROM assets WHERE code = $1 AND deleted_at IS NULL`, code)
}

// ListHeld returns live assets still expected on the premises, optionally scoped to a location.
func (q *Queries) ListHeld(ctx context.Context, locationID *int64) ([]Asset, error) {
	rows, err := q.db.Query(ctx, `SELECT `+assetColumns+` FROM assets
WHERE deleted_at IS NULL AND status NOT IN ('disposed', 'retired')
  AND ($1::bigint IS NULL OR location_id = $1)
ORDER BY id`, locationID)
	if err != nil {
		return nil, fmt.Errorf("assets: list held: %w", err)
	}
	defer rows.Close()
	var out []Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListDepreciableIDs returns ids of live assets with a purchase value.
func (q *Queries) ListDepreciableIDs(ctx context.Context) ([]int64, error) {
	rows, err := q.db.Query(ctx, `SELECT id FROM assets
WHERE deleted_at IS NULL AND purchase_value > 0 AND status <> 'disposed'
ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("assets: list depreciable: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetCategory loads a category.
func (q *Queries) GetCategory(ctx context.Context, id int64) (Category, error) {
	var c Category
	err := q.db.QueryRow(ctx, `SELECT id, name, COALESCE(depreciation_method, '') FROM asset_categories WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.DepreciationMethod)
	if errors.Is(err, pgx.ErrNoRows) {
		return Category{}, ErrCategoryNotFound
	}
	if err != nil {
		return Category{}, fmt.Errorf("assets: get category: %w", err)
	}
	return c, nil
}

// Update writes location, custodian and status guarded by the version read earlier.
// The returned asset carries the bumped version.
func (q *Queries) Update(ctx context.Context, a Asset) (Asset, error) {
	if !a.Status.Valid() {
		return Asset{}, shared.Validationf("unknown asset status %q", a.Status)
	}
	var version int64
	err := q.db.QueryRow(ctx, `UPDATE assets
SET location_id = $3, custodian_id = $4, status = $5, version = version + 1, updated_at = NOW()
WHERE id = $1 AND version = $2 AND deleted_at IS NULL
RETURNING version`, a.ID, a.Version, a.LocationID, a.CustodianID, string(a.Status)).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return Asset{}, fmt.Errorf("assets: update %d: %w", a.ID, shared.ErrConcurrentUpdate)
	}
	if err != nil {
		return Asset{}, fmt.Errorf("assets: update %d: %w", a.ID, err)
	}
	a.Version = version
	return a, nil
}

func (q *Queries) one(ctx context.Context, sql string, arg any) (Asset, error) {
	rows, err := q.db.Query(ctx, sql, arg)
	if err != nil {
		return Asset{}, fmt.Errorf("assets: query: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Asset{}, fmt.Errorf("assets: query: %w", err)
		}
		return Asset{}, ErrNotFound
	}
	a, err := scanAsset(rows)
	if err != nil {
		return Asset{}, err
	}
	return a, rows.Err()
}

func scanAsset(row pgx.Row) (Asset, error) {
	var (
		a      Asset
		status string
	)
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Serial, &a.CategoryID, &a.LocationID, &a.SupplierID, &a.CustodianID,
		&a.PurchaseValue, &a.ResidualValue, &a.UsefulLifeYears, &a.AcquiredAt, &a.DepreciationMethod,
		&a.Production.TotalUnits, &a.Production.Units, &status, &a.Version, &a.UpdatedAt)
	if err != nil {
		return Asset{}, fmt.Errorf("assets: scan: %w", err)
	}
	a.Status = Status(status)
	return a, nil
}
