package depreciation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-assets/internal/assets"
	"github.com/odyssey-erp/odyssey-assets/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetAsset(ctx context.Context, id int64) (assets.Asset, error)
	GetCategory(ctx context.Context, id int64) (assets.Category, error)
	LatestEntry(ctx context.Context, assetID int64) (StoredEntry, error)
	ListEntries(ctx context.Context, assetID int64) ([]StoredEntry, error)
	ListDepreciableAssetIDs(ctx context.Context) ([]int64, error)
}

// CachePort abstracts the valuation cache.
type CachePort interface {
	Get(ctx context.Context, assetID int64) (Valuation, bool, error)
	Generation(ctx context.Context, assetID int64) (int64, error)
	SetIfGeneration(ctx context.Context, v Valuation, gen int64) (bool, error)
	Invalidate(ctx context.Context, assetID int64) error
}

type categoryReader interface {
	GetCategory(ctx context.Context, id int64) (assets.Category, error)
}

// Service computes and persists depreciation schedules.
type Service struct {
	repo     RepositoryPort
	cache    CachePort
	notifier shared.Notifier
	logger   *slog.Logger
	group    singleflight.Group
	now      func() time.Time
}

// NewService builds Service. cache and notifier may be nil.
func NewService(repo RepositoryPort, cache CachePort, notifier shared.Notifier, logger *slog.Logger) *Service {
	if notifier == nil {
		notifier = shared.NopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, notifier: notifier, logger: logger, now: time.Now}
}

// WithNow overrides the clock, primarily for tests.
func (s *Service) WithNow(fn func() time.Time) {
	if fn != nil {
		s.now = fn
	}
}

// PreviewSchedule computes an asset's schedule without persisting it.
func (s *Service) PreviewSchedule(ctx context.Context, assetID int64) (Schedule, error) {
	asset, err := s.repo.GetAsset(ctx, assetID)
	if err != nil {
		return Schedule{}, err
	}
	category, err := s.category(ctx, s.repo, asset)
	if err != nil {
		return Schedule{}, err
	}
	return buildSchedule(asset, category), nil
}

// PersistSchedule recomputes and atomically replaces the stored schedule for an asset.
// Recomputes for the same asset serialize on the asset row lock.
func (s *Service) PersistSchedule(ctx context.Context, assetID, actorID int64) (Schedule, error) {
	var schedule Schedule
	now := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		asset, err := tx.GetAssetForUpdate(ctx, assetID)
		if err != nil {
			return err
		}
		category, err := s.category(ctx, tx, asset)
		if err != nil {
			return err
		}
		schedule = buildSchedule(asset, category)
		if err := tx.UpsertEntries(ctx, assetID, schedule.Entries, now); err != nil {
			return fmt.Errorf("depreciation: persist schedule %d: %w", assetID, err)
		}
		if err := tx.DeleteEntriesAfter(ctx, assetID, len(schedule.Entries)); err != nil {
			return fmt.Errorf("depreciation: trim schedule %d: %w", assetID, err)
		}
		return nil
	})
	if err != nil {
		return Schedule{}, err
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, assetID); err != nil {
			s.logger.Warn("depreciation cache invalidate", slog.Int64("asset_id", assetID), slog.Any("error", err))
		}
	}
	data := map[string]any{"method": string(schedule.Method), "periods": len(schedule.Entries)}
	if n := len(schedule.Entries); n > 0 {
		data["final_book_value"] = schedule.Entries[n-1].BookValue.String()
	}
	s.notifier.Notify(ctx, shared.DomainEvent{
		Type:       shared.EventAssetRevalued,
		Entity:     "asset",
		EntityID:   assetID,
		ActorID:    actorID,
		OccurredAt: now,
		Data:       data,
	})
	return schedule, nil
}

// CurrentValuation returns the book value of the highest persisted period.
// An asset without a schedule is valued at its purchase value.
func (s *Service) CurrentValuation(ctx context.Context, assetID int64) (Valuation, error) {
	if s.cache != nil {
		v, ok, err := s.cache.Get(ctx, assetID)
		if err != nil {
			s.logger.Warn("depreciation cache read", slog.Int64("asset_id", assetID), slog.Any("error", err))
		} else if ok {
			return v, nil
		}
	}

	// The shared load outlives any single caller; each caller still honours its own ctx below.
	loadCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(strconv.FormatInt(assetID, 10), func() (interface{}, error) {
		return s.loadValuation(loadCtx, assetID)
	})
	select {
	case <-ctx.Done():
		return Valuation{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Valuation{}, res.Err
		}
		return res.Val.(Valuation), nil
	}
}

// ValuationAt returns the book value after the whole years elapsed between acquisition and at.
func (s *Service) ValuationAt(ctx context.Context, assetID int64, at time.Time) (Valuation, error) {
	asset, err := s.repo.GetAsset(ctx, assetID)
	if err != nil {
		return Valuation{}, err
	}
	v := Valuation{AssetID: assetID, BookValue: asset.PurchaseValue, CumulativeDepreciation: decimal.Zero}
	years := wholeYears(asset.AcquiredAt, at)
	if years <= 0 {
		return v, nil
	}
	entries, err := s.repo.ListEntries(ctx, assetID)
	if err != nil {
		return Valuation{}, fmt.Errorf("depreciation: valuation at: %w", err)
	}
	for _, e := range entries {
		if e.Period > years {
			break
		}
		v.BookValue = e.BookValue
		v.CumulativeDepreciation = e.CumulativeDepreciation
		v.Period = e.Period
	}
	return v, nil
}

// RefreshResult summarises a bulk recompute.
type RefreshResult struct {
	Assets int
	Failed int
}

// RefreshAll recomputes the schedule of every depreciable asset. Failures are logged and
// counted; the first one is returned after all assets were attempted.
func (s *Service) RefreshAll(ctx context.Context, actorID int64) (RefreshResult, error) {
	ids, err := s.repo.ListDepreciableAssetIDs(ctx)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("depreciation: list assets: %w", err)
	}
	var (
		result   RefreshResult
		firstErr error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Assets++
		if _, err := s.PersistSchedule(ctx, id, actorID); err != nil {
			result.Failed++
			s.logger.Error("depreciation refresh asset", slog.Int64("asset_id", id), slog.Any("error", err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return result, firstErr
}

func (s *Service) loadValuation(ctx context.Context, assetID int64) (Valuation, error) {
	var (
		v      Valuation
		gen    int64
		genErr error
	)
	// Read the generation before the database so a recompute committed mid-load is detected.
	if s.cache != nil {
		gen, genErr = s.cache.Generation(ctx, assetID)
		if genErr != nil {
			s.logger.Warn("depreciation cache generation", slog.Int64("asset_id", assetID), slog.Any("error", genErr))
		}
	}
	entry, err := s.repo.LatestEntry(ctx, assetID)
	switch {
	case err == nil:
		v = Valuation{
			AssetID:                assetID,
			BookValue:              entry.BookValue,
			CumulativeDepreciation: entry.CumulativeDepreciation,
			Period:                 entry.Period,
		}
	case errors.Is(err, ErrScheduleNotFound):
		asset, err := s.repo.GetAsset(ctx, assetID)
		if err != nil {
			return Valuation{}, err
		}
		v = Valuation{AssetID: assetID, BookValue: asset.PurchaseValue, CumulativeDepreciation: decimal.Zero}
	default:
		return Valuation{}, fmt.Errorf("depreciation: load valuation %d: %w", assetID, err)
	}
	if s.cache != nil && genErr == nil {
		stored, err := s.cache.SetIfGeneration(ctx, v, gen)
		switch {
		case err != nil:
			s.logger.Warn("depreciation cache write", slog.Int64("asset_id", assetID), slog.Any("error", err))
		case !stored:
			s.logger.Debug("depreciation cache write skipped", slog.Int64("asset_id", assetID), slog.Int64("generation", gen))
		}
	}
	return v, nil
}

// category resolves the asset's category; a dangling reference falls back to no category.
func (s *Service) category(ctx context.Context, reader categoryReader, asset assets.Asset) (*assets.Category, error) {
	if asset.CategoryID == nil {
		return nil, nil
	}
	c, err := reader.GetCategory(ctx, *asset.CategoryID)
	if errors.Is(err, assets.ErrCategoryNotFound) {
		s.logger.Warn("depreciation category missing", slog.Int64("asset_id", asset.ID), slog.Int64("category_id", *asset.CategoryID))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func buildSchedule(asset assets.Asset, category *assets.Category) Schedule {
	return Schedule{
		AssetID: asset.ID,
		Method:  ResolveMethod(asset, category).Code(),
		Entries: CalculateSchedule(asset, category),
	}
}

func wholeYears(from, to time.Time) int {
	if from.IsZero() || !to.After(from) {
		return 0
	}
	years := to.Year() - from.Year()
	if to.Month() < from.Month() || (to.Month() == from.Month() && to.Day() < from.Day()) {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}
