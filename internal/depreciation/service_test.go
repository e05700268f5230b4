package depreciation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-assets/internal/assets"
	"github.com/odyssey-erp/odyssey-assets/internal/shared"
)

type memoryRepo struct {
	assets     map[int64]assets.Asset
	categories map[int64]assets.Category
	entries    map[int64]map[int]StoredEntry
	failUpsert error
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		assets:     make(map[int64]assets.Asset),
		categories: make(map[int64]assets.Category),
		entries:    make(map[int64]map[int]StoredEntry),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := make(map[int64]map[int]StoredEntry, len(r.entries))
	for id, rows := range r.entries {
		copied := make(map[int]StoredEntry, len(rows))
		for p, e := range rows {
			copied[p] = e
		}
		snapshot[id] = copied
	}
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.entries = snapshot
		return err
	}
	return nil
}

func (r *memoryRepo) GetAsset(ctx context.Context, id int64) (assets.Asset, error) {
	a, ok := r.assets[id]
	if !ok {
		return assets.Asset{}, assets.ErrNotFound
	}
	return a, nil
}

func (r *memoryRepo) GetCategory(ctx context.Context, id int64) (assets.Category, error) {
	c, ok := r.categories[id]
	if !ok {
		return assets.Category{}, assets.ErrCategoryNotFound
	}
	return c, nil
}

func (r *memoryRepo) LatestEntry(ctx context.Context, assetID int64) (StoredEntry, error) {
	entries, _ := r.ListEntries(ctx, assetID)
	if len(entries) == 0 {
		return StoredEntry{}, ErrScheduleNotFound
	}
	return entries[len(entries)-1], nil
}

func (r *memoryRepo) ListEntries(ctx context.Context, assetID int64) ([]StoredEntry, error) {
	if _, ok := r.assets[assetID]; !ok {
		return nil, nil
	}
	var out []StoredEntry
	for _, e := range r.entries[assetID] {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out, nil
}

func (r *memoryRepo) ListDepreciableAssetIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	for id, a := range r.assets {
		if a.PurchaseValue.IsPositive() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (tx *memoryTx) GetAssetForUpdate(ctx context.Context, id int64) (assets.Asset, error) {
	return tx.repo.GetAsset(ctx, id)
}

func (tx *memoryTx) GetCategory(ctx context.Context, id int64) (assets.Category, error) {
	return tx.repo.GetCategory(ctx, id)
}

func (tx *memoryTx) UpsertEntries(ctx context.Context, assetID int64, entries []ScheduleEntry, computedAt time.Time) error {
	if tx.repo.failUpsert != nil {
		return tx.repo.failUpsert
	}
	rows := tx.repo.entries[assetID]
	if rows == nil {
		rows = make(map[int]StoredEntry)
		tx.repo.entries[assetID] = rows
	}
	for _, e := range entries {
		if prev, ok := rows[e.Period]; ok &&
			prev.Depreciation.Equal(e.Depreciation) &&
			prev.CumulativeDepreciation.Equal(e.CumulativeDepreciation) &&
			prev.BookValue.Equal(e.BookValue) &&
			prev.Method == e.Method {
			continue
		}
		rows[e.Period] = StoredEntry{ScheduleEntry: e, AssetID: assetID, ComputedAt: computedAt}
	}
	return nil
}

func (tx *memoryTx) DeleteEntriesAfter(ctx context.Context, assetID int64, period int) error {
	for p := range tx.repo.entries[assetID] {
		if p > period {
			delete(tx.repo.entries[assetID], p)
		}
	}
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (n *recordingNotifier) Notify(ctx context.Context, events ...shared.DomainEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, events...)
}

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute), mr
}

func seedAsset(repo *memoryRepo) assets.Asset {
	catID := int64(3)
	repo.categories[catID] = assets.Category{ID: catID, Name: "Vehicles", DepreciationMethod: "accelerated"}
	a := assets.Asset{
		ID:              7,
		Code:            "AST-7",
		CategoryID:      &catID,
		PurchaseValue:   dec("10000"),
		ResidualValue:   dec("1000"),
		UsefulLifeYears: 5,
		AcquiredAt:      time.Date(2020, 3, 15, 0, 0, 0, 0, time.UTC),
		Status:          assets.StatusActive,
	}
	repo.assets[a.ID] = a
	return a
}

func TestPersistScheduleIdempotent(t *testing.T) {
	repo := newMemoryRepo()
	seedAsset(repo)
	notifier := &recordingNotifier{}
	svc := NewService(repo, nil, notifier, nil)
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.WithNow(func() time.Time { return first })
	ctx := context.Background()

	schedule, err := svc.PersistSchedule(ctx, 7, 42)
	require.NoError(t, err)
	require.Equal(t, MethodAccelerated, schedule.Method)
	require.Len(t, schedule.Entries, 5)
	before, err := repo.ListEntries(ctx, 7)
	require.NoError(t, err)

	svc.WithNow(func() time.Time { return first.Add(24 * time.Hour) })
	_, err = svc.PersistSchedule(ctx, 7, 42)
	require.NoError(t, err)
	after, err := repo.ListEntries(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, before, after)

	require.Len(t, notifier.events, 2)
	require.Equal(t, shared.EventAssetRevalued, notifier.events[0].Type)
	require.EqualValues(t, 42, notifier.events[0].ActorID)
	require.Equal(t, "1000", notifier.events[0].Data["final_book_value"])
}

func TestPersistScheduleReplacesStalePeriods(t *testing.T) {
	repo := newMemoryRepo()
	a := seedAsset(repo)
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.PersistSchedule(ctx, a.ID, 1)
	require.NoError(t, err)

	a.UsefulLifeYears = 3
	a.DepreciationMethod = "straight_line"
	repo.assets[a.ID] = a
	_, err = svc.PersistSchedule(ctx, a.ID, 1)
	require.NoError(t, err)

	entries, err := repo.ListEntries(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	requireDecimal(t, "3000", entries[0].Depreciation)
	requireDecimal(t, "1000", entries[2].BookValue)
	require.Equal(t, MethodStraightLine, entries[2].Method)
}

func TestPersistScheduleRollsBackOnFailure(t *testing.T) {
	repo := newMemoryRepo()
	seedAsset(repo)
	notifier := &recordingNotifier{}
	svc := NewService(repo, nil, notifier, nil)
	repo.failUpsert = errors.New("disk full")

	_, err := svc.PersistSchedule(context.Background(), 7, 1)
	require.Error(t, err)
	require.Empty(t, repo.entries[7])
	require.Empty(t, notifier.events)
}

func TestPersistScheduleUnknownAsset(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil)
	_, err := svc.PersistSchedule(context.Background(), 99, 1)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDanglingCategoryFallsBackToStraightLine(t *testing.T) {
	repo := newMemoryRepo()
	a := seedAsset(repo)
	missing := int64(404)
	a.CategoryID = &missing
	repo.assets[a.ID] = a
	svc := NewService(repo, nil, nil, nil)

	schedule, err := svc.PreviewSchedule(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, MethodStraightLine, schedule.Method)
	require.Empty(t, repo.entries[a.ID])
}

func TestCurrentValuation(t *testing.T) {
	repo := newMemoryRepo()
	seedAsset(repo)
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	v, err := svc.CurrentValuation(ctx, 7)
	require.NoError(t, err)
	requireDecimal(t, "10000", v.BookValue)
	require.True(t, v.CumulativeDepreciation.IsZero())
	require.Zero(t, v.Period)

	_, err = svc.PersistSchedule(ctx, 7, 1)
	require.NoError(t, err)
	v, err = svc.CurrentValuation(ctx, 7)
	require.NoError(t, err)
	requireDecimal(t, "1000", v.BookValue)
	requireDecimal(t, "9000", v.CumulativeDepreciation)
	require.Equal(t, 5, v.Period)

	_, err = svc.CurrentValuation(ctx, 8)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCurrentValuationReadsThroughCache(t *testing.T) {
	repo := newMemoryRepo()
	seedAsset(repo)
	cache, mr := newTestCache(t)
	svc := NewService(repo, cache, nil, nil)
	ctx := context.Background()

	v, err := svc.CurrentValuation(ctx, 7)
	require.NoError(t, err)
	requireDecimal(t, "10000", v.BookValue)
	require.True(t, mr.Exists(shared.ValuationCacheKey(7)))

	// A stale purchase value stays hidden behind the cache until a recompute invalidates it.
	a := repo.assets[7]
	a.PurchaseValue = dec("20000")
	repo.assets[7] = a
	v, err = svc.CurrentValuation(ctx, 7)
	require.NoError(t, err)
	requireDecimal(t, "10000", v.BookValue)

	_, err = svc.PersistSchedule(ctx, 7, 1)
	require.NoError(t, err)
	require.False(t, mr.Exists(shared.ValuationCacheKey(7)))

	v, err = svc.CurrentValuation(ctx, 7)
	require.NoError(t, err)
	requireDecimal(t, "1000", v.BookValue)
	requireDecimal(t, "19000", v.CumulativeDepreciation)
}

func TestCurrentValuationSurvivesCacheOutage(t *testing.T) {
	repo := newMemoryRepo()
	seedAsset(repo)
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	svc := NewService(repo, NewCache(client, time.Minute), nil, nil)
	mr.Close()

	v, err := svc.CurrentValuation(context.Background(), 7)
	require.NoError(t, err)
	requireDecimal(t, "10000", v.BookValue)
}

// pausingRepo holds the first LatestEntry call after it has read the store.
type pausingRepo struct {
	*memoryRepo
	once   sync.Once
	loaded chan struct{}
	resume chan struct{}
}

func newPausingRepo(repo *memoryRepo) *pausingRepo {
	return &pausingRepo{memoryRepo: repo, loaded: make(chan struct{}), resume: make(chan struct{})}
}

func (r *pausingRepo) LatestEntry(ctx context.Context, assetID int64) (StoredEntry, error) {
	entry, err := r.memoryRepo.LatestEntry(ctx, assetID)
	paused := false
	r.once.Do(func() { paused = true })
	if paused {
		r.loaded <- struct{}{}
		select {
		case <-r.resume:
		case <-ctx.Done():
			return StoredEntry{}, ctx.Err()
		}
	}
	return entry, err
}

func TestCurrentValuationDropsLoadOvertakenByRecompute(t *testing.T) {
	base := newMemoryRepo()
	seedAsset(base)
	repo := newPausingRepo(base)
	cache, mr := newTestCache(t)
	svc := NewService(repo, cache, nil, nil)
	ctx := context.Background()

	_, err := svc.PersistSchedule(ctx, 7, 1)
	require.NoError(t, err)

	type result struct {
		v   Valuation
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := svc.CurrentValuation(ctx, 7)
		done <- result{v, err}
	}()
	<-repo.loaded

	a := base.assets[7]
	a.ResidualValue = dec("2000")
	base.assets[7] = a
	schedule, err := svc.PersistSchedule(ctx, 7, 1)
	require.NoError(t, err)
	requireDecimal(t, "2000", schedule.Entries[len(schedule.Entries)-1].BookValue)

	close(repo.resume)
	res := <-done
	require.NoError(t, res.err)
	requireDecimal(t, "1000", res.v.BookValue)
	require.False(t, mr.Exists(shared.ValuationCacheKey(7)))

	v, err := svc.CurrentValuation(ctx, 7)
	require.NoError(t, err)
	requireDecimal(t, "2000", v.BookValue)
	require.True(t, mr.Exists(shared.ValuationCacheKey(7)))
}

func TestCurrentValuationLoadOutlivesCancelledCaller(t *testing.T) {
	base := newMemoryRepo()
	seedAsset(base)
	repo := newPausingRepo(base)
	cache, mr := newTestCache(t)
	svc := NewService(repo, cache, nil, nil)

	_, err := svc.PersistSchedule(context.Background(), 7, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := svc.CurrentValuation(ctx, 7)
		done <- err
	}()
	<-repo.loaded
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	close(repo.resume)
	require.Eventually(t, func() bool {
		return mr.Exists(shared.ValuationCacheKey(7))
	}, time.Second, 10*time.Millisecond)

	v, err := svc.CurrentValuation(context.Background(), 7)
	require.NoError(t, err)
	requireDecimal(t, "1000", v.BookValue)
}

func TestValuationAt(t *testing.T) {
	repo := newMemoryRepo()
	seedAsset(repo)
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	v, err := svc.ValuationAt(ctx, 7, time.Date(2022, 3, 14, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	requireDecimal(t, "10000", v.BookValue)

	_, err = svc.PersistSchedule(ctx, 7, 1)
	require.NoError(t, err)

	v, err = svc.ValuationAt(ctx, 7, time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	requireDecimal(t, "10000", v.BookValue)
	require.Zero(t, v.Period)

	v, err = svc.ValuationAt(ctx, 7, time.Date(2022, 3, 14, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, 1, v.Period)
	requireDecimal(t, "7000", v.BookValue)

	v, err = svc.ValuationAt(ctx, 7, time.Date(2022, 3, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, 2, v.Period)
	requireDecimal(t, "4600", v.BookValue)

	v, err = svc.ValuationAt(ctx, 7, time.Date(2040, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, 5, v.Period)
	requireDecimal(t, "1000", v.BookValue)
}

func TestRefreshAll(t *testing.T) {
	repo := newMemoryRepo()
	seedAsset(repo)
	repo.assets[8] = assets.Asset{ID: 8, PurchaseValue: dec("600"), UsefulLifeYears: 3}
	repo.assets[9] = assets.Asset{ID: 9}
	svc := NewService(repo, nil, nil, nil)

	result, err := svc.RefreshAll(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, RefreshResult{Assets: 2}, result)
	require.Len(t, repo.entries[8], 3)
	require.Empty(t, repo.entries[9])
}
