package depreciation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-assets/internal/assets"
	"github.com/odyssey-erp/odyssey-assets/internal/rbac"
	"github.com/odyssey-erp/odyssey-assets/internal/shared"
)

type stubService struct {
	persistActor int64
	at           time.Time
}

func (s *stubService) PreviewSchedule(ctx context.Context, assetID int64) (Schedule, error) {
	if assetID != 7 {
		return Schedule{}, assets.ErrNotFound
	}
	return Schedule{AssetID: 7, Method: MethodStraightLine, Entries: CalculateSchedule(assets.Asset{PurchaseValue: dec("10000"), ResidualValue: dec("1000")}, nil)}, nil
}

func (s *stubService) PersistSchedule(ctx context.Context, assetID, actorID int64) (Schedule, error) {
	s.persistActor = actorID
	return s.PreviewSchedule(ctx, assetID)
}

func (s *stubService) CurrentValuation(ctx context.Context, assetID int64) (Valuation, error) {
	return Valuation{AssetID: assetID, BookValue: dec("1000"), CumulativeDepreciation: dec("9000"), Period: 5}, nil
}

func (s *stubService) ValuationAt(ctx context.Context, assetID int64, at time.Time) (Valuation, error) {
	s.at = at
	return Valuation{AssetID: assetID, BookValue: dec("8200"), CumulativeDepreciation: dec("1800"), Period: 1}, nil
}

func newTestRouter(svc depreciationService, perms ...string) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := shared.ContextWithPrincipal(req.Context(), &shared.Principal{UserID: 11, Permissions: perms})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	NewHandler(nil, svc, rbac.Middleware{}).MountRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	return rr
}

func TestPreviewScheduleEndpoint(t *testing.T) {
	h := newTestRouter(&stubService{}, shared.PermDepreciationView)

	rr := do(t, h, http.MethodGet, "/assets/7/depreciation/schedule")
	require.Equal(t, http.StatusOK, rr.Code)
	var body Schedule
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Entries, 5)
	requireDecimal(t, "1800", body.Entries[0].Depreciation)

	rr = do(t, h, http.MethodGet, "/assets/8/depreciation/schedule")
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))

	rr = do(t, h, http.MethodGet, "/assets/abc/depreciation/schedule")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPersistScheduleRequiresManage(t *testing.T) {
	svc := &stubService{}
	rr := do(t, newTestRouter(svc, shared.PermDepreciationView), http.MethodPost, "/assets/7/depreciation/schedule")
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(t, newTestRouter(svc, shared.PermDepreciationManage), http.MethodPost, "/assets/7/depreciation/schedule")
	require.Equal(t, http.StatusOK, rr.Code)
	require.EqualValues(t, 11, svc.persistActor)
}

func TestValuationEndpoint(t *testing.T) {
	svc := &stubService{}
	h := newTestRouter(svc, shared.PermDepreciationView)

	rr := do(t, h, http.MethodGet, "/assets/7/valuation")
	require.Equal(t, http.StatusOK, rr.Code)
	var v Valuation
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v))
	requireDecimal(t, "1000", v.BookValue)
	require.Equal(t, 5, v.Period)

	rr = do(t, h, http.MethodGet, "/assets/7/valuation?at=2021-06-30")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, time.Date(2021, 6, 30, 0, 0, 0, 0, time.UTC), svc.at)

	rr = do(t, h, http.MethodGet, "/assets/7/valuation?at=30-06-2021")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

type stubQueue struct {
	assetIDs []int64
	err      error
}

func (q *stubQueue) EnqueueDepreciationRefresh(_ context.Context, assetID int64) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.assetIDs = append(q.assetIDs, assetID)
	return "task-1", nil
}

func TestEnqueueRefreshEndpoint(t *testing.T) {
	rr := do(t, newTestRouter(&stubService{}, shared.PermDepreciationManage), http.MethodPost, "/depreciation/refresh")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	queue := &stubQueue{}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := shared.ContextWithPrincipal(req.Context(), &shared.Principal{UserID: 11, Permissions: []string{shared.PermDepreciationManage}})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	NewHandler(nil, &stubService{}, rbac.Middleware{}).WithRefreshQueue(queue).MountRoutes(r)

	rr = do(t, r, http.MethodPost, "/depreciation/refresh")
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Contains(t, rr.Body.String(), `"task_id":"task-1"`)

	rr = do(t, r, http.MethodPost, "/depreciation/refresh?asset=7")
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Equal(t, []int64{0, 7}, queue.assetIDs)

	rr = do(t, r, http.MethodPost, "/depreciation/refresh?asset=x")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, newTestRouter(&stubService{}, shared.PermDepreciationView), http.MethodPost, "/depreciation/refresh")
	require.Equal(t, http.StatusForbidden, rr.Code)
}
