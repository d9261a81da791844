package httpapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/anon-relay/internal/db/dbtest"
	"github.com/oggyb/anon-relay/internal/httpapi"
	"github.com/oggyb/anon-relay/internal/metrics"
	"github.com/oggyb/anon-relay/internal/repository"
)

type fakeStatus struct {
	ready bool
	pool  int
}

func (f *fakeStatus) Ready() bool  { return f.ready }
func (f *fakeStatus) PoolLen() int { return f.pool }

func setupRouter(t *testing.T) (*gin.Engine, *repository.ReportRepository, *fakeStatus) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	repo := repository.NewReportRepository(dbtest.Open(t))
	st := &fakeStatus{}
	r := httpapi.NewRouter(httpapi.Deps{
		Status:     st,
		Reports:    repo,
		Metrics:    metrics.New(),
		AdminToken: "s3cret",
	})
	return r, repo, st
}

func do(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	r, _, st := setupRouter(t)

	assert.Equal(t, http.StatusServiceUnavailable, do(r, "GET", "/healthz", "").Code)

	st.ready, st.pool = true, 3
	w := do(r, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","waiting":3}`, w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	r, _, _ := setupRouter(t)
	w := do(r, "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "anonrelay_waiting_pool_size")
}

func TestAdminReports(t *testing.T) {
	ctx := context.Background()
	r, repo, _ := setupRouter(t)
	for i := int64(1); i <= 3; i++ {
		_, err := repo.Create(ctx, i, 42, "spam")
		require.NoError(t, err)
	}

	assert.Equal(t, http.StatusUnauthorized, do(r, "GET", "/admin/reports", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "GET", "/admin/reports", "wrong").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, "GET", "/admin/reports?limit=0", "s3cret").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, "GET", "/admin/reports?page_token=not-a-token", "s3cret").Code)

	w := do(r, "GET", "/admin/reports?reported_id=42&limit=2", "s3cret")
	require.Equal(t, http.StatusOK, w.Code)

	var page struct {
		Reports []struct {
			ID         uint64 `json:"id"`
			ReportedID int64  `json:"reported_id"`
		} `json:"reports"`
		Next string `json:"next_page_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Len(t, page.Reports, 2)
	require.NotEmpty(t, page.Next)

	w = do(r, "GET", "/admin/reports?reported_id=42&limit=2&page_token="+page.Next, "s3cret")
	require.Equal(t, http.StatusOK, w.Code)
	page.Next = ""
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Len(t, page.Reports, 1)
	assert.Empty(t, page.Next)
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := httpapi.NewRouter(httpapi.Deps{
		Status:  &fakeStatus{},
		Reports: repository.NewReportRepository(dbtest.Open(t)),
		Metrics: metrics.New(),
	})
	assert.Equal(t, http.StatusNotFound, do(r, "GET", "/admin/reports", "").Code)
}
