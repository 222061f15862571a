package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirohiroko250/autograder-system/internal/application/query"
	"github.com/hirohiroko250/autograder-system/internal/domain/scoring"
	"github.com/hirohiroko250/autograder-system/internal/testutil"
	"github.com/hirohiroko250/autograder-system/pkg/logger"
)

func newTestServer(t *testing.T) (*Server, *CompositeHealthChecker) {
	t.Helper()

	store := testutil.NewMemStore()
	dev := 57.5
	store.PutResult(&scoring.AggregateResult{
		StudentID:  "s1",
		TestID:     "t1",
		TotalScore: 80,
		Temporary: scoring.RankSet{
			National: scoring.RankPair{Rank: 3, Total: 120},
			Grade:    scoring.RankPair{Rank: 1, Total: 40},
		},
		Deviation: &dev,
	})

	health := NewCompositeHealthChecker("test")
	standing := query.NewStandingService(store, nil, query.StandingServiceConfig{Logger: logger.Discard()})
	srv := NewServer(DefaultConfig(":0"), Dependencies{
		Standing: standing,
		Health:   health,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		}),
		Logger: logger.Discard(),
	})
	return srv, health
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStandingEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := get(t, srv, "/v1/tests/t1/students/s1/standing")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var v query.StandingView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, 80, v.TotalScore)
	assert.Equal(t, 3, v.Current.National.Rank)
	require.NotNil(t, v.Deviation)
	assert.Equal(t, 57.5, *v.Deviation)
}

func TestStandingEndpoint_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := get(t, srv, "/v1/tests/t1/students/nobody/standing")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not_found", body["error"].Code)
}

func TestRankEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := get(t, srv, "/v1/tests/t1/students/s1/ranks/grade")
	require.Equal(t, http.StatusOK, rec.Code)
	var ranked RankResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ranked))
	assert.Equal(t, "grade", ranked.Partition)
	require.NotNil(t, ranked.Rank)
	assert.Equal(t, scoring.RankPair{Rank: 1, Total: 40}, *ranked.Rank)

	rec = get(t, srv, "/v1/tests/t1/students/s1/ranks/category")
	require.Equal(t, http.StatusOK, rec.Code)
	var unranked RankResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &unranked))
	assert.Nil(t, unranked.Rank)

	rec = get(t, srv, "/v1/tests/t1/students/s1/ranks/galaxy")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFinalizedEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, student := range []string{"s1", "nobody"} {
		rec := get(t, srv, "/v1/tests/t1/students/"+student+"/finalized")
		require.Equal(t, http.StatusOK, rec.Code, student)
		assert.JSONEq(t, `{"finalized":false}`, rec.Body.String())
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, health := newTestServer(t)
	health.AddCheck("database", func(context.Context) error { return nil })

	rec := get(t, srv, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	health.AddOptionalCheck("cache", func(context.Context) error { return errors.New("connection refused") })
	rec = get(t, srv, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code, "optional failure only degrades")
	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Degraded)
	assert.False(t, status.Checks["cache"].Healthy)

	health.AddCheck("database", func(context.Context) error { return errors.New("down") })
	rec = get(t, srv, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLiveAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	assert.Equal(t, http.StatusOK, get(t, srv, "/livez").Code)

	rec := get(t, srv, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# metrics", rec.Body.String())
}

func TestCompositeHealthChecker_Empty(t *testing.T) {
	status := NewCompositeHealthChecker("v").Check(context.Background())
	assert.True(t, status.Healthy)
	assert.Equal(t, "v", status.Version)
}

func TestRequestLoggerCarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	srv := NewServer(DefaultConfig(":0"), Dependencies{Logger: log})

	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "http request", line["msg"])
	assert.Equal(t, "req-42", line["request_id"])
	assert.Equal(t, "http", line["component"])
}
