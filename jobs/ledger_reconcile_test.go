package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfgerp/mfgerp/internal/accounting"
	jobmetrics "github.com/mfgerp/mfgerp/internal/jobs"
)

type stubReconciler struct {
	all     []accounting.Reconciliation
	byOrg   []accounting.Reconciliation
	err     error
	calls   []int64
	allRuns int
}

func (s *stubReconciler) ReconcileAll(ctx context.Context) ([]accounting.Reconciliation, error) {
	s.allRuns++
	return s.all, s.err
}

func (s *stubReconciler) ReconcileOrganization(ctx context.Context, orgID int64) ([]accounting.Reconciliation, error) {
	s.calls = append(s.calls, orgID)
	return s.byOrg, s.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLedgerReconcileJobWalksAllOrganizations(t *testing.T) {
	rec := &stubReconciler{all: []accounting.Reconciliation{
		{OrganizationID: 3, AccountID: 9, Drift: decimal.RequireFromString("5")},
	}}
	job := NewLedgerReconcileJob(rec, quietLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewReconcileTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 1, rec.allRuns)
	assert.Empty(t, rec.calls)
}

func TestLedgerReconcileJobScopesToOrganization(t *testing.T) {
	rec := &stubReconciler{byOrg: []accounting.Reconciliation{
		{OrganizationID: 4, AccountID: 1, Balanced: true},
		{OrganizationID: 4, AccountID: 2, Balanced: false},
	}}
	job := NewLedgerReconcileJob(rec, quietLogger(), nil)

	task, err := NewReconcileTask(4)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, []int64{4}, rec.calls)
	assert.Zero(t, rec.allRuns)
}

func TestLedgerReconcileJobPropagatesFailure(t *testing.T) {
	boom := errors.New("database unavailable")
	job := NewLedgerReconcileJob(&stubReconciler{err: boom}, quietLogger(), nil)
	task, err := NewReconcileTask(0)
	require.NoError(t, err)
	assert.ErrorIs(t, job.Handle(context.Background(), task), boom)
}

func TestLedgerReconcileJobSkipsMalformedPayload(t *testing.T) {
	job := NewLedgerReconcileJob(&stubReconciler{}, quietLogger(), nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskLedgerReconcile, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	var unconfigured *LedgerReconcileJob
	assert.Error(t, unconfigured.Handle(context.Background(), asynq.NewTask(TaskLedgerReconcile, nil)))
}

func TestEnqueueReconcileEndpoint(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil, quietLogger()).MountRoutes(r)

	cases := []struct {
		name   string
		method string
		target string
		want   int
	}{
		{"queue unavailable", http.MethodPost, "/reconcile?organization_id=5", http.StatusServiceUnavailable},
		{"bad organization", http.MethodPost, "/reconcile?organization_id=x", http.StatusBadRequest},
		{"negative organization", http.MethodPost, "/reconcile?organization_id=-1", http.StatusBadRequest},
		{"health without inspector", http.MethodGet, "/health", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.target, nil))
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}
