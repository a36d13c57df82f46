package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/mfgerp/mfgerp/internal/accounting"
	jobmetrics "github.com/mfgerp/mfgerp/internal/jobs"
)

// Reconciler replays account ledgers and reports drift.
type Reconciler interface {
	ReconcileAll(ctx context.Context) ([]accounting.Reconciliation, error)
	ReconcileOrganization(ctx context.Context, orgID int64) ([]accounting.Reconciliation, error)
}

// LedgerReconcileJob compares every account's current_balance with its replayed ledger.
type LedgerReconcileJob struct {
	Reconciler Reconciler
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewLedgerReconcileJob initialises the reconcile handler.
func NewLedgerReconcileJob(reconciler Reconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerReconcileJob {
	return &LedgerReconcileJob{Reconciler: reconciler, Logger: logger, Metrics: metrics}
}

// Handle executes one reconcile run. Drift is reported, never corrected.
func (j *LedgerReconcileJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Reconciler == nil {
		return errors.New("ledger reconcile: handler not configured")
	}
	var payload ReconcilePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.Metrics.Track(TaskLedgerReconcile)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("job", TaskLedgerReconcile))
	var (
		drifting []accounting.Reconciliation
		err      error
	)
	if payload.OrganizationID > 0 {
		logger = logger.With(slog.Int64("organization_id", payload.OrganizationID))
		var results []accounting.Reconciliation
		results, err = j.Reconciler.ReconcileOrganization(ctx, payload.OrganizationID)
		for _, r := range results {
			if !r.Balanced {
				drifting = append(drifting, r)
			}
		}
	} else {
		drifting, err = j.Reconciler.ReconcileAll(ctx)
	}

	perOrg := map[int64]int{}
	for _, r := range drifting {
		perOrg[r.OrganizationID]++
		logger.Error("ledger drift detected",
			slog.Int64("organization_id", r.OrganizationID),
			slog.Int64("account_id", r.AccountID),
			slog.String("account_code", r.AccountCode),
			slog.String("stored", r.Stored.String()),
			slog.String("replayed", r.Replayed.String()),
			slog.String("drift", r.Drift.String()))
	}
	for orgID, count := range perOrg {
		j.Metrics.AddDrift(orgID, count)
	}

	if err != nil {
		logger.Error("reconcile failed", slog.Any("error", err))
		return err
	}
	logger.Info("reconcile finished", slog.Int("drifting_accounts", len(drifting)))
	return nil
}

func (j *LedgerReconcileJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
