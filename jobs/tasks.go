package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerReconcile replays ledger history against stored account balances.
	TaskLedgerReconcile = "ledger:reconcile"
)

// ReconcilePayload scopes a reconcile run. A zero OrganizationID walks every organization.
type ReconcilePayload struct {
	OrganizationID int64 `json:"organization_id,omitempty"`
}

// NewReconcileTask constructs an Asynq task for TaskLedgerReconcile.
func NewReconcileTask(organizationID int64) (*asynq.Task, error) {
	data, err := json.Marshal(ReconcilePayload{OrganizationID: organizationID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerReconcile, data), nil
}
