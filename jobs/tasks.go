package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskPaymentsSync drives the financial sync of posted payments whose
	// journal could not be raised inline.
	TaskPaymentsSync = "payments:sync"
	// TaskLedgerIntegrity scans posted entries for double-entry violations.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskBalancesWarmup pre-builds the cached trial balance.
	TaskBalancesWarmup = "balances:warmup"
)

// PaymentsSyncPayload bounds one sync sweep.
type PaymentsSyncPayload struct {
	Limit int `json:"limit"`
}

// NewPaymentsSyncTask constructs a payments sync task.
func NewPaymentsSyncTask(payload PaymentsSyncPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPaymentsSync, data), nil
}

// NewLedgerIntegrityTask constructs an integrity scan task.
func NewLedgerIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskLedgerIntegrity, nil)
}

// NewBalancesWarmupTask constructs a cache warmup task.
func NewBalancesWarmupTask() *asynq.Task {
	return asynq.NewTask(TaskBalancesWarmup, nil)
}
