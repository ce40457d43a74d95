package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/ledgerline/invoicing/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskOverdueSweep moves past-due invoices to OVERDUE.
	TaskOverdueSweep = "invoice:overdue-sweep"
	// TaskScheduleGenerate creates the invoices of due schedules.
	TaskScheduleGenerate = "schedule:generate"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	Kind          string `json:"kind"`
	To            string `json:"to"`
	Subject       string `json:"subject"`
	Body          string `json:"body"`
	InvoiceUUID   string `json:"invoice_uuid,omitempty"`
	InvoiceNumber string `json:"invoice_number,omitempty"`
	ConfirmURL    string `json:"confirm_url,omitempty"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data, asynq.MaxRetry(10)), nil
}

// ScheduledRunPayload carries the time a periodic run was requested for.
type ScheduledRunPayload struct {
	ScheduledFor time.Time `json:"scheduled_for,omitempty"`
}

func newScheduledTask(taskType string, at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ScheduledRunPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}

// NewOverdueSweepTask constructs the overdue sweep task.
func NewOverdueSweepTask(at time.Time) (*asynq.Task, error) {
	return newScheduledTask(TaskOverdueSweep, at)
}

// NewScheduleGenerateTask constructs the schedule generation task.
func NewScheduleGenerateTask(at time.Time) (*asynq.Task, error) {
	return newScheduledTask(TaskScheduleGenerate, at)
}

// NewIdempotencyCleanupTask constructs the idempotency cleanup task.
func NewIdempotencyCleanupTask(at time.Time) (*asynq.Task, error) {
	return newScheduledTask(TaskIdempotencyCleanup, at)
}

// decodeRun reads a ScheduledRunPayload; an empty payload is accepted.
func decodeRun(t *asynq.Task) (ScheduledRunPayload, error) {
	var payload ScheduledRunPayload
	if len(t.Payload()) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, asynq.SkipRetry
	}
	return payload, nil
}
