package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
	"github.com/meridian-erp/meridian-erp/internal/reports"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrityScan verifies the ledger identity per company.
	TaskLedgerIntegrityScan = "ledger:integrity_scan"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "core:idempotency_cleanup"
	// TaskReportWarmup primes the report cache for every company.
	TaskReportWarmup = "reports:warmup"
)

// LedgerPort is the slice of the ledger the scan jobs read.
type LedgerPort interface {
	CompanyIDs(ctx context.Context) ([]int64, error)
	CheckIntegrity(ctx context.Context, companyID int64) error
}

// ReportsPort warms the report cache.
type ReportsPort interface {
	CompanySnapshot(ctx context.Context, companyID int64, asOf time.Time) (reports.Snapshot, error)
}

// IdempotencyCleanupPayload bounds the key retention window.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewLedgerIntegrityScanTask constructs the scan task.
func NewLedgerIntegrityScanTask() *asynq.Task {
	return asynq.NewTask(TaskLedgerIntegrityScan, nil)
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}

// NewReportWarmupTask constructs the warmup task.
func NewReportWarmupTask() *asynq.Task {
	return asynq.NewTask(TaskReportWarmup, nil)
}

// Tasks bundles task handlers with their dependencies.
type Tasks struct {
	Logger      *slog.Logger
	Ledger      LedgerPort
	Reports     ReportsPort
	Idempotency *shared.IdempotencyStore
	Metrics     *jobmetrics.Metrics
}

// HandleLedgerIntegrityScan walks every company and verifies that signed
// account balances sum to zero. An imbalance is logged and counted but does
// not stop the scan; other companies still get checked.
func (t *Tasks) HandleLedgerIntegrityScan(ctx context.Context, _ *asynq.Task) error {
	tracker := t.Metrics.Track("ledger_integrity_scan")
	companies, err := t.Ledger.CompanyIDs(ctx)
	if err != nil {
		return tracker.End(err)
	}
	var failed int
	for _, companyID := range companies {
		if err := t.Ledger.CheckIntegrity(ctx, companyID); err != nil {
			var integrity *shared.IntegrityError
			if errors.As(err, &integrity) {
				failed++
				t.Metrics.AddImbalance(companyID)
				t.Logger.Error("ledger integrity violation",
					slog.Int64("company_id", companyID), slog.Any("error", err))
				continue
			}
			return tracker.End(err)
		}
	}
	t.Logger.Info("ledger integrity scan finished",
		slog.Int("companies", len(companies)), slog.Int("imbalanced", failed))
	return tracker.End(nil)
}

// HandleIdempotencyCleanup prunes idempotency keys past retention.
func (t *Tasks) HandleIdempotencyCleanup(ctx context.Context, task *asynq.Task) error {
	tracker := t.Metrics.Track("idempotency_cleanup")
	payload := IdempotencyCleanupPayload{RetentionHours: 72}
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.RetentionHours <= 0 {
		payload.RetentionHours = 72
	}
	err := t.Idempotency.Cleanup(ctx, time.Duration(payload.RetentionHours)*time.Hour)
	if err == nil {
		t.Logger.Info("idempotency cleanup finished", slog.Int("retention_hours", payload.RetentionHours))
	}
	return tracker.End(err)
}

// HandleReportWarmup loads the company snapshot for every company so the
// first interactive report of the day hits a warm cache.
func (t *Tasks) HandleReportWarmup(ctx context.Context, _ *asynq.Task) error {
	tracker := t.Metrics.Track("report_warmup")
	if t.Reports == nil {
		return tracker.End(nil)
	}
	companies, err := t.Ledger.CompanyIDs(ctx)
	if err != nil {
		return tracker.End(err)
	}
	for _, companyID := range companies {
		if _, err := t.Reports.CompanySnapshot(ctx, companyID, time.Time{}); err != nil {
			t.Logger.Warn("report warmup failed",
				slog.Int64("company_id", companyID), slog.Any("error", err))
		}
	}
	return tracker.End(nil)
}

// Handlers lists the task registrations for the worker mux.
func (t *Tasks) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskLedgerIntegrityScan, Handler: t.HandleLedgerIntegrityScan},
		{Type: TaskIdempotencyCleanup, Handler: t.HandleIdempotencyCleanup},
		{Type: TaskReportWarmup, Handler: t.HandleReportWarmup},
	}
}
