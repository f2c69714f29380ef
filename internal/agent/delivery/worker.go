// Package delivery drains the outbox: every pending capture is classified
// again and submitted to the backend, and its row is marked SENT or FAILED.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/go-paynotify/internal/agent/outbox"
	"github.com/go-paynotify/internal/domain"
)

// ErrRetryable reports that at least one record of the run ended FAILED, so
// the scheduler should back off and run again later.
var ErrRetryable = errors.New("delivery: run finished with failed records")

type Store interface {
	RequeueDeliveryFailures(ctx context.Context) (int64, error)
	Pending(ctx context.Context, limit int) ([]outbox.CapturedRecord, error)
	Transition(ctx context.Context, id int64, from, to outbox.Status, lastErr string) error
	Fail(ctx context.Context, id int64, kind outbox.FailureKind, lastErr string) error
}

type Classifier interface {
	Classify(packageName, title, body string) (*domain.PaymentEvent, error)
}

// Report summarizes one run.
type Report struct {
	Processed int
	Sent      int
	Rejected  int
	Failed    int
	Duplicate int
}

type Worker struct {
	logger     *slog.Logger
	store      Store
	classifier Classifier
	client     Client
	deviceUUID string
	timeout    time.Duration
	batchSize  int
}

func NewWorker(logger *slog.Logger, store Store, classifier Classifier, client Client, deviceUUID string, timeout time.Duration, batchSize int) *Worker {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Worker{
		logger:     logger,
		store:      store,
		classifier: classifier,
		client:     client,
		deviceUUID: deviceUUID,
		timeout:    timeout,
		batchSize:  batchSize,
	}
}

// RunOnce requeues the rows whose previous delivery failed, then processes
// the pending rows in capture order. A failure on one row never stops the
// rest of the batch.
func (w *Worker) RunOnce(ctx context.Context) (Report, error) {
	var rep Report

	requeued, err := w.store.RequeueDeliveryFailures(ctx)
	if err != nil {
		return rep, err
	}
	if requeued > 0 {
		w.logger.InfoContext(ctx, "delivery failures requeued",
			"module", "agent.delivery",
			"operation", "requeue",
			"outcome", "success",
			"count", requeued,
		)
	}

	records, err := w.store.Pending(ctx, w.batchSize)
	if err != nil {
		return rep, err
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Processed++

		ev, err := w.classifier.Classify(rec.PackageName, rec.Title, rec.Body)
		if err != nil {
			rep.Rejected++
			w.markFailed(ctx, rec, outbox.FailureRejected, err)
			w.logger.InfoContext(ctx, "capture rejected by classifier",
				"module", "agent.delivery",
				"operation", "classify",
				"outcome", "rejected",
				"record_id", rec.ID,
				"package_name", rec.PackageName,
				"reason", err.Error(),
			)
			continue
		}
		ev.ReceivedAt = time.UnixMilli(rec.CapturedAtEpochMs).UTC()

		stored, err := w.submit(ctx, w.buildRequest(rec, ev))
		if err != nil {
			rep.Failed++
			w.markFailed(ctx, rec, outbox.FailureDelivery, err)
			w.logger.WarnContext(ctx, "submit failed; retry scheduled",
				"module", "agent.delivery",
				"operation", "submit",
				"outcome", "failure",
				"record_id", rec.ID,
				"attempts", rec.Attempts+1,
				"error", err,
			)
			continue
		}

		if err := w.store.Transition(ctx, rec.ID, outbox.StatusPending, outbox.StatusSent, ""); err != nil {
			// The backend already has it; a later retry is absorbed as a duplicate.
			rep.Failed++
			w.logger.ErrorContext(ctx, "mark sent failed",
				"module", "agent.delivery",
				"operation", "mark_sent",
				"outcome", "failure",
				"record_id", rec.ID,
				"error", err,
			)
			continue
		}
		rep.Sent++
		if stored != nil && stored.IsDuplicate {
			rep.Duplicate++
		}
	}

	if rep.Processed > 0 {
		w.logger.InfoContext(ctx, "delivery batch processed",
			"module", "agent.delivery",
			"operation", "run_once",
			"outcome", "success",
			"batch_size", rep.Processed,
			"sent_count", rep.Sent,
			"rejected_count", rep.Rejected,
			"failed_count", rep.Failed,
			"duplicate_count", rep.Duplicate,
		)
	}
	if rep.Rejected > 0 || rep.Failed > 0 {
		return rep, ErrRetryable
	}
	return rep, nil
}

func (w *Worker) submit(ctx context.Context, req domain.IngestNotificationRequest) (*domain.NotificationRecord, error) {
	callCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	return w.client.Submit(callCtx, req)
}

func (w *Worker) markFailed(ctx context.Context, rec outbox.CapturedRecord, kind outbox.FailureKind, cause error) {
	if err := w.store.Fail(ctx, rec.ID, kind, truncate(cause.Error(), 500)); err != nil {
		w.logger.ErrorContext(ctx, "mark failed failed",
			"module", "agent.delivery",
			"operation", "mark_failed",
			"outcome", "failure",
			"record_id", rec.ID,
			"error", err,
		)
	}
}

// rawCapture is the audit copy of the original notification sent as raw_json.
type rawCapture struct {
	PackageName   string `json:"package_name"`
	Title         string `json:"title"`
	Text          string `json:"text"`
	AndroidUserID *int   `json:"android_user_id,omitempty"`
	PostedAtMs    int64  `json:"posted_at_ms,omitempty"`
	CapturedAtMs  int64  `json:"captured_at_ms"`
}

func (w *Worker) buildRequest(rec outbox.CapturedRecord, ev *domain.PaymentEvent) domain.IngestNotificationRequest {
	pkg := rec.PackageName
	receivedAt := ev.ReceivedAt
	req := domain.IngestNotificationRequest{
		DeviceID:      w.deviceUUID,
		SourceApp:     ev.SourceApp,
		PackageName:   &pkg,
		AndroidUserID: rec.AndroidUserID,
		Body:          ev.Body,
		PayerName:     ev.PayerName,
		ReceivedAt:    &receivedAt,
	}
	if ev.Title != "" {
		title := ev.Title
		req.Title = &title
	}
	if ev.Amount != nil {
		amount := ev.Amount.InexactFloat64()
		req.Amount = &amount
	}
	if ev.Currency != "" {
		cur := ev.Currency
		req.Currency = &cur
	}
	if rec.PostedAtEpochMs > 0 {
		posted := time.UnixMilli(rec.PostedAtEpochMs).UTC()
		req.PostedAt = &posted
	}
	raw, err := json.Marshal(rawCapture{
		PackageName:   rec.PackageName,
		Title:         rec.Title,
		Text:          rec.Body,
		AndroidUserID: rec.AndroidUserID,
		PostedAtMs:    rec.PostedAtEpochMs,
		CapturedAtMs:  rec.CapturedAtEpochMs,
	})
	if err == nil {
		req.RawJSON = raw
	}
	return req
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
