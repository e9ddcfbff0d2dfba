// Package worker scores applications submitted over the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/assessment"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Worker consumes TopicApplicationSubmitted and assesses each message.
type Worker struct {
	bus     domain.EventBus
	service *assessment.Service

	mu            sync.Mutex
	subscriptions []domain.Subscription
	stopping      bool
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc

	processed int64
	rejected  int64
}

// NewWorker creates a new async worker.
func NewWorker(b domain.EventBus, service *assessment.Service) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     b,
		service: service,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes to submitted applications.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicApplicationSubmitted, w.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", domain.TopicApplicationSubmitted, err)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("async worker started", "topic", domain.TopicApplicationSubmitted)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	// Add under mu so Stop's Wait covers every delivery that got past this check.
	w.mu.Lock()
	if w.stopping || w.ctx.Err() != nil {
		w.mu.Unlock()
		slog.Debug("worker stopped, dropping application", "message_id", msg.ID)
		return nil
	}
	w.wg.Add(1)
	w.mu.Unlock()
	defer w.wg.Done()

	start := time.Now()

	var req assessment.Request
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		w.reject(ctx, msg, "", fmt.Errorf("%w: undecodable application: %v", domain.ErrInvalidInput, err))
		return err
	}
	if req.TraceID == "" {
		req.TraceID = msg.Metadata["trace_id"]
	}
	if req.TraceID == "" {
		req.TraceID = msg.ID
	}

	a, err := w.service.Assess(ctx, &req)
	if err != nil {
		w.reject(ctx, msg, req.ApplicantID, err)
		return err
	}

	w.mu.Lock()
	w.processed++
	w.mu.Unlock()

	slog.Info("application processed",
		"message_id", msg.ID,
		"assessment_id", a.ID,
		"status", a.Status,
		"credit_score", a.Score.CreditScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (w *Worker) reject(ctx context.Context, msg *domain.Message, applicantID string, cause error) {
	w.mu.Lock()
	w.rejected++
	w.mu.Unlock()

	level := slog.LevelError
	if errors.Is(cause, domain.ErrInvalidInput) {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "application rejected", "message_id", msg.ID, "error", cause)

	ev := domain.RejectionEvent{MessageID: msg.ID, ApplicantID: applicantID, Error: cause.Error()}
	if err := bus.PublishJSON(ctx, w.bus, domain.TopicApplicationRejected, ev); err != nil {
		slog.Error("failed to publish rejection", "message_id", msg.ID, "error", err)
	}
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.mu.Lock()
	w.stopping = true
	w.mu.Unlock()
	w.cancel()

	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	w.wg.Wait()

	slog.Info("async worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Rejected          int64    `json:"rejected"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed,
		Rejected:          w.rejected,
	}
}
