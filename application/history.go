package application

import (
	"context"
	"log/slog"
	"time"

	"visitly-go/core/event"
	"visitly-go/core/eventbus"
	"visitly-go/domain/visit"
)

// insertTimeout bounds a single history write.
const insertTimeout = 5 * time.Second

// HistoryRecorder persists every target disposition it sees on the event bus.
// Write failures are logged and never reach the scheduler.
type HistoryRecorder struct {
	repo   visit.Repository
	logger *slog.Logger
}

// NewHistoryRecorder creates a recorder writing to repo.
func NewHistoryRecorder(repo visit.Repository, logger *slog.Logger) *HistoryRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryRecorder{
		repo:   repo,
		logger: logger.With("component", "history"),
	}
}

// Attach subscribes the recorder to runID's events and returns the subscription ID.
func (h *HistoryRecorder) Attach(bus eventbus.EventBus, runID string) string {
	return bus.SubscribeRun(runID, h.handleEvent)
}

func (h *HistoryRecorder) handleEvent(e event.Event) {
	switch evt := e.(type) {
	case *event.TargetFinished:
		rec := &visit.Record{
			RunID:       evt.RunID(),
			Pass:        evt.Pass,
			Target:      evt.Target,
			RootDomain:  evt.RootDomain,
			Disposition: evt.Disposition.String(),
			Attempts:    evt.Attempts,
			Reason:      evt.Reason,
			FinishedAt:  evt.FinishedAt,
		}

		ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
		defer cancel()
		if err := h.repo.Insert(ctx, rec); err != nil {
			h.logger.Warn("Failed to record visit", "target", rec.Target, "error", err)
		}
	}
}

// EventLogger writes a debug trail of run events.
type EventLogger struct {
	logger *slog.Logger
}

// NewEventLogger creates an event logger.
func NewEventLogger(logger *slog.Logger) *EventLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventLogger{logger: logger.With("component", "events")}
}

// Attach subscribes the logger to runID's events and returns the subscription ID.
func (l *EventLogger) Attach(bus eventbus.EventBus, runID string) string {
	return bus.SubscribeRun(runID, l.handleEvent)
}

func (l *EventLogger) handleEvent(e event.Event) {
	switch evt := e.(type) {
	case *event.PassCompleted:
		l.logger.Debug("Pass summary", "pass", evt.Pass, "done", evt.Done, "skipped", evt.Skipped, "duration", evt.Duration.Round(time.Second))
	case *event.AttemptFailed:
		l.logger.Debug("Attempt failed", "target", evt.Target, "attempt", evt.Attempt, "verdict", evt.Verdict, "error", evt.Error)
	case *event.TargetFinished:
		l.logger.Debug("Target finished", "target", evt.Target, "disposition", evt.Disposition, "attempts", evt.Attempts, "reason", evt.Reason)
	default:
		l.logger.Debug("Event", "name", e.EventName())
	}
}
