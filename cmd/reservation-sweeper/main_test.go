package main

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/commerce/internal/domain"
)

type stubSweeper struct {
	released int
	err      error
	actor    domain.Actor
	calls    int
}

func (s *stubSweeper) SweepExpired(_ context.Context, actor domain.Actor) (int, error) {
	s.calls++
	s.actor = actor
	return s.released, s.err
}

func TestHandle_SweepsAsSystemOperator(t *testing.T) {
	sweeper := &stubSweeper{released: 3}
	h := &handler{sweeper: sweeper, logger: log.WithField("test", "sweeper")}

	result, err := h.handle(context.Background(), events.CloudWatchEvent{ID: "evt-1", DetailType: "Scheduled Event"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Released != 3 || result.Trigger != "Scheduled Event" {
		t.Fatalf("unexpected result %+v", result)
	}
	if sweeper.calls != 1 || sweeper.actor != domain.SystemActor {
		t.Fatalf("expected one sweep as system actor, got %d calls as %+v", sweeper.calls, sweeper.actor)
	}
}

func TestHandle_PropagatesError(t *testing.T) {
	sweepErr := errors.New("db down")
	h := &handler{sweeper: &stubSweeper{err: sweepErr}, logger: log.WithField("test", "sweeper")}

	if _, err := h.handle(context.Background(), events.CloudWatchEvent{}); !errors.Is(err, sweepErr) {
		t.Fatalf("expected sweep error, got %v", err)
	}
}

func TestNewHandler_RequiresDSN(t *testing.T) {
	if _, err := newHandler(context.Background(), " "); err == nil {
		t.Fatal("expected error without dsn")
	}
}
