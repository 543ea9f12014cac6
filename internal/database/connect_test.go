package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPingUntilReadyRetries(t *testing.T) {
	calls := 0
	ping := func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	}
	if err := pingUntilReady(context.Background(), zerolog.Nop(), "postgres", 5, time.Millisecond, ping); err != nil {
		t.Fatalf("pingUntilReady: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestPingUntilReadyGivesUp(t *testing.T) {
	refused := errors.New("connection refused")
	calls := 0
	ping := func(context.Context) error {
		calls++
		return refused
	}
	err := pingUntilReady(context.Background(), zerolog.Nop(), "redis", 2, time.Millisecond, ping)
	if !errors.Is(err, refused) {
		t.Fatalf("err = %v, want the last ping error", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}

	calls = 0
	if err := pingUntilReady(context.Background(), zerolog.Nop(), "redis", 0, time.Millisecond, ping); err == nil || calls != 1 {
		t.Errorf("zero attempts: err = %v, calls = %d", err, calls)
	}
}

func TestPingUntilReadyStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ping := func(context.Context) error {
		cancel()
		return errors.New("connection refused")
	}
	err := pingUntilReady(ctx, zerolog.Nop(), "postgres", 5, time.Hour, ping)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
