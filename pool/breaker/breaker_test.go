package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quillsql/quill/pool/poolerr"
)

func testConfig() Config {
	return Config{
		FailureThreshold: 3,
		ResetTimeout:     20 * time.Millisecond,
		MaxResetTimeout:  200 * time.Millisecond,
	}
}

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := New(testConfig(), nil)
	ctx := context.Background()
	fail := func(context.Context) error { return poolerr.ErrUnreachable }

	for i := 0; i < 3; i++ {
		if err := b.Call(ctx, fail); !errors.Is(err, poolerr.ErrUnreachable) {
			t.Fatalf("call %d: got %v, want ErrUnreachable", i, err)
		}
	}
	if b.State() != Open {
		t.Fatalf("state = %v, want Open", b.State())
	}

	err := b.Call(ctx, fail)
	if !errors.Is(err, poolerr.ErrBreakerOpen) {
		t.Fatalf("got %v, want ErrBreakerOpen", err)
	}
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	cfg := testConfig()
	b := New(cfg, nil)
	ctx := context.Background()
	fail := func(context.Context) error { return poolerr.ErrUnreachable }

	for i := 0; i < cfg.FailureThreshold; i++ {
		b.Call(ctx, fail)
	}
	if b.State() != Open {
		t.Fatalf("expected Open after threshold failures")
	}

	time.Sleep(cfg.ResetTimeout + 5*time.Millisecond)

	succeed := func(context.Context) error { return nil }
	if err := b.Call(ctx, succeed); err != nil {
		t.Fatalf("half-open trial: %v", err)
	}
	if b.State() != Closed {
		t.Fatalf("state = %v, want Closed after successful trial", b.State())
	}
}

func TestBreakerHalfOpenReopensOnFailure(t *testing.T) {
	cfg := testConfig()
	b := New(cfg, nil)
	ctx := context.Background()
	fail := func(context.Context) error { return poolerr.ErrUnreachable }

	for i := 0; i < cfg.FailureThreshold; i++ {
		b.Call(ctx, fail)
	}
	time.Sleep(cfg.ResetTimeout + 5*time.Millisecond)

	if err := b.Call(ctx, fail); !errors.Is(err, poolerr.ErrUnreachable) {
		t.Fatalf("trial call: got %v", err)
	}
	if b.State() != Open {
		t.Fatalf("state = %v, want Open after failed trial", b.State())
	}
}

func TestBreakerHalfOpenReopenDoublesTimeout(t *testing.T) {
	cfg := testConfig()
	b := New(cfg, nil)
	ctx := context.Background()
	fail := func(context.Context) error { return poolerr.ErrUnreachable }

	for i := 0; i < cfg.FailureThreshold; i++ {
		b.Call(ctx, fail)
	}
	if b.currentTimeout != cfg.ResetTimeout {
		t.Fatalf("currentTimeout = %v after first trip, want %v", b.currentTimeout, cfg.ResetTimeout)
	}

	time.Sleep(cfg.ResetTimeout + 5*time.Millisecond)
	b.Call(ctx, fail) // half-open trial fails, reopening with a doubled timeout
	if b.currentTimeout != 2*cfg.ResetTimeout {
		t.Fatalf("currentTimeout = %v after reopen, want %v", b.currentTimeout, 2*cfg.ResetTimeout)
	}

	time.Sleep(2*cfg.ResetTimeout + 5*time.Millisecond)
	b.Call(ctx, fail) // reopen again, still growing
	if b.currentTimeout != 4*cfg.ResetTimeout {
		t.Fatalf("currentTimeout = %v after second reopen, want %v", b.currentTimeout, 4*cfg.ResetTimeout)
	}
}

func TestBreakerNonTripWorthyErrorDoesNotTrip(t *testing.T) {
	b := New(testConfig(), nil)
	ctx := context.Background()
	otherErr := errors.New("validation failed")

	for i := 0; i < 10; i++ {
		b.Call(ctx, func(context.Context) error { return otherErr })
	}
	if b.State() != Closed {
		t.Fatalf("state = %v, want Closed (non-trip-worthy errors must not trip breaker)", b.State())
	}
}

func TestBreakerReset(t *testing.T) {
	cfg := testConfig()
	b := New(cfg, nil)
	ctx := context.Background()
	fail := func(context.Context) error { return poolerr.ErrUnreachable }
	for i := 0; i < cfg.FailureThreshold; i++ {
		b.Call(ctx, fail)
	}
	if b.State() != Open {
		t.Fatalf("expected Open")
	}
	b.Reset()
	if b.State() != Closed {
		t.Fatalf("state = %v, want Closed after Reset", b.State())
	}
}
