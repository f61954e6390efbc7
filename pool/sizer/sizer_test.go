package sizer

import (
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		MinConnections:              2,
		MaxConnections:              20,
		HighUtilization:             0.8,
		LowUtilization:              0.2,
		CriticalUtilization:         0.95,
		ConsecutiveReadingsRequired: 3,
		Cooldown:                    50 * time.Millisecond,
		Step:                        2,
		CriticalStep:                6,
	}
}

func TestSizerGrowsAfterConsecutiveHighReadings(t *testing.T) {
	s := New(testConfig(), 10, nil)

	for i := 0; i < 2; i++ {
		_, changed := s.Observe(10, 9, 0)
		if changed {
			t.Fatalf("should not grow before %d consecutive readings", testConfig().ConsecutiveReadingsRequired)
		}
	}
	newSize, changed := s.Observe(10, 9, 0)
	if !changed || newSize != 12 {
		t.Fatalf("expected grow to 12 on 3rd consecutive high reading, got size=%d changed=%v", newSize, changed)
	}
}

func TestSizerResetsCounterOnMixedReadings(t *testing.T) {
	s := New(testConfig(), 10, nil)
	s.Observe(10, 9, 0)
	s.Observe(10, 9, 0)
	s.Observe(10, 5, 0) // stable reading resets the streak
	_, changed := s.Observe(10, 9, 0)
	if changed {
		t.Fatal("expected streak reset by the stable reading, should not grow yet")
	}
}

func TestSizerCriticalUtilizationJumpsImmediately(t *testing.T) {
	s := New(testConfig(), 10, nil)
	newSize, changed := s.Observe(10, 10, 1) // 100% utilization with a waiter, >= critical 0.95
	if !changed || newSize != 16 {
		t.Fatalf("expected immediate critical jump to 16, got size=%d changed=%v", newSize, changed)
	}
}

func TestSizerShrinksAfterConsecutiveLowReadings(t *testing.T) {
	s := New(testConfig(), 10, nil)
	for i := 0; i < 2; i++ {
		s.Observe(10, 1, 0)
	}
	newSize, changed := s.Observe(10, 1, 0)
	if !changed || newSize != 9 {
		t.Fatalf("expected shrink by one to 9, got size=%d changed=%v", newSize, changed)
	}
}

func TestSizerWaitersTriggerGrowRegardlessOfUtilization(t *testing.T) {
	s := New(testConfig(), 10, nil)
	// Low utilization, but borrowers are queued: still counts as a high
	// reading because the pool is too small for current demand.
	for i := 0; i < 2; i++ {
		s.Observe(10, 1, 1)
	}
	newSize, changed := s.Observe(10, 1, 1)
	if !changed || newSize != 12 {
		t.Fatalf("expected waiters to force a grow to 12, got size=%d changed=%v", newSize, changed)
	}
}

func TestSizerRespectsCooldown(t *testing.T) {
	cfg := testConfig()
	cfg.Cooldown = time.Hour
	s := New(cfg, 10, nil)
	for i := 0; i < 3; i++ {
		s.Observe(10, 9, 0)
	}
	if s.TargetSize() != 12 {
		t.Fatalf("expected first grow to succeed, size=%d", s.TargetSize())
	}
	for i := 0; i < 3; i++ {
		s.Observe(12, 11, 0)
	}
	if s.TargetSize() != 12 {
		t.Fatalf("expected cooldown to block second grow, size=%d", s.TargetSize())
	}
}

func TestSizerClampsAtMax(t *testing.T) {
	cfg := testConfig()
	cfg.Cooldown = 0
	s := New(cfg, 19, nil)
	for i := 0; i < 3; i++ {
		s.Observe(19, 18, 0)
	}
	if s.TargetSize() != 20 {
		t.Fatalf("expected clamp at max 20, got %d", s.TargetSize())
	}
}

func TestSizerClampsAtMin(t *testing.T) {
	cfg := testConfig()
	cfg.Cooldown = 0
	s := New(cfg, 3, nil)
	for i := 0; i < 3; i++ {
		s.Observe(3, 0, 0)
	}
	if s.TargetSize() != 2 {
		t.Fatalf("expected clamp at min 2, got %d", s.TargetSize())
	}
}
