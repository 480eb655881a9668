// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package clock

import (
	"testing"
	"time"
)

func TestMockClockAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mc := NewMockClock(start)
	Set(mc)
	defer Set(realClock{})

	if !Now().Equal(start) {
		t.Fatalf("expected %v, got %v", start, Now())
	}

	mc.Advance(time.Hour)
	if !Now().Equal(start.Add(time.Hour)) {
		t.Fatalf("expected advanced time, got %v", Now())
	}
}

func TestRealClockMovesForward(t *testing.T) {
	a := Now()
	time.Sleep(time.Millisecond)
	b := Now()
	if !b.After(a) {
		t.Fatalf("expected real clock to advance: %v -> %v", a, b)
	}
}
