// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package querylog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndRecentOrder(t *testing.T) {
	s := New(3)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s.Record(Entry{Domain: "a.com", Timestamp: base})
	s.Record(Entry{Domain: "b.com", Timestamp: base.Add(time.Second)})
	s.Record(Entry{Domain: "c.com", Timestamp: base.Add(2 * time.Second)})

	recent := s.Recent(10)
	require.Len(t, recent, 3)
	assert.Equal(t, "c.com", recent[0].Domain)
	assert.Equal(t, "b.com", recent[1].Domain)
	assert.Equal(t, "a.com", recent[2].Domain)
}

func TestRecordEvictsOldestAtCapacity(t *testing.T) {
	s := New(2)
	s.Record(Entry{Domain: "a.com"})
	s.Record(Entry{Domain: "b.com"})
	s.Record(Entry{Domain: "c.com"})

	recent := s.Recent(10)
	require.Len(t, recent, 2)
	assert.Equal(t, "c.com", recent[0].Domain)
	assert.Equal(t, "b.com", recent[1].Domain)
}

func TestRecentRespectsLimit(t *testing.T) {
	s := New(10)
	for i := 0; i < 5; i++ {
		s.Record(Entry{Domain: "x"})
	}
	assert.Len(t, s.Recent(2), 2)
}
