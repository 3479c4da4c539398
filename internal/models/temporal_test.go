package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestBitemporalVisibility exercises spec's bitemporal scenario directly:
// an entity valid [100,200) (as offsets from epoch, in seconds) recorded
// at tx=50 is visible only when valid_at falls in range and as_of >= tx.
func TestBitemporalVisibility(t *testing.T) {
	epoch := time.Unix(0, 0).UTC()
	at := func(secs int64) time.Time { return epoch.Add(time.Duration(secs) * time.Second) }

	valid := RangeBetween(at(100), at(200))
	tx := TransactionTimeAt(at(50))

	cases := []struct {
		name    string
		validAt time.Time
		asOf    time.Time
		want    bool
	}{
		{"within range, recorded before asOf", at(150), at(200), true},
		{"within range, but asOf before tx", at(150), at(25), false},
		{"after range end", at(250), at(200), false},
		{"before range start", at(99), at(200), false},
		{"at exact start is inclusive", at(100), at(200), true},
		{"at exact end is exclusive", at(200), at(200), false},
		{"asOf exactly equals tx is visible", at(150), at(50), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			point := BitemporalPoint{ValidAt: tc.validAt, AsOf: tc.asOf}
			assert.Equal(t, tc.want, point.IsVisible(valid, tx))
		})
	}
}

func TestValidTimeRange_Contains(t *testing.T) {
	now := time.Now().UTC()
	unbounded := UnboundedRange()
	assert.True(t, unbounded.Contains(now))
	assert.True(t, unbounded.IsUnbounded())

	from := RangeFrom(now)
	assert.True(t, from.Contains(now))
	assert.False(t, from.Contains(now.Add(-time.Hour)))

	until := RangeUntil(now)
	assert.False(t, until.Contains(now))
	assert.True(t, until.Contains(now.Add(-time.Hour)))
}

func TestValidTimeRange_Overlap(t *testing.T) {
	now := time.Now().UTC()
	a := RangeBetween(now, now.Add(2*time.Hour))
	b := RangeBetween(now.Add(time.Hour), now.Add(3*time.Hour))

	overlap, ok := a.Overlap(b)
	assert.True(t, ok)
	assert.Equal(t, now.Add(time.Hour), *overlap.Start)
	assert.Equal(t, now.Add(2*time.Hour), *overlap.End)

	disjoint := RangeBetween(now.Add(5*time.Hour), now.Add(6*time.Hour))
	_, ok = a.Overlap(disjoint)
	assert.False(t, ok)
}

func TestValidTimeRange_CloseAt(t *testing.T) {
	now := time.Now().UTC()
	open := RangeFrom(now)
	closed := open.CloseAt(now.Add(time.Hour))
	assert.True(t, closed.Contains(now.Add(30*time.Minute)))
	assert.False(t, closed.Contains(now.Add(2*time.Hour)))
}

func TestTransactionTime_WasKnownAt(t *testing.T) {
	now := time.Now().UTC()
	tx := TransactionTimeAt(now)
	assert.True(t, tx.WasKnownAt(now))
	assert.True(t, tx.WasKnownAt(now.Add(time.Second)))
	assert.False(t, tx.WasKnownAt(now.Add(-time.Second)))
}

func TestTransactionTime_IsBeforeIsAfter(t *testing.T) {
	now := time.Now().UTC()
	earlier := TransactionTimeAt(now)
	later := TransactionTimeAt(now.Add(time.Minute))
	assert.True(t, earlier.IsBefore(later))
	assert.True(t, later.IsAfter(earlier))
}
