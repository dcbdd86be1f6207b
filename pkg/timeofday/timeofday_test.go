package timeofday

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestToMinutes(t *testing.T) {
	cases := map[string]int{
		"00:00": 0,
		"08:00": 480,
		"09:30": 570,
		"23:59": 1439,
		" 7:05": 425,
	}
	for in, want := range cases {
		got, err := ToMinutes(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "8", "24:00", "12:60", "ab:cd", "12:5", "-1:00"} {
		_, err := ToMinutes(bad)
		assert.Error(t, err, bad)
	}
}

func TestFromMinutes(t *testing.T) {
	assert.Equal(t, "08:00", FromMinutes(480))
	assert.Equal(t, "00:00", FromMinutes(0))
	assert.Equal(t, "23:59", FromMinutes(1439))
}

func TestOverlapsExamples(t *testing.T) {
	// Monday 08:00-10:00 against 09:00-11:00 and 10:00-12:00.
	assert.True(t, Overlaps(480, 600, 540, 660))
	assert.False(t, Overlaps(480, 600, 600, 720))
	assert.True(t, Overlaps(480, 600, 500, 520))
	assert.False(t, Overlaps(480, 600, 300, 480))
}

func TestInRangeInclusive(t *testing.T) {
	assert.True(t, InRange(480, 900, 480))
	assert.True(t, InRange(480, 900, 900))
	assert.False(t, InRange(480, 900, 901))
	assert.Equal(t, 120, Duration(480, 600))
}

func TestOf(t *testing.T) {
	wib := time.FixedZone("WIB", 7*3600)
	ts := time.Date(2025, 8, 17, 1, 30, 0, 0, time.UTC).In(wib)
	assert.Equal(t, 8*60+30, Of(ts))
}

func TestPropertyMinutesRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := rapid.IntRange(0, MinutesPerDay-1).Draw(t, "minute")
		back, err := ToMinutes(FromMinutes(m))
		if err != nil {
			t.Fatalf("round trip of %d failed: %v", m, err)
		}
		if back != m {
			t.Fatalf("round trip of %d produced %d", m, back)
		}
	})
}

func TestPropertyOverlapsSymmetricAndBackToBack(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		startA := rapid.IntRange(0, MinutesPerDay-2).Draw(t, "startA")
		endA := rapid.IntRange(startA+1, MinutesPerDay-1).Draw(t, "endA")
		startB := rapid.IntRange(0, MinutesPerDay-2).Draw(t, "startB")
		endB := rapid.IntRange(startB+1, MinutesPerDay-1).Draw(t, "endB")

		if Overlaps(startA, endA, startB, endB) != Overlaps(startB, endB, startA, endA) {
			t.Fatalf("overlap is not symmetric for [%d,%d) [%d,%d)", startA, endA, startB, endB)
		}
		if Overlaps(startA, endA, endA, endA+1) {
			t.Fatalf("back-to-back ranges [%d,%d) [%d,%d) reported as overlapping", startA, endA, endA, endA+1)
		}
		if !Overlaps(startA, endA, startA, endA) {
			t.Fatalf("range [%d,%d) does not overlap itself", startA, endA)
		}
	})
}
