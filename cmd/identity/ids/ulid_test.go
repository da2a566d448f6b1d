package ids

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewULID_SortsWithinMillisecond(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	got := make([]string, 50)
	for i := range got {
		id, err := NewULID(now)
		require.NoError(t, err)
		require.Len(t, id, 26)
		got[i] = id
	}
	assert.True(t, slices.IsSorted(got))
	assert.Len(t, slices.Compact(slices.Clone(got)), len(got))
}

func TestValid(t *testing.T) {
	assert.True(t, Valid(MustNewULID(time.Time{})))
	for _, s := range []string{"", "missing", "01ARZ3NDEKTSV4RRFFQ69G5FA", "01ARZ3NDEKTSV4RRFFQ69G5FAVX"} {
		assert.False(t, Valid(s), s)
	}
}
