package pagination

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLimitClamps(t *testing.T) {
	require.Equal(t, DefaultPageSize, Pagination{}.Limit())
	require.Equal(t, MaxPageSize, Pagination{PageSize: 5000}.Limit())
	require.Equal(t, 7, Pagination{PageSize: 7}.Limit())
}

func TestCursorRoundTripAndGarbage(t *testing.T) {
	token, err := EncodeCursor(Cursor{ID: "42", CreatedAt: "2026-04-01T09:00:00Z"})
	require.NoError(t, err)

	cursor, err := DecodeCursor(token)
	require.NoError(t, err)
	require.Equal(t, "42", cursor.ID)

	cursor, err = DecodeCursor("  ")
	require.NoError(t, err)
	require.Nil(t, cursor)

	_, err = DecodeCursor("not base64!")
	require.ErrorIs(t, err, ErrInvalidPageToken)
}

func TestTrimReportsNextPage(t *testing.T) {
	items, info := Trim([]int{1, 2, 3}, 2, func(v int) string { return "after-2" })
	require.Equal(t, []int{1, 2}, items)
	require.True(t, info.HasMore)
	require.Equal(t, "after-2", info.NextPageToken)

	items, info = Trim([]int{1}, 2, func(int) string { return "x" })
	require.Equal(t, []int{1}, items)
	require.False(t, info.HasMore)
}
