package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

func TestPaginateThirdPageOfTwentyFive(t *testing.T) {
	assert.Equal(t, []int{21, 22, 23, 24, 25}, Paginate(seq(25), 3, 10))
}

func TestPaginateCoercesAndBounds(t *testing.T) {
	assert.Equal(t, []int{1}, Paginate(seq(5), 0, 0))
	assert.Equal(t, []int{1, 2}, Paginate(seq(5), -3, 2))
	assert.Empty(t, Paginate(seq(5), 4, 2))
	assert.Empty(t, Paginate([]string{}, 1, 10))
	assert.Empty(t, Paginate[int](nil, 1, 10))
}

func TestComputePageWindowTotalPages(t *testing.T) {
	cases := []struct {
		total, size, want int
	}{
		{1, 1, 1},
		{1, 10, 1},
		{10, 10, 1},
		{11, 10, 2},
		{25, 10, 3},
		{100, 7, 15},
	}
	for _, tc := range cases {
		w := ComputePageWindow(tc.total, 1, tc.size)
		assert.Equal(t, tc.want, w.TotalPages, "total=%d size=%d", tc.total, tc.size)
	}
}

func TestComputePageWindowClampsPage(t *testing.T) {
	for total := 1; total <= 40; total++ {
		for size := 1; size <= 12; size++ {
			w := ComputePageWindow(total, 999, size)
			require.Equal(t, w.TotalPages, w.Page)
			require.True(t, w.Nav.NextDisabled)
			require.True(t, w.Nav.LastDisabled)
			require.LessOrEqual(t, w.EndIndex, total)
			require.Less(t, w.StartIndex, w.EndIndex)
		}
	}
}

func TestComputePageWindowEmpty(t *testing.T) {
	w := ComputePageWindow(0, 3, 10)
	assert.Equal(t, 0, w.TotalPages)
	assert.Equal(t, 0, w.Total)
	assert.Equal(t, NavState{FirstDisabled: true, PrevDisabled: true, NextDisabled: true, LastDisabled: true}, w.Nav)
	assert.Equal(t, "No entries", w.Status())
}

func TestComputePageWindowNavigation(t *testing.T) {
	first := ComputePageWindow(25, 1, 10)
	assert.True(t, first.Nav.FirstDisabled)
	assert.True(t, first.Nav.PrevDisabled)
	assert.False(t, first.Nav.NextDisabled)
	assert.Equal(t, "Showing 1 to 10 of 25 entries", first.Status())

	middle := ComputePageWindow(25, 2, 10)
	assert.Equal(t, NavState{}, middle.Nav)
	assert.Equal(t, 1, middle.PrevPage())
	assert.Equal(t, 3, middle.NextPage())

	last := ComputePageWindow(25, 3, 10)
	assert.Equal(t, 20, last.StartIndex)
	assert.Equal(t, 25, last.EndIndex)
	assert.False(t, last.Nav.PrevDisabled)
	assert.True(t, last.Nav.LastDisabled)
	assert.Equal(t, "Showing 21 to 25 of 25 entries", last.Status())
}

func TestPageStateLifecycle(t *testing.T) {
	state := NewPageState(0, 0)
	assert.Equal(t, 1, state.Page)
	assert.Equal(t, DefaultPageSize, state.Size)

	state.GoTo(5)
	state.SetTotal(25)
	assert.Equal(t, 3, state.Page, "page clamps once total is known")

	state.SetSize(5)
	assert.Equal(t, 1, state.Page, "size change resets to first page")
	state.GoTo(4)
	assert.Equal(t, 15, state.Offset())
	assert.Equal(t, 5, state.Window().TotalPages)
}
