package state

import (
	"slices"

	"github.com/glabrego/feedtree/internal/display"
)

func ClampCursor(cursor, size int) int {
	if size <= 0 {
		return 0
	}
	if cursor >= size {
		return size - 1
	}
	if cursor < 0 {
		return 0
	}
	return cursor
}

func PageStep(height int, hasStatus bool) int {
	if height <= 0 {
		return 10
	}
	headerLines := 6
	if hasStatus {
		headerLines += 2
	}
	step := height - headerLines
	if step < 3 {
		step = 3
	}
	return step
}

func CenteredWindow(totalRows, cursor, height int) (int, int) {
	if totalRows <= 0 {
		return 0, 0
	}
	if height <= 0 || totalRows <= height {
		return 0, totalRows
	}
	cursor = ClampCursor(cursor, totalRows)
	start := cursor - height/2
	if start < 0 {
		start = 0
	}
	maxStart := totalRows - height
	if start > maxStart {
		start = maxStart
	}
	return start, start + height
}

// RowIndexByID finds id among rows, or -1.
func RowIndexByID(rows []display.Row, id int64) int {
	for i, row := range rows {
		if row.ID == id {
			return i
		}
	}
	return -1
}

// ParentRow returns the index of the nearest row above cursor that is one
// level shallower, or -1 for top-level rows.
func ParentRow(rows []display.Row, cursor int) int {
	if cursor <= 0 || cursor >= len(rows) {
		return -1
	}
	depth := rows[cursor].Depth
	for i := cursor - 1; i >= 0; i-- {
		if rows[i].Depth < depth {
			return i
		}
	}
	return -1
}

// ReorderTarget is the drop path that shifts the entry at path by delta
// among its siblings. ok is false when it would leave the sibling range at
// the top.
func ReorderTarget(path []int, delta int) ([]int, bool) {
	if len(path) == 0 {
		return nil, false
	}
	last := path[len(path)-1] + delta
	if last < 0 {
		return nil, false
	}
	to := slices.Clone(path)
	to[len(to)-1] = last
	return to, true
}

// IndentTarget drops the entry at path as the first child of the sibling
// right above it. The caller checks that sibling is a folder.
func IndentTarget(path []int) (above []int, to []int, ok bool) {
	if len(path) == 0 || path[len(path)-1] == 0 {
		return nil, nil, false
	}
	above = slices.Clone(path)
	above[len(above)-1]--
	return above, append(slices.Clone(above), 0), true
}

// OutdentTarget drops the entry at path right after its parent.
func OutdentTarget(path []int) ([]int, bool) {
	if len(path) < 2 {
		return nil, false
	}
	to := slices.Clone(path[:len(path)-1])
	to[len(to)-1]++
	return to, true
}
