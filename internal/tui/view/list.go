package view

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/glabrego/feedtree/internal/display"
	tuitheme "github.com/glabrego/feedtree/internal/tui/theme"
)

var reANSICodes = regexp.MustCompile(`\x1b\[[0-9;]*m`)

type RowLineParams struct {
	Row          display.Row
	Active       bool
	Width        int
	SpinnerFrame string
}

// RenderRowLine lays out one subscription row: cursor, indent, expander,
// status cell, name and the count column flush right.
func RenderRowLine(p RowLineParams, th tuitheme.Theme) string {
	cursor := " "
	if p.Active {
		cursor = ">"
	}
	expander := "  "
	if p.Row.IsFolder {
		expander = "▸ "
		if p.Row.Expanded {
			expander = "▾ "
		}
	}
	prefix := cursor + " " + strings.Repeat("  ", p.Row.Depth) + expander
	cell := th.StatusCell(p.Row, p.SpinnerFrame) + " "

	right := ""
	if p.Row.RightText != "" {
		right = th.UnreadCount.Render(p.Row.RightText)
	}
	available := p.Width - visibleLen(prefix) - visibleLen(cell) - visibleLen(right) - 1
	if available < 1 {
		available = 1
	}
	name := th.StyleName(p.Row, truncateRunes(p.Row.Name, available))

	left := prefix + cell + name
	if right == "" {
		return th.RenderActiveLine(p.Active, left)
	}
	gap := p.Width - visibleLen(left) - visibleLen(right)
	if gap < 1 {
		gap = 1
	}
	return th.RenderActiveLine(p.Active, left+strings.Repeat(" ", gap)+right)
}

func RenderList(rows []display.Row, start, end, cursor, width int, frame string, th tuitheme.Theme) string {
	if len(rows) == 0 || start >= end || start < 0 {
		return ""
	}
	var b strings.Builder
	for i := start; i < end && i < len(rows); i++ {
		b.WriteString(RenderRowLine(RowLineParams{Row: rows[i], Active: i == cursor, Width: width, SpinnerFrame: frame}, th))
		b.WriteString("\n")
	}
	return b.String()
}

func truncateRunes(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return strings.Repeat(".", maxLen)
	}
	runes := []rune(s)
	return string(runes[:maxLen-3]) + "..."
}

func visibleLen(s string) int {
	return utf8.RuneCountInString(stripANSIText(s))
}

func stripANSIText(s string) string {
	return reANSICodes.ReplaceAllString(s, "")
}
