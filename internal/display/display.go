// Package display projects resolved tree nodes and their runtime state into
// the rows the terminal adapter renders.
package display

import (
	"fmt"
	"strconv"

	"github.com/glabrego/feedtree/internal/state"
	"github.com/glabrego/feedtree/internal/subscription"
	"github.com/glabrego/feedtree/internal/tree"
)

const tooltipLimit = 100

// Status icon references. The empty reference is the transparent default.
const (
	IconNone      = ""
	IconScheduled = "scheduled"
	IconError     = "error"
)

// BitExpanded is merged into Row.Bits above the status flags.
const BitExpanded uint16 = 1 << 8

type Options struct {
	ShowAllCounts bool
	Debug         bool
}

// Row is the projected display tuple of one entry.
type Row struct {
	ID    int64
	Path  []int
	Depth int

	IconRef        string
	Name           string
	RightText      string
	StatusIcon     string
	Bold           bool
	Active         bool
	Tooltip        string
	SpinnerVisible bool
	Bits           uint16

	IsFolder bool
	Expanded bool
	// Hidden is set when an ancestor folder is collapsed.
	Hidden bool
}

type Projector struct {
	state *state.State
	opts  Options
}

func NewProjector(st *state.State, opts Options) *Projector {
	return &Projector{state: st, opts: opts}
}

func (p *Projector) Options() Options {
	return p.opts
}

func (p *Projector) SetOptions(opts Options) {
	p.opts = opts
}

// Project flattens the forest depth-first into rows. Folder counts are the
// sum of the known counts below them.
func (p *Projector) Project(nodes []*tree.Node) []Row {
	var rows []Row
	p.project(nodes, 0, false, &rows)
	return rows
}

func (p *Projector) project(nodes []*tree.Node, depth int, hidden bool, rows *[]Row) (state.Counts, bool) {
	var sum state.Counts
	known := false
	for _, n := range nodes {
		idx := len(*rows)
		*rows = append(*rows, Row{})

		st, _ := p.state.Get(n.Entry.ID)
		counts, ok := p.state.NumAllUnread(n.Entry.ID)
		if n.Entry.IsFolder {
			counts, ok = p.project(n.Children, depth+1, hidden || !n.Entry.Expanded, rows)
		}
		if ok {
			sum.Total += counts.Total
			sum.Unread += counts.Unread
			known = true
		}

		row := p.row(n, st, counts, ok)
		row.Depth = depth
		row.Hidden = hidden
		(*rows)[idx] = row
	}
	return sum, known
}

// Row projects a single node with only its own counts, which is what a feed
// row shows. Folder rows should come from Project.
func (p *Projector) Row(n *tree.Node) Row {
	st, _ := p.state.Get(n.Entry.ID)
	counts, ok := p.state.NumAllUnread(n.Entry.ID)
	return p.row(n, st, counts, ok)
}

func (p *Projector) row(n *tree.Node, st state.Entry, counts state.Counts, known bool) Row {
	e := n.Entry
	expanded := e.IsFolder && e.Expanded
	bits := uint16(st.Status)
	if expanded {
		bits |= BitExpanded
	}
	spinner := st.Status.FetchInProgress()
	icon := StatusIcon(st.Status)
	if spinner {
		icon = IconNone
	}
	return Row{
		ID:             e.ID,
		Path:           n.Path,
		IconRef:        iconRef(e),
		Name:           e.Label(),
		RightText:      RightText(counts, known, p.opts.ShowAllCounts),
		StatusIcon:     icon,
		Bold:           known && counts.Unread > 0,
		Active:         !st.IsDeleted,
		Tooltip:        p.tooltip(e, st),
		SpinnerVisible: spinner,
		Bits:           bits,
		IsFolder:       e.IsFolder,
		Expanded:       expanded,
	}
}

// RightText renders the count column. Unknown counts render as nothing.
func RightText(c state.Counts, known, showAll bool) string {
	if !known {
		return ""
	}
	if showAll {
		if c.Unread > 0 {
			return fmt.Sprintf("%d/%d", c.Unread, c.Total)
		}
		return strconv.Itoa(c.Total)
	}
	if c.Unread > 0 {
		return strconv.Itoa(c.Unread)
	}
	return ""
}

// StatusIcon picks the first matching icon: scheduled, then error.
func StatusIcon(s subscription.StatusFlags) string {
	switch {
	case s.FetchScheduled():
		return IconScheduled
	case s.FetchError():
		return IconError
	default:
		return IconNone
	}
}

func iconRef(e subscription.Entry) string {
	switch {
	case e.IsFolder:
		return "folder"
	case e.IconID > 0:
		return "icon/" + strconv.FormatInt(e.IconID, 10)
	default:
		return "feed"
	}
}

func (p *Projector) tooltip(e subscription.Entry, st state.Entry) string {
	if st.Status.FetchError() && st.LastError != "" {
		return truncate(st.LastError, tooltipLimit)
	}
	if !p.opts.Debug {
		return ""
	}
	return fmt.Sprintf("id=%d status=%s expanded=%t path=%v icon=%d last_selected=%d",
		e.ID, st.Status, e.Expanded, st.TreePath, e.IconID, e.LastSelectedMsg)
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

// Visible drops rows below collapsed folders.
func Visible(rows []Row) []Row {
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		if !r.Hidden {
			out = append(out, r)
		}
	}
	return out
}

// Changed keeps the rows whose id is in ids.
func Changed(rows []Row, ids []int64) []Row {
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []Row
	for _, r := range rows {
		if want[r.ID] {
			out = append(out, r)
		}
	}
	return out
}
