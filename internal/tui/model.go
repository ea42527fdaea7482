// Package tui renders the subscription tree in the terminal and turns key
// presses into controller operations.
package tui

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/glabrego/feedtree/internal/config"
	"github.com/glabrego/feedtree/internal/display"
	"github.com/glabrego/feedtree/internal/events"
	"github.com/glabrego/feedtree/internal/platform"
	"github.com/glabrego/feedtree/internal/subscription"
	"github.com/glabrego/feedtree/internal/tree"
	tuiactions "github.com/glabrego/feedtree/internal/tui/actions"
	tuistate "github.com/glabrego/feedtree/internal/tui/state"
	tuitheme "github.com/glabrego/feedtree/internal/tui/theme"
	tuiview "github.com/glabrego/feedtree/internal/tui/view"
)

const (
	defaultTickInterval = 250 * time.Millisecond
	defaultStatusTTL    = 4 * time.Second
	opTimeout           = 10 * time.Second
)

var spinnerFrames = []string{"|", "/", "-", "\\"}

// Controller is the part of the application the terminal drives. Calls
// happen on the Update goroutine only.
type Controller interface {
	Tick(ctx context.Context) error
	VisibleRows() []display.Row
	Entry(ctx context.Context, id int64) (subscription.Entry, error)
	SetExpanded(ctx context.Context, id int64, expanded bool) error
	Drag(ctx context.Context, from, to []int) error
	MoveToTrash(ctx context.Context, id int64) error
	MarkRead(ctx context.Context, id int64) error
	ScheduleFetch(ctx context.Context, id int64) error
	RefreshAll()
	DisplayOptions() display.Options
	SetDisplayOptions(opts display.Options)
	Bus() *events.Bus
}

// inbox collects bus events between two updates. The bus publishes from
// controller calls, which all run inside Update.
type inbox struct {
	events []events.Event
}

func (in *inbox) take() []events.Event {
	evs := in.events
	in.events = nil
	return evs
}

type Model struct {
	ctrl   Controller
	inbox  *inbox
	handle events.Handle
	theme  tuitheme.Theme

	rows       []display.Row
	cursor     int
	selectedID int64
	frame      int

	width    int
	height   int
	showHelp bool
	status   string
	statusID int
	err      error

	tickInterval      time.Duration
	statusTTL         time.Duration
	openURLFn         func(string) error
	copyURLFn         func(string) error
	savePreferencesFn func(config.Preferences) error
}

func NewModel(ctrl Controller) Model {
	in := &inbox{}
	m := Model{
		ctrl:         ctrl,
		inbox:        in,
		theme:        tuitheme.Default(),
		tickInterval: defaultTickInterval,
		statusTTL:    defaultStatusTTL,
		openURLFn:    platform.OpenURLInBrowser,
		copyURLFn:    platform.CopyURLToClipboard,
	}
	m.handle = ctrl.Bus().Subscribe(func(ev events.Event) {
		in.events = append(in.events, ev)
	})
	m.rows = ctrl.VisibleRows()
	if len(m.rows) > 0 {
		m.selectedID = m.rows[0].ID
	}
	return m
}

// Close detaches the model from the event bus.
func (m Model) Close() {
	m.ctrl.Bus().Unsubscribe(m.handle)
}

func (m *Model) SetPreferencesSaver(saveFn func(config.Preferences) error) {
	m.savePreferencesFn = saveFn
}

func (m *Model) SetTickInterval(d time.Duration) {
	if d > 0 {
		m.tickInterval = d
	}
}

func (m Model) Init() tea.Cmd {
	return tuiactions.TickCmd(m.tickInterval)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case tuiactions.TickMsg:
		ctx, cancel := opContext()
		defer cancel()
		if err := m.ctrl.Tick(ctx); err != nil {
			m.err = err
		}
		m.frame = (m.frame + 1) % len(spinnerFrames)
		m.syncEvents()
		return m, tuiactions.TickCmd(m.tickInterval)
	case tuiactions.ClearStatusMsg:
		if msg.ID == m.statusID {
			m.status = ""
		}
		return m, nil
	case tuiactions.OpenURLSuccessMsg:
		cmd := m.setStatus(msg.Status)
		return m, cmd
	case tuiactions.OpenURLErrorMsg:
		m.err = msg.Err
		return m, nil
	case tuiactions.PreferenceSaveErrorMsg:
		m.err = fmt.Errorf("save preferences: %w", msg.Err)
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "?" {
		m.showHelp = !m.showHelp
		return m, nil
	}
	if m.showHelp {
		switch key {
		case "esc":
			m.showHelp = false
		case "ctrl+c", "q":
			return m, tea.Quit
		}
		return m, nil
	}

	switch key {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "up", "k":
		m.moveCursor(m.cursor - 1)
	case "down", "j":
		m.moveCursor(m.cursor + 1)
	case "g", "home":
		m.moveCursor(0)
	case "G", "end":
		m.moveCursor(len(m.rows) - 1)
	case "pgup", "ctrl+b":
		m.moveCursor(m.cursor - tuistate.PageStep(m.height, m.status != "" || m.err != nil))
	case "pgdown", "ctrl+f":
		m.moveCursor(m.cursor + tuistate.PageStep(m.height, m.status != "" || m.err != nil))
	case "enter", " ":
		if row, ok := m.current(); ok && row.IsFolder {
			cmd := m.setExpanded(row, !row.Expanded)
			return m, cmd
		}
	case "right", "l":
		if row, ok := m.current(); ok && row.IsFolder && !row.Expanded {
			cmd := m.setExpanded(row, true)
			return m, cmd
		}
	case "left", "h":
		row, ok := m.current()
		if !ok {
			break
		}
		if row.IsFolder && row.Expanded {
			cmd := m.setExpanded(row, false)
			return m, cmd
		}
		if parent := tuistate.ParentRow(m.rows, m.cursor); parent >= 0 {
			m.moveCursor(parent)
		}
	case "K", "shift+up":
		return m.reorder(-1)
	case "J", "shift+down":
		return m.reorder(1)
	case ">", "tab":
		return m.indent()
	case "<", "shift+tab":
		return m.outdent()
	case "d", "delete":
		return m.trashCurrent()
	case "r":
		return m.run("Fetch scheduled", func(ctx context.Context, row display.Row) error {
			return m.ctrl.ScheduleFetch(ctx, row.ID)
		})
	case "R":
		m.ctrl.RefreshAll()
		cmd := m.setStatus("Refreshing all feeds")
		return m, cmd
	case "m":
		return m.run("Marked as read", func(ctx context.Context, row display.Row) error {
			return m.ctrl.MarkRead(ctx, row.ID)
		})
	case "c":
		opts := m.ctrl.DisplayOptions()
		opts.ShowAllCounts = !opts.ShowAllCounts
		return m.applyDisplayOptions(opts, config.Preferences{ShowAllCounts: &opts.ShowAllCounts})
	case "D":
		opts := m.ctrl.DisplayOptions()
		opts.Debug = !opts.Debug
		return m.applyDisplayOptions(opts, config.Preferences{Debug: &opts.Debug})
	case "o":
		return m.openCurrent()
	case "y":
		return m.copyCurrent()
	}
	return m, nil
}

func opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), opTimeout)
}

func (m Model) current() (display.Row, bool) {
	if len(m.rows) == 0 {
		return display.Row{}, false
	}
	return m.rows[tuistate.ClampCursor(m.cursor, len(m.rows))], true
}

func (m *Model) moveCursor(to int) {
	m.cursor = tuistate.ClampCursor(to, len(m.rows))
	if row, ok := m.current(); ok {
		m.selectedID = row.ID
	}
}

// syncEvents consumes pending bus events and refreshes the rows, keeping the
// cursor on the selected entry when it is still visible.
func (m *Model) syncEvents() {
	refresh := false
	for _, ev := range m.inbox.take() {
		switch ev.Kind {
		case events.RowsChanged, events.TreeChanged:
			refresh = true
		case events.DragRejected:
			m.status = "Move rejected: " + rejectReason(ev.Err)
			m.statusID++
		case events.FetchFailed:
			m.err = fmt.Errorf("fetch of %d failed: %w", ev.ID, ev.Err)
		}
	}
	if !refresh {
		return
	}
	m.rows = m.ctrl.VisibleRows()
	if idx := tuistate.RowIndexByID(m.rows, m.selectedID); idx >= 0 {
		m.cursor = idx
		return
	}
	m.moveCursor(m.cursor)
}

func rejectReason(err error) string {
	for _, reason := range []error{
		tree.ErrDropIntoSelf,
		tree.ErrTargetNotFolder,
		tree.ErrDropOutOfRange,
		tree.ErrTrashed,
		tree.ErrEntryNotFound,
	} {
		if errors.Is(err, reason) {
			return reason.Error()
		}
	}
	if err == nil {
		return "invalid move"
	}
	return err.Error()
}

func (m *Model) setStatus(status string) tea.Cmd {
	m.status = status
	m.err = nil
	m.statusID++
	return tuiactions.ClearStatusCmd(m.statusID, m.statusTTL)
}

func (m *Model) setExpanded(row display.Row, expanded bool) tea.Cmd {
	ctx, cancel := opContext()
	defer cancel()
	if err := m.ctrl.SetExpanded(ctx, row.ID, expanded); err != nil {
		m.err = err
		return nil
	}
	m.syncEvents()
	return nil
}

// run applies op to the selected row and reports the outcome.
func (m Model) run(done string, op func(context.Context, display.Row) error) (tea.Model, tea.Cmd) {
	row, ok := m.current()
	if !ok {
		return m, nil
	}
	ctx, cancel := opContext()
	defer cancel()
	err := op(ctx, row)
	m.syncEvents()
	if err != nil {
		if errors.Is(err, tree.ErrInvalidDrag) {
			return m, tuiactions.ClearStatusCmd(m.statusID, m.statusTTL)
		}
		m.err = err
		return m, nil
	}
	cmd := m.setStatus(done)
	return m, cmd
}

func (m Model) drag(row display.Row, to []int, done string) (tea.Model, tea.Cmd) {
	return m.run(done, func(ctx context.Context, _ display.Row) error {
		return m.ctrl.Drag(ctx, row.Path, to)
	})
}

func (m Model) reorder(delta int) (tea.Model, tea.Cmd) {
	row, ok := m.current()
	if !ok {
		return m, nil
	}
	to, ok := tuistate.ReorderTarget(row.Path, delta)
	if !ok {
		return m, nil
	}
	return m.drag(row, to, "Moved")
}

func (m Model) indent() (tea.Model, tea.Cmd) {
	row, ok := m.current()
	if !ok {
		return m, nil
	}
	above, to, ok := tuistate.IndentTarget(row.Path)
	if !ok {
		return m, nil
	}
	idx := slices.IndexFunc(m.rows, func(r display.Row) bool { return slices.Equal(r.Path, above) })
	if idx < 0 || !m.rows[idx].IsFolder {
		cmd := m.setStatus("Nothing to indent into")
		return m, cmd
	}
	return m.drag(row, to, "Moved into "+m.rows[idx].Name)
}

func (m Model) outdent() (tea.Model, tea.Cmd) {
	row, ok := m.current()
	if !ok {
		return m, nil
	}
	to, ok := tuistate.OutdentTarget(row.Path)
	if !ok {
		return m, nil
	}
	return m.drag(row, to, "Moved out")
}

func (m Model) trashCurrent() (tea.Model, tea.Cmd) {
	return m.run("Moved to trash", func(ctx context.Context, row display.Row) error {
		return m.ctrl.MoveToTrash(ctx, row.ID)
	})
}

// applyDisplayOptions switches the display and persists only the toggled
// preference in changed, so settings given on the command line stay per run.
func (m Model) applyDisplayOptions(opts display.Options, changed config.Preferences) (tea.Model, tea.Cmd) {
	m.ctrl.SetDisplayOptions(opts)
	m.syncEvents()
	status := m.setStatus("Display options updated")
	return m, tea.Batch(status, tuiactions.PersistPreferencesCmd(m.savePreferencesFn, changed))
}

func (m Model) selectedURL(website bool) (string, error) {
	row, ok := m.current()
	if !ok {
		return "", errors.New("nothing selected")
	}
	if row.IsFolder {
		return "", errors.New("folders have no URL")
	}
	ctx, cancel := opContext()
	defer cancel()
	e, err := m.ctrl.Entry(ctx, row.ID)
	if err != nil {
		return "", err
	}
	raw := e.URL
	if website && e.WebsiteURL != "" {
		raw = e.WebsiteURL
	}
	return platform.ValidateFeedURL(raw)
}

func (m Model) openCurrent() (tea.Model, tea.Cmd) {
	u, err := m.selectedURL(true)
	if err != nil {
		cmd := m.setStatus(err.Error())
		return m, cmd
	}
	return m, tuiactions.OpenURLCmd(u, m.openURLFn, m.copyURLFn)
}

func (m Model) copyCurrent() (tea.Model, tea.Cmd) {
	u, err := m.selectedURL(false)
	if err != nil {
		cmd := m.setStatus(err.Error())
		return m, cmd
	}
	return m, tuiactions.CopyURLCmd(u, m.copyURLFn)
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.theme.Title.Render("Feed Tree"))
	b.WriteString(" ")
	b.WriteString(m.theme.ModePill.Render(m.mode()))
	b.WriteString("\n")
	b.WriteString(tuiview.Toolbar(m.showHelp))
	b.WriteString("\n\n")

	if m.showHelp {
		b.WriteString(helpView())
		b.WriteString("\n")
	} else if len(m.rows) == 0 {
		b.WriteString("No subscriptions yet.\n")
	} else {
		height := 0
		if m.height > 0 {
			height = tuistate.PageStep(m.height, true)
		}
		start, end := tuistate.CenteredWindow(len(m.rows), m.cursor, height)
		b.WriteString(tuiview.RenderList(m.rows, start, end, m.cursor, m.contentWidth(), spinnerFrames[m.frame], m.theme))
	}

	b.WriteString("\n")
	b.WriteString(m.messagePanel())
	b.WriteString("\n")
	opts := m.ctrl.DisplayOptions()
	b.WriteString(tuiview.CompactFooter(len(m.rows), m.countAll(), opts.ShowAllCounts, opts.Debug, m.theme))
	b.WriteString("\n")
	if opts.Debug {
		if row, ok := m.current(); ok && row.Tooltip != "" {
			b.WriteString(m.theme.MetaLabel.Render(row.Tooltip))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m Model) mode() string {
	if m.showHelp {
		return "help"
	}
	return "tree"
}

func (m Model) countAll() int {
	n := 0
	for _, r := range m.rows {
		if !r.IsFolder {
			n++
		}
	}
	return n
}

func (m Model) loading() bool {
	for _, r := range m.rows {
		if r.SpinnerVisible || r.StatusIcon == display.IconScheduled {
			return true
		}
	}
	return false
}

func (m Model) messagePanel() string {
	warning := ""
	if m.err != nil {
		warning = m.err.Error()
	} else if row, ok := m.current(); ok && row.StatusIcon == display.IconError {
		warning = row.Tooltip
	}
	return tuiview.CompactMessage(m.loading(), warning != "", m.status, warning, m.theme)
}

func (m Model) contentWidth() int {
	if m.width <= 0 {
		return 80
	}
	return m.width
}

func helpView() string {
	lines := []string{
		"Navigation:",
		"  j/k or arrows move, g/G jump top/bottom, pgup/pgdown jump page",
		"Folders:",
		"  enter/space toggles, l expands, h collapses or jumps to parent",
		"Arranging:",
		"  K/J move up/down, > or tab moves into the folder above, < or shift+tab moves out",
		"  d moves the selection to the trash",
		"Feeds:",
		"  r refresh selection, R refresh all, m mark read, o open website, y copy feed URL",
		"Options:",
		"  c toggles total counts, D toggles debug details",
	}
	return strings.Join(lines, "\n")
}
