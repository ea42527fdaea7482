package theme

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/glabrego/feedtree/internal/display"
)

type Theme struct {
	Title       lipgloss.Style
	ModePill    lipgloss.Style
	Folder      lipgloss.Style
	UnreadCount lipgloss.Style
	ActiveLine  lipgloss.Style
	MetaLabel   lipgloss.Style
	MetaValue   lipgloss.Style
	StateIdle   lipgloss.Style
	StateWarn   lipgloss.Style
	StateLoad   lipgloss.Style

	NameUnread lipgloss.Style
	NameRead   lipgloss.Style
	NameTrash  lipgloss.Style

	IconScheduled lipgloss.Style
	IconError     lipgloss.Style
	Spinner       lipgloss.Style
}

func Default() Theme {
	cpMauve := lipgloss.Color("#cba6f7")
	cpRed := lipgloss.Color("#f38ba8")
	cpPeach := lipgloss.Color("#fab387")
	cpYellow := lipgloss.Color("#f9e2af")
	cpGreen := lipgloss.Color("#a6e3a1")
	cpTeal := lipgloss.Color("#94e2d5")
	cpLavender := lipgloss.Color("#b4befe")
	cpText := lipgloss.Color("#cdd6f4")
	cpSubtext0 := lipgloss.Color("#a6adc8")
	cpSubtext1 := lipgloss.Color("#bac2de")
	cpOverlay1 := lipgloss.Color("#7f849c")
	cpSurface0 := lipgloss.Color("#313244")

	return Theme{
		Title:         lipgloss.NewStyle().Bold(true).Foreground(cpMauve),
		ModePill:      lipgloss.NewStyle().Foreground(cpLavender).Background(cpSurface0).Padding(0, 1),
		Folder:        lipgloss.NewStyle().Bold(true).Foreground(cpTeal),
		UnreadCount:   lipgloss.NewStyle().Foreground(cpYellow).Bold(true),
		ActiveLine:    lipgloss.NewStyle().Background(cpSurface0).Foreground(cpText),
		MetaLabel:     lipgloss.NewStyle().Foreground(cpOverlay1),
		MetaValue:     lipgloss.NewStyle().Foreground(cpSubtext1),
		StateIdle:     lipgloss.NewStyle().Foreground(cpGreen),
		StateWarn:     lipgloss.NewStyle().Foreground(cpRed),
		StateLoad:     lipgloss.NewStyle().Foreground(cpPeach),
		NameUnread:    lipgloss.NewStyle().Bold(true).Foreground(cpText),
		NameRead:      lipgloss.NewStyle().Foreground(cpSubtext0),
		NameTrash:     lipgloss.NewStyle().Strikethrough(true).Foreground(cpOverlay1),
		IconScheduled: lipgloss.NewStyle().Foreground(cpLavender),
		IconError:     lipgloss.NewStyle().Bold(true).Foreground(cpRed),
		Spinner:       lipgloss.NewStyle().Foreground(cpPeach),
	}
}

// StyleName picks the name style from the row's font and activation bits.
func (t Theme) StyleName(row display.Row, name string) string {
	if name == "" {
		return name
	}
	switch {
	case !row.Active:
		return t.NameTrash.Render(name)
	case row.IsFolder:
		return t.Folder.Render(name)
	case row.Bold:
		return t.NameUnread.Render(name)
	default:
		return t.NameRead.Render(name)
	}
}

// StatusCell renders the shared spinner/status-icon cell. The spinner wins.
func (t Theme) StatusCell(row display.Row, frame string) string {
	switch {
	case row.SpinnerVisible:
		return t.Spinner.Render(frame)
	case row.StatusIcon == display.IconScheduled:
		return t.IconScheduled.Render("◷")
	case row.StatusIcon == display.IconError:
		return t.IconError.Render("!")
	default:
		return " "
	}
}

func (t Theme) RenderActiveLine(active bool, line string) string {
	if !active {
		return line
	}
	return t.ActiveLine.Render(line)
}
