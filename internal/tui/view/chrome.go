package view

import (
	"fmt"
	"strings"

	tuitheme "github.com/glabrego/feedtree/internal/tui/theme"
)

func Toolbar(verbose bool) string {
	if verbose {
		return "j/k/arrows: move | g/G: top/bottom | pgup/pgdown: jump | enter/space: expand | h/l: collapse/expand | K/J: move up/down | >/<: indent/outdent | d: trash | r/R: refresh one/all | m: mark read | c: all counts | o: open site | y: copy URL | ?: help | q: quit"
	}
	return "j/k move | enter expand | K/J reorder | >/< indent | d trash | r refresh | ? help"
}

func CompactFooter(shown, total int, showAllCounts, debug bool, th tuitheme.Theme) string {
	counts := "unread"
	if showAllCounts {
		counts = "all"
	}
	parts := []string{
		th.MetaValue.Render(fmt.Sprintf("%d shown", shown)),
		th.MetaValue.Render(fmt.Sprintf("%d total", total)),
		th.MetaLabel.Render("counts") + " " + th.MetaValue.Render(counts),
	}
	if debug {
		parts = append(parts, th.MetaLabel.Render("debug")+" "+th.MetaValue.Render("on"))
	}
	return strings.Join(parts, " • ")
}

func CompactMessage(loading bool, hasWarning bool, status, warning string, th tuitheme.Theme) string {
	state := "idle"
	if loading {
		state = "loading"
	}
	if hasWarning {
		state = "warning"
	}
	main := "Ready"
	if status != "" {
		main = status
	} else if hasWarning {
		main = warning
	}
	stateLabel := th.StateIdle.Render("state")
	switch state {
	case "warning":
		stateLabel = th.StateWarn.Render("state")
	case "loading":
		stateLabel = th.StateLoad.Render("state")
	}
	return fmt.Sprintf("%s: %s | %s", stateLabel, state, th.MetaValue.Render(main))
}
