package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/modoterra/vrcguard/pkg/core"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusStopped = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	kindBanned  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	kindInvited = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	kindJoined  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	kindLeft    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	activePaneStyle = paneStyle.
			BorderForeground(lipgloss.Color("205"))

	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

const statusBarH = 2

func (a App) layout() (topH, feedH, invitesW, statusW int) {
	topH = max(a.height/3, 8)
	feedH = max(a.height-topH-statusBarH-4, 3)
	invitesW = a.width*2/5 - 2
	statusW = a.width - invitesW - 4
	return
}

func (a *App) resizeFeed() {
	_, feedH, _, _ := a.layout()
	a.feedView.Width = max(a.width-4, 1)
	a.feedView.Height = max(feedH-1, 1)
	a.refreshFeed()
}

// View renders the TUI.
func (a App) View() string {
	if a.width == 0 || a.height == 0 {
		return "loading..."
	}

	topH, feedH, invitesW, statusW := a.layout()

	invitesPane := a.paneBox(PaneInvites, " Pending invites ", a.renderInvites(invitesW, topH), invitesW, topH)
	statusPane := a.paneBox(PaneStatus, " Daemon ", a.renderStatus(), statusW, topH)
	topRow := lipgloss.JoinHorizontal(lipgloss.Top, invitesPane, statusPane)

	feedPane := a.paneBox(PaneEvents, a.feedTitle(), a.feedView.View(), a.width-4, feedH)

	return lipgloss.JoinVertical(lipgloss.Left, topRow, feedPane, a.renderStatusBar())
}

func (a App) paneBox(pane Pane, title, content string, w, h int) string {
	style := paneStyle
	if a.activePane == pane {
		style = activePaneStyle
	}
	return style.Width(w).Height(h).Render(
		titleStyle.Render(title) + "\n" + content,
	)
}

func (a App) renderInvites(w, h int) string {
	invites := a.status.PendingInvites
	if len(invites) == 0 {
		return dimStyle.Render("no pending invites")
	}

	var b strings.Builder
	maxVisible := h - 2
	start := 0
	if a.selectedIdx >= maxVisible {
		start = a.selectedIdx - maxVisible + 1
	}

	now := a.now()
	for i := start; i < len(invites) && i-start < maxVisible; i++ {
		inv := invites[i]
		due := formatRemaining(inv.Due.Sub(now))
		line := fmt.Sprintf(" %-*s %s", max(w-10, 1), truncate(inv.Key, w-10), due)
		if i == a.selectedIdx && a.activePane == PaneInvites {
			line = selectedStyle.Width(w).Render(line)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func (a App) renderStatus() string {
	if !a.haveStatus {
		if a.connected {
			return dimStyle.Render("waiting for status...")
		}
		return dimStyle.Render("not connected")
	}
	st := a.status

	var b strings.Builder
	fmt.Fprintf(&b, "Version:  %s\n", st.Version)
	if !st.StartedAt.IsZero() {
		fmt.Fprintf(&b, "Uptime:   %s\n", a.now().Sub(st.StartedAt).Truncate(time.Second))
	}
	fmt.Fprintf(&b, "Log:      %s\n", dimStyle.Render(st.Tailer.Path))
	fmt.Fprintf(&b, "Offset:   %d (%d buffered)\n", st.Tailer.Offset, st.Tailer.Buffered)
	fmt.Fprintf(&b, "Lines:    %d read, %d events, %d rotations\n", st.Tailer.Lines, st.Tailer.Published, st.Tailer.Rotations)
	fmt.Fprintf(&b, "Players:  %d\n", st.Players)
	fmt.Fprintf(&b, "Bus:      %d subscribers, %d clients\n", st.Subscribers, st.Clients)

	if len(st.Tasks) > 0 {
		b.WriteString("Tasks:   ")
		for _, t := range st.Tasks {
			fmt.Fprintf(&b, " %s %s", statusIndicator(t.Status), t.Name)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (a App) renderFeed() string {
	entries := a.filteredFeed()
	if len(entries) == 0 {
		return dimStyle.Render("no events yet")
	}
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(formatEntry(e) + "\n")
	}
	return b.String()
}

func (a App) feedTitle() string {
	title := " Events "
	if a.feedPaused {
		title += dimStyle.Render("[PAUSED]") + " "
	}
	if q := a.search.Value(); q != "" {
		title += dimStyle.Render("[/"+q+"]") + " "
	}
	return title
}

func (a App) renderStatusBar() string {
	left := a.statusMsg
	right := "tab:pane j/k:nav c:cancel invite /:filter space:pause r:refresh q:quit"
	if a.mode == ModeSearch {
		right = a.search.View() + "  enter:apply esc:clear"
	}

	gap := a.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return helpStyle.Render(left + strings.Repeat(" ", gap) + right)
}

func formatEntry(e FeedEntry) string {
	env := e.Envelope
	ts := e.At.Format("15:04:05")
	if !env.At.IsZero() {
		ts = env.At.Format("15:04:05")
	}

	who := displayName(env)
	if who != env.UserID {
		who += " " + dimStyle.Render("("+env.UserID+")")
	}

	line := dimStyle.Render(ts) + " " + kindLabel(env.Kind) + " " + who
	if env.AvatarFileID != "" {
		line += " " + dimStyle.Render(env.AvatarFileID)
	}
	return line
}

func displayName(env core.Envelope) string {
	switch {
	case env.Profile != nil && env.Profile.DisplayName != "":
		return env.Profile.DisplayName
	case env.Name != "":
		return env.Name
	default:
		return env.UserID
	}
}

func kindLabel(k core.Kind) string {
	label := fmt.Sprintf("%-14s", k)
	switch k {
	case core.KindAutoBanned:
		return kindBanned.Render(label)
	case core.KindAutoInvited:
		return kindInvited.Render(label)
	case core.KindJoined:
		return kindJoined.Render(label)
	case core.KindLeft:
		return kindLeft.Render(label)
	case core.KindAvatarChanged:
		return label
	default:
		return dimStyle.Render(label)
	}
}

func statusIndicator(status core.Status) string {
	switch status {
	case core.StatusRunning:
		return statusRunning.Render("●")
	case core.StatusStopped:
		return statusStopped.Render("○")
	case core.StatusFailed:
		return statusFailed.Render("✖")
	default:
		return dimStyle.Render("?")
	}
}

func formatRemaining(d time.Duration) string {
	if d <= 0 {
		return "due"
	}
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
