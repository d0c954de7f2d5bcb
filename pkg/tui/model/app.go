// Package model is the vrcguard terminal UI: a live event feed, the daemon
// status and the pending invites, fed by the daemon socket.
package model

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/modoterra/vrcguard/pkg/core"
	"github.com/modoterra/vrcguard/pkg/daemon"
	"github.com/modoterra/vrcguard/pkg/transport/uds"
)

// Pane identifies which TUI pane is focused.
type Pane int

const (
	PaneInvites Pane = iota
	PaneStatus
	PaneEvents
)

// Mode identifies the current interaction mode.
type Mode int

const (
	ModeNormal Mode = iota
	ModeSearch
)

const (
	maxFeed        = 500
	eventQueue     = 256
	reconnectDelay = 2 * time.Second
)

// FeedEntry is one line of the event feed.
type FeedEntry struct {
	At       time.Time
	Envelope core.Envelope
}

// App is the root Bubble Tea model.
type App struct {
	// Connection
	client     *uds.Client
	events     chan uds.Message
	socketPath string
	connected  bool

	// State
	status      daemon.Status
	haveStatus  bool
	feed        []FeedEntry
	feedPaused  bool
	selectedIdx int

	// UI
	activePane Pane
	mode       Mode
	search     textinput.Model
	feedView   viewport.Model
	width      int
	height     int

	statusMsg string
	now       func() time.Time
}

// New creates a new TUI app model.
func New(socketPath string) App {
	si := textinput.New()
	si.Placeholder = "filter events..."
	si.CharLimit = 64

	return App{
		socketPath: socketPath,
		search:     si,
		feedView:   viewport.New(0, 0),
		activePane: PaneEvents,
		mode:       ModeNormal,
		now:        time.Now,
	}
}

// Init connects to the daemon.
func (a App) Init() tea.Cmd {
	return tea.Batch(
		connectCmd(a.socketPath),
		tea.SetWindowTitle("vrcguard"),
	)
}

// connectedMsg indicates successful daemon connection.
type connectedMsg struct {
	client *uds.Client
	events chan uds.Message
}

// disconnectedMsg is sent when the daemon connection ends.
type disconnectedMsg struct{}

// reconnectMsg triggers another dial attempt.
type reconnectMsg struct{}

// eventMsg carries one server-pushed message.
type eventMsg uds.Message

// statusMsg carries a status snapshot from the daemon.
type statusMsg daemon.Status

// cancelResultMsg reports a CancelInvite round trip.
type cancelResultMsg struct {
	userID   string
	canceled bool
}

// errorMsg carries an error to display.
type errorMsg struct{ err error }

func connectCmd(socketPath string) tea.Cmd {
	return func() tea.Msg {
		client, err := uds.Dial(socketPath)
		if err != nil {
			return errorMsg{err}
		}
		events := make(chan uds.Message, eventQueue)
		client.OnEvent(func(m uds.Message) {
			select {
			case events <- m:
			default:
			}
		})
		return connectedMsg{client: client, events: events}
	}
}

func reconnectCmd() tea.Cmd {
	return tea.Tick(reconnectDelay, func(time.Time) tea.Msg {
		return reconnectMsg{}
	})
}

func waitForEvent(client *uds.Client, events <-chan uds.Message) tea.Cmd {
	return func() tea.Msg {
		select {
		case m := <-events:
			return eventMsg(m)
		case <-client.Done():
			return disconnectedMsg{}
		}
	}
}

func fetchStatusCmd(client *uds.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		var st daemon.Status
		if err := client.Call(ctx, uds.MethodStatus, nil, &st); err != nil {
			return errorMsg{err}
		}
		return statusMsg(st)
	}
}

func cancelInviteCmd(client *uds.Client, userID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var resp uds.CancelInviteResponse
		if err := client.Call(ctx, uds.MethodCancelInvite, uds.CancelInviteRequest{UserID: userID}, &resp); err != nil {
			return errorMsg{err}
		}
		return cancelResultMsg{userID: userID, canceled: resp.Canceled}
	}
}

// Update handles messages.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.resizeFeed()
		return a, nil

	case connectedMsg:
		a.client = msg.client
		a.events = msg.events
		a.connected = true
		a.statusMsg = "connected"
		return a, tea.Batch(waitForEvent(a.client, a.events), fetchStatusCmd(a.client))

	case disconnectedMsg:
		a.client = nil
		a.connected = false
		a.statusMsg = "disconnected, retrying..."
		return a, reconnectCmd()

	case reconnectMsg:
		return a, connectCmd(a.socketPath)

	case eventMsg:
		a.handleEvent(uds.Message(msg))
		if a.client != nil {
			return a, waitForEvent(a.client, a.events)
		}
		return a, nil

	case statusMsg:
		a.setStatus(daemon.Status(msg))
		return a, nil

	case cancelResultMsg:
		if msg.canceled {
			a.statusMsg = "invite canceled: " + msg.userID
		} else {
			a.statusMsg = "no pending invite for " + msg.userID
		}
		if a.client != nil {
			return a, fetchStatusCmd(a.client)
		}
		return a, nil

	case errorMsg:
		a.statusMsg = "error: " + msg.err.Error()
		if !a.connected {
			return a, reconnectCmd()
		}
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	return a, nil
}

func (a *App) handleEvent(m uds.Message) {
	switch m.Method {
	case uds.EventDomain:
		var env core.Envelope
		if err := m.UnmarshalData(&env); err != nil {
			a.statusMsg = "error: " + err.Error()
			return
		}
		a.appendFeed(FeedEntry{At: a.now(), Envelope: env})
	case uds.EventStatusChanged:
		var st daemon.Status
		if err := m.UnmarshalData(&st); err != nil {
			a.statusMsg = "error: " + err.Error()
			return
		}
		a.setStatus(st)
	}
}

func (a *App) setStatus(st daemon.Status) {
	a.status = st
	a.haveStatus = true
	if a.selectedIdx >= len(st.PendingInvites) {
		a.selectedIdx = max(0, len(st.PendingInvites)-1)
	}
}

func (a *App) appendFeed(e FeedEntry) {
	if a.feedPaused {
		return
	}
	a.feed = append(a.feed, e)
	if len(a.feed) > maxFeed {
		a.feed = a.feed[len(a.feed)-maxFeed:]
	}
	a.refreshFeed()
}

func (a *App) refreshFeed() {
	atBottom := a.feedView.AtBottom()
	a.feedView.SetContent(a.renderFeed())
	if atBottom {
		a.feedView.GotoBottom()
	}
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if a.mode == ModeSearch {
		switch msg.String() {
		case "esc":
			a.mode = ModeNormal
			a.search.SetValue("")
			a.search.Blur()
			a.refreshFeed()
			return a, nil
		case "enter":
			a.mode = ModeNormal
			a.search.Blur()
			return a, nil
		default:
			var cmd tea.Cmd
			a.search, cmd = a.search.Update(msg)
			a.refreshFeed()
			return a, cmd
		}
	}

	switch msg.String() {
	case "q", "ctrl+c":
		if a.client != nil {
			a.client.Close()
		}
		return a, tea.Quit

	case "tab":
		a.activePane = (a.activePane + 1) % 3

	case "j", "down":
		if a.activePane == PaneInvites {
			a.selectedIdx = min(a.selectedIdx+1, max(0, len(a.status.PendingInvites)-1))
			return a, nil
		}
	case "k", "up":
		if a.activePane == PaneInvites {
			if a.selectedIdx > 0 {
				a.selectedIdx--
			}
			return a, nil
		}

	case "/":
		a.mode = ModeSearch
		a.search.Focus()
		return a, textinput.Blink

	case " ":
		a.feedPaused = !a.feedPaused
		return a, nil

	case "c":
		return a.cancelSelected()

	case "r":
		if a.client != nil {
			return a, fetchStatusCmd(a.client)
		}
		return a, nil
	}

	if a.activePane == PaneEvents {
		var cmd tea.Cmd
		a.feedView, cmd = a.feedView.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a App) cancelSelected() (tea.Model, tea.Cmd) {
	invites := a.status.PendingInvites
	if len(invites) == 0 || a.selectedIdx >= len(invites) {
		a.statusMsg = "no pending invites"
		return a, nil
	}
	if a.client == nil {
		a.statusMsg = "not connected"
		return a, nil
	}
	userID := invites[a.selectedIdx].Key
	a.statusMsg = "canceling invite for " + userID + "..."
	return a, cancelInviteCmd(a.client, userID)
}

func (a App) filteredFeed() []FeedEntry {
	q := strings.ToLower(a.search.Value())
	if q == "" {
		return a.feed
	}
	var filtered []FeedEntry
	for _, e := range a.feed {
		env := e.Envelope
		if strings.Contains(strings.ToLower(displayName(env)), q) ||
			strings.Contains(strings.ToLower(env.UserID), q) ||
			strings.Contains(strings.ToLower(string(env.Kind)), q) {
			filtered = append(filtered, e)
		}
	}
	return filtered
}
