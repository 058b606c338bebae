package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	log "github.com/sirupsen/logrus"

	"github.com/tomaslejdung/rovlink/pkg/codec"
	"github.com/tomaslejdung/rovlink/pkg/session"
	"github.com/tomaslejdung/rovlink/pkg/settings"
	"github.com/tomaslejdung/rovlink/pkg/transport"
)

// maxReconnects bounds the retries of a manual reconnect
const maxReconnects = 5

// maxInbound is how many inbound frames the console keeps
const maxInbound = 5

// Command magnitudes selectable with + and -
var magnitudes = []float64{0.25, 0.5, 1, 2}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))

	openStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	urlStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("13"))

	inboundStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	// Keybind styles
	keyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14")) // Cyan for keys

	keySepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")) // Dim separator

	toggleActiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("10")) // Green for active toggles

	toggleInactiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("8")) // Dim for inactive toggles

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("12")).
			Padding(0, 1)
)

// Messages

// connectedMsg carries a freshly opened session
type connectedMsg struct {
	handle   transport.Handle
	attempts []session.Attempt
}

// connectFailedMsg reports that no transport could be opened
type connectFailedMsg struct {
	err      error
	attempts []session.Attempt
}

// inboundMsg is a decoded frame received from the vehicle
type inboundMsg struct {
	msg any
}

// transportErrorMsg is an error reported by the live transport
type transportErrorMsg struct {
	err error
}

// socketClosedMsg reports the socket was closed by the server
type socketClosedMsg struct {
	code   int
	reason string
}

type tickMsg time.Time

type model struct {
	config Config
	ctx    context.Context
	cancel context.CancelFunc

	// Transport callbacks arrive on other goroutines and are fed back
	// into Update through this channel
	events chan tea.Msg

	handle     transport.Handle
	connecting bool
	attempts   []session.Attempt

	magnitude  int // index into magnitudes
	processing bool
	sent       int
	dropped    int
	lastResult string
	lastError  string
	inbound    []string

	width  int
	height int
}

func initialModel(config Config) model {
	ctx, cancel := context.WithCancel(context.Background())
	return model{
		config:     config,
		ctx:        ctx,
		cancel:     cancel,
		events:     make(chan tea.Msg, 64),
		connecting: true,
		magnitude:  2,
		processing: true,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.connect(false),
		waitForEvent(m.events),
		tickCmd(),
		tea.SetWindowTitle("rovlink"),
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitForEvent delivers the next transport event to Update
func waitForEvent(events chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-events
	}
}

// post queues an event without blocking the transport goroutine
func (m model) post(msg tea.Msg) {
	select {
	case m.events <- msg:
	default:
		log.Debugf("console event dropped: %T", msg)
	}
}

// sessionConfig wires the transport callbacks to the console
func (m model) sessionConfig(attempts *[]session.Attempt) session.Config {
	cfg := m.config.Session()
	cfg.OnMessage = func(msg any) { m.post(inboundMsg{msg: msg}) }
	cfg.OnError = func(err error) { m.post(transportErrorMsg{err: err}) }
	cfg.OnClose = func(code int, reason string) { m.post(socketClosedMsg{code: code, reason: reason}) }
	cfg.OnAttempt = func(a session.Attempt) { *attempts = append(*attempts, a) }
	return cfg
}

// connect opens a session in the background. With retry it keeps trying
// with backoff; otherwise a single Create is made.
func (m model) connect(retry bool) tea.Cmd {
	kind := m.config.Kind
	ctx := m.ctx
	return func() tea.Msg {
		var attempts []session.Attempt
		cfg := m.sessionConfig(&attempts)

		var (
			handle transport.Handle
			err    error
		)
		if retry {
			b := backoff.WithMaxRetries(session.DefaultBackOff(), maxReconnects)
			handle, err = session.Reconnect(ctx, cfg, kind, b)
		} else {
			handle, err = session.Create(ctx, cfg, kind)
		}
		if err != nil {
			return connectFailedMsg{err: err, attempts: attempts}
		}
		return connectedMsg{handle: handle, attempts: attempts}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case connectedMsg:
		m.connecting = false
		m.attempts = msg.attempts
		if m.handle != nil {
			m.handle.Close()
		}
		m.handle = msg.handle
		m.lastError = ""
		m.lastResult = fmt.Sprintf("connected over %s", msg.handle.Kind())
		return m, nil

	case connectFailedMsg:
		m.connecting = false
		m.attempts = msg.attempts
		m.lastError = msg.err.Error()
		return m, nil

	case inboundMsg:
		m.inbound = append(m.inbound, describeInbound(msg.msg))
		if len(m.inbound) > maxInbound {
			m.inbound = m.inbound[len(m.inbound)-maxInbound:]
		}
		return m, waitForEvent(m.events)

	case transportErrorMsg:
		m.lastError = msg.err.Error()
		return m, waitForEvent(m.events)

	case socketClosedMsg:
		m.lastError = fmt.Sprintf("socket closed by server (code %d) %s", msg.code, msg.reason)
		return m, waitForEvent(m.events)

	case tickMsg:
		// State changes without an event (e.g. data channel closing); redraw
		return m, tickCmd()
	}

	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	step := magnitudes[m.magnitude]

	switch msg.String() {
	case "q", "ctrl+c":
		m.cleanup()
		return m, tea.Quit

	case "up", "w":
		return m.send(0, step), nil
	case "down", "s":
		return m.send(0, -step), nil
	case "left", "a":
		return m.send(-step, 0), nil
	case "right", "d":
		return m.send(step, 0), nil
	case " ":
		return m.send(0, 0), nil

	case "+", "=":
		if m.magnitude < len(magnitudes)-1 {
			m.magnitude++
		}
		return m, nil
	case "-", "_":
		if m.magnitude > 0 {
			m.magnitude--
		}
		return m, nil

	case "t":
		if m.handle == nil {
			m.lastError = "not connected"
			return m, nil
		}
		if m.handle.Toggle() {
			m.processing = !m.processing
			m.lastResult = "toggle_commands sent"
		} else {
			m.dropped++
			m.lastResult = "toggle_commands not sent (" + m.handle.State().String() + ")"
		}
		return m, nil

	case "k":
		return m.switchKind(), nil

	case "r":
		if m.connecting {
			return m, nil
		}
		if m.handle != nil {
			m.handle.Close()
			m.handle = nil
		}
		m.connecting = true
		m.lastError = ""
		m.lastResult = "reconnecting"
		return m, m.connect(true)
	}

	return m, nil
}

func (m model) send(x, y float64) model {
	if m.handle == nil {
		m.lastError = "not connected"
		return m
	}
	if m.handle.Send(x, y) {
		m.sent++
		m.lastResult = fmt.Sprintf("sent (%g, %g)", x, y)
	} else {
		m.dropped++
		m.lastResult = fmt.Sprintf("not sent (%g, %g), transport %s", x, y, m.handle.State())
	}
	return m
}

// switchKind flips the preferred transport and persists it. The live
// session is kept; the choice applies from the next reconnect.
func (m model) switchKind() model {
	if m.config.Kind == transport.KindPeer {
		m.config.Kind = transport.KindSocket
	} else {
		m.config.Kind = transport.KindPeer
	}

	s, err := settings.Load()
	if err != nil {
		log.Warnf("failed to load settings: %v", err)
	}
	s.Kind = m.config.Kind.String()
	if err := settings.Save(s); err != nil {
		m.lastError = "failed to save settings: " + err.Error()
		return m
	}
	m.lastResult = fmt.Sprintf("preferred transport %s (press r to apply)", m.config.Kind)
	return m
}

func (m *model) cleanup() {
	m.cancel()
	if m.handle != nil {
		m.handle.Close()
	}
}

func describeInbound(msg any) string {
	switch v := msg.(type) {
	case codec.Command:
		return fmt.Sprintf("command (%g, %g)", v.X, v.Y)
	case codec.Control:
		return v.Type
	case string:
		return truncate(v, 60)
	default:
		return truncate(fmt.Sprintf("%v", v), 60)
	}
}

func (m model) View() string {
	var b strings.Builder

	// Title
	b.WriteString(titleStyle.Render("rovlink"))
	b.WriteString(dimStyle.Render(" - vehicle command link"))
	b.WriteString("\n\n")

	b.WriteString(boxStyle.Render(m.renderStatus()))
	b.WriteString("\n")

	if len(m.inbound) > 0 {
		b.WriteString("\n")
		b.WriteString(m.renderInbound())
	}

	if m.lastResult != "" {
		b.WriteString("\n")
		b.WriteString(statusStyle.Render(m.lastResult))
		b.WriteString("\n")
	}

	// Error message
	if m.lastError != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("Error: " + m.lastError))
		b.WriteString("\n")
	}

	// Help
	b.WriteString("\n")
	b.WriteString(m.renderHelp())

	return b.String()
}

func (m model) renderStatus() string {
	var b strings.Builder

	switch {
	case m.connecting:
		b.WriteString(statusStyle.Render("Connecting..."))
	case m.handle == nil:
		b.WriteString(errorStyle.Render("Disconnected"))
	default:
		state := m.handle.State()
		label := fmt.Sprintf("%s over %s", state, m.handle.Kind())
		if state == transport.StateOpen {
			b.WriteString(openStyle.Render(label))
		} else {
			b.WriteString(errorStyle.Render(label))
		}
	}
	b.WriteString("\n")

	b.WriteString(dimStyle.Render("offer  ") + urlStyle.Render(m.config.OfferURL) + "\n")
	b.WriteString(dimStyle.Render("socket ") + urlStyle.Render(m.config.SocketURL) + "\n")
	b.WriteString(dimStyle.Render("prefer ") + m.config.Kind.String() + "\n")

	for _, a := range m.attempts {
		if a.OK() {
			b.WriteString(dimStyle.Render("  ✓ ") + a.String() + "\n")
		} else {
			b.WriteString(errorStyle.Render("  ✗ ") + truncate(a.String(), 70) + "\n")
		}
	}

	b.WriteString(fmt.Sprintf("sent %d  not sent %d  magnitude %g", m.sent, m.dropped, magnitudes[m.magnitude]))
	return b.String()
}

func (m model) renderInbound() string {
	var b strings.Builder
	b.WriteString(dimStyle.Render("From vehicle:"))
	b.WriteString("\n")
	for _, line := range m.inbound {
		b.WriteString(inboundStyle.Render("  " + line))
		b.WriteString("\n")
	}
	return b.String()
}

func (m model) renderHelp() string {
	var b strings.Builder
	sep := keySepStyle.Render("  ")

	var actions []string
	actions = append(actions, keyStyle.Render("↑↓←→/wasd")+helpStyle.Render(" drive"))
	actions = append(actions, keyStyle.Render("space")+helpStyle.Render(" stop"))
	actions = append(actions, keyStyle.Render("+/-")+helpStyle.Render(" magnitude"))
	if !m.connecting {
		actions = append(actions, keyStyle.Render("r")+helpStyle.Render(" reconnect"))
	}
	actions = append(actions, keyStyle.Render("q")+helpStyle.Render(" quit"))
	b.WriteString(strings.Join(actions, sep))

	toggles := []string{
		m.renderToggle("t", "commands", m.processing),
		m.renderToggle("k", "peer", m.config.Kind == transport.KindPeer),
	}
	b.WriteString("\n\n")
	b.WriteString(strings.Join(toggles, "   "))

	return b.String()
}

// renderToggle renders a toggle keybind with active/inactive indicator
func (m model) renderToggle(key, label string, active bool) string {
	if active {
		return toggleActiveStyle.Render("● "+key) + " " + toggleActiveStyle.Render(label)
	}
	return toggleInactiveStyle.Render("○ "+key) + " " + toggleInactiveStyle.Render(label)
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

// RunConsole starts the console application
func RunConsole(config Config) error {
	m := initialModel(config)
	p := tea.NewProgram(m, tea.WithAltScreen())

	final, err := p.Run()
	if fm, ok := final.(model); ok {
		fm.cleanup()
	}
	return err
}
