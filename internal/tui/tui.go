// Package tui implements the "invisibrow serve --watch" diagnostic console: a
// read-only tail of the EventBus (log lines, verification prompts, stats
// updates). It is not the product UI spec.md §1 pushes out of scope as an
// external collaborator — it's an operator console shipped with the core,
// the same way the teacher ships a terminal renderer for its own CLI.
package tui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/jason9075/invisibrow/internal/eventbus"
)

var (
	styleInfo  = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	styleWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleError = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	styleVerif = lipgloss.NewStyle().Foreground(lipgloss.Color("117")).Bold(true)
	styleStats = lipgloss.NewStyle().Foreground(lipgloss.Color("108"))
	styleTitle = lipgloss.NewStyle().Bold(true).Padding(0, 1).
			Background(lipgloss.Color("62")).Foreground(lipgloss.Color("230"))
)

// Run starts the watch console against out. When out is a real terminal
// with color support it runs an interactive Bubble Tea program; otherwise
// (piped output, a dumb terminal, or no color support) it falls back to a
// plain line-by-line tail so the command stays useful when redirected.
func Run(ctx context.Context, bus *eventbus.Bus, out io.Writer) error {
	f, ok := out.(*os.File)
	isTTY := ok && term.IsTerminal(int(f.Fd()))
	hasColor := termenv.NewOutput(out).ColorProfile() != termenv.Ascii
	if isTTY && hasColor {
		return runInteractive(ctx, bus)
	}
	return runPlain(ctx, bus, out)
}

func runPlain(ctx context.Context, bus *eventbus.Bus, out io.Writer) error {
	w := bufio.NewWriter(out)
	defer w.Flush()

	logSub := bus.Subscribe(eventbus.SignalLog, nil)
	verifSub := bus.Subscribe(eventbus.SignalVerificationNeeded, nil)
	resolvedSub := bus.Subscribe(eventbus.SignalVerificationResolved, nil)
	statsSub := bus.Subscribe(eventbus.SignalSessionStatsUpdated, nil)
	defer logSub.Close()
	defer verifSub.Close()
	defer resolvedSub.Close()
	defer statsSub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload := <-logSub.C():
			p, _ := payload.(eventbus.LogPayload)
			fmt.Fprintf(w, "[%s] %s\n", p.Level, p.Message)
			w.Flush()
		case payload := <-verifSub.C():
			p, _ := payload.(eventbus.VerificationNeededPayload)
			fmt.Fprintf(w, "[verification] session=%s url=%s reason=%s\n", p.SessionID, p.URL, p.Reason)
			w.Flush()
		case payload := <-resolvedSub.C():
			p, _ := payload.(eventbus.VerificationResolvedPayload)
			fmt.Fprintf(w, "[verification-resolved] session=%s\n", p.SessionID)
			w.Flush()
		case payload := <-statsSub.C():
			p, _ := payload.(eventbus.SessionStatsUpdatedPayload)
			fmt.Fprintf(w, "[stats] session=%s +%d tokens +$%.4f\n", p.SessionID, p.DeltaTokens, p.DeltaCost)
			w.Flush()
		}
	}
}

func runInteractive(ctx context.Context, bus *eventbus.Bus) error {
	m := newModel(bus)
	p := tea.NewProgram(m, tea.WithContext(ctx), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// tailLine is one rendered line in the scrollback, stamped with its arrival time.
type tailLine struct {
	at   time.Time
	text string
}

type model struct {
	bus      *eventbus.Bus
	vp       viewport.Model
	lines    []tailLine
	renderer *glamour.TermRenderer
	subs     []*eventbus.Subscription
	events   chan tea.Msg
	ready    bool
}

type busMsg struct {
	signal  eventbus.Signal
	payload any
}

func newModel(bus *eventbus.Bus) *model {
	renderer, _ := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(100),
	)
	return &model{bus: bus, renderer: renderer, events: make(chan tea.Msg, 256)}
}

func (m *model) Init() tea.Cmd {
	m.subscribe(eventbus.SignalLog)
	m.subscribe(eventbus.SignalVerificationNeeded)
	m.subscribe(eventbus.SignalVerificationResolved)
	m.subscribe(eventbus.SignalSessionStatsUpdated)
	return m.waitForEvent
}

func (m *model) subscribe(signal eventbus.Signal) {
	sub := m.bus.Subscribe(signal, nil)
	m.subs = append(m.subs, sub)
	go func() {
		for payload := range sub.C() {
			m.events <- busMsg{signal: signal, payload: payload}
		}
	}()
}

func (m *model) waitForEvent() tea.Msg {
	return <-m.events
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.vp = viewport.New(msg.Width, msg.Height-2)
			m.ready = true
		} else {
			m.vp.Width = msg.Width
			m.vp.Height = msg.Height - 2
		}
		m.refresh()
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.closeSubs()
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.vp, cmd = m.vp.Update(msg)
		return m, cmd
	case busMsg:
		m.appendLine(msg)
		m.refresh()
		return m, m.waitForEvent
	}
	return m, nil
}

func (m *model) closeSubs() {
	for _, s := range m.subs {
		s.Close()
	}
}

func (m *model) appendLine(msg busMsg) {
	text := formatSignal(msg, m.renderer)
	m.lines = append(m.lines, tailLine{at: time.Now(), text: text})
	if len(m.lines) > 2000 {
		m.lines = m.lines[len(m.lines)-2000:]
	}
}

func (m *model) refresh() {
	if !m.ready {
		return
	}
	var b strings.Builder
	for _, l := range m.lines {
		b.WriteString(l.at.Format("15:04:05") + " " + l.text + "\n")
	}
	m.vp.SetContent(b.String())
	m.vp.GotoBottom()
}

func formatSignal(msg busMsg, renderer *glamour.TermRenderer) string {
	switch p := msg.payload.(type) {
	case eventbus.LogPayload:
		switch p.Level {
		case eventbus.LevelWarn:
			return styleWarn.Render("[log] " + p.Message)
		case eventbus.LevelError:
			return styleError.Render("[log] " + p.Message)
		default:
			return styleInfo.Render("[log] " + p.Message)
		}
	case eventbus.VerificationNeededPayload:
		body := fmt.Sprintf("**Verification needed** — session `%s`\n\n- url: %s\n- reason: %s", p.SessionID, p.URL, p.Reason)
		if renderer != nil {
			if rendered, err := renderer.Render(body); err == nil {
				return strings.TrimRight(rendered, "\n")
			}
		}
		return styleVerif.Render(body)
	case eventbus.VerificationResolvedPayload:
		return styleVerif.Render(fmt.Sprintf("[verification resolved] session=%s", p.SessionID))
	case eventbus.SessionStatsUpdatedPayload:
		return styleStats.Render(fmt.Sprintf("[stats] session=%s +%d tokens +$%.4f", p.SessionID, p.DeltaTokens, p.DeltaCost))
	default:
		return fmt.Sprintf("[%s] %+v", msg.signal, msg.payload)
	}
}

func (m *model) View() string {
	if !m.ready {
		return "initializing…"
	}
	header := styleTitle.Render("invisibrow watch — press q to quit")
	return header + "\n" + m.vp.View()
}
