package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/muesli/reflow/wordwrap"

	"github.com/aurasign/aura-core/core/protocol"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	toneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("156"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("111"))
	hintStyle    = lipgloss.NewStyle().Faint(true)
)

// fixtureBatches is a tiny canned capture: two append batches, enough to
// drive one full turn through the pipeline.
var fixtureBatches = [][][]float64{
	{{0.1, 0.2, 0.0, 1.0}},
	{{0.3, 0.4, 0.0, 1.0}},
}

type inboundFrameMsg struct{ raw []byte }

type connectionLostMsg struct{ err error }

type model struct {
	gatewayURL string
	conn       *websocket.Conn

	input    textinput.Model
	viewport viewport.Model
	lines    []string
	ready    bool
	err      error
}

func newModel(gatewayURL string) model {
	input := textinput.New()
	input.Placeholder = "tone (e.g. Formal) — enter sends a turn"
	input.Focus()

	return model{gatewayURL: gatewayURL, input: input}
}

func (m model) Init() tea.Cmd {
	return m.connect
}

func (m model) connect() tea.Msg {
	conn, _, err := websocket.DefaultDialer.Dial(m.gatewayURL, nil)
	if err != nil {
		return connectionLostMsg{err: fmt.Errorf("failed to dial gateway: %w", err)}
	}
	return conn
}

func readFrame(conn *websocket.Conn) tea.Cmd {
	return func() tea.Msg {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return connectionLostMsg{err: err}
		}
		return inboundFrameMsg{raw: raw}
	}
}

func (m model) sendTurn(tone string) tea.Cmd {
	conn := m.conn
	return func() tea.Msg {
		for _, batch := range fixtureBatches {
			frame := protocol.AppendFrame{Type: protocol.FrameTypeAppend, Sequence: batch}
			if err := writeJSON(conn, frame); err != nil {
				return connectionLostMsg{err: err}
			}
		}
		end := protocol.EndOfTurnFrame{Type: protocol.FrameTypeEndOfTurn, Tone: tone}
		if err := writeJSON(conn, end); err != nil {
			return connectionLostMsg{err: err}
		}
		return nil
	}
}

func writeJSON(conn *websocket.Conn, frame any) error {
	raw, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, raw)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case *websocket.Conn:
		m.conn = msg
		m.appendLine(hintStyle.Render("connected to " + m.gatewayURL))
		return m, readFrame(m.conn)

	case connectionLostMsg:
		m.err = msg.err
		m.appendLine(errorStyle.Render(fmt.Sprintf("connection lost: %v", msg.err)))
		return m, nil

	case inboundFrameMsg:
		m.appendLine(renderFrame(msg.raw))
		return m, readFrame(m.conn)

	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-4)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 4
		}
		m.refreshViewport()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			if m.conn != nil {
				_ = m.conn.Close()
			}
			return m, tea.Quit
		case tea.KeyEnter:
			if m.conn == nil {
				return m, nil
			}
			tone := strings.TrimSpace(m.input.Value())
			if tone == "" {
				tone = "Casual"
			}
			m.input.Reset()
			m.appendLine(hintStyle.Render("turn sent with tone " + tone))
			return m, m.sendTurn(tone)
		}
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// renderFrame distinguishes the gateway's outbound frame kinds by their
// fields; the wire has no type tag on outbound frames.
func renderFrame(raw []byte) string {
	var frame struct {
		AudioData        string `json:"audioData"`
		Sentence         string `json:"sentence"`
		ConversationTone string `json:"conversationTone"`
		FallbackText     string `json:"fallbackText"`
		Error            string `json:"error"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		return errorStyle.Render("unreadable frame: " + string(raw))
	}

	switch {
	case frame.Error != "":
		return errorStyle.Render("error: " + frame.Error)
	case frame.FallbackText != "":
		return errorStyle.Render(frame.FallbackText)
	case frame.AudioData != "":
		return successStyle.Render(fmt.Sprintf("%q (%d bytes of audio)", frame.Sentence, len(frame.AudioData)))
	case frame.ConversationTone != "":
		return toneStyle.Render("tone: " + frame.ConversationTone)
	default:
		return string(raw)
	}
}

func (m *model) appendLine(line string) {
	m.lines = append(m.lines, line)
	m.refreshViewport()
}

func (m *model) refreshViewport() {
	if !m.ready {
		return
	}
	content := strings.Join(m.lines, "\n")
	m.viewport.SetContent(wordwrap.String(content, m.viewport.Width))
	m.viewport.GotoBottom()
}

func (m model) View() string {
	if !m.ready {
		return "starting..."
	}
	return fmt.Sprintf("%s\n%s\n%s",
		titleStyle.Render("aurasign"),
		m.viewport.View(),
		m.input.View(),
	)
}
