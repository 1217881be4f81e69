// FlyCharts terminal monitor
// Subscribes to the telemetry server's WebSocket feed and renders the
// live aircraft state in the terminal.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"

	"github.com/flycharts/flycharts/internal/session"
)

var serverURL = flag.String("server", "ws://localhost:5500/ws", "Telemetry server WebSocket URL")

const reconnectDelay = 3 * time.Second

// envelope mirrors the wire format pushed by the server.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type connectedMsg struct {
	conn *websocket.Conn
}

type disconnectedMsg struct {
	err error
}

type eventMsg envelope

type reconnectMsg struct{}

type model struct {
	url       string
	events    chan tea.Msg
	conn      *websocket.Conn
	connected bool
	status    *session.Status
	position  *session.Snapshot
	updates   int
	lastSeen  time.Time
	err       error
}

// connect dials the server and starts a reader goroutine that feeds
// decoded frames into the events channel until the link drops.
func connect(url string, events chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			return disconnectedMsg{err: err}
		}

		go func() {
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					events <- disconnectedMsg{err: err}
					return
				}
				var env envelope
				if err := json.Unmarshal(data, &env); err != nil {
					continue
				}
				events <- eventMsg(env)
			}
		}()

		return connectedMsg{conn: conn}
	}
}

// waitForEvent hands the next reader-goroutine message to the program.
func waitForEvent(events chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-events
	}
}

func scheduleReconnect() tea.Cmd {
	return tea.Tick(reconnectDelay, func(time.Time) tea.Msg {
		return reconnectMsg{}
	})
}

func (m model) Init() tea.Cmd {
	return connect(m.url, m.events)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.conn != nil {
				m.conn.Close()
			}
			return m, tea.Quit
		case "r":
			// Ask the server for a fresh snapshot
			if m.conn != nil {
				m.conn.WriteJSON(envelope{Event: "request_position"})
			}
		case "s":
			if m.conn != nil {
				m.conn.WriteJSON(envelope{Event: "request_status"})
			}
		}

	case connectedMsg:
		m.conn = msg.conn
		m.connected = true
		m.err = nil
		return m, waitForEvent(m.events)

	case disconnectedMsg:
		m.connected = false
		m.conn = nil
		m.err = msg.err
		return m, scheduleReconnect()

	case reconnectMsg:
		return m, connect(m.url, m.events)

	case eventMsg:
		switch msg.Event {
		case session.EventStatus:
			var status session.Status
			if err := json.Unmarshal(msg.Data, &status); err == nil {
				m.status = &status
				if status.LastPosition != nil {
					m.position = status.LastPosition
				}
			}
		case session.EventPositionUpdate:
			var snap session.Snapshot
			if err := json.Unmarshal(msg.Data, &snap); err == nil {
				m.position = &snap
				m.updates++
				m.lastSeen = time.Now()
			}
		}
		return m, waitForEvent(m.events)
	}

	return m, nil
}

func (m model) View() string {
	var s strings.Builder

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("86")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)
	labelStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	valueStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	okStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	badStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	s.WriteString(titleStyle.Render("FLYCHARTS TELEMETRY MONITOR"))
	s.WriteString("\n\n")

	// Link to the telemetry server
	s.WriteString(labelStyle.Render("Server:     "))
	if m.connected {
		s.WriteString(okStyle.Render("connected"))
		s.WriteString(dimStyle.Render("  " + m.url))
	} else {
		s.WriteString(badStyle.Render("disconnected"))
		if m.err != nil {
			s.WriteString(dimStyle.Render(fmt.Sprintf("  (%v, retrying...)", m.err)))
		}
	}
	s.WriteString("\n")

	// Simulator link as reported by the server
	s.WriteString(labelStyle.Render("Simulator:  "))
	switch {
	case m.status == nil:
		s.WriteString(dimStyle.Render("unknown"))
	case m.status.Connected:
		s.WriteString(okStyle.Render("connected"))
	case !m.status.SimConnectAvailable:
		s.WriteString(badStyle.Render("unavailable"))
	default:
		s.WriteString(badStyle.Render("disconnected"))
	}
	s.WriteString("\n\n")

	if m.position != nil {
		p := m.position
		title := p.AircraftTitle
		if p.ATCID != "" {
			title = fmt.Sprintf("%s (%s)", title, p.ATCID)
		}
		s.WriteString(labelStyle.Render("Aircraft:   "))
		s.WriteString(valueStyle.Render(title))
		s.WriteString("\n\n")

		s.WriteString(valueStyle.Render(fmt.Sprintf("  Position    %9.5f°, %10.5f°\n", p.Latitude, p.Longitude)))
		s.WriteString(valueStyle.Render(fmt.Sprintf("  Altitude    %8.0f ft\n", p.Altitude)))
		s.WriteString(valueStyle.Render(fmt.Sprintf("  Heading     %8.0f°\n", p.Heading)))
		s.WriteString(valueStyle.Render(fmt.Sprintf("  Airspeed    %8.0f kts\n", p.Airspeed)))
		s.WriteString(valueStyle.Render(fmt.Sprintf("  Grnd speed  %8.0f kts\n", p.GroundSpeed)))
		s.WriteString(valueStyle.Render(fmt.Sprintf("  Vert speed  %8.0f fpm\n", p.VerticalSpeed)))
		s.WriteString("\n")
		s.WriteString(dimStyle.Render(fmt.Sprintf("  %d updates", m.updates)))
		if !m.lastSeen.IsZero() {
			s.WriteString(dimStyle.Render(fmt.Sprintf("  (last %s)", m.lastSeen.Format("15:04:05"))))
		}
		s.WriteString("\n")
	} else {
		s.WriteString(dimStyle.Render("  Waiting for position data..."))
		s.WriteString("\n")
	}

	s.WriteString("\n")
	s.WriteString(dimStyle.Render("R: Refresh position  S: Refresh status  Q: Quit"))
	s.WriteString("\n")

	return s.String()
}

func main() {
	flag.Parse()

	m := model{
		url:    *serverURL,
		events: make(chan tea.Msg, 32),
	}

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
