// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/parley/internal/client"
	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/reconcile"
)

// =============================================================================
// STATE
// =============================================================================

// State represents the current state of the chat view.
type State int

const (
	StateReady     State = iota // Ready for input
	StateStreaming              // Receiving a group turn
)

// =============================================================================
// MESSAGES
// =============================================================================

// turnEventMsg carries one typed stream event into the update loop.
type turnEventMsg struct {
	event client.TurnEvent
}

// streamClosedMsg signals the turn stream has ended.
type streamClosedMsg struct {
	err error
}

// advisoryMsg carries a non-fatal stream warning (liveness, framing).
type advisoryMsg struct {
	err error
}

// reconciledMsg carries the merged message list after a turn.
type reconciledMsg struct {
	msgs []*model.Message
}

// =============================================================================
// MODEL
// =============================================================================

// Model is the Bubble Tea model for a parley session.
type Model struct {
	state State

	// Dimensions
	width  int
	height int

	// Conversation state
	conv      *model.Conversation
	streaming map[string]*model.Message // in-flight persona replies by ID

	// Collaborators
	client    *client.Client
	engine    *reconcile.Engine
	sessionID string

	// Turn stream plumbing: events cross from the stream goroutine into
	// the update loop through this channel.
	events chan tea.Msg

	// UI components
	viewport viewport.Model
	input    textinput.Model
	spin     spinner.Model

	notice string
	ready  bool
}

// NewModel creates the chat model for one session.
func NewModel(cl *client.Client, sessionID string) Model {
	input := textinput.New()
	input.Placeholder = "Ask the group..."
	input.Prompt = inputPromptStyle.Render("> ")
	input.Focus()
	input.CharLimit = 4000

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	return Model{
		state:     StateReady,
		conv:      model.NewConversation(sessionID),
		streaming: make(map[string]*model.Message),
		client:    cl,
		engine:    reconcile.NewEngine(cl),
		sessionID: sessionID,
		events:    make(chan tea.Msg, 64),
		input:     input,
		spin:      spin,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// =============================================================================
// COMMANDS
// =============================================================================

// waitForEvent pulls the next stream message into the update loop.
func (m Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		return <-m.events
	}
}

// startTurn launches the turn stream in a goroutine feeding m.events.
func (m Model) startTurn(content string) tea.Cmd {
	events := m.events
	cl := m.client
	sessionID := m.sessionID

	go func() {
		err := cl.StreamTurn(context.Background(), sessionID, content, client.TurnCallbacks{
			OnTurnEvent: func(ev client.TurnEvent) {
				events <- turnEventMsg{event: ev}
			},
			OnError: func(err error) {
				events <- advisoryMsg{err: err}
			},
		})
		events <- streamClosedMsg{err: err}
	}()

	return m.waitForEvent()
}

// reconcileTurn merges the durable log into the local view.
func (m Model) reconcileTurn() tea.Cmd {
	engine := m.engine
	sessionID := m.sessionID
	local := m.conv.Messages

	return func() tea.Msg {
		merged := engine.Sync(context.Background(), sessionID, local)
		return reconciledMsg{msgs: merged}
	}
}

// =============================================================================
// UPDATE
// =============================================================================

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.resize(msg), nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submitInput()
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case turnEventMsg:
		m.applyTurnEvent(msg.event)
		m.refreshViewport()
		return m, m.waitForEvent()

	case advisoryMsg:
		m.notice = msg.err.Error()
		return m, m.waitForEvent()

	case streamClosedMsg:
		if msg.err != nil {
			m.notice = msg.err.Error()
		}
		// Drop any replies still marked streaming; reconciliation will
		// restore whatever actually became durable.
		m.dropUnfinishedStreams()
		return m, m.reconcileTurn()

	case reconciledMsg:
		m.conv.Replace(msg.msgs)
		m.state = StateReady
		m.input.Focus()
		m.refreshViewport()
		return m, textinput.Blink
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submitInput sends the typed content as a group turn.
func (m Model) submitInput() (tea.Model, tea.Cmd) {
	if m.state != StateReady {
		return m, nil
	}
	content := strings.TrimSpace(m.input.Value())
	if content == "" {
		return m, nil
	}

	m.conv.AddUserMessage(content)
	m.input.Reset()
	m.input.Blur()
	m.state = StateStreaming
	m.notice = ""
	m.refreshViewport()

	return m, tea.Batch(m.startTurn(content), m.spin.Tick)
}

// applyTurnEvent folds one stream event into the conversation.
func (m *Model) applyTurnEvent(ev client.TurnEvent) {
	switch ev.Kind {
	case client.KindChunk:
		reply, ok := m.streaming[ev.PersonaID]
		if !ok {
			reply = model.NewPersonaMessage(ev.PersonaID, ev.PersonaName)
			m.streaming[ev.PersonaID] = reply
			m.conv.AddMessage(reply)
		}
		reply.AppendToken(ev.Delta)

	case client.KindPersonaDone:
		// Swap the locally accumulated reply for the durable message so
		// IDs and timestamps match the server's record.
		if local, ok := m.streaming[ev.PersonaID]; ok {
			delete(m.streaming, ev.PersonaID)
			m.replaceMessage(local, ev.Message)
		} else {
			m.conv.AddMessage(ev.Message)
		}

	case client.KindError:
		m.notice = fmt.Sprintf("%s failed: %s", ev.PersonaID, ev.Err)

	case client.KindDone:
		// Stream closure handles state transition.
	}
}

// replaceMessage swaps local for durable in place, preserving position.
func (m *Model) replaceMessage(local, durable *model.Message) {
	for i, msg := range m.conv.Messages {
		if msg == local {
			m.conv.Messages[i] = durable
			return
		}
	}
	m.conv.AddMessage(durable)
}

// dropUnfinishedStreams removes streaming placeholders that never saw a
// persona_done.
func (m *Model) dropUnfinishedStreams() {
	if len(m.streaming) == 0 {
		return
	}
	kept := m.conv.Messages[:0]
	for _, msg := range m.conv.Messages {
		if msg.IsStreaming {
			continue
		}
		kept = append(kept, msg)
	}
	m.conv.Messages = kept
	m.streaming = make(map[string]*model.Message)
}

// resize lays the components out for a new terminal size.
func (m Model) resize(msg tea.WindowSizeMsg) Model {
	m.width = msg.Width
	m.height = msg.Height

	viewportHeight := msg.Height - 4 // header, input, status
	if viewportHeight < 3 {
		viewportHeight = 3
	}
	if !m.ready {
		m.viewport = viewport.New(msg.Width, viewportHeight)
		m.ready = true
	} else {
		m.viewport.Width = msg.Width
		m.viewport.Height = viewportHeight
	}
	m.input.Width = msg.Width - 4
	m.refreshViewport()
	return m
}

// =============================================================================
// VIEW
// =============================================================================

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "starting..."
	}

	var b strings.Builder
	b.WriteString(m.headerView())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.statusView())
	return b.String()
}

// headerView renders the title bar padded to the full width.
func (m Model) headerView() string {
	title := fmt.Sprintf("parley · %s", m.sessionID)
	pad := m.width - runewidth.StringWidth(title) - 2
	if pad < 0 {
		pad = 0
	}
	return headerStyle.Render(title + strings.Repeat(" ", pad))
}

// statusView renders the bottom status line.
func (m Model) statusView() string {
	if m.notice != "" {
		return errorStyle.Render("! " + m.notice)
	}
	if m.state == StateStreaming {
		return statusStyle.Render(m.spin.View() + " personas are answering...")
	}
	return statusStyle.Render("enter to send · esc to quit")
}

// refreshViewport re-renders the conversation and follows the tail.
func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(renderConversation(m.conv, m.viewport.Width))
	m.viewport.GotoBottom()
}

// renderConversation renders all messages as wrapped, labelled blocks.
func renderConversation(conv *model.Conversation, width int) string {
	if conv.Len() == 0 {
		return statusStyle.Render("No messages yet. Say something to wake the personas.")
	}

	blocks := make([]string, 0, conv.Len())
	for _, msg := range conv.Messages {
		blocks = append(blocks, renderMessage(msg, width))
	}
	return strings.Join(blocks, "\n\n")
}

// renderMessage renders one message with its author label.
func renderMessage(msg *model.Message, width int) string {
	var label, body string
	switch {
	case msg.Role == model.RoleUser:
		label = userLabelStyle.Render("You")
		body = userTextStyle.Render(msg.GetDisplayContent())
	case msg.PersonaID != "":
		name := msg.PersonaName
		if name == "" {
			name = msg.PersonaID
		}
		label = personaLabelStyle(msg.PersonaID).Render(name)
		body = personaTextStyle.Render(msg.GetDisplayContent())
	default:
		label = userLabelStyle.Render(msg.Role.DisplayName())
		body = personaTextStyle.Render(msg.GetDisplayContent())
	}

	if msg.IsStreaming {
		body += streamingMarkStyle.Render(" ▌")
	}

	block := label + "\n" + body
	if width > 0 {
		block = lipgloss.NewStyle().Width(width).Render(block)
	}
	return block
}
