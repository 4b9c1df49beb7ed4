// Package tui is the Bubble Tea front end: a tab bar over the
// conversation transcript, a text input, and a status bar. It renders
// from store snapshots and refreshes on engine update events.
package tui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/chenadu5299/binder/internal/chat"
	"github.com/chenadu5299/binder/internal/config"
	"github.com/chenadu5299/binder/internal/log"
	"github.com/chenadu5299/binder/internal/pubsub"
)

const (
	inputHeight     = 3
	statusNoteTTL   = 5 * time.Second
	spinnerInterval = 80 * time.Millisecond
)

// Options configures the TUI model.
type Options struct {
	Engine        *chat.Engine
	UI            config.UIConfig
	WorkspaceName string
	// WorkspaceChanges, when set, surfaces debounced file change
	// signals from the workspace watcher in the status bar.
	WorkspaceChanges <-chan struct{}
}

// Model holds the TUI state.
type Model struct {
	engine *chat.Engine
	ui     config.UIConfig

	ctx      context.Context
	cancel   context.CancelFunc
	listener *pubsub.ContinuousListener[chat.Update]

	input    textarea.Model
	viewport viewport.Model

	width  int
	height int
	ready  bool

	spinnerFrame  int
	workspaceName string
	wsChanges     <-chan struct{}
	statusNote    string
	statusNoteAt  time.Time
}

type spinnerTickMsg struct{}

type workspaceChangedMsg struct{}

// New creates the TUI model and subscribes it to engine updates.
func New(opts Options) *Model {
	input := textarea.New()
	input.Placeholder = "输入消息，Enter 发送，Alt+Enter 换行"
	input.ShowLineNumbers = false
	input.SetHeight(inputHeight)
	input.Prompt = "┃ "
	input.CharLimit = 0
	input.Focus()

	ctx, cancel := context.WithCancel(context.Background())

	return &Model{
		engine:        opts.Engine,
		ui:            opts.UI,
		ctx:           ctx,
		cancel:        cancel,
		listener:      pubsub.NewContinuousListener(ctx, opts.Engine.Updates()),
		input:         input,
		viewport:      viewport.New(0, 0),
		workspaceName: opts.WorkspaceName,
		wsChanges:     opts.WorkspaceChanges,
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.listener.Listen(),
		textarea.Blink,
		m.watchWorkspace(),
		spinnerTick(),
	)
}

func spinnerTick() tea.Cmd {
	return tea.Tick(spinnerInterval, func(time.Time) tea.Msg {
		return spinnerTickMsg{}
	})
}

// watchWorkspace waits for one debounced workspace change signal.
func (m *Model) watchWorkspace() tea.Cmd {
	if m.wsChanges == nil {
		return nil
	}
	return func() tea.Msg {
		select {
		case <-m.ctx.Done():
			return nil
		case _, ok := <-m.wsChanges:
			if !ok {
				return nil
			}
			return workspaceChangedMsg{}
		}
	}
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-inputHeight-3, 1)
		m.input.SetWidth(msg.Width - 2)
		m.ready = true
		m.refresh(true)
		return m, nil

	case spinnerTickMsg:
		if m.activeTabLoading() {
			m.spinnerFrame = (m.spinnerFrame + 1) % len(spinnerFrames)
			m.refresh(false)
		}
		return m, spinnerTick()

	case pubsub.Event[chat.Update]:
		if msg.Type == chat.TabUpdatedEvent {
			m.refresh(msg.Payload.TabID == m.engine.Store().ActiveTabID())
		}
		return m, m.listener.Listen()

	case workspaceChangedMsg:
		m.setStatusNote("工作区文件已变更")
		return m, m.watchWorkspace()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		m.cancel()
		return m, tea.Quit

	case tea.KeyCtrlN:
		m.engine.Store().CreateTab(chat.DefaultTabTitle)
		m.refresh(true)
		return m, nil

	case tea.KeyCtrlW:
		m.closeActiveTab()
		return m, nil

	case tea.KeyTab:
		m.cycleTab(1)
		return m, nil

	case tea.KeyShiftTab:
		m.cycleTab(-1)
		return m, nil

	case tea.KeyCtrlR:
		return m, m.regenerateCmd()

	case tea.KeyPgUp:
		m.viewport.HalfViewUp()
		return m, nil

	case tea.KeyPgDown:
		m.viewport.HalfViewDown()
		return m, nil

	case tea.KeyEnter:
		// Alt+Enter inserts a newline, plain Enter sends.
		if msg.Alt {
			m.input.InsertString("\n")
			return m, nil
		}
		content := strings.TrimSpace(m.input.Value())
		if content == "" {
			return m, nil
		}
		m.input.Reset()
		return m, m.sendCmd(content)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m *Model) View() string {
	if !m.ready {
		return ""
	}

	store := m.engine.Store()
	bar := renderTabBar(store.Tabs(), store.ActiveTabID(), m.width)

	sections := []string{
		bar,
		m.viewport.View(),
		m.input.View(),
	}
	if m.ui.ShowStatusBar {
		sections = append(sections, m.renderStatusBar())
	}
	return strings.Join(sections, "\n")
}

func (m *Model) renderStatusBar() string {
	left := m.workspaceName
	if note := m.currentStatusNote(); note != "" {
		if left != "" {
			left += "  "
		}
		left += statusNoteStyle.Render(note)
	}
	help := "Ctrl+N 新标签 · Ctrl+W 关闭 · Tab 切换 · Ctrl+R 重新生成"
	if left == "" {
		return statusBarStyle.Render(help)
	}
	return left + "  " + statusBarStyle.Render(help)
}

// sendCmd dispatches the message off the update loop; the synchronous
// part of SendChatStream includes connection setup.
func (m *Model) sendCmd(content string) tea.Cmd {
	return func() tea.Msg {
		m.engine.SendMessage(m.ctx, "", content)
		return nil
	}
}

func (m *Model) regenerateCmd() tea.Cmd {
	return func() tea.Msg {
		m.engine.Regenerate(m.ctx, "")
		return nil
	}
}

func (m *Model) closeActiveTab() {
	store := m.engine.Store()
	id := store.ActiveTabID()
	if id == "" {
		return
	}
	m.engine.CloseTab(id)
	log.Debug(log.CatUI, "tab closed", "tab", id)
	m.refresh(true)
}

func (m *Model) cycleTab(delta int) {
	store := m.engine.Store()
	ids := store.TabIDs()
	if len(ids) < 2 {
		return
	}
	active := store.ActiveTabID()
	idx := 0
	for i, id := range ids {
		if id == active {
			idx = i
			break
		}
	}
	next := (idx + delta + len(ids)) % len(ids)
	store.SetActiveTab(ids[next])
	m.refresh(true)
}

// refresh re-renders the active tab into the viewport. When the user
// has scrolled up, content updates leave the scroll position alone
// unless forced.
func (m *Model) refresh(force bool) {
	if !m.ready {
		return
	}
	store := m.engine.Store()
	tab, ok := store.Tab(store.ActiveTabID())
	if !ok {
		m.viewport.SetContent("")
		return
	}

	atBottom := m.viewport.AtBottom()
	frame := spinnerFrames[m.spinnerFrame%len(spinnerFrames)]
	m.viewport.SetContent(renderTranscript(tab, m.width, m.ui.ShowToolCalls, frame))
	if atBottom || force {
		m.viewport.GotoBottom()
	}
}

func (m *Model) activeTabLoading() bool {
	store := m.engine.Store()
	tab, ok := store.Tab(store.ActiveTabID())
	if !ok {
		return false
	}
	for _, msg := range tab.Messages {
		if msg.Loading() {
			return true
		}
	}
	return false
}

func (m *Model) setStatusNote(note string) {
	m.statusNote = note
	m.statusNoteAt = time.Now()
}

func (m *Model) currentStatusNote() string {
	if m.statusNote == "" || time.Since(m.statusNoteAt) > statusNoteTTL {
		return ""
	}
	return m.statusNote
}
