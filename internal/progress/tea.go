package progress

import (
	"context"
	"io"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

type tickMsg struct{}
type stopMsg struct{}

type receiverTeaModel struct {
	viewFn      func() ReceiverView
	onInterrupt func()
	view        ReceiverView
}

func tick() tea.Cmd {
	return tea.Tick(ttyRefresh, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m receiverTeaModel) Init() tea.Cmd {
	return tick()
}

func (m receiverTeaModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			if m.onInterrupt != nil {
				m.onInterrupt()
			}
			m.view = m.viewFn()
			return m, tea.Quit
		}
	case tickMsg:
		m.view = m.viewFn()
		return m, tick()
	case stopMsg:
		m.view = m.viewFn()
		return m, tea.Quit
	}
	return m, nil
}

func (m receiverTeaModel) View() string {
	return renderReceiverTTY(m.view) + "\n"
}

func renderReceiverTea(ctx context.Context, w io.Writer, view func() ReceiverView, onInterrupt func()) func() {
	model := receiverTeaModel{viewFn: view, onInterrupt: onInterrupt, view: view()}
	program := tea.NewProgram(model, tea.WithOutput(w))
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = program.Run()
	}()
	go func() {
		select {
		case <-ctx.Done():
			program.Send(stopMsg{})
		case <-done:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { program.Send(stopMsg{}) })
		<-done
	}
}
