package ui

import (
	"context"
	"strings"

	"github.com/nconklindev/draftmerge/internal/types"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
)

type job func(ctx context.Context, progress chan<- types.Progress) (*types.RunLog, error)

// launch runs j on its own goroutine. The progress channel is closed after
// the result has been queued.
func launch(ctx context.Context, j job) (chan types.Progress, chan runResultMsg) {
	progressChan := make(chan types.Progress, 100)
	resultChan := make(chan runResultMsg, 1)

	go func() {
		log, err := j(ctx, progressChan)
		resultChan <- runResultMsg{log: log, err: err}

		close(progressChan)
		close(resultChan)
	}()

	return progressChan, resultChan
}

func waitForProgress(progressChan chan types.Progress, resultChan chan runResultMsg) tea.Cmd {
	return func() tea.Msg {
		if progressChan == nil {
			return nil
		}

		p, ok := <-progressChan
		if !ok {
			res, ok := <-resultChan
			if ok {
				return runCompleteMsg(res)
			}
			return nil
		}

		return progressMsg(p)
	}
}

func (m Model) startRun(j job) (Model, tea.Cmd) {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.progressChan, m.resultChan = launch(ctx, j)

	m.subject.Blur()
	m.body.Blur()
	m.state = stateProcessing
	m.notice = ""
	m.lines = nil
	m.result = nil
	m.logView.SetContent("")

	m.logger.Info("run requested", zap.String("mode", string(m.mode)))

	return m, tea.Batch(
		waitForProgress(m.progressChan, m.resultChan),
		m.progress.SetPercent(0),
	)
}

func (m Model) applyProgress(p types.Progress) (Model, tea.Cmd) {
	if p.Line != "" && (len(m.lines) == 0 || m.lines[len(m.lines)-1] != p.Line) {
		m.lines = append(m.lines, p.Line)
		m.logView.SetContent(strings.Join(m.lines, "\n"))
		m.logView.GotoBottom()
	}

	var percent float64
	if p.Total > 0 {
		percent = float64(p.Current) / float64(p.Total)
	}
	return m, tea.Batch(
		m.progress.SetPercent(percent),
		waitForProgress(m.progressChan, m.resultChan),
	)
}

func (m Model) runComplete(msg runCompleteMsg) (tea.Model, tea.Cmd) {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.progressChan = nil
	m.resultChan = nil

	if msg.log == nil {
		m.logger.Error("run rejected", zap.Error(msg.err))
		m.err = msg.err
		m.state = stateError
		return m, nil
	}

	m.result = msg.log
	m.lines = msg.log.Lines
	m.logView.SetContent(strings.Join(m.lines, "\n"))
	m.logView.GotoBottom()
	m.state = stateComplete

	attrs := []zap.Field{
		zap.String("run_id", msg.log.ID),
		zap.Int("succeeded", msg.log.Succeeded),
		zap.Int("failed", msg.log.Failed),
	}
	if msg.err != nil {
		m.logger.Warn("run stopped", append(attrs, zap.Error(msg.err))...)
	} else {
		m.logger.Info("run finished", attrs...)
	}

	var percent float64
	if msg.log.Total > 0 {
		percent = float64(msg.log.Current) / float64(msg.log.Total)
	}
	return m, m.progress.SetPercent(percent)
}

func (m Model) updateProcessing(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok && key.String() == "ctrl+c" {
		if m.cancel != nil {
			m.cancel()
			m.notice = "Cancelling after the current row..."
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.logView, cmd = m.logView.Update(msg)
	return m, cmd
}

func (m Model) updateComplete(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		case "enter":
			m.state = stateMode
			m.notice = ""
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.logView, cmd = m.logView.Update(msg)
	return m, cmd
}
