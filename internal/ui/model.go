package ui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nconklindev/draftmerge/internal/dispatch"
	"github.com/nconklindev/draftmerge/internal/extractor"
	"github.com/nconklindev/draftmerge/internal/fields"
	"github.com/nconklindev/draftmerge/internal/sheet"
	"github.com/nconklindev/draftmerge/internal/tags"
	"github.com/nconklindev/draftmerge/internal/types"

	"github.com/charmbracelet/bubbles/filepicker"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
)

type state int

const (
	stateMode state = iota
	stateAddresses
	stateFilePicker
	stateCompose
	stateCommon
	stateProcessing
	stateComplete
	stateError
)

const (
	focusSubject = iota
	focusBody
)

var modes = []struct {
	mode  types.Mode
	label string
	help  string
}{
	{types.ModeBulk, "Bulk", "one draft, every pasted address in Bcc"},
	{types.ModeMerge, "Merge", "one personalized draft per spreadsheet row"},
}

// Runner executes dispatch passes. *dispatch.Dispatcher satisfies it.
type Runner interface {
	Bulk(ctx context.Context, addresses []string, subject, body string, progress chan<- types.Progress) (*types.RunLog, error)
	Merge(ctx context.Context, req dispatch.MergeRequest, progress chan<- types.Progress) (*types.RunLog, error)
}

type Model struct {
	state  state
	mode   types.Mode
	cursor int

	runner Runner
	logger *zap.Logger

	addresses textarea.Model
	extracted types.AddressSet

	filepicker   filepicker.Model
	selectedFile string
	table        *types.Table
	common       *types.CommonFields
	commonInputs []textinput.Model
	commonCursor int

	subject     textinput.Model
	body        textarea.Model
	focus       int
	tagCursor   int
	showPreview bool
	notice      string

	progress     progress.Model
	logView      viewport.Model
	lines        []string
	cancel       context.CancelFunc
	progressChan chan types.Progress
	resultChan   chan runResultMsg
	result       *types.RunLog
	err          error

	width  int
	height int
}

type runResultMsg struct {
	log *types.RunLog
	err error
}

type tableLoadedMsg struct {
	table *types.Table
	err   error
}

type runCompleteMsg struct {
	log *types.RunLog
	err error
}

type progressMsg types.Progress

func New(runner Runner, logger *zap.Logger) Model {
	if logger == nil {
		logger = zap.NewNop()
	}

	fp := filepicker.New()
	fp.AllowedTypes = []string{".csv", ".xlsx"}
	fp.CurrentDirectory, _ = os.Getwd()

	fp.Styles.Cursor = lipgloss.NewStyle().Foreground(accent)
	fp.Styles.Symlink = lipgloss.NewStyle().Foreground(highlight)
	fp.Styles.Directory = lipgloss.NewStyle().Foreground(highlight)
	fp.Styles.File = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF"))
	fp.Styles.Permission = lipgloss.NewStyle().Foreground(muted)
	fp.Styles.Selected = lipgloss.NewStyle().Foreground(accent).Bold(true)
	fp.Styles.FileSize = lipgloss.NewStyle().Foreground(muted)

	addr := textarea.New()
	addr.Placeholder = "Paste text containing email addresses..."
	addr.ShowLineNumbers = false
	addr.CharLimit = 0

	subject := textinput.New()
	subject.Placeholder = "Subject"
	subject.CharLimit = 0

	body := textarea.New()
	body.Placeholder = "Body"
	body.ShowLineNumbers = false
	body.CharLimit = 0

	m := Model{
		state:      stateMode,
		runner:     runner,
		logger:     logger,
		addresses:  addr,
		filepicker: fp,
		common:     &types.CommonFields{},
		subject:    subject,
		body:       body,
		progress:   progress.New(progress.WithGradient("#4F9DDE", "#7CC4F5")),
		logView:    viewport.New(60, 10),
	}
	m.syncCommonInputs()
	return m
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tableLoadedMsg:
		return m.tableLoaded(msg)

	case runCompleteMsg:
		return m.runComplete(msg)

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		return m, cmd

	case progressMsg:
		if m.state == stateProcessing {
			return m.applyProgress(types.Progress(msg))
		}
		return m, nil
	}

	switch m.state {
	case stateMode:
		return m.updateMode(msg)
	case stateAddresses:
		return m.updateAddresses(msg)
	case stateFilePicker:
		return m.updateFilePicker(msg)
	case stateCompose:
		return m.updateCompose(msg)
	case stateCommon:
		return m.updateCommon(msg)
	case stateProcessing:
		return m.updateProcessing(msg)
	case stateComplete:
		return m.updateComplete(msg)
	case stateError:
		if _, ok := msg.(tea.KeyMsg); ok {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height

	// Leave room for titles, help text and box padding.
	inner := max(width-10, 20)
	tall := max(height-18, 5)

	m.filepicker.SetHeight(max(height-14, 5))
	m.addresses.SetWidth(inner)
	m.addresses.SetHeight(tall)
	m.subject.Width = inner - 2
	m.body.SetWidth(inner)
	m.body.SetHeight(max(tall-4, 3))
	m.logView.Width = inner
	m.logView.Height = tall
	m.progress.Width = min(inner, 80)
}

func (m Model) updateMode(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch key.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(modes)-1 {
			m.cursor++
		}
	case "enter":
		m.mode = modes[m.cursor].mode
		m.notice = ""
		if m.mode == types.ModeBulk {
			m.state = stateAddresses
			return m, m.addresses.Focus()
		}
		m.state = stateFilePicker
		return m, m.filepicker.Init()
	}
	return m, nil
}

func (m Model) updateAddresses(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "esc":
			m.addresses.Blur()
			m.state = stateMode
			return m, nil
		case "tab":
			if len(m.extracted.UniqueEmails) == 0 {
				m.notice = "No email addresses found yet"
				return m, nil
			}
			m.addresses.Blur()
			return m.enterCompose()
		}
	}

	var cmd tea.Cmd
	m.addresses, cmd = m.addresses.Update(msg)
	m.extracted = extractor.Extract(m.addresses.Value())
	return m, cmd
}

func (m Model) updateFilePicker(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.filepicker, cmd = m.filepicker.Update(msg)

	if didSelect, path := m.filepicker.DidSelectFile(msg); didSelect {
		m.selectedFile = path
		return m, loadTable(path)
	}
	return m, cmd
}

func loadTable(path string) tea.Cmd {
	return func() tea.Msg {
		table, err := sheet.ReadFile(path)
		return tableLoadedMsg{table: table, err: err}
	}
}

func (m Model) tableLoaded(msg tableLoadedMsg) (tea.Model, tea.Cmd) {
	if msg.err == nil && len(msg.table.Rows) == 0 {
		msg.err = errors.Join(types.ErrIngestion, errors.New("the sheet has no data rows"))
	}
	if msg.err != nil {
		m.logger.Error("loading sheet failed", zap.String("file", m.selectedFile), zap.Error(msg.err))
		m.err = msg.err
		m.state = stateError
		return m, nil
	}

	m.table = msg.table
	*m.common = fields.Seed(*m.common, m.table.Rows[0], m.table.Columns)
	m.syncCommonInputs()
	m.tagCursor = 0

	m.logger.Info("sheet loaded",
		zap.String("file", m.table.SourceFile),
		zap.Int("rows", len(m.table.Rows)),
		zap.Strings("columns", m.table.Columns))

	return m.enterCompose()
}

func (m Model) enterCompose() (Model, tea.Cmd) {
	m.state = stateCompose
	m.notice = ""
	m.focus = focusSubject
	m.body.Blur()
	return m, m.subject.Focus()
}

func (m Model) updateCompose(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "esc":
			m.subject.Blur()
			m.body.Blur()
			if m.mode == types.ModeBulk {
				m.state = stateAddresses
				return m, m.addresses.Focus()
			}
			m.state = stateFilePicker
			return m, m.filepicker.Init()
		case "tab":
			return m.toggleFocus()
		case "ctrl+p":
			m.showPreview = !m.showPreview
			return m, nil
		case "ctrl+t":
			if list := m.insertableTags(); len(list) > 0 {
				m.tagCursor = (m.tagCursor + 1) % len(list)
			}
			return m, nil
		case "ctrl+o":
			m.insertTag()
			return m, nil
		case "ctrl+e":
			if m.mode == types.ModeMerge {
				return m.enterCommon()
			}
		case "ctrl+s":
			return m.submit()
		}
	}

	var cmd tea.Cmd
	if m.focus == focusSubject {
		m.subject, cmd = m.subject.Update(msg)
	} else {
		m.body, cmd = m.body.Update(msg)
	}
	return m, cmd
}

func (m Model) toggleFocus() (Model, tea.Cmd) {
	if m.focus == focusSubject {
		m.focus = focusBody
		m.subject.Blur()
		return m, m.body.Focus()
	}
	m.focus = focusSubject
	m.body.Blur()
	return m, m.subject.Focus()
}

// insertableTags lists the sheet columns followed by the common fields the
// sheet does not already provide.
func (m Model) insertableTags() []string {
	if m.mode != types.ModeMerge || m.table == nil {
		return nil
	}
	seen := make(map[string]bool)
	var list []string
	for _, c := range m.table.Columns {
		if c != "" && !seen[c] {
			seen[c] = true
			list = append(list, c)
		}
	}
	for _, c := range fields.CommonNames() {
		if !seen[c] {
			seen[c] = true
			list = append(list, c)
		}
	}
	return list
}

func (m *Model) insertTag() {
	list := m.insertableTags()
	if len(list) == 0 {
		return
	}
	tag := "{" + list[m.tagCursor%len(list)] + "}"

	if m.focus == focusBody {
		m.body.InsertString(tag)
		return
	}
	pos := m.subject.Position()
	m.subject.SetValue(insertAt(m.subject.Value(), pos, tag))
	m.subject.SetCursor(pos + len([]rune(tag)))
}

// insertAt inserts s before the rune at pos.
func insertAt(value string, pos int, s string) string {
	r := []rune(value)
	pos = min(max(pos, 0), len(r))
	return string(r[:pos]) + s + string(r[pos:])
}

func (m Model) enterCommon() (Model, tea.Cmd) {
	m.subject.Blur()
	m.body.Blur()
	m.state = stateCommon
	m.commonCursor = 0
	return m, m.commonInputs[0].Focus()
}

func (m *Model) syncCommonInputs() {
	slots := fields.Slots(m.common)
	m.commonInputs = make([]textinput.Model, len(slots))
	for i, s := range slots {
		in := textinput.New()
		in.Prompt = fmt.Sprintf("%-8s ", s.Name)
		in.CharLimit = 0
		in.SetValue(*s.Value)
		m.commonInputs[i] = in
	}
}

func (m *Model) storeCommonInputs() {
	for i, s := range fields.Slots(m.common) {
		*s.Value = m.commonInputs[i].Value()
	}
}

func (m Model) updateCommon(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "esc", "ctrl+s":
			m.storeCommonInputs()
			m.commonInputs[m.commonCursor].Blur()
			return m.enterCompose()
		case "up", "shift+tab":
			return m.moveCommon(-1)
		case "down", "tab", "enter":
			if key.String() == "enter" && m.commonCursor == len(m.commonInputs)-1 {
				m.storeCommonInputs()
				m.commonInputs[m.commonCursor].Blur()
				return m.enterCompose()
			}
			return m.moveCommon(1)
		}
	}

	var cmd tea.Cmd
	m.commonInputs[m.commonCursor], cmd = m.commonInputs[m.commonCursor].Update(msg)
	return m, cmd
}

func (m Model) moveCommon(delta int) (Model, tea.Cmd) {
	next := m.commonCursor + delta
	if next < 0 || next >= len(m.commonInputs) {
		return m, nil
	}
	m.commonInputs[m.commonCursor].Blur()
	m.commonCursor = next
	return m, m.commonInputs[next].Focus()
}

func (m Model) submit() (Model, tea.Cmd) {
	subject := m.subject.Value()
	body := m.body.Value()

	if m.mode == types.ModeBulk {
		addresses := m.extracted.UniqueEmails
		if err := dispatch.ValidateBulk(addresses, subject); err != nil {
			m.notice = validationNotice(err)
			return m, nil
		}
		return m.startRun(func(ctx context.Context, p chan<- types.Progress) (*types.RunLog, error) {
			return m.runner.Bulk(ctx, addresses, subject, body, p)
		})
	}

	var req dispatch.MergeRequest
	if m.table != nil {
		req = dispatch.MergeRequest{
			Rows:    m.table.Rows,
			Columns: m.table.Columns,
			Subject: subject,
			Body:    body,
			Common:  *m.common,
		}
	}
	if err := dispatch.ValidateMerge(req); err != nil {
		m.notice = validationNotice(err)
		return m, nil
	}
	return m.startRun(func(ctx context.Context, p chan<- types.Progress) (*types.RunLog, error) {
		return m.runner.Merge(ctx, req, p)
	})
}

func validationNotice(err error) string {
	switch {
	case errors.Is(err, dispatch.ErrNoRecipients):
		return "Add at least one email address"
	case errors.Is(err, dispatch.ErrNoRows):
		return "Load a sheet with at least one row"
	case errors.Is(err, dispatch.ErrNoSubject):
		return "Enter a subject"
	}
	return err.Error()
}

func (m Model) View() string {
	switch m.state {
	case stateMode:
		return m.viewMode()
	case stateAddresses:
		return m.viewAddresses()
	case stateFilePicker:
		return m.viewFilePicker()
	case stateCompose:
		return m.viewCompose()
	case stateCommon:
		return m.viewCommon()
	case stateProcessing:
		return m.viewProcessing()
	case stateComplete:
		return m.viewComplete()
	case stateError:
		return m.viewError()
	}
	return ""
}

func (m Model) viewMode() string {
	var s strings.Builder

	s.WriteString(TitleStyle.Render("✉ DraftMerge - Gmail Draft Builder"))
	s.WriteString("\n")
	s.WriteString(SubtitleStyle.Render("Choose how drafts are created"))
	s.WriteString("\n\n")

	for i, md := range modes {
		label := UnselectedStyle.Render("  " + md.label)
		if m.cursor == i {
			label = SelectedStyle.Render("> " + md.label)
		}
		s.WriteString(fmt.Sprintf("%s  %s\n", label, SubtitleStyle.UnsetMarginBottom().Render(md.help)))
	}

	s.WriteString(HelpStyle.Render("↑/↓: choose • enter: continue • q: quit"))
	return s.String()
}

func (m Model) viewAddresses() string {
	var s strings.Builder

	s.WriteString(TitleStyle.Render("✉ Bulk Recipients"))
	s.WriteString("\n")
	s.WriteString(SubtitleStyle.Render("Paste any text; addresses are picked out and de-duplicated"))
	s.WriteString("\n\n")
	s.WriteString(m.addresses.View())
	s.WriteString("\n\n")

	stats := fmt.Sprintf("%d unique • %d found • %d duplicates",
		len(m.extracted.UniqueEmails), m.extracted.TotalFound, m.extracted.DuplicateCount)
	if len(m.extracted.UniqueEmails) > 0 {
		s.WriteString(SuccessStyle.Render("✓ " + stats))
	} else {
		s.WriteString(UnselectedStyle.Render(stats))
	}
	s.WriteString(m.viewNotice())
	s.WriteString("\n")
	s.WriteString(HelpStyle.Render("tab: compose • esc: back • ctrl+c: quit"))

	return BoxStyle.Render(s.String())
}

func (m Model) viewFilePicker() string {
	var s strings.Builder

	s.WriteString(TitleStyle.Render("✉ Merge Sheet"))
	s.WriteString("\n")
	s.WriteString(SubtitleStyle.Render("Select a CSV or XLSX file; row 1 holds the column names"))
	s.WriteString("\n\n")
	s.WriteString(m.filepicker.View())
	s.WriteString("\n\n")
	s.WriteString(HelpStyle.Render("Press q to quit"))

	return s.String()
}

func (m Model) viewCompose() string {
	var s strings.Builder

	s.WriteString(TitleStyle.Render("✉ Compose"))
	s.WriteString("\n")
	if m.mode == types.ModeBulk {
		s.WriteString(SubtitleStyle.Render(fmt.Sprintf("Bcc: %d recipients • tags are sent as typed", len(m.extracted.UniqueEmails))))
	} else if m.table != nil {
		s.WriteString(SubtitleStyle.Render(fmt.Sprintf("File: %s • %d rows", filepath.Base(m.table.SourceFile), len(m.table.Rows))))
		s.WriteString("\n")
		s.WriteString(m.viewAddressColumn())
	}
	s.WriteString("\n\n")

	s.WriteString(m.subject.View())
	s.WriteString("\n\n")
	s.WriteString(m.body.View())
	s.WriteString("\n")

	if list := m.insertableTags(); len(list) > 0 {
		s.WriteString("\n")
		s.WriteString(m.viewTagBar(list))
		s.WriteString("\n")
	}

	if m.showPreview {
		s.WriteString("\n")
		s.WriteString(m.viewPreview())
	}

	s.WriteString(m.viewNotice())
	s.WriteString("\n")

	help := "tab: switch field • ctrl+p: preview • ctrl+s: create drafts • esc: back"
	if m.mode == types.ModeMerge {
		help = "tab: switch field • ctrl+t/ctrl+o: pick/insert tag • ctrl+e: common fields • ctrl+p: preview • ctrl+s: create drafts • esc: back"
	}
	s.WriteString(HelpStyle.Render(help))

	return BoxStyle.Render(s.String())
}

func (m Model) viewAddressColumn() string {
	if col, ok := fields.ResolveAddressColumn(m.table.Rows[0], m.table.Columns); ok {
		return SuccessStyle.Render(fmt.Sprintf("✓ Address column: %s", col))
	}
	hint := "use Email, E-mail, mail or メールアドレス"
	if cols := sheet.DetectAddressColumns(m.table); len(cols) > 0 {
		hint = fmt.Sprintf("rename %q to Email", cols[0])
	}
	return ErrorStyle.Render(fmt.Sprintf("✗ No address column (%s)", hint))
}

func (m Model) viewTagBar(list []string) string {
	parts := make([]string, len(list))
	for i, name := range list {
		tag := "{" + name + "}"
		if i == m.tagCursor%len(list) {
			parts[i] = SelectedStyle.Render(tag)
		} else {
			parts[i] = TagStyle.Render(tag)
		}
	}
	return strings.Join(parts, " ")
}

func (m Model) viewPreview() string {
	var s strings.Builder

	if m.mode == types.ModeBulk {
		s.WriteString(CheckedStyle.Render("Subject: ") + m.subject.Value())
		s.WriteString("\n")
		s.WriteString(m.body.Value())
		s.WriteString("\n\n")
		s.WriteString(LinkStyle.Render(extractor.ComposeURL(m.extracted.UniqueEmails, m.subject.Value(), m.body.Value())))
		return PreviewStyle.Render(s.String())
	}

	subject, body := tags.Preview(m.subject.Value(), m.body.Value(), m.table, *m.common)
	s.WriteString(CheckedStyle.Render("Subject: ") + subject.Text)
	s.WriteString("\n")
	s.WriteString(body.Text)

	if missing := tags.Unresolved(subject, body); len(missing) > 0 {
		s.WriteString("\n\n")
		s.WriteString(ErrorStyle.Render(fmt.Sprintf("Undefined tags: {%s}", strings.Join(missing, ", "))))
	}
	return PreviewStyle.Render(s.String())
}

func (m Model) viewCommon() string {
	var s strings.Builder

	s.WriteString(TitleStyle.Render("✉ Common Fields"))
	s.WriteString("\n")
	s.WriteString(SubtitleStyle.Render("Used for tags with no matching column"))
	s.WriteString("\n\n")

	for i, in := range m.commonInputs {
		line := in.View()
		if i == m.commonCursor {
			line = SelectedStyle.Render(">") + " " + line
		} else {
			line = "  " + line
		}
		s.WriteString(line)
		s.WriteString("\n")
	}

	s.WriteString(HelpStyle.Render("↑/↓: move • esc: done"))
	return BoxStyle.Render(s.String())
}

func (m Model) viewProcessing() string {
	var s strings.Builder

	s.WriteString(TitleStyle.Render("✉ Creating Drafts..."))
	s.WriteString("\n\n")
	s.WriteString(m.progress.View())
	s.WriteString("\n\n")
	s.WriteString(LogStyle.Render(m.logView.View()))
	s.WriteString(m.viewNotice())
	s.WriteString("\n")
	s.WriteString(HelpStyle.Render("ctrl+c: cancel"))

	return BoxStyle.Render(s.String())
}

func (m Model) viewComplete() string {
	var s strings.Builder

	if m.result != nil && m.result.Status == types.StatusCompleted {
		s.WriteString(TitleStyle.Render("✓ Run Complete!"))
	} else {
		s.WriteString(ErrorStyle.Render("✗ Run Stopped"))
	}
	s.WriteString("\n\n")

	if m.result != nil {
		s.WriteString(SuccessStyle.Render(fmt.Sprintf("Created: %d", m.result.Succeeded)))
		s.WriteString("\n")
		s.WriteString(fmt.Sprintf("Failed:  %d\n", m.result.Failed))
		if len(m.result.Unresolved) > 0 {
			s.WriteString(ErrorStyle.Render(fmt.Sprintf("Undefined tags: {%s}", strings.Join(m.result.Unresolved, ", "))))
			s.WriteString("\n")
		}
		s.WriteString("\n")
	}

	s.WriteString(LogStyle.Render(m.logView.View()))
	s.WriteString("\n")
	s.WriteString(HelpStyle.Render("↑/↓: scroll • enter: new run • q: quit"))

	return BoxStyle.Render(s.String())
}

func (m Model) viewError() string {
	var s strings.Builder

	s.WriteString(ErrorStyle.Render("✗ Error"))
	s.WriteString("\n\n")
	s.WriteString(m.err.Error())
	s.WriteString("\n\n")
	s.WriteString(HelpStyle.Render("Press any key to exit"))

	return BoxStyle.Render(s.String())
}

func (m Model) viewNotice() string {
	if m.notice == "" {
		return ""
	}
	return "\n" + ErrorStyle.Render(m.notice)
}
