// Package tui browses the evaluation log of a run.
package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"policyeval/internal/domain"
	"policyeval/internal/summarizer"
)

// Model is the Bubble Tea model for the result browser.
type Model struct {
	title       string
	records     []domain.EvaluationRecord
	visible     []int
	summary     summarizer.Summary
	showSummary bool
	input       textinput.Model
	viewport    viewport.Model
	status      string
	cursor      int
	ready       bool
	filter      string
}

// New creates a browser over records. title is shown in the header, usually the run id.
func New(title string, records []domain.EvaluationRecord, summary summarizer.Summary) Model {
	ti := textinput.New()
	ti.Prompt = "filter> "
	ti.Placeholder = "Type text and press Enter, Tab toggles the criterion summary"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	m := Model{title: title, records: records, summary: summary, input: ti, viewport: vp}
	m.applyFilter("")
	return m
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header, counts, status and the input box
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.refresh()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD || msg.Type == tea.KeyEsc {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			m.applyFilter(m.input.Value())
			m.refresh()
			return m, nil
		case "tab":
			m.showSummary = !m.showSummary
			m.refresh()
			return m, nil
		case "down":
			if !m.showSummary && len(m.visible) > 0 {
				m.cursor = (m.cursor + 1) % len(m.visible)
				m.refresh()
				return m, nil
			}
		case "up":
			if !m.showSummary && len(m.visible) > 0 {
				m.cursor = (m.cursor - 1 + len(m.visible)) % len(m.visible)
				m.refresh()
				return m, nil
			}
		case "pgdown", "pgup":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the layout and the current record or the summary.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Policy evaluation " + m.title)
	counts := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.counts())
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	body := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + counts + "\n" + body + "\n" + input + "\n" + status
}

// Visible returns the records that pass the current filter.
func (m Model) Visible() []domain.EvaluationRecord {
	out := make([]domain.EvaluationRecord, len(m.visible))
	for i, idx := range m.visible {
		out[i] = m.records[idx]
	}
	return out
}

func (m *Model) applyFilter(q string) {
	m.filter = strings.TrimSpace(q)
	needle := strings.ToLower(m.filter)
	var visible []int
	for i, rec := range m.records {
		if needle == "" || strings.Contains(strings.ToLower(searchText(rec)), needle) {
			visible = append(visible, i)
		}
	}
	m.visible = visible
	m.cursor = 0
	switch {
	case m.filter == "":
		m.status = fmt.Sprintf("%d records", len(m.records))
	default:
		m.status = fmt.Sprintf("%d of %d records match %q", len(m.visible), len(m.records), m.filter)
	}
}

func (m *Model) refresh() {
	if m.showSummary {
		m.viewport.SetContent(m.renderSummary())
	} else {
		m.viewport.SetContent(m.renderCurrent())
	}
	m.viewport.GotoTop()
}

func (m Model) counts() string {
	ok := 0
	for _, rec := range m.records {
		if rec.OK() {
			ok++
		}
	}
	return fmt.Sprintf("ok %d  error %d  missing required %d", ok, len(m.records)-ok, len(m.summary.MissingRequired()))
}

func (m Model) renderCurrent() string {
	if len(m.visible) == 0 {
		return "No records."
	}
	rec := m.records[m.visible[m.cursor]]
	mark := okStyle.Render("ok")
	if !rec.OK() {
		mark = errStyle.Render("error")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Record %d/%d  ID %s  %s  attempts=%d\n", m.cursor+1, len(m.visible), rec.EvalID, mark, rec.Attempts)
	if rec.Title != "" {
		b.WriteString(lipgloss.NewStyle().Bold(true).Render(rec.Title) + "\n")
	}
	if rec.Criterion != "" {
		b.WriteString("criterion: " + rec.Criterion + "\n")
	}
	b.WriteString("\n" + highlightBestSentence(rec.Sentence, m.filter) + "\n\n")
	if rec.OK() {
		b.WriteString(prettyJSON(rec.Result))
	} else {
		b.WriteString(errStyle.Render(rec.Error))
	}
	return b.String()
}

func (m Model) renderSummary() string {
	var buf bytes.Buffer
	if err := m.summary.WriteTable(&buf); err != nil {
		return "Error: " + err.Error()
	}
	return buf.String()
}

func searchText(rec domain.EvaluationRecord) string {
	parts := []string{rec.EvalID, rec.Title, rec.Sentence, rec.Error, rec.Criterion}
	if rec.Result != nil {
		parts = append(parts, prettyJSON(rec.Result))
	}
	return strings.Join(parts, "\n")
}

func prettyJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimRight(buf.String(), "\n")
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	okStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	errStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	unicodeWordRe  = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe     = regexp.MustCompile(`(?m)(?U)([^.!?\n]+[.!?\n])`)
)

func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	bestIdx := 0
	bestScore := -1
	for i, s := range sentences {
		score := tokenOverlapScore(qTokens, s)
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == bestIdx && bestScore > 0 {
			sentences[i] = highlightStyle.Render(sent)
		} else {
			sentences[i] = sent
		}
	}
	return strings.Join(sentences, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	tokens := unicodeWordRe.FindAllString(strings.ToLower(sentence), -1)
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
