package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/treykane/proxypal/internal/accesskey"
	"github.com/treykane/proxypal/internal/model"
)

// Field indices for the add-server form.
const (
	fieldKey = iota
	fieldName
	fieldCount
)

// formResult is returned when the user completes the form.
type formResult struct {
	server  model.ServerConfig
	replace bool // true = discard other saved servers
	connect bool // true = connect immediately after saving
}

// addServerForm holds all state for the "add access key" screen.
type addServerForm struct {
	fields   []textinput.Model
	focusIdx int
	replace  bool
	errMsg   string
}

func newForm() *addServerForm {
	placeholders := []string{
		"ss://... (required)",
		"display name (optional)",
	}
	limits := []int{4096, 64}

	f := &addServerForm{fields: make([]textinput.Model, fieldCount)}
	for i := range f.fields {
		ti := textinput.New()
		ti.Placeholder = placeholders[i]
		ti.CharLimit = limits[i]
		ti.Width = 50
		f.fields[i] = ti
	}
	f.fields[fieldKey].EchoMode = textinput.EchoPassword
	f.fields[fieldKey].EchoCharacter = '•'
	f.fields[fieldKey].Focus()
	return f
}

// update processes a key message and returns a formResult if the form is complete.
func (f *addServerForm) update(msg tea.KeyMsg) (*formResult, tea.Cmd) {
	switch msg.String() {
	case "tab", "shift+tab":
		f.fields[f.focusIdx].Blur()
		if msg.String() == "tab" {
			f.focusIdx = (f.focusIdx + 1) % fieldCount
		} else {
			f.focusIdx = (f.focusIdx - 1 + fieldCount) % fieldCount
		}
		f.fields[f.focusIdx].Focus()
		return nil, f.fields[f.focusIdx].Cursor.BlinkCmd()
	case "ctrl+r":
		f.replace = !f.replace
		return nil, nil
	case "enter", "ctrl+s":
		cfg, err := f.buildServer()
		if err != nil {
			f.errMsg = err.Error()
			return nil, nil
		}
		return &formResult{server: cfg, replace: f.replace, connect: msg.String() == "ctrl+s"}, nil
	default:
		var cmd tea.Cmd
		f.fields[f.focusIdx], cmd = f.fields[f.focusIdx].Update(msg)
		f.errMsg = ""
		return nil, cmd
	}
}

func (f *addServerForm) buildServer() (model.ServerConfig, error) {
	key := strings.TrimSpace(f.fields[fieldKey].Value())
	if key == "" {
		return model.ServerConfig{}, fmt.Errorf("access key is required")
	}
	cfg, err := accesskey.Parse(key)
	if err != nil {
		return model.ServerConfig{}, err
	}
	if name := strings.TrimSpace(f.fields[fieldName].Value()); name != "" {
		cfg.Name = name
	}
	return cfg, nil
}

// view renders the form panel.
func (f *addServerForm) view(renderPanel func(string, string, int, lipgloss.Color) string, width int) string {
	labels := []string{"Access key:", "Name:"}

	var b strings.Builder
	for i, label := range labels {
		cursor := "  "
		if i == f.focusIdx {
			cursor = "> "
		}
		b.WriteString(fmt.Sprintf("%s%-12s %s\n", cursor, label, f.fields[i].View()))
	}

	b.WriteString("\n")
	addMarker, replaceMarker := "x", " "
	if f.replace {
		addMarker, replaceMarker = " ", "x"
	}
	b.WriteString(fmt.Sprintf("  Save: (%s) Add to list  (%s) Replace all saved servers\n", addMarker, replaceMarker))

	if f.errMsg != "" {
		errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
		b.WriteString("\n" + errStyle.Render("Error: "+f.errMsg) + "\n")
	}

	b.WriteString("\nTab/Shift-Tab navigate | Ctrl+R toggle replace | Enter save | Ctrl+S save and connect | Esc cancel")
	return renderPanel("Add Server", b.String(), width, lipgloss.Color("214"))
}
