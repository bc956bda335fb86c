package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/studiowebux/wsprobe/internal/types"
)

var (
	titleStyle        = lipgloss.NewStyle().MarginLeft(2).Bold(true)
	optionStyle       = lipgloss.NewStyle().PaddingLeft(4)
	selectedStyle     = lipgloss.NewStyle().PaddingLeft(2).Foreground(lipgloss.Color("170"))
	hintStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginTop(1).MarginLeft(2)
	errSelectionAbort = errors.New("selection cancelled")
)

const customChoice = "\x00custom"

type option struct {
	value  string
	active bool
}

func (o option) FilterValue() string { return o.value }

func (o option) label() string {
	if o.active {
		return o.value + " [active]"
	}
	return o.value
}

type optionDelegate struct{}

func (d optionDelegate) Height() int                             { return 1 }
func (d optionDelegate) Spacing() int                            { return 0 }
func (d optionDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }
func (d optionDelegate) Render(w io.Writer, m list.Model, index int, li list.Item) {
	o, ok := li.(option)
	if !ok {
		return
	}

	line := fmt.Sprintf("%d. %s", index+1, o.label())
	if index == m.Index() {
		fmt.Fprint(w, selectedStyle.Render("> "+line))
		return
	}
	fmt.Fprint(w, optionStyle.Render(line))
}

// selector picks one option of a multi-value variable
type selector struct {
	list   list.Model
	choice string
	done   bool
}

func (m selector) Init() tea.Cmd {
	return nil
}

func (m selector) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetWidth(msg.Width)
		return m, nil

	case tea.KeyMsg:
		// Keys are free text while the filter is being typed
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "ctrl+c", "q":
			m.done = true
			return m, tea.Quit
		case "enter":
			if o, ok := m.list.SelectedItem().(option); ok {
				m.choice = o.value
			}
			m.done = true
			return m, tea.Quit
		case "c":
			m.choice = customChoice
			m.done = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m selector) View() string {
	if m.done {
		return ""
	}
	hint := hintStyle.Render("↑/↓: navigate • /: filter • enter: select • c: custom value • q: cancel")
	return m.list.View() + "\n\n" + hint
}

// promptForMultiValueVariable shows the options of a multi-value variable
// and returns the chosen one, starting on the active option
func promptForMultiValueVariable(name string, mv *types.MultiValueVariable) (string, error) {
	items := make([]list.Item, 0, len(mv.Options))
	for i, opt := range mv.Options {
		items = append(items, option{value: opt, active: i == mv.Active})
	}

	l := list.New(items, optionDelegate{}, 80, 14)
	l.Title = fmt.Sprintf("%s: pick a value for this run", name)
	if mv.Description != "" {
		l.Title += " (" + mv.Description + ")"
	}
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.Styles.Title = titleStyle
	if mv.Active >= 0 && mv.Active < len(items) {
		l.Select(mv.Active)
	}

	final, err := tea.NewProgram(selector{list: l}).Run()
	if err != nil {
		return "", fmt.Errorf("error running selector: %w", err)
	}

	switch choice := final.(selector).choice; choice {
	case "":
		return "", errSelectionAbort
	case customChoice:
		value, err := promptForVariable(name)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(value), nil
	default:
		return choice, nil
	}
}
