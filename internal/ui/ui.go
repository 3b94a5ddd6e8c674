// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package ui renders runner output as a live, periodically refreshing view.
package ui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/antimetal/nvmeof-top/internal/top"
)

// Model drives one runner on a fixed interval and repaints its output.
type Model struct {
	runner    top.Runner
	interval  time.Duration
	title     string
	latest    top.Result
	ran       bool
	ctx       context.Context
	ctxCancel context.CancelFunc
	width     int
	height    int
}

func New(runner top.Runner, interval time.Duration, title string) *Model {
	ctx, cancel := context.WithCancel(context.Background())
	return &Model{
		runner:    runner,
		interval:  interval,
		title:     title,
		ctx:       ctx,
		ctxCancel: cancel,
		width:     120,
		height:    40,
	}
}

// Messages
type (
	tickMsg   struct{}
	resultMsg top.Result
)

func tickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m *Model) runCmd() tea.Cmd {
	return func() tea.Msg {
		return resultMsg(m.runner.Run(m.ctx))
	}
}

func (m *Model) Init() tea.Cmd {
	return m.runCmd()
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.ctxCancel()
			return m, tea.Quit
		}
	case resultMsg:
		m.latest = top.Result(msg)
		m.ran = true
		return m, tickCmd(m.interval)
	case tickMsg:
		return m, m.runCmd()
	}
	return m, nil
}

// Styles
var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("45"))
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)

func (m *Model) View() string {
	header := titleStyle.Render(m.title) + "  " +
		subtleStyle.Render("q to quit")

	body := m.latest.Output
	if !m.ran {
		body = "collecting..."
	} else if !m.latest.OK() {
		body = errorStyle.Render(m.latest.Output)
	}

	return header + "\n\n" + body + "\n"
}

// Run blocks inside the bubbletea event loop until the user quits.
func Run(m *Model) error {
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}
