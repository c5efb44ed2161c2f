package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/substrate-robotics/armloop/pkg/control"
	"github.com/substrate-robotics/armloop/pkg/robot"
	"github.com/substrate-robotics/armloop/pkg/telemetry"
)

type DashboardCommand struct {
	Config  string `long:"config" short:"c" default:"armloop.json" description:"Path to the configuration file"`
	Control bool   `long:"control" description:"Send commands to the arm"`
	Steps   int    `long:"steps" description:"Override max episode steps"`
}

const (
	headerHeight = 2 // title + blank line
	legendHeight = 2 // legend row + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
)

// Joint colors - distinct colors for each joint
var jointColors = map[robot.MotorName]string{
	robot.ShoulderPan:  "196", // red
	robot.ShoulderLift: "208", // orange
	robot.ElbowFlex:    "226", // yellow
	robot.WristFlex:    "46",  // green
	robot.WristRoll:    "51",  // cyan
	robot.Gripper:      "201", // magenta
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	frozenStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

type dashModel struct {
	loop     *control.Loop
	records  <-chan telemetry.StepRecord
	chart    *streamlinechart.Model
	width    int
	height   int
	logs     []string
	last     *telemetry.StepRecord
	summary  *control.Summary
	quitting bool
	cancel   context.CancelFunc
}

func (m *dashModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// Messages from the episode goroutine
type recordMsg telemetry.StepRecord
type dashLogMsg string
type episodeDoneMsg struct {
	summary control.Summary
	err     error
}

func waitForRecord(ch <-chan telemetry.StepRecord) tea.Cmd {
	return func() tea.Msg {
		rec, ok := <-ch
		if !ok {
			return nil
		}
		return recordMsg(rec)
	}
}

func waitForDashLog(loop *control.Loop) tea.Cmd {
	return func() tea.Msg {
		return dashLogMsg(<-loop.Logs())
	}
}

// chartSize calculates the size of the chart based on terminal dimensions
func (m *dashModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20 // default size before we know terminal size
	}
	width = m.width - borderSize - 2
	if width < 40 {
		width = 40
	}
	height = m.height - headerHeight - legendHeight - footerHeight - borderSize
	if height < 10 {
		height = 10
	}
	return width, height
}

func (m *dashModel) resizeChart() {
	w, h := m.chartSize()
	m.chart.Resize(w, h)
}

func initialDashModel(loop *control.Loop, records <-chan telemetry.StepRecord, cancel context.CancelFunc) dashModel {
	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(-3.5, 3.5),
	)

	for _, name := range robot.AllMotors() {
		color := jointColors[name]
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(color))
		chart.SetDataSetStyles(string(name), runes.ThinLineStyle, style)
	}

	return dashModel{
		loop:    loop,
		records: records,
		chart:   &chart,
		cancel:  cancel,
	}
}

func (m dashModel) Init() tea.Cmd {
	return tea.Batch(
		waitForRecord(m.records),
		waitForDashLog(m.loop),
	)
}

func (m dashModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeChart()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			m.cancel()
			return m, tea.Quit
		}

	case recordMsg:
		rec := telemetry.StepRecord(msg)
		for j, name := range robot.AllMotors() {
			if j < len(rec.CurrentQ) {
				m.chart.PushDataSet(string(name), rec.CurrentQ[j])
			}
		}
		m.chart.DrawAll()
		m.last = &rec
		return m, waitForRecord(m.records)

	case dashLogMsg:
		m.addLog(string(msg))
		return m, waitForDashLog(m.loop)

	case episodeDoneMsg:
		m.summary = &msg.summary
		if msg.err != nil {
			m.addLog(fmt.Sprintf("episode error: %v", msg.err))
		}
		return m, nil
	}

	return m, nil
}

func (m dashModel) View() string {
	if m.quitting {
		return "Dashboard stopped.\n"
	}

	var sb strings.Builder

	// Header
	sb.WriteString(titleStyle.Render("Armloop Dashboard"))
	sb.WriteString(" - " + m.statusLine())
	sb.WriteString("\n\n")

	// Chart
	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	// Legend
	sb.WriteString(renderLegend())
	sb.WriteString("\n")

	// Log box
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(m.width - 4).
		Foreground(lipgloss.Color("9")) // bright red

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("Press 'q' to quit")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func (m dashModel) statusLine() string {
	if m.summary != nil {
		line := fmt.Sprintf("%s: %d steps, %d violations",
			m.summary.State, m.summary.Steps, m.summary.Violations)
		if m.summary.AbortReason != "" {
			return frozenStyle.Render(line + " (" + m.summary.AbortReason + ")")
		}
		return line
	}
	if m.last == nil {
		return statusStyle.Render("waiting for first step")
	}
	line := fmt.Sprintf("step %d, buffer %d, loop %.1fms, infer %.1fms",
		m.last.Step, m.last.BufferDepth, m.last.LoopDtMs, m.last.InferenceDtMs)
	if m.last.WasClamped {
		line += "  [clamped]"
	}
	return line
}

func renderLegend() string {
	var items []string
	for _, name := range robot.AllMotors() {
		color := jointColors[name]
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Bold(true)
		item := colorStyle.Render("━━") + " " + string(name)
		items = append(items, item)
	}
	return strings.Join(items, "  ")
}

func (c *DashboardCommand) Execute(args []string) error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}
	if c.Control {
		cfg.EnableControl = true
	}
	if c.Steps > 0 {
		cfg.MaxEpisodeSteps = c.Steps
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt.startTelemetry(ctx)

	subID, records := rt.hub.Subscribe()
	defer rt.hub.Unsubscribe(subID)

	p := tea.NewProgram(initialDashModel(rt.loop, records, cancel), tea.WithAltScreen())

	go func() {
		summary, err := rt.loop.RunEpisode(ctx)
		rt.finish(summary)
		p.Send(episodeDoneMsg{summary: summary, err: err})
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run dashboard: %w", err)
	}

	// Give an in-flight tick a moment to finish after cancel.
	time.Sleep(100 * time.Millisecond)
	return nil
}
