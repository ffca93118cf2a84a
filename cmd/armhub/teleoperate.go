package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/armhub-dev/armhub/pkg/robot"
	"github.com/armhub-dev/armhub/pkg/soarm"
)

type TeleoperateCommand struct {
	Hz int `long:"hz" default:"60" description:"Leader poll frequency"`
}

const (
	headerHeight = 2 // title + blank line
	legendHeight = 2 // legend row + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
)

// Joint colors for the chart and legend.
var jointColors = map[robot.JointName]string{
	robot.Rotation:   "196", // red
	robot.Pitch:      "208", // orange
	robot.Elbow:      "226", // yellow
	robot.WristPitch: "46",  // green
	robot.WristRoll:  "51",  // cyan
	robot.Jaw:        "201", // magenta
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func (c *TeleoperateCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "No configuration found. Run 'armhub scan' first.")
		os.Exit(1)
	}
	if cfg.Leader.Port == "" || cfg.Follower.Port == "" {
		fmt.Fprintln(os.Stderr, "Arms not configured. Run 'armhub scan' first.")
		os.Exit(1)
	}
	if !cfg.Leader.isCalibrated() || !cfg.Follower.isCalibrated() {
		fmt.Fprintln(os.Stderr, "Arms not calibrated. Run 'armhub calibrate' first.")
		os.Exit(1)
	}

	fmt.Printf("Loaded configuration from %s\n", defaultConfigFile)

	hz := c.Hz
	if hz <= 0 {
		hz = 60
	}

	logCh := make(chan string, 16)
	log := tuiLogger(logCh)

	leader, err := soarm.NewConsumer(soarm.Config{
		Port:         cfg.Leader.Port,
		Preset:       cfg.Leader.Calibration,
		PollInterval: time.Second / time.Duration(hz),
		Logger:       log,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating leader driver: %v\n", err)
		os.Exit(1)
	}
	follower, err := soarm.NewProducer(soarm.Config{
		Port:   cfg.Follower.Port,
		Preset: cfg.Follower.Calibration,
		Logger: log,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating follower driver: %v\n", err)
		os.Exit(1)
	}

	mgr := robot.NewManager(nil, log)
	r, err := mgr.CreateRobot("so100", robot.SO100())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating robot: %v\n", err)
		os.Exit(1)
	}
	defer mgr.Close()

	// Consumer first: its pose seeds the robot, and attaching the
	// follower afterwards primes it with that pose.
	ctx := context.Background()
	if err := r.SetConsumer(ctx, leader); err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting leader: %v\n", err)
		os.Exit(1)
	}
	if err := r.AddProducer(ctx, follower); err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting follower: %v\n", err)
		os.Exit(1)
	}

	updates, unsubscribe := r.Subscribe()
	defer unsubscribe()

	p := tea.NewProgram(newTeleopModel(hz, updates, logCh), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		os.Exit(1)
	}

	return nil
}

type teleopModel struct {
	hz       int
	updates  <-chan robot.JointUpdate
	logCh    chan string
	chart    *streamlinechart.Model
	width    int
	height   int
	logs     []string
	quitting bool
}

type jointMsg robot.JointUpdate
type logMsg string

func newTeleopModel(hz int, updates <-chan robot.JointUpdate, logCh chan string) teleopModel {
	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(-100, 100),
	)

	for _, name := range robot.SO100().Names() {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(jointColors[name]))
		chart.SetDataSetStyles(string(name), runes.ThinLineStyle, style)
	}

	return teleopModel{
		hz:      hz,
		updates: updates,
		logCh:   logCh,
		chart:   &chart,
	}
}

func waitForUpdate(ch <-chan robot.JointUpdate) tea.Cmd {
	return func() tea.Msg {
		return jointMsg(<-ch)
	}
}

func waitForLog(ch chan string) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-ch)
	}
}

func (m *teleopModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// chartSize calculates the size of the chart based on terminal dimensions
func (m *teleopModel) chartSize() (width, height int) {
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

func (m *teleopModel) resizeChart() {
	w, h := m.chartSize()
	m.chart.Resize(w, h)
}

func (m teleopModel) Init() tea.Cmd {
	return tea.Batch(
		waitForUpdate(m.updates),
		waitForLog(m.logCh),
	)
}

func (m teleopModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
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
			return m, tea.Quit
		}

	case jointMsg:
		u := robot.JointUpdate(msg)
		m.chart.PushDataSet(string(u.Name), u.Value)
		m.chart.DrawAll()
		return m, waitForUpdate(m.updates)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.logCh)
	}

	return m, nil
}

func (m teleopModel) View() string {
	if m.quitting {
		return "Teleoperation stopped.\n"
	}

	var sb strings.Builder

	// Header
	sb.WriteString(titleStyle.Render("armhub teleoperate"))
	sb.WriteString(fmt.Sprintf(" - %d Hz", m.hz))
	if m.width > 0 {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  [%dx%d]", m.width, m.height)))
	}
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
		Foreground(lipgloss.Color("9"))

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

func renderLegend() string {
	var items []string
	for _, name := range robot.SO100().Names() {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(jointColors[name])).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+string(name))
	}
	return strings.Join(items, "  ")
}
