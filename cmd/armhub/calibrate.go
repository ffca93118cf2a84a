package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/pkg/errors"

	"github.com/armhub-dev/armhub/pkg/robot"
	"github.com/armhub-dev/armhub/pkg/soarm"
)

type CalibrateCommand struct {
	Arm    string `long:"arm" default:"leader" choice:"leader" choice:"follower" description:"Which arm to calibrate"`
	Skip   bool   `long:"skip" description:"Mark every joint full-travel instead of recording"`
	Preset string `long:"preset" value-name:"FILE" description:"Apply calibration from a JSON file instead of recording"`
}

func (c *CalibrateCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "No configuration found. Run 'armhub scan' first.")
		os.Exit(1)
	}
	entry := cfg.arm(c.Arm)
	if entry.Port == "" {
		fmt.Fprintf(os.Stderr, "No %s arm configured. Run 'armhub scan' first.\n", c.Arm)
		os.Exit(1)
	}

	fmt.Println(subHeaderStyle.Render(fmt.Sprintf("━━━ Calibrating %s arm (%s) ━━━", c.Arm, entry.Port)))
	fmt.Println()

	ctx := context.Background()
	sc, err := soarm.Acquire(ctx, soarm.Config{Port: entry.Port})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to arm: %v\n", err)
		os.Exit(1)
	}
	defer sc.Release()

	session := soarm.NewSession(sc)

	switch {
	case c.Preset != "":
		preset, err := soarm.LoadPreset(c.Preset)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading preset: %v\n", err)
			os.Exit(1)
		}
		if err := session.ApplyPreset(preset); err != nil {
			fmt.Fprintf(os.Stderr, "Error applying preset: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Applied preset from %s\n", c.Preset)

	case c.Skip:
		session.Skip()
		fmt.Println("Calibration skipped; joints assume full servo travel.")

	default:
		if err := c.record(ctx, sc, session); err != nil {
			// Partial results are already committed; save them before
			// reporting so a rerun can finish the remaining joints.
			saveCalibration(cfg, entry, sc)
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
	}

	saveCalibration(cfg, entry, sc)
	fmt.Println(successStyle.Render(strings.Title(c.Arm) + " arm calibrated."))
	return nil
}

// record runs the interactive range-of-motion session.
func (c *CalibrateCommand) record(ctx context.Context, sc *soarm.SharedController, session *soarm.Session) error {
	waitForUser("Hold the arm: the servos release next so you can move it by hand.")

	// Free the servos so the user can move the arm by hand.
	if err := sc.UnlockAll(ctx); err != nil {
		return errors.Wrap(err, "unlocking servos")
	}
	if err := session.Start(ctx); err != nil {
		return errors.Wrap(err, "starting session")
	}

	fmt.Println(subHeaderStyle.Render("Record range of motion"))
	fmt.Println("Move each joint through its full travel.")
	fmt.Println()

	p := tea.NewProgram(newCalibrateModel(session))
	if _, err := p.Run(); err != nil {
		session.Cancel()
		return errors.Wrap(err, "running calibration")
	}

	_, err := session.Complete()
	if err != nil {
		var inc *soarm.IncompleteError
		if errors.As(err, &inc) {
			return errors.Errorf("not enough travel recorded for: %s (qualifying joints were kept, run calibrate again for the rest)",
				joinNames(inc.Uncalibrated))
		}
		return err
	}
	return nil
}

func saveCalibration(cfg *fileConfig, entry *armEntry, sc *soarm.SharedController) {
	entry.Calibration = soarm.Preset(sc.Calibrations.Snapshot())
	if err := cfg.save(); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Calibration saved to %s\n", defaultConfigFile)
}

func joinNames(names []robot.JointName) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = string(n)
	}
	return strings.Join(parts, ", ")
}

func waitForUser(prompt string) {
	fmt.Println(prompt)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("").
				Affirmative("Continue").
				Negative("").
				Value(new(bool)),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}
}

// calibrateModel renders the live range table while the session samples.
type calibrateModel struct {
	session  *soarm.Session
	desc     robot.Descriptor
	snap     soarm.Snapshot
	quitting bool
}

type snapshotMsg soarm.Snapshot

func newCalibrateModel(session *soarm.Session) calibrateModel {
	return calibrateModel{
		session: session,
		desc:    robot.SO100(),
		snap:    session.Snapshot(),
	}
}

func waitForSnapshot(session *soarm.Session) tea.Cmd {
	return func() tea.Msg {
		return snapshotMsg(<-session.Updates())
	}
}

func (m calibrateModel) Init() tea.Cmd {
	return waitForSnapshot(m.session)
}

func (m calibrateModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter", "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case snapshotMsg:
		m.snap = soarm.Snapshot(msg)
		return m, waitForSnapshot(m.session)
	}

	return m, nil
}

func (m calibrateModel) View() string {
	if m.quitting {
		return ""
	}

	tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	tableJointStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	tableCellStyle := lipgloss.NewStyle().Padding(0, 1)
	tableCurrentStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Padding(0, 1)
	tableRangeGoodStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Padding(0, 1)
	tableRangeLowStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Padding(0, 1)

	rows := make([][]string, 0, len(m.desc))
	spans := make([]int, 0, len(m.desc))
	for _, spec := range m.desc {
		r := m.snap.Joints[spec.Name]
		span := r.Max - r.Min
		spans = append(spans, span)
		rows = append(rows, []string{
			string(spec.Name),
			fmt.Sprintf("%d", r.Current),
			fmt.Sprintf("%d", r.Min),
			fmt.Sprintf("%d", r.Max),
			fmt.Sprintf("%d", span),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Joint", "Current", "Min", "Max", "Range").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			switch col {
			case 0:
				return tableJointStyle
			case 1:
				return tableCurrentStyle
			case 4:
				if row >= 0 && row < len(spans) && spans[row] >= soarm.DefaultRangeThreshold {
					return tableRangeGoodStyle
				}
				return tableRangeLowStyle
			default:
				return tableCellStyle
			}
		})

	var sb strings.Builder
	sb.WriteString(t.Render())
	sb.WriteString("\n\n")
	sb.WriteString(dimStyle.Render(fmt.Sprintf("Progress: %3.0f%%   Press Enter when done", m.snap.Progress)))

	return sb.String()
}
