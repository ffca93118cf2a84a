package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/armhub-dev/armhub/pkg/robot"
	"github.com/armhub-dev/armhub/pkg/soarm"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type ScanCommand struct{}

func (c *ScanCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("armhub scan"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━"))
	fmt.Println()
	fmt.Println("Scanning serial ports for arms...")
	fmt.Println()

	ctx := context.Background()
	desc := robot.SO100()

	arms, err := soarm.FindArms(ctx, desc, consoleLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error scanning ports: %v\n", err)
		os.Exit(1)
	}
	if len(arms) == 0 {
		fmt.Println("No arms found.")
		fmt.Println("Make sure your arms are connected and powered on.")
		os.Exit(1)
	}

	fmt.Printf("Found %d arm(s). Each will wiggle in turn so you can name it.\n", len(arms))

	cfg := loadOrNewConfig()
	var leaderPort, followerPort string

	for _, arm := range arms {
		role := assignRole(ctx, arm, desc, leaderPort == "", followerPort == "")
		switch role {
		case "leader":
			leaderPort = arm.Port
		case "follower":
			followerPort = arm.Port
		}
		if leaderPort != "" && followerPort != "" {
			break
		}
	}

	fmt.Println()
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━"))

	if leaderPort == "" && followerPort == "" {
		fmt.Println("No roles assigned.")
		os.Exit(1)
	}
	if leaderPort != "" {
		cfg.Leader.Port = leaderPort
		fmt.Printf("  Leader:   %s\n", leaderPort)
	}
	if followerPort != "" {
		cfg.Follower.Port = followerPort
		fmt.Printf("  Follower: %s\n", followerPort)
	}

	if err := cfg.save(); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println(successStyle.Render("Configuration saved to " + defaultConfigFile))
	fmt.Println()
	fmt.Println("Next: " + headerStyle.Render("armhub calibrate --arm leader"))
	return nil
}

// assignRole wiggles the arm on a port and asks the user which role it
// plays. Returns "leader", "follower" or "" for skipped.
func assignRole(ctx context.Context, arm soarm.ArmInfo, desc robot.Descriptor, needLeader, needFollower bool) string {
	fmt.Printf("\n  Wiggling arm on %s...\n", arm.Port)
	if err := soarm.Identify(ctx, arm.Port, desc); err != nil {
		fmt.Printf("  Could not wiggle arm: %v\n", err)
	}

	var options []huh.Option[string]
	if needLeader {
		options = append(options, huh.NewOption("Leader (the one you move by hand)", "leader"))
	}
	if needFollower {
		options = append(options, huh.NewOption("Follower (the one that follows)", "follower"))
	}
	options = append(options, huh.NewOption("Skip this arm", "skip"))

	var role string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title(fmt.Sprintf("Which arm is on %s?", arm.Port)).
				Description("The arm that just wiggled").
				Options(options...).
				Value(&role),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}

	if role == "skip" {
		return ""
	}
	return role
}
