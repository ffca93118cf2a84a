package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/armhub-dev/armhub/pkg/relay"
	"github.com/armhub-dev/armhub/pkg/robot"
	"github.com/armhub-dev/armhub/pkg/soarm"
)

type BroadcastCommand struct {
	Room      string `long:"room" required:"true" value-name:"ID" description:"Relay room to publish into (created if missing)"`
	Relay     string `long:"relay" value-name:"URL" description:"Relay base URL (defaults to relay.url in armhub.json)"`
	Workspace string `long:"workspace" description:"Workspace id (defaults to relay.workspace_id)"`
}

func (c *BroadcastCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "No configuration found. Run 'armhub scan' first.")
		os.Exit(1)
	}
	if cfg.Leader.Port == "" {
		fmt.Fprintln(os.Stderr, "No leader arm configured. Run 'armhub scan' first.")
		os.Exit(1)
	}
	if !cfg.Leader.isCalibrated() {
		fmt.Fprintln(os.Stderr, "Leader arm not calibrated. Run 'armhub calibrate --arm leader' first.")
		os.Exit(1)
	}

	client, workspace := relayClient(cfg, c.Relay, c.Workspace)
	log := consoleLogger()
	ctx := context.Background()

	if _, err := client.CreateRoom(ctx, workspace, c.Room); err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			fmt.Fprintf(os.Stderr, "Error creating room: %v\n", err)
			os.Exit(1)
		}
	}

	leader, err := soarm.NewConsumer(soarm.Config{
		Port:   cfg.Leader.Port,
		Preset: cfg.Leader.Calibration,
		Logger: log,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating leader driver: %v\n", err)
		os.Exit(1)
	}
	publisher, err := relay.NewRemoteProducer(relay.RemoteConfig{
		Client: client,
		RoomID: c.Room,
		Logger: log,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating relay producer: %v\n", err)
		os.Exit(1)
	}

	mgr := robot.NewManager(client, log)
	r, err := mgr.CreateRobot("so100", robot.SO100())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating robot: %v\n", err)
		os.Exit(1)
	}
	defer mgr.Close()

	// Consumer first: the leader pose seeds the robot, and attaching the
	// publisher afterwards primes the room with the full pose.
	if err := r.SetConsumer(ctx, leader); err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting leader: %v\n", err)
		os.Exit(1)
	}
	if err := r.AddProducer(ctx, publisher); err != nil {
		fmt.Fprintf(os.Stderr, "Error joining room: %v\n", err)
		os.Exit(1)
	}

	go watchStatus(log, "leader", leader.Changes())
	go watchStatus(log, "relay", publisher.Changes())

	log.Infof("broadcasting leader movements to room %s, ctrl-c to stop", c.Room)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	log.Infof("stopping")
	return nil
}

// relayClient resolves the relay URL and workspace from flags and config.
func relayClient(cfg *fileConfig, urlFlag, workspaceFlag string) (*relay.Client, string) {
	url := urlFlag
	if url == "" {
		url = cfg.Relay.URL
	}
	if url == "" {
		fmt.Fprintln(os.Stderr, "No relay configured. Pass --relay or set relay.url in armhub.json.")
		os.Exit(1)
	}
	workspace := workspaceFlag
	if workspace == "" {
		workspace = cfg.Relay.WorkspaceID
	}
	if workspace == "" {
		workspace = "default"
	}
	return relay.NewClient(url), workspace
}

// watchStatus logs a driver's connection transitions.
func watchStatus(log *zap.SugaredLogger, name string, ch <-chan robot.ConnectionStatus) {
	for st := range ch {
		switch {
		case st.Connected:
			log.Infof("%s connected", name)
		case st.Err != "":
			log.Warnf("%s disconnected: %s", name, st.Err)
		default:
			log.Infof("%s disconnected", name)
		}
	}
}
