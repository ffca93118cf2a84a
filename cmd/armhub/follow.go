package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/armhub-dev/armhub/pkg/relay"
	"github.com/armhub-dev/armhub/pkg/robot"
	"github.com/armhub-dev/armhub/pkg/soarm"
)

type FollowCommand struct {
	Room  string `long:"room" required:"true" value-name:"ID" description:"Relay room to follow"`
	Relay string `long:"relay" value-name:"URL" description:"Relay base URL (defaults to relay.url in armhub.json)"`
}

func (c *FollowCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "No configuration found. Run 'armhub scan' first.")
		os.Exit(1)
	}
	if cfg.Follower.Port == "" {
		fmt.Fprintln(os.Stderr, "No follower arm configured. Run 'armhub scan' first.")
		os.Exit(1)
	}
	if !cfg.Follower.isCalibrated() {
		fmt.Fprintln(os.Stderr, "Follower arm not calibrated. Run 'armhub calibrate --arm follower' first.")
		os.Exit(1)
	}

	client, _ := relayClient(cfg, c.Relay, "")
	log := consoleLogger()
	ctx := context.Background()

	follower, err := soarm.NewProducer(soarm.Config{
		Port:   cfg.Follower.Port,
		Preset: cfg.Follower.Calibration,
		Logger: log,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating follower driver: %v\n", err)
		os.Exit(1)
	}
	listener, err := relay.NewRemoteConsumer(relay.RemoteConfig{
		Client: client,
		RoomID: c.Room,
		Logger: log,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating relay consumer: %v\n", err)
		os.Exit(1)
	}

	mgr := robot.NewManager(client, log)
	r, err := mgr.CreateRobot("so100", robot.SO100())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating robot: %v\n", err)
		os.Exit(1)
	}
	defer mgr.Close()

	// Producer first so the arm catches every command once the room
	// stream starts.
	if err := r.AddProducer(ctx, follower); err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting follower: %v\n", err)
		os.Exit(1)
	}
	if err := r.SetConsumer(ctx, listener); err != nil {
		fmt.Fprintf(os.Stderr, "Error joining room: %v\n", err)
		os.Exit(1)
	}

	go watchStatus(log, "follower", follower.Changes())
	go watchStatus(log, "relay", listener.Changes())

	log.Infof("following room %s, ctrl-c to stop", c.Room)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	log.Infof("stopping")
	return nil
}
