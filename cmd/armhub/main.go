package main

import (
	"os"

	"github.com/jessevdk/go-flags"
)

type Options struct {
	Scan        ScanCommand        `command:"scan" description:"Find connected arms and assign leader/follower roles"`
	Calibrate   CalibrateCommand   `command:"calibrate" description:"Record joint ranges for an arm"`
	Teleoperate TeleoperateCommand `command:"teleoperate" alias:"teleop" description:"Drive the follower arm from the leader"`
	Broadcast   BroadcastCommand   `command:"broadcast" description:"Publish leader movements to a relay room"`
	Follow      FollowCommand      `command:"follow" description:"Drive the follower arm from a relay room"`
	Rooms       RoomsCommand       `command:"rooms" description:"Create, list and delete relay rooms"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "armhub - teleoperation hub for SO-100 arms, over a serial cable or a relay"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}
