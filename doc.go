// Package armhub provides teleoperation for SO-100 robot arms: a follower
// arm mirrors a leader arm in real time, over a serial cable or through a
// relay server when the arms live on different machines.
//
// # Installation
//
//	go install github.com/armhub-dev/armhub/cmd/armhub@latest
//
// # Usage
//
// Find your arms and assign roles, then record each arm's joint ranges:
//
//	armhub scan
//	armhub calibrate --arm leader
//	armhub calibrate --arm follower
//
// Start local teleoperation:
//
//	armhub teleoperate
//
// Or run the arms on separate machines through a relay:
//
//	armhub-relay --listen :8181
//	armhub broadcast --room lab --relay http://relay:8181   # leader machine
//	armhub follow --room lab --relay http://relay:8181      # follower machine
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/armhub: CLI with scan, calibrate, teleoperate, broadcast, follow
//     and rooms commands
//   - cmd/armhub-relay: relay server binary
//   - pkg/robot: joint state, the command pipeline, and the driver roles
//   - pkg/soarm: serial driver stack for SO-100 arms, including calibration
//   - pkg/relay: relay client, server and remote drivers
package armhub
