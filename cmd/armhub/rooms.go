package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/armhub-dev/armhub/pkg/robot"
)

type RoomsCommand struct {
	Create    string `long:"create" value-name:"ID" description:"Create a room with the given id"`
	Delete    string `long:"delete" value-name:"ID" description:"Delete a room"`
	Relay     string `long:"relay" value-name:"URL" description:"Relay base URL (defaults to relay.url in armhub.json)"`
	Workspace string `long:"workspace" description:"Workspace id (defaults to relay.workspace_id)"`
}

func (c *RoomsCommand) Execute(args []string) error {
	cfg := loadOrNewConfig()
	client, workspace := relayClient(cfg, c.Relay, c.Workspace)
	mgr := robot.NewManager(client, consoleLogger())
	ctx := context.Background()

	switch {
	case c.Create != "":
		info, err := mgr.CreateRoom(ctx, workspace, c.Create)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating room: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created room %s in workspace %s\n", info.ID, info.WorkspaceID)

	case c.Delete != "":
		if err := client.DeleteRoom(ctx, c.Delete); err != nil {
			fmt.Fprintf(os.Stderr, "Error deleting room: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Deleted room %s\n", c.Delete)

	default:
		rooms, err := mgr.ListRooms(ctx, workspace)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing rooms: %v\n", err)
			os.Exit(1)
		}
		if len(rooms) == 0 {
			fmt.Printf("No rooms in workspace %s\n", workspace)
			return nil
		}

		rows := make([][]string, 0, len(rooms))
		for _, rm := range rooms {
			producer := "-"
			if rm.HasProducer {
				producer = "yes"
			}
			rows = append(rows, []string{
				rm.ID,
				rm.WorkspaceID,
				producer,
				fmt.Sprintf("%d", rm.ConsumerCount),
				rm.CreatedAt.Format("2006-01-02 15:04"),
			})
		}

		t := table.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(dimStyle).
			Headers("Room", "Workspace", "Producer", "Consumers", "Created").
			Rows(rows...)
		fmt.Println(t.Render())
	}

	return nil
}
