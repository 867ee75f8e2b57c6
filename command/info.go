package command

import (
	"flag"
	"fmt"
	"strings"

	"github.com/hashicorp/kvrepl/ipc"
	"github.com/mitchellh/cli"
	"github.com/ryanuber/columnize"
)

// InfoCommand prints the agent's current role, link state, and follower
// table, the replacement for serf's command.MembersCommand now that there
// are no cluster members, only a leader and its followers.
type InfoCommand struct {
	Ui cli.Ui
}

func (c *InfoCommand) Help() string {
	helpText := `
Usage: kvrepld info [options]

  Prints the role, replication link state, and follower table of a running
  kvrepld agent.

Options:

  -ipc-addr=127.0.0.1:7400  IPC address of the kvrepld agent.
`
	return strings.TrimSpace(helpText)
}

func (c *InfoCommand) Run(args []string) int {
	cmdFlags := flag.NewFlagSet("info", flag.ContinueOnError)
	cmdFlags.Usage = func() { c.Ui.Output(c.Help()) }
	ipcAddr := ipcAddrFlag(cmdFlags)
	if err := cmdFlags.Parse(args); err != nil {
		return 1
	}

	client, err := ipc.NewClient(*ipcAddr, nil)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error connecting to kvrepld agent: %s", err))
		return 1
	}
	defer client.Close()

	info, err := client.Info()
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error fetching info: %s", err))
		return 1
	}

	c.Ui.Output(fmt.Sprintf("Role: %s", info.Role))
	if info.Role == "follower" {
		c.Ui.Output(fmt.Sprintf("Link state: %s", info.LinkState))
		c.Ui.Output(fmt.Sprintf("Offset: %d", info.Offset))
		if info.LinkError != "" {
			c.Ui.Output(fmt.Sprintf("Link error: %s", info.LinkError))
		}
	}

	if len(info.Followers) == 0 {
		c.Ui.Output("No followers connected")
		return 0
	}

	rows := []string{"Addr | Advertised | State | DB | Pending"}
	for _, f := range info.Followers {
		rows = append(rows, fmt.Sprintf("%s | %s | %s | %d | %d",
			f.Addr, f.Advertised, f.State, f.SelectedDB, f.Pending))
	}
	out, err := columnize.SimpleFormat(rows)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error formatting follower table: %s", err))
		return 1
	}
	c.Ui.Output(out)
	return 0
}

func (c *InfoCommand) Synopsis() string {
	return "Shows role and follower status of a kvrepld agent"
}
