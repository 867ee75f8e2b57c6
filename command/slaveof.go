package command

import (
	"flag"
	"fmt"
	"strings"

	"github.com/hashicorp/kvrepl/ipc"
	"github.com/mitchellh/cli"
)

// SlaveOfCommand points a running agent at a new leader, or back to
// leaderless operation, the CLI equivalent of spec.md §4's SLAVEOF.
type SlaveOfCommand struct {
	Ui cli.Ui
}

func (c *SlaveOfCommand) Help() string {
	helpText := `
Usage: kvrepld slaveof [options] <host> <port>
       kvrepld slaveof [options] no one

  Makes the agent a follower of the given leader, or with "no one",
  promotes it back to an independent leader.

Options:

  -ipc-addr=127.0.0.1:7400  IPC address of the kvrepld agent.
`
	return strings.TrimSpace(helpText)
}

func (c *SlaveOfCommand) Run(args []string) int {
	cmdFlags := flag.NewFlagSet("slaveof", flag.ContinueOnError)
	cmdFlags.Usage = func() { c.Ui.Output(c.Help()) }
	ipcAddr := ipcAddrFlag(cmdFlags)
	if err := cmdFlags.Parse(args); err != nil {
		return 1
	}

	rest := cmdFlags.Args()
	client, err := ipc.NewClient(*ipcAddr, nil)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error connecting to kvrepld agent: %s", err))
		return 1
	}
	defer client.Close()

	if len(rest) == 2 && strings.EqualFold(rest[0], "no") && strings.EqualFold(rest[1], "one") {
		if err := client.SlaveOfNoOne(); err != nil {
			c.Ui.Error(fmt.Sprintf("Error: %s", err))
			return 1
		}
		c.Ui.Output("OK")
		return 0
	}

	if len(rest) != 2 {
		c.Ui.Error("slaveof requires <host> <port>, or the literal \"no one\"")
		return 1
	}

	if err := client.SlaveOf(rest[0], rest[1]); err != nil {
		c.Ui.Error(fmt.Sprintf("Error: %s", err))
		return 1
	}
	c.Ui.Output("OK")
	return 0
}

func (c *SlaveOfCommand) Synopsis() string {
	return "Changes the leader a kvrepld agent replicates from"
}
