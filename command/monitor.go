package command

import (
	"flag"
	"fmt"
	"strings"

	"github.com/hashicorp/kvrepl/ipc"
	"github.com/mitchellh/cli"
)

// MonitorCommand streams the live command trace from a running agent,
// the direct port of serf's command.MonitorCommand to the ipc package.
type MonitorCommand struct {
	Ui         cli.Ui
	ShutdownCh <-chan struct{}
}

func (c *MonitorCommand) Help() string {
	helpText := `
Usage: kvrepld monitor [options]

  Streams the commands a kvrepld agent applies, as they happen.

Options:

  -ipc-addr=127.0.0.1:7400  IPC address of the kvrepld agent.
`
	return strings.TrimSpace(helpText)
}

func (c *MonitorCommand) Run(args []string) int {
	cmdFlags := flag.NewFlagSet("monitor", flag.ContinueOnError)
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

	lines := make(chan string, 512)
	handle, err := client.Monitor(lines)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Error starting monitor: %s", err))
		return 1
	}
	defer client.Stop(handle)

	for {
		select {
		case line := <-lines:
			c.Ui.Output(line)
		case <-c.ShutdownCh:
			return 0
		}
	}
}

func (c *MonitorCommand) Synopsis() string {
	return "Streams the live command trace from a kvrepld agent"
}
