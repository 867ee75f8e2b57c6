package command

import (
	"github.com/hashicorp/kvrepl/command/agent"
	"github.com/mitchellh/cli"
)

// Commands returns the CLI's subcommand registry, the kvrepld equivalent of
// serf's top-level commands.go.
func Commands(ui cli.Ui, shutdownCh <-chan struct{}) map[string]cli.CommandFactory {
	return map[string]cli.CommandFactory{
		"agent": func() (cli.Command, error) {
			return &agent.Command{Ui: ui, ShutdownCh: shutdownCh}, nil
		},
		"info": func() (cli.Command, error) {
			return &InfoCommand{Ui: ui}, nil
		},
		"monitor": func() (cli.Command, error) {
			return &MonitorCommand{Ui: ui, ShutdownCh: shutdownCh}, nil
		},
		"slaveof": func() (cli.Command, error) {
			return &SlaveOfCommand{Ui: ui}, nil
		},
	}
}
