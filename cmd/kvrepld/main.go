package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/kvrepl/command"
	"github.com/mitchellh/cli"
)

// Version is the released version of kvrepld. Filled in by the compiler
// for tagged builds, the same convention serf's main.go uses.
var Version = "0.1.0"

func main() {
	os.Exit(realMain())
}

func realMain() int {
	ui := &cli.BasicUi{Writer: os.Stdout, ErrorWriter: os.Stderr}

	c := cli.NewCLI("kvrepld", Version)
	c.Args = os.Args[1:]
	c.Commands = command.Commands(ui, makeShutdownCh())

	exitCode, err := c.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error executing CLI: %s\n", err)
		return 1
	}
	return exitCode
}

// makeShutdownCh returns a channel that receives a message for every
// interrupt or termination signal, the same pattern as serf's commands.go.
func makeShutdownCh() <-chan struct{} {
	resultCh := make(chan struct{})

	signalCh := make(chan os.Signal, 4)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		for {
			<-signalCh
			resultCh <- struct{}{}
		}
	}()

	return resultCh
}
