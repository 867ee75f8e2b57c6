package agent

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bgentry/speakeasy"
	"github.com/hashicorp/logutils"
	"github.com/mitchellh/cli"
)

// gracefulTimeout bounds how long Shutdown is given to drain followers
// before the process exits anyway.
var gracefulTimeout = 3 * time.Second

// Command is a cli.Command that runs a kvrepld agent. It does not return
// until a shutdown-causing signal arrives, matching serf's AgentCommand
// (command/agent/command.go).
type Command struct {
	Ui         cli.Ui
	ShutdownCh <-chan struct{}
	args       []string
}

func (c *Command) readConfig() *Config {
	var cmdConfig Config
	var configFile string
	cmdFlags := flag.NewFlagSet("agent", flag.ContinueOnError)
	cmdFlags.Usage = func() { c.Ui.Output(c.Help()) }
	cmdFlags.StringVar(&cmdConfig.NodeName, "node", "", "node name")
	cmdFlags.StringVar(&cmdConfig.BindAddr, "bind", "", "address to bind the replication listener to")
	cmdFlags.IntVar(&cmdConfig.BindPort, "port", 0, "port for the replication listener")
	cmdFlags.StringVar(&cmdConfig.AdvertiseAddr, "advertise", "", "advertise address (stored in the config, not used by the agent)")
	cmdFlags.IntVar(&cmdConfig.AdvertisePort, "advertise-port", 0, "advertise port (stored in the config, not used by the agent)")
	cmdFlags.StringVar(&cmdConfig.IPCAddr, "ipc-addr", "", "control-plane listener address")
	cmdFlags.StringVar(&cmdConfig.DataDir, "data-dir", "", "directory holding the snapshot and temp transfer files")
	cmdFlags.StringVar(&cmdConfig.DBFilename, "db-filename", "", "snapshot file name within data-dir")
	cmdFlags.StringVar(&cmdConfig.ReplicaOfHost, "replicaof-host", "", "leader host to replicate from at startup")
	cmdFlags.StringVar(&cmdConfig.ReplicaOfPort, "replicaof-port", "", "leader port to replicate from at startup")
	cmdFlags.StringVar(&cmdConfig.LeaderAuth, "auth", "", "shared secret required of connecting followers")
	promptAuth := cmdFlags.Bool("prompt-auth", false, "prompt for the auth secret instead of passing -auth")
	cmdFlags.StringVar(&cmdConfig.LogLevel, "log-level", "", "log level: DEBUG, INFO, WARN, ERR")
	cmdFlags.BoolVar(&cmdConfig.Syslog, "syslog", false, "also write log output to syslog")
	cmdFlags.StringVar(&configFile, "config-file", "", "json file to read config from")
	if err := cmdFlags.Parse(c.args); err != nil {
		return nil
	}

	if *promptAuth {
		secret, err := speakeasy.Ask("Auth secret: ")
		if err != nil {
			c.Ui.Error(fmt.Sprintf("Error reading auth secret: %s", err))
			return nil
		}
		cmdConfig.LeaderAuth = secret
	}

	config := DefaultConfig()
	if configFile != "" {
		fileConfig, err := DecodeConfigFile(configFile)
		if err != nil {
			c.Ui.Error(fmt.Sprintf("Error reading config file: %s", err))
			return nil
		}
		config = MergeConfig(config, fileConfig)
	}
	config = MergeConfig(config, &cmdConfig)

	if config.NodeName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			c.Ui.Error(fmt.Sprintf("Error determining hostname: %s", err))
			return nil
		}
		config.NodeName = hostname
	}
	return config
}

// setupLogging builds the level-filtered, optionally syslog-tee'd logger
// every other component is handed, grounded on log_levels.go's levelFilter
// and syslog_writer.go's SyslogWriter.
func (c *Command) setupLogging(config *Config) (io.Writer, error) {
	filter := levelFilter()
	filter.MinLevel = logutils.LogLevel(strings.ToUpper(config.LogLevel))
	filter.Writer = &cli.UiWriter{Ui: c.Ui}

	writers := []io.Writer{filter}
	if config.Syslog {
		sw, err := NewSyslogWriter("kvrepld")
		if err != nil {
			return nil, fmt.Errorf("syslog setup failed: %w", err)
		}
		writers = append(writers, sw)
	}
	if len(writers) == 1 {
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

func (c *Command) Run(args []string) int {
	c.Ui = &cli.PrefixedUi{
		OutputPrefix: "==> ",
		InfoPrefix:   "    ",
		ErrorPrefix:  "==> ",
		Ui:           c.Ui,
	}

	c.args = args
	config := c.readConfig()
	if config == nil {
		return 1
	}

	logOutput, err := c.setupLogging(config)
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}

	c.Ui.Output("Starting kvrepld agent...")
	agent, err := Create(config, logOutput)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Failed to create the agent: %v", err))
		return 1
	}
	defer agent.Shutdown()

	if err := agent.Start(); err != nil {
		c.Ui.Error(fmt.Sprintf("Failed to start the agent: %v", err))
		return 1
	}

	c.Ui.Output("kvrepld agent running!")
	c.Ui.Info(fmt.Sprintf("     Node name: '%s'", config.NodeName))
	c.Ui.Info(fmt.Sprintf("     Bind addr: '%s:%d'", config.BindAddr, config.BindPort))
	c.Ui.Info(fmt.Sprintf("      IPC addr: '%s'", config.IPCAddr))
	c.Ui.Info(fmt.Sprintf("     Data dir: '%s'", config.DataDir))
	if config.ReplicaOfHost != "" {
		c.Ui.Info(fmt.Sprintf("  Replica of: '%s:%s'", config.ReplicaOfHost, config.ReplicaOfPort))
	}

	return c.handleSignals(agent)
}

func (c *Command) handleSignals(agent *Agent) int {
	signalCh := make(chan os.Signal, 4)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	var sig os.Signal
	select {
	case s := <-signalCh:
		sig = s
	case <-c.ShutdownCh:
		sig = os.Interrupt
	case <-agent.ShutdownCh():
		return 0
	}
	c.Ui.Output(fmt.Sprintf("Caught signal: %v", sig))

	gracefulCh := make(chan struct{})
	go func() {
		if err := agent.Shutdown(); err != nil {
			c.Ui.Error(fmt.Sprintf("Error shutting down: %s", err))
			return
		}
		close(gracefulCh)
	}()

	select {
	case <-signalCh:
		log.New(os.Stderr, "", log.LstdFlags).Println("[WARN] agent: forced shutdown")
		return 1
	case <-time.After(gracefulTimeout):
		return 1
	case <-gracefulCh:
		return 0
	}
}

func (c *Command) Synopsis() string {
	return "Runs a kvrepld agent"
}

func (c *Command) Help() string {
	return `Usage: kvrepld agent [options]

  Starts a kvrepld agent, a leader/follower replication node, and runs
  until interrupted.

Options:

  -node=NAME                 Node name (defaults to "kvrepld")
  -bind=ADDR                 Replication listener bind address
  -port=PORT                 Replication listener port
  -advertise=ADDR            Advertise address (stored, not used by the agent)
  -advertise-port=PORT       Advertise port (stored, not used by the agent)
  -ipc-addr=ADDR             Control-plane listener address
  -data-dir=DIR              Snapshot and temp transfer file directory
  -db-filename=NAME          Snapshot file name within data-dir
  -replicaof-host=HOST       Leader host to replicate from at startup
  -replicaof-port=PORT       Leader port to replicate from at startup
  -auth=SECRET               Shared secret required of connecting followers
  -prompt-auth               Prompt for the auth secret instead of -auth
  -log-level=LEVEL           Log level: DEBUG, INFO, WARN, ERR
  -syslog                    Also write log output to syslog
  -config-file=PATH          JSON file to read config from
`
}
