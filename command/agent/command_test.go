package agent

import (
	"testing"

	"github.com/mitchellh/cli"
)

func TestCommandReadConfigAppliesFlags(t *testing.T) {
	c := &Command{Ui: new(cli.MockUi)}
	c.args = []string{"-node", "n1", "-bind", "127.0.0.1", "-port", "9000", "-auth", "s3cret"}

	cfg := c.readConfig()
	if cfg == nil {
		t.Fatalf("readConfig returned nil")
	}
	if cfg.NodeName != "n1" || cfg.BindAddr != "127.0.0.1" || cfg.BindPort != 9000 || cfg.LeaderAuth != "s3cret" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestCommandReadConfigDefaultsNodeName(t *testing.T) {
	c := &Command{Ui: new(cli.MockUi)}
	c.args = nil

	cfg := c.readConfig()
	if cfg == nil {
		t.Fatalf("readConfig returned nil")
	}
	if cfg.NodeName == "" {
		t.Fatalf("expected a non-empty node name")
	}
}

func TestCommandReadConfigRejectsUnknownFlag(t *testing.T) {
	c := &Command{Ui: new(cli.MockUi)}
	c.args = []string{"-not-a-real-flag"}

	if cfg := c.readConfig(); cfg != nil {
		t.Fatalf("expected nil config for an unparseable flag set")
	}
}

func TestCommandSynopsisAndHelp(t *testing.T) {
	c := &Command{Ui: new(cli.MockUi)}
	if c.Synopsis() == "" {
		t.Fatalf("expected a non-empty synopsis")
	}
	if c.Help() == "" {
		t.Fatalf("expected non-empty help text")
	}
}
