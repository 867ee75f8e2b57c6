// Package command implements the kvrepld CLI subcommands, the control-plane
// analogue of serf's command package (command/members.go, command/monitor.go):
// each subcommand dials the agent's IPC listener with an ipc.Client instead
// of serf's client.RPCClient.
package command

import "flag"

// ipcAddrFlag returns a pointer to a string populated with the agent's IPC
// address once the flag set is parsed, the equivalent of serf's
// command.RPCAddrFlag.
func ipcAddrFlag(f *flag.FlagSet) *string {
	return f.String("ipc-addr", "127.0.0.1:7400", "IPC address of the kvrepld agent")
}
