package agent

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	require.NotEmpty(t, c.NodeName)
	require.NotZero(t, c.BindPort)
	require.NotEmpty(t, c.IPCAddr)
}

func TestDecodeConfig(t *testing.T) {
	data := []byte(`{"node_name": "n1", "bind_port": 9000, "replica_of_host": "10.0.0.1"}`)
	c, err := DecodeConfig(data)
	require.NoError(t, err)
	require.Equal(t, "n1", c.NodeName)
	require.Equal(t, 9000, c.BindPort)
	require.Equal(t, "10.0.0.1", c.ReplicaOfHost)
}

func TestDecodeConfigRejectsInvalidJSON(t *testing.T) {
	_, err := DecodeConfig([]byte("not json"))
	require.Error(t, err)
}

func TestMergeConfigOverlaysNonZeroFields(t *testing.T) {
	base := DefaultConfig()
	base.LogLevel = "INFO"
	base.BindPort = 7300

	override := &Config{LogLevel: "DEBUG"}
	merged := MergeConfig(base, override)

	require.Equal(t, "DEBUG", merged.LogLevel)
	require.Equal(t, 7300, merged.BindPort)
}

func TestResolveBindAddrPassesThroughPlainAddresses(t *testing.T) {
	addr, err := resolveBindAddr("127.0.0.1")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", addr)
}

func TestResolveBindAddrEmptyIsEmpty(t *testing.T) {
	addr, err := resolveBindAddr("")
	require.NoError(t, err)
	require.Empty(t, addr)
}
