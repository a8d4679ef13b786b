package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/unixpickle/distvec/transport"
)

func writeConfig(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "distvec.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
workers: 7
log_level: debug
network:
  max_latency: 2ms
  rate: 1000000
`)
	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7, c.Workers)
	require.Equal(t, GoroutineTransport, c.Transport)
	require.Equal(t, "debug", c.LogLevel)
	require.Equal(t, 2*time.Millisecond, c.Network.MaxLatency)
	require.Equal(t, 1e6, c.Network.Rate)
	require.IsType(t, &transport.OrderedNetwork{}, c.NewNetwork())

	logger, err := c.Logger()
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestLoadProcess(t *testing.T) {
	path := writeConfig(t, `
transport: process
worker_command: [/usr/local/bin/distvec, worker]
`)
	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 4, c.Workers)
	spawner, ok := c.NewSpawner(nil).(*transport.ProcessSpawner)
	require.True(t, ok)
	require.Equal(t, "/usr/local/bin/distvec", spawner.Path)
	require.Equal(t, []string{"worker"}, spawner.Args)
}

func TestLoadErrors(t *testing.T) {
	for name, contents := range map[string]string{
		"Workers":       "workers: 0",
		"Transport":     "transport: carrier-pigeon",
		"Command":       "transport: process",
		"Level":         "log_level: loud",
		"Latency":       "network: {max_latency: -1s}",
		"UnknownField":  "worker: 3",
		"MalformedYAML": "workers: [",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, contents))
			require.Error(t, err)
		})
	}
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestNetworks(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	require.Equal(t, transport.DirectNetwork{}, c.NewNetwork())

	c.Network.MaxLatency = time.Millisecond
	require.Equal(t, transport.RandomNetwork{MaxLatency: time.Millisecond}, c.NewNetwork())

	spawner, ok := c.NewSpawner(func(t transport.Transport) {}).(*transport.GoSpawner)
	require.True(t, ok)
	require.NotNil(t, spawner.Entry)
}
