package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDotCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"dot", "--workers", "3", "--size", "1000", "--log-level", "error"})
	require.NoError(t, rootCmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	require.Equal(t, "workers:     3 (largest partition 334)", lines[0])
	require.True(t, strings.HasPrefix(lines[3], "difference:"))
}

func TestLoadConfigOverrides(t *testing.T) {
	configPath, numWorkers, logLevel = "", 5, "warn"
	defer func() {
		configPath, numWorkers, logLevel = "", 0, ""
	}()
	cfg, err := loadConfig()
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Workers)
	require.Equal(t, "warn", cfg.LogLevel)

	numWorkers = -1
	_, err = loadConfig()
	require.Error(t, err)
}
