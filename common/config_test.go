package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	config, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), *config)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeFile(t, "tauphi.yaml", `
frequency: 250
callchain_depth: 64
retention: 5s
wakeup_interval: 20ms
translator_tool: llvm-addr2line
kernel_symbols: true
output: /tmp/samples.json
flamegraph: /tmp/flamegraph.json
max_processes: 8
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, uint64(250), config.Frequency)
	require.Equal(t, uint16(64), config.CallchainDepth)
	require.Equal(t, 5*time.Second, config.Retention)
	require.Equal(t, 20*time.Millisecond, config.WakeupInterval)
	require.Equal(t, "llvm-addr2line", config.TranslatorTool)
	require.True(t, config.KernelSymbols)
	require.Equal(t, DefaultMetricsAddr, config.MetricsAddr)
	require.Equal(t, "/tmp/samples.json", config.Output)
	require.Equal(t, "/tmp/flamegraph.json", config.FlameGraph)
	require.Equal(t, 8, config.MaxProcesses)
}

func TestLoadConfigRejectsUnknownFields(t *testing.T) {
	path := writeFile(t, "tauphi.yaml", "frequncy: 250\n")
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeFile(t, "tauphi.yaml", "frequency: 250\nretention: 5s\n")
	t.Setenv("TAUPHI_FREQUENCY", "1000")
	t.Setenv("TAUPHI_WAKEUP_INTERVAL", "1s")
	t.Setenv("TAUPHI_METRICS_ADDR", "")

	config, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), config.Frequency)
	require.Equal(t, 5*time.Second, config.Retention)
	require.Equal(t, time.Second, config.WakeupInterval)
	require.Equal(t, DefaultMetricsAddr, config.MetricsAddr)

	t.Setenv("TAUPHI_CALLCHAIN_DEPTH", "many")
	_, err = LoadConfig(path)
	require.Error(t, err)
}

func TestConfigCheck(t *testing.T) {
	cases := map[string]func(*Config){
		"zero frequency":   func(config *Config) { config.Frequency = 0 },
		"deep callchain":   func(config *Config) { config.CallchainDepth = 124 },
		"zero retention":   func(config *Config) { config.Retention = 0 },
		"negative wakeup":  func(config *Config) { config.WakeupInterval = -time.Second },
		"empty translator": func(config *Config) { config.TranslatorTool = "" },
		"no processes":     func(config *Config) { config.MaxProcesses = 0 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			config := DefaultConfig()
			mutate(&config)
			require.Error(t, config.Check())
		})
	}

	config := DefaultConfig()
	require.NoError(t, config.Check())
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	applied, err := LoadEnv(dir)
	require.NoError(t, err)
	require.Empty(t, applied)

	content := "TAUPHI_TEST_LOAD_B=file\nTAUPHI_TEST_LOAD_A=file\nTAUPHI_TEST_KEPT=file\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, EnvFile), []byte(content), 0o644))
	for _, name := range []string{"TAUPHI_TEST_LOAD_A", "TAUPHI_TEST_LOAD_B"} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
	t.Setenv("TAUPHI_TEST_KEPT", "env")

	applied, err = LoadEnv(dir)
	require.NoError(t, err)
	require.Equal(t, []string{"TAUPHI_TEST_LOAD_A", "TAUPHI_TEST_LOAD_B"}, applied)
	require.Equal(t, "file", os.Getenv("TAUPHI_TEST_LOAD_A"))
	require.Equal(t, "file", os.Getenv("TAUPHI_TEST_LOAD_B"))
	require.Equal(t, "env", os.Getenv("TAUPHI_TEST_KEPT"))
}

func TestLoadEnvMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, EnvFile), []byte("TAUPHI_TEST_BROKEN=\"unterminated\n"), 0o644))
	_, err := LoadEnv(dir)
	require.Error(t, err)
}
