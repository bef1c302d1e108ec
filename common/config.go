package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const (
	DefaultFrequency      = 99
	DefaultCallchainDepth = 123
	DefaultRetention      = 10 * time.Second
	DefaultWakeupInterval = 100 * time.Millisecond
	DefaultTranslatorTool = "addr2line"
	DefaultMetricsAddr    = ":9464"
	DefaultMaxProcesses   = 64

	maxCallchainDepth = 123
	envPrefix         = "TAUPHI_"
)

type Config struct {
	Frequency      uint64        `yaml:"frequency"`
	CallchainDepth uint16        `yaml:"callchain_depth"`
	Retention      time.Duration `yaml:"retention"`
	WakeupInterval time.Duration `yaml:"wakeup_interval"`
	TranslatorTool string        `yaml:"translator_tool"`
	KernelSymbols  bool          `yaml:"kernel_symbols"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	Output         string        `yaml:"output"`
	FlameGraph     string        `yaml:"flamegraph"`
	MaxProcesses   int           `yaml:"max_processes"`
}

func DefaultConfig() Config {
	return Config{
		Frequency:      DefaultFrequency,
		CallchainDepth: DefaultCallchainDepth,
		Retention:      DefaultRetention,
		WakeupInterval: DefaultWakeupInterval,
		TranslatorTool: DefaultTranslatorTool,
		MetricsAddr:    DefaultMetricsAddr,
		MaxProcesses:   DefaultMaxProcesses,
	}
}

// LoadConfig reads the YAML file at path over the defaults, then applies
// TAUPHI_* environment overrides. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.UnmarshalStrict(data, &config); err != nil {
			return nil, errors.Wrapf(err, "failed to decode config [%s]", path)
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	if err := config.Check(); err != nil {
		return nil, err
	}
	return &config, nil
}

func lookupEnv(name string) (string, bool) {
	value, ok := os.LookupEnv(envPrefix + name)
	return value, ok && value != ""
}

func (config *Config) applyEnv() error {
	if value, ok := lookupEnv("FREQUENCY"); ok {
		frequency, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrap(err, "invalid "+envPrefix+"FREQUENCY")
		}
		config.Frequency = frequency
	}
	if value, ok := lookupEnv("CALLCHAIN_DEPTH"); ok {
		depth, err := strconv.ParseUint(value, 10, 16)
		if err != nil {
			return errors.Wrap(err, "invalid "+envPrefix+"CALLCHAIN_DEPTH")
		}
		config.CallchainDepth = uint16(depth)
	}
	if value, ok := lookupEnv("RETENTION"); ok {
		retention, err := time.ParseDuration(value)
		if err != nil {
			return errors.Wrap(err, "invalid "+envPrefix+"RETENTION")
		}
		config.Retention = retention
	}
	if value, ok := lookupEnv("WAKEUP_INTERVAL"); ok {
		interval, err := time.ParseDuration(value)
		if err != nil {
			return errors.Wrap(err, "invalid "+envPrefix+"WAKEUP_INTERVAL")
		}
		config.WakeupInterval = interval
	}
	if value, ok := lookupEnv("KERNEL_SYMBOLS"); ok {
		kernelSymbols, err := strconv.ParseBool(value)
		if err != nil {
			return errors.Wrap(err, "invalid "+envPrefix+"KERNEL_SYMBOLS")
		}
		config.KernelSymbols = kernelSymbols
	}
	if value, ok := lookupEnv("MAX_PROCESSES"); ok {
		maxProcesses, err := strconv.Atoi(value)
		if err != nil {
			return errors.Wrap(err, "invalid "+envPrefix+"MAX_PROCESSES")
		}
		config.MaxProcesses = maxProcesses
	}
	if value, ok := lookupEnv("TRANSLATOR_TOOL"); ok {
		config.TranslatorTool = value
	}
	if value, ok := lookupEnv("METRICS_ADDR"); ok {
		config.MetricsAddr = value
	}
	if value, ok := lookupEnv("OUTPUT"); ok {
		config.Output = value
	}
	if value, ok := lookupEnv("FLAMEGRAPH"); ok {
		config.FlameGraph = value
	}
	return nil
}

func (config *Config) Check() error {
	if config.Frequency == 0 {
		return fmt.Errorf("frequency must be positive")
	}
	if config.CallchainDepth > maxCallchainDepth {
		return fmt.Errorf("callchain depth %d exceeds %d", config.CallchainDepth, maxCallchainDepth)
	}
	if config.Retention <= 0 {
		return fmt.Errorf("retention must be positive, got %s", config.Retention)
	}
	if config.WakeupInterval <= 0 {
		return fmt.Errorf("wakeup interval must be positive, got %s", config.WakeupInterval)
	}
	if config.MaxProcesses <= 0 {
		return fmt.Errorf("max processes must be positive, got %d", config.MaxProcesses)
	}
	if config.TranslatorTool == "" {
		return fmt.Errorf("translator tool is empty")
	}
	return nil
}
