package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/cpu"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"tauphi/backend/perf"
	"tauphi/backend/symbol"
	"tauphi/common"
	tauphiprom "tauphi/prometheus"
)

const sampleQueueSize = 4096

var (
	configPath string
	metaDir    string
	pid        int
	duration   time.Duration
	maxSamples uint64
	logLevel   string
)

func init() {
	flag.StringVar(&configPath, "config", "", "The path of the YAML config file")
	flag.StringVar(&metaDir, "meta_dir", "/etc/tauphi/", "The directory holding tauphi.env")
	flag.IntVar(&pid, "pid", -1, "The pid to profile, all CPUs when unset")
	flag.DurationVar(&duration, "duration", 0, "How long to profile, until interrupted when zero")
	flag.Uint64Var(&maxSamples, "samples", 0, "How many samples to resolve, unlimited when zero")
	flag.StringVar(&logLevel, "log_level", "info", "The logrus log level")
	flag.Usage = usage
}

func usage() {
	fmt.Println("Usage: tauphi [config] [meta_dir] [pid] [duration] [samples] [log_level]")
	flag.PrintDefaults()
}

func targets() ([]perf.Target, error) {
	if pid >= 0 {
		return []perf.Target{perf.PIDTarget(pid)}, nil
	}

	cpus, err := cpu.Counts(true)
	if err != nil {
		return nil, err
	}
	targets := make([]perf.Target, 0, cpus)
	for i := 0; i < cpus; i++ {
		targets = append(targets, perf.CPUTarget(i))
	}
	return targets, nil
}

func openSources(config *common.Config, metrics *perf.Metrics) ([]*perf.AsyncSource, error) {
	targets, err := targets()
	if err != nil {
		return nil, err
	}

	sources := []*perf.AsyncSource{}
	for _, target := range targets {
		channel, err := perf.Open(target, config.Frequency, config.CallchainDepth,
			perf.WithRetention(config.Retention),
			perf.WithWakeupInterval(config.WakeupInterval),
			perf.WithMetrics(metrics))
		if err != nil {
			closeSources(sources)
			return nil, err
		}

		source, err := perf.NewAsyncSource(channel)
		if err != nil {
			channel.Close()
			closeSources(sources)
			return nil, err
		}
		sources = append(sources, source)
	}
	return sources, nil
}

func closeSources(sources []*perf.AsyncSource) {
	for _, source := range sources {
		if err := source.Close(); err != nil {
			logrus.Warnf("Failed to close source [%s], err [%s]", source.Channel().Target(), err)
		}
	}
}

func collect(ctx context.Context, source *perf.AsyncSource, samples chan<- perf.Sample) error {
	if err := source.Channel().Start(true); err != nil {
		return err
	}

	for {
		sample, err := source.GetSample(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			if errors.Is(err, perf.ErrHangup) || errors.Is(err, perf.ErrClosed) {
				logrus.Infof("Stopped sampling [%s], err [%s]", source.Channel().Target(), err)
				return nil
			}
			return err
		}

		select {
		case samples <- sample:
		case <-ctx.Done():
			return nil
		}
	}
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

func openOutput(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	return os.Create(path)
}

func serveMetrics(ctx context.Context, group *errgroup.Group, addr string, reg *prometheus.Registry) {
	server := &http.Server{Addr: addr, Handler: tauphiprom.NewRouter(reg)}

	group.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "failed to serve metrics")
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
}

func run(ctx context.Context, config *common.Config) error {
	reg := prometheus.NewRegistry()
	perfMetrics := perf.NewMetrics(reg)
	symbolMetrics := symbol.NewMetrics(reg)

	var ksyms *symbol.KsymCache
	if config.KernelSymbols {
		var err error
		if ksyms, err = symbol.NewKsymCache(); err != nil {
			logrus.Warnf("Failed to load kernel symbols, err [%s]", err)
		}
	}

	output, err := openOutput(config.Output)
	if err != nil {
		return err
	}
	defer output.Close()

	sources, err := openSources(config, perfMetrics)
	if err != nil {
		return err
	}
	defer closeSources(sources)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	symbolizer := newResolver(config.TranslatorTool, ksyms, symbolMetrics, output, config.MaxProcesses)
	defer symbolizer.release()

	group, groupCtx := errgroup.WithContext(ctx)
	if config.MetricsAddr != "" {
		serveMetrics(groupCtx, group, config.MetricsAddr, reg)
	}

	samples := make(chan perf.Sample, sampleQueueSize)
	collectors, collectCtx := errgroup.WithContext(groupCtx)
	for _, source := range sources {
		source := source
		collectors.Go(func() error {
			return collect(collectCtx, source, samples)
		})
	}
	group.Go(func() error {
		err := collectors.Wait()
		close(samples)
		return err
	})

	group.Go(func() error {
		defer cancel()
		return symbolizer.run(groupCtx, samples, maxSamples)
	})

	logrus.Infof("Profiling [%d] targets at [%d] Hz", len(sources), config.Frequency)
	if err := group.Wait(); err != nil {
		return err
	}
	return symbolizer.writeFlameGraph(config.FlameGraph)
}

func main() {
	flag.Parse()

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatal(err)
	}
	logrus.SetLevel(level)

	applied, err := common.LoadEnv(metaDir)
	if err != nil {
		logrus.Fatalf("Failed to load env, err [%s]", err)
	}
	if len(applied) > 0 {
		logrus.Infof("Loaded [%s] from [%s]", strings.Join(applied, ", "), common.EnvFile)
	}
	config, err := common.LoadConfig(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config, err [%s]", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	if err := run(ctx, config); err != nil {
		logrus.Errorf("Failed to profile, err [%s]", err)
		os.Exit(1)
	}
}
