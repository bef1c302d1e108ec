package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/golang/groupcache/lru"
	"github.com/sirupsen/logrus"

	"tauphi/backend/perf"
	"tauphi/backend/symbol"
	"tauphi/backend/utils"
)

type processIndex struct {
	info     *symbol.ProcessInfo
	index    *symbol.Index
	watcher  *symbol.FileWatcher
	cancel   context.CancelFunc
	released bool
}

func (process *processIndex) release() {
	process.released = true
	process.cancel()
	if process.watcher != nil {
		process.watcher.Release()
	}
	if err := process.index.Close(); err != nil {
		logrus.Warnf("Failed to close symbol index [%s], err [%s]", process.index.Session(), err)
	}
}

// sampleRecord is one line of output.
type sampleRecord struct {
	symbol.ResolvedSample
	Cmdline string `json:"cmdline,omitempty"`
}

// resolver keeps a symbol index for the most recently sampled processes and
// rebuilds one once a backing file changes on disk. Samples of processes
// whose maps cannot be read resolve against a shared index without regions.
type resolver struct {
	command symbol.CommandFunc
	ksyms   *symbol.KsymCache
	metrics *symbol.Metrics
	encoder *json.Encoder
	graph   *utils.FlameGraphData

	processes *lru.Cache
	fallback  *symbol.Index
	stale     chan uint32
}

func newResolver(tool string, ksyms *symbol.KsymCache, metrics *symbol.Metrics, output io.Writer, maxProcesses int) *resolver {
	r := &resolver{
		command:   symbol.Addr2Line(tool),
		ksyms:     ksyms,
		metrics:   metrics,
		encoder:   json.NewEncoder(output),
		graph:     utils.NewFlameGraphData(),
		processes: lru.New(maxProcesses),
		stale:     make(chan uint32, 64),
	}
	r.processes.OnEvicted = func(key lru.Key, value interface{}) {
		process := value.(*processIndex)
		logrus.Debugf("Released symbol index of pid [%d]", key)
		process.release()
	}
	r.fallback = symbol.NewIndex(nil, r.indexOptions()...)
	return r
}

func (r *resolver) indexOptions() []symbol.IndexOption {
	opts := []symbol.IndexOption{symbol.WithCommand(r.command), symbol.WithMetrics(r.metrics)}
	if r.ksyms != nil {
		opts = append(opts, symbol.WithKsyms(r.ksyms))
	}
	return opts
}

// processFor returns the cached index of pid, building it on first use. It
// returns nil when the process cannot be inspected.
func (r *resolver) processFor(ctx context.Context, pid uint32) *processIndex {
	if value, ok := r.processes.Get(pid); ok {
		return value.(*processIndex)
	}

	info, err := symbol.ReadProcessInfo(int(pid))
	if err != nil {
		logrus.Debugf("Failed to read process info of pid [%d], err [%s]", pid, err)
		return nil
	}

	index := symbol.NewIndex(info.Regions, r.indexOptions()...)
	watchCtx, cancel := context.WithCancel(ctx)
	process := &processIndex{info: info, index: index, cancel: cancel}
	if len(index.Paths()) > 0 {
		watcher, err := symbol.NewFileWatcher(index.Paths())
		if err != nil {
			logrus.Warnf("Failed to watch files of pid [%d], err [%s]", pid, err)
		} else {
			process.watcher = watcher
			go watcher.Run(watchCtx, func(path string) {
				logrus.Debugf("File [%s] of pid [%d] changed", path, pid)
				select {
				case r.stale <- pid:
				case <-watchCtx.Done():
				}
			})
		}
	}

	r.processes.Add(pid, process)
	return process
}

func (r *resolver) invalidate(pid uint32) {
	r.processes.Remove(pid)
}

func (r *resolver) resolve(ctx context.Context, sample perf.Sample) sampleRecord {
	process := r.processFor(ctx, sample.Pid)
	if process == nil {
		return sampleRecord{ResolvedSample: r.fallback.ResolveSample(sample)}
	}
	return sampleRecord{
		ResolvedSample: process.index.ResolveSample(sample),
		Cmdline:        process.info.Cmdline,
	}
}

func (r *resolver) run(ctx context.Context, samples <-chan perf.Sample, limit uint64) error {
	var resolved uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case pid := <-r.stale:
			r.invalidate(pid)
		case sample, ok := <-samples:
			if !ok {
				return nil
			}
			record := r.resolve(ctx, sample)
			if err := r.encoder.Encode(record); err != nil {
				return err
			}
			r.graph.Add(stackOf(record.ResolvedSample), 1)
			resolved++
			if limit > 0 && resolved >= limit {
				return nil
			}
		}
	}
}

// stackOf names the frames of a resolved sample leaf first. Context markers
// are dropped and the IP stands in for an empty call chain.
func stackOf(resolved symbol.ResolvedSample) []string {
	stack := make([]string, 0, len(resolved.Callchain)+1)
	for i, frame := range resolved.Callchain {
		if perf.IsContextMarker(resolved.Sample.Callchain[i]) {
			continue
		}
		stack = append(stack, frameName(frame))
	}
	if len(stack) == 0 {
		stack = append(stack, frameName(resolved.IP))
	}
	return stack
}

func frameName(frame *symbol.FuncSymbol) string {
	if frame == nil {
		return "[unknown]"
	}
	return frame.Name
}

func (r *resolver) writeFlameGraph(path string) error {
	if path == "" {
		return nil
	}
	return r.graph.WriteToFile(path)
}

func (r *resolver) release() {
	r.processes.Clear()
	if err := r.fallback.Close(); err != nil {
		logrus.Warnf("Failed to close symbol index [%s], err [%s]", r.fallback.Session(), err)
	}
}
