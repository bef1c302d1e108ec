package perf

import (
	"math/bits"
	"runtime"
	"sync"
	"time"
	"unsafe"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	DefaultRetention      = 10 * time.Second
	DefaultWakeupInterval = 100 * time.Millisecond
)

type options struct {
	retention      time.Duration
	wakeupInterval time.Duration
	metrics        *Metrics
}

type Option func(*options)

// WithRetention sets how much sampling time the ring buffer must be able to hold.
func WithRetention(retention time.Duration) Option {
	return func(opts *options) {
		opts.retention = retention
	}
}

// WithWakeupInterval sets the target spacing of readiness notifications.
func WithWakeupInterval(interval time.Duration) Option {
	return func(opts *options) {
		opts.wakeupInterval = interval
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(opts *options) {
		opts.metrics = metrics
	}
}

// NextPowerOfTwo returns the smallest power of two >= n; zero maps to one.
func NextPowerOfTwo(n uint64) uint64 {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len64(n-1)
}

// RingPages returns the number of data pages needed to retain the given
// amount of sampling at frequency records per second.
func RingPages(retention time.Duration, frequency, recordSize, pageSize uint64) uint64 {
	if retention <= 0 {
		return 1
	}

	hi, lo := bits.Mul64(uint64(retention), frequency*recordSize)
	if hi >= uint64(time.Second) {
		return NextPowerOfTwo(^uint64(0) / pageSize)
	}
	bytes, _ := bits.Div64(hi, lo, uint64(time.Second))
	return NextPowerOfTwo(bytes / pageSize)
}

// WakeupEvents returns how many samples to batch per readiness notification
// so that notifications arrive about once per interval.
func WakeupEvents(interval time.Duration, frequency uint64) uint32 {
	events := frequency * uint64(interval) / uint64(time.Second)
	if events < 1 {
		return 1
	}
	return uint32(min(events, uint64(^uint32(0))))
}

// Channel owns one perf sampling event. It is not safe for concurrent
// readers; Close may be called from any goroutine.
type Channel struct {
	mutex   sync.Mutex
	target  Target
	handle  *handle
	metrics *Metrics
	record  rawRecord
}

// Open creates a stopped channel sampling target at frequency Hz with call
// chains of at most callchainDepth entries; zero selects MaxCallchain.
func Open(target Target, frequency uint64, callchainDepth uint16, opts ...Option) (*Channel, error) {
	options := options{
		retention:      DefaultRetention,
		wakeupInterval: DefaultWakeupInterval,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.metrics == nil {
		options.metrics = NewMetrics(nil)
	}

	if err := target.check(); err != nil {
		return nil, &OpenError{Target: target, Err: err}
	}

	pageSize := uint64(unix.Getpagesize())
	pages := RingPages(options.retention, frequency, RawRecordSize+uint64(headerSize), pageSize)
	wakeup := WakeupEvents(options.wakeupInterval, frequency)
	depth := min(callchainDepth, MaxCallchain)
	if depth == 0 {
		depth = MaxCallchain
	}

	attr := samplingAttr(frequency, wakeup, depth)
	handle, err := openHandle(attr, target, int(pages))
	if err != nil {
		return nil, &OpenError{Target: target, Err: err}
	}

	logrus.Debugf("Opened perf channel for [%s], pages [%d], wakeup events [%d]", target, pages, wakeup)
	return newChannel(target, handle, options.metrics), nil
}

func newChannel(target Target, handle *handle, metrics *Metrics) *Channel {
	channel := &Channel{
		target:  target,
		handle:  handle,
		metrics: metrics,
	}
	runtime.SetFinalizer(channel, func(channel *Channel) {
		if !channel.Closed() {
			logrus.Warnf("Perf channel for [%s] was never closed, releasing it", channel.target)
			channel.Close()
		}
	})
	return channel
}

func (channel *Channel) Target() Target {
	return channel.target
}

// Fd returns the descriptor signalled when samples are ready, or -1 once
// the channel is closed.
func (channel *Channel) Fd() int {
	channel.mutex.Lock()
	defer channel.mutex.Unlock()

	if channel.handle == nil {
		return -1
	}
	return channel.handle.fd
}

func (channel *Channel) Closed() bool {
	channel.mutex.Lock()
	defer channel.mutex.Unlock()

	return channel.handle == nil
}

// Start enables collection. With reset set, the counter is reset and records
// already queued in the ring are dropped first.
func (channel *Channel) Start(reset bool) error {
	channel.mutex.Lock()
	defer channel.mutex.Unlock()

	if channel.handle == nil {
		return &StartError{Err: ErrClosed}
	}
	if reset {
		if err := channel.handle.reset(); err != nil {
			return &StartError{Err: err}
		}
		channel.handle.ringBuf.discard()
	}
	if err := channel.handle.enable(); err != nil {
		return &StartError{Err: err}
	}
	return nil
}

// Stop disables collection without releasing anything. Stopping a stopped or
// closed channel is not an error.
func (channel *Channel) Stop() error {
	channel.mutex.Lock()
	defer channel.mutex.Unlock()

	if channel.handle == nil {
		return nil
	}
	if err := channel.handle.disable(); err != nil {
		return &StopError{Err: err}
	}
	return nil
}

// TryNextSample decodes the next queued sample, or returns nil when none is
// complete yet. Records that are not samples are consumed and skipped.
func (channel *Channel) TryNextSample() *Sample {
	channel.mutex.Lock()
	defer channel.mutex.Unlock()

	if channel.handle == nil {
		return nil
	}

	dest := (*[RawRecordSize]byte)(unsafe.Pointer(&channel.record))[:]
	for {
		header, n, ok := channel.handle.ringBuf.readEvent(dest)
		if !ok {
			return nil
		}

		switch header.Type {
		case SampleRec:
			if sample := decodeSample(dest[:n]); sample != nil {
				channel.metrics.SamplesRead.Inc()
				return sample
			}
		case LostRec:
			if lost, ok := decodeLost(dest[:n]); ok {
				channel.metrics.SamplesLost.Add(float64(lost))
			}
		}
		channel.metrics.RecordsSkipped.Inc()
	}
}

// Close stops the channel and releases its descriptor and ring buffer. Only
// the first call does anything.
func (channel *Channel) Close() error {
	channel.mutex.Lock()
	defer channel.mutex.Unlock()

	if channel.handle == nil {
		return nil
	}
	handle := channel.handle
	channel.handle = nil

	if err := handle.disable(); err != nil {
		logrus.Warnf("Failed to stop perf channel for [%s] before closing, err [%s]", channel.target, err)
	}
	return handle.release()
}
