package perf

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

type SoftwareEvent uint64

const (
	CPUClock  SoftwareEvent = unix.PERF_COUNT_SW_CPU_CLOCK
	TaskClock SoftwareEvent = unix.PERF_COUNT_SW_TASK_CLOCK
)

func (event SoftwareEvent) Configure(attr *Attr) {
	attr.Type = unix.PERF_TYPE_SOFTWARE
	attr.Config = uint64(event)
}

// SampleFormat mirrors the PERF_SAMPLE_* bits. The field order is the bit order.
type SampleFormat struct {
	IP        bool
	Tid       bool
	Time      bool
	Addr      bool
	Read      bool
	Callchain bool
	ID        bool
	CPU       bool
}

func bitFieldsToUint64(bitFields []bool) uint64 {
	var val uint64

	for shift, set := range bitFields {
		if set {
			val |= (1 << uint(shift))
		}
	}

	return val
}

func (format *SampleFormat) BitFields() uint64 {
	return bitFieldsToUint64([]bool{
		format.IP,
		format.Tid,
		format.Time,
		format.Addr,
		format.Read,
		format.Callchain,
		format.ID,
		format.CPU,
	})
}

// Options mirrors the leading flag bits of perf_event_attr.
type Options struct {
	Disabled      bool
	Inherit       bool
	Pinned        bool
	Exclusive     bool
	ExcludeUser   bool
	ExcludeKernel bool
	ExcludeHv     bool
	ExcludeIdle   bool
	Mmap          bool
	Comm          bool
	Freq          bool
	InheritStat   bool
	EnableOnExec  bool
	Task          bool
	Watermark     bool
}

func (opt *Options) BitFields() uint64 {
	return bitFieldsToUint64([]bool{
		opt.Disabled,
		opt.Inherit,
		opt.Pinned,
		opt.Exclusive,
		opt.ExcludeUser,
		opt.ExcludeKernel,
		opt.ExcludeHv,
		opt.ExcludeIdle,
		opt.Mmap,
		opt.Comm,
		opt.Freq,
		opt.InheritStat,
		opt.EnableOnExec,
		opt.Task,
		opt.Watermark,
	})
}

type Attr struct {
	Type           uint32
	Config         uint64
	Sample         uint64
	SampleFormat   SampleFormat
	Options        Options
	Wakeup         uint32
	SampleMaxStack uint16
}

func (attr *Attr) ToUnixPerfEventAttr() *unix.PerfEventAttr {
	return &unix.PerfEventAttr{
		Type:             attr.Type,
		Size:             uint32(unsafe.Sizeof(unix.PerfEventAttr{})),
		Config:           attr.Config,
		Sample:           attr.Sample,
		Sample_type:      attr.SampleFormat.BitFields(),
		Bits:             attr.Options.BitFields(),
		Wakeup:           attr.Wakeup,
		Sample_max_stack: attr.SampleMaxStack,
	}
}

func (attr *Attr) SetSampleFreq(freq uint64) {
	attr.Sample = freq
	attr.Options.Freq = true
}

func (attr *Attr) SetWakeupEvents(events uint32) {
	attr.Wakeup = events
	attr.Options.Watermark = false
}

// samplingAttr builds the attribute used by every Channel: a disabled
// task-clock event sampled by frequency whose records match rawRecord.
func samplingAttr(frequency uint64, wakeupEvents uint32, callchainDepth uint16) *Attr {
	attr := &Attr{
		SampleFormat: SampleFormat{
			IP:        true,
			Tid:       true,
			Time:      true,
			CPU:       true,
			Callchain: true,
		},
		Options: Options{
			Disabled: true,
		},
		SampleMaxStack: callchainDepth,
	}
	TaskClock.Configure(attr)
	attr.SetSampleFreq(frequency)
	attr.SetWakeupEvents(wakeupEvents)
	return attr
}
