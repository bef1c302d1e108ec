package perf

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const (
	AnyPID = -1
	AnyCPU = -1
)

// Target selects what a Channel samples: one CPU (any process) or one
// process (any CPU). The kernel refuses to sample every process on every CPU
// through a single event.
type Target struct {
	CPU int
	PID int
}

func CPUTarget(cpu int) Target {
	return Target{CPU: cpu, PID: AnyPID}
}

func PIDTarget(pid int) Target {
	return Target{CPU: AnyCPU, PID: pid}
}

func (target Target) check() error {
	if (target.CPU == AnyCPU) == (target.PID == AnyPID) {
		return ErrInvalidTarget
	}
	if target.CPU < AnyCPU || target.PID < AnyPID {
		return ErrInvalidTarget
	}
	return nil
}

func (target Target) String() string {
	if target.PID != AnyPID {
		return fmt.Sprintf("pid %d", target.PID)
	}
	return fmt.Sprintf("cpu %d", target.CPU)
}

// handle owns one perf event descriptor and its ring buffer. It is created
// fully open and released exactly once.
type handle struct {
	fd      int
	ringBuf *RingBuf
	ioctl   func(fd int, req uint) error
	release func() error
}

func ioctl(fd int, req uint) error {
	return unix.IoctlSetInt(fd, req, 0)
}

func openHandle(attr *Attr, target Target, pages int) (*handle, error) {
	fd, err := unix.PerfEventOpen(attr.ToUnixPerfEventAttr(), target.PID, target.CPU, -1, unix.PERF_FLAG_FD_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("perf_event_open", err)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("set_non_block", err)
	}

	ringBuf, err := mapRingBuf(fd, pages)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	return &handle{
		fd:      fd,
		ringBuf: ringBuf,
		ioctl:   ioctl,
		release: func() error {
			unmapErr := ringBuf.unmap()
			if err := unix.Close(fd); err != nil {
				return os.NewSyscallError("close", err)
			}
			return unmapErr
		},
	}, nil
}

func (h *handle) enable() error {
	return os.NewSyscallError("ioctl_enable", h.ioctl(h.fd, unix.PERF_EVENT_IOC_ENABLE))
}

func (h *handle) disable() error {
	return os.NewSyscallError("ioctl_disable", h.ioctl(h.fd, unix.PERF_EVENT_IOC_DISABLE))
}

func (h *handle) reset() error {
	return os.NewSyscallError("ioctl_reset", h.ioctl(h.fd, unix.PERF_EVENT_IOC_RESET))
}
