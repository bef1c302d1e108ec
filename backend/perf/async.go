package perf

import (
	"context"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// AsyncSource waits for samples by polling the channel descriptor instead of
// spinning. Concurrent GetSample calls are served one at a time, in no
// particular order.
type AsyncSource struct {
	channel   *Channel
	metrics   *Metrics
	termFd    int
	sem       chan struct{}
	closeOnce sync.Once
	closed    chan struct{}
}

func NewAsyncSource(channel *Channel) (*AsyncSource, error) {
	termFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, os.NewSyscallError("eventfd", err)
	}

	return &AsyncSource{
		channel: channel,
		metrics: channel.metrics,
		termFd:  termFd,
		sem:     make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}, nil
}

func (source *AsyncSource) Channel() *Channel {
	return source.channel
}

// GetSample returns a buffered sample immediately if there is one, otherwise
// it suspends until the kernel signals readiness or ctx is done. A cancelled
// call leaves the source ready for reuse.
func (source *AsyncSource) GetSample(ctx context.Context) (Sample, error) {
	select {
	case source.sem <- struct{}{}:
	case <-ctx.Done():
		return Sample{}, ctx.Err()
	case <-source.closed:
		return Sample{}, ErrClosed
	}
	defer func() { <-source.sem }()

	hangup := false
	for {
		if sample := source.channel.TryNextSample(); sample != nil {
			return *sample, nil
		}
		if hangup {
			return Sample{}, ErrHangup
		}

		select {
		case <-source.closed:
			return Sample{}, ErrClosed
		default:
		}
		fd := source.channel.Fd()
		if fd < 0 {
			return Sample{}, ErrClosed
		}

		revents, err := source.wait(ctx, fd)
		if err != nil {
			return Sample{}, err
		}
		if revents&unix.POLLIN != 0 {
			source.metrics.Wakeups.Inc()
		}
		hangup = revents&(unix.POLLHUP|unix.POLLERR) != 0
		if err := ctx.Err(); err != nil {
			return Sample{}, err
		}
	}
}

// wait blocks until fd is readable or the source is interrupted and returns
// the events seen on fd. The interruption counter is drained before
// returning so the next wait starts quiescent. Polling the perf descriptor
// consumes its wakeup flag.
func (source *AsyncSource) wait(ctx context.Context, fd int) (int16, error) {
	done := make(chan struct{})
	var watcher sync.WaitGroup
	watcher.Add(1)
	go func() {
		defer watcher.Done()
		select {
		case <-ctx.Done():
			source.interrupt()
		case <-source.closed:
			source.interrupt()
		case <-done:
		}
	}()

	pollFds := []unix.PollFd{
		{Fd: int32(fd), Events: unix.POLLIN},
		{Fd: int32(source.termFd), Events: unix.POLLIN},
	}
	var err error
	for {
		_, err = unix.Poll(pollFds, -1)
		if err != unix.EINTR {
			break
		}
	}

	close(done)
	watcher.Wait()
	source.drain()

	if err != nil {
		return 0, os.NewSyscallError("poll", err)
	}
	return pollFds[0].Revents, nil
}

func (source *AsyncSource) interrupt() {
	val := uint64(1)
	buf := (*[8]byte)(unsafe.Pointer(&val))[:]
	unix.Write(source.termFd, buf)
}

func (source *AsyncSource) drain() {
	var buf [8]byte
	unix.Read(source.termFd, buf[:])
}

// Close interrupts pending GetSample calls, then closes the channel.
func (source *AsyncSource) Close() error {
	var err error
	source.closeOnce.Do(func() {
		close(source.closed)
		// Wait for the in-flight call to leave poll before the descriptors go away.
		source.sem <- struct{}{}
		err = source.channel.Close()
		unix.Close(source.termFd)
	})
	return err
}
