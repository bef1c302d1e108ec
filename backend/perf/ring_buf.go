package perf

import (
	"encoding/binary"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// RingBuf is the memory mapped perf buffer: one metadata page followed by
// a power-of-two number of data pages written by the kernel.
type RingBuf struct {
	Ring     []byte
	RingData []byte
	MetaPage *unix.PerfEventMmapPage
}

func newRingBuf(ring []byte, pageSize int) *RingBuf {
	metaPage := (*unix.PerfEventMmapPage)(unsafe.Pointer(&ring[0]))
	// Kernels older than 4.1 leave the data layout fields zeroed.
	if metaPage.Data_offset == 0 && metaPage.Data_size == 0 {
		atomic.StoreUint64(&metaPage.Data_offset, uint64(pageSize))
		atomic.StoreUint64(&metaPage.Data_size, uint64(len(ring)-pageSize))
	}

	offset := metaPage.Data_offset
	return &RingBuf{
		Ring:     ring,
		RingData: ring[offset : offset+metaPage.Data_size],
		MetaPage: metaPage,
	}
}

func mapRingBuf(fd, pages int) (*RingBuf, error) {
	pageSize := unix.Getpagesize()
	ring, err := unix.Mmap(fd, 0, (pages+1)*pageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, os.NewSyscallError("mmap", err)
	}
	return newRingBuf(ring, pageSize), nil
}

func (ringBuf *RingBuf) unmap() error {
	return os.NewSyscallError("munmap", unix.Munmap(ringBuf.Ring))
}

// copyAt copies len(dest) bytes starting at the absolute ring position pos,
// following the wrap-around at the end of the data area.
func (ringBuf *RingBuf) copyAt(dest []byte, pos uint64) {
	start := pos % uint64(len(ringBuf.RingData))
	n := copy(dest, ringBuf.RingData[start:])
	copy(dest[n:], ringBuf.RingData)
}

// readEvent copies the body of the oldest complete record into dest and
// consumes it. It returns the record header and the number of bytes copied.
// ok is false when no complete record is available; nothing is consumed then.
func (ringBuf *RingBuf) readEvent(dest []byte) (header Header, n int, ok bool) {
	head := atomic.LoadUint64(&ringBuf.MetaPage.Data_head)
	tail := atomic.LoadUint64(&ringBuf.MetaPage.Data_tail)
	if tail+uint64(headerSize) > head {
		return header, 0, false
	}

	var raw [8]byte
	ringBuf.copyAt(raw[:], tail)
	header = Header{
		Type: RecordType(binary.NativeEndian.Uint32(raw[0:4])),
		Misc: binary.NativeEndian.Uint16(raw[4:6]),
		Size: binary.NativeEndian.Uint16(raw[6:8]),
	}

	if int(header.Size) < headerSize {
		// Corrupted header, nothing behind it can be trusted.
		atomic.StoreUint64(&ringBuf.MetaPage.Data_tail, head)
		return header, 0, false
	}
	if tail+uint64(header.Size) > head {
		return header, 0, false
	}

	n = min(int(header.Size)-headerSize, len(dest))
	ringBuf.copyAt(dest[:n], tail+uint64(headerSize))
	atomic.StoreUint64(&ringBuf.MetaPage.Data_tail, tail+uint64(header.Size))
	return header, n, true
}

// discard drops every queued record.
func (ringBuf *RingBuf) discard() {
	atomic.StoreUint64(&ringBuf.MetaPage.Data_tail, atomic.LoadUint64(&ringBuf.MetaPage.Data_head))
}
