package perf

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

type RecordType uint32

const (
	LostRec   RecordType = unix.PERF_RECORD_LOST
	SampleRec RecordType = unix.PERF_RECORD_SAMPLE
)

// Header is struct perf_event_header.
type Header struct {
	Type RecordType
	Misc uint16
	Size uint16
}

const headerSize = int(unsafe.Sizeof(Header{}))

const (
	// MaxCallchain is the number of call chain entries a record can carry.
	MaxCallchain = 123
	// RawRecordSize is the size of rawRecord, header fields included.
	RawRecordSize = 1024
	// rawRecordFixedSize covers every field in front of the call chain.
	rawRecordFixedSize = 40
	// ContextMax is PERF_CONTEXT_MAX. Call chain entries at or above it mark
	// a switch between kernel and user frames rather than an address.
	ContextMax = ^uint64(0) - 4094
)

func IsContextMarker(addr uint64) bool {
	return addr >= ContextMax
}

// rawRecord is the body of a PERF_RECORD_SAMPLE for the sample type
// IP|TID|TIME|CPU|CALLCHAIN, with the call chain capped at MaxCallchain.
type rawRecord struct {
	IP      uint64
	Pid     uint32
	Tid     uint32
	Time    uint64
	CPU     uint32
	_       uint32
	Nr      uint64
	Entries [MaxCallchain]uint64
}

// Compile-time size checks: both fail to build unless the layout is exactly
// RawRecordSize bytes with rawRecordFixedSize bytes ahead of the call chain.
var (
	_ = [1]struct{}{}[unsafe.Sizeof(rawRecord{})-RawRecordSize]
	_ = [1]struct{}{}[unsafe.Offsetof(rawRecord{}.Entries)-rawRecordFixedSize]
)

// Sample is one decoded observation.
type Sample struct {
	IP        uint64   `json:"ip"`
	Pid       uint32   `json:"pid"`
	Tid       uint32   `json:"tid"`
	Time      uint64   `json:"time"`
	CPU       uint32   `json:"cpu"`
	Callchain []uint64 `json:"callchain"`
}

// decodeSample decodes the first n bytes of a sample body. Bodies shorter
// than the fixed fields yield nil. The call chain is limited by the reported
// count, MaxCallchain and the number of entries actually present.
func decodeSample(body []byte) *Sample {
	parser := FieldParser(body)
	if parser.Len() < rawRecordFixedSize {
		return nil
	}

	var sample Sample
	var nr uint64
	parser.Uint64(&sample.IP)
	parser.Uint32(&sample.Pid)
	parser.Uint32(&sample.Tid)
	parser.Uint64(&sample.Time)
	parser.Uint32(&sample.CPU)
	parser.Skip(4)
	parser.Uint64(&nr)

	nr = min(nr, MaxCallchain, uint64(parser.Len()/8))
	sample.Callchain = make([]uint64, nr)
	for i := range sample.Callchain {
		parser.Uint64(&sample.Callchain[i])
	}
	return &sample
}

// decodeLost returns the lost count of a PERF_RECORD_LOST body.
func decodeLost(body []byte) (uint64, bool) {
	var id, lost uint64
	parser := FieldParser(body)
	if !parser.Uint64(&id) || !parser.Uint64(&lost) {
		return 0, false
	}
	return lost, true
}
