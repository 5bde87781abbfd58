package host

import "unsafe"

// Comm is the runtime's communicator as seen by a collective component.
type Comm interface {
	// ID is the communicator's context identifier, unique within the process.
	ID() uint32
	Name() string
	Size() int
	Rank() int
	IsInter() bool
	// IsWorld reports whether the communicator spans every process in the job.
	IsWorld() bool
	// WorldRank maps a communicator rank to its rank in the world communicator.
	WorldRank(rank int) int
	// Allgather is an out-of-band byte exchange used while bootstrapping.
	Allgather(send, recv []byte) error
}

// Runtime carries the process-wide facts a component needs at open time.
type Runtime struct {
	// ThreadMultiple reports that collectives may be invoked from several goroutines.
	ThreadMultiple bool
	WorldSize      int
	WorldRank      int
	Progress       *Progress
}

// Info carries key/value hints for persistent collectives.
type Info map[string]string

var inPlace [1]byte

// InPlace is passed as a send buffer to reuse the receive buffer.
var InPlace = inPlace[:0]

// IsInPlace reports whether b is the InPlace marker.
func IsInPlace(b []byte) bool {
	return cap(b) > 0 && unsafe.SliceData(b) == &inPlace[0]
}
