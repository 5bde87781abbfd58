package engine

// RequestMode selects how a request will be driven.
type RequestMode uint8

const (
	ModeBlocking RequestMode = iota
	ModeNonBlocking
)

// RequestInfo carries per-request options. Complete, when set, is invoked
// once each time a started request finishes, possibly from inside Start.
type RequestInfo struct {
	Complete func(Status)
}

// Request is an opaque execution handle produced by a Group builder. A
// request may be started again once a previous run has completed.
type Request interface {
	Start() Status
	Test() Status
	Cleanup() Status
}

// RankMapType selects how group ranks translate to job-wide ranks.
type RankMapType uint8

const (
	RankMapFull RankMapType = iota
	RankMapCallback
)

// RankMap translates group ranks to global ranks.
type RankMap struct {
	Type    RankMapType
	Size    int
	Mapping func(rank int) int
}

// Global returns the job-wide rank for a group rank.
func (m RankMap) Global(rank int) int {
	if m.Type == RankMapCallback && m.Mapping != nil {
		return m.Mapping(rank)
	}
	return rank
}

// OOBGroup is the out-of-band channel used while a group bootstraps.
type OOBGroup struct {
	MyRank int
	Size   int
	// Allgather concatenates each member's send bytes into recv in rank order.
	Allgather func(send, recv []byte) error
}

// GroupParams describes a process group.
type GroupParams struct {
	ID      uint32
	Size    int
	MyRank  int
	RankMap RankMap
	OOB     OOBGroup
}

// Group is a process-group handle with one request builder per collective.
// Count and displacement arrays are in elements of the paired datatype.
type Group interface {
	ID() uint32
	Size() int
	Rank() int

	Bcast(buf []byte, count int, dt *Datatype, root int, info *RequestInfo, mode RequestMode) (Request, error)
	Barrier(info *RequestInfo, mode RequestMode) (Request, error)
	Allreduce(sbuf, rbuf []byte, count int, dt *Datatype, op *Op, info *RequestInfo, mode RequestMode) (Request, error)
	Alltoallv(sbuf []byte, scounts, sdispls []int32, sdt *Datatype,
		rbuf []byte, rcounts, rdispls []int32, rdt *Datatype, info *RequestInfo, mode RequestMode) (Request, error)
	Scatterv(sbuf []byte, scounts, displs []int32, sdt *Datatype,
		rbuf []byte, rcount int, rdt *Datatype, root int, info *RequestInfo, mode RequestMode) (Request, error)
	Gatherv(sbuf []byte, scount int, sdt *Datatype,
		rbuf []byte, rcounts, displs []int32, rdt *Datatype, root int, info *RequestInfo, mode RequestMode) (Request, error)
	Allgatherv(sbuf []byte, scount int, sdt *Datatype,
		rbuf []byte, rcounts, displs []int32, rdt *Datatype, info *RequestInfo, mode RequestMode) (Request, error)

	Destroy() error
}

// Context is the engine's per-process handle.
type Context interface {
	CreateDatatype(p DatatypeParams) (*Datatype, error)
	DestroyDatatype(dt *Datatype)
	// CreateOp allocates a predefined operation.
	CreateOp(p OpParams) (*Op, error)
	// InitOp initializes a user operation inside caller storage.
	InitOp(p OpParams, storage *Op) error
	DestroyOp(op *Op)
	CreateGroup(p GroupParams) (Group, error)
	// Progress advances outstanding requests and returns the number of events processed.
	Progress() int
}
