package host

// Collective function signatures. Counts and displacements are in elements of
// the paired datatype.
type (
	BcastFunc     func(buf []byte, count int, dt *Datatype, root int) error
	IbcastFunc    func(buf []byte, count int, dt *Datatype, root int) (*Request, error)
	BcastInitFunc func(buf []byte, count int, dt *Datatype, root int, info Info) (*Request, error)

	BarrierFunc     func() error
	IbarrierFunc    func() (*Request, error)
	BarrierInitFunc func(info Info) (*Request, error)

	AllreduceFunc     func(sbuf, rbuf []byte, count int, dt *Datatype, op *Op) error
	IallreduceFunc    func(sbuf, rbuf []byte, count int, dt *Datatype, op *Op) (*Request, error)
	AllreduceInitFunc func(sbuf, rbuf []byte, count int, dt *Datatype, op *Op, info Info) (*Request, error)

	AlltoallvFunc func(sbuf []byte, scounts, sdispls []int32, sdt *Datatype,
		rbuf []byte, rcounts, rdispls []int32, rdt *Datatype) error
	IalltoallvFunc func(sbuf []byte, scounts, sdispls []int32, sdt *Datatype,
		rbuf []byte, rcounts, rdispls []int32, rdt *Datatype) (*Request, error)
	AlltoallvInitFunc func(sbuf []byte, scounts, sdispls []int32, sdt *Datatype,
		rbuf []byte, rcounts, rdispls []int32, rdt *Datatype, info Info) (*Request, error)

	ScattervFunc func(sbuf []byte, scounts, displs []int32, sdt *Datatype,
		rbuf []byte, rcount int, rdt *Datatype, root int) error
	IscattervFunc func(sbuf []byte, scounts, displs []int32, sdt *Datatype,
		rbuf []byte, rcount int, rdt *Datatype, root int) (*Request, error)
	ScattervInitFunc func(sbuf []byte, scounts, displs []int32, sdt *Datatype,
		rbuf []byte, rcount int, rdt *Datatype, root int, info Info) (*Request, error)

	GathervFunc func(sbuf []byte, scount int, sdt *Datatype,
		rbuf []byte, rcounts, displs []int32, rdt *Datatype, root int) error
	IgathervFunc func(sbuf []byte, scount int, sdt *Datatype,
		rbuf []byte, rcounts, displs []int32, rdt *Datatype, root int) (*Request, error)
	GathervInitFunc func(sbuf []byte, scount int, sdt *Datatype,
		rbuf []byte, rcounts, displs []int32, rdt *Datatype, root int, info Info) (*Request, error)

	AllgathervFunc func(sbuf []byte, scount int, sdt *Datatype,
		rbuf []byte, rcounts, displs []int32, rdt *Datatype) error
	IallgathervFunc func(sbuf []byte, scount int, sdt *Datatype,
		rbuf []byte, rcounts, displs []int32, rdt *Datatype) (*Request, error)
	AllgathervInitFunc func(sbuf []byte, scount int, sdt *Datatype,
		rbuf []byte, rcounts, displs []int32, rdt *Datatype, info Info) (*Request, error)
)

// CollTable is the set of collective implementations installed on a communicator.
type CollTable struct {
	Bcast     BcastFunc
	Ibcast    IbcastFunc
	BcastInit BcastInitFunc

	Barrier     BarrierFunc
	Ibarrier    IbarrierFunc
	BarrierInit BarrierInitFunc

	Allreduce     AllreduceFunc
	Iallreduce    IallreduceFunc
	AllreduceInit AllreduceInitFunc

	Alltoallv     AlltoallvFunc
	Ialltoallv    IalltoallvFunc
	AlltoallvInit AlltoallvInitFunc

	Scatterv     ScattervFunc
	Iscatterv    IscattervFunc
	ScattervInit ScattervInitFunc

	Gatherv     GathervFunc
	Igatherv    IgathervFunc
	GathervInit GathervInitFunc

	Allgatherv     AllgathervFunc
	Iallgatherv    IallgathervFunc
	AllgathervInit AllgathervInitFunc
}

// Missing lists the names of unset entries.
func (t CollTable) Missing() []string {
	var missing []string
	check := func(name string, set bool) {
		if !set {
			missing = append(missing, name)
		}
	}
	check("bcast", t.Bcast != nil)
	check("ibcast", t.Ibcast != nil)
	check("bcast_init", t.BcastInit != nil)
	check("barrier", t.Barrier != nil)
	check("ibarrier", t.Ibarrier != nil)
	check("barrier_init", t.BarrierInit != nil)
	check("allreduce", t.Allreduce != nil)
	check("iallreduce", t.Iallreduce != nil)
	check("allreduce_init", t.AllreduceInit != nil)
	check("alltoallv", t.Alltoallv != nil)
	check("ialltoallv", t.Ialltoallv != nil)
	check("alltoallv_init", t.AlltoallvInit != nil)
	check("scatterv", t.Scatterv != nil)
	check("iscatterv", t.Iscatterv != nil)
	check("scatterv_init", t.ScattervInit != nil)
	check("gatherv", t.Gatherv != nil)
	check("igatherv", t.Igatherv != nil)
	check("gatherv_init", t.GathervInit != nil)
	check("allgatherv", t.Allgatherv != nil)
	check("iallgatherv", t.Iallgatherv != nil)
	check("allgatherv_init", t.AllgathervInit != nil)
	return missing
}
