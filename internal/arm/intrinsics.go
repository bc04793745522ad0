package arm

// ============================================================================
// Intrinsics boundary
// ============================================================================
//
// The operations below are the only code in the module allowed to flip the
// CPSR interrupt bits or write the (PC, CPSR) pair. Everything above this
// boundary is ordinary checked code that manipulates the core through safe
// accessors. Each intrinsic is registered with an unsafe marker and a call
// counter so tests can assert the disable/write/enable bracket discipline
// around controller register updates.

// Intrinsic identifies one primitive operation below the safe boundary.
type Intrinsic uint8

const (
	IntrinsicCPUIRQDisable Intrinsic = iota
	IntrinsicCPUIRQEnable
	IntrinsicDataSyncBarrier
	IntrinsicInstrSyncBarrier
	IntrinsicExceptionReturn

	numIntrinsics
)

// IntrinsicInfo describes one registered intrinsic.
type IntrinsicInfo struct {
	Name     string
	IsUnsafe bool
}

var intrinsicTable = [numIntrinsics]IntrinsicInfo{
	IntrinsicCPUIRQDisable:    {Name: "cpu_irq_disable", IsUnsafe: true},
	IntrinsicCPUIRQEnable:     {Name: "cpu_irq_enable", IsUnsafe: true},
	IntrinsicDataSyncBarrier:  {Name: "dsb", IsUnsafe: false},
	IntrinsicInstrSyncBarrier: {Name: "isb", IsUnsafe: false},
	IntrinsicExceptionReturn:  {Name: "exception_return", IsUnsafe: true},
}

// Info returns the registry entry for an intrinsic.
func Info(i Intrinsic) IntrinsicInfo {
	return intrinsicTable[i]
}

// Registry lists all intrinsics in declaration order.
func Registry() []IntrinsicInfo {
	out := make([]IntrinsicInfo, numIntrinsics)
	copy(out, intrinsicTable[:])

	return out
}

// Intrinsics executes primitive operations against one core and counts them.
type Intrinsics struct {
	core  *Core
	calls [numIntrinsics]uint64
}

// NewIntrinsics binds the intrinsic set to a core.
func NewIntrinsics(c *Core) *Intrinsics {
	return &Intrinsics{core: c}
}

// CPUIRQDisable sets the CPSR I bit. Models CPSID i.
func (in *Intrinsics) CPUIRQDisable() {
	in.calls[IntrinsicCPUIRQDisable]++
	in.core.CPSR |= IRQDisable
}

// CPUIRQEnable clears the CPSR I bit. Models CPSIE i.
func (in *Intrinsics) CPUIRQEnable() {
	in.calls[IntrinsicCPUIRQEnable]++
	in.core.CPSR &^= IRQDisable
}

// DataSyncBarrier marks a DSB ordering point. The model is sequentially
// consistent, so only the occurrence is recorded.
func (in *Intrinsics) DataSyncBarrier() {
	in.calls[IntrinsicDataSyncBarrier]++
}

// InstrSyncBarrier marks an ISB ordering point.
func (in *Intrinsics) InstrSyncBarrier() {
	in.calls[IntrinsicInstrSyncBarrier]++
}

// ExceptionReturn writes the (PC, CPSR) pair as one indivisible step. This is
// the final act of every context restore: after it, the core is the restored
// task, including that task's interrupt-enable state.
func (in *Intrinsics) ExceptionReturn(pc, cpsr uint32) {
	in.calls[IntrinsicExceptionReturn]++
	in.core.R[RegPC] = pc
	in.core.CPSR = cpsr
}

// Calls returns how many times an intrinsic has executed.
func (in *Intrinsics) Calls(i Intrinsic) uint64 {
	return in.calls[i]
}
