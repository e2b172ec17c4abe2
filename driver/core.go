// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package driver

// GPU is the main interface to an underlying driver
// implementation.
// It is used to create other types and to execute commands.
// A GPU is obtained from a call to Driver.Open.
type GPU interface {
	// Driver returns the Driver that owns the GPU.
	Driver() Driver

	// Commit commits a batch of command buffers to the GPU
	// for execution. This method sends the result to ch when
	// all commands complete execution. Command buffers in cb
	// cannot be used for recording until then.
	Commit(cb []CmdBuffer, ch chan<- error)

	// NewCmdBuffer creates a new command buffer.
	NewCmdBuffer() (CmdBuffer, error)

	// NewShaderCode creates a new shader code.
	NewShaderCode(data []byte) (ShaderCode, error)

	// NewDescHeap creates a new descriptor heap.
	NewDescHeap(ds []Descriptor) (DescHeap, error)

	// NewDescTable creates a new descriptor table. pushSize is the
	// size, in bytes, of the push constant range exposed to the
	// compute stage; zero if the table's pipelines need none.
	NewDescTable(dh []DescHeap, pushSize int) (DescTable, error)

	// NewPipeline creates a new compute pipeline.
	NewPipeline(state *CompState) (Pipeline, error)

	// NewBuffer creates a new buffer.
	NewBuffer(size int64, visible bool, usg Usage) (Buffer, error)

	// Limits returns the implementation limits.
	// They are immutable for the lifetime of the GPU.
	Limits() Limits
}

// Destroyer is the interface that wraps the Destroy method.
// Types that implement this interface may allocate external
// memory that is not managed by GC, so Destroy must be
// called explicitly to ensure such memory is deallocated.
type Destroyer interface {
	Destroy()
}

// CmdBuffer is the interface that defines a command buffer.
// Commands are recorded into command buffers and later
// committed to the GPU for execution. The usage is as follows:
//
//	1. call Begin
//	2. call SetPipeline/SetDescTableComp as needed
//	3. call Dispatch
//	4. repeat 2-3 as needed, calling Barrier between
//	   dependent dispatches
//	5. call End and, if it succeeds, GPU.Commit
type CmdBuffer interface {
	Destroyer

	// Begin prepares the command buffer for recording.
	// This method must be called before any command
	// is recorded in the command buffer. It needs to
	// be called again if the command buffer is
	// executed or reset.
	Begin() error

	// SetPipeline sets the compute pipeline.
	SetPipeline(pl Pipeline)

	// SetDescTableComp sets a descriptor table range for
	// the compute pipeline.
	SetDescTableComp(table DescTable, start int, heapCopy []int)

	// PushConstants updates the push constant range bound to the
	// descriptor table currently set with SetDescTableComp.
	PushConstants(data []byte)

	// Dispatch dispatches compute thread groups.
	Dispatch(grpCountX, grpCountY, grpCountZ int)

	// CopyBuffer records a buffer-to-buffer copy. It is used by the
	// staging path for buffers that are not host visible.
	CopyBuffer(dst, src Buffer, dstOff, srcOff, size int64)

	// Barrier inserts a number of global memory barriers
	// in the command buffer.
	Barrier(b []Barrier)

	// End ends command recording and prepares the
	// command buffer for execution.
	// New recordings are not allowed until the
	// command buffer is executed or reset.
	// Upon failure, the command buffer is reset.
	End() error

	// Reset discards all recorded commands from the
	// command buffer.
	Reset() error
}

// Sync is the type of a synchronization scope.
type Sync int

// Synchronization scopes.
const (
	SComputeShading Sync = 1 << iota
	SCopy
	SAll
	SNone Sync = 0
)

// Access is the type of a memory access scope.
type Access int

// Memory access scopes.
const (
	AShaderRead Access = 1 << iota
	AShaderWrite
	ACopyRead
	ACopyWrite
	ANone Access = 0
)

// Barrier represents a synchronization barrier.
type Barrier struct {
	SyncBefore   Sync
	SyncAfter    Sync
	AccessBefore Access
	AccessAfter  Access
}

// ShaderCode is the interface that defines a shader binary
// for execution in a programmable pipeline stage.
type ShaderCode interface {
	Destroyer
}

// SpecType is the type of a specialization constant value.
type SpecType int

// Specialization constant types.
const (
	SpecUint32 SpecType = iota
	SpecFloat32
	SpecBool
)

// SpecConstant describes a single specialization constant
// that a compute shader references through a constant id.
// Ids 0, 1 and 2 are reserved for local_size_x, local_size_y
// and local_size_z respectively; user-defined constants
// start at id 3.
type SpecConstant struct {
	Id    int
	Type  SpecType
	Value any // must match Type: uint32, float32 or bool.
}

// ShaderFunc identifies a function within a shader binary,
// together with the specialization constants resolved when
// the owning pipeline is created.
type ShaderFunc struct {
	Code ShaderCode
	Name string
	Spec []SpecConstant
}

// Stage is a mask of programmable stages.
type Stage int

// Stages.
const (
	SCompute Stage = 1 << iota
)

// DescType is the type of a descriptor.
type DescType int

// Descriptor types.
const (
	// DBuffer is a read/write storage buffer.
	DBuffer DescType = iota
	// DConstant is a read-only uniform buffer.
	DConstant
)

// Descriptor describes data for use in shaders.
type Descriptor struct {
	Type   DescType
	Stages Stage
	Nr     int
	Len    int
}

// DescHeap is the interface that defines a set of descriptors
// for use in programmable pipeline stages.
type DescHeap interface {
	Destroyer

	// New creates enough storage for n copies of each
	// descriptor.
	// All copies from a previous call to New are invalidated,
	// unless n is the same as the current Count value, in
	// which case it is a no-op.
	// Calling New(0) frees all storage.
	New(n int) error

	// SetBuffer updates the buffer ranges referred by the
	// given descriptor of the given heap copy.
	SetBuffer(cpy, nr, start int, buf []Buffer, off, size []int64)

	// Count returns the number of heap copies created
	// by New.
	Count() int
}

// DescTable is the interface that defines the bindings
// between a number of descriptor heaps and a pipeline.
type DescTable interface {
	Destroyer
}

// CompState defines the state of a compute pipeline.
// Compute pipelines are created from a single shader function
// plus the descriptor table describing the resources that
// function accesses.
type CompState struct {
	Func     ShaderFunc
	Desc     DescTable
	PushSize int // Push constant range in bytes, 0 if unused.
}

// Pipeline is the interface that defines a GPU pipeline.
type Pipeline interface {
	Destroyer
}

// Usage is a mask indicating valid uses for a resource.
type Usage int

// Usage flags for Buffer.
const (
	// UShaderRead allows the resource to be read in shaders.
	UShaderRead Usage = 1 << iota
	// UShaderWrite allows the resource to be written in shaders.
	UShaderWrite
	// UShaderConst allows the resource to provide uniform data
	// for shaders.
	UShaderConst
	// UGeneric allows the resource to be used for any purpose.
	UGeneric Usage = 1<<iota - 1
)

// Buffer is the interface that defines a GPU buffer.
// The size of a buffer is fixed at creation time. When a
// larger buffer is necessary, a new one must be created and
// data must be copied explicitly.
type Buffer interface {
	Destroyer

	// Visible returns whether the buffer is host visible.
	// Non-visible memory cannot be accessed directly by the
	// CPU.
	Visible() bool

	// Bytes returns a slice of length Cap referring to the
	// underlying data. If the buffer is not host visible, it
	// returns nil instead.
	// The slice is valid for the lifetime of the buffer.
	Bytes() []byte

	// Cap returns the capacity of the buffer in bytes, which
	// may be greater than the size requested during buffer
	// creation.
	// This value is immutable.
	Cap() int64
}

// Limits describes implementation limits.
// These may vary across drivers and devices.
type Limits struct {
	// MaxDescHeaps is the maximum number of descriptor heaps
	// in a descriptor table.
	MaxDescHeaps int
	// MaxDBuffer is the maximum number of buffer descriptors
	// in a descriptor table.
	MaxDBuffer int
	// MaxDConstant is the maximum number of constant
	// descriptors in a descriptor table.
	MaxDConstant int
	// MaxDBufferRange is the maximum range of a buffer
	// descriptor.
	MaxDBufferRange int64
	// MaxDConstantRange is the maximum range of a constant
	// descriptor.
	MaxDConstantRange int64

	// MaxWorkgroupInvocations is the maximum product of
	// MaxWorkgroupSize across all three dimensions.
	MaxWorkgroupInvocations int
	// MaxWorkgroupSize is the maximum local workgroup size
	// per dimension.
	MaxWorkgroupSize [3]int
	// MaxDispatch is the maximum dispatch count (number of
	// workgroups) per dimension.
	MaxDispatch [3]int
}
