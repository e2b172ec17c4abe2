// Copyright 2022 Gustavo C. Viegas. All rights reserved.

// Package gpu implements a driver-agnostic GPU compute runtime: buffer
// allocation with access flags, shader registration with specialization
// constants and workgroup tiling, and a single recorded-then-flushed
// command stream guarded by per-buffer write tracking.
package gpu

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/nnetkit/richard/driver"
	"github.com/nnetkit/richard/internal/bitm"
)

// BufferFlags controls the memory type and host visibility of a
// buffer allocated through Runtime.AllocateBuffer.
type BufferFlags int

// Buffer flags. See the resolution table in resolveUsage.
const (
	FrequentHostAccess BufferFlags = 1 << iota
	HostReadAccess
	HostWriteAccess
	Large
	ShaderReadonly
)

// BufferHandle identifies a buffer owned by a Runtime.
type BufferHandle int

// ShaderHandle identifies a shader pipeline registered with a Runtime.
type ShaderHandle int

// Binding describes one buffer bound to a shader's descriptor set.
// Bindings are fixed at AddShader time: this engine's shaders always
// operate on the same buffers (a layer's weights, activations, deltas),
// so there is no benefit in rebinding per dispatch.
type Binding struct {
	Nr     int // Binding number, unique within the shader.
	Handle BufferHandle
	Write  bool // Whether the shader writes to this buffer.
}

type bufferEntry struct {
	buf   driver.Buffer
	flags BufferFlags
	size  int64
}

type shaderEntry struct {
	name     string
	pipeline driver.Pipeline
	table    driver.DescTable
	heap     driver.DescHeap
	reads    []BufferHandle
	writes   []BufferHandle
	numWg    [3]int
}

// Runtime is a driver-agnostic GPU compute runtime.
type Runtime struct {
	drv driver.Driver
	gpu driver.GPU
	lim driver.Limits

	bufBits bitm.Bitm[uint32]
	bufs    []*bufferEntry

	shdBits bitm.Bitm[uint32]
	shaders []*shaderEntry

	cb        driver.CmdBuffer
	recording bool
	active    map[BufferHandle]bool // Buffers written since the last barrier/flush.
}

// ErrNoDriver means that no registered driver exposes a usable
// compute device.
var ErrNoDriver = errors.New("gpu: no compute driver available")

// Open selects the first registered driver that opens successfully
// and prepares a Runtime around it.
func Open() (*Runtime, error) {
	drvs := driver.Drivers()
	if len(drvs) == 0 {
		return nil, ErrNoDriver
	}
	var lastErr error
	for _, d := range drvs {
		g, err := d.Open()
		if err != nil {
			lastErr = err
			continue
		}
		cb, err := g.NewCmdBuffer()
		if err != nil {
			d.Close()
			lastErr = err
			continue
		}
		return &Runtime{
			drv:    d,
			gpu:    g,
			lim:    g.Limits(),
			cb:     cb,
			active: make(map[BufferHandle]bool),
		}, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrNoDriver
}

// Limits returns the selected device's implementation limits.
func (rt *Runtime) Limits() driver.Limits { return rt.lim }

// Close releases every resource owned by the runtime and closes
// the underlying driver.
func (rt *Runtime) Close() {
	if rt == nil {
		return
	}
	for _, s := range rt.shaders {
		if s == nil {
			continue
		}
		s.pipeline.Destroy()
		s.table.Destroy()
		s.heap.Destroy()
	}
	for _, b := range rt.bufs {
		if b == nil {
			continue
		}
		b.buf.Destroy()
	}
	rt.cb.Destroy()
	rt.drv.Close()
}

func (rt *Runtime) allocBufHandle() BufferHandle {
	i, ok := rt.bufBits.Search()
	if !ok {
		i = rt.bufBits.Grow(1)
	}
	rt.bufBits.Set(i)
	for len(rt.bufs) <= i {
		rt.bufs = append(rt.bufs, nil)
	}
	return BufferHandle(i)
}

func (rt *Runtime) allocShaderHandle() ShaderHandle {
	i, ok := rt.shdBits.Search()
	if !ok {
		i = rt.shdBits.Grow(1)
	}
	rt.shdBits.Set(i)
	for len(rt.shaders) <= i {
		rt.shaders = append(rt.shaders, nil)
	}
	return ShaderHandle(i)
}

// resolveUsage maps BufferFlags to a driver.Usage and host-visibility,
// per the buffer flag resolution table: a shaderReadonly buffer
// without large becomes a host-visible, host-mapped uniform buffer; a
// default (storage) buffer with frequentHostAccess is device-local
// and host-visible; otherwise it is device-local only, and transfers
// go through a staging buffer.
func resolveUsage(flags BufferFlags) (usg driver.Usage, visible bool) {
	switch {
	case flags&ShaderReadonly != 0 && flags&Large == 0:
		return driver.UShaderConst, true
	case flags&FrequentHostAccess != 0:
		return driver.UShaderRead | driver.UShaderWrite, true
	default:
		return driver.UShaderRead | driver.UShaderWrite, false
	}
}

// AllocateBuffer allocates a new GPU buffer of the given size in
// bytes. Memory type and host visibility are resolved from flags.
func (rt *Runtime) AllocateBuffer(size int64, flags BufferFlags) (BufferHandle, error) {
	usg, visible := resolveUsage(flags)
	buf, err := rt.gpu.NewBuffer(size, visible, usg)
	if err != nil {
		return 0, err
	}
	h := rt.allocBufHandle()
	rt.bufs[h] = &bufferEntry{buf: buf, flags: flags, size: size}
	return h, nil
}

// FreeBuffer destroys a buffer and releases its handle for reuse.
func (rt *Runtime) FreeBuffer(h BufferHandle) {
	b := rt.bufs[h]
	if b == nil {
		return
	}
	b.buf.Destroy()
	rt.bufs[h] = nil
	rt.bufBits.Unset(int(h))
	delete(rt.active, h)
}

// Mapped returns the host-mapped bytes of a buffer, or nil if the
// buffer is not host visible.
func (rt *Runtime) Mapped(h BufferHandle) []byte {
	b := rt.bufs[h]
	if !b.buf.Visible() {
		return nil
	}
	return b.buf.Bytes()
}

// SubmitBufferData copies src into the buffer identified by h. When
// the buffer is not host visible, the copy is staged through a
// temporary host-visible buffer and a dedicated short command buffer.
func (rt *Runtime) SubmitBufferData(h BufferHandle, src []byte) error {
	b := rt.bufs[h]
	if b.buf.Visible() {
		copy(b.buf.Bytes(), src)
		return nil
	}
	return rt.stage(b.buf, src, true)
}

// RetrieveBuffer copies the buffer identified by h into dst. When the
// buffer is not host visible, the copy is staged.
func (rt *Runtime) RetrieveBuffer(h BufferHandle, dst []byte) error {
	b := rt.bufs[h]
	if b.buf.Visible() {
		copy(dst, b.buf.Bytes())
		return nil
	}
	return rt.stage(b.buf, dst, false)
}

// stage copies data through a host-visible staging buffer, waiting on
// a fence before the staging buffer is freed.
func (rt *Runtime) stage(dst driver.Buffer, data []byte, upload bool) error {
	size := int64(len(data))
	stg, err := rt.gpu.NewBuffer(size, true, driver.UGeneric)
	if err != nil {
		return err
	}
	defer stg.Destroy()
	if upload {
		copy(stg.Bytes(), data)
	}

	cb, err := rt.gpu.NewCmdBuffer()
	if err != nil {
		return err
	}
	defer cb.Destroy()
	if err := cb.Begin(); err != nil {
		return err
	}
	if upload {
		cb.CopyBuffer(dst, stg, 0, 0, size)
	} else {
		cb.CopyBuffer(stg, dst, 0, 0, size)
	}
	if err := cb.End(); err != nil {
		return err
	}

	ch := make(chan error, 1)
	rt.gpu.Commit([]driver.CmdBuffer{cb}, ch)
	if err := <-ch; err != nil {
		return err
	}
	if !upload {
		copy(data, stg.Bytes())
	}
	return nil
}

// AddShader registers a compute shader's SPIR-V module together with
// its fixed buffer bindings and specialization constants, and resolves
// workgroup tiling for the given invocation grid. Specialization
// constant ids 0-2 are reserved for the tiling itself; caller-supplied
// ids in specConstants must start at 3.
func (rt *Runtime) AddShader(name string, spirv []byte, bindings []Binding, specConstants []driver.SpecConstant, pushSize int, workSize [3]int) (ShaderHandle, error) {
	code, err := rt.gpu.NewShaderCode(spirv)
	if err != nil {
		return 0, err
	}

	wg, numWg, err := rt.resolveTiling(workSize)
	if err != nil {
		code.Destroy()
		return 0, err
	}

	spec := make([]driver.SpecConstant, 0, 3+len(specConstants))
	spec = append(spec,
		driver.SpecConstant{Id: 0, Type: driver.SpecUint32, Value: uint32(wg[0])},
		driver.SpecConstant{Id: 1, Type: driver.SpecUint32, Value: uint32(wg[1])},
		driver.SpecConstant{Id: 2, Type: driver.SpecUint32, Value: uint32(wg[2])},
	)
	spec = append(spec, specConstants...)

	descs := make([]driver.Descriptor, len(bindings))
	for i, b := range bindings {
		buf := rt.bufs[b.Handle]
		typ := driver.DBuffer
		if buf.flags&ShaderReadonly != 0 && buf.flags&Large == 0 {
			typ = driver.DConstant
		}
		descs[i] = driver.Descriptor{Type: typ, Stages: driver.SCompute, Nr: b.Nr, Len: 1}
	}
	heap, err := rt.gpu.NewDescHeap(descs)
	if err != nil {
		code.Destroy()
		return 0, err
	}
	if err := heap.New(1); err != nil {
		heap.Destroy()
		code.Destroy()
		return 0, err
	}
	for _, b := range bindings {
		buf := rt.bufs[b.Handle]
		heap.SetBuffer(0, b.Nr, 0, []driver.Buffer{buf.buf}, []int64{0}, []int64{buf.size})
	}

	table, err := rt.gpu.NewDescTable([]driver.DescHeap{heap}, pushSize)
	if err != nil {
		heap.Destroy()
		code.Destroy()
		return 0, err
	}

	pl, err := rt.gpu.NewPipeline(&driver.CompState{
		Func:     driver.ShaderFunc{Code: code, Name: "main", Spec: spec},
		Desc:     table,
		PushSize: pushSize,
	})
	code.Destroy() // The SPIR-V module is only needed at pipeline creation.
	if err != nil {
		table.Destroy()
		heap.Destroy()
		return 0, err
	}

	reads := make([]BufferHandle, 0, len(bindings))
	writes := make([]BufferHandle, 0, len(bindings))
	for _, b := range bindings {
		if b.Write {
			writes = append(writes, b.Handle)
		} else {
			reads = append(reads, b.Handle)
		}
	}

	h := rt.allocShaderHandle()
	rt.shaders[h] = &shaderEntry{
		name:     name,
		pipeline: pl,
		table:    table,
		heap:     heap,
		reads:    reads,
		writes:   writes,
		numWg:    numWg,
	}
	return h, nil
}

// resolveTiling picks (workgroupSize, numWorkgroups) for workSize by
// starting with workgroupSize = workSize and repeatedly dividing the
// largest dimension by its lowest prime divisor until the total
// invocation count and per-dimension sizes are within the device's
// limits. workgroupSize[i] * numWorkgroups[i] == workSize[i] holds on
// every successful return, since each division only removes a factor
// of the original workSize[i].
func (rt *Runtime) resolveTiling(workSize [3]int) (wg, numWg [3]int, err error) {
	wg = workSize
	maxInvoc := rt.lim.MaxWorkgroupInvocations
	maxSize := rt.lim.MaxWorkgroupSize
	for {
		invoc := wg[0] * wg[1] * wg[2]
		if invoc <= maxInvoc && wg[0] <= maxSize[0] && wg[1] <= maxSize[1] && wg[2] <= maxSize[2] {
			for i := range numWg {
				numWg[i] = workSize[i] / wg[i]
			}
			return wg, numWg, nil
		}
		d := 0
		for i := 1; i < 3; i++ {
			if wg[i] > wg[d] {
				d = i
			}
		}
		if wg[d] <= 1 {
			return wg, numWg, fmt.Errorf("gpu: cannot tile work size %v within device limits", workSize)
		}
		wg[d] /= lowestPrimeDivisor(wg[d])
	}
}

// lowestPrimeDivisor returns the smallest prime factor of n, or n
// itself if n is prime or less than 2.
func lowestPrimeDivisor(n int) int {
	if n < 2 {
		return n
	}
	for p := 2; p*p <= n; p++ {
		if n%p == 0 {
			return p
		}
	}
	return n
}

// QueueShader records a dispatch of the given shader, inserting a
// memory barrier for every buffer it reads that is still in the
// active-writes set, then adds this shader's writes to that set.
// pushConstants is ignored if empty.
func (rt *Runtime) QueueShader(h ShaderHandle, pushConstants []byte) error {
	s := rt.shaders[h]
	if !rt.recording {
		if err := rt.cb.Begin(); err != nil {
			return err
		}
		rt.recording = true
	}

	var barriers []driver.Barrier
	for _, r := range s.reads {
		if !rt.active[r] {
			continue
		}
		barriers = append(barriers, driver.Barrier{
			SyncBefore:   driver.SComputeShading,
			SyncAfter:    driver.SComputeShading,
			AccessBefore: driver.AShaderWrite,
			AccessAfter:  driver.AShaderRead,
		})
		delete(rt.active, r)
	}
	if len(barriers) > 0 {
		rt.cb.Barrier(barriers)
	}

	rt.cb.SetPipeline(s.pipeline)
	rt.cb.SetDescTableComp(s.table, 0, []int{0})
	if len(pushConstants) > 0 {
		rt.cb.PushConstants(pushConstants)
	}
	rt.cb.Dispatch(s.numWg[0], s.numWg[1], s.numWg[2])

	for _, w := range s.writes {
		rt.active[w] = true
	}
	return nil
}

// FlushQueue ends and submits the recorded command buffer, waits on
// its fence, then resets the command buffer and the active-writes
// set. It is a no-op if nothing was recorded.
func (rt *Runtime) FlushQueue() error {
	if !rt.recording {
		return nil
	}
	if err := rt.cb.End(); err != nil {
		return err
	}
	ch := make(chan error, 1)
	rt.gpu.Commit([]driver.CmdBuffer{rt.cb}, ch)
	err := <-ch
	rt.recording = false
	for k := range rt.active {
		delete(rt.active, k)
	}
	return err
}

// StatusBuffer is a small host-mapped buffer carrying the epoch and
// sample index that shaders use to select the dropout seed and
// write-back offsets.
type StatusBuffer struct {
	h  BufferHandle
	rt *Runtime
}

// NewStatusBuffer allocates the status buffer.
func (rt *Runtime) NewStatusBuffer() (StatusBuffer, error) {
	h, err := rt.AllocateBuffer(8, ShaderReadonly)
	if err != nil {
		return StatusBuffer{}, err
	}
	return StatusBuffer{h: h, rt: rt}, nil
}

// Handle returns the buffer handle backing s, for use in Binding.
func (s StatusBuffer) Handle() BufferHandle { return s.h }

// Set writes the current epoch and sample index.
func (s StatusBuffer) Set(epoch, sampleIndex uint32) {
	data := s.rt.Mapped(s.h)
	binary.LittleEndian.PutUint32(data[0:4], epoch)
	binary.LittleEndian.PutUint32(data[4:8], sampleIndex)
}
