// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package vk

// #include <stdlib.h>
// #include <vulkan/vulkan.h>
import "C"

import (
	"unsafe"

	"github.com/nnetkit/richard/driver"
)

// cmdBuffer implements driver.CmdBuffer.
type cmdBuffer struct {
	d      *Driver
	pool   C.VkCommandPool
	cb     C.VkCommandBuffer
	status cbStatus
	err    error // Why cbFailed.
	layout C.VkPipelineLayout // Of the last bound descriptor table.
}

// cbStatus represents the status of the
// command buffer at a given time.
type cbStatus int

// cbStatus constants.
const (
	// Yet to begin.
	// Set after creation, committing and resetting.
	cbIdle cbStatus = iota
	// Ready to record commands.
	// Set after a successful call to Begin.
	cbBegun
	// Ready to be committed.
	// Set after a successful call to End.
	cbEnded
	// Ongoing commit.
	// Set during a call to Commit.
	cbCommitted
	// Command recording failed.
	// Set when a command cannot be recorded.
	cbFailed
)

// NewCmdBuffer creates a new command buffer.
// Its pool is created using d.qfam.
func (d *Driver) NewCmdBuffer() (driver.CmdBuffer, error) {
	var pool C.VkCommandPool
	poolInfo := C.VkCommandPoolCreateInfo{
		sType:            C.VK_STRUCTURE_TYPE_COMMAND_POOL_CREATE_INFO,
		flags:            C.VK_COMMAND_POOL_CREATE_RESET_COMMAND_BUFFER_BIT,
		queueFamilyIndex: d.qfam,
	}
	err := checkResult(C.vkCreateCommandPool(d.dev, &poolInfo, nil, &pool))
	if err != nil {
		return nil, err
	}
	var cb C.VkCommandBuffer
	cbInfo := C.VkCommandBufferAllocateInfo{
		sType:              C.VK_STRUCTURE_TYPE_COMMAND_BUFFER_ALLOCATE_INFO,
		commandPool:        pool,
		level:              C.VK_COMMAND_BUFFER_LEVEL_PRIMARY,
		commandBufferCount: 1,
	}
	err = checkResult(C.vkAllocateCommandBuffers(d.dev, &cbInfo, &cb))
	if err != nil {
		C.vkDestroyCommandPool(d.dev, pool, nil)
		return nil, err
	}
	return &cmdBuffer{
		d:    d,
		pool: pool,
		cb:   cb,
	}, nil
}

// Begin prepares the command buffer for recording.
func (cb *cmdBuffer) Begin() error {
	switch cb.status {
	case cbIdle:
		info := C.VkCommandBufferBeginInfo{
			sType: C.VK_STRUCTURE_TYPE_COMMAND_BUFFER_BEGIN_INFO,
			flags: C.VK_COMMAND_BUFFER_USAGE_ONE_TIME_SUBMIT_BIT,
		}
		err := checkResult(C.vkBeginCommandBuffer(cb.cb, &info))
		if err != nil {
			return err
		}
		cb.status = cbBegun
		return nil
	case cbBegun, cbFailed:
		// Note that cbFailed is handled on End.
		return nil
	}
	// Client error.
	panic("invalid call to CmdBuffer.Begin")
}

// End ends command recording and prepares the command buffer for execution.
func (cb *cmdBuffer) End() error {
	switch cb.status {
	case cbBegun:
		if err := checkResult(C.vkEndCommandBuffer(cb.cb)); err != nil {
			// Calling Begin implicitly resets cb.cb.
			cb.status = cbIdle
			return err
		}
		cb.status = cbEnded
		return nil
	case cbEnded:
		return nil
	case cbFailed:
		C.vkEndCommandBuffer(cb.cb)
		C.vkResetCommandBuffer(cb.cb, 0)
		cb.status = cbIdle
		if cb.err == nil {
			panic("unexpected nil error in failed command recording")
		}
		return cb.err
	}
	// Client error.
	panic("invalid call to CmdBuffer.End")
}

// Reset discards all recorded commands from the command buffer.
func (cb *cmdBuffer) Reset() error {
	switch cb.status {
	case cbCommitted:
		// Client error.
		panic("invalid call to CmdBuffer.Reset")
	case cbBegun, cbFailed:
		// Need to end recording before resetting.
		C.vkEndCommandBuffer(cb.cb)
		fallthrough
	default:
		// In case of failure here, we can rely on the implicit
		// reset done during Begin.
		cb.status = cbIdle
		return checkResult(C.vkResetCommandBuffer(cb.cb, 0))
	}
}

// Barrier inserts a number of global barriers in the command buffer.
func (cb *cmdBuffer) Barrier(b []driver.Barrier) {
	nb := len(b)
	pb := (*C.VkMemoryBarrier2)(C.malloc(C.sizeof_VkMemoryBarrier2 * C.size_t(nb)))
	sb := unsafe.Slice(pb, nb)
	for i := range sb {
		sb[i] = C.VkMemoryBarrier2{
			sType:         C.VK_STRUCTURE_TYPE_MEMORY_BARRIER_2,
			srcStageMask:  convSync(b[i].SyncBefore),
			srcAccessMask: convAccess(b[i].AccessBefore),
			dstStageMask:  convSync(b[i].SyncAfter),
			dstAccessMask: convAccess(b[i].AccessAfter),
		}
	}
	dep := C.VkDependencyInfo{
		sType:              C.VK_STRUCTURE_TYPE_DEPENDENCY_INFO,
		dependencyFlags:    C.VK_DEPENDENCY_BY_REGION_BIT,
		memoryBarrierCount: C.uint32_t(nb),
		pMemoryBarriers:    pb,
	}
	C.vkCmdPipelineBarrier2(cb.cb, &dep)
	C.free(unsafe.Pointer(pb))
}

// SetPipeline sets the compute pipeline.
func (cb *cmdBuffer) SetPipeline(pl driver.Pipeline) {
	pipeln := pl.(*pipeline)
	C.vkCmdBindPipeline(cb.cb, C.VK_PIPELINE_BIND_POINT_COMPUTE, pipeln.pl)
}

// SetDescTableComp sets a descriptor table range for the compute pipeline.
func (cb *cmdBuffer) SetDescTableComp(table driver.DescTable, start int, heapCopy []int) {
	desc := table.(*descTable)
	cb.layout = desc.layout
	ncpy := len(heapCopy)
	switch {
	case ncpy == 1:
		set := desc.h[start].sets[heapCopy[0]]
		C.vkCmdBindDescriptorSets(cb.cb, C.VK_PIPELINE_BIND_POINT_COMPUTE, desc.layout, C.uint32_t(start), 1, &set, 0, nil)
	case ncpy > 1:
		set := make([]C.VkDescriptorSet, ncpy)
		for i := range set {
			set[i] = desc.h[start+i].sets[heapCopy[i]]
		}
		C.vkCmdBindDescriptorSets(cb.cb, C.VK_PIPELINE_BIND_POINT_COMPUTE, desc.layout, C.uint32_t(start), C.uint32_t(ncpy), &set[0], 0, nil)
	}
}

// PushConstants updates the push constant range bound to the
// descriptor table currently set with SetDescTableComp.
func (cb *cmdBuffer) PushConstants(data []byte) {
	if len(data) == 0 {
		return
	}
	C.vkCmdPushConstants(cb.cb, cb.layout, C.VK_SHADER_STAGE_COMPUTE_BIT, 0, C.uint32_t(len(data)), unsafe.Pointer(&data[0]))
}

// Dispatch dispatches compute thread groups.
func (cb *cmdBuffer) Dispatch(grpCountX, grpCountY, grpCountZ int) {
	C.vkCmdDispatch(cb.cb, C.uint32_t(grpCountX), C.uint32_t(grpCountY), C.uint32_t(grpCountZ))
}

// CopyBuffer records a buffer-to-buffer copy.
func (cb *cmdBuffer) CopyBuffer(dst, src driver.Buffer, dstOff, srcOff, size int64) {
	region := C.VkBufferCopy{
		srcOffset: C.VkDeviceSize(srcOff),
		dstOffset: C.VkDeviceSize(dstOff),
		size:      C.VkDeviceSize(size),
	}
	C.vkCmdCopyBuffer(cb.cb, src.(*buffer).buf, dst.(*buffer).buf, 1, &region)
}

// Destroy destroys the command buffer.
func (cb *cmdBuffer) Destroy() {
	if cb == nil {
		return
	}
	if cb.d != nil {
		C.vkQueueWaitIdle(cb.d.que)
		C.vkDestroyCommandPool(cb.d.dev, cb.pool, nil)
	}
	*cb = cmdBuffer{}
}

// commitInfo contains common data structures used during
// a call to the Driver.Commit method.
// It is only safe to reuse these data after the Commit
// call returns.
type commitInfo struct {
	subInfo []C.VkSubmitInfo2             // Go memory.
	cbInfo  []C.VkCommandBufferSubmitInfo // C memory.
}

// newCommitInfo creates new commitInfo data.
func (d *Driver) newCommitInfo() (*commitInfo, error) {
	const ncb = 4
	p := C.malloc(C.sizeof_VkCommandBufferSubmitInfo * ncb)
	cbInfo := unsafe.Slice((*C.VkCommandBufferSubmitInfo)(p), ncb)
	return &commitInfo{
		subInfo: make([]C.VkSubmitInfo2, 0, ncb),
		cbInfo:  cbInfo,
	}, nil
}

// destroyCommitInfo destroys ci.
func (d *Driver) destroyCommitInfo(ci *commitInfo) {
	if ci == nil {
		return
	}
	C.free(unsafe.Pointer(&ci.cbInfo[0]))
	*ci = commitInfo{}
}

// resizeCB resizes ci.cbInfo.
func (ci *commitInfo) resizeCB(cbInfoN int) {
	const min = 1
	if cbInfoN < min {
		cbInfoN = min
	}
	n := cap(ci.cbInfo)
	switch {
	case n < cbInfoN:
		for n < cbInfoN {
			n *= 2
		}
	case n >= 2*cbInfoN:
		n = cbInfoN
	default:
		return
	}
	p := C.realloc(unsafe.Pointer(&ci.cbInfo[0]), C.sizeof_VkCommandBufferSubmitInfo*C.size_t(n))
	ci.cbInfo = unsafe.Slice((*C.VkCommandBufferSubmitInfo)(p), n)
}

// commitSync contains synchronization data used during a call
// to the Driver.Commit method.
// It is only safe to reuse these data after the Commit call
// writes to the provided channel.
type commitSync struct {
	fence C.VkFence
}

// newCommitSync creates new commitSync data.
func (d *Driver) newCommitSync() (*commitSync, error) {
	info := C.VkFenceCreateInfo{sType: C.VK_STRUCTURE_TYPE_FENCE_CREATE_INFO}
	cs := new(commitSync)
	if err := checkResult(C.vkCreateFence(d.dev, &info, nil, &cs.fence)); err != nil {
		return nil, err
	}
	return cs, nil
}

// destroyCommitSync destroys cs.
func (d *Driver) destroyCommitSync(cs *commitSync) {
	if cs != nil {
		C.vkDestroyFence(d.dev, cs.fence, nil)
	}
}

// Commit commits a batch of command buffers to the GPU for execution.
func (d *Driver) Commit(cb []driver.CmdBuffer, ch chan<- error) {
	if len(cb) == 0 || ch == nil {
		// Client error.
		panic("invalid call to GPU.Commit")
	}
	ci := <-d.cinfo
	cs := <-d.csync
	if err := checkResult(C.vkResetFences(d.dev, 1, &cs.fence)); err != nil {
		d.cinfo <- ci
		d.csync <- cs
		ch <- err
		return
	}

	ci.resizeCB(len(cb))
	ci.subInfo = ci.subInfo[:0]
	for i, c := range cb {
		cbuf := c.(*cmdBuffer)
		ci.cbInfo[i] = C.VkCommandBufferSubmitInfo{
			sType:         C.VK_STRUCTURE_TYPE_COMMAND_BUFFER_SUBMIT_INFO,
			commandBuffer: cbuf.cb,
		}
		ci.subInfo = append(ci.subInfo, C.VkSubmitInfo2{
			sType:                  C.VK_STRUCTURE_TYPE_SUBMIT_INFO_2,
			commandBufferInfoCount: 1,
			pCommandBufferInfos:    &ci.cbInfo[i],
		})
		cbuf.status = cbCommitted
	}

	d.qmu.Lock()
	res := C.vkQueueSubmit2(d.que, C.uint32_t(len(ci.subInfo)), &ci.subInfo[0], cs.fence)
	d.qmu.Unlock()
	if err := checkResult(res); err != nil {
		for _, c := range cb {
			c.(*cmdBuffer).status = cbIdle
		}
		d.cinfo <- ci
		d.csync <- cs
		ch <- err
		return
	}

	go func() {
		res := C.vkWaitForFences(d.dev, 1, &cs.fence, C.VK_TRUE, C.UINT64_MAX)
		err := checkResult(res)
		for _, c := range cb {
			c.(*cmdBuffer).status = cbIdle
		}
		d.cinfo <- ci
		d.csync <- cs
		ch <- err
	}()
}

// convSync converts a driver.Sync to a VkPipelineStageFlags2.
func convSync(sync driver.Sync) C.VkPipelineStageFlags2 {
	if sync == driver.SNone {
		return C.VK_PIPELINE_STAGE_2_NONE // 0
	}
	if sync&driver.SAll != 0 {
		return C.VK_PIPELINE_STAGE_2_ALL_COMMANDS_BIT
	}
	var flags C.VkPipelineStageFlags2
	if sync&driver.SComputeShading != 0 {
		flags |= C.VK_PIPELINE_STAGE_2_COMPUTE_SHADER_BIT
	}
	if sync&driver.SCopy != 0 {
		flags |= C.VK_PIPELINE_STAGE_2_TRANSFER_BIT
	}
	return flags
}

// convAccess converts a driver.Access to a VkAccessFlags2.
func convAccess(acc driver.Access) C.VkAccessFlags2 {
	if acc == driver.ANone {
		return C.VK_ACCESS_2_NONE // 0
	}
	var flags C.VkAccessFlags2
	if acc&driver.AShaderRead != 0 {
		flags |= C.VK_ACCESS_2_SHADER_READ_BIT | C.VK_ACCESS_2_UNIFORM_READ_BIT
	}
	if acc&driver.AShaderWrite != 0 {
		flags |= C.VK_ACCESS_2_SHADER_WRITE_BIT
	}
	if acc&driver.ACopyRead != 0 {
		flags |= C.VK_ACCESS_2_TRANSFER_READ_BIT
	}
	if acc&driver.ACopyWrite != 0 {
		flags |= C.VK_ACCESS_2_TRANSFER_WRITE_BIT
	}
	return flags
}
