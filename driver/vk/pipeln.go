// Copyright 2022 Gustavo C. Viegas. All rights reserved.

package vk

// #include <stdlib.h>
// #include <vulkan/vulkan.h>
import "C"

import (
	"unsafe"

	"github.com/nnetkit/richard/driver"
)

// pipeline implements driver.Pipeline.
type pipeline struct {
	d  *Driver
	pl C.VkPipeline
}

// NewPipeline creates a new compute pipeline.
func (d *Driver) NewPipeline(state *driver.CompState) (driver.Pipeline, error) {
	p := &pipeline{d: d}
	var layout C.VkPipelineLayout
	if state.Desc == nil {
		// Unlikely for compute, since the shader would have no
		// resource to read from nor write to, but still valid.
		desc, err := d.NewDescTable(nil, state.PushSize)
		if err != nil {
			return nil, err
		}
		defer desc.Destroy()
		layout = desc.(*descTable).layout
	} else {
		layout = state.Desc.(*descTable).layout
	}

	name := C.CString(state.Func.Name)
	defer C.free(unsafe.Pointer(name))

	stage := C.VkPipelineShaderStageCreateInfo{
		sType:  C.VK_STRUCTURE_TYPE_PIPELINE_SHADER_STAGE_CREATE_INFO,
		stage:  C.VK_SHADER_STAGE_COMPUTE_BIT,
		module: state.Func.Code.(*shaderCode).mod,
		pName:  name,
	}
	if len(state.Func.Spec) > 0 {
		specInfo, free := newSpecInfo(state.Func.Spec)
		defer free()
		stage.pSpecializationInfo = specInfo
	}

	info := C.VkComputePipelineCreateInfo{
		sType:             C.VK_STRUCTURE_TYPE_COMPUTE_PIPELINE_CREATE_INFO,
		stage:             stage,
		layout:            layout,
		basePipelineIndex: -1,
	}
	var cache C.VkPipelineCache
	err := checkResult(C.vkCreateComputePipelines(d.dev, cache, 1, &info, nil, &p.pl))
	if err != nil {
		return nil, err
	}
	return p, nil
}

// newSpecInfo builds a VkSpecializationInfo for the given constants.
// Each entry occupies 4 bytes in the backing data buffer, matching
// the size of uint32_t, float and VkBool32.
func newSpecInfo(spec []driver.SpecConstant) (info *C.VkSpecializationInfo, free func()) {
	const entrySize = 4
	n := len(spec)
	entries := (*C.VkSpecializationMapEntry)(C.malloc(C.size_t(n) * C.sizeof_VkSpecializationMapEntry))
	sentries := unsafe.Slice(entries, n)
	data := C.malloc(C.size_t(n) * entrySize)
	sdata := unsafe.Slice((*byte)(data), n*entrySize)
	for i, c := range spec {
		sentries[i] = C.VkSpecializationMapEntry{
			constantID: C.uint32_t(c.Id),
			offset:     C.uint32_t(i * entrySize),
			size:       entrySize,
		}
		var bits uint32
		switch c.Type {
		case driver.SpecUint32:
			bits = c.Value.(uint32)
		case driver.SpecFloat32:
			bits = *(*uint32)(unsafe.Pointer(&[]float32{c.Value.(float32)}[0]))
		case driver.SpecBool:
			if c.Value.(bool) {
				bits = 1
			}
		}
		off := i * entrySize
		sdata[off] = byte(bits)
		sdata[off+1] = byte(bits >> 8)
		sdata[off+2] = byte(bits >> 16)
		sdata[off+3] = byte(bits >> 24)
	}
	info = (*C.VkSpecializationInfo)(C.malloc(C.sizeof_VkSpecializationInfo))
	*info = C.VkSpecializationInfo{
		mapEntryCount: C.uint32_t(n),
		pMapEntries:   entries,
		dataSize:      C.size_t(n * entrySize),
		pData:         data,
	}
	free = func() {
		C.free(unsafe.Pointer(entries))
		C.free(data)
		C.free(unsafe.Pointer(info))
	}
	return
}

// Destroy destroys the pipeline.
func (p *pipeline) Destroy() {
	if p == nil {
		return
	}
	if p.d != nil {
		C.vkDestroyPipeline(p.d.dev, p.pl, nil)
	}
	*p = pipeline{}
}
