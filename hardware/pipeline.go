// Copyright 2026 The voxview Authors
// SPDX-License-Identifier: MIT

package hardware

import (
	"fmt"
	"time"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/voxview/volcast"
)

// lutSize is the transfer LUT resolution; matches what the shader indexes.
const lutSize = 256

// shaderParams mirrors the Params uniform block in raycast.wgsl. Every
// field is vec4-aligned, so the Go layout matches the GPU layout exactly.
type shaderParams struct {
	Origin     [4]float32
	Forward    [4]float32
	Right      [4]float32
	Up         [4]float32
	BoxMax     [4]float32
	InvSpacing [4]float32
	Dims       [4]uint32
	Target     [4]uint32
}

// compileShader compiles WGSL source to SPIR-V words for the HAL.
func compileShader(wgslSource string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(wgslSource)
	if err != nil {
		return nil, fmt.Errorf("hardware: compile shader: %w", err)
	}
	// SPIR-V is little-endian 32-bit words.
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return words, nil
}

// pipeline owns the compute pipeline and all GPU buffers for ray casting.
// The volume and output buffers are recreated when their sizes change; the
// bind group is rebuilt lazily whenever any buffer identity changed.
type pipeline struct {
	dev   hal.Device
	queue hal.Queue

	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	compute    hal.ComputePipeline

	paramsBuf hal.Buffer
	lutBuf    hal.Buffer

	volumeBuf   hal.Buffer
	volumeBytes uint64

	outputBuf  hal.Buffer
	stagingBuf hal.Buffer
	outputSize uint64

	bindGroup hal.BindGroup
	bindDirty bool
}

func newPipeline(dev hal.Device, queue hal.Queue) (*pipeline, error) {
	p := &pipeline{dev: dev, queue: queue}
	if err := p.create(); err != nil {
		p.destroy()
		return nil, err
	}
	return p, nil
}

func (p *pipeline) create() error {
	words, err := compileShader(raycastShaderSource)
	if err != nil {
		return err
	}
	shader, err := p.dev.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "raycast",
		Source: hal.ShaderSource{SPIRV: words},
	})
	if err != nil {
		return fmt.Errorf("hardware: create shader module: %w", err)
	}
	p.shader = shader

	bindLayout, err := p.dev.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "raycast_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
			{Binding: 1, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
			{Binding: 2, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
			{Binding: 3, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		return fmt.Errorf("hardware: create bind group layout: %w", err)
	}
	p.bindLayout = bindLayout

	pipeLayout, err := p.dev.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: "raycast_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{p.bindLayout},
	})
	if err != nil {
		return fmt.Errorf("hardware: create pipeline layout: %w", err)
	}
	p.pipeLayout = pipeLayout

	compute, err := p.dev.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label: "raycast_pipeline", Layout: p.pipeLayout,
		Compute: hal.ComputeState{Module: p.shader, EntryPoint: "main"},
	})
	if err != nil {
		return fmt.Errorf("hardware: create compute pipeline: %w", err)
	}
	p.compute = compute

	paramsBuf, err := p.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: "raycast_params", Size: uint64(unsafe.Sizeof(shaderParams{})),
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("hardware: create params buffer: %w", err)
	}
	p.paramsBuf = paramsBuf

	lutBuf, err := p.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: "raycast_lut", Size: lutSize * 4,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("hardware: create lut buffer: %w", err)
	}
	p.lutBuf = lutBuf
	p.bindDirty = true
	return nil
}

// uploadVolume replaces the resident scalar field. The buffer is recreated
// only when the byte size changes, so staged uploads of the same stage
// size reuse it.
func (p *pipeline) uploadVolume(data []float32) error {
	size := uint64(len(data)) * 4
	if size == 0 {
		return fmt.Errorf("hardware: empty volume upload")
	}
	if p.volumeBuf == nil || p.volumeBytes != size {
		if p.volumeBuf != nil {
			p.dev.DestroyBuffer(p.volumeBuf)
			p.volumeBuf = nil
		}
		buf, err := p.dev.CreateBuffer(&hal.BufferDescriptor{
			Label: "raycast_volume", Size: size,
			Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
		})
		if err != nil {
			return fmt.Errorf("hardware: create volume buffer: %w", err)
		}
		p.volumeBuf = buf
		p.volumeBytes = size
		p.bindDirty = true
	}
	p.queue.WriteBuffer(p.volumeBuf, 0, f32Bytes(data))
	return nil
}

// uploadLUT replaces the transfer LUT contents. lut must be lutSize RGBA
// quads.
func (p *pipeline) uploadLUT(lut []byte) error {
	if len(lut) != lutSize*4 {
		return fmt.Errorf("hardware: lut must be %d bytes, got %d", lutSize*4, len(lut))
	}
	p.queue.WriteBuffer(p.lutBuf, 0, lut)
	return nil
}

// ensureOutput sizes the output and staging buffers for a w x h frame.
func (p *pipeline) ensureOutput(w, h int) error {
	size := uint64(w) * uint64(h) * 4
	if p.outputBuf != nil && p.outputSize == size {
		return nil
	}
	if p.outputBuf != nil {
		p.dev.DestroyBuffer(p.outputBuf)
		p.outputBuf = nil
	}
	if p.stagingBuf != nil {
		p.dev.DestroyBuffer(p.stagingBuf)
		p.stagingBuf = nil
	}
	outputBuf, err := p.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: "raycast_output", Size: size,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc,
	})
	if err != nil {
		return fmt.Errorf("hardware: create output buffer: %w", err)
	}
	stagingBuf, err := p.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: "raycast_staging", Size: size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		p.dev.DestroyBuffer(outputBuf)
		return fmt.Errorf("hardware: create staging buffer: %w", err)
	}
	p.outputBuf = outputBuf
	p.stagingBuf = stagingBuf
	p.outputSize = size
	p.bindDirty = true
	return nil
}

func (p *pipeline) ensureBindGroup() error {
	if !p.bindDirty && p.bindGroup != nil {
		return nil
	}
	if p.volumeBuf == nil || p.outputBuf == nil {
		return fmt.Errorf("hardware: bind group needs volume and output buffers")
	}
	if p.bindGroup != nil {
		p.dev.DestroyBindGroup(p.bindGroup)
		p.bindGroup = nil
	}
	paramSize := uint64(unsafe.Sizeof(shaderParams{}))
	bg, err := p.dev.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: "raycast_bind", Layout: p.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: p.paramsBuf.NativeHandle(), Offset: 0, Size: paramSize}},
			{Binding: 1, Resource: gputypes.BufferBinding{Buffer: p.volumeBuf.NativeHandle(), Offset: 0, Size: p.volumeBytes}},
			{Binding: 2, Resource: gputypes.BufferBinding{Buffer: p.lutBuf.NativeHandle(), Offset: 0, Size: lutSize * 4}},
			{Binding: 3, Resource: gputypes.BufferBinding{Buffer: p.outputBuf.NativeHandle(), Offset: 0, Size: p.outputSize}},
		},
	})
	if err != nil {
		return fmt.Errorf("hardware: create bind group: %w", err)
	}
	p.bindGroup = bg
	p.bindDirty = false
	return nil
}

// dispatch runs one compute pass over a w x h frame and reads the pixels
// back. One submit and one fence wait per frame.
func (p *pipeline) dispatch(params shaderParams, w, h int) (*volcast.Frame, error) {
	if err := p.ensureBindGroup(); err != nil {
		return nil, err
	}
	p.queue.WriteBuffer(p.paramsBuf, 0, structToBytes(unsafe.Pointer(&params), unsafe.Sizeof(params)))

	encoder, err := p.dev.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "raycast_encoder"})
	if err != nil {
		return nil, fmt.Errorf("hardware: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("raycast"); err != nil {
		return nil, fmt.Errorf("hardware: begin encoding: %w", err)
	}
	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: "raycast_pass"})
	pass.SetPipeline(p.compute)
	pass.SetBindGroup(0, p.bindGroup, nil)
	pass.Dispatch((uint32(w)+7)/8, (uint32(h)+7)/8, 1)
	pass.End()
	encoder.CopyBufferToBuffer(p.outputBuf, p.stagingBuf, []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: p.outputSize},
	})
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("hardware: end encoding: %w", err)
	}
	defer p.dev.FreeCommandBuffer(cmdBuf)

	fence, err := p.dev.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("hardware: create fence: %w", err)
	}
	defer p.dev.DestroyFence(fence)
	if err := p.queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return nil, fmt.Errorf("hardware: submit: %w", err)
	}
	fenceOK, err := p.dev.Wait(fence, 1, 5*time.Second)
	if err != nil || !fenceOK {
		return nil, fmt.Errorf("hardware: wait for GPU: ok=%v err=%w", fenceOK, err)
	}

	frame := volcast.NewFrame(w, h)
	// Packed u32 pixels are little-endian, so the readback bytes are
	// already r, g, b, a order.
	if err := p.queue.ReadBuffer(p.stagingBuf, 0, frame.Pix()); err != nil {
		return nil, fmt.Errorf("hardware: readback: %w", err)
	}
	return frame, nil
}

// residentBytes estimates GPU memory held by the pipeline's buffers.
func (p *pipeline) residentBytes() uint64 {
	return p.volumeBytes + 2*p.outputSize + lutSize*4 + uint64(unsafe.Sizeof(shaderParams{}))
}

func (p *pipeline) destroy() {
	if p.dev == nil {
		return
	}
	if p.bindGroup != nil {
		p.dev.DestroyBindGroup(p.bindGroup)
		p.bindGroup = nil
	}
	for _, buf := range []hal.Buffer{p.paramsBuf, p.lutBuf, p.volumeBuf, p.outputBuf, p.stagingBuf} {
		if buf != nil {
			p.dev.DestroyBuffer(buf)
		}
	}
	p.paramsBuf, p.lutBuf, p.volumeBuf, p.outputBuf, p.stagingBuf = nil, nil, nil, nil, nil
	if p.compute != nil {
		p.dev.DestroyComputePipeline(p.compute)
		p.compute = nil
	}
	if p.pipeLayout != nil {
		p.dev.DestroyPipelineLayout(p.pipeLayout)
		p.pipeLayout = nil
	}
	if p.bindLayout != nil {
		p.dev.DestroyBindGroupLayout(p.bindLayout)
		p.bindLayout = nil
	}
	if p.shader != nil {
		p.dev.DestroyShaderModule(p.shader)
		p.shader = nil
	}
}

func structToBytes(ptr unsafe.Pointer, size uintptr) []byte {
	return unsafe.Slice((*byte)(ptr), size) //nolint:gosec // safe struct serialization
}

func f32Bytes(data []float32) []byte {
	if len(data) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*4) //nolint:gosec // safe reinterpret for upload
}
