package vulkan

import (
	vk "github.com/goki/vulkan"
)

// stageFlags maps engine shader stages onto Vulkan pipeline stages.
// StageAny widens to every stage that could perform the access.
func stageFlags(stage ShaderStage, compute bool) vk.PipelineStageFlags {
	if stage == StageAny {
		if compute {
			return vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit)
		}
		return vk.PipelineStageFlags(vk.PipelineStageVertexShaderBit |
			vk.PipelineStageTessellationControlShaderBit |
			vk.PipelineStageTessellationEvaluationShaderBit |
			vk.PipelineStageGeometryShaderBit |
			vk.PipelineStageFragmentShaderBit)
	}

	var flags vk.PipelineStageFlags
	if stage&StageVertex != 0 {
		flags |= vk.PipelineStageFlags(vk.PipelineStageVertexShaderBit)
	}
	if stage&StageTessControl != 0 {
		flags |= vk.PipelineStageFlags(vk.PipelineStageTessellationControlShaderBit)
	}
	if stage&StageTessEvaluation != 0 {
		flags |= vk.PipelineStageFlags(vk.PipelineStageTessellationEvaluationShaderBit)
	}
	if stage&StageGeometry != 0 {
		flags |= vk.PipelineStageFlags(vk.PipelineStageGeometryShaderBit)
	}
	if stage&StageFragment != 0 {
		flags |= vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit)
	}
	if stage&StageCompute != 0 {
		flags |= vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit)
	}
	return flags
}

// accessPipelineStage derives the pipeline stages an access mask occupies.
func accessPipelineStage(mask AccessMask, stage ShaderStage, depthStencil, compute bool) vk.PipelineStageFlags {
	var flags vk.PipelineStageFlags

	if mask&(AccessAttachmentRead|AccessAttachmentWrite|AccessAttachmentResolve) != 0 {
		if depthStencil {
			flags |= vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit)
		} else {
			flags |= vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
		}
	}
	if mask&AccessAttachmentInput != 0 {
		flags |= vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit)
	}
	if mask&(AccessSampledRead|AccessStorageRead|AccessStorageWrite) != 0 {
		flags |= stageFlags(stage, compute)
	}
	if mask&(AccessTransferRead|AccessTransferWrite) != 0 {
		flags |= vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	}
	if flags == 0 {
		flags = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
	}
	return flags
}

// accessFlags derives the Vulkan access flags of an access mask.
func accessFlags(mask AccessMask, depthStencil bool) vk.AccessFlags {
	var flags vk.AccessFlags

	if mask&AccessAttachmentRead != 0 {
		if depthStencil {
			flags |= vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit)
		} else {
			flags |= vk.AccessFlags(vk.AccessColorAttachmentReadBit)
		}
	}
	if mask&(AccessAttachmentWrite|AccessAttachmentResolve) != 0 {
		if depthStencil {
			flags |= vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit)
		} else {
			flags |= vk.AccessFlags(vk.AccessColorAttachmentWriteBit)
		}
	}
	if mask&AccessAttachmentInput != 0 {
		flags |= vk.AccessFlags(vk.AccessInputAttachmentReadBit)
	}
	if mask&(AccessSampledRead|AccessStorageRead) != 0 {
		flags |= vk.AccessFlags(vk.AccessShaderReadBit)
	}
	if mask&AccessStorageWrite != 0 {
		flags |= vk.AccessFlags(vk.AccessShaderWriteBit)
	}
	if mask&AccessTransferRead != 0 {
		flags |= vk.AccessFlags(vk.AccessTransferReadBit)
	}
	if mask&AccessTransferWrite != 0 {
		flags |= vk.AccessFlags(vk.AccessTransferWriteBit)
	}
	return flags
}

// accessLayout derives the image layout an access wants. Mixed usages
// fall back to the general layout.
func accessLayout(mask AccessMask, depthStencil bool) vk.ImageLayout {
	mask &^= AccessDiscard
	if mask == 0 {
		return vk.ImageLayoutUndefined
	}
	if mask&(AccessStorageRead|AccessStorageWrite) != 0 {
		return vk.ImageLayoutGeneral
	}

	attachment := mask&(AccessAttachmentRead|AccessAttachmentWrite|AccessAttachmentResolve) != 0
	shaderRead := mask&(AccessAttachmentInput|AccessSampledRead) != 0
	transferRead := mask&AccessTransferRead != 0
	transferWrite := mask&AccessTransferWrite != 0

	switch {
	case attachment && !shaderRead && !transferRead && !transferWrite:
		if depthStencil {
			if !mask.Writes() {
				return vk.ImageLayoutDepthStencilReadOnlyOptimal
			}
			return vk.ImageLayoutDepthStencilAttachmentOptimal
		}
		return vk.ImageLayoutColorAttachmentOptimal
	case shaderRead && !attachment && !transferRead && !transferWrite:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case transferRead && !attachment && !shaderRead && !transferWrite:
		return vk.ImageLayoutTransferSrcOptimal
	case transferWrite && !attachment && !shaderRead && !transferRead:
		return vk.ImageLayoutTransferDstOptimal
	default:
		return vk.ImageLayoutGeneral
	}
}

// mergeRanges returns the subresource union of two consumptions of one
// attachment. A conservative union keeps a single barrier per attachment.
func mergeRanges(a, b Range) vk.ImageSubresourceRange {
	out := vk.ImageSubresourceRange{
		AspectMask:   (a.Aspect | b.Aspect).toVk(),
		BaseMipLevel: Min(a.Mipmap, b.Mipmap),
	}

	if a.NumMipmaps == 0 || b.NumMipmaps == 0 {
		out.LevelCount = vk.RemainingMipLevels
	} else {
		out.LevelCount = Max(a.Mipmap+a.NumMipmaps, b.Mipmap+b.NumMipmaps) - out.BaseMipLevel
	}

	out.BaseArrayLayer = Min(a.Layer, b.Layer)
	if a.NumLayers == 0 || b.NumLayers == 0 {
		out.LayerCount = vk.RemainingArrayLayers
	} else {
		out.LayerCount = Max(a.Layer+a.NumLayers, b.Layer+b.NumLayers) - out.BaseArrayLayer
	}
	return out
}

func rangeToVk(r Range) vk.ImageSubresourceRange {
	out := vk.ImageSubresourceRange{
		AspectMask:     r.Aspect.toVk(),
		BaseMipLevel:   r.Mipmap,
		BaseArrayLayer: r.Layer,
		LevelCount:     r.NumMipmaps,
		LayerCount:     r.NumLayers,
	}
	if out.LevelCount == 0 {
		out.LevelCount = vk.RemainingMipLevels
	}
	if out.LayerCount == 0 {
		out.LayerCount = vk.RemainingArrayLayers
	}
	return out
}

// Injection collects the synchronization a recording produces before it
// is flushed into the command buffer in one vkCmdPipelineBarrier call.
type Injection struct {
	waits      []vk.Semaphore
	waitStages []vk.PipelineStageFlags
	signals    []vk.Semaphore

	srcStage vk.PipelineStageFlags
	dstStage vk.PipelineStageFlags
	barriers []vk.ImageMemoryBarrier
}

func (inj *Injection) wait(sem vk.Semaphore, stage vk.PipelineStageFlags) {
	inj.waits = append(inj.waits, sem)
	inj.waitStages = append(inj.waitStages, stage)
}

func (inj *Injection) signal(sem vk.Semaphore) {
	inj.signals = append(inj.signals, sem)
}

// execution records a barrier with no memory dependency, enough for
// read-to-read ordering.
func (inj *Injection) execution(src, dst vk.PipelineStageFlags) {
	inj.srcStage |= src
	inj.dstStage |= dst
}

func (inj *Injection) barrier(src, dst vk.PipelineStageFlags, imb vk.ImageMemoryBarrier) {
	inj.srcStage |= src
	inj.dstStage |= dst
	inj.barriers = append(inj.barriers, imb)
}

// flush emits the pending barriers into the command buffer and resets the
// barrier state, keeping semaphores for submission.
func (inj *Injection) flush(cmd vk.CommandBuffer) {
	if inj.srcStage == 0 && inj.dstStage == 0 && len(inj.barriers) == 0 {
		return
	}
	src := inj.srcStage
	if src == 0 {
		src = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
	}
	dst := inj.dstStage
	if dst == 0 {
		dst = vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit)
	}
	vk.CmdPipelineBarrier(cmd, src, dst, 0, 0, nil, 0, nil,
		uint32(len(inj.barriers)), inj.barriers)

	inj.srcStage, inj.dstStage = 0, 0
	inj.barriers = inj.barriers[:0]
}
