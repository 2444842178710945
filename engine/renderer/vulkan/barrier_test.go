package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
)

func TestAccessLayoutSingleUsages(t *testing.T) {
	cases := []struct {
		mask  AccessMask
		depth bool
		want  vk.ImageLayout
	}{
		{AccessAttachmentWrite, false, vk.ImageLayoutColorAttachmentOptimal},
		{AccessAttachmentRead | AccessAttachmentWrite, true, vk.ImageLayoutDepthStencilAttachmentOptimal},
		{AccessAttachmentRead, true, vk.ImageLayoutDepthStencilReadOnlyOptimal},
		{AccessSampledRead, false, vk.ImageLayoutShaderReadOnlyOptimal},
		{AccessAttachmentInput, false, vk.ImageLayoutShaderReadOnlyOptimal},
		{AccessTransferRead, false, vk.ImageLayoutTransferSrcOptimal},
		{AccessTransferWrite, false, vk.ImageLayoutTransferDstOptimal},
		{AccessStorageWrite, false, vk.ImageLayoutGeneral},
		{AccessStorageRead | AccessSampledRead, false, vk.ImageLayoutGeneral},
		{AccessDiscard, false, vk.ImageLayoutUndefined},
		{0, false, vk.ImageLayoutUndefined},
	}
	for _, tc := range cases {
		if got := accessLayout(tc.mask, tc.depth); got != tc.want {
			t.Errorf("accessLayout(%#x, depth=%v) = %v, want %v", tc.mask, tc.depth, got, tc.want)
		}
	}
}

func TestAccessLayoutMixedFallsBackToGeneral(t *testing.T) {
	mixes := []AccessMask{
		AccessAttachmentWrite | AccessSampledRead,
		AccessTransferRead | AccessTransferWrite,
		AccessAttachmentRead | AccessTransferWrite,
	}
	for _, mask := range mixes {
		if got := accessLayout(mask, false); got != vk.ImageLayoutGeneral {
			t.Errorf("accessLayout(%#x) = %v, want general", mask, got)
		}
	}
}

func TestAccessLayoutIgnoresDiscard(t *testing.T) {
	with := accessLayout(AccessAttachmentWrite|AccessDiscard, false)
	without := accessLayout(AccessAttachmentWrite, false)
	if with != without {
		t.Fatalf("discard changed the layout: %v vs %v", with, without)
	}
}

func TestAccessFlagsDepthSplit(t *testing.T) {
	color := accessFlags(AccessAttachmentRead|AccessAttachmentWrite, false)
	wantColor := vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit)
	if color != wantColor {
		t.Fatalf("color access flags %#x, want %#x", color, wantColor)
	}
	depth := accessFlags(AccessAttachmentRead|AccessAttachmentWrite, true)
	wantDepth := vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit)
	if depth != wantDepth {
		t.Fatalf("depth access flags %#x, want %#x", depth, wantDepth)
	}
}

func TestAccessMaskWritesReads(t *testing.T) {
	if !(AccessAttachmentWrite | AccessSampledRead).Writes() {
		t.Fatalf("attachment write not classified as write")
	}
	if (AccessSampledRead | AccessTransferRead).Writes() {
		t.Fatalf("pure reads classified as write")
	}
	if !(AccessStorageWrite | AccessStorageRead).Reads() {
		t.Fatalf("storage read not classified as read")
	}
	if AccessDiscard.Writes() || AccessDiscard.Reads() {
		t.Fatalf("discard alone must be neither read nor write")
	}
}

func TestStageFlagsComputeWidening(t *testing.T) {
	// StageAny widens to everything the queue can run.
	if got := stageFlags(StageAny, true); got != vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit) {
		t.Fatalf("any-stage on compute = %#x", got)
	}
	got := stageFlags(StageVertex|StageFragment, false)
	want := vk.PipelineStageFlags(vk.PipelineStageVertexShaderBit | vk.PipelineStageFragmentShaderBit)
	if got != want {
		t.Fatalf("stage flags %#x, want %#x", got, want)
	}
}

func TestAccessPipelineStageFallback(t *testing.T) {
	if got := accessPipelineStage(0, StageAny, false, false); got != vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit) {
		t.Fatalf("empty access must land on top-of-pipe, got %#x", got)
	}
	got := accessPipelineStage(AccessAttachmentWrite, StageAny, true, false)
	want := vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit)
	if got != want {
		t.Fatalf("depth attachment stage %#x, want %#x", got, want)
	}
}

func TestMergeRangesUnion(t *testing.T) {
	a := Range{Aspect: AspectColor, Mipmap: 1, NumMipmaps: 2, Layer: 0, NumLayers: 1}
	b := Range{Aspect: AspectColor, Mipmap: 4, NumMipmaps: 2, Layer: 2, NumLayers: 3}

	out := mergeRanges(a, b)
	if out.BaseMipLevel != 1 || out.LevelCount != 5 {
		t.Fatalf("mip union [%d,+%d), want [1,+5)", out.BaseMipLevel, out.LevelCount)
	}
	if out.BaseArrayLayer != 0 || out.LayerCount != 5 {
		t.Fatalf("layer union [%d,+%d), want [0,+5)", out.BaseArrayLayer, out.LayerCount)
	}
}

func TestMergeRangesOpenEnded(t *testing.T) {
	bounded := Range{Aspect: AspectColor, Mipmap: 2, NumMipmaps: 1}
	open := Range{Aspect: AspectDepth} // zero counts select the remainder

	out := mergeRanges(bounded, open)
	if out.LevelCount != vk.RemainingMipLevels {
		t.Fatalf("open-ended mips lost: count %d", out.LevelCount)
	}
	if out.LayerCount != vk.RemainingArrayLayers {
		t.Fatalf("open-ended layers lost: count %d", out.LayerCount)
	}
	if out.BaseMipLevel != 0 {
		t.Fatalf("base mip %d, union must start at 0", out.BaseMipLevel)
	}
	want := AspectColor | AspectDepth
	if out.AspectMask != want.toVk() {
		t.Fatalf("aspects not unioned")
	}
}

func TestRangeToVkRemainder(t *testing.T) {
	out := rangeToVk(Range{Aspect: AspectColor, Mipmap: 3, Layer: 1})
	if out.BaseMipLevel != 3 || out.LevelCount != vk.RemainingMipLevels {
		t.Fatalf("mips = [%d,+%d)", out.BaseMipLevel, out.LevelCount)
	}
	if out.BaseArrayLayer != 1 || out.LayerCount != vk.RemainingArrayLayers {
		t.Fatalf("layers = [%d,+%d)", out.BaseArrayLayer, out.LayerCount)
	}

	out = rangeToVk(Range{Aspect: AspectColor, NumMipmaps: 2, NumLayers: 4})
	if out.LevelCount != 2 || out.LayerCount != 4 {
		t.Fatalf("explicit counts not kept: %d mips, %d layers", out.LevelCount, out.LayerCount)
	}
}

func TestInjectionFlushKeepsSemaphores(t *testing.T) {
	var inj Injection
	inj.wait(nil, vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit))
	inj.signal(nil)
	inj.execution(
		vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
	)

	// Reset the barrier half by hand; flush issues a device call and the
	// test has no command buffer.
	inj.srcStage, inj.dstStage = 0, 0
	inj.barriers = inj.barriers[:0]

	if len(inj.waits) != 1 || len(inj.waitStages) != 1 || len(inj.signals) != 1 {
		t.Fatalf("semaphores must survive barrier flushing")
	}
}
