package vulkan

import (
	"testing"
	"unsafe"

	vk "github.com/goki/vulkan"
)

// attachBarrierImage gives the attachment a non-null image handle so
// emitted barriers can reference it.
func attachBarrierImage(r *Renderer, index int, w, h uint32) {
	attachTestImage(r, index, w, h)
	r.attachments[index].image.Handle = vk.Image(unsafe.Pointer(new(int)))
}

func TestEmitBarriersRenderToComputeKeepsHandoverLayout(t *testing.T) {
	r, _ := newTestRenderer()
	attachBarrierImage(r, 0, 64, 64)

	producer := addPass(t, r, PassRender)
	producer.Consume(0, AccessAttachmentWrite|AccessDiscard, StageAny, WholeImage())
	consumer := addPass(t, r, PassCompute, producer)
	consumer.Consume(0, AccessSampledRead, StageCompute, WholeImage())

	if err := r.graph.analyze(r); err != nil {
		t.Fatalf("analyze: %v", err)
	}

	f := &VirtualFrame{}
	var inj Injection
	f.emitBarriers(r, consumer, &inj)

	if len(inj.barriers) != 1 {
		t.Fatalf("got %d barriers, want 1", len(inj.barriers))
	}
	b := inj.barriers[0]
	if b.OldLayout != vk.ImageLayoutShaderReadOnlyOptimal || b.NewLayout != vk.ImageLayoutShaderReadOnlyOptimal {
		t.Fatalf("render pass already handed the image over, barrier transitions %v -> %v", b.OldLayout, b.NewLayout)
	}
	if b.SrcAccessMask != vk.AccessFlags(vk.AccessColorAttachmentWriteBit) {
		t.Fatalf("src access = %v", b.SrcAccessMask)
	}
	if b.DstAccessMask != vk.AccessFlags(vk.AccessShaderReadBit) {
		t.Fatalf("dst access = %v", b.DstAccessMask)
	}
	if inj.srcStage != vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit) {
		t.Fatalf("src stage = %v", inj.srcStage)
	}
	if inj.dstStage != vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit) {
		t.Fatalf("dst stage = %v", inj.dstStage)
	}
}

func TestEmitBarriersShaderProducerTransitionsAttachment(t *testing.T) {
	r, _ := newTestRenderer()
	attachBarrierImage(r, 0, 64, 64)

	producer := addPass(t, r, PassRender)
	producer.Consume(0, AccessStorageWrite, StageFragment, WholeImage())
	consumer := addPass(t, r, PassRender, producer)
	consumer.Consume(0, AccessAttachmentRead|AccessAttachmentWrite, StageAny, WholeImage())

	if err := r.graph.analyze(r); err != nil {
		t.Fatalf("analyze: %v", err)
	}

	f := &VirtualFrame{}
	var inj Injection
	f.emitBarriers(r, consumer, &inj)

	// The producer used the image through a descriptor, so no render pass
	// transitioned it for us.
	if len(inj.barriers) != 1 {
		t.Fatalf("attachment use after a shader write got %d barriers, want 1", len(inj.barriers))
	}
	b := inj.barriers[0]
	if b.OldLayout != vk.ImageLayoutGeneral || b.NewLayout != vk.ImageLayoutColorAttachmentOptimal {
		t.Fatalf("barrier transitions %v -> %v, want general to color attachment", b.OldLayout, b.NewLayout)
	}
	if b.SrcAccessMask != vk.AccessFlags(vk.AccessShaderWriteBit) {
		t.Fatalf("src access = %v", b.SrcAccessMask)
	}
	if inj.srcStage != vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit) {
		t.Fatalf("src stage = %v", inj.srcStage)
	}
	if inj.dstStage != vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit) {
		t.Fatalf("dst stage = %v", inj.dstStage)
	}
}

func TestEmitBarriersSkipsRenderToRenderAttachments(t *testing.T) {
	r, _ := newTestRenderer()
	attachBarrierImage(r, 0, 64, 64)

	producer := addPass(t, r, PassRender)
	producer.Consume(0, AccessAttachmentWrite|AccessDiscard, StageAny, WholeImage())
	consumer := addPass(t, r, PassRender, producer)
	consumer.Consume(0, AccessAttachmentRead|AccessAttachmentWrite, StageAny, WholeImage())

	if err := r.graph.analyze(r); err != nil {
		t.Fatalf("analyze: %v", err)
	}

	f := &VirtualFrame{}
	var inj Injection
	f.emitBarriers(r, consumer, &inj)

	if len(inj.barriers) != 0 || inj.srcStage != 0 || inj.dstStage != 0 {
		t.Fatalf("attachment chains between render passes must transition through the pass, got %d barriers", len(inj.barriers))
	}
}

func TestEmitBarriersReadReadExecutionOnly(t *testing.T) {
	r, _ := newTestRenderer()
	attachBarrierImage(r, 0, 64, 64)

	producer := addPass(t, r, PassRender)
	producer.Consume(0, AccessSampledRead, StageFragment, WholeImage())
	consumer := addPass(t, r, PassCompute, producer)
	consumer.Consume(0, AccessSampledRead, StageCompute, WholeImage())

	if err := r.graph.analyze(r); err != nil {
		t.Fatalf("analyze: %v", err)
	}

	f := &VirtualFrame{}
	var inj Injection
	f.emitBarriers(r, consumer, &inj)

	if len(inj.barriers) != 0 {
		t.Fatalf("two reads in one layout emitted %d image barriers", len(inj.barriers))
	}
	if inj.srcStage != vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit) ||
		inj.dstStage != vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit) {
		t.Fatalf("execution ordering stages %v -> %v", inj.srcStage, inj.dstStage)
	}
}
