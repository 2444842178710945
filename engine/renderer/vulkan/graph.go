package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/helix/engine/core"
)

type graphState int

const (
	graphInvalid graphState = iota
	graphValidated
	graphWarmed
	graphBuilt
)

// renderGraph keeps the passes in submission order: all render passes
// first, then the compute passes, so the compute queue submission can
// trail the graphics one. Within each group passes are ordered by level,
// ties keep insertion order.
type renderGraph struct {
	state     graphState
	passes    []*Pass
	numRender int

	// Set during analysis when a consumption crosses the queue boundary,
	// the frame then chains the two submissions with a semaphore.
	crossQueue bool
}

func (g *renderGraph) invalidate() {
	if g.state > graphInvalid {
		g.state = graphInvalid
	}
}

// add inserts a pass at the end of its level within its group.
func (g *renderGraph) add(p *Pass) {
	p.level = 0
	for _, parent := range p.parents {
		if parent.level+1 > p.level {
			p.level = parent.level + 1
		}
	}

	lo, hi := 0, g.numRender
	if p.kind == PassCompute {
		lo, hi = g.numRender, len(g.passes)
	}

	// Backward scan, almost always appends.
	pos := hi
	for pos > lo && g.passes[pos-1].level > p.level {
		pos--
	}

	g.passes = append(g.passes, nil)
	copy(g.passes[pos+1:], g.passes[pos:])
	g.passes[pos] = p

	if p.kind == PassRender {
		g.numRender++
	}
	g.reorder()
	g.invalidate()
}

func (g *renderGraph) remove(p *Pass) {
	for i, cand := range g.passes {
		if cand == p {
			g.passes = append(g.passes[:i], g.passes[i+1:]...)
			if p.kind == PassRender {
				g.numRender--
			}
			g.reorder()
			g.invalidate()
			return
		}
	}
}

func (g *renderGraph) reorder() {
	for i, p := range g.passes {
		p.order = i
	}
}

// analyze chains every consumption to the previous consumer of the same
// attachment and derives the image layouts each use sees.
func (g *renderGraph) analyze(r *Renderer) error {
	type lastUse struct {
		pass *Pass
		cons *Consumption
	}
	last := map[int]*lastUse{}
	lastWindowUse := map[int]*Consumption{}
	g.crossQueue = false

	for _, p := range g.passes {
		for _, c := range p.consumes {
			at := r.attachmentAt(c.Index)
			if at == nil || at.kind == attachEmpty {
				return core.ErrCreation
			}

			depth := depthStencilRange(c.Range)
			c.layout = accessLayout(c.Mask, depth)
			c.prev, c.prevPass = nil, nil

			if prev, ok := last[c.Index]; ok {
				c.prev = prev.cons
				c.prevPass = prev.pass
				if prev.pass.kind != p.kind {
					g.crossQueue = true
				}
				// A render pass transitions its own attachments, so hand
				// our layout to its final. Any other producer leaves the
				// image where it was and a barrier moves it.
				if prev.pass.kind == PassRender && prev.cons.attachmentAccess() {
					prev.cons.final = c.layout
				}
				c.initial = c.layout
			} else if c.Mask&AccessDiscard != 0 {
				c.initial = vk.ImageLayoutUndefined
			} else {
				c.initial = c.layout
			}

			// Until a later consumer overrides it.
			c.final = c.layout

			last[c.Index] = &lastUse{pass: p, cons: c}
			if at.kind == attachWindow {
				lastWindowUse[c.Index] = c
			}
		}
	}

	// The last touch of a window attachment hands the image to present.
	for _, c := range lastWindowUse {
		c.final = vk.ImageLayoutPresentSrc
	}

	g.state = graphValidated
	return nil
}

// warmup validates and builds every render pass object. Idempotent.
func (g *renderGraph) warmup(r *Renderer) error {
	if g.state >= graphWarmed {
		return nil
	}
	if g.state < graphValidated {
		if err := g.analyze(r); err != nil {
			return err
		}
	}
	for _, p := range g.passes {
		if err := p.warmup(r); err != nil {
			return err
		}
	}
	g.state = graphWarmed
	return nil
}

// build makes the whole graph recordable. Passes with a zero-size
// backing stay unbuilt and are skipped at record time.
func (g *renderGraph) build(r *Renderer) error {
	if g.state >= graphBuilt {
		return nil
	}
	if err := g.warmup(r); err != nil {
		return err
	}
	for _, p := range g.passes {
		if err := p.build(r); err != nil {
			return err
		}
	}
	g.state = graphBuilt
	return nil
}

// rebuild reacts to swapchain recreation: it tears down exactly the state
// the flags invalidate for every pass touching the given attachment, then
// builds again.
func (g *renderGraph) rebuild(r *Renderer, index int, flags RecreateFlags) error {
	if flags == 0 {
		return nil
	}
	for _, p := range g.passes {
		if p.consumption(index) != nil {
			p.destructPartial(r, flags)
		}
	}
	if flags&FlagReformat != 0 {
		// Formats feed analysis and pipelines; force a fresh pass.
		g.state = graphInvalid
	} else if g.state > graphValidated {
		g.state = graphValidated
	}
	return g.build(r)
}

// destruct tears down all built pass state, the graph definition stays.
func (g *renderGraph) destruct(r *Renderer) {
	for _, p := range g.passes {
		p.destruct(r)
	}
	g.state = graphInvalid
}
