/*
Demo application that brings up the renderer on a window and runs the
frame loop until the window closes.
*/
package main

import (
	"os"
	"os/signal"
	"syscall"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/helix/engine/config"
	"github.com/spaghettifunk/helix/engine/core"
	"github.com/spaghettifunk/helix/engine/platform"
	"github.com/spaghettifunk/helix/engine/renderer/vulkan"
)

const configPath = "helix.toml"

func main() {
	cfg, err := config.Load(configPath)
	if err != nil {
		core.LogWarn("no config at %s, using defaults: %s", configPath, err)
		cfg = config.Default()
	}

	if err := core.EventSystemInitialize(); err != nil {
		panic(err)
	}
	if err := core.MetricsInitialize(); err != nil {
		panic(err)
	}

	p, err := platform.New()
	if err != nil {
		panic(err)
	}
	if err := p.Startup(cfg.App.Name, 100, 100, cfg.App.Width, cfg.App.Height); err != nil {
		panic(err)
	}
	defer p.Shutdown()

	ctx, err := vulkan.NewContext(vulkan.ContextOptions{
		AppName:            cfg.App.Name,
		Validation:         cfg.Renderer.Validation,
		PlatformExtensions: p.GetRequiredExtensionNames(),
	})
	if err != nil {
		panic(err)
	}
	defer ctx.Shutdown()

	window, err := vulkan.NewWindow(ctx, p)
	if err != nil {
		panic(err)
	}
	defer window.Destroy()

	renderer, err := vulkan.NewRenderer(ctx, vulkan.RendererOptions{
		Frames:            int(cfg.Renderer.Frames),
		DescriptorFlushes: uint32(cfg.Renderer.DescriptorFlushes),
	})
	if err != nil {
		panic(err)
	}
	defer renderer.Destroy()

	if path := cfg.Renderer.PipelineCachePath; path != "" {
		loadPipelineCache(renderer, path)
		defer storePipelineCache(renderer, path)
	}

	// Attachment 0 is the window, attachment 1 an offscreen image the
	// compute pass scribbles into.
	if err := renderer.AttachWindow(0, window); err != nil {
		panic(err)
	}
	width, height := window.Extent()
	if err := renderer.AttachImage(1, vulkan.AttachmentDesc{
		Format: vk.FormatR8g8b8a8Unorm,
		Usage:  vk.ImageUsageFlags(vk.ImageUsageStorageBit | vk.ImageUsageSampledBit),
		Width:  width,
		Height: height,
	}); err != nil {
		panic(err)
	}

	clear, err := renderer.AddPass(vulkan.PassRender)
	if err != nil {
		panic(err)
	}
	clear.Consume(0, vulkan.AccessAttachmentWrite|vulkan.AccessDiscard, vulkan.StageAny, vulkan.WholeImage())
	clear.SetClear(0, vk.ClearValue{})

	scribble, err := renderer.AddPass(vulkan.PassCompute, clear)
	if err != nil {
		panic(err)
	}
	scribble.Consume(1, vulkan.AccessStorageWrite, vulkan.StageCompute, vulkan.WholeImage())

	recorder, err := renderer.NewRecorder()
	if err != nil {
		panic(err)
	}
	defer recorder.Destroy()
	recorder.OnRecord(clear, func(cmd vk.CommandBuffer, pass *vulkan.Pass, frame *vulkan.VirtualFrame) {
		// Draw calls go here; the clear alone keeps the demo visible.
	})

	if err := renderer.Warmup(); err != nil {
		panic(err)
	}

	running := true
	core.EventRegister(core.EVENT_CODE_APPLICATION_QUIT, nil,
		func(code core.SystemEventCode, sender interface{}, context core.EventContext) bool {
			running = false
			return true
		})
	core.EventRegister(core.EVENT_CODE_RESIZED, nil,
		func(code core.SystemEventCode, sender interface{}, context core.EventContext) bool {
			core.LogDebug("window resized to %dx%d", context.Data.U32[0], context.Data.U32[1])
			return false
		})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	go func() {
		<-sigCh
		core.EventEnqueue(core.EVENT_CODE_APPLICATION_QUIT, nil, core.EventContext{})
	}()

	watcher, err := config.NewWatcher(configPath, func(fresh *config.Config) {
		core.LogInfo("validation=%v after reload, restart to apply", fresh.Renderer.Validation)
	})
	if err == nil {
		defer watcher.Close()
	}

	clock := core.NewClock()
	clock.Start()
	for running {
		p.PumpMessages()

		frame, err := renderer.Acquire()
		if err != nil {
			core.LogError("acquire failed: %s", err)
			break
		}
		if err := renderer.Submit(frame); err != nil {
			core.LogError("submit failed: %s", err)
			break
		}

		clock.Update()
		core.MetricsUpdate(clock.Elapsed().Seconds())
		clock.Start()
	}
	core.LogInfo("shutting down at %.1f fps", core.MetricsFPS())
}

func loadPipelineCache(r *vulkan.Renderer, path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	if err := r.Cache().LoadPipelineCache(f); err != nil {
		core.LogWarn("pipeline cache not loaded: %s", err)
	}
}

func storePipelineCache(r *vulkan.Renderer, path string) {
	f, err := os.Create(path)
	if err != nil {
		core.LogWarn("pipeline cache not stored: %s", err)
		return
	}
	defer f.Close()
	if err := r.Cache().StorePipelineCache(f); err != nil {
		core.LogWarn("pipeline cache not stored: %s", err)
	}
}
