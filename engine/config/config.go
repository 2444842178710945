package config

import (
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/helix/engine/core"
)

// Config holds the engine settings read from a TOML file. Zero values are
// replaced by defaults on load so a partial file is fine.
type Config struct {
	App struct {
		Name   string `toml:"name"`
		Width  uint32 `toml:"width"`
		Height uint32 `toml:"height"`
	} `toml:"app"`

	Renderer struct {
		// Number of virtual frames in flight.
		Frames uint `toml:"frames"`
		// Descriptor sets unused for this many flushes are recycled.
		DescriptorFlushes uint `toml:"descriptor_flushes"`
		// Enables the Vulkan validation layer and debug messenger.
		Validation bool `toml:"validation"`
		// Path of the persisted pipeline cache blob, empty to disable.
		PipelineCachePath string `toml:"pipeline_cache_path"`
	} `toml:"renderer"`
}

func Default() *Config {
	cfg := &Config{}
	cfg.App.Name = "Helix"
	cfg.App.Width = 1280
	cfg.App.Height = 720
	cfg.Renderer.Frames = 2
	cfg.Renderer.DescriptorFlushes = 64
	return cfg
}

// Load reads the TOML file at path, filling in defaults for missing values.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if cfg.Renderer.Frames == 0 {
		cfg.Renderer.Frames = 2
	}
	if cfg.Renderer.DescriptorFlushes == 0 {
		cfg.Renderer.DescriptorFlushes = 64
	}
	return cfg, nil
}

// Watcher reloads the config file when it changes on disk and hands the
// fresh Config to the registered callback.
type Watcher struct {
	path     string
	fsnotify *fsnotify.Watcher
	done     chan struct{}

	mu       sync.Mutex
	onReload func(*Config)
}

func NewWatcher(path string, onReload func(*Config)) (*Watcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatch.Add(path); err != nil {
		fsWatch.Close()
		return nil, err
	}

	w := &Watcher{
		path:     path,
		fsnotify: fsWatch,
		done:     make(chan struct{}),
		onReload: onReload,
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				core.LogWarn("config reload failed: %s", err)
				continue
			}
			core.LogInfo("config reloaded from %s", w.path)

			w.mu.Lock()
			cb := w.onReload
			w.mu.Unlock()
			if cb != nil {
				cb(cfg)
			}
		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogWarn("config watcher: %s", err)
		}
	}
}

func (w *Watcher) Close() error {
	close(w.done)
	return w.fsnotify.Close()
}
