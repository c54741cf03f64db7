// Package config parses the optional external configuration file and
// watches it for changes, translating its YAML shape into the same
// label-key overlay internal/labels already knows how to read.
package config

import (
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"registrywarden/internal/labels"
)

// DefaultPath is used when CONFIG_PATH isn't set.
const DefaultPath = "config.yml"

// debounceWindow matches the 2-second batching window the file watcher
// waits before re-reading the file, collapsing the burst of write events
// most editors and orchestrators produce for a single save.
const debounceWindow = 2 * time.Second

// gcConfig is the `registries.<name>.gc` entry's YAML shape.
type gcConfig struct {
	Always *bool `yaml:"always,omitempty"`
}

// instanceConfig is one `registries.<name>` entry's YAML shape.
type instanceConfig struct {
	Network string                       `yaml:"network,omitempty"`
	Gc      gcConfig                     `yaml:"gc,omitempty"`
	Default map[string]string            `yaml:"default,omitempty"`
	Rule    map[string]map[string]string `yaml:"rule,omitempty"`
}

// Config is the parsed external configuration file.
type Config struct {
	Registries map[string]instanceConfig `yaml:"registries"`
}

// Path resolves the configuration file location: $CONFIG_PATH, or
// DefaultPath if unset.
func Path() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	return DefaultPath
}

// Parse reads and parses the file at path. A missing file is not an
// error: it yields an empty Config, since the external config file is
// entirely optional.
func Parse(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{Registries: map[string]instanceConfig{}}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, err
	}
	if cfg.Registries == nil {
		cfg.Registries = map[string]instanceConfig{}
	}
	return &cfg, nil
}

// LoadOrEmpty parses the file at path, downgrading any error (missing
// permissions, malformed YAML) to an empty Config with a warning, so a
// broken config file never prevents startup.
func LoadOrEmpty(path string, log *zap.Logger) *Config {
	cfg, err := Parse(path)
	if err != nil {
		if log != nil {
			log.Warn("failed to parse configuration file, starting with an empty configuration",
				zap.String("path", path), zap.Error(err))
		}
		return &Config{Registries: map[string]instanceConfig{}}
	}
	return cfg
}

// IsEmpty reports whether the config declares no registries at all.
func (c *Config) IsEmpty() bool {
	return len(c.Registries) == 0
}

// Labels flattens every declared registry's overlay into the
// registrywarden.* label-key convention internal/labels.Parse expects,
// keyed by registry name.
func (c *Config) Labels() map[string]map[string]string {
	out := make(map[string]map[string]string, len(c.Registries))
	for name, instCfg := range c.Registries {
		overlay := make(map[string]string)
		if instCfg.Network != "" {
			overlay[labels.NetworkLabel] = instCfg.Network
		}
		for key, value := range instCfg.Default {
			overlay[labels.ProgramName+".default."+key] = value
		}
		for ruleName, entries := range instCfg.Rule {
			for key, value := range entries {
				overlay[labels.ProgramName+".rule."+ruleName+"."+key] = value
			}
		}
		out[name] = overlay
	}
	return out
}

// RegistryLabels returns one registry's flattened overlay, or nil if it
// isn't declared.
func (c *Config) RegistryLabels(name string) (map[string]string, bool) {
	_, ok := c.Registries[name]
	if !ok {
		return nil, false
	}
	return c.Labels()[name], true
}

// AlwaysRunGC reports whether GC should run on every tick for the named
// registry, even when a tick deleted zero tags. This is read directly
// from the parsed config's `gc.always` key, never from a container
// label: GC cadence is an operational knob the config file owns
// exclusively. Unset or undeclared registries default to true.
func (c *Config) AlwaysRunGC(name string) bool {
	instCfg, ok := c.Registries[name]
	if !ok || instCfg.Gc.Always == nil {
		return true
	}
	return *instCfg.Gc.Always
}

// Watcher watches the configuration file for changes, debounces bursts
// of write events into a single re-parse, and delivers the freshly
// parsed Config (or nothing, on a parse failure — the previous Config
// stays authoritative) over Updates.
type Watcher struct {
	Updates chan *Config

	path    string
	log     *zap.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Watch starts watching the configuration file's parent directory (the
// file itself may not exist yet, or may be replaced atomically by a
// rename, both of which a direct file watch would miss).
func Watch(path string, log *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := directoryOf(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		Updates: make(chan *Config),
		path:    path,
		log:     log,
		watcher: fsw,
		done:    make(chan struct{}),
	}
	go w.run()

	if log != nil {
		log.Info("set up static configuration file listener", zap.String("path", path))
	}
	return w, nil
}

func directoryOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

// run batches fsnotify events for the watched file into a single
// re-parse per debounceWindow of quiet.
func (w *Watcher) run() {
	defer close(w.Updates)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if basename(event.Name) != basename(w.path) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
			} else {
				timer.Reset(debounceWindow)
			}
			timerC = timer.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.log != nil {
				w.log.Warn("received error while watching configuration file", zap.Error(err))
			}

		case <-timerC:
			timerC = nil
			cfg, err := Parse(w.path)
			if err != nil {
				if w.log != nil {
					w.log.Warn("error while parsing updated configuration, keeping previous configuration",
						zap.Error(err))
				}
				continue
			}
			select {
			case w.Updates <- cfg:
			case <-w.done:
				return
			}
		}
	}
}

func basename(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

// Close stops the watcher and releases the underlying inotify handle.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
