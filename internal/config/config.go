package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// FlowDefinition names an ordered set of interceptors applied to one event stream.
type FlowDefinition struct {
	Name         string              `yaml:"name"`
	Interceptors []InterceptorConfig `yaml:"interceptors"`
}

// InterceptorConfig holds one interceptor entry of a flow.
type InterceptorConfig struct {
	Type   string                 `yaml:"type"`
	Config map[string]interface{} `yaml:"config"`
}

// KnownInterceptorTypes lists the interceptor types a flow may reference.
var KnownInterceptorTypes = []string{"filebeat"}

// booleanOptions are interceptor options that must hold a boolean.
var booleanOptions = []string{"preserveExisting"}

// Validate reports every problem in the definition, joined.
func (f *FlowDefinition) Validate() error {
	var errs []error
	if f.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	for i, ic := range f.Interceptors {
		if !isKnownType(ic.Type) {
			errs = append(errs, fmt.Errorf("interceptors[%d].type: unknown type %q", i, ic.Type))
		}
		for _, key := range booleanOptions {
			if _, err := GetBool(ic.Config, key, false); err != nil {
				errs = append(errs, fmt.Errorf("interceptors[%d].config.%s: %w", i, key, err))
			}
		}
	}
	return errors.Join(errs...)
}

func isKnownType(t string) bool {
	for _, known := range KnownInterceptorTypes {
		if t == known {
			return true
		}
	}
	return false
}

// GetBool reads a boolean option. Missing keys yield def. Strings "true" and
// "false" are accepted in any case, as string-typed hosts pass them.
func GetBool(m map[string]interface{}, key string, def bool) (bool, error) {
	val, ok := m[key]
	if !ok || val == nil {
		return def, nil
	}
	switch v := val.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return def, fmt.Errorf("expected boolean, got %q", v)
	default:
		return def, fmt.Errorf("expected boolean, got %T", val)
	}
}

// Loader loads and watches flow definition files.
type Loader struct {
	mu       sync.RWMutex
	flows    map[string]*FlowDefinition
	dir      string
	logger   *slog.Logger
	onChange func(map[string]*FlowDefinition)
}

// NewLoader creates a new configuration loader for the given directory.
func NewLoader(dir string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		flows:  make(map[string]*FlowDefinition),
		dir:    dir,
		logger: logger,
	}
}

// OnChange registers a callback that fires when config files change.
func (l *Loader) OnChange(fn func(map[string]*FlowDefinition)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = fn
}

// Load reads all YAML files from the configured directory. Files that fail to
// parse or validate are logged and skipped.
func (l *Loader) Load() (map[string]*FlowDefinition, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read config dir %s: %w", l.dir, err)
	}

	flows := make(map[string]*FlowDefinition)
	for _, entry := range entries {
		if entry.IsDir() || !IsYAML(entry.Name()) {
			continue
		}

		path := filepath.Join(l.dir, entry.Name())
		flow, err := LoadFile(path)
		if err != nil {
			l.logger.Error("failed to load config file", "path", path, "error", err)
			continue
		}
		if _, dup := flows[flow.Name]; dup {
			l.logger.Warn("duplicate flow name, later file wins", "flow", flow.Name, "path", path)
		}
		flows[flow.Name] = flow
	}

	l.mu.Lock()
	l.flows = flows
	l.mu.Unlock()

	return flows, nil
}

// Watch starts watching the config directory for changes. Blocks until done is closed.
func (l *Loader) Watch(done <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close() // intentionally ignoring close error during cleanup
	}()

	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("watch dir %s: %w", l.dir, err)
	}

	l.logger.Info("watching config directory", "dir", l.dir)

	for {
		select {
		case <-done:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !IsYAML(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				l.logger.Info("config change detected", "file", event.Name, "op", event.Op.String())
				flows, err := l.Load()
				if err != nil {
					l.logger.Error("failed to reload config", "error", err)
					continue
				}
				l.mu.RLock()
				fn := l.onChange
				l.mu.RUnlock()
				if fn != nil {
					fn(flows)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Error("watcher error", "error", err)
		}
	}
}

// GetFlows returns a copy of the currently loaded flows.
func (l *Loader) GetFlows() map[string]*FlowDefinition {
	l.mu.RLock()
	defer l.mu.RUnlock()

	flows := make(map[string]*FlowDefinition, len(l.flows))
	for k, v := range l.flows {
		flows[k] = v
	}
	return flows
}

// LoadFile reads and validates a single flow definition.
func LoadFile(path string) (*FlowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var flow FlowDefinition
	if err := yaml.Unmarshal(data, &flow); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	if err := flow.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flow definition in %s: %w", path, err)
	}

	return &flow, nil
}

// IsYAML reports whether name has a .yaml or .yml extension.
func IsYAML(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}
