// Package config implements the already-materialized configuration
// object a hook is constructed from (spec.md §6). Loading it from a
// file is a convenience on top of that object, not a requirement: the
// core only ever consumes a *Configuration value.
//
// Grounded on wings' config/config.go: a package-level singleton guarded
// by a RWMutex, creasty/defaults for zero-value population, and
// gopkg.in/yaml.v2 for the on-disk form.
package config

import (
	"os"
	"sync"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/creasty/defaults"
	"gopkg.in/yaml.v2"
)

// DefaultLocation is the configuration path the command line uses when
// no --config flag is given; FromFile itself always takes an explicit
// path.
const DefaultLocation = "/etc/hookbus/config.yml"

var (
	mu            sync.RWMutex
	_config       *Configuration
	_debugViaFlag bool
)

var _writeLock sync.Mutex

// TransportConfiguration names one auxiliary transport and its
// type-specific options (spec.md §6 "transports: sequence of
// {type, options}").
type TransportConfiguration struct {
	Type    string                 `yaml:"type"`
	Options map[string]interface{} `yaml:"options"`
}

// ChildHookConfiguration describes one child hook for the external
// spawner (spec.md §6 "hooks: sequence of child-hook specifications").
type ChildHookConfiguration struct {
	Name string                 `yaml:"name"`
	Type string                 `yaml:"type"`
	Args map[string]interface{} `yaml:"args"`
}

// MetricsConfiguration controls the optional prometheus endpoint.
type MetricsConfiguration struct {
	Enabled bool   `default:"false" yaml:"enabled"`
	Bind    string `default:"127.0.0.1:9100" yaml:"bind"`
}

// Configuration holds every recognized key from spec.md §6. The
// `eventMap` key is deliberately absent here: it maps topic patterns to
// in-process handler functions, which cannot round-trip through YAML,
// so callers construct it in code and pass it directly to
// internal/hook.Options rather than through this struct.
type Configuration struct {
	path string

	Name       string `default:"no-name" yaml:"hook-name"`
	Type       string `default:"hook" yaml:"hook-type"`
	HookPort   int    `default:"5000" yaml:"hook-port"`
	HookHost   string `default:"127.0.0.1" yaml:"hook-host"`
	HookSocket string `yaml:"hook-socket,omitempty"`

	Debug    bool `yaml:"debug"`
	Quiet    bool `yaml:"quiet"`
	NoConfig bool `yaml:"-"`

	Metrics    MetricsConfiguration      `yaml:"metrics"`
	Transports []TransportConfiguration  `yaml:"transports"`
	Hooks      []ChildHookConfiguration  `yaml:"hooks"`
}

// NewAtPath creates a new Configuration populated with its field
// defaults and remembers path for a later WriteToDisk. It does not
// modify the currently stored global configuration.
func NewAtPath(path string) (*Configuration, error) {
	var c Configuration
	if err := defaults.Set(&c); err != nil {
		return nil, err
	}
	c.path = path
	return &c, nil
}

// Set installs c as the global configuration instance.
func Set(c *Configuration) {
	mu.Lock()
	_config = c
	mu.Unlock()
}

// SetDebugViaFlag tracks that debug mode was forced on by a command
// line flag, so WriteToDisk does not persist it.
func SetDebugViaFlag(d bool) {
	mu.Lock()
	_config.Debug = d
	_debugViaFlag = d
	mu.Unlock()
}

// Get returns a copy of the global configuration instance. Modifications
// to this copy are not visible to other callers; use Update for that.
func Get() *Configuration {
	mu.RLock()
	//goland:noinspection GoVetCopyLock
	c := *_config
	mu.RUnlock()
	return &c
}

// Update performs an in-situ, mutex-guarded mutation of the global
// configuration object.
func Update(callback func(c *Configuration)) {
	mu.Lock()
	callback(_config)
	mu.Unlock()
}

// WriteToDisk persists c to its recorded path.
func WriteToDisk(c *Configuration) error {
	_writeLock.Lock()
	defer _writeLock.Unlock()

	//goland:noinspection GoVetCopyLock
	ccopy := *c
	if _debugViaFlag {
		ccopy.Debug = false
	}
	if c.path == "" {
		return errors.New("config: cannot write configuration, no path defined in struct")
	}
	b, err := yaml.Marshal(&ccopy)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, b, 0o600)
}

// FromFile reads the configuration at path and installs it as the
// global singleton.
func FromFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	c, err := NewAtPath(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return err
	}
	log.WithField("path", path).Debug("config: loaded configuration from disk")
	Set(c)
	return nil
}
