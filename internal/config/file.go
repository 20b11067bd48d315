// Package config handles domwait scenario configuration from YAML files or
// SQLite.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/domwait/mutation"
	"github.com/hazyhaar/domwait/recognize"
)

// Config is a scenario: one page, the recognizers run against it and where
// recognitions go.
type Config struct {
	URL         string             `yaml:"url"`
	Browser     BrowserConfig      `yaml:"browser"`
	Debounce    DebounceConfig     `yaml:"debounce"`
	Recognizers []RecognizerConfig `yaml:"recognizers"`
	Sinks       []SinkConfig       `yaml:"sinks"`
	DebugAddr   string             `yaml:"debug_addr"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	Remote  string        `yaml:"remote"`
	Headful bool          `yaml:"headful"`
	Stealth *bool         `yaml:"stealth"` // default true
	Block   []string      `yaml:"resource_blocking"`
	Timeout time.Duration `yaml:"timeout"`
}

// StealthEnabled reports the effective stealth setting.
func (b BrowserConfig) StealthEnabled() bool {
	return b.Stealth == nil || *b.Stealth
}

// DebounceConfig controls live mutation batching.
type DebounceConfig struct {
	Window    time.Duration `yaml:"window"`
	MaxBuffer int           `yaml:"max_buffer"`
}

// RecognizerConfig declares one recognizer. Target is an XPath resolved on
// the page when the scenario starts.
type RecognizerConfig struct {
	Name             string           `yaml:"name"`
	Target           string           `yaml:"target"`
	AddedChild       *recognize.Shape `yaml:"added_child"`
	RemovedChild     *recognize.Shape `yaml:"removed_child"`
	ChangedAttribute string           `yaml:"changed_attribute"`
	Text             string           `yaml:"text"`
	Async            bool             `yaml:"async"`
	Delay            time.Duration    `yaml:"delay"`
	Timeout          time.Duration    `yaml:"timeout"`
}

// Pattern builds the recognize.Pattern anchored on target.
func (rc RecognizerConfig) Pattern(target mutation.Node) recognize.Pattern {
	return recognize.Pattern{
		Target:           target,
		AddedChild:       rc.AddedChild,
		RemovedChild:     rc.RemovedChild,
		ChangedAttribute: rc.ChangedAttribute,
		Text:             rc.Text,
	}
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook | sqlite
	URL  string `yaml:"url"`  // webhook
	Path string `yaml:"path"` // sqlite
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML and applies defaults. Unknown keys are errors so a
// misspelled criterion does not silently produce a recognizer that never
// fires.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

const (
	DefaultTimeout = 30 * time.Second
	DefaultWindow  = 10 * time.Millisecond
)

func (c *Config) applyDefaults() {
	if c.Browser.Timeout <= 0 {
		c.Browser.Timeout = DefaultTimeout
	}
	if c.Debounce.Window <= 0 {
		c.Debounce.Window = DefaultWindow
	}
	if c.Debounce.MaxBuffer <= 0 {
		c.Debounce.MaxBuffer = 1000
	}
	if len(c.Sinks) == 0 {
		c.Sinks = []SinkConfig{{Type: "stdout"}}
	}
	for i := range c.Recognizers {
		c.Recognizers[i].applyDefaults(i)
	}
}

func (rc *RecognizerConfig) applyDefaults(i int) {
	if rc.Name == "" {
		rc.Name = fmt.Sprintf("recognizer-%d", i+1)
	}
	if rc.Timeout <= 0 {
		rc.Timeout = DefaultTimeout
	}
	if rc.Async && rc.Delay <= 0 {
		rc.Delay = recognize.DefaultDelay
	}
}

// Validate reports every configuration error at once.
func (c *Config) Validate() error {
	var errs []error
	seen := make(map[string]bool)
	for _, rc := range c.Recognizers {
		if seen[rc.Name] {
			errs = append(errs, fmt.Errorf("config: recognizer %q: duplicate name", rc.Name))
		}
		seen[rc.Name] = true
		if rc.Target == "" {
			errs = append(errs, fmt.Errorf("config: recognizer %q: target is required", rc.Name))
		}
		if rc.AddedChild == nil && rc.RemovedChild == nil && rc.ChangedAttribute == "" && rc.Text == "" {
			errs = append(errs, fmt.Errorf("config: recognizer %q: %w", rc.Name, recognize.ErrEmptyPattern))
		}
	}
	for _, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				errs = append(errs, errors.New("config: webhook sink: url is required"))
			}
		case "sqlite":
			if s.Path == "" {
				errs = append(errs, errors.New("config: sqlite sink: path is required"))
			}
		default:
			errs = append(errs, fmt.Errorf("config: unknown sink type %q", s.Type))
		}
	}
	return errors.Join(errs...)
}
