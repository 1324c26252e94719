// Package config loads the pumpctl YAML configuration file.
//
//	aws:
//	  region: eu-west-1
//	log:
//	  level: info
//	  format: json
//	metrics:
//	  listen: ":9102"
//	archive:
//	  bucket: poison-archive
//	  prefix: queue-pump
//	  compression: snappy
//	pumps:
//	  - queue: orders
//	    maxConcurrency: 8
//	    visibilityTimeout: 60s
//	    leaseRenewEvery: 20s
//	    decodeFailure: delete
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/baldanca/queue-pump/pump"
)

type Config struct {
	AWS     AWS     `yaml:"aws"`
	Log     Log     `yaml:"log"`
	Metrics Metrics `yaml:"metrics"`
	Archive Archive `yaml:"archive"`
	Pumps   []Pump  `yaml:"pumps"`
}

type AWS struct {
	Region string `yaml:"region"`
	// Endpoint overrides the SQS endpoint, e.g. for a local emulator.
	Endpoint string `yaml:"endpoint"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Metrics struct {
	// Listen is the address serving /metrics. Empty disables it.
	Listen string `yaml:"listen"`
}

type Archive struct {
	// Bucket enables poison-message archiving when set.
	Bucket      string `yaml:"bucket"`
	Prefix      string `yaml:"prefix"`
	Compression string `yaml:"compression"`
}

// Pump mirrors pump.Config. Unset fields take pump.DefaultConfig values.
type Pump struct {
	Queue                 string         `yaml:"queue"`
	Enabled               *bool          `yaml:"enabled"`
	MaxMessages           int32          `yaml:"maxMessages"`
	WaitTime              *time.Duration `yaml:"waitTime"`
	VisibilityTimeout     time.Duration  `yaml:"visibilityTimeout"`
	BatchDelay            *time.Duration `yaml:"batchDelay"`
	MaxConcurrency        int            `yaml:"maxConcurrency"`
	DecodeFailure         string         `yaml:"decodeFailure"`
	FailVisibilityTimeout time.Duration  `yaml:"failVisibilityTimeout"`
	FailBackoff           bool           `yaml:"failBackoff"`
	LeaseRenewEvery       time.Duration  `yaml:"leaseRenewEvery"`
	AckTimeout            time.Duration  `yaml:"ackTimeout"`
}

// IsEnabled reports whether the pump starts enabled (default true).
func (p Pump) IsEnabled() bool { return p.Enabled == nil || *p.Enabled }

// PumpConfig converts p into a validated pump.Config.
func (p Pump) PumpConfig() (pump.Config, error) {
	cfg := pump.DefaultConfig
	cfg.Queue = p.Queue
	if p.MaxMessages != 0 {
		cfg.MaxMessages = p.MaxMessages
	}
	if p.WaitTime != nil {
		cfg.WaitTime = *p.WaitTime
	}
	if p.VisibilityTimeout != 0 {
		cfg.VisibilityTimeout = p.VisibilityTimeout
	}
	if p.BatchDelay != nil {
		cfg.BatchDelay = *p.BatchDelay
	}
	if p.MaxConcurrency != 0 {
		cfg.MaxConcurrency = p.MaxConcurrency
	}
	if p.AckTimeout != 0 {
		cfg.AckTimeout = p.AckTimeout
	}
	cfg.FailVisibilityTimeout = p.FailVisibilityTimeout
	cfg.FailBackoff = p.FailBackoff
	cfg.LeaseRenewEvery = p.LeaseRenewEvery

	policy, err := pump.ParseDecodeFailurePolicy(p.DecodeFailure)
	if err != nil {
		return pump.Config{}, &pump.ConfigurationError{Field: "DecodeFailure", Err: err}
	}
	cfg.DecodeFailure = policy

	if err := cfg.Validate(); err != nil {
		return pump.Config{}, err
	}
	return cfg, nil
}

// Load reads, defaults and checks the file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Config, error) {
	var c Config
	if err := yaml.UnmarshalStrict(raw, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()
	if err := c.Check(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Archive.Compression == "" {
		c.Archive.Compression = "snappy"
	}
}

// Check reports every problem in c at once.
func (c *Config) Check() error {
	var errs []error
	seen := make(map[string]bool, len(c.Pumps))
	for i, p := range c.Pumps {
		if seen[p.Queue] {
			errs = append(errs, fmt.Errorf("pumps[%d]: duplicate queue %q", i, p.Queue))
		}
		seen[p.Queue] = true
		if _, err := p.PumpConfig(); err != nil {
			errs = append(errs, fmt.Errorf("pumps[%d]: %w", i, err))
		}
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
