// Package config holds the resolved runtime configuration shared by
// the CLI and the daemon: validated options plus the alert rules
// loaded from their YAML file.
package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/fleetkeeper/fleetkeeper/pkg/options"
)

// AlertRuleConfig is the YAML shape of one alert rule.
type AlertRuleConfig struct {
	Name       string   `yaml:"name"`
	EventTypes []string `yaml:"event_types"`
	Endpoints  []struct {
		URL    string `yaml:"url"`
		Secret string `yaml:"secret"`
	} `yaml:"endpoints"`
}

// AlertRulesFile is the top-level YAML document.
type AlertRulesFile struct {
	Rules []AlertRuleConfig `yaml:"rules"`
}

// Config aggregates every option group.
type Config struct {
	Datastore       *options.DatastoreOptions
	InsecureServing *options.InsecureServingOptions
	Log             *options.LogOptions
	JWT             *options.JWTOptions
	Failover        *options.FailoverOptions
	Alert           *options.AlertOptions

	AlertRules []AlertRuleConfig
}

var (
	mu     sync.RWMutex
	active *Config
)

// Set installs cfg as the process-wide configuration.
func Set(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	active = cfg
}

// Get returns the installed configuration, or nil before Set.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return active
}

// LoadAlertRules parses the alert-rule YAML file named by the alert
// options into cfg.AlertRules. A missing RulesFile leaves alerting
// disabled.
func (cfg *Config) LoadAlertRules() error {
	if cfg.Alert == nil || cfg.Alert.RulesFile == "" {
		return nil
	}
	b, err := os.ReadFile(cfg.Alert.RulesFile)
	if err != nil {
		return fmt.Errorf("read alert rules file: %w", err)
	}
	var doc AlertRulesFile
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("parse alert rules file: %w", err)
	}
	cfg.AlertRules = doc.Rules
	return nil
}
