// Package config loads and validates the daemon's YAML configuration,
// following the teacher's "parser trickery" pattern: an Internal struct
// unmarshaled by yaml.v2, default-filled and validated in a custom
// UnmarshalYAML, wrapped in a named type for the exported field.
package config

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// GrowthType enumerates the slot-count growth strategies.
type GrowthType string

const (
	GrowthLinear      GrowthType = "linear"
	GrowthExponential GrowthType = "exponential"
)

// HAProxyInternal is the deserialized shape of the haproxy.* section.
type HAProxyInternal struct {
	AvailabilityZone string                            `yaml:"availability_zone"`
	Backend          BackendConfig                     `yaml:"backend"`
	ServerSlots      ServerSlotsConfig                  `yaml:"server_slots"`
	BackendOptions   map[string]map[string]interface{} `yaml:"backend_options"`
	Timeout          time.Duration                      `yaml:"timeout"`
	VerifySSL        *bool                              `yaml:"verify_ssl"`
	BaseURL          string                             `yaml:"base_url"`
	APIVersion       string                             `yaml:"api_version"`
	Username         string                             `yaml:"username"`
	Password         string                             `yaml:"password"`
}

// HAProxy wraps HAProxyInternal -- parser trickery, per the teacher's
// Cluster/Certificate pattern -- so UnmarshalYAML can default-fill.
type HAProxy struct {
	*HAProxyInternal
}

// BackendConfig is the haproxy.backend.* section.
type BackendConfig struct {
	NamePrefix    string `yaml:"name_prefix"`
	NameSeparator string `yaml:"name_separator"`
	Balance       string `yaml:"balance"`
	Mode          string `yaml:"mode"`
}

// ServerSlotsConfig is the haproxy.server_slots.* section.
type ServerSlotsConfig struct {
	Base         int        `yaml:"base"`
	GrowthFactor float64    `yaml:"growth_factor"`
	GrowthType   GrowthType `yaml:"growth_type"`
}

// TagsInternal is the deserialized shape of the tags.* section.
type TagsInternal struct {
	ServiceNameTag  string            `yaml:"service_name_tag"`
	ServicePortTag  string            `yaml:"service_port_tag"`
	InstancePortTag string            `yaml:"instance_port_tag"`
	AZWeightTag     string            `yaml:"az_weight_tag"`
	Allowlist       map[string]string `yaml:"allowlist"`
	Denylist        map[string]string `yaml:"denylist"`
}

// Tags wraps TagsInternal -- parser trickery.
type Tags struct {
	*TagsInternal
}

// PollingInternal is the deserialized shape of the polling.* section.
type PollingInternal struct {
	IntervalSeconds    int `yaml:"interval_seconds"`
	JitterSeconds      int `yaml:"jitter_seconds"`
	BackoffBaseSeconds int `yaml:"backoff_base_seconds"`
	MaxBackoffSeconds  int `yaml:"max_backoff_seconds"`
}

// Polling wraps PollingInternal -- parser trickery.
type Polling struct {
	*PollingInternal
}

// AzureConfig names the Azure discovery scope.
type AzureConfig struct {
	SubscriptionID string   `yaml:"subscription_id"`
	ResourceGroup  string   `yaml:"resource_group"`
	Regions        []string `yaml:"regions"`
}

// AWSConfig names the AWS discovery scope.
type AWSConfig struct {
	Regions []string `yaml:"regions"`
}

// Config is the top-level configuration, unchanged field set from the
// spec plus the provider-specific substructs SPEC_FULL.md §6.3 adds.
type Config struct {
	Provider string      `yaml:"provider"`
	HAProxy  HAProxy     `yaml:"haproxy"`
	Tags     Tags        `yaml:"tags"`
	Polling  Polling     `yaml:"polling"`
	Azure    AzureConfig `yaml:"azure"`
	AWS      AWSConfig   `yaml:"aws"`
	Verbose  bool        `yaml:"verbose"`
}

// UnmarshalYAML default-fills the haproxy section the way the teacher's
// Cluster.UnmarshalYAML fills IngressNamespace/IngressPort.
func (h *HAProxy) UnmarshalYAML(unmarshal func(interface{}) error) error {
	obj := HAProxyInternal{}
	if err := unmarshal(&obj); err != nil {
		return err
	}
	h.HAProxyInternal = &obj

	if h.Backend.NamePrefix == "" {
		return errors.New("haproxy.backend.name_prefix missing")
	}
	if h.Backend.NameSeparator == "" {
		h.Backend.NameSeparator = "-"
	}
	if h.Backend.Balance == "" {
		h.Backend.Balance = "roundrobin"
	}
	if h.Backend.Mode == "" {
		h.Backend.Mode = "http"
	}
	if h.ServerSlots.Base == 0 {
		h.ServerSlots.Base = 10
	}
	if h.ServerSlots.GrowthFactor == 0 {
		h.ServerSlots.GrowthFactor = 1.5
	}
	if h.ServerSlots.GrowthType == "" {
		h.ServerSlots.GrowthType = GrowthLinear
	}
	if h.ServerSlots.GrowthType != GrowthLinear && h.ServerSlots.GrowthType != GrowthExponential {
		return errors.Errorf("haproxy.server_slots.growth_type invalid: %q", h.ServerSlots.GrowthType)
	}
	if h.Timeout == 0 {
		h.Timeout = 10 * time.Second
	}
	if h.VerifySSL == nil {
		t := true
		h.VerifySSL = &t
	}
	if h.BaseURL == "" {
		return errors.New("haproxy.base_url missing")
	}
	if _, err := url.ParseRequestURI(h.BaseURL); err != nil {
		return errors.Wrap(err, "haproxy.base_url invalid")
	}
	if h.APIVersion == "" {
		h.APIVersion = "v2"
	}
	if h.Username == "" {
		return errors.New("haproxy.username missing")
	}
	return nil
}

// UnmarshalYAML default-fills the tags section.
func (t *Tags) UnmarshalYAML(unmarshal func(interface{}) error) error {
	obj := TagsInternal{}
	if err := unmarshal(&obj); err != nil {
		return err
	}
	t.TagsInternal = &obj

	if t.ServiceNameTag == "" {
		return errors.New("tags.service_name_tag missing")
	}
	if t.ServicePortTag == "" {
		return errors.New("tags.service_port_tag missing")
	}
	if t.AZWeightTag == "" {
		t.AZWeightTag = "HAProxy:Instance:AZperc"
	}
	return nil
}

// UnmarshalYAML default-fills the polling section.
func (p *Polling) UnmarshalYAML(unmarshal func(interface{}) error) error {
	obj := PollingInternal{}
	if err := unmarshal(&obj); err != nil {
		return err
	}
	p.PollingInternal = &obj

	if p.IntervalSeconds == 0 {
		p.IntervalSeconds = 30
	}
	if p.JitterSeconds == 0 {
		p.JitterSeconds = 5
	}
	if p.BackoffBaseSeconds == 0 {
		p.BackoffBaseSeconds = 5
	}
	if p.MaxBackoffSeconds == 0 {
		p.MaxBackoffSeconds = 300
	}
	return nil
}

// FromFile parses path, interpolating environment variable references
// before unmarshaling, matching the teacher's config.FromFile exactly in
// shape (read file, UnmarshalStrict, validate required sections).
func FromFile(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "file read failed")
	}
	return FromBytes(data)
}

// FromBytes parses already-read YAML bytes, used directly by tests and
// by FromFile.
func FromBytes(data []byte) (*Config, error) {
	data = interpolateEnv(data)

	obj := Config{}
	if err := yaml.UnmarshalStrict(data, &obj); err != nil {
		return nil, err
	}

	if obj.Provider != "azure" && obj.Provider != "aws" {
		return nil, errors.Errorf("provider must be \"azure\" or \"aws\", got %q", obj.Provider)
	}
	if obj.HAProxy.HAProxyInternal == nil {
		return nil, errors.New("haproxy section missing")
	}
	if obj.Tags.TagsInternal == nil {
		return nil, errors.New("tags section missing")
	}
	if obj.Polling.PollingInternal == nil {
		obj.Polling.PollingInternal = &PollingInternal{
			IntervalSeconds: 30, JitterSeconds: 5, BackoffBaseSeconds: 5, MaxBackoffSeconds: 300,
		}
	}
	if obj.Provider == "azure" {
		if obj.Azure.SubscriptionID == "" {
			return nil, errors.New("azure.subscription_id missing")
		}
		if obj.Azure.ResourceGroup == "" {
			return nil, errors.New("azure.resource_group missing")
		}
	}

	for name, fragment := range obj.HAProxy.BackendOptions {
		if _, err := json.Marshal(fragment); err != nil {
			return nil, errors.Wrapf(err, "haproxy.backend_options[%s] invalid", name)
		}
	}

	return &obj, nil
}

// Validate re-checks a loaded Config beyond what UnmarshalYAML already
// enforced, the deeper checks --validate performs: growth_type is
// resolved against the enum (already enforced at unmarshal time, re-
// stated here so Validate is meaningful even on a Config built directly
// rather than parsed), base_url parses as a URL, and every
// backend_options fragment round-trips as JSON.
func Validate(cfg *Config) error {
	if cfg.HAProxy.HAProxyInternal == nil {
		return errors.New("haproxy section missing")
	}
	if cfg.HAProxy.ServerSlots.GrowthType != GrowthLinear && cfg.HAProxy.ServerSlots.GrowthType != GrowthExponential {
		return fmt.Errorf("haproxy.server_slots.growth_type invalid: %q", cfg.HAProxy.ServerSlots.GrowthType)
	}
	if _, err := url.ParseRequestURI(cfg.HAProxy.BaseURL); err != nil {
		return errors.Wrap(err, "haproxy.base_url invalid")
	}
	for name, fragment := range cfg.HAProxy.BackendOptions {
		if _, err := json.Marshal(fragment); err != nil {
			return errors.Wrapf(err, "haproxy.backend_options[%s] invalid", name)
		}
	}
	return nil
}
