// Package config loads YAML configuration and provides defaulting
// accessors, in the same missing-file-is-not-an-error shape the teacher's
// LoadConfig uses.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RateLimitConfig controls tollbooth rate limiting on the admin mux.
type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second,omitempty"`
	BurstSize         int `yaml:"burst_size,omitempty"`
}

// AdminConfig controls the admin HTTP surface (health/metrics/stats only —
// spec.md §1 places the full HTTP admin/query surface out of scope).
type AdminConfig struct {
	Host         string `yaml:"host,omitempty"`
	Port         string `yaml:"port,omitempty"`
	ReadTimeout  int    `yaml:"read_timeout,omitempty"`
	WriteTimeout int    `yaml:"write_timeout,omitempty"`
	IdleTimeout  int    `yaml:"idle_timeout,omitempty"`
}

// UpstreamConfig is C6's pool configuration.
type UpstreamConfig struct {
	Endpoints       []string `yaml:"endpoints"`
	TimeoutMS       int      `yaml:"timeout_ms,omitempty"`
	MaxAttempts     int      `yaml:"max_attempts,omitempty"`
	CooldownMS      int      `yaml:"cooldown_ms,omitempty"`
}

// CacheConfig is C5's configuration.
type CacheConfig struct {
	Capacity       int `yaml:"capacity,omitempty"`
	MinTTLSeconds  int `yaml:"min_ttl_seconds,omitempty"`
	MaxTTLSeconds  int `yaml:"max_ttl_seconds,omitempty"`
	BlockTTLSeconds int `yaml:"block_ttl_seconds,omitempty"`
}

// ThreatConfig is C2's configuration.
type ThreatConfig struct {
	RefreshIntervalSeconds int     `yaml:"refresh_interval_seconds,omitempty"`
	FilterTargetFPR        float64 `yaml:"filter_target_fpr,omitempty"`
	FilterExpectedCard     uint    `yaml:"filter_expected_cardinality,omitempty"`
}

// ClassifierWeights mirrors classifier.Weights for YAML override, per
// spec.md §9 "classifier as data".
type ClassifierWeights struct {
	SuspiciousPatterns float64 `yaml:"suspicious_patterns,omitempty"`
	BrandImpersonation float64 `yaml:"brand_impersonation,omitempty"`
	SuspiciousTLD      float64 `yaml:"suspicious_tld,omitempty"`
	EntropyOutlier     float64 `yaml:"entropy_outlier,omitempty"`
	ExcessiveLength    float64 `yaml:"excessive_length,omitempty"`
	HyphenCount        float64 `yaml:"hyphen_count,omitempty"`
	DigitCount         float64 `yaml:"digit_count,omitempty"`
	MaxRepeatRun       float64 `yaml:"max_repeat_run,omitempty"`
}

// TelemetryConfig is C8's configuration, plus the optional Redis-backed
// sink's connection string.
type TelemetryConfig struct {
	QueueCapacity int    `yaml:"queue_capacity,omitempty"`
	RedisAddr     string `yaml:"redis_addr,omitempty"`
}

// ProxyConfig is the root configuration structure, enumerating every option
// in spec.md §6.
type ProxyConfig struct {
	ListenAddr string `yaml:"listen_addr,omitempty"`
	ListenPort int    `yaml:"listen_port,omitempty"`

	Upstream   UpstreamConfig    `yaml:"upstream,omitempty"`
	Cache      CacheConfig       `yaml:"cache,omitempty"`
	Threat     ThreatConfig      `yaml:"threat,omitempty"`
	Telemetry  TelemetryConfig   `yaml:"telemetry,omitempty"`
	Admin      AdminConfig       `yaml:"admin,omitempty"`
	RateLimit  RateLimitConfig   `yaml:"rate_limiting,omitempty"`
	Weights    ClassifierWeights `yaml:"classifier_weights,omitempty"`

	// EnableClassifier/EnableTypoSuggest are pointers so a missing config
	// file (or a config file that simply omits the key) is distinguishable
	// from an explicit `false` — both default to on via the Get* accessors
	// below, since C3's classify step is not optional the way C4's rewrite
	// is (spec.md's packet -> parse -> C2 -> C3 decide -> optional C4
	// rewrite -> C5 data-flow line only qualifies C4 as optional).
	EnableClassifier   *bool `yaml:"enable_classifier,omitempty"`
	EnableTypoSuggest  *bool `yaml:"enable_typo_suggest,omitempty"`
	ApplyTypoRewrite   bool  `yaml:"apply_typo_rewrite"`
	PipelineDeadlineMS int   `yaml:"pipeline_deadline_ms,omitempty"`
}

// LoadConfig reads YAML and returns an empty config (all defaults) if the
// file doesn't exist — the teacher's optional-config pattern.
func LoadConfig(filePath string) (*ProxyConfig, error) {
	// #nosec G304 -- filePath is user-controlled via CLI flag by design
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &ProxyConfig{}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg ProxyConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

// GetListenAddr provides the default fallback.
func (c *ProxyConfig) GetListenAddr() string {
	if c.ListenAddr != "" {
		return c.ListenAddr
	}
	return "0.0.0.0"
}

// GetListenPort provides the default fallback (spec.md §6: 5353 default).
func (c *ProxyConfig) GetListenPort() int {
	if c.ListenPort > 0 {
		return c.ListenPort
	}
	return 5353
}

// GetUpstreamTimeoutMS provides the default fallback (2s, spec.md §4.6).
func (c *ProxyConfig) GetUpstreamTimeoutMS() int {
	if c.Upstream.TimeoutMS > 0 {
		return c.Upstream.TimeoutMS
	}
	return 2000
}

// GetMaxUpstreamAttempts provides the default fallback (3, spec.md §4.6).
func (c *ProxyConfig) GetMaxUpstreamAttempts() int {
	if c.Upstream.MaxAttempts > 0 {
		return c.Upstream.MaxAttempts
	}
	return 3
}

// GetUpstreamCooldownMS provides the default fallback (30s, spec.md §4.6).
func (c *ProxyConfig) GetUpstreamCooldownMS() int {
	if c.Upstream.CooldownMS > 0 {
		return c.Upstream.CooldownMS
	}
	return 30000
}

// GetCacheCapacity provides the default fallback.
func (c *ProxyConfig) GetCacheCapacity() int {
	if c.Cache.Capacity > 0 {
		return c.Cache.Capacity
	}
	return 10000
}

// GetMinCacheTTLSeconds provides the default fallback.
func (c *ProxyConfig) GetMinCacheTTLSeconds() int {
	if c.Cache.MinTTLSeconds > 0 {
		return c.Cache.MinTTLSeconds
	}
	return 1
}

// GetMaxCacheTTLSeconds provides the default fallback.
func (c *ProxyConfig) GetMaxCacheTTLSeconds() int {
	if c.Cache.MaxTTLSeconds > 0 {
		return c.Cache.MaxTTLSeconds
	}
	return 3600
}

// GetBlockTTLSeconds provides the default fallback (60s, spec.md §4.5).
func (c *ProxyConfig) GetBlockTTLSeconds() int {
	if c.Cache.BlockTTLSeconds > 0 {
		return c.Cache.BlockTTLSeconds
	}
	return 60
}

// GetThreatRefreshIntervalSeconds provides the default fallback (hourly,
// spec.md §4.2).
func (c *ProxyConfig) GetThreatRefreshIntervalSeconds() int {
	if c.Threat.RefreshIntervalSeconds > 0 {
		return c.Threat.RefreshIntervalSeconds
	}
	return 3600
}

// GetFilterTargetFPR provides the default fallback (0.1, spec.md §4.2).
func (c *ProxyConfig) GetFilterTargetFPR() float64 {
	if c.Threat.FilterTargetFPR > 0 {
		return c.Threat.FilterTargetFPR
	}
	return 0.1
}

// GetFilterExpectedCardinality provides the default fallback (1,000,000,
// spec.md §4.2).
func (c *ProxyConfig) GetFilterExpectedCardinality() uint {
	if c.Threat.FilterExpectedCard > 0 {
		return c.Threat.FilterExpectedCard
	}
	return 1_000_000
}

// GetTelemetryQueueCapacity provides the default fallback.
func (c *ProxyConfig) GetTelemetryQueueCapacity() int {
	if c.Telemetry.QueueCapacity > 0 {
		return c.Telemetry.QueueCapacity
	}
	return 1000
}

// GetEnableClassifier provides the default fallback: on, unless explicitly
// disabled in config. C3's classify step is not optional (spec.md §2/§4.7).
func (c *ProxyConfig) GetEnableClassifier() bool {
	if c.EnableClassifier == nil {
		return true
	}
	return *c.EnableClassifier
}

// GetEnableTypoSuggest provides the default fallback: on, unless explicitly
// disabled in config. Note this only enables C4's *suggestion*; the pipeline
// never rewrites the resolved name, and ApplyTypoRewrite does not change that.
func (c *ProxyConfig) GetEnableTypoSuggest() bool {
	if c.EnableTypoSuggest == nil {
		return true
	}
	return *c.EnableTypoSuggest
}

// GetPipelineDeadlineMS provides the default fallback (5s, spec.md §5).
func (c *ProxyConfig) GetPipelineDeadlineMS() int {
	if c.PipelineDeadlineMS > 0 {
		return c.PipelineDeadlineMS
	}
	return 5000
}

// GetAdminHost / GetAdminPort provide the teacher's admin-surface defaults.
func (c *ProxyConfig) GetAdminHost() string {
	if c.Admin.Host != "" {
		return c.Admin.Host
	}
	return "0.0.0.0"
}

func (c *ProxyConfig) GetAdminPort() string {
	if c.Admin.Port != "" {
		return c.Admin.Port
	}
	return "9090"
}

// GetRateLimitRequestsPerSecond provides the default fallback.
func (c *ProxyConfig) GetRateLimitRequestsPerSecond() int {
	if c.RateLimit.RequestsPerSecond >= 0 && c.RateLimit.RequestsPerSecond != 0 {
		return c.RateLimit.RequestsPerSecond
	}
	return 10
}

// GetRateLimitBurstSize provides the default fallback.
func (c *ProxyConfig) GetRateLimitBurstSize() int {
	if c.RateLimit.BurstSize > 0 {
		return c.RateLimit.BurstSize
	}
	return 20
}

// ApplyIntOverride applies a CLI flag override to a config int field with
// default fallback: if the flag was explicitly changed and positive, it
// wins; otherwise a zero-valued target gets defaultVal.
func ApplyIntOverride(flagChanged bool, flagValue int, target *int, defaultVal int) {
	if flagChanged && flagValue > 0 {
		*target = flagValue
	} else if *target == 0 {
		*target = defaultVal
	}
}

// ApplyStringOverride applies a CLI flag override to a config string field
// with default fallback.
func ApplyStringOverride(cliValue string, target *string, defaultVal string) {
	if cliValue != "" {
		*target = cliValue
	} else if *target == "" {
		*target = defaultVal
	}
}
