package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// EndpointConfig is the limit for one route. Path ending in "/" matches by prefix.
type EndpointConfig struct {
	Path   string
	Method string
	Rate   rate.Limit // tokens per second; zero means unlimited
	Burst  int
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled         bool
	DefaultRate     rate.Limit
	DefaultBurst    int
	CleanupInterval time.Duration
	IdleTTL         time.Duration
	Whitelist       map[string]bool
	Blacklist       map[string]bool
	EndpointConfigs []EndpointConfig
}

// NewConfig builds a configuration with perSecond/burst as the default and
// the stricter pipeline limits. perSecond <= 0 disables limiting.
func NewConfig(perSecond float64, burst int) *Config {
	if perSecond <= 0 {
		return &Config{Enabled: false}
	}
	if burst < 1 {
		burst = 1
	}
	return &Config{
		Enabled:         true,
		DefaultRate:     rate.Limit(perSecond),
		DefaultBurst:    burst,
		CleanupInterval: 5 * time.Minute,
		IdleTTL:         time.Hour,
		Whitelist:       map[string]bool{},
		Blacklist:       map[string]bool{},
		EndpointConfigs: DefaultEndpointConfigs(),
	}
}

// DefaultEndpointConfigs returns the pipeline-specific limits. Runs call
// an LLM four times each, so they get the tightest budget.
func DefaultEndpointConfigs() []EndpointConfig {
	perMinute := func(n int) rate.Limit { return rate.Every(time.Minute / time.Duration(n)) }
	return []EndpointConfig{
		{Path: "/pipeline/run", Method: "POST", Rate: perMinute(6), Burst: 2},
		{Path: "/pipeline/run/stream", Method: "POST", Rate: perMinute(6), Burst: 2},
		{Path: "/pipeline/approve/", Method: "POST", Rate: perMinute(60), Burst: 10},
	}
}
