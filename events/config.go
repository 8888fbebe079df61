package events

import (
	"time"

	"github.com/rs/zerolog"
)

// Default policy values
const (
	DefaultMessageLimit         = 100
	DefaultSyncTimeout          = 5 * time.Second
	DefaultPullTimeout          = 60 * time.Second
	DefaultRequestTimeout       = 10 * time.Second
	DefaultFirstPullDelay       = time.Second
	DefaultPollInterval         = time.Second
	DefaultSubscriptionLifetime = 24 * time.Hour
	DefaultRenewalThreshold     = 2 * time.Hour
	DefaultRestartCooldown      = 60 * time.Second
)

// Config tunes an Engine. Zero fields take their defaults.
type Config struct {
	// SourceID identifies the camera; decoders prefix event uids with it
	SourceID string

	// MessageLimit caps the notifications returned by one pull
	MessageLimit int

	// SyncTimeout is the server-side wait of the pull made by Start
	SyncTimeout time.Duration

	// PullTimeout is the server-side wait of steady-state pulls
	PullTimeout time.Duration

	// RequestTimeout bounds subscribe, renew and unsubscribe calls, and is
	// added to the pull timeouts to form the client-side deadline
	RequestTimeout time.Duration

	// FirstPullDelay separates the first listener registration from the first pull
	FirstPullDelay time.Duration

	// PollInterval separates the end of one pull from the start of the next
	PollInterval time.Duration

	// SubscriptionLifetime is requested on subscribe and on every renewal
	SubscriptionLifetime time.Duration

	// RenewalThreshold triggers a renewal when less time than this remains
	RenewalThreshold time.Duration

	// RestartCooldown separates failed resubscribe attempts
	RestartCooldown time.Duration

	// AbortBatchOnDecodeError drops the rest of a pulled batch after the
	// first notification that fails to decode, instead of skipping it
	AbortBatchOnDecodeError bool

	// Ready reports whether the host is running. Ticks are deferred while it
	// returns false. Nil means always ready.
	Ready func() bool

	// Registry maps topics to decoders; nil means DefaultRegistry()
	Registry *Registry

	// Logger receives the engine's records; nil disables logging
	Logger *zerolog.Logger
}

// DefaultConfig returns a configuration with the default policy values
func DefaultConfig() Config {
	return Config{
		MessageLimit:         DefaultMessageLimit,
		SyncTimeout:          DefaultSyncTimeout,
		PullTimeout:          DefaultPullTimeout,
		RequestTimeout:       DefaultRequestTimeout,
		FirstPullDelay:       DefaultFirstPullDelay,
		PollInterval:         DefaultPollInterval,
		SubscriptionLifetime: DefaultSubscriptionLifetime,
		RenewalThreshold:     DefaultRenewalThreshold,
		RestartCooldown:      DefaultRestartCooldown,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MessageLimit <= 0 {
		c.MessageLimit = d.MessageLimit
	}
	if c.SyncTimeout <= 0 {
		c.SyncTimeout = d.SyncTimeout
	}
	if c.PullTimeout <= 0 {
		c.PullTimeout = d.PullTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.FirstPullDelay <= 0 {
		c.FirstPullDelay = d.FirstPullDelay
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.SubscriptionLifetime <= 0 {
		c.SubscriptionLifetime = d.SubscriptionLifetime
	}
	if c.RenewalThreshold <= 0 {
		c.RenewalThreshold = d.RenewalThreshold
	}
	if c.RestartCooldown <= 0 {
		c.RestartCooldown = d.RestartCooldown
	}
	if c.Ready == nil {
		c.Ready = func() bool { return true }
	}
	if c.Registry == nil {
		c.Registry = DefaultRegistry()
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
	return c
}
