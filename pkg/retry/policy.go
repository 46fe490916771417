// Package retry decides between retrying and failing a node, and schedules resumptions.
package retry

import (
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dukex/leadflow/pkg/models"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
	DefaultMaxDelay   = 30 * time.Second
	multiplier        = 2
)

// Policy is the retry budget and backoff for one node kind.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// DispatchRetries is the budget when no agent was eligible.
	DispatchRetries int
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
	}
}

// Delay returns the wait before retry number attempt (1-based): BaseDelay * 2^(attempt-1), capped.
func (p Policy) Delay(attempt int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          multiplier,
		MaxInterval:         p.MaxDelay,
	}
	b.Reset()

	var delay time.Duration
	for range max(attempt, 1) {
		delay = b.NextBackOff()
	}

	return delay
}

type Config struct {
	Default Policy
	Kinds   map[models.NodeKind]Policy
}

// DefaultConfig gives email-send no automatic retries since a resend is visible to the lead.
func DefaultConfig() Config {
	email := DefaultPolicy()
	email.MaxRetries = 0

	return Config{
		Default: DefaultPolicy(),
		Kinds: map[models.NodeKind]Policy{
			models.KindEmailSend: email,
		},
	}
}

// PolicyFor returns the kind's policy with zero delays filled from the default.
func (c Config) PolicyFor(kind models.NodeKind) Policy {
	policy, ok := c.Kinds[kind]
	if !ok {
		policy = c.Default
	}

	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultBaseDelay
	}

	if policy.MaxDelay <= 0 {
		policy.MaxDelay = DefaultMaxDelay
	}

	return policy
}
