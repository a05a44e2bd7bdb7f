package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"

	"execCore/internal/ports"
)

// ErrReconnectExhausted is returned when a connection could not be re-established
// within the configured number of attempts.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// ReconnectPolicy configures exponential backoff between connection attempts.
type ReconnectPolicy struct {
	MinDelay    time.Duration
	MaxDelay    time.Duration
	Factor      float64
	Jitter      bool
	MaxAttempts int // consecutive failures before giving up, 0 for unlimited
}

// DefaultReconnectPolicy returns the policy used when none is configured.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MinDelay:    time.Second,
		MaxDelay:    time.Minute,
		Factor:      2,
		Jitter:      true,
		MaxAttempts: 10,
	}
}

// ConnectFunc opens one session. The returned channel is closed when the session ends.
type ConnectFunc func(ctx context.Context) (done <-chan struct{}, err error)

// Reconnector keeps a session alive, reconnecting with backoff whenever it drops.
type Reconnector struct {
	name    string
	policy  ReconnectPolicy
	logger  ports.Logger
	backoff *backoff.Backoff

	// OnState is called with true when a session is established and false when it ends.
	OnState func(connected bool)
}

// NewReconnector creates a Reconnector. Zero policy fields fall back to DefaultReconnectPolicy.
func NewReconnector(name string, policy ReconnectPolicy, logger ports.Logger) *Reconnector {
	def := DefaultReconnectPolicy()
	if policy.MinDelay <= 0 {
		policy.MinDelay = def.MinDelay
	}
	if policy.MaxDelay < policy.MinDelay {
		policy.MaxDelay = def.MaxDelay
		if policy.MaxDelay < policy.MinDelay {
			policy.MaxDelay = policy.MinDelay
		}
	}
	if policy.Factor < 1 {
		policy.Factor = def.Factor
	}
	return &Reconnector{
		name:   name,
		policy: policy,
		logger: logger,
		backoff: &backoff.Backoff{
			Min:    policy.MinDelay,
			Max:    policy.MaxDelay,
			Factor: policy.Factor,
			Jitter: policy.Jitter,
		},
	}
}

// Run connects and keeps reconnecting until ctx is cancelled or attempts are exhausted.
// It returns nil on cancellation.
func (r *Reconnector) Run(ctx context.Context, connect ConnectFunc) error {
	op := r.name + " reconnect"
	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		r.logger.Info(ctx, op+": Attempting connection...", map[string]interface{}{"attempt": failures + 1})
		done, err := connect(ctx)
		if err != nil {
			failures++
			if r.policy.MaxAttempts > 0 && failures >= r.policy.MaxAttempts {
				r.logger.Error(ctx, err, op+": Max reconnection attempts exceeded, giving up.", map[string]interface{}{"maxAttempts": r.policy.MaxAttempts})
				return fmt.Errorf("%s after %d attempts: %w: %w", r.name, failures, ErrReconnectExhausted, err)
			}
			delay := r.backoff.Duration()
			r.logger.Warn(ctx, op+": Connection failed, retrying...", map[string]interface{}{"attempt": failures, "delay": delay.String(), "error": err.Error()})
			if !sleep(ctx, delay) {
				return nil
			}
			continue
		}

		failures = 0
		r.backoff.Reset()
		r.setState(true)
		r.logger.Info(ctx, op+": Connection established.")

		select {
		case <-done:
			r.setState(false)
			r.logger.Warn(ctx, op+": Connection closed unexpectedly. Reconnecting...")
		case <-ctx.Done():
			r.setState(false)
			return nil
		}
	}
}

func (r *Reconnector) setState(connected bool) {
	if r.OnState != nil {
		r.OnState(connected)
	}
}

// sleep waits for d and reports false if ctx was cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
