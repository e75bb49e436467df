// Package correlate pairs an outbound command with the asynchronous event
// that answers it.
//
// Every exchange races three things: the awaited event, a timer and the send
// action itself. The first to finish decides the outcome and the others are
// cancelled. A send that completes normally does not finish the race; only
// the event does, because the transport is write-and-forget.
package correlate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"niimbot-print/internal/observability"
)

var (
	ErrTimeout       = errors.New("correlate: timed out waiting for response")
	ErrNotSuccessful = errors.New("correlate: device reported failure")
	ErrSendFailed    = errors.New("correlate: send failed")
	ErrClosed        = errors.New("correlate: subscription closed")
)

// Subscriber is the part of the event bus the correlator needs
type Subscriber interface {
	Subscribe(key string) (<-chan any, func())
}

// SendFunc performs the device write. Its context is cancelled as soon as
// the exchange is decided.
type SendFunc func(ctx context.Context) error

// MatchFunc inspects an event published under the awaited key. It returns
// done once the exchange succeeded, or an error to fail it. Returning
// (false, nil) keeps waiting.
type MatchFunc func(payload any) (done bool, err error)

// Correlator runs send-and-wait exchanges. Exchanges on different keys may
// run concurrently.
type Correlator struct {
	bus Subscriber
	log *zap.Logger
}

func New(bus Subscriber, log *zap.Logger) *Correlator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Correlator{bus: bus, log: log}
}

// Correlate sends and waits for a boolean outcome under key. A true outcome
// returns nil, a false one ErrNotSuccessful.
func (c *Correlator) Correlate(ctx context.Context, key string, timeout time.Duration, send SendFunc) error {
	_, err := c.Await(ctx, key, timeout, send, MatchOutcome)
	return err
}

// Request sends and returns the first payload published under key
func (c *Correlator) Request(ctx context.Context, key string, timeout time.Duration, send SendFunc) (any, error) {
	return c.Await(ctx, key, timeout, send, MatchAny)
}

// Await runs one exchange. The subscription is in place before send runs,
// so an immediate response is never missed.
func (c *Correlator) Await(ctx context.Context, key string, timeout time.Duration, send SendFunc, match MatchFunc) (any, error) {
	return c.AwaitAny(ctx, []string{key}, timeout, send, match)
}

// AwaitAny is Await for a response that may arrive under any of keys
func (c *Correlator) AwaitAny(ctx context.Context, keys []string, timeout time.Duration, send SendFunc, match MatchFunc) (any, error) {
	start := time.Now()
	key := strings.Join(keys, "|")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, unsubscribe := c.subscribe(ctx, keys)
	defer unsubscribe()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	sent := make(chan error, 1)
	if send != nil {
		go func() { sent <- send(ctx) }()
	}

	result, err := c.race(ctx, events, timer.C, sent, match)
	c.record(key, err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return result, nil
}

// subscribe returns one channel carrying events for every key
func (c *Correlator) subscribe(ctx context.Context, keys []string) (<-chan any, func()) {
	if len(keys) == 1 {
		return c.bus.Subscribe(keys[0])
	}

	merged := make(chan any)
	unsubs := make([]func(), 0, len(keys))
	for _, k := range keys {
		ch, unsub := c.bus.Subscribe(k)
		unsubs = append(unsubs, unsub)
		go func() {
			for v := range ch {
				select {
				case merged <- v:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	return merged, func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

func (c *Correlator) race(ctx context.Context, events <-chan any, expired <-chan time.Time, sent chan error, match MatchFunc) (any, error) {
	for {
		select {
		case v, ok := <-events:
			if !ok {
				return nil, ErrClosed
			}
			done, err := match(v)
			if err != nil {
				return nil, err
			}
			if done {
				return v, nil
			}
		case <-expired:
			return nil, ErrTimeout
		case err := <-sent:
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, fmt.Errorf("%w: %w", ErrSendFailed, err)
			}
			sent = nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Correlator) record(key string, err error, d time.Duration) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrTimeout):
		result = "timeout"
	case errors.Is(err, ErrNotSuccessful):
		result = "not_successful"
	case errors.Is(err, ErrSendFailed):
		result = "send_failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		result = "canceled"
	default:
		result = "error"
	}
	observability.RecordCorrelation(key, result, d)
	c.log.Debug("correlate: exchange finished",
		zap.String("key", key),
		zap.String("result", result),
		zap.Duration("elapsed", d),
		zap.Error(err),
	)
}

// MatchAny accepts the first payload
func MatchAny(any) (bool, error) {
	return true, nil
}

// MatchOutcome accepts a true outcome and fails on a false one. Payloads
// may be plain bools or values with a Succeeded method.
func MatchOutcome(v any) (bool, error) {
	var ok bool
	switch o := v.(type) {
	case bool:
		ok = o
	case interface{ Succeeded() bool }:
		ok = o.Succeeded()
	default:
		return true, nil
	}
	if !ok {
		return false, ErrNotSuccessful
	}
	return true, nil
}
