package correlate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"niimbot-print/internal/eventbus"
	"niimbot-print/internal/protocol"
)

func newCorrelator(t *testing.T) (*Correlator, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New(zaptest.NewLogger(t))
	return New(bus, zaptest.NewLogger(t)), bus
}

// replyWith publishes payload under key once the send action runs
func replyWith(bus *eventbus.Bus, key string, payload any, delay time.Duration) SendFunc {
	return func(ctx context.Context) error {
		go func() {
			time.Sleep(delay)
			bus.Publish(key, payload)
		}()
		return nil
	}
}

func TestCorrelateSuccess(t *testing.T) {
	c, bus := newCorrelator(t)
	ack := protocol.Ack{Name: protocol.AckStartPrint, Success: true}

	start := time.Now()
	err := c.Correlate(context.Background(), ack.Key(), time.Second, replyWith(bus, ack.Key(), ack, 10*time.Millisecond))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Zero(t, bus.Len(ack.Key()), "subscription released")
}

func TestCorrelateImmediateReply(t *testing.T) {
	c, bus := newCorrelator(t)
	send := func(ctx context.Context) error {
		bus.Publish("k", true)
		return nil
	}
	require.NoError(t, c.Correlate(context.Background(), "k", time.Second, send))
}

func TestCorrelateTimeout(t *testing.T) {
	c, bus := newCorrelator(t)
	timeout := 50 * time.Millisecond

	start := time.Now()
	err := c.Correlate(context.Background(), "k", timeout, func(ctx context.Context) error { return nil })
	assert.True(t, errors.Is(err, ErrTimeout), "got %v", err)
	assert.GreaterOrEqual(t, time.Since(start), timeout)
	assert.Zero(t, bus.Len("k"))
}

func TestCorrelateNotSuccessful(t *testing.T) {
	c, bus := newCorrelator(t)
	ack := protocol.Ack{Name: protocol.AckEndPrint, Success: false}

	start := time.Now()
	err := c.Correlate(context.Background(), ack.Key(), 2*time.Second, replyWith(bus, ack.Key(), ack, 5*time.Millisecond))
	assert.True(t, errors.Is(err, ErrNotSuccessful), "got %v", err)
	assert.False(t, errors.Is(err, ErrTimeout))
	assert.Less(t, time.Since(start), time.Second)
}

func TestCorrelateSendFailed(t *testing.T) {
	c, _ := newCorrelator(t)
	cause := errors.New("write: broken pipe")

	err := c.Correlate(context.Background(), "k", time.Second, func(ctx context.Context) error { return cause })
	assert.True(t, errors.Is(err, ErrSendFailed))
	assert.True(t, errors.Is(err, cause))
}

func TestCorrelateCancelsSendLoser(t *testing.T) {
	c, bus := newCorrelator(t)
	stopped := make(chan struct{})

	send := func(ctx context.Context) error {
		bus.Publish("k", true)
		<-ctx.Done()
		close(stopped)
		return ctx.Err()
	}
	require.NoError(t, c.Correlate(context.Background(), "k", time.Second, send))

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("send action was not cancelled")
	}
}

func TestCorrelateCallerCancel(t *testing.T) {
	c, bus := newCorrelator(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := c.Correlate(ctx, "k", 5*time.Second, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.False(t, errors.Is(err, ErrSendFailed))
	assert.Zero(t, bus.Len("k"))
}

func TestAwaitSkipsNonTerminalEvents(t *testing.T) {
	c, bus := newCorrelator(t)
	send := func(ctx context.Context) error {
		for _, p := range []uint8{10, 60, 100} {
			bus.Publish(protocol.KeyPrintStatus, protocol.PrintStatus{Page: 1, Progress2: p})
		}
		return nil
	}
	match := func(v any) (bool, error) {
		return v.(protocol.PrintStatus).Succeeded(), nil
	}

	got, err := c.Await(context.Background(), protocol.KeyPrintStatus, time.Second, send, match)
	require.NoError(t, err)
	assert.Equal(t, uint8(100), got.(protocol.PrintStatus).Progress2)
}

func TestRequestReturnsPayload(t *testing.T) {
	c, bus := newCorrelator(t)
	got, err := c.Request(context.Background(), protocol.KeyBattery, time.Second,
		replyWith(bus, protocol.KeyBattery, protocol.Battery{Level: 4}, 0))
	require.NoError(t, err)
	assert.Equal(t, protocol.Battery{Level: 4}, got)
}

func TestConcurrentExchangesByKey(t *testing.T) {
	c, bus := newCorrelator(t)
	errs := make(chan error, 2)
	go func() {
		errs <- c.Correlate(context.Background(), "a", time.Second, replyWith(bus, "a", true, 30*time.Millisecond))
	}()
	go func() {
		errs <- c.Correlate(context.Background(), "b", 100*time.Millisecond, nil)
	}()

	var got []error
	for i := 0; i < 2; i++ {
		got = append(got, <-errs)
	}
	var timeouts, oks int
	for _, err := range got {
		if err == nil {
			oks++
		} else if errors.Is(err, ErrTimeout) {
			timeouts++
		}
	}
	assert.Equal(t, 1, oks)
	assert.Equal(t, 1, timeouts)
}

func TestMatchOutcome(t *testing.T) {
	done, err := MatchOutcome(true)
	assert.True(t, done)
	assert.NoError(t, err)

	_, err = MatchOutcome(false)
	assert.ErrorIs(t, err, ErrNotSuccessful)

	_, err = MatchOutcome(protocol.Ack{Success: false})
	assert.ErrorIs(t, err, ErrNotSuccessful)

	done, _ = MatchOutcome("payload")
	assert.True(t, done)
}

func TestAwaitAnyTakesFirstKey(t *testing.T) {
	c, bus := newCorrelator(t)
	keys := []string{protocol.KeyRFID, protocol.KeyNoPaper}

	got, err := c.AwaitAny(context.Background(), keys, time.Second,
		replyWith(bus, protocol.KeyNoPaper, protocol.NoPaper{}, 5*time.Millisecond), MatchAny)
	require.NoError(t, err)
	assert.Equal(t, protocol.NoPaper{}, got)
	assert.Zero(t, bus.Len(protocol.KeyRFID))
	assert.Zero(t, bus.Len(protocol.KeyNoPaper))
}
