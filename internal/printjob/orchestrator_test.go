package printjob

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"niimbot-print/internal/correlate"
	"niimbot-print/internal/eventbus"
	"niimbot-print/internal/printer"
	"niimbot-print/internal/protocol"
	"niimbot-print/internal/simulator"
)

func testRows(n int) []string {
	rows := make([]string, n)
	for i := range rows {
		rows[i] = strings.Repeat("10000001", 12)
	}
	return rows
}

func newRig(t *testing.T, sim *simulator.Simulator) (*Orchestrator, *eventbus.Bus) {
	t.Helper()
	log := zaptest.NewLogger(t)
	bus := eventbus.New(log)
	p := printer.New(sim.Transport(), bus, log, printer.Options{CommandTimeout: time.Second})
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() { p.Close() })

	o := New(p, bus, log)
	o.RowDelay = time.Millisecond
	o.PollInterval = 10 * time.Millisecond
	return o, bus
}

// withoutPolls drops the status polls, whose count depends on timing
func withoutPolls(codes []protocol.Code) []protocol.Code {
	var out []protocol.Code
	for _, c := range codes {
		if c != protocol.CodeGetPrintStatus {
			out = append(out, c)
		}
	}
	return out
}

func countCode(codes []protocol.Code, code protocol.Code) int {
	n := 0
	for _, c := range codes {
		if c == code {
			n++
		}
	}
	return n
}

func TestRunD11(t *testing.T) {
	sim := simulator.New()
	o, _ := newRig(t, sim)

	var mu sync.Mutex
	var progress []float64
	var result Result
	hooks := Hooks{
		Progress: func(s State, f float64) {
			if s == StreamRows && f > 0 {
				mu.Lock()
				progress = append(progress, f)
				mu.Unlock()
			}
		},
		OnFinish: func(r Result) { result = r },
	}

	job := Job{Model: "D11", Density: 2, Rows: testRows(3)}
	require.NoError(t, o.RunWith(context.Background(), job, hooks))

	codes := sim.Codes()
	assert.Equal(t, []protocol.Code{
		protocol.CodeSetLabelDensity,
		protocol.CodeSetLabelType,
		protocol.CodeStartPrint,
		protocol.CodeStartPagePrint,
		protocol.CodeSetDimension,
		protocol.CodeSetLabelDensity,
		protocol.CodePrintBitmapRow,
		protocol.CodePrintBitmapRow,
		protocol.CodePrintBitmapRow,
		protocol.CodeEndPagePrint,
		protocol.CodeEndPrint,
	}, withoutPolls(codes))
	assert.GreaterOrEqual(t, countCode(codes, protocol.CodeGetPrintStatus), 2, "progress 50 then 100")
	assert.Equal(t, 3, sim.Rows())

	for _, pkt := range sim.Received() {
		switch pkt.Code() {
		case protocol.CodeSetDimension:
			assert.Equal(t, []byte{0x00, 0x03, 0x00, 0x60}, pkt.Payload(), "3 rows of 96 dots")
		case protocol.CodeSetLabelDensity:
			assert.Equal(t, []byte{2}, pkt.Payload())
		}
	}

	require.Len(t, progress, 3)
	assert.InDelta(t, 1.0/3, progress[0], 1e-9)
	assert.Equal(t, 1.0, progress[2])

	assert.Equal(t, Done, result.State)
	assert.NoError(t, result.Err)
	assert.NotEqual(t, job.ID, result.Job.ID, "an id is assigned")
	assert.False(t, o.Running())
}

func TestRunProfilesAndQuantity(t *testing.T) {
	sim := simulator.New()
	o, _ := newRig(t, sim)

	require.NoError(t, o.Run(context.Background(), Job{Model: "b21", Quantity: 4, Rows: testRows(1)}))
	assert.Equal(t, []protocol.Code{
		protocol.CodeSetLabelDensity,
		protocol.CodeSetLabelType,
		protocol.CodeCancelPrint,
		protocol.CodeStartPrint,
		protocol.CodeStartPagePrint,
		protocol.CodeSetDimension,
		protocol.CodeSetQuantity,
		protocol.CodeSetLabelDensity,
		protocol.CodePrintBitmapRow,
		protocol.CodeEndPagePrint,
		protocol.CodeEndPrint,
	}, withoutPolls(sim.Codes()))
}

func TestRunStepFailure(t *testing.T) {
	sim := simulator.New()
	sim.Fail(protocol.CodeStartPagePrint)
	o, bus := newRig(t, sim)

	events, unsubscribe := bus.Subscribe(KeyJob)
	defer unsubscribe()

	err := o.Run(context.Background(), Job{Rows: testRows(2)})
	var jobErr *JobError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, StartPage, jobErr.State)
	assert.ErrorIs(t, err, correlate.ErrNotSuccessful)

	codes := sim.Codes()
	assert.Zero(t, countCode(codes, protocol.CodePrintBitmapRow), "no rows after a failed step")
	assert.Zero(t, countCode(codes, protocol.CodeEndPrint), "no rollback")

	var last Event
	for len(events) > 0 {
		last = (<-events).(Event)
	}
	assert.Equal(t, StartPage, last.State)
	assert.Error(t, last.Err)
}

func TestRunStepTimeout(t *testing.T) {
	sim := simulator.New()
	sim.Silence(protocol.CodeSetDimension)
	o, _ := newRig(t, sim)
	o.StepTimeout = 50 * time.Millisecond

	err := o.Run(context.Background(), Job{Rows: testRows(1)})
	var jobErr *JobError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, SetDimension, jobErr.State)
	assert.ErrorIs(t, err, correlate.ErrTimeout)
}

func TestRunBadRowSendsNothing(t *testing.T) {
	sim := simulator.New()
	o, _ := newRig(t, sim)

	rows := testRows(3)
	rows[2] = "0101"
	err := o.Run(context.Background(), Job{Rows: rows})
	assert.ErrorIs(t, err, protocol.ErrRowBits)
	var jobErr *JobError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, StreamRows, jobErr.State)
	assert.Empty(t, sim.Codes())
}

func TestRunEmptyJob(t *testing.T) {
	o := New(&fakeDevice{}, nil, zaptest.NewLogger(t))
	err := o.Run(context.Background(), Job{})
	assert.ErrorIs(t, err, ErrEmptyJob)
}

func TestRunCompletionTimeout(t *testing.T) {
	sim := simulator.New()
	sim.StatusStep = 0
	o, _ := newRig(t, sim)
	o.CompletionTimeout = 100 * time.Millisecond

	err := o.Run(context.Background(), Job{Rows: testRows(1)})
	var jobErr *JobError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, AwaitCompletion, jobErr.State)
	assert.ErrorIs(t, err, correlate.ErrTimeout)
	assert.Zero(t, countCode(sim.Codes(), protocol.CodeEndPrint))
}

// fakeDevice acknowledges every command and answers status polls with
// the scripted frames
type fakeDevice struct {
	mu     sync.Mutex
	sent   []protocol.Packet
	status [][]byte
	// block holds Correlate until closed
	block chan struct{}
}

func (d *fakeDevice) Send(ctx context.Context, pkt protocol.Packet) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, pkt)
	return nil
}

func (d *fakeDevice) Correlate(ctx context.Context, key string, timeout time.Duration, send correlate.SendFunc) error {
	if d.block != nil {
		select {
		case <-d.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return send(ctx)
}

func (d *fakeDevice) Await(ctx context.Context, key string, timeout time.Duration, send correlate.SendFunc, match correlate.MatchFunc) (any, error) {
	reg := protocol.DefaultRegistry()
	for _, frame := range d.status {
		pkt, ok := protocol.Decode(frame)
		if !ok {
			return nil, errors.New("bad frame")
		}
		ev, ok := reg.Decode(pkt)
		if !ok {
			return nil, errors.New("undecodable frame")
		}
		done, err := match(ev)
		if err != nil {
			return nil, err
		}
		if done {
			return ev, nil
		}
	}
	return nil, correlate.ErrTimeout
}

func TestRunCompletesOnStatusFrame(t *testing.T) {
	dev := &fakeDevice{status: [][]byte{
		{0x55, 0x55, 0xA3, 0x04, 0x00, 0x01, 0x02, 0x32, 0x96, 0xAA, 0xAA},
		{0x55, 0x55, 0xA3, 0x04, 0x00, 0x01, 0x02, 0x64, 0xC0, 0xAA, 0xAA},
	}}
	o := New(dev, nil, zaptest.NewLogger(t))
	o.RowDelay = 0

	var completion []float64
	progress := func(s State, f float64) {
		if s == AwaitCompletion && f > 0 {
			completion = append(completion, f)
		}
	}
	require.NoError(t, o.RunWith(context.Background(), Job{Rows: testRows(2)}, Hooks{Progress: progress}))
	assert.Equal(t, []float64{0.5, 1}, completion)
}

func TestRunBusy(t *testing.T) {
	dev := &fakeDevice{block: make(chan struct{})}
	o := New(dev, nil, zaptest.NewLogger(t))

	finished := make(chan Result, 2)
	first := Hooks{OnFinish: func(r Result) { finished <- r }}
	errc := make(chan error, 1)
	go func() { errc <- o.RunWith(context.Background(), Job{Rows: testRows(1)}, first) }()
	require.Eventually(t, o.Running, time.Second, time.Millisecond)

	intruder := Hooks{
		Progress: func(State, float64) { t.Error("rejected run received progress") },
		OnFinish: func(Result) { t.Error("rejected run received a result") },
	}
	assert.ErrorIs(t, o.RunWith(context.Background(), Job{Rows: testRows(1)}, intruder), ErrBusy)
	close(dev.block)
	err := <-errc
	var jobErr *JobError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, AwaitCompletion, jobErr.State, "fake reports no status")

	require.Len(t, finished, 1, "the running job keeps its hooks")
	assert.Equal(t, AwaitCompletion, (<-finished).State)
}

func TestRunCanceled(t *testing.T) {
	dev := &fakeDevice{}
	o := New(dev, nil, zaptest.NewLogger(t))
	o.RowDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	progress := func(s State, f float64) {
		if s == StreamRows && f > 0 {
			cancel()
		}
	}
	err := o.RunWith(ctx, Job{Rows: testRows(5)}, Hooks{Progress: progress})
	assert.ErrorIs(t, err, context.Canceled)
	var jobErr *JobError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, StreamRows, jobErr.State)
}

func TestProfileFor(t *testing.T) {
	assert.Equal(t, "B21", ProfileFor("b21").Name)
	assert.Equal(t, "D11", ProfileFor("Q1337").Name)
	assert.Empty(t, ProfileFor("B1").PreSteps)

	size, ok := FindSize("d11", "12x40mm")
	require.True(t, ok)
	assert.Equal(t, 96, size.PixelW)
	_, ok = FindSize("B21", "12x40mm")
	assert.False(t, ok)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaitCompletion", AwaitCompletion.String())
	assert.Equal(t, "State(99)", State(99).String())
}
