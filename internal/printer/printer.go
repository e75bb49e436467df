package printer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"niimbot-print/internal/correlate"
	"niimbot-print/internal/observability"
	"niimbot-print/internal/protocol"
)

const (
	DefaultCommandTimeout = 2 * time.Second
	defaultReadSize       = 256

	// KeyTransportError carries read errors from the reader loop
	KeyTransportError = "transportError"
)

var ErrNoPaper = errors.New("no label roll installed")

// EventBus is the publish/subscribe hub events are delivered through
type EventBus interface {
	Publish(key string, payload any)
	Subscribe(key string) (<-chan any, func())
}

// Options tunes a Printer
type Options struct {
	CommandTimeout time.Duration
	ReadSize       int
	// Stall disables stream resynchronization
	Stall bool
}

// Printer drives a Niimbot printer over a Transport.
//
// A single reader goroutine owns the stream buffer: it pulls bytes from the
// transport, reassembles frames, decodes them and publishes the resulting
// events. Commands are written from the caller's goroutine and their
// answers are matched by the correlator.
type Printer struct {
	transport Transport
	bus       EventBus
	corr      *correlate.Correlator
	registry  *protocol.Registry
	log       *zap.Logger
	opts      Options

	writeMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New wires a printer; call Start to open the transport
func New(t Transport, bus EventBus, log *zap.Logger, opts Options) *Printer {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	if opts.ReadSize <= 0 {
		opts.ReadSize = defaultReadSize
	}
	return &Printer{
		transport: t,
		bus:       bus,
		corr:      correlate.New(bus, log),
		registry:  protocol.DefaultRegistry(),
		log:       log,
		opts:      opts,
	}
}

// Start opens the transport and launches the reader loop. The loop runs
// until ctx is cancelled or Close is called.
func (p *Printer) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return nil
	}
	if err := p.transport.Open(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	framer := protocol.NewFramer()
	framer.Stall = p.opts.Stall
	go p.readLoop(ctx, framer, p.done)
	p.log.Info("printer: reader started")
	return nil
}

// Close stops the reader loop and closes the transport
func (p *Printer) Close() error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	err := p.transport.Close()
	<-done
	p.log.Info("printer: closed")
	return err
}

func (p *Printer) readLoop(ctx context.Context, framer *protocol.Framer, done chan struct{}) {
	defer close(done)
	buf := make([]byte, p.opts.ReadSize)

	for ctx.Err() == nil {
		n, err := p.transport.Read(buf)
		if n > 0 {
			p.consume(framer, buf[:n])
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, ErrClosed) || errors.Is(err, ErrNotConnected) {
			p.log.Warn("printer: transport gone, reader stopping", zap.Error(err))
			p.bus.Publish(KeyTransportError, err)
			return
		}
		p.log.Warn("printer: read failed", zap.Error(err))
		p.bus.Publish(KeyTransportError, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// consume feeds one chunk through the framer and publishes every event
func (p *Printer) consume(framer *protocol.Framer, chunk []byte) {
	dropped := framer.Dropped()
	framer.Write(chunk)
	for {
		pkt, ok := framer.Next()
		if !ok {
			break
		}
		observability.RecordFrame(pkt.Code().String())

		ev, ok := p.registry.Decode(pkt)
		if !ok {
			observability.RecordUndecoded(pkt.Code().String())
			p.log.Debug("printer: no decoder for packet", zap.Stringer("packet", pkt))
			continue
		}
		p.log.Debug("printer: event", zap.String("key", ev.Key()), zap.Any("event", ev))
		p.bus.Publish(ev.Key(), ev)
	}
	if d := framer.Dropped() - dropped; d > 0 {
		observability.RecordResync(d)
		p.log.Debug("printer: resynchronized stream", zap.Uint64("dropped", d))
	}
}

// Send encodes and writes one packet
func (p *Printer) Send(ctx context.Context, pkt protocol.Packet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame := protocol.Encode(pkt)

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := p.transport.Write(frame); err != nil {
		return fmt.Errorf("send %s: %w", pkt.Code(), err)
	}
	return nil
}

// Correlate sends with send and waits for a boolean outcome under key
func (p *Printer) Correlate(ctx context.Context, key string, timeout time.Duration, send correlate.SendFunc) error {
	return p.corr.Correlate(ctx, key, timeout, send)
}

// Await sends with send and waits until match accepts an event under key
func (p *Printer) Await(ctx context.Context, key string, timeout time.Duration, send correlate.SendFunc, match correlate.MatchFunc) (any, error) {
	return p.corr.Await(ctx, key, timeout, send, match)
}

// Command sends pkt and waits for its acknowledgement
func (p *Printer) Command(ctx context.Context, pkt protocol.Packet) error {
	key := protocol.AckKey(pkt.Code())
	if key == "" {
		return fmt.Errorf("command %s has no acknowledgement", pkt.Code())
	}
	return p.corr.Correlate(ctx, key, p.opts.CommandTimeout, p.sender(pkt))
}

// sender returns a SendFunc writing pkt
func (p *Printer) sender(pkt protocol.Packet) correlate.SendFunc {
	return func(ctx context.Context) error {
		return p.Send(ctx, pkt)
	}
}

// query sends pkt and returns the event published under key
func (p *Printer) query(ctx context.Context, key string, pkt protocol.Packet) (protocol.Event, error) {
	v, err := p.corr.Request(ctx, key, p.opts.CommandTimeout, p.sender(pkt))
	if err != nil {
		return nil, err
	}
	return v.(protocol.Event), nil
}

func (p *Printer) info(ctx context.Context, key protocol.InfoKey, eventKey string) (protocol.Event, error) {
	return p.query(ctx, eventKey, protocol.GetInfo(key))
}

// Battery returns the battery level
func (p *Printer) Battery(ctx context.Context) (uint8, error) {
	ev, err := p.info(ctx, protocol.InfoBattery, protocol.KeyBattery)
	if err != nil {
		return 0, err
	}
	return ev.(protocol.Battery).Level, nil
}

func (p *Printer) SerialNumber(ctx context.Context) (string, error) {
	ev, err := p.info(ctx, protocol.InfoSerialNumber, protocol.KeySerialNumber)
	if err != nil {
		return "", err
	}
	return ev.(protocol.SerialNumber).Value, nil
}

func (p *Printer) SoftwareVersion(ctx context.Context) (float64, error) {
	ev, err := p.info(ctx, protocol.InfoSoftwareVersion, protocol.KeySoftwareVersion)
	if err != nil {
		return 0, err
	}
	return ev.(protocol.SoftwareVersion).Version, nil
}

func (p *Printer) HardwareVersion(ctx context.Context) (float64, error) {
	ev, err := p.info(ctx, protocol.InfoHardwareVersion, protocol.KeyHardwareVersion)
	if err != nil {
		return 0, err
	}
	return ev.(protocol.HardwareVersion).Version, nil
}

func (p *Printer) DeviceType(ctx context.Context) (uint16, error) {
	ev, err := p.info(ctx, protocol.InfoDeviceType, protocol.KeyDeviceType)
	if err != nil {
		return 0, err
	}
	return ev.(protocol.DeviceType).Type, nil
}

func (p *Printer) Density(ctx context.Context) (uint8, error) {
	ev, err := p.info(ctx, protocol.InfoDensity, protocol.KeyDensity)
	if err != nil {
		return 0, err
	}
	return ev.(protocol.Density).Value, nil
}

func (p *Printer) LabelType(ctx context.Context) (uint8, error) {
	ev, err := p.info(ctx, protocol.InfoLabelType, protocol.KeyLabelType)
	if err != nil {
		return 0, err
	}
	return ev.(protocol.LabelType).Value, nil
}

func (p *Printer) AutoShutdownTime(ctx context.Context) (uint8, error) {
	ev, err := p.info(ctx, protocol.InfoAutoShutdownTime, protocol.KeyAutoShutdownTime)
	if err != nil {
		return 0, err
	}
	return ev.(protocol.AutoShutdownTime).Value, nil
}

// RFID reads the installed label roll. It returns ErrNoPaper when the
// printer reports no roll.
func (p *Printer) RFID(ctx context.Context) (protocol.RFID, error) {
	keys := []string{protocol.KeyRFID, protocol.KeyNoPaper}
	v, err := p.corr.AwaitAny(ctx, keys, p.opts.CommandTimeout, p.sender(protocol.GetRFID()), correlate.MatchAny)
	if err != nil {
		return protocol.RFID{}, err
	}
	rfid, ok := v.(protocol.RFID)
	if !ok {
		return protocol.RFID{}, ErrNoPaper
	}
	return rfid, nil
}

// PrintStatus polls the current job progress once
func (p *Printer) PrintStatus(ctx context.Context) (protocol.PrintStatus, error) {
	ev, err := p.query(ctx, protocol.KeyPrintStatus, protocol.GetPrintStatus())
	if err != nil {
		return protocol.PrintStatus{}, err
	}
	return ev.(protocol.PrintStatus), nil
}

func (p *Printer) SetLabelType(ctx context.Context, n uint8) error {
	return p.Command(ctx, protocol.SetLabelType(n))
}

func (p *Printer) SetLabelDensity(ctx context.Context, n uint8) error {
	return p.Command(ctx, protocol.SetLabelDensity(n))
}

func (p *Printer) SetAutoShutdownTime(ctx context.Context, n uint8) error {
	return p.Command(ctx, protocol.SetAutoShutdownTime(n))
}

func (p *Printer) AllowPrintClear(ctx context.Context) error {
	return p.Command(ctx, protocol.AllowPrintClear())
}

// Heartbeat keeps the link alive; the printer's answer is not awaited
func (p *Printer) Heartbeat(ctx context.Context) error {
	return p.Send(ctx, protocol.Heartbeat())
}

// DeviceInfo is a snapshot of the identifying values of a printer
type DeviceInfo struct {
	Serial          string
	SoftwareVersion float64
	HardwareVersion float64
	DeviceType      uint16
	Battery         uint8
}

// Info queries every identifying value in turn
func (p *Printer) Info(ctx context.Context) (DeviceInfo, error) {
	var info DeviceInfo
	var err error
	if info.Serial, err = p.SerialNumber(ctx); err != nil {
		return info, err
	}
	if info.SoftwareVersion, err = p.SoftwareVersion(ctx); err != nil {
		return info, err
	}
	if info.HardwareVersion, err = p.HardwareVersion(ctx); err != nil {
		return info, err
	}
	if info.DeviceType, err = p.DeviceType(ctx); err != nil {
		return info, err
	}
	if info.Battery, err = p.Battery(ctx); err != nil {
		return info, err
	}
	return info, nil
}
