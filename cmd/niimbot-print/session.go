package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"niimbot-print/internal/config"
	"niimbot-print/internal/eventbus"
	"niimbot-print/internal/history"
	"niimbot-print/internal/printer"
	"niimbot-print/internal/printjob"
	"niimbot-print/internal/protocol"
	"niimbot-print/internal/simulator"
)

const heartbeatInterval = 10 * time.Second

// target names what to connect to
type target struct {
	Kind   string // bluetooth, serial or simulator
	Device printer.BluetoothDevice
	Port   string
}

func (t target) String() string {
	switch t.Kind {
	case "bluetooth":
		return t.Device.Name
	case "serial":
		return t.Port
	default:
		return "simulator"
	}
}

// model guesses the printer model, used to pick a job profile
func (t target) model() string {
	if t.Kind == "bluetooth" && t.Device.IsNiimbot() {
		return t.Device.Model()
	}
	return ""
}

// session is one live connection
type session struct {
	target  target
	model   string
	binding *printer.Binding
	sim     *simulator.Simulator
	printer *printer.Printer
	jobs    *printjob.Orchestrator
	log     *zap.Logger
	cancel  context.CancelFunc
}

func connect(ctx context.Context, cfg config.Config, t target, bus *eventbus.Bus, log *zap.Logger) (*session, error) {
	s := &session{target: t, model: t.model(), log: log}
	if s.model == "" {
		s.model = cfg.Printer.Model
	}

	var tr printer.Transport
	switch t.Kind {
	case "simulator":
		s.sim = simulator.New()
		tr = s.sim.Transport()
	case "bluetooth":
		b, err := printer.Bind(ctx, t.Device, cfg.Device.Channel, log)
		if err != nil {
			return nil, err
		}
		s.binding = b
		tr = serialTransport(cfg, b.DevicePath)
	case "serial":
		if t.Port == "" {
			return nil, errors.New("no port selected")
		}
		tr = serialTransport(cfg, t.Port)
	default:
		return nil, fmt.Errorf("unknown transport %q", t.Kind)
	}

	s.printer = printer.New(tr, bus, log.Named("printer"), printer.Options{
		CommandTimeout: cfg.Printer.CommandTimeout.Duration,
		Stall:          !cfg.Printer.Resync,
	})
	if err := s.printer.Start(context.Background()); err != nil {
		if s.binding != nil {
			s.binding.Close()
		}
		return nil, err
	}

	s.jobs = printjob.New(s.printer, bus, log.Named("job"))
	s.jobs.StepTimeout = cfg.Job.StepTimeout.Duration
	s.jobs.CompletionTimeout = cfg.Job.CompletionTimeout.Duration
	s.jobs.RowDelay = cfg.Job.RowDelay.Duration
	s.jobs.PollInterval = cfg.Job.PollInterval.Duration

	hbCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.heartbeat(hbCtx)

	log.Info("connected", zap.Stringer("target", t), zap.String("model", s.model))
	return s, nil
}

func serialTransport(cfg config.Config, port string) *printer.SerialTransport {
	tr := printer.NewSerialTransport(port)
	tr.BaudRate = cfg.Device.BaudRate
	tr.ReadTimeout = cfg.Printer.ReadTimeout.Duration
	return tr
}

// heartbeat keeps the printer awake between jobs
func (s *session) heartbeat(ctx context.Context) {
	t := time.NewTicker(heartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if s.jobs.Running() {
				continue
			}
			if err := s.printer.Heartbeat(ctx); err != nil && ctx.Err() == nil {
				s.log.Debug("heartbeat failed", zap.Error(err))
			}
		}
	}
}

func (s *session) close() {
	s.cancel()
	if err := s.printer.Close(); err != nil {
		s.log.Debug("printer close", zap.Error(err))
	}
	if s.binding != nil {
		s.binding.Close()
	}
	s.log.Info("disconnected", zap.Stringer("target", s.target))
}

// deviceStatus is what the status bar shows
type deviceStatus struct {
	Info   printer.DeviceInfo
	Roll   *protocol.RFID
	NoRoll bool
}

func (st deviceStatus) String() string {
	s := fmt.Sprintf("%s fw %.2f, battery %d", st.Info.Serial, st.Info.SoftwareVersion, st.Info.Battery)
	switch {
	case st.NoRoll:
		s += ", no labels"
	case st.Roll != nil:
		s += fmt.Sprintf(", %d labels left", st.Roll.Remaining())
	}
	return s
}

func (s *session) status(ctx context.Context) (deviceStatus, error) {
	var st deviceStatus
	info, err := s.printer.Info(ctx)
	if err != nil {
		return st, err
	}
	st.Info = info

	roll, err := s.printer.RFID(ctx)
	switch {
	case errors.Is(err, printer.ErrNoPaper):
		st.NoRoll = true
	case err != nil:
		// older firmware does not answer the tag query
		s.log.Debug("rfid query failed", zap.Error(err))
	default:
		st.Roll = &roll
	}
	return st, nil
}

// print runs job and records the outcome in hist when set
func (s *session) print(ctx context.Context, job printjob.Job, label string, hist *history.Store, progress func(printjob.State, float64)) error {
	job.Model = s.model
	return s.jobs.RunWith(ctx, job, printjob.Hooks{
		Progress: progress,
		OnFinish: func(res printjob.Result) {
			if hist == nil {
				return
			}
			if _, err := hist.Record(historyEntry(res, label)); err != nil {
				s.log.Warn("failed to record job", zap.Error(err))
			}
		},
	})
}

func historyEntry(res printjob.Result, label string) history.Entry {
	e := history.Entry{
		ID:       res.Job.ID,
		Model:    res.Job.Model,
		Label:    label,
		Width:    res.Job.Width,
		Height:   res.Job.Height,
		Quantity: res.Job.Quantity,
		Result:   "ok",
		State:    res.State.String(),
		Started:  res.Started,
		Duration: res.Finished.Sub(res.Started),
	}
	switch {
	case res.Err == nil:
	case errors.Is(res.Err, context.Canceled):
		e.Result = "canceled"
		e.Error = res.Err.Error()
	default:
		e.Result = "failed"
		e.Error = res.Err.Error()
	}
	return e
}
