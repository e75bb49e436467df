package main

import (
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"niimbot-print/internal/config"
	"niimbot-print/internal/eventbus"
	"niimbot-print/internal/history"
	"niimbot-print/internal/logging"
	"niimbot-print/internal/observability"
)

const (
	AppVersion = "0.3.0"
	AppName    = "Niimbot Print"
)

func main() {
	configPath := flag.String("config", "", "config file (default "+config.DefaultPath()+")")
	simulate := flag.Bool("simulate", false, "print to a built-in simulated D11")
	metricsAddr := flag.String("metrics", "", "serve prometheus metrics on this address, e.g. :9464")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *simulate {
		cfg.Device.Transport = "simulator"
	}

	log, err := logging.New(logging.ProfileRuntime, logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	observability.RegisterMetrics()
	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, log)
	}

	var hist *history.Store
	if cfg.History.Enabled {
		hist, err = history.Open(cfg.History.Path, log.Named("history"))
		if err != nil {
			log.Warn("history disabled", zap.Error(err))
			hist = nil
		} else {
			hist.Keep = cfg.History.Limit
		}
	}

	a := app.New()
	w := a.NewWindow(fmt.Sprintf("%s v%s", AppName, AppVersion))
	w.Resize(fyne.NewSize(700, 560))

	ui := newApp(a, w, cfg, eventbus.New(log.Named("bus")), hist, log)
	w.SetMainMenu(ui.buildMenu())
	w.SetContent(ui.buildUI())
	w.SetOnClosed(ui.cleanup)
	log.Info("starting", zap.String("version", AppVersion), zap.String("transport", cfg.Device.Transport))
	w.ShowAndRun()
}

func serveMetrics(addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log.Info("metrics listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics server stopped", zap.Error(err))
	}
}
