package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"meshdash/internal/config"
	"meshdash/internal/credential"
	"meshdash/internal/eventbus"
	"meshdash/internal/inbox"
	"meshdash/internal/metrics"
	"meshdash/internal/realtime"
	"meshdash/internal/recorder"
	"meshdash/pkg/conn"
	"meshdash/pkg/exception"
	"meshdash/pkg/websocket"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		log.Printf("listen: %v", err)
		os.Exit(1)
	}
}

func run() error {
	configFlag := flag.String("config", "", "YAML config file (optional)")
	endpointFlag := flag.String("endpoint", "", "backend base url, overrides the config")
	tokenFileFlag := flag.String("token-file", "", "bearer token file, overrides the config")
	quietFlag := flag.Bool("quiet", false, "do not log received messages")
	flag.Parse()

	cfg, err := config.Load(*configFlag, overrides(map[string]string{
		config.EnvPrefix + "ENDPOINT":   *endpointFlag,
		config.EnvPrefix + "TOKEN_FILE": *tokenFileFlag,
	}))
	if err != nil {
		return err
	}

	if cfg.Profiling.ServerAddress != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: cfg.Profiling.ApplicationName,
			ServerAddress:   cfg.Profiling.ServerAddress,
			Logger:          profileLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
				pyroscope.ProfileGoroutines,
			},
		})
		if err != nil {
			return err
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	bus := eventbus.New(eventbus.WithMetrics(m))

	var (
		wg     sync.WaitGroup
		tokens realtime.TokenProvider
	)
	if cfg.TokenFile != "" {
		file, err := credential.NewFile(cfg.TokenFile, bus)
		if err != nil {
			return err
		}
		defer file.Close()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := file.Run(ctx); err != nil {
				logs.Errorf("watch token file, err: %+v", err)
			}
		}()
		tokens = file
	} else {
		tokens = credential.Static(cfg.Token)
	}

	box := inbox.New(bus, cfg.Inbox.Option())
	defer box.Close()
	if !*quietFlag {
		bus.Subscribe(eventbus.TagMessageReceived, func(e eventbus.Event) {
			msg := e.(eventbus.MessageReceived).Message
			logs.Infof("[%s] %s: %s (unread %d/%d)", msg.Channel, msg.Sender, msg.Text, box.Unread(msg.Channel), box.TotalUnread())
		})
	}
	bus.Subscribe(eventbus.TagReconnectExhausted, func(e eventbus.Event) {
		logs.Errorf("realtime stream gave up after %d attempts, waiting for a token refresh", e.(eventbus.ReconnectExhausted).Attempts)
	})

	if cfg.Recorder.Enabled {
		writer, closeStore, err := startRecorder(ctx, cfg.Recorder, bus, m)
		if err != nil {
			return err
		}
		defer closeStore()
		defer func() {
			if err := writer.Close(); err != nil {
				logs.Errorf("close history writer, err: %+v", err)
			}
		}()
	}

	if cfg.Metrics.Listen != "" {
		srv := serveMetrics(cfg.Metrics, reg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	manager, err := realtime.New(realtime.Option{
		Bus:     bus,
		Tokens:  tokens,
		Dialer:  websocket.NewDialer(websocket.WithHandshakeTimeout(cfg.Dial.HandshakeTimeout)),
		Backoff: cfg.Backoff.Policy(),
		Metrics: m,
	})
	if err != nil {
		return err
	}
	defer manager.Close()
	if err := manager.Initialize(cfg.Endpoint); err != nil {
		return err
	}
	manager.Attach(bus)

	if err := manager.Connect(); err != nil {
		if !errors.Is(err, exception.ErrNoToken) {
			return err
		}
		logs.Errorf("no bearer token yet, waiting for %s", cfg.TokenFile)
	}

	<-sys.Shutdown()
	logs.Info("shutting down")
	cancel()
	wg.Wait()
	return nil
}

func startRecorder(ctx context.Context, cfg config.RecorderConfig, bus *eventbus.Bus, m *metrics.Metrics) (*recorder.Writer, func(), error) {
	client, err := conn.New(cfg.Postgres.Option())
	if err != nil {
		return nil, nil, err
	}
	closeClient := func() {
		if err := client.Close(); err != nil {
			logs.Errorf("close postgres, err: %+v", err)
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		closeClient()
		return nil, nil, err
	}

	store, err := recorder.NewGormStore(client.DB())
	if err != nil {
		closeClient()
		return nil, nil, err
	}
	if err := store.Migrate(pingCtx); err != nil {
		closeClient()
		return nil, nil, err
	}

	writer, err := recorder.NewWriter(cfg.Writer(), store, m)
	if err != nil {
		closeClient()
		return nil, nil, err
	}
	writer.Attach(bus)
	if err := writer.Start(ctx); err != nil {
		closeClient()
		return nil, nil, err
	}
	return writer, closeClient, nil
}

func serveMetrics(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logs.Infof("metrics listening: %s%s", cfg.Listen, cfg.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logs.Errorf("serve metrics, err: %+v", err)
		}
	}()
	return srv
}

// overrides puts non-empty flag values in front of the environment.
func overrides(flags map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v := flags[key]; v != "" {
			return v, true
		}
		return os.LookupEnv(key)
	}
}

type profileLogger struct{}

func (profileLogger) Infof(format string, args ...interface{})  { logs.Infof(format, args...) }
func (profileLogger) Debugf(_ string, _ ...interface{})         {}
func (profileLogger) Errorf(format string, args ...interface{}) { logs.Errorf(format, args...) }
