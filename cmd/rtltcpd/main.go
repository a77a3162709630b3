// Command rtltcpd serves I/Q samples from a local SDR receiver to remote
// clients over TCP, speaking the rtl_tcp wire protocol.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cwsl/rtltcpd/internal/admin"
	"github.com/cwsl/rtltcpd/internal/config"
	"github.com/cwsl/rtltcpd/internal/driver"
	"github.com/cwsl/rtltcpd/internal/geoip"
	"github.com/cwsl/rtltcpd/internal/hub"
	"github.com/cwsl/rtltcpd/internal/metrics"
	"github.com/cwsl/rtltcpd/internal/radio"
	"github.com/cwsl/rtltcpd/internal/server"
	"github.com/cwsl/rtltcpd/internal/telemetry"
	"github.com/cwsl/rtltcpd/internal/tuner"
)

// Fatal startup conditions each get their own exit code so supervisors can
// tell them apart.
const (
	exitConfig         = 1
	exitNoDevice       = 2
	exitSerialNotFound = 3
	exitOpenFailed     = 4
	exitLibMissing     = 5
	exitArchMismatch   = 6
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	port := flag.Int("port", 0, "Override the listening port")
	serial := flag.String("serial", "", "Override the device serial to select")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Printf("loading config: %v", err)
			os.Exit(exitConfig)
		}
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *serial != "" {
		cfg.Radio.Serial = *serial
	}
	if cfg.Logging.Debug {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	}

	drv, err := buildDriver(cfg)
	if err != nil {
		log.Printf("selecting radio backend: %v", err)
		os.Exit(exitLibMissing)
	}

	m := metrics.New()

	var bytesStreamed, buffersDropped atomic.Uint64

	// Per-client queue bound: one second of samples at the configured rate
	// (2 bytes per complex sample), floored at the hub's minimum depth.
	queueBytes := cfg.Radio.QueueBytes
	if queueBytes <= 0 {
		queueBytes = int(cfg.Radio.SampleRateHz) * 2
	}
	if cfg.Radio.MockBufferSize <= 0 {
		cfg.Radio.MockBufferSize = 16 * 1024
	}
	queueDepth := queueBytes / cfg.Radio.MockBufferSize
	h := hub.New(queueDepth, func(id uint64) {
		buffersDropped.Add(1)
		m.BuffersDropped.Inc()
	})

	ctl := radio.New(drv, h, radio.InitialParams{
		CenterFrequencyHz: cfg.Radio.FrequencyHz,
		SampleRateHz:      cfg.Radio.SampleRateHz,
	})
	if err := ctl.Start(cfg.Radio.Serial); err != nil {
		log.Printf("starting radio: %v", err)
		os.Exit(startExitCode(err))
	}

	ln := server.New(server.Config{
		Addr:      cfg.ListenAddr(),
		RadioCtl:  ctl,
		Hub:       h,
		TunerType: ctl.TunerType(),
		GainCount: len(ctl.SupportedGains()),
		Callbacks: server.Callbacks{
			OnConnect: func() {
				m.ActiveClients.Inc()
				m.ClientsTotal.Inc()
			},
			OnGreeting:   m.GreetingsSent.Inc,
			OnDisconnect: m.ActiveClients.Dec,
			OnBytes: func(n int) {
				bytesStreamed.Add(uint64(n))
				m.BytesStreamed.Add(float64(n))
			},
			OnCommand: func(name string) {
				m.CommandsTotal.WithLabelValues(name).Inc()
			},
		},
	})

	status := &statusProvider{
		ctl:       ctl,
		hub:       h,
		ln:        ln,
		bytes:     &bytesStreamed,
		dropped:   &buffersDropped,
		startedAt: time.Now(),
	}

	var adminSrv *http.Server
	if cfg.Admin.Enabled {
		geo, err := geoip.New(cfg.GeoIP.DatabasePath)
		if err != nil {
			log.Printf("geoip disabled: %v", err)
			geo, _ = geoip.New("")
		}
		adminSrv = &http.Server{
			Addr:    cfg.Admin.ListenAddress,
			Handler: admin.New(status, geo),
		}
		go func() {
			log.Printf("admin: listening on %s", cfg.Admin.ListenAddress)
			if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("admin: %v", err)
			}
		}()
	}

	telemetryStop := make(chan struct{})
	var pub *telemetry.Publisher
	if cfg.MQTT.Enabled {
		pub, err = telemetry.New(telemetry.Config{
			Broker:          cfg.MQTT.Broker,
			Username:        cfg.MQTT.Username,
			Password:        cfg.MQTT.Password,
			Topic:           cfg.MQTT.Topic,
			PublishInterval: time.Duration(cfg.MQTT.PublishInterval) * time.Second,
			TLS: telemetry.TLSConfig{
				Enabled:    cfg.MQTT.TLS.Enabled,
				CACert:     cfg.MQTT.TLS.CACert,
				ClientCert: cfg.MQTT.TLS.ClientCert,
				ClientKey:  cfg.MQTT.TLS.ClientKey,
			},
		}, func() telemetry.Snapshot {
			return telemetry.Snapshot{
				ActiveClients:  float64(h.Count()),
				BytesStreamed:  float64(bytesStreamed.Load()),
				BuffersDropped: float64(buffersDropped.Load()),
			}
		})
		if err != nil {
			log.Printf("telemetry disabled: %v", err)
		} else {
			go pub.Run(telemetryStop)
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- ln.ListenAndServe()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Printf("received %s, shutting down", s)
	case err := <-serveErr:
		if err != nil {
			log.Printf("listener failed: %v", err)
		}
	}

	// Shutdown order: stop accepting and drain clients, cancel the
	// producer and close the device, then tear down the auxiliary surfaces.
	ln.Shutdown(time.Duration(cfg.Server.ShutdownTimeout) * time.Second)
	ctl.Stop()

	close(telemetryStop)
	if pub != nil {
		pub.Disconnect()
	}
	if adminSrv != nil {
		adminSrv.Close()
	}
	log.Println("shutdown complete")
}

// buildDriver maps the configured backend name to a Driver. The mock
// backend is the only one compiled in; any other backend name is reported
// as ErrNativeLibraryMissing.
func buildDriver(cfg *config.Config) (driver.Driver, error) {
	switch cfg.Radio.Backend {
	case "", "mock":
		return driver.NewMock(driver.MockConfig{
			Tuner:      tuner.Parse(cfg.Radio.MockTuner),
			Serials:    mockSerials(cfg.Radio.Serial),
			BufferSize: cfg.Radio.MockBufferSize,
		}), nil
	default:
		return nil, fmt.Errorf("%w: backend %q", driver.ErrNativeLibraryMissing, cfg.Radio.Backend)
	}
}

// mockSerials gives the mock device the configured serial so selecting by
// serial works against the mock backend too.
func mockSerials(serial string) []string {
	if serial == "" {
		return nil
	}
	return []string{serial}
}

func startExitCode(err error) int {
	switch {
	case errors.Is(err, driver.ErrNoDeviceFound):
		return exitNoDevice
	case errors.Is(err, driver.ErrSerialNotFound):
		return exitSerialNotFound
	case errors.Is(err, driver.ErrDeviceOpenFailed):
		return exitOpenFailed
	case errors.Is(err, driver.ErrNativeLibraryMissing):
		return exitLibMissing
	case errors.Is(err, driver.ErrArchMismatch):
		return exitArchMismatch
	default:
		return exitConfig
	}
}

// statusProvider adapts the live server state to the admin surface.
type statusProvider struct {
	ctl       *radio.Controller
	hub       *hub.Hub
	ln        *server.Listener
	bytes     *atomic.Uint64
	dropped   *atomic.Uint64
	startedAt time.Time
}

func (s *statusProvider) TunerType() tuner.Descriptor { return s.ctl.TunerType() }
func (s *statusProvider) SupportedGainCount() int     { return len(s.ctl.SupportedGains()) }
func (s *statusProvider) ActiveClientCount() int      { return s.hub.Count() }
func (s *statusProvider) BytesStreamed() uint64       { return s.bytes.Load() }
func (s *statusProvider) BuffersDropped() uint64      { return s.dropped.Load() }
func (s *statusProvider) Params() driver.Params       { return s.ctl.Params() }
func (s *statusProvider) Uptime() time.Duration       { return time.Since(s.startedAt) }

func (s *statusProvider) Sessions() []admin.SessionInfo {
	statuses := s.ln.Sessions()
	out := make([]admin.SessionInfo, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, admin.SessionInfo{
			RemoteAddr:  st.RemoteAddr,
			ConnectedAt: st.ConnectedAt.Format(time.RFC3339),
			Drops:       st.Drops,
		})
	}
	return out
}
