// Package admin exposes the operator-facing HTTP surface: a JSON status
// endpoint, a Prometheus /metrics endpoint, and a /ws live dashboard feed.
// It is observability only and never mutates radio state.
package admin

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/cwsl/rtltcpd/internal/driver"
	"github.com/cwsl/rtltcpd/internal/geoip"
	"github.com/cwsl/rtltcpd/internal/tuner"
)

// SessionInfo is one row of the admin dashboard's connected-client table.
type SessionInfo struct {
	RemoteAddr  string `json:"remote_addr"`
	Country     string `json:"country,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
	ConnectedAt string `json:"connected_at"`
	Drops       uint64 `json:"drops"`
}

// StatusProvider supplies the live counters the status endpoint and the
// dashboard feed render. Implemented by the cmd/rtltcpd wiring, which
// closes over the hub, the radio controller, and the session registry.
type StatusProvider interface {
	TunerType() tuner.Descriptor
	SupportedGainCount() int
	ActiveClientCount() int
	BytesStreamed() uint64
	BuffersDropped() uint64
	Params() driver.Params
	Uptime() time.Duration
	Sessions() []SessionInfo
}

// Server serves the admin HTTP surface.
type Server struct {
	status StatusProvider
	geo    *geoip.Service

	mux *http.ServeMux

	upgrader websocket.Upgrader
}

// Generous buffers for a JSON payload that may carry a full session table;
// compression is handled manually via zstd rather than gorilla's built-in
// per-message deflate.
func newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:    4096,
		WriteBufferSize:   65536,
		EnableCompression: false,
		CheckOrigin:       func(r *http.Request) bool { return true },
	}
}

// New builds a Server. geo may be nil or disabled; its absence just omits
// country fields from the session table.
func New(status StatusProvider, geo *geoip.Service) *Server {
	s := &Server{status: status, geo: geo, mux: http.NewServeMux(), upgrader: newUpgrader()}
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/load", s.handleLoad)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws", s.handleWebSocket)
	return s
}

// ServeHTTP makes Server an http.Handler directly usable with http.Server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.snapshot())
}

type paramsView struct {
	FrequencyHz    uint64 `json:"frequency_hz"`
	SampleRateHz   uint32 `json:"sample_rate_hz"`
	GainMode       string `json:"gain_mode"`
	FreqCorrection int32  `json:"freq_correction_ppm"`
	RTLAGC         bool   `json:"rtl_agc"`
	DirectSampling string `json:"direct_sampling"`
	OffsetTuning   bool   `json:"offset_tuning"`
	BiasTee        bool   `json:"bias_tee"`
}

type dashboardSnapshot struct {
	Tuner          string        `json:"tuner"`
	GainCount      int           `json:"gain_count"`
	UptimeSeconds  float64       `json:"uptime_seconds"`
	ActiveClients  int           `json:"active_clients"`
	BytesStreamed  uint64        `json:"bytes_streamed"`
	BuffersDropped uint64        `json:"buffers_dropped"`
	Params         paramsView    `json:"params"`
	Sessions       []SessionInfo `json:"sessions"`
}

func (s *Server) snapshot() dashboardSnapshot {
	sessions := s.status.Sessions()
	if s.geo != nil && s.geo.IsEnabled() {
		for i := range sessions {
			host := sessions[i].RemoteAddr
			if idx := strings.LastIndex(host, ":"); idx != -1 {
				host = host[:idx]
			}
			country, code := s.geo.LookupSafe(host)
			sessions[i].Country = country
			sessions[i].CountryCode = code
		}
	}

	p := s.status.Params()
	return dashboardSnapshot{
		Tuner:          s.status.TunerType().String(),
		GainCount:      s.status.SupportedGainCount(),
		UptimeSeconds:  s.status.Uptime().Seconds(),
		ActiveClients:  s.status.ActiveClientCount(),
		BytesStreamed:  s.status.BytesStreamed(),
		BuffersDropped: s.status.BuffersDropped(),
		Params: paramsView{
			FrequencyHz:    p.CenterFrequencyHz,
			SampleRateHz:   p.SampleRateHz,
			GainMode:       p.GainMode.String(),
			FreqCorrection: p.FreqCorrectionPPM,
			RTLAGC:         p.RTLAGC,
			DirectSampling: p.DirectSampling.String(),
			OffsetTuning:   p.OffsetTuning,
			BiasTee:        p.BiasTee,
		},
		Sessions: sessions,
	}
}

// handleLoad reports system load averages and a load/cores status verdict.
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		http.Error(w, "failed to read /proc/loadavg: "+err.Error(), http.StatusInternalServerError)
		return
	}
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		http.Error(w, "invalid /proc/loadavg format", http.StatusInternalServerError)
		return
	}

	cpuCores := 0
	if info, err := cpu.Info(); err == nil {
		for _, c := range info {
			cpuCores += int(c.Cores)
		}
	}

	load1, _ := strconv.ParseFloat(fields[0], 64)
	load5, _ := strconv.ParseFloat(fields[1], 64)
	load15, _ := strconv.ParseFloat(fields[2], 64)
	avgLoad := (load1 + load5 + load15) / 3.0

	status := "ok"
	if cpuCores > 0 {
		switch {
		case avgLoad >= float64(cpuCores)*2.0:
			status = "critical"
		case avgLoad >= float64(cpuCores):
			status = "warning"
		}
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"load_1min":  fields[0],
		"load_5min":  fields[1],
		"load_15min": fields[2],
		"cpu_cores":  cpuCores,
		"status":     status,
	})
}

// wsPushInterval is how often the dashboard feed sends a fresh snapshot.
const wsPushInterval = time.Second

var zstdEncoderPool = sync.Pool{
	New: func() interface{} {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		return enc
	},
}

// handleWebSocket upgrades the connection and pushes a zstd-compressed
// JSON snapshot on every tick until the client disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("admin: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	enc := zstdEncoderPool.Get().(*zstd.Encoder)
	defer zstdEncoderPool.Put(enc)

	ticker := time.NewTicker(wsPushInterval)
	defer ticker.Stop()

	// Detect client-initiated close without blocking the push loop.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			payload, err := json.Marshal(s.snapshot())
			if err != nil {
				log.Printf("admin: snapshot marshal failed: %v", err)
				continue
			}
			compressed := enc.EncodeAll(payload, make([]byte, 0, len(payload)))
			if err := conn.WriteMessage(websocket.BinaryMessage, compressed); err != nil {
				return
			}
		}
	}
}
