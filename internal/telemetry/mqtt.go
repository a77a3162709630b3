// Package telemetry publishes server-level counters to an MQTT broker on a
// timer. The broker connection auto-reconnects; a publish failure only
// costs that tick's snapshot.
package telemetry

import (
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// TLSConfig holds optional CA/client certificate paths for a TLS-secured
// broker connection.
type TLSConfig struct {
	Enabled    bool
	CACert     string
	ClientCert string
	ClientKey  string
}

// Config describes how to reach the broker and how often to publish.
type Config struct {
	Broker          string
	Username        string
	Password        string
	Topic           string
	PublishInterval time.Duration
	TLS             TLSConfig
}

// Snapshot is the set of counters published on each tick.
type Snapshot struct {
	ActiveClients  float64
	BytesStreamed  float64
	BuffersDropped float64
}

// Payload is the JSON envelope written to the broker: a timestamp plus a
// flat metric map.
type Payload struct {
	Timestamp int64              `json:"timestamp"`
	Metrics   map[string]float64 `json:"metrics"`
}

// Publisher owns the MQTT client connection and the background ticker that
// publishes Snapshot values returned by Collect.
type Publisher struct {
	client  mqtt.Client
	cfg     Config
	collect func() Snapshot
}

func generateClientID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return "rtltcpd_" + hex.EncodeToString(b)
}

func loadTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{}

	if cfg.CACert != "" {
		caCert, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("reading CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("parsing CA certificate")
		}
		tlsCfg.RootCAs = pool
	}

	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	return tlsCfg, nil
}

// New connects to the configured broker and returns a Publisher. collect is
// called on every publish tick to obtain the current counters; the server
// wiring closes over the *hub.Hub and its byte/drop counters.
func New(cfg Config, collect func() Snapshot) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(generateClientID())

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	if cfg.TLS.Enabled {
		tlsCfg, err := loadTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("loading TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsCfg)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Println("telemetry: connected to MQTT broker")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("telemetry: MQTT connection lost: %v", err)
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		log.Println("telemetry: reconnecting to MQTT broker...")
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connecting to MQTT broker: %w", token.Error())
	}
	log.Printf("telemetry: connected to broker %s", cfg.Broker)

	return &Publisher{client: client, cfg: cfg, collect: collect}, nil
}

// Run blocks, publishing a Snapshot on every interval tick, until stop is
// closed.
func (p *Publisher) Run(stop <-chan struct{}) {
	interval := p.cfg.PublishInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.publishOnce()
		}
	}
}

func (p *Publisher) publishOnce() {
	snap := p.collect()
	payload := Payload{
		Timestamp: time.Now().Unix(),
		Metrics: map[string]float64{
			"active_clients":  snap.ActiveClients,
			"bytes_streamed":  snap.BytesStreamed,
			"buffers_dropped": snap.BuffersDropped,
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("telemetry: marshal failed: %v", err)
		return
	}
	token := p.client.Publish(p.cfg.Topic, 0, false, data)
	token.Wait()
	if err := token.Error(); err != nil {
		log.Printf("telemetry: publish failed: %v", err)
	}
}

// Disconnect closes the MQTT connection.
func (p *Publisher) Disconnect() {
	p.client.Disconnect(250)
}
