package telemetry

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestGenerateClientIDIsUnique(t *testing.T) {
	a := generateClientID()
	b := generateClientID()
	if !strings.HasPrefix(a, "rtltcpd_") {
		t.Errorf("client id %q missing prefix", a)
	}
	if a == b {
		t.Error("consecutive client IDs collided")
	}
}

func TestLoadTLSConfigDisabled(t *testing.T) {
	cfg, err := loadTLSConfig(TLSConfig{})
	if err != nil {
		t.Fatalf("loadTLSConfig: %v", err)
	}
	if cfg != nil {
		t.Fatal("expected nil tls config when disabled")
	}
}

func TestLoadTLSConfigMissingCA(t *testing.T) {
	_, err := loadTLSConfig(TLSConfig{Enabled: true, CACert: "/nonexistent/ca.pem"})
	if err == nil {
		t.Fatal("expected error for missing CA file")
	}
}

func TestPayloadShape(t *testing.T) {
	p := Payload{
		Timestamp: 1700000000,
		Metrics: map[string]float64{
			"active_clients":  2,
			"buffers_dropped": 7,
		},
	}
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	var back Payload
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.Timestamp != p.Timestamp || back.Metrics["buffers_dropped"] != 7 {
		t.Fatalf("round trip mismatch: %+v", back)
	}
}
