package metrics

import "testing"

func TestNewRegistersWithoutPanicking(t *testing.T) {
	m := New()
	m.ActiveClients.Set(1)
	m.ClientsTotal.Inc()
	m.BytesStreamed.Add(1024)
	m.BuffersDropped.Inc()
	m.CommandsTotal.WithLabelValues("SetFrequency").Inc()
	m.GreetingsSent.Inc()
}
