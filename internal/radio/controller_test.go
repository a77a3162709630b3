package radio

import (
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cwsl/rtltcpd/internal/driver"
	"github.com/cwsl/rtltcpd/internal/tuner"
)

// capturePublisher collects published buffers, standing in for the hub.
type capturePublisher struct {
	mu   sync.Mutex
	bufs []driver.SampleBuffer
}

func (p *capturePublisher) Publish(buf driver.SampleBuffer) {
	p.mu.Lock()
	p.bufs = append(p.bufs, buf)
	p.mu.Unlock()
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.bufs)
}

func newTestController(t *testing.T, cfg driver.MockConfig) (*Controller, *driver.Mock, *capturePublisher) {
	t.Helper()
	if cfg.Tuner == tuner.Unknown {
		cfg.Tuner = tuner.R820T
	}
	if cfg.BufferInterval == 0 {
		cfg.BufferInterval = time.Millisecond
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 512
	}
	mock := driver.NewMock(cfg)
	pub := &capturePublisher{}
	return New(mock, pub, DefaultInitialParams), mock, pub
}

func TestStartAppliesInitialState(t *testing.T) {
	c, mock, _ := newTestController(t, driver.MockConfig{})
	if err := c.Start(""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	if c.TunerType() != tuner.R820T {
		t.Errorf("tuner = %v, want R820T", c.TunerType())
	}
	if got := len(c.SupportedGains()); got != 29 {
		t.Errorf("gain count = %d, want 29", got)
	}

	p := mock.Params()
	if p.CenterFrequencyHz != DefaultInitialParams.CenterFrequencyHz {
		t.Errorf("frequency = %d", p.CenterFrequencyHz)
	}
	if p.SampleRateHz != DefaultInitialParams.SampleRateHz {
		t.Errorf("sample rate = %d", p.SampleRateHz)
	}
	if p.GainMode != driver.GainAutomatic {
		t.Errorf("gain mode = %v, want automatic", p.GainMode)
	}
	if p.RTLAGC || p.BiasTee || p.DirectSampling != driver.DirectSamplingOff {
		t.Errorf("unexpected initial state: %+v", p)
	}
}

func TestStartBySerialNotFound(t *testing.T) {
	c, _, _ := newTestController(t, driver.MockConfig{Serials: []string{"00000001"}})
	err := c.Start("does-not-exist")
	if !errors.Is(err, driver.ErrSerialNotFound) {
		t.Fatalf("err = %v, want ErrSerialNotFound", err)
	}
}

func TestIdempotentParameterSet(t *testing.T) {
	c, mock, _ := newTestController(t, driver.MockConfig{})
	if err := c.Start(""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	if err := c.SetCenterFrequency(7_074_000); err != nil {
		t.Fatalf("first set: %v", err)
	}
	// The mock reports "already at this value" for the repeat; the
	// controller must normalize that to success.
	if err := c.SetCenterFrequency(7_074_000); err != nil {
		t.Fatalf("second set: %v", err)
	}
	if mock.CallCount("SetCenterFrequency") < 3 { // initial + two explicit
		t.Errorf("SetCenterFrequency calls = %d", mock.CallCount("SetCenterFrequency"))
	}
}

func TestOffsetTuningIgnoredOnR820T(t *testing.T) {
	c, mock, _ := newTestController(t, driver.MockConfig{Tuner: tuner.R820T})
	if err := c.Start(""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	if err := c.SetOffsetTuning(true); err != nil {
		t.Fatalf("SetOffsetTuning: %v", err)
	}
	if mock.CallCount("SetOffsetTuning") != 0 {
		t.Error("offset tuning request should not reach the driver on R820T")
	}
}

func TestOffsetTuningForwardedOnE4000(t *testing.T) {
	c, mock, _ := newTestController(t, driver.MockConfig{Tuner: tuner.E4000})
	if err := c.Start(""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	if err := c.SetOffsetTuning(true); err != nil {
		t.Fatalf("SetOffsetTuning: %v", err)
	}
	if mock.CallCount("SetOffsetTuning") != 1 {
		t.Errorf("SetOffsetTuning calls = %d, want 1", mock.CallCount("SetOffsetTuning"))
	}
	if !mock.Params().OffsetTuning {
		t.Error("offset tuning not recorded")
	}
}

func TestGainByIndexOutOfRange(t *testing.T) {
	c, _, _ := newTestController(t, driver.MockConfig{})
	if err := c.Start(""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	if err := c.SetGainByIndex(999); !errors.Is(err, driver.ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
	if err := c.SetGainByIndex(-1); !errors.Is(err, driver.ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
	if err := c.SetGainByIndex(7); err != nil {
		t.Fatalf("in-range index: %v", err)
	}
}

func TestManualGainSelectsNearestEntry(t *testing.T) {
	c, mock, _ := newTestController(t, driver.MockConfig{})
	if err := c.Start(""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	// 203 tenths dB sits between R820T entries 197 and 207; 207 is nearer.
	if err := c.SetManualGainTenthsDB(203); err != nil {
		t.Fatalf("SetManualGainTenthsDB: %v", err)
	}
	table := tuner.GainTable(tuner.R820T)
	if got := table[mock.Params().ManualGainIndex]; got != 207 {
		t.Errorf("selected gain = %d, want 207", got)
	}
}

func TestIFGainOnlyReachesE4000(t *testing.T) {
	c, mock, _ := newTestController(t, driver.MockConfig{Tuner: tuner.R820T})
	if err := c.Start(""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()
	if err := c.SetIFGain(1, 30); err != nil {
		t.Fatalf("SetIFGain: %v", err)
	}
	if mock.CallCount("SetIFGain") != 0 {
		t.Error("IF gain should not reach the driver on R820T")
	}

	c2, mock2, _ := newTestController(t, driver.MockConfig{Tuner: tuner.E4000})
	if err := c2.Start(""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c2.Stop()
	if err := c2.SetIFGain(1, 30); err != nil {
		t.Fatalf("SetIFGain: %v", err)
	}
	if mock2.CallCount("SetIFGain") != 1 {
		t.Errorf("SetIFGain calls = %d, want 1", mock2.CallCount("SetIFGain"))
	}
}

// TestProducerStreamOrdering runs the real producer against a counting mock
// and checks the concatenated stream is a strictly increasing sequence of
// 32-bit little-endian counters with no torn buffers.
func TestProducerStreamOrdering(t *testing.T) {
	var counter uint32
	c, _, pub := newTestController(t, driver.MockConfig{
		BufferSize: 64,
		Fill: func(buf []byte, seq uint64) {
			for i := 0; i+4 <= len(buf); i += 4 {
				binary.LittleEndian.PutUint32(buf[i:], counter)
				counter++
			}
		},
	})
	if err := c.Start(""); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for pub.count() < 10 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for buffers")
		case <-time.After(time.Millisecond):
		}
	}
	c.Stop()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	var last uint32
	first := true
	for _, buf := range pub.bufs {
		if len(buf)%4 != 0 {
			t.Fatalf("torn buffer of length %d", len(buf))
		}
		for i := 0; i+4 <= len(buf); i += 4 {
			v := binary.LittleEndian.Uint32(buf[i:])
			if !first && v != last+1 {
				t.Fatalf("sequence gap: %d after %d", v, last)
			}
			last = v
			first = false
		}
	}
}

func TestParamsReflectLastSuccessfulSet(t *testing.T) {
	c, _, _ := newTestController(t, driver.MockConfig{})
	if err := c.Start(""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	p := c.Params()
	if p.CenterFrequencyHz != DefaultInitialParams.CenterFrequencyHz {
		t.Errorf("initial frequency = %d", p.CenterFrequencyHz)
	}

	if err := c.SetCenterFrequency(14_074_000); err != nil {
		t.Fatal(err)
	}
	if err := c.SetFreqCorrection(-7); err != nil {
		t.Fatal(err)
	}
	if err := c.SetBiasTee(true); err != nil {
		t.Fatal(err)
	}

	p = c.Params()
	if p.CenterFrequencyHz != 14_074_000 {
		t.Errorf("frequency = %d", p.CenterFrequencyHz)
	}
	if p.FreqCorrectionPPM != -7 {
		t.Errorf("ppm = %d", p.FreqCorrectionPPM)
	}
	if !p.BiasTee {
		t.Error("bias tee not recorded")
	}

	// A rejected set must leave the recorded state untouched.
	if err := c.SetGainByIndex(999); err == nil {
		t.Fatal("expected out-of-range error")
	}
	if got := c.Params().ManualGainIndex; got != 0 {
		t.Errorf("gain index after rejected set = %d, want 0", got)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	c, _, _ := newTestController(t, driver.MockConfig{})
	if err := c.Start(""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
