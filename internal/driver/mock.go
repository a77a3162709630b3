package driver

import (
	"sync"
	"time"

	"github.com/cwsl/rtltcpd/internal/tuner"
)

// MockConfig configures a Mock driver instance.
type MockConfig struct {
	// Tuner is the descriptor the mock reports for every opened device.
	Tuner tuner.Descriptor
	// Serials maps device index to a serial string, for IndexBySerial.
	Serials []string
	// BufferSize is the length in bytes of each delivered sample buffer.
	// Defaults to 16 KiB if zero.
	BufferSize int
	// BufferInterval paces ReadUntilCancelled; defaults to 10ms if zero.
	BufferInterval time.Duration
	// Fill, if set, is called to populate each buffer before delivery.
	// Used by tests that need a deterministic or counting pattern.
	Fill func(buf []byte, seq uint64)
}

// Mock is an in-memory Driver implementation standing in for a native
// vendor library. Behavior is injected through MockConfig funcs rather than
// a full fake device tree, and every setter call is recorded so tests can
// assert on the exact translated value.
type Mock struct {
	cfg MockConfig

	mu         sync.Mutex
	opened     bool
	params     driverParams
	cancelled  chan struct{}
	callCounts map[string]int
}

type driverParams struct {
	centerFreq   uint64
	sampleRate   uint32
	gainMode     GainMode
	gainIndex    int
	freqCorr     int32
	rtlAGC       bool
	direct       DirectSamplingMode
	offsetTuning bool
	biasTee      bool
	ifGain       map[int]int16
	bandwidth    uint32
}

// NewMock creates a Mock driver with a single simulated device.
func NewMock(cfg MockConfig) *Mock {
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 16 * 1024
	}
	if cfg.BufferInterval == 0 {
		cfg.BufferInterval = 10 * time.Millisecond
	}
	return &Mock{
		cfg:        cfg,
		callCounts: make(map[string]int),
		params: driverParams{
			ifGain: make(map[int]int16),
		},
	}
}

// CallCount returns how many times the named setter has been invoked.
// Setter names match the Driver interface method names.
func (m *Mock) CallCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCounts[name]
}

// Params returns a copy of the current simulated device parameters.
func (m *Mock) Params() Params {
	m.mu.Lock()
	defer m.mu.Unlock()
	ifCopy := make(map[int]int16, len(m.params.ifGain))
	for k, v := range m.params.ifGain {
		ifCopy[k] = v
	}
	return Params{
		CenterFrequencyHz: m.params.centerFreq,
		SampleRateHz:      m.params.sampleRate,
		GainMode:          m.params.gainMode,
		ManualGainIndex:   m.params.gainIndex,
		FreqCorrectionPPM: m.params.freqCorr,
		RTLAGC:            m.params.rtlAGC,
		DirectSampling:    m.params.direct,
		OffsetTuning:      m.params.offsetTuning,
		BiasTee:           m.params.biasTee,
		IFGainTenthsDB:    ifCopy,
		TunerBandwidthHz:  m.params.bandwidth,
	}
}

func (m *Mock) Enumerate() (int, error) {
	if len(m.cfg.Serials) > 0 {
		return len(m.cfg.Serials), nil
	}
	return 1, nil
}

func (m *Mock) NameOf(index int) (string, error) {
	return "Mock SDR", nil
}

func (m *Mock) IndexBySerial(serial string) (int, error) {
	for i, s := range m.cfg.Serials {
		if s == serial {
			return i, nil
		}
	}
	return 0, ErrSerialNotFound
}

func (m *Mock) Open(index int) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = true
	m.cancelled = make(chan struct{})
	return index, nil
}

func (m *Mock) Close(h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = false
	return nil
}

func (m *Mock) TunerType(h Handle) (tuner.Descriptor, error) {
	return m.cfg.Tuner, nil
}

func (m *Mock) SupportedGains(h Handle) ([]int, error) {
	return tuner.GainTable(m.cfg.Tuner), nil
}

func (m *Mock) count(name string) {
	m.callCounts[name]++
}

func (m *Mock) SetCenterFrequency(h Handle, hz uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("SetCenterFrequency")
	if m.params.centerFreq == hz {
		return AlreadySet
	}
	m.params.centerFreq = hz
	return nil
}

func (m *Mock) SetSampleRate(h Handle, hz uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("SetSampleRate")
	if m.params.sampleRate == hz {
		return AlreadySet
	}
	m.params.sampleRate = hz
	return nil
}

func (m *Mock) SetGainMode(h Handle, mode GainMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("SetGainMode")
	if m.params.gainMode == mode {
		return AlreadySet
	}
	m.params.gainMode = mode
	return nil
}

func (m *Mock) SetGainByIndex(h Handle, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("SetGainByIndex")
	table := tuner.GainTable(m.cfg.Tuner)
	if index < 0 || index >= len(table) {
		return ErrInvalidArgument
	}
	if m.params.gainIndex == index {
		return AlreadySet
	}
	m.params.gainIndex = index
	return nil
}

func (m *Mock) SetFreqCorrection(h Handle, ppm int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("SetFreqCorrection")
	if m.params.freqCorr == ppm {
		return AlreadySet
	}
	m.params.freqCorr = ppm
	return nil
}

func (m *Mock) SetIFGain(h Handle, stage int, tenthsDB int16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("SetIFGain")
	if cur, ok := m.params.ifGain[stage]; ok && cur == tenthsDB {
		return AlreadySet
	}
	m.params.ifGain[stage] = tenthsDB
	return nil
}

func (m *Mock) SetRTLAGC(h Handle, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("SetRTLAGC")
	if m.params.rtlAGC == on {
		return AlreadySet
	}
	m.params.rtlAGC = on
	return nil
}

func (m *Mock) SetDirectSampling(h Handle, mode DirectSamplingMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("SetDirectSampling")
	if m.params.direct == mode {
		return AlreadySet
	}
	m.params.direct = mode
	return nil
}

func (m *Mock) SetOffsetTuning(h Handle, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("SetOffsetTuning")
	if m.params.offsetTuning == on {
		return AlreadySet
	}
	m.params.offsetTuning = on
	return nil
}

func (m *Mock) SetBiasTee(h Handle, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("SetBiasTee")
	if m.params.biasTee == on {
		return AlreadySet
	}
	m.params.biasTee = on
	return nil
}

func (m *Mock) SetTunerBandwidth(h Handle, hz uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("SetTunerBandwidth")
	if m.params.bandwidth == hz {
		return AlreadySet
	}
	m.params.bandwidth = hz
	return nil
}

func (m *Mock) ResetBuffer(h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count("ResetBuffer")
	return nil
}

// ReadUntilCancelled delivers buffers at cfg.BufferInterval until Cancel is
// called. Each buffer is filled by cfg.Fill if provided, else left zeroed.
func (m *Mock) ReadUntilCancelled(h Handle, sink Sink) error {
	m.mu.Lock()
	cancelled := m.cancelled
	m.mu.Unlock()

	ticker := time.NewTicker(m.cfg.BufferInterval)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-cancelled:
			return nil
		case <-ticker.C:
			buf := make([]byte, m.cfg.BufferSize)
			if m.cfg.Fill != nil {
				m.cfg.Fill(buf, seq)
			}
			seq++
			sink(SampleBuffer(buf))
		}
	}
}

func (m *Mock) Cancel(h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelled != nil {
		select {
		case <-m.cancelled:
			// already closed
		default:
			close(m.cancelled)
		}
	}
	return nil
}
