// Package radio implements the radio controller: it owns the one opened
// device, serializes every parameter mutation behind a single mutex-guarded
// control path, and runs the producer goroutine that drains the driver and
// forwards buffers to the broadcast hub without ever blocking on it.
package radio

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cwsl/rtltcpd/internal/driver"
	"github.com/cwsl/rtltcpd/internal/tuner"
)

// Publisher is the Broadcast Hub's fan-out entry point, as seen by the
// controller. Defined here (rather than imported from internal/hub) so the
// two packages don't import each other.
type Publisher interface {
	Publish(buf driver.SampleBuffer)
}

// InitialParams describes the parameter state applied right after a device
// is opened.
type InitialParams struct {
	CenterFrequencyHz uint64
	SampleRateHz      uint32
}

// DefaultInitialParams matches common rtl_tcp defaults: 100 MHz, 2.048 Msps.
var DefaultInitialParams = InitialParams{
	CenterFrequencyHz: 100_000_000,
	SampleRateHz:      2_048_000,
}

// Controller owns one opened device and presents a uniform logical
// interface to the rest of the server irrespective of vendor.
type Controller struct {
	drv     driver.Driver
	hub     Publisher
	initial InitialParams

	mu     sync.Mutex // serializes all parameter mutations (the control path)
	handle driver.Handle
	tuner  tuner.Descriptor
	gains  []int
	opened bool
	params driver.Params // last successfully applied values

	wg         sync.WaitGroup
	producerMu sync.Mutex
	running    bool
}

// New creates a Controller around the given driver. hub receives every
// sample buffer the device produces once Start succeeds.
func New(drv driver.Driver, hub Publisher, initial InitialParams) *Controller {
	return &Controller{drv: drv, hub: hub, initial: initial}
}

// Start runs the initialization sequence: enumerate, select a device (by
// serial if given, else index 0), open it, query tuner type and supported
// gains, apply the initial parameter state, then spawn the producer
// goroutine.
func (c *Controller) Start(serial string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	count, err := c.drv.Enumerate()
	if err != nil {
		return fmt.Errorf("enumerating devices: %w", err)
	}
	if count == 0 {
		return driver.ErrNoDeviceFound
	}

	index := 0
	if serial != "" {
		index, err = c.drv.IndexBySerial(serial)
		if err != nil {
			return fmt.Errorf("selecting device by serial %q: %w", serial, err)
		}
	}

	handle, err := c.drv.Open(index)
	if err != nil {
		return fmt.Errorf("%w: %v", driver.ErrDeviceOpenFailed, err)
	}
	c.handle = handle
	c.opened = true

	td, err := c.drv.TunerType(handle)
	if err != nil {
		return fmt.Errorf("querying tuner type: %w", err)
	}
	c.tuner = td

	gains, err := c.drv.SupportedGains(handle)
	if err != nil {
		return fmt.Errorf("querying supported gains: %w", err)
	}
	c.gains = gains

	if err := driver.NormalizeAlreadySet(c.drv.SetCenterFrequency(handle, c.initial.CenterFrequencyHz)); err != nil {
		return fmt.Errorf("setting initial frequency: %w", err)
	}
	if err := driver.NormalizeAlreadySet(c.drv.SetSampleRate(handle, c.initial.SampleRateHz)); err != nil {
		return fmt.Errorf("setting initial sample rate: %w", err)
	}
	if err := driver.NormalizeAlreadySet(c.drv.SetGainMode(handle, driver.GainAutomatic)); err != nil {
		return fmt.Errorf("setting initial gain mode: %w", err)
	}
	if err := driver.NormalizeAlreadySet(c.drv.SetRTLAGC(handle, false)); err != nil {
		return fmt.Errorf("setting initial RTL AGC: %w", err)
	}
	if err := driver.NormalizeAlreadySet(c.drv.SetBiasTee(handle, false)); err != nil {
		return fmt.Errorf("setting initial bias-tee: %w", err)
	}
	if err := driver.NormalizeAlreadySet(c.drv.SetDirectSampling(handle, driver.DirectSamplingOff)); err != nil {
		return fmt.Errorf("setting initial direct sampling: %w", err)
	}

	c.params = driver.Params{
		CenterFrequencyHz: c.initial.CenterFrequencyHz,
		SampleRateHz:      c.initial.SampleRateHz,
		GainMode:          driver.GainAutomatic,
		IFGainTenthsDB:    make(map[int]int16),
	}

	c.producerMu.Lock()
	c.running = true
	c.producerMu.Unlock()

	c.wg.Add(1)
	go c.runProducer(handle)

	log.Printf("radio: started, tuner=%s gains=%d freq=%d rate=%d", td, len(gains), c.initial.CenterFrequencyHz, c.initial.SampleRateHz)
	return nil
}

// runProducer resets the driver's internal buffer then blocks in
// ReadUntilCancelled, forwarding every delivered buffer to the hub
// synchronously and without locking the device.
func (c *Controller) runProducer(handle driver.Handle) {
	defer c.wg.Done()

	if err := c.drv.ResetBuffer(handle); err != nil {
		log.Printf("radio: reset buffer failed: %v", err)
	}

	err := c.drv.ReadUntilCancelled(handle, func(buf driver.SampleBuffer) {
		c.hub.Publish(buf)
	})
	if err != nil {
		log.Printf("radio: producer exited with error: %v", err)
	}
}

// Stop cancels the producer, joins it, and closes the device handle. The
// join waits at most 5 seconds; past that the handle is closed regardless. It is idempotent.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.opened {
		return nil
	}

	c.producerMu.Lock()
	running := c.running
	c.running = false
	c.producerMu.Unlock()

	if running {
		if err := c.drv.Cancel(c.handle); err != nil {
			log.Printf("radio: cancel failed: %v", err)
		}
	}

	const producerJoinTimeout = 5 * time.Second
	joined := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(producerJoinTimeout):
		log.Printf("radio: producer did not exit within %s, closing device anyway", producerJoinTimeout)
	}

	if err := c.drv.Close(c.handle); err != nil {
		log.Printf("radio: close failed: %v", err)
	}
	c.opened = false
	return nil
}

// TunerType returns the tuner descriptor discovered at Start. Immutable for
// the lifetime of the open device.
func (c *Controller) TunerType() tuner.Descriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tuner
}

// SupportedGains returns the gain table queried at Start.
func (c *Controller) SupportedGains() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, len(c.gains))
	copy(out, c.gains)
	return out
}

// Params returns the last successfully applied parameter state.
func (c *Controller) Params() driver.Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.params
	ifCopy := make(map[int]int16, len(c.params.IFGainTenthsDB))
	for k, v := range c.params.IFGainTenthsDB {
		ifCopy[k] = v
	}
	p.IFGainTenthsDB = ifCopy
	return p
}

// The Set* methods below are the command dispatcher's only entry points
// into device state. Each locks the control mutex for the duration of the
// driver call, serializing observable parameter changes with respect to
// each other, but not with respect to sample delivery: a buffer may
// straddle a parameter change.

func (c *Controller) SetCenterFrequency(hz uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := driver.NormalizeAlreadySet(c.drv.SetCenterFrequency(c.handle, hz))
	if err == nil {
		c.params.CenterFrequencyHz = hz
	}
	return err
}

func (c *Controller) SetSampleRate(hz uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := driver.NormalizeAlreadySet(c.drv.SetSampleRate(c.handle, hz))
	if err == nil {
		c.params.SampleRateHz = hz
	}
	return err
}

func (c *Controller) SetGainMode(mode driver.GainMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := driver.NormalizeAlreadySet(c.drv.SetGainMode(c.handle, mode))
	if err == nil {
		c.params.GainMode = mode
	}
	return err
}

// SetManualGainTenthsDB implements command 0x04: the nearest supported
// table entry is selected and applied by index.
func (c *Controller) SetManualGainTenthsDB(requested int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := tuner.NearestGainIndex(c.tuner, requested)
	err := driver.NormalizeAlreadySet(c.drv.SetGainByIndex(c.handle, idx))
	if err == nil {
		c.params.ManualGainIndex = idx
	}
	return err
}

// SetGainByIndex implements command 0x0D. Out-of-range indices are
// rejected rather than clamped.
func (c *Controller) SetGainByIndex(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.gains) {
		return driver.ErrInvalidArgument
	}
	err := driver.NormalizeAlreadySet(c.drv.SetGainByIndex(c.handle, index))
	if err == nil {
		c.params.ManualGainIndex = index
	}
	return err
}

func (c *Controller) SetFreqCorrection(ppm int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := driver.NormalizeAlreadySet(c.drv.SetFreqCorrection(c.handle, ppm))
	if err == nil {
		c.params.FreqCorrectionPPM = ppm
	}
	return err
}

// SetIFGain implements command 0x06. Only forwarded to the driver on
// tuners that expose an IF gain stage.
func (c *Controller) SetIFGain(stage int, tenthsDB int16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !tuner.SupportsIFGainStage(c.tuner) {
		return nil
	}
	err := driver.NormalizeAlreadySet(c.drv.SetIFGain(c.handle, stage, tenthsDB))
	if err == nil {
		c.params.IFGainTenthsDB[stage] = tenthsDB
	}
	return err
}

func (c *Controller) SetRTLAGC(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := driver.NormalizeAlreadySet(c.drv.SetRTLAGC(c.handle, on))
	if err == nil {
		c.params.RTLAGC = on
	}
	return err
}

func (c *Controller) SetDirectSampling(mode driver.DirectSamplingMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := driver.NormalizeAlreadySet(c.drv.SetDirectSampling(c.handle, mode))
	if err == nil {
		c.params.DirectSampling = mode
	}
	return err
}

// SetOffsetTuning implements command 0x0A. On R820T/R828D tuners the
// request is accepted and silently reports success without reaching the
// driver.
func (c *Controller) SetOffsetTuning(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !tuner.SupportsOffsetTuning(c.tuner) {
		return nil
	}
	err := driver.NormalizeAlreadySet(c.drv.SetOffsetTuning(c.handle, on))
	if err == nil {
		c.params.OffsetTuning = on
	}
	return err
}

func (c *Controller) SetBiasTee(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := driver.NormalizeAlreadySet(c.drv.SetBiasTee(c.handle, on))
	if err == nil {
		c.params.BiasTee = on
	}
	return err
}

func (c *Controller) SetTunerBandwidth(hz uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := driver.NormalizeAlreadySet(c.drv.SetTunerBandwidth(c.handle, hz))
	if err == nil {
		c.params.TunerBandwidthHz = hz
	}
	return err
}
