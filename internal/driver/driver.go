// Package driver defines the thin, typed wrapper over a vendor SDR library
// that the rest of the server is built against. The concrete native driver
// (librtlsdr, the SDRplay API) is an external collaborator; this package
// ships the interface and an in-memory Mock implementation for tests and
// hardware-less operation.
package driver

import (
	"errors"

	"github.com/cwsl/rtltcpd/internal/tuner"
)

// Fatal startup error kinds. The process exits with a distinct non-zero
// code for each and never starts accepting clients.
var (
	ErrNoDeviceFound        = errors.New("driver: no device found")
	ErrSerialNotFound       = errors.New("driver: specified serial not found")
	ErrDeviceOpenFailed     = errors.New("driver: device open failed")
	ErrNativeLibraryMissing = errors.New("driver: native library missing")
	ErrArchMismatch         = errors.New("driver: native library built for wrong architecture")
)

// ErrInvalidArgument is returned by a setter when the requested value is
// out of range (e.g. a gain index with no matching table entry).
var ErrInvalidArgument = errors.New("driver: invalid argument")

// AlreadySet is the sentinel an adapter returns when the driver reports
// "already at this value". The radio controller normalizes it to success;
// it is exported so a real adapter can return it too.
var AlreadySet = errors.New("driver: already at requested value")

// Handle identifies an opened device. Adapters are free to make this a
// pointer, an index, or an opaque cgo handle; the rest of the system treats
// it as opaque.
type Handle interface{}

// Params is the full set of mutable radio parameters.
type Params struct {
	CenterFrequencyHz uint64
	SampleRateHz      uint32
	GainMode          GainMode
	ManualGainIndex   int
	FreqCorrectionPPM int32
	RTLAGC            bool
	DirectSampling    DirectSamplingMode
	OffsetTuning      bool
	BiasTee           bool
	IFGainTenthsDB    map[int]int16 // stage index -> gain
	TunerBandwidthHz  uint32
}

// GainMode selects automatic or manual tuner gain control.
type GainMode int

const (
	GainAutomatic GainMode = iota
	GainManual
)

// DirectSamplingMode selects whether the tuner is bypassed entirely.
type DirectSamplingMode int

const (
	DirectSamplingOff DirectSamplingMode = iota
	DirectSamplingI
	DirectSamplingQ
)

// SampleBuffer is an immutable, shared-by-reference chunk of interleaved
// I/Q bytes delivered by the driver. Length is driver-chosen; the mock
// driver defaults to 16 KiB.
type SampleBuffer []byte

// Sink receives sample buffers delivered by Driver.ReadUntilCancelled.
// Ownership of buf transfers to the sink: the driver must not reuse or
// mutate its backing storage after delivery, since consumers hold the
// buffer by reference until the slowest of them has finished transmitting
// it. Adapters over native libraries that recycle their callback buffer
// must copy into a fresh allocation before delivering.
type Sink func(buf SampleBuffer)

// Driver is the adapter surface the radio controller drives.
// Implementations must be safe for this access pattern: getters/setters are
// called only from the controller's serialized control path, and
// ReadUntilCancelled/Cancel are called from exactly one producer goroutine
// plus whichever goroutine triggers shutdown.
type Driver interface {
	// Enumerate returns the number of attached devices.
	Enumerate() (int, error)
	// NameOf returns a human-readable name for the device at index.
	NameOf(index int) (string, error)
	// IndexBySerial resolves a serial number to a device index, or returns
	// ErrSerialNotFound.
	IndexBySerial(serial string) (int, error)

	Open(index int) (Handle, error)
	Close(h Handle) error

	TunerType(h Handle) (tuner.Descriptor, error)
	SupportedGains(h Handle) ([]int, error)

	SetCenterFrequency(h Handle, hz uint64) error
	SetSampleRate(h Handle, hz uint32) error
	SetGainMode(h Handle, mode GainMode) error
	SetGainByIndex(h Handle, index int) error
	SetFreqCorrection(h Handle, ppm int32) error
	SetIFGain(h Handle, stage int, tenthsDB int16) error
	SetRTLAGC(h Handle, on bool) error
	SetDirectSampling(h Handle, mode DirectSamplingMode) error
	SetOffsetTuning(h Handle, on bool) error
	SetBiasTee(h Handle, on bool) error
	SetTunerBandwidth(h Handle, hz uint32) error

	ResetBuffer(h Handle) error
	// ReadUntilCancelled blocks, delivering sample buffers to sink, until
	// Cancel(h) is called from another goroutine.
	ReadUntilCancelled(h Handle, sink Sink) error
	Cancel(h Handle) error
}

// NormalizeAlreadySet maps the AlreadySet sentinel to success: a setter
// that finds the device already at the requested value is a successful,
// idempotent application. Applied uniformly to every setter since the same
// sentinel pattern shows up across vendor adapters.
func NormalizeAlreadySet(err error) error {
	if errors.Is(err, AlreadySet) {
		return nil
	}
	return err
}

func (m GainMode) String() string {
	if m == GainManual {
		return "manual"
	}
	return "automatic"
}

func (m DirectSamplingMode) String() string {
	switch m {
	case DirectSamplingI:
		return "i-branch"
	case DirectSamplingQ:
		return "q-branch"
	default:
		return "off"
	}
}
