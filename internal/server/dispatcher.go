package server

import (
	"log"

	"github.com/cwsl/rtltcpd/internal/driver"
	"github.com/cwsl/rtltcpd/internal/protocol"
)

// radioController is the subset of *radio.Controller the dispatcher needs,
// defined here so the server package doesn't import internal/radio and a
// test double can stand in for it.
type radioController interface {
	SetCenterFrequency(hz uint64) error
	SetSampleRate(hz uint32) error
	SetGainMode(mode driver.GainMode) error
	SetManualGainTenthsDB(requested int) error
	SetGainByIndex(index int) error
	SetFreqCorrection(ppm int32) error
	SetIFGain(stage int, tenthsDB int16) error
	SetRTLAGC(on bool) error
	SetDirectSampling(mode driver.DirectSamplingMode) error
	SetOffsetTuning(on bool) error
	SetBiasTee(on bool) error
}

// dispatch translates one decoded command frame into a single radio
// controller mutation. Unknown codes are silently ignored. Failures to
// apply are logged but never surfaced to the client; the connection
// remains open regardless of the outcome.
func dispatch(rc radioController, f protocol.Frame) {
	var err error

	switch f.Command {
	case protocol.CmdSetFrequency:
		err = rc.SetCenterFrequency(uint64(f.Parameter))
	case protocol.CmdSetSampleRate:
		err = rc.SetSampleRate(f.Parameter)
	case protocol.CmdSetGainMode:
		mode := driver.GainAutomatic
		if f.Parameter != 0 {
			mode = driver.GainManual
		}
		err = rc.SetGainMode(mode)
	case protocol.CmdSetGain:
		err = rc.SetManualGainTenthsDB(int(int32(f.Parameter)))
	case protocol.CmdSetFreqCorrection:
		err = rc.SetFreqCorrection(int32(f.Parameter))
	case protocol.CmdSetIFGain:
		stage := int(f.Parameter >> 16)
		gain := int16(f.Parameter & 0xFFFF)
		err = rc.SetIFGain(stage, gain)
	case protocol.CmdSetTestMode:
		log.Printf("server: test mode command received (param=%d), no-op", f.Parameter)
	case protocol.CmdSetRTLAGC:
		err = rc.SetRTLAGC(f.Parameter != 0)
	case protocol.CmdSetDirectSampling:
		err = rc.SetDirectSampling(driver.DirectSamplingMode(f.Parameter))
	case protocol.CmdSetOffsetTuning:
		err = rc.SetOffsetTuning(f.Parameter != 0)
	case protocol.CmdSetCrystalFreq:
		log.Printf("server: set crystal frequencies command received (param=%d), no-op", f.Parameter)
	case protocol.CmdSetGainByIndex:
		err = rc.SetGainByIndex(int(f.Parameter))
	case protocol.CmdSetBiasTee:
		err = rc.SetBiasTee(f.Parameter != 0)
	default:
		// Bug-compatible with the reference server: unrecognized codes are
		// silently dropped.
		return
	}

	if err != nil {
		log.Printf("server: command %s(%d) failed: %v", f.Command, f.Parameter, err)
	}
}
