// Package protocol implements the rtl_tcp wire format: the 12-byte greeting
// and the 5-byte command frames. It is deliberately bug-compatible with the
// reference rtl_tcp server so existing client software interoperates
// unchanged.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cwsl/rtltcpd/internal/tuner"
)

// Magic is the 4-byte ASCII greeting prefix.
var Magic = [4]byte{'R', 'T', 'L', '0'}

// GreetingSize is the fixed length of the greeting in bytes.
const GreetingSize = 12

// CommandSize is the fixed length of a command frame in bytes.
const CommandSize = 5

// Command identifies the action encoded in a command frame.
type Command uint8

const (
	CmdSetFrequency      Command = 0x01
	CmdSetSampleRate     Command = 0x02
	CmdSetGainMode       Command = 0x03
	CmdSetGain           Command = 0x04
	CmdSetFreqCorrection Command = 0x05
	CmdSetIFGain         Command = 0x06
	CmdSetTestMode       Command = 0x07
	CmdSetRTLAGC         Command = 0x08
	CmdSetDirectSampling Command = 0x09
	CmdSetOffsetTuning   Command = 0x0A
	CmdSetCrystalFreq    Command = 0x0B
	CmdSetGainByIndex    Command = 0x0D
	CmdSetBiasTee        Command = 0x0E
)

func (c Command) String() string {
	switch c {
	case CmdSetFrequency:
		return "SetFrequency"
	case CmdSetSampleRate:
		return "SetSampleRate"
	case CmdSetGainMode:
		return "SetGainMode"
	case CmdSetGain:
		return "SetGain"
	case CmdSetFreqCorrection:
		return "SetFreqCorrection"
	case CmdSetIFGain:
		return "SetIFGain"
	case CmdSetTestMode:
		return "SetTestMode"
	case CmdSetRTLAGC:
		return "SetRTLAGC"
	case CmdSetDirectSampling:
		return "SetDirectSampling"
	case CmdSetOffsetTuning:
		return "SetOffsetTuning"
	case CmdSetCrystalFreq:
		return "SetCrystalFreq"
	case CmdSetGainByIndex:
		return "SetGainByIndex"
	case CmdSetBiasTee:
		return "SetBiasTee"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", uint8(c))
	}
}

// Frame is a decoded 5-byte command frame.
type Frame struct {
	Command   Command
	Parameter uint32
}

// DecodeFrame parses exactly CommandSize bytes into a Frame. Callers are
// responsible for accumulating whole frames from a stream before calling
// this.
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) != CommandSize {
		return Frame{}, fmt.Errorf("protocol: command frame must be %d bytes, got %d", CommandSize, len(b))
	}
	return Frame{
		Command:   Command(b[0]),
		Parameter: binary.BigEndian.Uint32(b[1:5]),
	}, nil
}

// BuildGreeting encodes the 12-byte greeting for the given tuner and gain
// count.
func BuildGreeting(t tuner.Descriptor, gainCount int) [GreetingSize]byte {
	var out [GreetingSize]byte
	copy(out[0:4], Magic[:])
	binary.BigEndian.PutUint32(out[4:8], uint32(t))
	binary.BigEndian.PutUint32(out[8:12], uint32(gainCount))
	return out
}

// WriteGreeting writes the greeting to w in a single call. Clients expect
// exactly 12 bytes before the first sample byte.
func WriteGreeting(w io.Writer, t tuner.Descriptor, gainCount int) error {
	g := BuildGreeting(t, gainCount)
	_, err := w.Write(g[:])
	return err
}
