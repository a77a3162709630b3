package protocol

import (
	"bytes"
	"testing"

	"github.com/cwsl/rtltcpd/internal/tuner"
)

// TestGreetingExactness: for tuner=R820T with 29 gain entries, the first 12
// bytes must be exactly 52 54 4C 30 00 00 00 05 00 00 00 1D.
func TestGreetingExactness(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteGreeting(&buf, tuner.R820T, 29); err != nil {
		t.Fatalf("WriteGreeting: %v", err)
	}
	want := []byte{0x52, 0x54, 0x4C, 0x30, 0x00, 0x00, 0x00, 0x05, 0x00, 0x00, 0x00, 0x1D}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("greeting = % X, want % X", buf.Bytes(), want)
	}
}

// TestDecodeFrameSetFrequency: 01 05 F5 E1 00 decodes to CmdSetFrequency
// with parameter 100_000_000.
func TestDecodeFrameSetFrequency(t *testing.T) {
	raw := []byte{0x01, 0x05, 0xF5, 0xE1, 0x00}
	f, err := DecodeFrame(raw)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if f.Command != CmdSetFrequency {
		t.Errorf("command = %v, want SetFrequency", f.Command)
	}
	if f.Parameter != 100_000_000 {
		t.Errorf("parameter = %d, want 100000000", f.Parameter)
	}
}

func TestDecodeFrameWrongLength(t *testing.T) {
	if _, err := DecodeFrame([]byte{0x01, 0x00}); err == nil {
		t.Fatal("expected error for short frame")
	}
}

func TestUnknownCommandString(t *testing.T) {
	s := Command(0xFF).String()
	if s == "" {
		t.Fatal("unknown command should still stringify")
	}
}
