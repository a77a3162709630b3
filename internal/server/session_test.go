package server

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/cwsl/rtltcpd/internal/driver"
	"github.com/cwsl/rtltcpd/internal/hub"
	"github.com/cwsl/rtltcpd/internal/protocol"
	"github.com/cwsl/rtltcpd/internal/tuner"
)

// TestSessionGreetingExactness checks the first 12 bytes on the wire for an
// R820T device with a 29-entry gain table, over a net.Pipe so the real
// session runs without a listening socket.
func TestSessionGreetingExactness(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	h := hub.New(4, nil)
	fc := newFakeController()
	sess := newSession(serverConn, fc, h, tuner.R820T, 29, Callbacks{})

	go sess.serve()

	greeting := make([]byte, protocol.GreetingSize)
	if _, err := readFullTest(clientConn, greeting); err != nil {
		t.Fatalf("reading greeting: %v", err)
	}
	want := []byte{0x52, 0x54, 0x4C, 0x30, 0x00, 0x00, 0x00, 0x05, 0x00, 0x00, 0x00, 0x1D}
	for i := range want {
		if greeting[i] != want[i] {
			t.Fatalf("greeting = % X, want % X", greeting, want)
		}
	}
}

// TestSessionDispatchesCommandOverWire drives a set-frequency frame through
// the RX loop and asserts the controller saw the translated value.
func TestSessionDispatchesCommandOverWire(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	h := hub.New(4, nil)
	fc := newFakeController()
	sess := newSession(serverConn, fc, h, tuner.R820T, 29, Callbacks{})

	done := make(chan struct{})
	go func() {
		sess.serve()
		close(done)
	}()

	greeting := make([]byte, protocol.GreetingSize)
	readFullTest(clientConn, greeting)

	frame := make([]byte, protocol.CommandSize)
	frame[0] = byte(protocol.CmdSetFrequency)
	binary.BigEndian.PutUint32(frame[1:], 100_000_000)
	if _, err := clientConn.Write(frame); err != nil {
		t.Fatalf("writing command frame: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for fc.calls["SetCenterFrequency"] == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for dispatch")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if fc.lastFreq != 100_000_000 {
		t.Errorf("frequency = %d, want 100000000", fc.lastFreq)
	}

	clientConn.Close()
	<-done
}

// TestSessionStreamsBuffersInOrder publishes numbered buffers through the
// hub and asserts the client receives them back to back, whole and in
// production order, immediately after the greeting.
func TestSessionStreamsBuffersInOrder(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	h := hub.New(64, nil)
	fc := newFakeController()
	sess := newSession(serverConn, fc, h, tuner.R820T, 29, Callbacks{})

	done := make(chan struct{})
	go func() {
		sess.serve()
		close(done)
	}()

	greeting := make([]byte, protocol.GreetingSize)
	readFullTest(clientConn, greeting)

	// Wait for hub registration before publishing, otherwise the buffers
	// go to an empty hub and are lost.
	deadline := time.After(2 * time.Second)
	for h.Count() != 1 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for registration")
		case <-time.After(time.Millisecond):
		}
	}

	const numBuffers = 8
	const bufLen = 64
	go func() {
		for i := 0; i < numBuffers; i++ {
			buf := make([]byte, bufLen)
			for j := range buf {
				buf[j] = byte(i)
			}
			h.Publish(driver.SampleBuffer(buf))
		}
	}()

	stream := make([]byte, numBuffers*bufLen)
	if _, err := readFullTest(clientConn, stream); err != nil {
		t.Fatalf("reading sample stream: %v", err)
	}
	for i := 0; i < numBuffers; i++ {
		for j := 0; j < bufLen; j++ {
			if stream[i*bufLen+j] != byte(i) {
				t.Fatalf("byte %d of buffer %d = %d, want %d", j, i, stream[i*bufLen+j], i)
			}
		}
	}

	clientConn.Close()
	<-done
}

// TestSessionUnregistersOnDisconnect checks that a disconnect shrinks the
// hub's registered set back to zero.
func TestSessionUnregistersOnDisconnect(t *testing.T) {
	clientConn, serverConn := net.Pipe()

	h := hub.New(4, nil)
	fc := newFakeController()
	sess := newSession(serverConn, fc, h, tuner.R820T, 29, Callbacks{})

	done := make(chan struct{})
	go func() {
		sess.serve()
		close(done)
	}()

	greeting := make([]byte, protocol.GreetingSize)
	readFullTest(clientConn, greeting)

	deadline := time.After(2 * time.Second)
	for h.Count() != 1 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for registration")
		case <-time.After(10 * time.Millisecond):
		}
	}

	clientConn.Close()
	<-done

	if h.Count() != 0 {
		t.Fatalf("hub count after disconnect = %d, want 0", h.Count())
	}
}

func readFullTest(r net.Conn, buf []byte) (int, error) {
	read := 0
	for read < len(buf) {
		n, err := r.Read(buf[read:])
		read += n
		if err != nil {
			return read, err
		}
	}
	return read, nil
}
