package server

import (
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cwsl/rtltcpd/internal/hub"
	"github.com/cwsl/rtltcpd/internal/protocol"
	"github.com/cwsl/rtltcpd/internal/tuner"
)

// session runs the per-connection state machine: greeting-pending ->
// running -> draining -> closed. Each state's actions happen in serve, in
// order; there is no separate state field because the states are just
// phases of one synchronous function plus its two spawned loops.
type session struct {
	id   string
	conn net.Conn
	rc   radioController
	h    *hub.Hub
	cb   Callbacks

	tunerType tuner.Descriptor
	gainCount int

	connectedAt time.Time

	mu  sync.Mutex
	sub *hub.Subscriber // nil until registered with the hub
}

// newSession constructs a session around an already-accepted connection.
func newSession(conn net.Conn, rc radioController, h *hub.Hub, tunerType tuner.Descriptor, gainCount int, cb Callbacks) *session {
	return &session{
		id:          uuid.New().String(),
		conn:        conn,
		rc:          rc,
		h:           h,
		cb:          cb,
		tunerType:   tunerType,
		gainCount:   gainCount,
		connectedAt: time.Now(),
	}
}

// status snapshots the session for the admin surface. Drop count is zero
// until the session has registered with the hub.
func (s *session) status() SessionStatus {
	st := SessionStatus{
		ID:          s.id,
		RemoteAddr:  s.conn.RemoteAddr().String(),
		ConnectedAt: s.connectedAt,
	}
	s.mu.Lock()
	if s.sub != nil {
		st.Drops = s.sub.Drops()
	}
	s.mu.Unlock()
	return st
}

// serve runs the full lifecycle of one client connection and returns once
// the connection has fully drained and closed. It is meant to be run in its
// own goroutine by the Listener's accept loop.
func (s *session) serve() {
	defer s.conn.Close()

	// greeting-pending: write the 12-byte greeting before any other
	// traffic. A write error here skips straight to closed: there is
	// nothing registered yet to drain.
	if err := protocol.WriteGreeting(s.conn, s.tunerType, s.gainCount); err != nil {
		log.Printf("server: %s: greeting write failed: %v", s.conn.RemoteAddr(), err)
		return
	}
	if s.cb.OnGreeting != nil {
		s.cb.OnGreeting()
	}

	// running: register with the hub, then run RX and TX concurrently.
	sub, unregister := s.h.Register()
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	remote := s.conn.RemoteAddr()
	log.Printf("server: %s: connected (session %s)", remote, s.id)

	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		s.txLoop(sub, stop)
		close(done)
	}()

	s.rxLoop() // blocks in the current goroutine until RX fails or EOFs

	// draining: unregister exactly once, before the socket is closed, so no
	// further buffers are queued for this session; then stop the TX loop
	// (it may be blocked waiting on the queue, not on the socket, so closing
	// the socket alone wouldn't unblock it) and close the socket to unblock
	// any in-flight write.
	unregister()
	close(stop)
	s.conn.Close()
	<-done

	log.Printf("server: %s: disconnected (session %s)", remote, s.id)
}

// rxLoop reads exact 5-byte command frames and dispatches each one. Partial
// reads are accumulated across Read calls. EOF with no bytes of a frame
// accumulated is clean; any other EOF or error ends the loop and drives the
// session into draining.
func (s *session) rxLoop() {
	var buf [protocol.CommandSize]byte
	for {
		if err := readFull(s.conn, buf[:]); err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("server: %s: rx error: %v", s.conn.RemoteAddr(), err)
			}
			return
		}
		f, err := protocol.DecodeFrame(buf[:])
		if err != nil {
			// Can't happen given the fixed-size read above, but fail closed.
			log.Printf("server: %s: frame decode error: %v", s.conn.RemoteAddr(), err)
			return
		}
		dispatch(s.rc, f)
		if s.cb.OnCommand != nil {
			s.cb.OnCommand(f.Command.String())
		}
	}
}

// readFull accumulates exactly len(buf) bytes, treating an EOF that arrives
// before any byte of the frame as clean and any EOF mid-frame as a protocol
// error.
func readFull(r io.Reader, buf []byte) error {
	read := 0
	for read < len(buf) {
		n, err := r.Read(buf[read:])
		read += n
		if err != nil {
			if errors.Is(err, io.EOF) && read == 0 {
				return io.EOF
			}
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
	return nil
}

// txLoop dequeues sample buffers from the hub subscription and writes each
// one in full, retrying on short writes, until stop is closed or the socket
// errors. Sample bytes go out verbatim with no framing.
func (s *session) txLoop(sub *hub.Subscriber, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case buf := <-sub.Queue():
			if err := writeFull(s.conn, buf); err != nil {
				log.Printf("server: %s: tx error: %v", s.conn.RemoteAddr(), err)
				return
			}
			if s.cb.OnBytes != nil {
				s.cb.OnBytes(len(buf))
			}
		}
	}
}

// writeFull retries short writes until buf is fully written or the
// underlying Write returns an error.
func writeFull(w io.Writer, buf []byte) error {
	written := 0
	for written < len(buf) {
		n, err := w.Write(buf[written:])
		written += n
		if err != nil {
			return err
		}
	}
	return nil
}
