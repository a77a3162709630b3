// Package server implements the rtl_tcp TCP listener, the per-connection
// client session state machine, and the command dispatcher that routes
// decoded frames into the radio controller.
package server

import (
	"context"
	"errors"
	"log"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cwsl/rtltcpd/internal/hub"
	"github.com/cwsl/rtltcpd/internal/tuner"
)

// DefaultPort is the rtl_tcp reference server's default listening port.
const DefaultPort = 1234

// DefaultDrainTimeout bounds how long Shutdown waits for in-flight client
// sessions to finish draining before returning anyway.
const DefaultDrainTimeout = 5 * time.Second

// Callbacks let the wiring layer observe connection lifecycle and traffic
// volume without this package depending on the metrics registry. Any field
// may be nil.
type Callbacks struct {
	OnConnect    func()
	OnGreeting   func()
	OnDisconnect func()
	OnBytes      func(n int)
	OnCommand    func(name string)
}

// SessionStatus is a point-in-time snapshot of one connected client, for
// the admin surface.
type SessionStatus struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time
	Drops       uint64
}

// Listener accepts rtl_tcp client connections and spawns a session per
// socket.
type Listener struct {
	rc   radioController
	h    *hub.Hub
	addr string
	cb   Callbacks

	tunerType tuner.Descriptor
	gainCount int

	ln       net.Listener
	wg       sync.WaitGroup
	mu       sync.Mutex
	sessions map[*session]struct{}
}

// Config bundles the Listener's dependencies.
type Config struct {
	Addr      string // e.g. ":1234"; empty defaults to DefaultPort on all interfaces
	RadioCtl  radioController
	Hub       *hub.Hub
	TunerType tuner.Descriptor
	GainCount int
	Callbacks Callbacks
}

// New creates a Listener from cfg without binding a socket yet.
func New(cfg Config) *Listener {
	addr := cfg.Addr
	if addr == "" {
		addr = defaultAddr()
	}
	return &Listener{
		rc:        cfg.RadioCtl,
		h:         cfg.Hub,
		addr:      addr,
		cb:        cfg.Callbacks,
		tunerType: cfg.TunerType,
		gainCount: cfg.GainCount,
		sessions:  make(map[*session]struct{}),
	}
}

func defaultAddr() string {
	return net.JoinHostPort("0.0.0.0", "1234")
}

// listenConfig sets SO_REUSEADDR on the listening socket so a restart
// doesn't fail while a prior socket lingers in TIME_WAIT.
var listenConfig = net.ListenConfig{
	Control: func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
				sockErr = err
			}
		})
		if err != nil {
			return err
		}
		return sockErr
	},
}

// ListenAndServe binds the listening socket and runs the accept loop until
// Shutdown is called. It blocks until the accept loop exits.
func (l *Listener) ListenAndServe() error {
	ln, err := listenConfig.Listen(context.Background(), "tcp", l.addr)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()

	log.Printf("server: listening on %s", l.addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				// Shutdown closed the listener; swallow.
				return nil
			}
			log.Printf("server: accept error: %v", err)
			continue
		}
		l.spawn(conn)
	}
}

func (l *Listener) spawn(conn net.Conn) {
	if l.cb.OnConnect != nil {
		l.cb.OnConnect()
	}
	sess := newSession(conn, l.rc, l.h, l.tunerType, l.gainCount, l.cb)

	l.mu.Lock()
	l.sessions[sess] = struct{}{}
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		sess.serve()
		l.mu.Lock()
		delete(l.sessions, sess)
		l.mu.Unlock()
		if l.cb.OnDisconnect != nil {
			l.cb.OnDisconnect()
		}
	}()
}

// Addr returns the bound listener address, or nil before ListenAndServe
// has bound the socket.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Sessions snapshots every currently connected client.
func (l *Listener) Sessions() []SessionStatus {
	l.mu.Lock()
	active := make([]*session, 0, len(l.sessions))
	for sess := range l.sessions {
		active = append(active, sess)
	}
	l.mu.Unlock()

	out := make([]SessionStatus, 0, len(active))
	for _, sess := range active {
		out = append(out, sess.status())
	}
	return out
}

// Shutdown stops accepting new connections, closes every active client
// socket to drive its session into draining, then waits (bounded by
// timeout) for all sessions to finish.
func (l *Listener) Shutdown(timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultDrainTimeout
	}

	l.mu.Lock()
	if l.ln != nil {
		l.ln.Close()
	}
	for sess := range l.sessions {
		sess.conn.Close()
	}
	l.mu.Unlock()

	joined := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(joined)
	}()

	select {
	case <-joined:
	case <-time.After(timeout):
		log.Printf("server: shutdown timed out after %s, proceeding without full drain", timeout)
	}
}
