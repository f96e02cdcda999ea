// Package tcp accepts client connections and bridges them to core sessions.
// Frames are newline-delimited text lines.
package tcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dykim-dev/talkline-server/internal/core"
)

// writeTimeout bounds a single line write so one stuck peer cannot pin a
// writer goroutine.
const writeTimeout = 5 * time.Second

// maxLineBytes caps an inbound frame.
const maxLineBytes = 64 * 1024

// Server is the connection acceptor. It owns the listener and one
// reader/writer goroutine pair per connection; everything stateful happens
// in core.
type Server struct {
	addr        string
	idleTimeout time.Duration
	dispatcher  *core.Dispatcher
	log         *zerolog.Logger

	mu       sync.Mutex
	ln       net.Listener
	sessions map[*core.Session]struct{}
	wg       sync.WaitGroup
}

// NewServer constructs an acceptor for the given listen address.
func NewServer(addr string, idleTimeout time.Duration, dispatcher *core.Dispatcher, logger *zerolog.Logger) *Server {
	return &Server{
		addr:        addr,
		idleTimeout: idleTimeout,
		dispatcher:  dispatcher,
		log:         logger,
		sessions:    make(map[*core.Session]struct{}),
	}
}

// Listen binds the listener. Split from Run so callers (and tests) can
// learn the bound address before serving.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the bound listen address. Valid after Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Run accepts connections until ctx is cancelled, then closes every live
// session and waits for their goroutines. Calls Listen when it was not
// called already.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
		s.mu.Lock()
		ln = s.ln
		s.mu.Unlock()
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("accepting connections")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.closeAll()
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	sess := core.NewSession()
	s.track(sess)
	defer s.untrack(sess)

	s.log.Info().Str("session_id", sess.ID).Str("remote", conn.RemoteAddr().String()).Msg("connection accepted")

	go s.writeLoop(conn, sess)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
	for {
		if s.idleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		s.dispatcher.Dispatch(ctx, sess, line)
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.log.Warn().Err(err).Str("session_id", sess.ID).Msg("connection read error")
	}

	s.dispatcher.Disconnect(ctx, sess)
}

// writeLoop drains the session's outbound queue in FIFO order. When the
// session closes it flushes whatever is still buffered, then closes the
// connection, which also interrupts this session's pending read.
func (s *Server) writeLoop(conn net.Conn, sess *core.Session) {
	defer conn.Close()

	for {
		select {
		case line := <-sess.Out():
			if !s.writeLine(conn, sess, line) {
				return
			}
		case <-sess.Done():
			for {
				select {
				case line := <-sess.Out():
					if !s.writeLine(conn, sess, line) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (s *Server) writeLine(conn net.Conn, sess *core.Session, line string) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := io.WriteString(conn, line+"\n"); err != nil {
		if !errors.Is(err, net.ErrClosed) {
			s.log.Warn().Err(err).Str("session_id", sess.ID).Msg("connection write error")
		}
		return false
	}
	return true
}

func (s *Server) track(sess *core.Session) {
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(sess *core.Session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

func (s *Server) closeAll() {
	s.mu.Lock()
	live := make([]*core.Session, 0, len(s.sessions))
	for sess := range s.sessions {
		live = append(live, sess)
	}
	s.mu.Unlock()

	for _, sess := range live {
		sess.Close()
	}
}
