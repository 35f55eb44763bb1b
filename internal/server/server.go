package server

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/yamux"

	"wsotp/internal/events"
	"wsotp/internal/logger"
	"wsotp/internal/sentry"
	"wsotp/pkg/protocol"
)

const handshakeTimeout = 10 * time.Second

// Dispatcher answers one control plane request.
type Dispatcher interface {
	Dispatch(ctx context.Context, req protocol.Request) (interface{}, error)
}

// Server is the admin control plane. Every connection is a yamux session
// whose first stream authenticates; each later stream carries one request.
type Server struct {
	Addr       string
	TLSConfig  *tls.Config
	Token      string
	Dispatcher Dispatcher
	Bus        *events.Bus
	Sessions   *SessionRegistry

	listener net.Listener
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc

	// MaxConnections limits concurrent connections (0 = unlimited)
	MaxConnections int
	connSem        chan struct{}
}

func NewServer(addr, token string, d Dispatcher, bus *events.Bus, tlsConfig *tls.Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		Addr:           addr,
		TLSConfig:      tlsConfig,
		Token:          token,
		Dispatcher:     d,
		Bus:            bus,
		Sessions:       NewSessionRegistry(),
		ctx:            ctx,
		cancel:         cancel,
		MaxConnections: 32,
	}
}

// Start listens on Addr and serves until Shutdown.
func (s *Server) Start() error {
	var (
		l   net.Listener
		err error
	)
	if s.TLSConfig != nil {
		l, err = tls.Listen("tcp", s.Addr, s.TLSConfig)
	} else {
		l, err = net.Listen("tcp", s.Addr)
	}
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve accepts connections on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.listener = l
	if s.MaxConnections > 0 {
		s.connSem = make(chan struct{}, s.MaxConnections)
	}
	logger.Info("[control] listening on %s (TLS=%v)", l.Addr(), s.TLSConfig != nil)

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return err
		}

		if s.connSem != nil {
			select {
			case s.connSem <- struct{}{}:
			case <-s.ctx.Done():
				conn.Close()
				return nil
			}
		}

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			defer func() {
				if s.connSem != nil {
					<-s.connSem
				}
			}()
			defer func() {
				if r := recover(); r != nil {
					logger.Error("[control] panic in connection handler: %v", r)
				}
			}()
			s.handleConnection(c)
		}(conn)
	}
}

// Shutdown stops accepting, closes live sessions and waits for handlers
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			logger.Debug("[control] close listener: %v", err)
		}
	}
	s.Sessions.CloseAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	session, err := yamux.Server(conn, nil)
	if err != nil {
		logger.Warn("[control] yamux session for %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	defer session.Close()

	admin, err := s.handshake(session, conn.RemoteAddr().String())
	if err != nil {
		if !errors.Is(err, io.EOF) {
			sentry.CaptureErrorf(err, "[control] handshake from %s", conn.RemoteAddr())
		}
		return
	}
	s.Sessions.Register(admin)
	defer s.Sessions.Unregister(admin.ID)
	logger.Info("[control] session %s opened from %s", admin.ID, admin.Remote)

	for {
		stream, err := session.Accept()
		if err != nil {
			logger.Info("[control] session %s closed", admin.ID)
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer stream.Close()
			s.serveStream(session, stream)
		}()
	}
}

func (s *Server) handshake(session *yamux.Session, remote string) (*AdminSession, error) {
	stream, err := session.Accept()
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	stream.SetDeadline(time.Now().Add(handshakeTimeout))

	var req protocol.AuthRequest
	if err := json.NewDecoder(stream).Decode(&req); err != nil {
		return nil, err
	}
	enc := json.NewEncoder(stream)
	if s.Token == "" || subtle.ConstantTimeCompare([]byte(req.Token), []byte(s.Token)) != 1 {
		enc.Encode(protocol.InitResponse{Error: "invalid token"})
		logger.Warn("[control] rejected token from %s", remote)
		return nil, io.EOF
	}

	admin := &AdminSession{
		ID:        uuid.NewString(),
		Remote:    remote,
		Session:   session,
		StartedAt: time.Now(),
	}
	if err := enc.Encode(protocol.InitResponse{Success: true, SessionID: admin.ID}); err != nil {
		return nil, err
	}
	return admin, nil
}

func (s *Server) serveStream(session *yamux.Session, stream net.Conn) {
	var req protocol.Request
	if err := json.NewDecoder(stream).Decode(&req); err != nil {
		logger.Debug("[control] decode request: %v", err)
		return
	}

	if req.Command == protocol.CmdWatch {
		s.watch(session, stream)
		return
	}

	resp := protocol.Response{OK: true}
	data, err := s.Dispatcher.Dispatch(s.ctx, req)
	if err == nil && data != nil {
		resp.Data, err = json.Marshal(data)
	}
	if err != nil {
		resp = protocol.Response{Error: err.Error()}
		logger.Warn("[control] %s: %v", req.Command, err)
	}
	if err := json.NewEncoder(stream).Encode(resp); err != nil {
		logger.Debug("[control] write response: %v", err)
	}
}

// watch streams bus events as JSON lines until the client goes away.
func (s *Server) watch(session *yamux.Session, stream net.Conn) {
	if s.Bus == nil {
		json.NewEncoder(stream).Encode(protocol.Response{Error: "events unavailable"})
		return
	}
	sub := s.Bus.Subscribe()
	defer s.Bus.Unsubscribe(sub)

	gone := make(chan struct{})
	go func() {
		io.Copy(io.Discard, stream)
		close(gone)
	}()

	enc := json.NewEncoder(stream)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-session.CloseChan():
			return
		case <-gone:
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			out := protocol.Event{Type: ev.Type.String(), Timestamp: ev.Timestamp}
			if ev.Data != nil {
				raw, err := json.Marshal(ev.Data)
				if err != nil {
					continue
				}
				out.Data = raw
			}
			if err := enc.Encode(out); err != nil {
				return
			}
		}
	}
}
