// Package control is the admin side of the control plane.
package control

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/hashicorp/yamux"

	"wsotp/internal/logger"
	"wsotp/pkg/protocol"
)

const dialTimeout = 10 * time.Second

// Client dials the control plane.
type Client struct {
	ServerAddr string
	Token      string
	// Plain skips TLS, for servers running without a domain.
	Plain bool
	// TLSConfig overrides the default verified TLS setup.
	TLSConfig *tls.Config
}

func NewClient(serverAddr, token string) *Client {
	return &Client{ServerAddr: serverAddr, Token: token}
}

// Conn is an authenticated control plane session.
type Conn struct {
	SessionID string
	Latency   time.Duration

	session *yamux.Session
}

// Dial connects and authenticates.
func (c *Client) Dial(ctx context.Context) (*Conn, error) {
	d := &net.Dialer{Timeout: dialTimeout}
	var (
		raw net.Conn
		err error
	)
	start := time.Now()
	if c.Plain {
		raw, err = d.DialContext(ctx, "tcp", c.ServerAddr)
	} else {
		cfg := c.TLSConfig
		if cfg == nil {
			host, _, _ := net.SplitHostPort(c.ServerAddr)
			cfg = &tls.Config{ServerName: host}
		}
		raw, err = (&tls.Dialer{NetDialer: d, Config: cfg}).DialContext(ctx, "tcp", c.ServerAddr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	session, err := yamux.Client(raw, nil)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("failed to start yamux: %w", err)
	}

	stream, err := session.Open()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to open handshake stream: %w", err)
	}
	defer stream.Close()

	if err := json.NewEncoder(stream).Encode(protocol.AuthRequest{Token: c.Token}); err != nil {
		session.Close()
		return nil, err
	}
	var resp protocol.InitResponse
	if err := json.NewDecoder(stream).Decode(&resp); err != nil {
		session.Close()
		return nil, fmt.Errorf("handshake read failed: %w", err)
	}
	if !resp.Success {
		session.Close()
		return nil, &AuthError{Message: resp.Error}
	}

	logger.Debug("control session %s established", resp.SessionID)
	return &Conn{SessionID: resp.SessionID, Latency: time.Since(start), session: session}, nil
}

// Close ends the session.
func (c *Conn) Close() error {
	return c.session.Close()
}

// Done is closed when the session ends.
func (c *Conn) Done() <-chan struct{} {
	return c.session.CloseChan()
}

// Call sends one request and decodes the response data into out, which may
// be nil.
func (c *Conn) Call(ctx context.Context, command string, args, out interface{}) error {
	req, err := protocol.NewRequest(command, args)
	if err != nil {
		return err
	}
	stream, err := c.session.Open()
	if err != nil {
		return err
	}
	defer stream.Close()
	if deadline, ok := ctx.Deadline(); ok {
		stream.SetDeadline(deadline)
	}

	if err := json.NewEncoder(stream).Encode(req); err != nil {
		return err
	}
	var resp protocol.Response
	if err := json.NewDecoder(stream).Decode(&resp); err != nil {
		return fmt.Errorf("%s: read response: %w", command, err)
	}
	if !resp.OK {
		return &RemoteError{Command: command, Message: resp.Error}
	}
	if out != nil && len(resp.Data) > 0 {
		return json.Unmarshal(resp.Data, out)
	}
	return nil
}

// Watch streams server events to fn until ctx is done or the session ends.
func (c *Conn) Watch(ctx context.Context, fn func(protocol.Event)) error {
	stream, err := c.session.Open()
	if err != nil {
		return err
	}
	defer stream.Close()

	if err := json.NewEncoder(stream).Encode(protocol.Request{Command: protocol.CmdWatch}); err != nil {
		return err
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-c.session.CloseChan():
		}
		stream.Close()
	}()

	dec := json.NewDecoder(bufio.NewReader(stream))
	for {
		var ev protocol.Event
		if err := dec.Decode(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("watch ended: %w", err)
		}
		fn(ev)
	}
}
