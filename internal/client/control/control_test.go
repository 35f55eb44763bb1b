package control

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"wsotp/internal/events"
	"wsotp/internal/server"
	"wsotp/pkg/protocol"
)

type echoDispatcher struct{}

func (echoDispatcher) Dispatch(ctx context.Context, req protocol.Request) (interface{}, error) {
	switch req.Command {
	case protocol.CmdStats:
		return protocol.Stats{Day: "2025-03-01", Added: 3}, nil
	case protocol.CmdAccountsRemove:
		return nil, errors.New("account not found")
	}
	return nil, nil
}

func startServer(t *testing.T) (*server.Server, *events.Bus, string) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	bus := events.NewBus()
	srv := server.NewServer(l.Addr().String(), "secret", echoDispatcher{}, bus, nil)
	go srv.Serve(l)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return srv, bus, l.Addr().String()
}

func dial(t *testing.T, addr, token string) (*Conn, error) {
	t.Helper()
	c := NewClient(addr, token)
	c.Plain = true
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.Dial(ctx)
}

func TestClient_Call(t *testing.T) {
	_, _, addr := startServer(t)
	conn, err := dial(t, addr, "secret")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	if conn.SessionID == "" {
		t.Error("expected a session id")
	}

	var st protocol.Stats
	if err := conn.Call(context.Background(), protocol.CmdStats, nil, &st); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if st.Day != "2025-03-01" || st.Added != 3 {
		t.Errorf("stats = %+v", st)
	}

	err = conn.Call(context.Background(), protocol.CmdAccountsRemove, protocol.RemoveAccountArgs{TelegramID: 1, Username: "x"}, nil)
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) || remoteErr.Message != "account not found" {
		t.Errorf("err = %v, want RemoteError", err)
	}
}

func TestClient_BadToken(t *testing.T) {
	_, _, addr := startServer(t)
	_, err := dial(t, addr, "wrong")
	if !IsAuthError(err) {
		t.Errorf("err = %v, want AuthError", err)
	}
}

func TestClient_Watch(t *testing.T) {
	_, bus, addr := startServer(t)
	conn, err := dial(t, addr, "secret")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan protocol.Event, 1)
	go conn.Watch(ctx, func(ev protocol.Event) {
		select {
		case got <- ev:
		default:
		}
	})

	// the server subscribes asynchronously; publish until the event arrives
	deadline := time.After(3 * time.Second)
	for {
		bus.Publish(events.Event{Type: events.EventTaskStarted, Data: events.TaskData{Phone: "47879817"}})
		select {
		case ev := <-got:
			if ev.Type != "task_started" {
				t.Errorf("type = %q", ev.Type)
			}
			return
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatal("no event received")
		}
	}
}

func TestWatchWithReconnect_RelaysEvents(t *testing.T) {
	_, serverBus, addr := startServer(t)
	c := NewClient(addr, "secret")
	c.Plain = true

	local := events.NewBusWithBuffer(500)
	sub := local.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.WatchWithReconnect(ctx, local, nil) }()

	deadline := time.After(3 * time.Second)
	connected := false
	for !connected {
		select {
		case ev := <-sub:
			connected = ev.Type == events.EventConnected
		case <-deadline:
			t.Fatal("never connected")
		}
	}

	for relayed := false; !relayed; {
		serverBus.Publish(events.Event{Type: events.EventCleanupDone, Data: events.CleanupData{Phone: "1", Deleted: 2}})
		select {
		case ev := <-sub:
			if ev.Type == events.EventCleanupDone {
				data, ok := ev.Data.(events.CleanupData)
				if !ok || data.Deleted != 2 {
					t.Errorf("data = %#v", ev.Data)
				}
				relayed = true
			}
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatal("event not relayed")
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatchWithReconnect_StopsOnAuthError(t *testing.T) {
	_, _, addr := startServer(t)
	c := NewClient(addr, "wrong")
	c.Plain = true

	err := c.WatchWithReconnect(context.Background(), events.NewBus(), &ReconnectConfig{
		InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2,
	})
	if !IsAuthError(err) {
		t.Errorf("err = %v, want AuthError", err)
	}
}

func TestReconnectConfig_Backoff(t *testing.T) {
	cfg := DefaultReconnectConfig()
	d := cfg.InitialDelay
	for i := 0; i < 10; i++ {
		d = cfg.next(d)
	}
	if d != cfg.MaxDelay {
		t.Errorf("delay = %v, want capped at %v", d, cfg.MaxDelay)
	}
}
