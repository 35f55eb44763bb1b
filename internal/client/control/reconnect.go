package control

import (
	"context"
	"fmt"
	"time"

	"wsotp/internal/events"
	"wsotp/internal/logger"
	"wsotp/pkg/protocol"
)

// ReconnectConfig holds reconnection parameters
type ReconnectConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxAttempts  int // 0 = infinite
}

// DefaultReconnectConfig returns sensible defaults for reconnection
func DefaultReconnectConfig() *ReconnectConfig {
	return &ReconnectConfig{
		InitialDelay: 1 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  0,
	}
}

// next returns the delay after d.
func (cfg *ReconnectConfig) next(d time.Duration) time.Duration {
	d = time.Duration(float64(d) * cfg.Multiplier)
	if d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	return d
}

// WatchWithReconnect relays server events onto bus, reconnecting with
// exponential backoff until ctx is done. Connection state changes are
// published on the same bus. A rejected token stops the loop.
func (c *Client) WatchWithReconnect(ctx context.Context, bus *events.Bus, cfg *ReconnectConfig) error {
	if cfg == nil {
		cfg = DefaultReconnectConfig()
	}

	attempt := 0
	delay := cfg.InitialDelay

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempt++
		if cfg.MaxAttempts > 0 && attempt > cfg.MaxAttempts {
			err := fmt.Errorf("max reconnection attempts (%d) exceeded", cfg.MaxAttempts)
			bus.PublishError(err, "watch")
			return err
		}

		if attempt > 1 {
			logger.Info("Reconnecting in %v (attempt %d)...", delay, attempt)
			bus.Publish(events.Event{
				Type: events.EventReconnecting,
				Data: events.ReconnectingData{Attempt: attempt, Delay: delay},
			})
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		bus.PublishType(events.EventConnecting)
		conn, err := c.Dial(ctx)
		if err != nil {
			if IsAuthError(err) {
				bus.PublishError(err, "auth")
				return err
			}
			logger.Warn("Connection failed: %v", err)
			bus.PublishError(err, "connect")
			delay = cfg.next(delay)
			continue
		}

		bus.Publish(events.Event{
			Type: events.EventConnected,
			Data: events.ConnectedData{ServerAddr: c.ServerAddr, Latency: conn.Latency},
		})
		attempt = 0
		delay = cfg.InitialDelay

		err = conn.Watch(ctx, func(ev protocol.Event) {
			relay(bus, ev)
		})
		conn.Close()
		bus.PublishType(events.EventDisconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Info("Connection ended: %v", err)
	}
}

// relay republishes a wire event on the local bus.
func relay(bus *events.Bus, ev protocol.Event) {
	t, ok := events.ParseType(ev.Type)
	if !ok {
		return
	}
	data, err := events.DecodeData(t, ev.Data)
	if err != nil {
		logger.Debug("decode %s event: %v", ev.Type, err)
		return
	}
	bus.Publish(events.Event{Type: t, Timestamp: ev.Timestamp, Data: data})
}
