package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// SubscriberConfig configures a live feed subscriber.
type SubscriberConfig struct {
	// ReconnectDelay is the initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the doubling delay.
	MaxReconnectDelay time.Duration
	// ReadTimeout must exceed the hub's ping interval.
	ReadTimeout time.Duration
	Buffer      int
}

// DefaultSubscriberConfig returns default subscriber settings.
func DefaultSubscriberConfig() SubscriberConfig {
	return SubscriberConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		ReadTimeout:       90 * time.Second,
		Buffer:            64,
	}
}

// Subscriber reads events from a hub endpoint and reconnects with
// exponential backoff when the connection drops.
type Subscriber struct {
	endpoint string
	config   SubscriberConfig

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup
}

// Subscribe connects to endpoint (ws:// or wss://). Events arrive on
// Events() until Close.
func Subscribe(ctx context.Context, endpoint string, config *SubscriberConfig) (*Subscriber, error) {
	cfg := DefaultSubscriberConfig()
	if config != nil {
		cfg = *config
	}
	s := &Subscriber{
		endpoint: endpoint,
		config:   cfg,
		events:   make(chan Event, cfg.Buffer),
		done:     make(chan struct{}),
	}
	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go s.readLoop()
	return s, nil
}

func (s *Subscriber) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.closed.Load() {
		conn.Close()
		return fmt.Errorf("subscriber closed")
	}
	s.conn = conn
	return nil
}

// Events returns the delivery channel. It is closed by Close.
func (s *Subscriber) Events() <-chan Event {
	return s.events
}

// Close stops the subscriber and closes Events.
func (s *Subscriber) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	close(s.events)
	return nil
}

func (s *Subscriber) readLoop() {
	defer s.wg.Done()

	delay := s.config.ReconnectDelay
	for !s.closed.Load() {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		conn.SetPingHandler(func(data string) error {
			conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
			return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		})

		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}
			if !s.reconnect(delay) {
				return
			}
			delay = min(delay*2, s.config.MaxReconnectDelay)
			continue
		}
		delay = s.config.ReconnectDelay

		var e Event
		if err := json.Unmarshal(message, &e); err != nil {
			continue
		}
		select {
		case s.events <- e:
		case <-s.done:
			return
		}
	}
}

// reconnect waits delay and redials until it succeeds or the subscriber
// closes. It reports false on close.
func (s *Subscriber) reconnect(delay time.Duration) bool {
	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.connMu.Unlock()

	for {
		select {
		case <-s.done:
			return false
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := s.connect(ctx)
		cancel()
		if err == nil {
			return true
		}
		delay = min(delay*2, s.config.MaxReconnectDelay)
	}
}
