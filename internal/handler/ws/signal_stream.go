package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"MarketCascade/internal/domain/models"
	domrepo "MarketCascade/internal/domain/repository"
	"MarketCascade/internal/repository"
	applogger "MarketCascade/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 32
)

var errHubClosed = errors.New("signal stream closed")

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// SignalStream fans new signals out to read-only websocket subscribers. A client
// whose buffer is full is disconnected rather than slowing down the signal pass.
type SignalStream struct {
	mu       sync.RWMutex
	clients  map[*client]struct{}
	closed   bool
	upgrader websocket.Upgrader
	l        *applogger.Logger
}

func NewSignalStream(l *applogger.Logger) *SignalStream {
	return &SignalStream{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		l: l,
	}
}

var _ domrepo.SignalPublisher = (*SignalStream)(nil)

func (s *SignalStream) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/signals", s.Serve)
}

// Serve upgrades the request and blocks until the client goes away.
func (s *SignalStream) Serve(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		return nil
	}
	cl := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	if !s.add(cl) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		_ = conn.Close()
		return nil
	}
	if s.l != nil {
		s.l.Debug("signal stream client connected", applogger.String("remote", c.RealIP()))
	}

	go s.writeLoop(cl)
	s.readLoop(cl)
	return nil
}

func (s *SignalStream) add(cl *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[cl] = struct{}{}
	return true
}

func (s *SignalStream) remove(cl *client) {
	s.mu.Lock()
	if _, ok := s.clients[cl]; ok {
		delete(s.clients, cl)
		cl.close()
	}
	s.mu.Unlock()
}

// readLoop discards inbound frames; it exists to process pongs and detect closes.
func (s *SignalStream) readLoop(cl *client) {
	defer s.remove(cl)
	cl.conn.SetReadLimit(512)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *SignalStream) writeLoop(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.remove(cl)
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.remove(cl)
				return
			}
		}
	}
}

// PublishSignal queues the signal event for every connected client.
func (s *SignalStream) PublishSignal(_ context.Context, sig models.TradingSignal) error {
	data, err := json.Marshal(repository.SignalEvent{
		Type:       repository.EventSignalActivated,
		Signal:     sig,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errHubClosed
	}
	dropped := 0
	for cl := range s.clients {
		select {
		case cl.send <- data:
		default:
			delete(s.clients, cl)
			cl.close()
			dropped++
		}
	}
	if dropped > 0 && s.l != nil {
		s.l.Warn("dropped slow signal stream clients", applogger.Int("count", dropped))
	}
	return nil
}

// Clients is the number of connected subscribers.
func (s *SignalStream) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Close disconnects every client and rejects new ones.
func (s *SignalStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for cl := range s.clients {
		delete(s.clients, cl)
		cl.close()
	}
	return nil
}
