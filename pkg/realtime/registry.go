package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrNoConnection is returned by Send when the user has no open connection.
var ErrNoConnection = errors.New("user has no open connection")

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Conn is the subset of *websocket.Conn the registry writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// ConnectionRegistry pushes payloads to the live connections of a user.
type ConnectionRegistry interface {
	Register(userID string, conn Conn)
	Unregister(userID string, conn Conn)
	Send(userID string, payload interface{}) (int, error)
}

// Observer is notified when connections open or close.
type Observer interface {
	ConnectionOpened()
	ConnectionClosed()
}

type peer struct {
	conn Conn
	mu   sync.Mutex
}

func (p *peer) write(messageType int, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return p.conn.WriteMessage(messageType, data)
}

// Registry tracks open websocket connections per user. A user may hold several.
type Registry struct {
	mu       sync.RWMutex
	peers    map[string]map[Conn]*peer
	logger   *zap.Logger
	observer Observer
}

// NewRegistry constructs an empty registry.
func NewRegistry(logger *zap.Logger, observer Observer) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{peers: make(map[string]map[Conn]*peer), logger: logger, observer: observer}
}

// Register adds a connection for the user.
func (r *Registry) Register(userID string, conn Conn) {
	r.mu.Lock()
	conns, ok := r.peers[userID]
	if !ok {
		conns = make(map[Conn]*peer)
		r.peers[userID] = conns
	}
	_, exists := conns[conn]
	if !exists {
		conns[conn] = &peer{conn: conn}
	}
	r.mu.Unlock()

	if !exists && r.observer != nil {
		r.observer.ConnectionOpened()
	}
	r.logger.Debug("websocket registered", zap.String("user_id", userID))
}

// Unregister removes and closes a connection. Unknown connections are ignored.
func (r *Registry) Unregister(userID string, conn Conn) {
	r.mu.Lock()
	conns := r.peers[userID]
	_, exists := conns[conn]
	if exists {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(r.peers, userID)
		}
	}
	r.mu.Unlock()

	if !exists {
		return
	}
	_ = conn.Close()
	if r.observer != nil {
		r.observer.ConnectionClosed()
	}
	r.logger.Debug("websocket unregistered", zap.String("user_id", userID))
}

// Send writes payload as JSON to every connection of the user and returns how many received it.
// Connections that fail to accept the write are dropped.
func (r *Registry) Send(userID string, payload interface{}) (int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal realtime payload: %w", err)
	}

	r.mu.RLock()
	targets := make([]*peer, 0, len(r.peers[userID]))
	for _, p := range r.peers[userID] {
		targets = append(targets, p)
	}
	r.mu.RUnlock()

	if len(targets) == 0 {
		return 0, ErrNoConnection
	}

	delivered := 0
	for _, p := range targets {
		if err := p.write(websocket.TextMessage, data); err != nil {
			r.logger.Warn("websocket write failed", zap.String("user_id", userID), zap.Error(err))
			r.Unregister(userID, p.conn)
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return 0, ErrNoConnection
	}
	return delivered, nil
}

// Connected reports the number of open connections of a user.
func (r *Registry) Connected(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers[userID])
}

// Serve registers conn and blocks until the client goes away, answering pings to keep it alive.
func (r *Registry) Serve(userID string, conn *websocket.Conn) {
	r.Register(userID, conn)
	defer r.Unregister(userID, conn)

	done := make(chan struct{})
	defer close(done)
	go r.keepAlive(userID, conn, done)

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				r.logger.Debug("websocket closed unexpectedly", zap.String("user_id", userID), zap.Error(err))
			}
			return
		}
	}
}

func (r *Registry) keepAlive(userID string, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			r.mu.RLock()
			p := r.peers[userID][conn]
			r.mu.RUnlock()
			if p == nil {
				return
			}
			if err := p.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
