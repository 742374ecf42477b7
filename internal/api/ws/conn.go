package ws

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Envelope is the wire shape for every message in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// connState is the handshake state machine. Fields are only transitioned by
// the message handlers; zero value means unauthenticated.
type connState struct {
	authenticated bool
	registered    bool // agent handshake completed
	tenantID      string
	appName       string
}

// Conn wraps one WebSocket connection with a write lock and its handshake
// state.
type Conn struct {
	id string
	ws *websocket.Conn

	writeMu sync.Mutex

	stateMu sync.RWMutex
	state   connState
}

func newConn(ws *websocket.Conn) *Conn {
	return &Conn{
		id: uuid.NewString(),
		ws: ws,
	}
}

// ID returns the connection's identifier.
func (c *Conn) ID() string { return c.id }

// Send writes one typed message. Safe for concurrent use; gorilla permits a
// single writer at a time.
func (c *Conn) Send(msgType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(Envelope{Type: msgType, Data: payload})
}

// Close terminates the underlying connection.
func (c *Conn) Close() error {
	return c.ws.Close()
}

func (c *Conn) snapshot() connState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *Conn) bindAgent(tenantID, appName string) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state = connState{authenticated: true, registered: true, tenantID: tenantID, appName: appName}
}

func (c *Conn) bindViewer(tenantID string) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state = connState{authenticated: true, tenantID: tenantID}
}
