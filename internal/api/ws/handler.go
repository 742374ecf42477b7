package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tracelens/tracelens/internal/domain/event"
	"github.com/tracelens/tracelens/internal/domain/tenant"
	"github.com/tracelens/tracelens/internal/infrastructure/logging"
	"github.com/tracelens/tracelens/internal/infrastructure/monitoring"
	"github.com/tracelens/tracelens/internal/storage"
)

// Auth failure codes emitted in auth_error messages.
const (
	errMissingAppName       = "MISSING_APP_NAME"
	errMissingTenantID      = "MISSING_TENANT_ID"
	errTenantsNotConfigured = "TENANTS_NOT_CONFIGURED"
	errUnauthorized         = "UNAUTHORIZED"
	errNotRegistered        = "NOT_REGISTERED"
)

const persistTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Agents connect from arbitrary hosts; auth happens in the
		// handshake messages, not at the origin.
		return true
	},
}

// Handler owns the WebSocket endpoint: upgrade, handshake, event ingestion,
// and broadcast fan-out.
type Handler struct {
	hub      *Hub
	registry *tenant.Registry
	buffer   *event.Buffer
	store    storage.Store // nil when no durable store is configured
	metrics  *monitoring.Metrics
	log      *logging.Logger

	historyLimit int
	now          func() time.Time
}

// NewHandler wires the WebSocket handler. store may be nil.
func NewHandler(hub *Hub, registry *tenant.Registry, buffer *event.Buffer, store storage.Store, metrics *monitoring.Metrics, log *logging.Logger, historyLimit int) *Handler {
	if log == nil {
		log = logging.Nop()
	}
	if historyLimit <= 0 {
		historyLimit = 250
	}
	return &Handler{
		hub:          hub,
		registry:     registry,
		buffer:       buffer,
		store:        store,
		metrics:      metrics,
		log:          log.Named("ws"),
		historyLimit: historyLimit,
		now:          time.Now,
	}
}

// HandleConnection upgrades the request and runs the read loop until the
// peer disconnects or fails a handshake.
func (h *Handler) HandleConnection(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := newConn(ws)
	if h.metrics != nil {
		h.metrics.WSConnections.Inc()
	}
	defer func() {
		if h.metrics != nil {
			h.metrics.WSConnections.Dec()
		}
		if tenantID, rosterChanged := h.hub.Leave(conn); rosterChanged {
			h.hub.BroadcastRoster(tenantID)
		}
		conn.Close()
	}()

	for {
		var env Envelope
		if err := ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("websocket read error", zap.String("conn", conn.ID()), zap.Error(err))
			}
			return
		}
		if h.metrics != nil {
			h.metrics.RecordWSMessage("in", env.Type)
		}

		switch env.Type {
		case "register":
			if !h.handleRegister(conn, env.Data) {
				return
			}
		case "join_tenant":
			h.handleJoin(conn, env.Data)
		case "event":
			if !h.handleEvent(conn, env.Data) {
				return
			}
		case "ping":
			h.send(conn, "pong", gin.H{"ts": h.now().UnixMilli()})
		default:
			h.send(conn, "error", gin.H{"message": "unknown message type"})
		}
	}
}

type registerPayload struct {
	AppName string `json:"appName"`
	Token   string `json:"token"`
}

// handleRegister runs the agent handshake. Any failure terminates the
// connection; the return value reports whether it may continue.
func (h *Handler) handleRegister(conn *Conn, data json.RawMessage) bool {
	var payload registerPayload
	_ = json.Unmarshal(data, &payload)

	if payload.AppName == "" {
		h.authError(conn, errMissingAppName)
		return false
	}
	if !h.registry.IsConfigured() {
		h.authError(conn, errTenantsNotConfigured)
		return false
	}
	binding, ok := h.registry.ResolveApp(payload.AppName)
	if !ok || binding.Key != payload.Token {
		h.authError(conn, errUnauthorized)
		return false
	}

	conn.bindAgent(binding.TenantID, payload.AppName)
	h.hub.JoinAgent(binding.TenantID, payload.AppName, conn)

	h.send(conn, "registered", gin.H{"tenantId": binding.TenantID, "appName": payload.AppName})
	h.hub.BroadcastRoster(binding.TenantID)

	h.log.Info("agent registered",
		zap.String("conn", conn.ID()),
		zap.String("tenant", binding.TenantID),
		zap.String("app", payload.AppName),
	)
	return true
}

type joinPayload struct {
	TenantID string `json:"tenantId"`
	Token    string `json:"token"`
}

// handleJoin runs the viewer handshake. Failures emit auth_error but leave
// the connection open so the viewer can retry with a fixed credential.
func (h *Handler) handleJoin(conn *Conn, data json.RawMessage) {
	var payload joinPayload
	_ = json.Unmarshal(data, &payload)

	if payload.TenantID == "" {
		h.authError(conn, errMissingTenantID)
		return
	}
	if !h.registry.IsConfigured() {
		h.authError(conn, errTenantsNotConfigured)
		return
	}
	if !h.registry.HasTenant(payload.TenantID) || !h.registry.ResolveViewer(payload.TenantID, payload.Token) {
		h.authError(conn, errUnauthorized)
		return
	}

	conn.bindViewer(payload.TenantID)
	h.hub.JoinViewer(payload.TenantID, conn)

	h.send(conn, "joined", gin.H{"tenantId": payload.TenantID})
	h.send(conn, "agents", h.hub.Roster(payload.TenantID))
	h.send(conn, "eventHistory", h.buffer.Recent(payload.TenantID, h.historyLimit))

	h.log.Info("viewer joined",
		zap.String("conn", conn.ID()),
		zap.String("tenant", payload.TenantID),
	)
}

// handleEvent ingests one instrumentation event from a registered agent. An
// event from a connection that never completed register terminates it.
func (h *Handler) handleEvent(conn *Conn, data json.RawMessage) bool {
	state := conn.snapshot()
	if !state.registered {
		h.authError(conn, errNotRegistered)
		return false
	}

	var in event.Incoming
	if err := json.Unmarshal(data, &in); err != nil || !in.Valid() {
		h.log.Debug("dropping malformed event",
			zap.String("conn", conn.ID()),
			zap.String("tenant", state.tenantID),
		)
		return true
	}

	e := event.Stamp(in, state.tenantID, state.appName, h.now())
	h.buffer.Append(e)
	if h.metrics != nil {
		h.metrics.RecordEvent(e.Type)
		h.metrics.BufferedEvents.WithLabelValues(e.TenantID).Set(float64(h.buffer.Len(e.TenantID)))
	}

	if h.store != nil {
		go h.persist(e)
	}

	h.hub.Broadcast(state.tenantID, "event", e)
	return true
}

// persist writes the event durably off the broadcast path. Failures are
// logged and counted; ingestion never blocks on the store.
func (h *Handler) persist(e event.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := h.store.AppendEvent(ctx, e); err != nil {
		if h.metrics != nil {
			h.metrics.PersistFailures.Inc()
		}
		h.log.Warn("event persistence failed",
			zap.String("event", e.ID),
			zap.String("tenant", e.TenantID),
			zap.Error(err),
		)
	}
}

func (h *Handler) authError(conn *Conn, code string) {
	h.send(conn, "auth_error", gin.H{"error": code})
}

func (h *Handler) send(conn *Conn, msgType string, data any) {
	if err := conn.Send(msgType, data); err != nil {
		h.log.Debug("websocket write failed",
			zap.String("conn", conn.ID()),
			zap.String("type", msgType),
			zap.Error(err),
		)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordWSMessage("out", msgType)
	}
}
