package ws

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/tracelens/tracelens/internal/infrastructure/logging"
	"github.com/tracelens/tracelens/internal/infrastructure/monitoring"
)

// AgentInfo is one roster entry: an app name and how many live connections
// serve it.
type AgentInfo struct {
	AppName     string `json:"appName"`
	Connections int    `json:"connections"`
}

// Hub tracks tenant rooms and the agent roster. State is sharded per tenant
// under one lock; broadcasts snapshot the member list before writing so slow
// consumers never hold the lock.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Conn]struct{}
	agents map[string]map[*Conn]string // tenantID -> conn -> appName

	log     *logging.Logger
	metrics *monitoring.Metrics
}

// NewHub creates an empty hub.
func NewHub(log *logging.Logger, metrics *monitoring.Metrics) *Hub {
	if log == nil {
		log = logging.Nop()
	}
	return &Hub{
		rooms:   make(map[string]map[*Conn]struct{}),
		agents:  make(map[string]map[*Conn]string),
		log:     log.Named("hub"),
		metrics: metrics,
	}
}

// JoinViewer adds a viewer connection to its tenant room.
func (h *Hub) JoinViewer(tenantID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.join(tenantID, c)
}

// JoinAgent adds an agent connection to its tenant room and the roster.
func (h *Hub) JoinAgent(tenantID, appName string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.join(tenantID, c)
	if h.agents[tenantID] == nil {
		h.agents[tenantID] = make(map[*Conn]string)
	}
	h.agents[tenantID][c] = appName
}

func (h *Hub) join(tenantID string, c *Conn) {
	if h.rooms[tenantID] == nil {
		h.rooms[tenantID] = make(map[*Conn]struct{})
	}
	h.rooms[tenantID][c] = struct{}{}
}

// Leave removes a connection from its room and, when it was an agent, from
// the roster. Returns whether the roster changed so the caller can republish.
func (h *Hub) Leave(c *Conn) (tenantID string, rosterChanged bool) {
	state := c.snapshot()
	if state.tenantID == "" {
		return "", false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if room, ok := h.rooms[state.tenantID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, state.tenantID)
		}
	}
	if agents, ok := h.agents[state.tenantID]; ok {
		if _, was := agents[c]; was {
			delete(agents, c)
			rosterChanged = true
			if len(agents) == 0 {
				delete(h.agents, state.tenantID)
			}
		}
	}
	return state.tenantID, rosterChanged
}

// Roster returns the tenant's agents grouped by app name, sorted for stable
// presentation.
func (h *Hub) Roster(tenantID string) []AgentInfo {
	h.mu.RLock()
	counts := make(map[string]int)
	for _, appName := range h.agents[tenantID] {
		counts[appName]++
	}
	h.mu.RUnlock()

	roster := make([]AgentInfo, 0, len(counts))
	for appName, n := range counts {
		roster = append(roster, AgentInfo{AppName: appName, Connections: n})
	}
	sort.Slice(roster, func(i, j int) bool { return roster[i].AppName < roster[j].AppName })
	return roster
}

// Broadcast sends one message to every connection in the tenant's room.
// Connections in other rooms never see it.
func (h *Hub) Broadcast(tenantID, msgType string, data any) {
	h.mu.RLock()
	members := make([]*Conn, 0, len(h.rooms[tenantID]))
	for c := range h.rooms[tenantID] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		if err := c.Send(msgType, data); err != nil {
			h.log.Debug("broadcast write failed",
				zap.String("conn", c.ID()),
				zap.String("type", msgType),
				zap.Error(err),
			)
		}
	}
	if h.metrics != nil {
		h.metrics.Broadcasts.Inc()
		h.metrics.RecordWSMessage("out", msgType)
	}
}

// BroadcastRoster pushes the current agent roster to the tenant's room.
func (h *Hub) BroadcastRoster(tenantID string) {
	h.Broadcast(tenantID, "agents", h.Roster(tenantID))
}
