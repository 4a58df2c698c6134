package ws

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pagelift/billing/internal/domain"
	"github.com/pagelift/billing/internal/middleware"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is handled at the HTTP level
	},
}

// StatusUpdate is pushed to connected clients whenever a reconciled event
// changes their tenant's subscription, so UI caches can invalidate
// immediately instead of waiting for the TTL.
type StatusUpdate struct {
	TenantID int64                     `json:"tenant_id"`
	Status   domain.SubscriptionStatus `json:"status"`
	PlanID   string                    `json:"plan_id"`
}

// StatusHub tracks websocket subscribers per tenant and fans out updates.
type StatusHub struct {
	mu        sync.RWMutex
	conns     map[int64]map[*websocket.Conn]struct{}
	jwtSecret string
}

// NewStatusHub creates a new StatusHub. Connections authenticate with the
// same JWTs the REST endpoints accept.
func NewStatusHub(jwtSecret string) *StatusHub {
	return &StatusHub{
		conns:     make(map[int64]map[*websocket.Conn]struct{}),
		jwtSecret: jwtSecret,
	}
}

// Handle upgrades HTTP to WebSocket and keeps the connection registered until
// the client goes away.
// URL: /api/billing/status/ws?token=JWT_TOKEN
func (h *StatusHub) Handle(w http.ResponseWriter, r *http.Request) {
	// Browsers cannot set headers on websocket dials; auth via query param.
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "token required", http.StatusUnauthorized)
		return
	}

	claims, err := middleware.VerifyToken(token, h.jwtSecret)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	h.register(claims.TenantID, conn)
	defer h.unregister(claims.TenantID, conn)

	// Drain client frames; the protocol is push-only.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// NotifyStatus pushes an update to every connection of the tenant. Write
// failures drop the connection; delivery is best effort. The hub lock also
// serializes writers, which gorilla/websocket requires.
func (h *StatusHub) NotifyStatus(tenantID int64, status domain.SubscriptionStatus, planID string) {
	update := StatusUpdate{TenantID: tenantID, Status: status, PlanID: planID}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns[tenantID] {
		if err := c.WriteJSON(update); err != nil {
			delete(h.conns[tenantID], c)
			c.Close()
		}
	}
	if len(h.conns[tenantID]) == 0 {
		delete(h.conns, tenantID)
	}
}

func (h *StatusHub) register(tenantID int64, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[tenantID] == nil {
		h.conns[tenantID] = make(map[*websocket.Conn]struct{})
	}
	h.conns[tenantID][conn] = struct{}{}
}

func (h *StatusHub) unregister(tenantID int64, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns[tenantID], conn)
	if len(h.conns[tenantID]) == 0 {
		delete(h.conns, tenantID)
	}
}
