// Package gateway terminates WebSocket connections and routes client
// frames to the coordination core. Credentials are verified before any
// registry mutation; a failed handshake leaves no trace.
package gateway

import (
	"net/http"
	"strings"
	"time"

	"github.com/Tq-Khanhs/Backend-messaging-app/internal/bus"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/dispatch"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/identity"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/message"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/registry"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/room"
	"github.com/Tq-Khanhs/Backend-messaging-app/internal/status"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	maxFrameSize = 32 << 10
)

// Options tunes per-connection behavior.
type Options struct {
	// EventRate is the sustained inbound frames-per-second budget.
	EventRate float64
	// EventBurst is the instantaneous frame budget.
	EventBurst int
	// SendBuffer is the outbound envelope buffer per connection.
	SendBuffer int
}

// Gateway upgrades HTTP requests to live connections.
type Gateway struct {
	verifier   identity.Verifier
	registry   *registry.Registry
	authorizer *room.Authorizer
	dispatcher *dispatch.Dispatcher
	engine     *message.Engine
	machine    *status.Machine
	bus        *bus.Bus
	logger     *zap.Logger
	opts       Options
	upgrader   websocket.Upgrader
}

// New creates a gateway.
func New(v identity.Verifier, reg *registry.Registry, auth *room.Authorizer, d *dispatch.Dispatcher, eng *message.Engine, m *status.Machine, b *bus.Bus, logger *zap.Logger, opts Options) *Gateway {
	return &Gateway{
		verifier:   v,
		registry:   reg,
		authorizer: auth,
		dispatcher: d,
		engine:     eng,
		machine:    m,
		bus:        b,
		logger:     logger,
		opts:       opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP handles the /ws endpoint.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !g.machine.Accepting() {
		http.Error(w, "not accepting connections", http.StatusServiceUnavailable)
		return
	}

	id, err := g.verifier.Verify(bearerToken(r))
	if err != nil {
		g.logger.Debug("handshake rejected", zap.Error(err))
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	c := registry.NewConn(id, g.opts.SendBuffer)
	g.registry.Register(c)
	g.bus.Publish("gateway.connected", c.ID)
	g.logger.Info("connection opened",
		zap.String("conn_id", c.ID),
		zap.String("user_id", id.ID),
	)

	go g.writePump(ws, c)
	g.readPump(ws, c)
}

// bearerToken pulls the credential from the token query parameter or the
// Authorization header.
func bearerToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	h := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return after
	}
	return ""
}
