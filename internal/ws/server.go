package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"crewlink/internal/auth"
	"crewlink/internal/booking"
	"crewlink/internal/channel"
	"crewlink/internal/config"
	"crewlink/internal/domain"
	"crewlink/internal/events"
	"crewlink/internal/metrics"
	"crewlink/internal/models"
	"crewlink/internal/presence"
	"crewlink/internal/service"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const maxFrameSize = 64 * 1024

// eventHandler processes one inbound envelope for one session. Every client
// operation routes through the dispatch table, so access checks and error
// propagation are uniform across kinds.
type eventHandler func(ctx context.Context, sess *presence.Session, env events.Envelope) error

// Server is the realtime gateway: it authenticates each connection, registers
// it with the presence registry, and pumps envelopes through the dispatch
// table. One goroutine pair per connection; cross-connection coordination
// goes through the shared components only.
type Server struct {
	cfg           config.ServerConfig
	limits        config.LimitsConfig
	verifier      *auth.Verifier
	registry      *presence.Registry
	router        *channel.Router
	coordinator   *booking.Coordinator
	messages      *service.MessageService
	notifications *service.NotificationService
	cache         domain.PresenceCache
	upgrader      websocket.Upgrader
	handlers      map[string]eventHandler
	logger        zerolog.Logger
}

func NewServer(
	cfg config.ServerConfig,
	limits config.LimitsConfig,
	verifier *auth.Verifier,
	registry *presence.Registry,
	router *channel.Router,
	coordinator *booking.Coordinator,
	messages *service.MessageService,
	notifications *service.NotificationService,
	cache domain.PresenceCache,
	logger *zerolog.Logger,
) *Server {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "ws").Logger()
	}

	s := &Server{
		cfg:           cfg,
		limits:        limits,
		verifier:      verifier,
		registry:      registry,
		router:        router,
		coordinator:   coordinator,
		messages:      messages,
		notifications: notifications,
		cache:         cache,
		logger:        base,
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	s.handlers = map[string]eventHandler{
		events.KindJoinChat:       s.handleJoinChat,
		events.KindLeaveChat:      s.handleLeaveChat,
		events.KindSendMessage:    s.handleSendMessage,
		events.KindTypingStart:    s.handleTyping,
		events.KindTypingStop:     s.handleTyping,
		events.KindJoinBooking:    s.handleJoinBooking,
		events.KindLeaveBooking:   s.handleLeaveBooking,
		events.KindLocationUpdate: s.handleLocationUpdate,
		events.KindStatusChange:   s.handleStatusChange,
		events.KindMarkDelivered:  s.handleMarkDelivered,
		events.KindMarkRead:       s.handleMarkRead,
	}

	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades /ws connections. Authentication runs before anything
// else; a bad token is a 401 and the connection never reaches the registry.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	userID, role, err := s.verifier.Authenticate(r.Context(), token)
	if err != nil {
		s.logger.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("connection rejected")
		http.Error(w, domain.ErrorCode(err), http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade failed")
		return
	}

	client := newClient(conn, s.cfg.SendBuffer, s.cfg.WriteTimeoutDuration(), s.cfg.IdleTimeoutDuration(),
		s.logger.With().Str("user_id", userID).Logger())
	go client.writePump()

	sess := s.registry.Register(userID, role, client)
	if s.cache != nil {
		if err := s.cache.SetOnline(r.Context(), userID, role, models.PresenceTTL*time.Second); err != nil {
			s.logger.Warn().Err(err).Str("user_id", userID).Msg("presence mirror failed")
		}
	}

	_ = sess.Deliver(events.MustNew(events.KindConnected, "", "", events.PresencePayload{UserID: userID, Role: role}))

	s.readLoop(sess, client, conn)
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// readLoop is each connection's task: it decodes envelopes and dispatches
// them until the peer leaves or goes silent past the liveness threshold.
func (s *Server) readLoop(sess *presence.Session, client *Client, conn *websocket.Conn) {
	ctx := context.Background()
	idle := s.cfg.IdleTimeoutDuration()

	defer func() {
		s.registry.UnregisterSession(sess)
		s.router.LeaveAll(sess)
		if s.cache != nil {
			_ = s.cache.SetOffline(ctx, sess.UserID)
		}
	}()

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(idle))
	conn.SetPongHandler(func(string) error {
		sess.Touch()
		return conn.SetReadDeadline(time.Now().Add(idle))
	})

	// Frame-level throttle; the per-user message budget is enforced in
	// handleSendMessage against the shared cache.
	limiter := rate.NewLimiter(rate.Limit(20), 40)

	for {
		var env events.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Str("user_id", sess.UserID).Msg("connection closed")
			}
			return
		}

		sess.Touch()
		_ = conn.SetReadDeadline(time.Now().Add(idle))

		if !limiter.Allow() {
			_ = sess.Deliver(events.NewError(domain.ErrRateLimited))
			continue
		}

		metrics.IncEvent(env.Kind)
		env.SenderID = sess.UserID

		handler, ok := s.handlers[env.Kind]
		if !ok {
			_ = sess.Deliver(events.NewError(domain.ErrValidation))
			continue
		}

		// Errors terminate the offending operation only; the connection
		// and everyone else's channels stay up.
		if err := handler(ctx, sess, env); err != nil {
			s.logger.Debug().Err(err).Str("user_id", sess.UserID).Str("kind", env.Kind).Msg("event rejected")
			_ = sess.Deliver(events.NewError(err))
		}
	}
}

// ReapLoop periodically unregisters sessions idle beyond the liveness
// threshold. Run it once per server.
func (s *Server) ReapLoop(ctx context.Context) {
	threshold := s.cfg.IdleTimeoutDuration()
	ticker := time.NewTicker(threshold / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.registry.Reap(threshold); n > 0 {
				s.logger.Info().Int("count", n).Msg("reaped idle sessions")
			}
		}
	}
}
