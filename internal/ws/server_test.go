package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"crewlink/internal/auth"
	"crewlink/internal/booking"
	"crewlink/internal/channel"
	"crewlink/internal/config"
	"crewlink/internal/database"
	"crewlink/internal/events"
	"crewlink/internal/models"
	"crewlink/internal/presence"
	"crewlink/internal/repository"
	"crewlink/internal/service"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	ts       *httptest.Server
	db       *database.DB
	verifier *auth.Verifier
	registry *presence.Registry
}

func newTestEnv(t *testing.T, limits config.LimitsConfig) *testEnv {
	t.Helper()
	logger := zerolog.Nop()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, db.UpsertUser(ctx, &models.User{ID: "c1", Role: models.RoleCustomer, Name: "Customer", IsActive: true}))
	require.NoError(t, db.UpsertUser(ctx, &models.User{ID: "w1", Role: models.RoleWorker, Name: "Worker", IsActive: true}))
	require.NoError(t, db.UpsertUser(ctx, &models.User{ID: "u3", Role: models.RoleCustomer, Name: "Stranger", IsActive: true}))
	require.NoError(t, db.UpsertUser(ctx, &models.User{ID: "blocked", Role: models.RoleCustomer, IsActive: false}))
	require.NoError(t, db.CreateBooking(ctx, &models.Booking{ID: "b1", CustomerID: "c1", WorkerID: "w1"}))

	registry := presence.NewRegistry(&logger)
	router := channel.NewRouter(db, &logger)
	coordinator := booking.NewCoordinator(db, router, booking.StandardFeePolicy{LateCancelFee: 10}, &logger)
	messages := service.NewMessageService(db, router, &logger)
	notifications := service.NewNotificationService(db, registry, nil, &logger)
	verifier := auth.NewVerifier("test-secret", db)
	cache := repository.NewMemoryPresenceCache()

	cfg := config.ServerConfig{
		Port:         0,
		IdleTimeout:  60,
		WriteTimeout: 5,
		SendBuffer:   64,
		HistoryLimit: 50,
	}

	server := NewServer(cfg, limits, verifier, registry, router, coordinator, messages, notifications, cache, &logger)
	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, db: db, verifier: verifier, registry: registry}
}

func defaultLimits() config.LimitsConfig {
	return config.LimitsConfig{MessagesPerWindow: 100, WindowSeconds: 60}
}

func (e *testEnv) dial(t *testing.T, userID, role string) *websocket.Conn {
	t.Helper()
	token, err := e.verifier.IssueToken(userID, role, time.Minute)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	// Every session is greeted before anything else.
	env := readKind(t, conn, events.KindConnected)
	var p events.PresencePayload
	require.NoError(t, env.Decode(&p))
	require.Equal(t, userID, p.UserID)

	return conn
}

// readKind reads until an envelope of the wanted kind arrives, skipping
// presence chatter from other connections in the fixture.
func readKind(t *testing.T, conn *websocket.Conn, kind string) events.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var env events.Envelope
		require.NoError(t, conn.ReadJSON(&env), "waiting for %s", kind)
		if env.Kind == kind {
			return env
		}
		if env.Kind == events.KindUserOnline || env.Kind == events.KindUserOffline {
			continue
		}
		t.Fatalf("expected %s, got %s", kind, env.Kind)
	}
}

func send(t *testing.T, conn *websocket.Conn, kind, bookingID string, payload any) {
	t.Helper()
	env, err := events.New(kind, bookingID, "", payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))
}

func joinChat(t *testing.T, conn *websocket.Conn, bookingID string) {
	t.Helper()
	send(t, conn, events.KindJoinChat, bookingID, nil)
	readKind(t, conn, events.KindHistory)
}

func TestServeHTTP_RejectsMissingToken(t *testing.T) {
	env := newTestEnv(t, defaultLimits())

	resp, err := http.Get(env.ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeHTTP_RejectsInactiveUser(t *testing.T) {
	env := newTestEnv(t, defaultLimits())

	token, err := env.verifier.IssueToken("blocked", models.RoleCustomer, time.Minute)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "?token=" + token
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConnect_RegistersPresence(t *testing.T) {
	env := newTestEnv(t, defaultLimits())

	env.dial(t, "c1", models.RoleCustomer)
	assert.True(t, env.registry.IsOnline("c1"))
}

func TestChatFlow_SendDeliverRead(t *testing.T) {
	env := newTestEnv(t, defaultLimits())

	customer := env.dial(t, "c1", models.RoleCustomer)
	worker := env.dial(t, "w1", models.RoleWorker)

	joinChat(t, customer, "b1")
	joinChat(t, worker, "b1")

	send(t, worker, events.KindSendMessage, "b1", events.SendMessagePayload{
		Type:       models.MessageText,
		Content:    "On my way",
		ReceiverID: "c1",
	})

	// The durably appended message reaches both members with status sent.
	var delivered models.Message
	for _, conn := range []*websocket.Conn{customer, worker} {
		env := readKind(t, conn, events.KindMessage)
		var msg models.Message
		require.NoError(t, env.Decode(&msg))
		assert.Equal(t, "On my way", msg.Content)
		assert.Equal(t, "w1", msg.SenderID)
		assert.Equal(t, models.MessageSent, msg.Status)
		delivered = msg
	}

	// Customer marks it read straight from sent; both sides see the advance.
	send(t, customer, events.KindMarkRead, "b1", events.MessageRefPayload{MessageID: delivered.ID})

	for _, conn := range []*websocket.Conn{customer, worker} {
		env := readKind(t, conn, events.KindMessageStatus)
		var p events.MessageStatusPayload
		require.NoError(t, env.Decode(&p))
		assert.Equal(t, delivered.ID, p.MessageID)
		assert.Equal(t, models.MessageRead, p.Status)
	}

	// A regression attempt is rejected for the caller only.
	send(t, worker, events.KindMarkDelivered, "b1", events.MessageRefPayload{MessageID: delivered.ID})
	errEnv := readKind(t, worker, events.KindError)
	var p events.ErrorPayload
	require.NoError(t, errEnv.Decode(&p))
	assert.Equal(t, "invalid_status_transition", p.Code)
}

func TestJoinChat_ReplaysHistory(t *testing.T) {
	env := newTestEnv(t, defaultLimits())

	worker := env.dial(t, "w1", models.RoleWorker)
	joinChat(t, worker, "b1")
	send(t, worker, events.KindSendMessage, "b1", events.SendMessagePayload{Type: models.MessageText, Content: "before reconnect"})
	readKind(t, worker, events.KindMessage)

	customer := env.dial(t, "c1", models.RoleCustomer)
	send(t, customer, events.KindJoinChat, "b1", nil)

	histEnv := readKind(t, customer, events.KindHistory)
	var history []*models.Message
	require.NoError(t, histEnv.Decode(&history))
	require.Len(t, history, 1)
	assert.Equal(t, "before reconnect", history[0].Content)
}

func TestJoinChat_DeniedForNonParticipant(t *testing.T) {
	env := newTestEnv(t, defaultLimits())

	stranger := env.dial(t, "u3", models.RoleCustomer)
	send(t, stranger, events.KindJoinChat, "b1", nil)

	errEnv := readKind(t, stranger, events.KindError)
	var p events.ErrorPayload
	require.NoError(t, errEnv.Decode(&p))
	assert.Equal(t, "access_denied", p.Code)
}

func TestTyping_RelayedWithoutPersistence(t *testing.T) {
	env := newTestEnv(t, defaultLimits())

	customer := env.dial(t, "c1", models.RoleCustomer)
	worker := env.dial(t, "w1", models.RoleWorker)
	joinChat(t, customer, "b1")
	joinChat(t, worker, "b1")

	send(t, customer, events.KindTypingStart, "b1", nil)

	envlp := readKind(t, worker, events.KindTypingStart)
	var p events.TypingPayload
	require.NoError(t, envlp.Decode(&p))
	assert.Equal(t, "c1", p.UserID)

	messages, err := env.db.GetBookingMessages(context.Background(), "b1", 10)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestStatusChange_BroadcastAndNotification(t *testing.T) {
	env := newTestEnv(t, defaultLimits())

	customer := env.dial(t, "c1", models.RoleCustomer)
	worker := env.dial(t, "w1", models.RoleWorker)

	send(t, customer, events.KindJoinBooking, "b1", nil)
	send(t, worker, events.KindJoinBooking, "b1", nil)

	// Joins are acknowledged implicitly; give the server a beat before the
	// transition so both memberships are in place.
	time.Sleep(50 * time.Millisecond)

	send(t, worker, events.KindStatusChange, "b1", events.StatusChangePayload{Status: models.StatusConfirmed})

	for _, conn := range []*websocket.Conn{customer, worker} {
		envlp := readKind(t, conn, events.KindBookingStatus)
		var p events.BookingStatusPayload
		require.NoError(t, envlp.Decode(&p))
		assert.Equal(t, "b1", p.BookingID)
		assert.Equal(t, models.StatusPending, p.Old)
		assert.Equal(t, models.StatusConfirmed, p.New)
	}

	// The other party also gets a stored notification, pushed live.
	notifEnv := readKind(t, customer, events.KindNotification)
	var n models.Notification
	require.NoError(t, notifEnv.Decode(&n))
	assert.Equal(t, models.NotificationBookingStatus, n.Type)
	assert.Equal(t, "c1", n.UserID)

	b, err := env.db.GetBooking(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, b.Status)
	require.Len(t, b.Milestones, 2)
	assert.Equal(t, models.RoleWorker, b.Milestones[1].Actor)
}

func TestStatusChange_InvalidRejectedForCallerOnly(t *testing.T) {
	env := newTestEnv(t, defaultLimits())

	worker := env.dial(t, "w1", models.RoleWorker)
	send(t, worker, events.KindJoinBooking, "b1", nil)
	time.Sleep(50 * time.Millisecond)

	send(t, worker, events.KindStatusChange, "b1", events.StatusChangePayload{Status: models.StatusCompleted})

	errEnv := readKind(t, worker, events.KindError)
	var p events.ErrorPayload
	require.NoError(t, errEnv.Decode(&p))
	assert.Equal(t, "invalid_transition", p.Code)

	b, err := env.db.GetBooking(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, b.Status)
}

func TestLocationUpdate_RelayedToBookingChannel(t *testing.T) {
	env := newTestEnv(t, defaultLimits())

	customer := env.dial(t, "c1", models.RoleCustomer)
	worker := env.dial(t, "w1", models.RoleWorker)

	send(t, customer, events.KindJoinBooking, "b1", nil)
	send(t, worker, events.KindJoinBooking, "b1", nil)
	time.Sleep(50 * time.Millisecond)

	send(t, worker, events.KindLocationUpdate, "b1", models.Location{Lat: 55.75, Lon: 37.62})

	envlp := readKind(t, customer, events.KindLocationUpdate)
	assert.Equal(t, "w1", envlp.SenderID)
	var loc models.Location
	require.NoError(t, envlp.Decode(&loc))
	assert.Equal(t, 55.75, loc.Lat)
}

func TestSendMessage_RateLimited(t *testing.T) {
	env := newTestEnv(t, config.LimitsConfig{MessagesPerWindow: 2, WindowSeconds: 60})

	worker := env.dial(t, "w1", models.RoleWorker)
	joinChat(t, worker, "b1")

	for i := 0; i < 2; i++ {
		send(t, worker, events.KindSendMessage, "b1", events.SendMessagePayload{Type: models.MessageText, Content: "ok"})
		readKind(t, worker, events.KindMessage)
	}

	send(t, worker, events.KindSendMessage, "b1", events.SendMessagePayload{Type: models.MessageText, Content: "too much"})
	errEnv := readKind(t, worker, events.KindError)
	var p events.ErrorPayload
	require.NoError(t, errEnv.Decode(&p))
	assert.Equal(t, "rate_limited", p.Code)
}

func TestUnknownKind_ErrorToSenderOnly(t *testing.T) {
	env := newTestEnv(t, defaultLimits())

	customer := env.dial(t, "c1", models.RoleCustomer)
	send(t, customer, "warp_drive", "", nil)

	errEnv := readKind(t, customer, events.KindError)
	var p events.ErrorPayload
	require.NoError(t, errEnv.Decode(&p))
	assert.Equal(t, "validation_error", p.Code)
}

func TestDisconnect_CleansUpMembership(t *testing.T) {
	env := newTestEnv(t, defaultLimits())

	customer := env.dial(t, "c1", models.RoleCustomer)
	joinChat(t, customer, "b1")

	require.NoError(t, customer.Close())

	require.Eventually(t, func() bool {
		return !env.registry.IsOnline("c1")
	}, 2*time.Second, 10*time.Millisecond)
}
