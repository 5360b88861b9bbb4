package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gameverse-api/cache"
	"gameverse-api/config"
	"gameverse-api/database"
	"gameverse-api/middleware"
	"gameverse-api/models"
	"gameverse-api/repositories"
	"gameverse-api/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// discardQueue stands in for the delivery dispatcher
type discardQueue struct{}

func (discardQueue) Enqueue(*models.Notification) bool { return true }

type apiFixture struct {
	t      *testing.T
	router *gin.Engine
	users  *repositories.UserRepository
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	db, err := database.OpenInMemory()
	require.NoError(t, err)

	done := make(chan struct{})
	t.Cleanup(func() {
		close(done)
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	cfg := &config.Config{}
	cfg.JWT = config.JWTConfig{Secret: "routes-test-secret", TokenTTL: time.Hour, Issuer: "gameverse-api"}
	cfg.RateLimit = config.RateLimitConfig{RequestsPerMinute: 6000, Burst: 1000}

	log := zap.NewNop()
	users := repositories.NewUserRepository(db)
	events := repositories.NewEventRepository(db)
	registrations := repositories.NewRegistrationRepository(db)
	tokens := services.NewTokenService(cfg.JWT)

	notifier := services.NewNotificationService(repositories.NewNotificationRepository(db), users, discardQueue{}, cache.NewMemoryStore(), log)
	coordinator := services.NewRegistrationService(db, events, registrations, users, notifier, log)

	router := gin.New()
	router.Use(middleware.Recovery(log))
	SetupRoutes(router, cfg, Dependencies{
		DB:            db,
		Tokens:        tokens,
		Auth:          services.NewAuthService(users, tokens, log),
		Users:         users,
		Events:        services.NewEventService(db, events, registrations, coordinator, notifier, log),
		Registrations: coordinator,
		Notifications: notifier,
		Games:         services.NewGameService(db, repositories.NewGameRepository(db), users, notifier, log),
		Done:          done,
	})

	return &apiFixture{t: t, router: router, users: users}
}

func (a *apiFixture) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	a.t.Helper()
	var req *http.Request
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dest), w.Body.String())
}

type session struct {
	token  string
	userID string
}

func (a *apiFixture) signUp(name, email string) session {
	a.t.Helper()
	w := a.do(http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"name":     name,
		"email":    email,
		"password": "Secret123!",
	})
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}
	decode(a.t, w, &resp)
	require.NotEmpty(a.t, resp.Token)
	return session{token: resp.Token, userID: resp.User.ID}
}

func (a *apiFixture) promote(s session, email string) session {
	a.t.Helper()
	require.NoError(a.t, a.users.Update(context.Background(), s.userID, map[string]interface{}{"role": models.RoleAdmin}))

	w := a.do(http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": email, "password": "Secret123!"})
	require.Equal(a.t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	decode(a.t, w, &resp)
	return session{token: resp.Token, userID: s.userID}
}

func (a *apiFixture) createEvent(organizer session, capacity int) models.Event {
	a.t.Helper()
	start := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Second)
	w := a.do(http.MethodPost, "/api/v1/events", organizer.token, gin.H{
		"title":            "Spring Invitational",
		"type":             models.EventTypeTournament,
		"start_time":       start,
		"end_time":         start.Add(3 * time.Hour),
		"max_participants": capacity,
		"location":         "Hall B",
	})
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Data models.Event `json:"data"`
	}
	decode(a.t, w, &resp)
	return resp.Data
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Code string `json:"code"`
	}
	decode(t, w, &resp)
	return resp.Code
}

func TestPing(t *testing.T) {
	api := newAPI(t)
	w := api.do(http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"healthy"`)
}

func TestAuthFlow(t *testing.T) {
	api := newAPI(t)
	api.signUp("Ana", "ana@example.com")

	w := api.do(http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"name": "Ana Again", "email": "ANA@example.com", "password": "Secret123!",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CONFLICT", errorCode(t, w))

	w = api.do(http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"name": "Weak", "email": "weak@example.com", "password": "password",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "ana@example.com", "password": "nope-Nope1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = api.do(http.MethodGet, "/api/v1/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestEventRegistrationFlow(t *testing.T) {
	api := newAPI(t)
	organizer := api.signUp("Org", "org@example.com")
	first := api.signUp("First", "first@example.com")
	second := api.signUp("Second", "second@example.com")

	event := api.createEvent(organizer, 1)
	assert.Equal(t, models.EventStatusUpcoming, event.Status)

	// public read
	w := api.do(http.MethodGet, "/api/v1/events/"+event.ID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = api.do(http.MethodPost, "/api/v1/events/"+event.ID+"/register", first.token, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = api.do(http.MethodPost, "/api/v1/events/"+event.ID+"/register", first.token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ALREADY_REGISTERED", errorCode(t, w))

	w = api.do(http.MethodPost, "/api/v1/events/"+event.ID+"/register", second.token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "EVENT_FULL", errorCode(t, w))

	w = api.do(http.MethodGet, "/api/v1/events/"+event.ID+"/registration/qrcode", first.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))

	// only the organizer sees the attendee list
	w = api.do(http.MethodGet, "/api/v1/events/"+event.ID+"/registrations", second.token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = api.do(http.MethodGet, "/api/v1/events/"+event.ID+"/registrations", organizer.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = api.do(http.MethodDelete, "/api/v1/events/"+event.ID+"/register", first.token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = api.do(http.MethodPost, "/api/v1/events/"+event.ID+"/register", second.token, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = api.do(http.MethodGet, "/api/v1/events/"+event.ID, "", nil)
	var reloaded models.Event
	decode(t, w, &reloaded)
	assert.Equal(t, 1, reloaded.CurrentParticipants)
	assert.Contains(t, w.Body.String(), `"remaining_seats":0`)

	w = api.do(http.MethodGet, "/api/v1/users/me/registrations", second.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)

	w = api.do(http.MethodPost, "/api/v1/events/"+event.ID+"/cancel", organizer.token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = api.do(http.MethodPost, "/api/v1/events/"+event.ID+"/cancel", organizer.token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "INVALID_STATE", errorCode(t, w))
}

func TestRegister_ChunkedBodyIsBound(t *testing.T) {
	api := newAPI(t)
	organizer := api.signUp("Org", "org@example.com")
	player := api.signUp("Player", "player@example.com")
	event := api.createEvent(organizer, 5)

	register := func(body io.Reader) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/events/"+event.ID+"/register", body)
		req.ContentLength = -1
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+player.token)
		w := httptest.NewRecorder()
		api.router.ServeHTTP(w, req)
		return w
	}

	w := register(strings.NewReader(`{"remark":`))
	assert.Equal(t, http.StatusBadRequest, w.Code, "malformed chunked body is rejected")

	w = register(strings.NewReader(`{"contact_info":"discord: player#1","remark":"bringing my own pad"}`))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Data models.EventRegistration `json:"data"`
	}
	decode(t, w, &resp)
	assert.Equal(t, "discord: player#1", resp.Data.ContactInfo)
	assert.Equal(t, "bringing my own pad", resp.Data.Remark)
}

func TestRegister_EmptyChunkedBody(t *testing.T) {
	api := newAPI(t)
	organizer := api.signUp("Org", "org@example.com")
	player := api.signUp("Player", "player@example.com")
	event := api.createEvent(organizer, 5)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/"+event.ID+"/register", strings.NewReader(""))
	req.ContentLength = -1
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+player.token)
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestCreateEvent_Validation(t *testing.T) {
	api := newAPI(t)
	organizer := api.signUp("Org", "org@example.com")

	past := time.Now().UTC().Add(-time.Hour)
	w := api.do(http.MethodPost, "/api/v1/events", organizer.token, gin.H{
		"title":      "Yesterday",
		"type":       models.EventTypeMeetup,
		"start_time": past,
		"end_time":   past.Add(time.Hour),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w))

	w = api.do(http.MethodGet, "/api/v1/events/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNotificationsFlow(t *testing.T) {
	api := newAPI(t)
	organizer := api.signUp("Org", "org@example.com")
	player := api.signUp("Player", "player@example.com")
	event := api.createEvent(organizer, 10)

	w := api.do(http.MethodPost, "/api/v1/events/"+event.ID+"/register", player.token, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = api.do(http.MethodGet, "/api/v1/notifications", player.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page models.PaginatedNotifications
	decode(t, w, &page)
	require.Len(t, page.Notifications, 1)
	assert.Equal(t, models.NotificationTypeEventRegister, page.Notifications[0].Type)
	assert.False(t, page.Notifications[0].IsRead)

	w = api.do(http.MethodGet, "/api/v1/notifications/unread-count", player.token, nil)
	var counts models.UnreadCounts
	decode(t, w, &counts)
	assert.EqualValues(t, 1, counts.Total)

	// someone else's notification is invisible
	w = api.do(http.MethodPut, "/api/v1/notifications/"+page.Notifications[0].ID+"/read", organizer.token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = api.do(http.MethodPut, "/api/v1/notifications/"+page.Notifications[0].ID+"/read", player.token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = api.do(http.MethodGet, "/api/v1/notifications/unread-count", player.token, nil)
	decode(t, w, &counts)
	assert.EqualValues(t, 0, counts.Total)

	w = api.do(http.MethodDelete, "/api/v1/notifications/"+page.Notifications[0].ID, player.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = api.do(http.MethodGet, "/api/v1/notifications", player.token, nil)
	decode(t, w, &page)
	assert.Empty(t, page.Notifications)
}

func TestNotificationSettings(t *testing.T) {
	api := newAPI(t)
	player := api.signUp("Player", "player@example.com")

	w := api.do(http.MethodGet, "/api/v1/users/me/notification-settings", player.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var settings models.NotificationSettings
	decode(t, w, &settings)
	assert.True(t, settings.CommunityEnabled)
	assert.Equal(t, models.DefaultPushWindowStart, settings.PushWindowStart)

	w = api.do(http.MethodPut, "/api/v1/users/me/notification-settings", player.token, gin.H{"push_window_start": "25:00"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(http.MethodPut, "/api/v1/users/me/notification-settings", player.token, gin.H{
		"community_enabled": false,
		"push_window_end":   "23:30",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = api.do(http.MethodGet, "/api/v1/users/me/notification-settings", player.token, nil)
	decode(t, w, &settings)
	assert.False(t, settings.CommunityEnabled)
	assert.True(t, settings.EventEnabled)
	assert.Equal(t, "23:30", settings.PushWindowEnd)
}

func TestAdminRoutes(t *testing.T) {
	api := newAPI(t)
	player := api.signUp("Player", "player@example.com")
	other := api.signUp("Other", "other@example.com")
	admin := api.promote(api.signUp("Admin", "admin@example.com"), "admin@example.com")

	broadcast := gin.H{"title": "Maintenance tonight", "content": "Servers restart at 02:00."}
	w := api.do(http.MethodPost, "/api/v1/admin/notifications/broadcast", player.token, broadcast)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(http.MethodPost, "/api/v1/admin/notifications/broadcast", admin.token, broadcast)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"created":3`)

	w = api.do(http.MethodPost, "/api/v1/admin/notifications/broadcast", admin.token, gin.H{
		"title":    "Just you",
		"user_ids": []string{other.userID, "ghost"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	var report struct {
		Created  int `json:"created"`
		Failures []struct {
			UserID string `json:"user_id"`
		} `json:"failures"`
	}
	decode(t, w, &report)
	assert.Equal(t, 1, report.Created)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "ghost", report.Failures[0].UserID)

	w = api.do(http.MethodGet, "/api/v1/notifications?type=SYSTEM", other.token, nil)
	var page models.PaginatedNotifications
	decode(t, w, &page)
	assert.EqualValues(t, 2, page.Total)

	event := api.createEvent(player, 5)
	w = api.do(http.MethodPut, "/api/v1/admin/events/"+event.ID+"/status", admin.token, gin.H{"status": "ONGOING"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = api.do(http.MethodPut, "/api/v1/admin/events/"+event.ID+"/status", admin.token, gin.H{"status": "UPCOMING"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestPostInteractionsNotifyAuthor(t *testing.T) {
	api := newAPI(t)
	author := api.signUp("Author", "author@example.com")
	fan := api.signUp("Fan", "fan@example.com")

	w := api.do(http.MethodPost, "/api/v1/posts", author.token, gin.H{"title": "Best speedrun route", "content": "Skip the bridge."})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Data models.Post `json:"data"`
	}
	decode(t, w, &created)
	postID := created.Data.ID

	w = api.do(http.MethodPost, "/api/v1/posts/"+postID+"/like", fan.token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = api.do(http.MethodPost, "/api/v1/posts/"+postID+"/like", fan.token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// liking your own post is silent
	w = api.do(http.MethodPost, "/api/v1/posts/"+postID+"/like", author.token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = api.do(http.MethodPost, "/api/v1/posts/"+postID+"/comments", fan.token, gin.H{"body": "Works!"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = api.do(http.MethodGet, "/api/v1/posts/"+postID, author.token, nil)
	var post models.Post
	decode(t, w, &post)
	assert.Equal(t, 2, post.LikesCount)
	assert.Equal(t, 1, post.CommentsCount)

	w = api.do(http.MethodGet, "/api/v1/notifications/unread-count", author.token, nil)
	var counts models.UnreadCounts
	decode(t, w, &counts)
	assert.EqualValues(t, 2, counts.Total)
	assert.EqualValues(t, 1, counts.ByType[models.NotificationTypePostLike])
	assert.EqualValues(t, 1, counts.ByType[models.NotificationTypePostReply])

	w = api.do(http.MethodGet, "/api/v1/notifications/unread-count", fan.token, nil)
	decode(t, w, &counts)
	assert.EqualValues(t, 0, counts.Total)
}

func TestGameCatalogFlow(t *testing.T) {
	api := newAPI(t)
	player := api.signUp("Player", "player@example.com")
	bystander := api.signUp("Bystander", "bystander@example.com")
	admin := api.promote(api.signUp("Admin", "admin@example.com"), "admin@example.com")

	newGame := gin.H{"title": "Starfall Tactics", "price": 40, "categories": []string{"Strategy", "Sci-Fi"}}
	w := api.do(http.MethodPost, "/api/v1/admin/games", player.token, newGame)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(http.MethodPost, "/api/v1/admin/games", admin.token, newGame)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Data models.Game `json:"data"`
	}
	decode(t, w, &created)
	gameID := created.Data.ID

	// catalog reads are public
	w = api.do(http.MethodGet, "/api/v1/games?category=Sci-Fi", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)
	w = api.do(http.MethodGet, "/api/v1/games/categories", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"categories":["Sci-Fi","Strategy"]}`, w.Body.String())
	w = api.do(http.MethodGet, "/api/v1/games?min_rating=lots", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(http.MethodPut, "/api/v1/games/"+gameID+"/rating", player.token, gin.H{"rating": 5})
	assert.Equal(t, http.StatusForbidden, w.Code, "rating needs ownership")

	w = api.do(http.MethodPost, "/api/v1/games/"+gameID+"/library", player.token, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = api.do(http.MethodPost, "/api/v1/games/"+gameID+"/library", player.token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = api.do(http.MethodPut, "/api/v1/games/"+gameID+"/rating", player.token, gin.H{"rating": 4, "review": "Deep"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = api.do(http.MethodPost, "/api/v1/games/"+gameID+"/playtime", player.token, gin.H{"minutes": 90})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = api.do(http.MethodGet, "/api/v1/users/me/games", player.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"play_time_minutes":90`)

	w = api.do(http.MethodPost, "/api/v1/admin/games/"+gameID+"/discount", admin.token, gin.H{"percent": 25})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"notified":1`)

	w = api.do(http.MethodGet, "/api/v1/games/"+gameID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"current_price":30`)
	assert.Contains(t, w.Body.String(), `"rating":4`)

	w = api.do(http.MethodGet, "/api/v1/notifications?type=GAME_DISCOUNT", player.token, nil)
	var page models.PaginatedNotifications
	decode(t, w, &page)
	assert.EqualValues(t, 1, page.Total)
	w = api.do(http.MethodGet, "/api/v1/notifications?type=GAME_DISCOUNT", bystander.token, nil)
	decode(t, w, &page)
	assert.EqualValues(t, 0, page.Total)

	w = api.do(http.MethodDelete, "/api/v1/admin/games/"+gameID, admin.token, nil)
	assert.Equal(t, http.StatusConflict, w.Code, "still in a library")
	w = api.do(http.MethodDelete, "/api/v1/games/"+gameID+"/library", player.token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = api.do(http.MethodDelete, "/api/v1/admin/games/"+gameID, admin.token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = api.do(http.MethodGet, "/api/v1/games/"+gameID, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
