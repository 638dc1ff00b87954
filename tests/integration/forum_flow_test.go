package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/gorilla/websocket"
	"github.com/opencove/cove/internal/auth"
	"github.com/opencove/cove/internal/forum"
	"github.com/opencove/cove/internal/realtime"
	"github.com/opencove/cove/internal/server"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	integrationSigningSecret = "integration-secret"
	jsonContentType          = "application/json"
)

type stack struct {
	server   *httptest.Server
	registry *realtime.Registry
}

func newStack(testContext *testing.T) *stack {
	testContext.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file:integration?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	err = db.AutoMigrate(
		&forum.User{}, &forum.Community{}, &forum.Post{},
		&forum.Comment{}, &forum.Vote{}, &forum.Notification{},
	)
	if err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}

	registry := realtime.NewRegistry()
	forumService, err := forum.NewService(forum.ServiceConfig{
		Database: db,
		Pusher:   server.NewNotificationPusher(registry),
		Logger:   zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build forum service: %v", err)
	}

	issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(integrationSigningSecret),
		Issuer:        "cove-auth",
		Audience:      "cove-api",
		TokenTTL:      time.Hour,
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens:     issuer,
		Forum:      forumService,
		Registry:   registry,
		UploadsDir: testContext.TempDir(),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	testContext.Cleanup(testServer.Close)
	return &stack{server: testServer, registry: registry}
}

func (s *stack) postJSON(testContext *testing.T, path string, token string, payload any) (*http.Response, []byte) {
	testContext.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		testContext.Fatalf("failed to marshal payload: %v", err)
	}
	request, err := http.NewRequest(http.MethodPost, s.server.URL+path, bytes.NewReader(body))
	if err != nil {
		testContext.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Content-Type", jsonContentType)
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	return s.do(testContext, request)
}

func (s *stack) getJSON(testContext *testing.T, path string, token string) (*http.Response, []byte) {
	testContext.Helper()
	request, err := http.NewRequest(http.MethodGet, s.server.URL+path, nil)
	if err != nil {
		testContext.Fatalf("failed to build request: %v", err)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	return s.do(testContext, request)
}

func (s *stack) do(testContext *testing.T, request *http.Request) (*http.Response, []byte) {
	testContext.Helper()
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()
	var buffer bytes.Buffer
	if _, err := buffer.ReadFrom(response.Body); err != nil {
		testContext.Fatalf("failed to read response body: %v", err)
	}
	return response, buffer.Bytes()
}

func (s *stack) signUp(testContext *testing.T, username string) (string, int64) {
	testContext.Helper()
	credentials := map[string]string{"username": username, "password": "pw-" + username}

	response, body := s.postJSON(testContext, "/api/auth/register", "", credentials)
	if response.StatusCode != http.StatusCreated {
		testContext.Fatalf("register failed with %d: %s", response.StatusCode, body)
	}
	var registered struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(body, &registered); err != nil {
		testContext.Fatalf("failed to decode register response: %v", err)
	}

	response, body = s.postJSON(testContext, "/api/auth/login", "", credentials)
	if response.StatusCode != http.StatusOK {
		testContext.Fatalf("login failed with %d: %s", response.StatusCode, body)
	}
	var session struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &session); err != nil {
		testContext.Fatalf("failed to decode login response: %v", err)
	}
	return session.Token, registered.ID
}

func TestForumFlowEndToEnd(testContext *testing.T) {
	forumStack := newStack(testContext)

	authorToken, authorID := forumStack.signUp(testContext, "alice")
	readerToken, _ := forumStack.signUp(testContext, "bob")

	response, body := forumStack.postJSON(testContext, "/api/communities", authorToken, map[string]string{"name": "golang"})
	if response.StatusCode != http.StatusCreated {
		testContext.Fatalf("community creation failed with %d: %s", response.StatusCode, body)
	}

	response, body = forumStack.postJSON(testContext, "/api/posts", authorToken, map[string]any{
		"title":        "release notes",
		"content":      "what shipped this week",
		"community_id": 1,
	})
	if response.StatusCode != http.StatusCreated {
		testContext.Fatalf("post creation failed with %d: %s", response.StatusCode, body)
	}
	var post struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(body, &post); err != nil {
		testContext.Fatalf("failed to decode post: %v", err)
	}

	// The author keeps a live socket open while the reader interacts.
	socketURL := "ws" + strings.TrimPrefix(forumStack.server.URL, "http") + "/socket?token=" + authorToken
	conn, _, err := websocket.DefaultDialer.Dial(socketURL, nil)
	if err != nil {
		testContext.Fatalf("failed to dial socket: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for !forumStack.registry.Connected(authorID) {
		if time.Now().After(deadline) {
			testContext.Fatalf("author session never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	response, body = forumStack.postJSON(testContext, "/api/vote", readerToken, map[string]any{
		"postId":    post.ID,
		"voteValue": 1,
	})
	if response.StatusCode != http.StatusOK {
		testContext.Fatalf("vote failed with %d: %s", response.StatusCode, body)
	}

	response, body = forumStack.postJSON(testContext,
		fmt.Sprintf("/api/posts/%d/comments", post.ID), readerToken,
		map[string]string{"content": "congrats on the release"})
	if response.StatusCode != http.StatusCreated {
		testContext.Fatalf("comment failed with %d: %s", response.StatusCode, body)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event struct {
		Type    string `json:"type"`
		Payload struct {
			RecipientID int64 `json:"recipient_id"`
		} `json:"payload"`
	}
	if err := conn.ReadJSON(&event); err != nil {
		testContext.Fatalf("expected pushed notification frame: %v", err)
	}
	if event.Type != realtime.EventNewNotification {
		testContext.Fatalf("unexpected event type %q", event.Type)
	}
	if event.Payload.RecipientID != authorID {
		testContext.Fatalf("notification addressed to %d, want %d", event.Payload.RecipientID, authorID)
	}

	response, body = forumStack.getJSON(testContext, "/api/posts?sort=hot", readerToken)
	if response.StatusCode != http.StatusOK {
		testContext.Fatalf("listing failed with %d: %s", response.StatusCode, body)
	}
	var listing []struct {
		Votes        int64 `json:"votes"`
		UserVote     int   `json:"user_vote"`
		CommentCount int64 `json:"comment_count"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		testContext.Fatalf("failed to decode listing: %v", err)
	}
	if len(listing) != 1 {
		testContext.Fatalf("expected one post, got %d", len(listing))
	}
	if listing[0].Votes != 1 || listing[0].UserVote != 1 || listing[0].CommentCount != 1 {
		testContext.Fatalf("unexpected aggregates: %+v", listing[0])
	}

	response, body = forumStack.getJSON(testContext, "/api/notifications", authorToken)
	if response.StatusCode != http.StatusOK {
		testContext.Fatalf("notification listing failed with %d: %s", response.StatusCode, body)
	}
	var notifications []struct {
		SenderUsername string `json:"sender_username"`
		IsRead         bool   `json:"is_read"`
	}
	if err := json.Unmarshal(body, &notifications); err != nil {
		testContext.Fatalf("failed to decode notifications: %v", err)
	}
	if len(notifications) != 1 || notifications[0].SenderUsername != "bob" || notifications[0].IsRead {
		testContext.Fatalf("unexpected notifications: %#v", notifications)
	}

	response, _ = forumStack.postJSON(testContext, "/api/notifications/read", authorToken, map[string]any{})
	if response.StatusCode != http.StatusNoContent {
		testContext.Fatalf("mark read failed with %d", response.StatusCode)
	}

	response, body = forumStack.getJSON(testContext, "/api/notifications", authorToken)
	if response.StatusCode != http.StatusOK {
		testContext.Fatalf("notification relisting failed with %d", response.StatusCode)
	}
	if err := json.Unmarshal(body, &notifications); err != nil {
		testContext.Fatalf("failed to decode notifications: %v", err)
	}
	if len(notifications) != 1 || !notifications[0].IsRead {
		testContext.Fatalf("expected notification to be marked read: %#v", notifications)
	}

	response, body = forumStack.getJSON(testContext, "/api/users/alice", "")
	if response.StatusCode != http.StatusOK {
		testContext.Fatalf("profile lookup failed with %d", response.StatusCode)
	}
	var profile struct {
		Username  string `json:"username"`
		PostKarma int64  `json:"post_karma"`
	}
	if err := json.Unmarshal(body, &profile); err != nil {
		testContext.Fatalf("failed to decode profile: %v", err)
	}
	if profile.Username != "alice" || profile.PostKarma != 1 {
		testContext.Fatalf("unexpected profile: %+v", profile)
	}
}
