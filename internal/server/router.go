package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/opencove/cove/internal/auth"
	"github.com/opencove/cove/internal/forum"
	"github.com/opencove/cove/internal/realtime"
	"go.uber.org/zap"
)

const (
	userIDContextKey   = "cove_user_id"
	usernameContextKey = "cove_username"
)

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingForumService  = errors.New("forum service dependency required")
	errMissingRegistry      = errors.New("session registry dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates bearer tokens.
type TokenManager interface {
	IssueToken(userID int64, username string) (string, int64, error)
	ValidateToken(token string) (auth.Claims, error)
}

// Dependencies wires the HTTP surface to its collaborators.
type Dependencies struct {
	Tokens     TokenManager
	Forum      *forum.Service
	Registry   *realtime.Registry
	UploadsDir string
	Logger     *zap.Logger
}

// NewNotificationPusher adapts the session registry to the forum service's
// best-effort push contract.
func NewNotificationPusher(registry *realtime.Registry) forum.Pusher {
	return notificationPusher{registry: registry}
}

type notificationPusher struct {
	registry *realtime.Registry
}

func (p notificationPusher) Push(recipientID int64, notification forum.Notification) {
	p.registry.Push(recipientID, realtime.Event{
		Type:    realtime.EventNewNotification,
		Payload: notification,
	})
}

// NewHTTPHandler builds the gin router serving the REST surface, the upload
// endpoint and the websocket handshake.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenManager
	}
	if deps.Forum == nil {
		return nil, errMissingForumService
	}
	if deps.Registry == nil {
		return nil, errMissingRegistry
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:     deps.Tokens,
		forum:      deps.Forum,
		registry:   deps.Registry,
		uploadsDir: deps.UploadsDir,
		logger:     logger,
	}

	router.POST("/api/auth/register", handler.handleRegister)
	router.POST("/api/auth/login", handler.handleLogin)

	router.GET("/api/posts", handler.attachIdentity, handler.handleListPosts)
	router.GET("/api/posts/:postId", handler.attachIdentity, handler.handleGetPost)
	router.GET("/api/posts/:postId/comments", handler.handleListComments)
	router.GET("/api/communities", handler.handleListCommunities)
	router.GET("/api/users/:username", handler.handleGetProfile)
	router.GET("/api/search", handler.handleSearch)

	protected := router.Group("/api")
	protected.Use(handler.authorizeRequest)
	protected.POST("/posts", handler.handleCreatePost)
	protected.POST("/posts/:postId/comments", handler.handleCreateComment)
	protected.POST("/vote", handler.handleVote)
	protected.GET("/notifications", handler.handleListNotifications)
	protected.POST("/notifications/read", handler.handleMarkNotificationsRead)
	protected.POST("/communities", handler.handleCreateCommunity)
	protected.POST("/upload", handler.handleUpload)

	router.GET("/socket", handler.handleSocket)

	if deps.UploadsDir != "" {
		router.Static("/uploads", deps.UploadsDir)
	}

	return router, nil
}

type httpHandler struct {
	tokens     TokenManager
	forum      *forum.Service
	registry   *realtime.Registry
	uploadsDir string
	logger     *zap.Logger
}

type credentialsPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		strings.TrimSpace(request.Username) == "" || request.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	hash, err := auth.HashPassword(request.Password)
	if err != nil {
		h.logger.Error("password hashing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration_failed"})
		return
	}

	user, err := h.forum.RegisterUser(c.Request.Context(), request.Username, hash)
	if errors.Is(err, forum.ErrUsernameTaken) {
		c.JSON(http.StatusConflict, gin.H{"error": "username already exists"})
		return
	}
	if err != nil {
		h.logger.Error("user registration failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration_failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": user.ID, "username": user.Username})
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.forum.UserByUsername(c.Request.Context(), request.Username)
	if err == nil {
		err = auth.VerifyPassword(user.PasswordHash, request.Password)
	}
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, expiresIn, err := h.tokens.IssueToken(user.ID, user.Username)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "expires_in": expiresIn})
}

func (h *httpHandler) handleListPosts(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))

	posts, err := h.forum.ListPosts(c.Request.Context(), forum.ListPostsQuery{
		Sort:          c.DefaultQuery("sort", "hot"),
		CommunityName: c.Query("communityName"),
		Page:          page,
		CallerID:      c.GetInt64(userIDContextKey),
	})
	if errors.Is(err, forum.ErrInvalidSortMode) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sort mode"})
		return
	}
	if err != nil {
		h.logger.Error("post listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing_failed"})
		return
	}

	c.JSON(http.StatusOK, posts)
}

type createPostPayload struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	CommunityID int64  `json:"community_id"`
	PostType    string `json:"post_type"`
	URL         string `json:"url"`
	ImageURL    string `json:"image_url"`
}

func (h *httpHandler) handleCreatePost(c *gin.Context) {
	var request createPostPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	post, err := h.forum.CreatePost(c.Request.Context(), forum.CreatePostInput{
		AuthorID:    c.GetInt64(userIDContextKey),
		CommunityID: request.CommunityID,
		Title:       request.Title,
		Content:     request.Content,
		PostType:    forum.PostType(request.PostType),
		URL:         request.URL,
		ImageURL:    request.ImageURL,
	})
	if errors.Is(err, forum.ErrEmptyBody) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}
	if err != nil {
		h.logger.Error("post creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "post_creation_failed"})
		return
	}

	c.JSON(http.StatusCreated, post)
}

func (h *httpHandler) handleGetPost(c *gin.Context) {
	postID, err := strconv.ParseInt(c.Param("postId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid post id"})
		return
	}

	post, err := h.forum.GetPost(c.Request.Context(), postID, c.GetInt64(userIDContextKey))
	if errors.Is(err, forum.ErrPostNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	}
	if err != nil {
		h.logger.Error("post fetch failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "fetch_failed"})
		return
	}

	c.JSON(http.StatusOK, post)
}

type createCommentPayload struct {
	Content  string `json:"content"`
	ParentID *int64 `json:"parentId"`
}

func (h *httpHandler) handleCreateComment(c *gin.Context) {
	postID, err := strconv.ParseInt(c.Param("postId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid post id"})
		return
	}

	var request createCommentPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	comment, err := h.forum.CreateComment(c.Request.Context(), forum.CreateCommentInput{
		PostID:   postID,
		AuthorID: c.GetInt64(userIDContextKey),
		ParentID: request.ParentID,
		Content:  request.Content,
	})
	switch {
	case errors.Is(err, forum.ErrPostNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	case errors.Is(err, forum.ErrParentNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": "parent comment not found"})
		return
	case errors.Is(err, forum.ErrEmptyBody):
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	case err != nil:
		h.logger.Error("comment creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "comment_creation_failed"})
		return
	}

	c.JSON(http.StatusCreated, comment)
}

func (h *httpHandler) handleListComments(c *gin.Context) {
	postID, err := strconv.ParseInt(c.Param("postId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid post id"})
		return
	}

	tree, err := h.forum.ListComments(c.Request.Context(), postID)
	if err != nil {
		h.logger.Error("comment listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing_failed"})
		return
	}

	c.JSON(http.StatusOK, tree)
}

type votePayload struct {
	PostID    int64 `json:"postId"`
	VoteValue int   `json:"voteValue"`
}

func (h *httpHandler) handleVote(c *gin.Context) {
	var request votePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	err := h.forum.CastVote(c.Request.Context(), c.GetInt64(userIDContextKey), request.PostID, request.VoteValue)
	if errors.Is(err, forum.ErrInvalidVoteValue) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "vote value must be -1, 0 or 1"})
		return
	}
	if err != nil {
		h.logger.Error("vote failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "vote_failed"})
		return
	}

	c.Status(http.StatusOK)
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	notifications, err := h.forum.ListNotifications(c.Request.Context(), c.GetInt64(userIDContextKey))
	if err != nil {
		h.logger.Error("notification listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing_failed"})
		return
	}
	c.JSON(http.StatusOK, notifications)
}

func (h *httpHandler) handleMarkNotificationsRead(c *gin.Context) {
	if err := h.forum.MarkNotificationsRead(c.Request.Context(), c.GetInt64(userIDContextKey)); err != nil {
		h.logger.Error("marking notifications read failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListCommunities(c *gin.Context) {
	communities, err := h.forum.ListCommunities(c.Request.Context())
	if err != nil {
		h.logger.Error("community listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing_failed"})
		return
	}
	c.JSON(http.StatusOK, communities)
}

type createCommunityPayload struct {
	Name string `json:"name"`
}

func (h *httpHandler) handleCreateCommunity(c *gin.Context) {
	var request createCommunityPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	community, err := h.forum.CreateCommunity(c.Request.Context(), request.Name, c.GetInt64(userIDContextKey))
	if errors.Is(err, forum.ErrCommunityExists) {
		c.JSON(http.StatusConflict, gin.H{"error": "community name already exists"})
		return
	}
	if err != nil {
		h.logger.Error("community creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "community_creation_failed"})
		return
	}

	c.JSON(http.StatusCreated, community)
}

func (h *httpHandler) handleGetProfile(c *gin.Context) {
	profile, err := h.forum.GetProfile(c.Request.Context(), c.Param("username"))
	if errors.Is(err, forum.ErrUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if err != nil {
		h.logger.Error("profile fetch failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "fetch_failed"})
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) handleSearch(c *gin.Context) {
	results, err := h.forum.Search(c.Request.Context(), c.Query("q"))
	if err != nil {
		h.logger.Error("search failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search_failed"})
		return
	}
	c.JSON(http.StatusOK, results)
}

// authorizeRequest requires a valid bearer token and stores the caller's
// identity on the request context.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, claims.UserID)
	c.Set(usernameContextKey, claims.Username)
	c.Next()
}

// attachIdentity resolves the caller's identity when a bearer token is
// present but lets anonymous requests through. Listing reads use it so the
// caller's own vote can be reported without requiring login.
func (h *httpHandler) attachIdentity(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if claims, err := h.tokens.ValidateToken(token); err == nil {
			c.Set(userIDContextKey, claims.UserID)
			c.Set(usernameContextKey, claims.Username)
		}
	}
	c.Next()
}
