package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/merkatolabs/merkato/backend/internal/auth"
	"github.com/merkatolabs/merkato/backend/internal/delivery"
	"github.com/merkatolabs/merkato/backend/internal/notify"
	"github.com/merkatolabs/merkato/backend/internal/prefs"
	"github.com/merkatolabs/merkato/backend/internal/session"
)

const viewerContextKey = "merkato_viewer"

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingNotifications = errors.New("notification store dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// BackendTokenManager issues and validates role-bearing backend tokens.
type BackendTokenManager interface {
	IssueToken(ctx context.Context, subject string, role auth.Role) (string, int64, error)
	ValidateToken(token string) (auth.Viewer, error)
}

// SessionController is the admin surface of the session manager.
type SessionController interface {
	Initialize(ctx context.Context) error
	Logout(ctx context.Context)
	Status() session.Status
}

// OrderDispatcher renders and dispatches the admin notification for an order.
type OrderDispatcher interface {
	DispatchOrder(ctx context.Context, orderID string) (delivery.Result, error)
}

// Dependencies wires the HTTP handler.
type Dependencies struct {
	TokenManager  BackendTokenManager
	Notifications *notify.Store
	Dispatcher    OrderDispatcher
	Sessions      SessionController
	Preferences   *prefs.Store
	Stream        *StreamDispatcher
	Logger        *zap.Logger
	Clock         func() time.Time
	// AllowDevTokens enables the unauthenticated token mint endpoint. It is
	// meant for local development and operator tooling only.
	AllowDevTokens bool
}

// NewHTTPHandler builds the gin handler for the notification API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Notifications == nil {
		return nil, errMissingNotifications
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:        deps.TokenManager,
		notifications: deps.Notifications,
		dispatcher:    deps.Dispatcher,
		sessions:      deps.Sessions,
		preferences:   deps.Preferences,
		stream:        deps.Stream,
		logger:        logger,
		clock:         clock,
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.AllowDevTokens {
		router.POST("/auth/token", handler.handleMintToken)
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/notifications", handler.handleListNotifications)
	protected.GET("/notifications/unread_count", handler.handleUnreadCount)
	protected.GET("/notifications/stream", handler.handleNotificationStream)
	protected.POST("/notifications/:id/read", handler.handleMarkRead)
	protected.POST("/notifications/read_all", handler.handleMarkAllRead)
	protected.DELETE("/notifications/:id", handler.handleDeleteNotification)
	protected.PUT("/preferences/sound", handler.handleSetSoundPreference)

	staff := protected.Group("/")
	staff.Use(handler.requireStaff)
	staff.POST("/orders/:id/notify", handler.handleDispatchOrder)
	staff.GET("/session", handler.handleSessionStatus)
	staff.POST("/session/initialize", handler.handleSessionInitialize)
	staff.POST("/session/logout", handler.handleSessionLogout)

	return router, nil
}

type httpHandler struct {
	tokens        BackendTokenManager
	notifications *notify.Store
	dispatcher    OrderDispatcher
	sessions      SessionController
	preferences   *prefs.Store
	stream        *StreamDispatcher
	logger        *zap.Logger
	clock         func() time.Time
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type mintTokenPayload struct {
	Subject string `json:"subject"`
	Role    string `json:"role"`
}

type mintTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleMintToken(c *gin.Context) {
	var request mintTokenPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Subject) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	role, err := auth.ParseRole(request.Role)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_role"})
		return
	}
	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), strings.TrimSpace(request.Subject), role)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, mintTokenResponse{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type notificationListResponse struct {
	Notifications []notify.Record `json:"notifications"`
	UnreadCount   int             `json:"unread_count"`
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	viewer := h.viewer(c)
	c.JSON(http.StatusOK, notificationListResponse{
		Notifications: h.notifications.List(viewer),
		UnreadCount:   h.notifications.UnreadCount(),
	})
}

func (h *httpHandler) handleUnreadCount(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"unread_count": h.notifications.UnreadCount()})
}

func (h *httpHandler) handleMarkRead(c *gin.Context) {
	if !h.notifications.MarkRead(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "notification_not_found"})
		return
	}
	h.publishChange("")
	c.JSON(http.StatusOK, gin.H{"unread_count": h.notifications.UnreadCount()})
}

func (h *httpHandler) handleMarkAllRead(c *gin.Context) {
	h.notifications.MarkAllRead()
	h.publishChange("")
	c.JSON(http.StatusOK, gin.H{"unread_count": 0})
}

func (h *httpHandler) handleDeleteNotification(c *gin.Context) {
	if !h.notifications.Delete(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "notification_not_found"})
		return
	}
	h.publishChange("")
	c.Status(http.StatusNoContent)
}

type soundPreferencePayload struct {
	Enabled *bool `json:"enabled"`
}

func (h *httpHandler) handleSetSoundPreference(c *gin.Context) {
	if h.preferences == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "preferences_unavailable"})
		return
	}
	var request soundPreferencePayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	now := h.clock().UTC().Unix()
	if err := h.preferences.SetBool(c.Request.Context(), prefs.KeySoundEnabled, *request.Enabled, now); err != nil {
		h.logger.Error("failed to persist sound preference", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "preference_write_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": *request.Enabled})
}

func (h *httpHandler) handleDispatchOrder(c *gin.Context) {
	if h.dispatcher == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "dispatch_unavailable"})
		return
	}
	result, err := h.dispatcher.DispatchOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
		return
	}
	response := gin.H{
		"success":  result.Success,
		"attempts": result.Attempts,
	}
	if result.Success {
		response["provider"] = result.Provider
		response["message_id"] = result.MessageID
		c.JSON(http.StatusOK, response)
		return
	}
	if result.Err != nil {
		response["error"] = result.Err.Error()
	}
	c.JSON(http.StatusBadGateway, response)
}

func (h *httpHandler) handleSessionStatus(c *gin.Context) {
	if h.sessions == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "session_unavailable"})
		return
	}
	c.JSON(http.StatusOK, h.sessions.Status())
}

func (h *httpHandler) handleSessionInitialize(c *gin.Context) {
	if h.sessions == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "session_unavailable"})
		return
	}
	if err := h.sessions.Initialize(c.Request.Context()); err != nil {
		if errors.Is(err, session.ErrAlreadyAuthenticating) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, h.sessions.Status())
}

func (h *httpHandler) handleSessionLogout(c *gin.Context) {
	if h.sessions == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "session_unavailable"})
		return
	}
	h.sessions.Logout(c.Request.Context())
	c.JSON(http.StatusOK, h.sessions.Status())
}

func (h *httpHandler) handleNotificationStream(c *gin.Context) {
	if h.stream == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "stream_unavailable"})
		return
	}
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming_unsupported"})
		return
	}

	messages, cleanup := h.stream.Subscribe(c.Request.Context())
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(25 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(c.Writer, "event: %s\ndata: {}\n\n", streamEventHeartbeat)
			flusher.Flush()
		case message := <-messages:
			fmt.Fprintf(c.Writer, "event: %s\ndata: {\"record_id\":%q,\"unread_count\":%d}\n\n",
				message.EventType, message.RecordID, message.UnreadCount)
			flusher.Flush()
		}
	}
}

// authorizeRequest accepts a bearer header or, for stream clients that cannot
// set headers, an access_token query parameter.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	header := c.GetHeader("Authorization")
	switch {
	case strings.HasPrefix(header, "Bearer "):
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	default:
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	viewer, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(viewerContextKey, viewer)
	c.Next()
}

func (h *httpHandler) requireStaff(c *gin.Context) {
	viewer := h.viewer(c)
	if viewer.Role != auth.RoleAdmin && viewer.Role != auth.RoleSales {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	c.Next()
}

func (h *httpHandler) viewer(c *gin.Context) auth.Viewer {
	value, exists := c.Get(viewerContextKey)
	if !exists {
		return auth.Viewer{}
	}
	viewer, ok := value.(auth.Viewer)
	if !ok {
		return auth.Viewer{}
	}
	return viewer
}

func (h *httpHandler) publishChange(recordID string) {
	if h.stream == nil {
		return
	}
	h.stream.Publish(StreamMessage{
		EventType:   StreamEventNotificationChanged,
		RecordID:    recordID,
		UnreadCount: h.notifications.UnreadCount(),
		Timestamp:   h.clock().UTC(),
	})
}
