package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/relaycargo/relay/backend/internal/auth"
	"github.com/relaycargo/relay/backend/internal/chat"
	"github.com/relaycargo/relay/backend/internal/collab"
	"github.com/relaycargo/relay/backend/internal/partners"
	"github.com/relaycargo/relay/backend/internal/users"
	"go.uber.org/zap"
)

const userIDContextKey = "relay_user_id"

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingRequestsService  = errors.New("requests service dependency required")
	errMissingRequestFeed      = errors.New("request feed dependency required")
	errMissingChatService      = errors.New("chat service dependency required")
	errMissingChatLog          = errors.New("chat log dependency required")
	errMissingPartnerResolver  = errors.New("partner resolver dependency required")
	errMissingUserDirectory    = errors.New("user directory dependency required")
)

type Dependencies struct {
	Sessions  *auth.SessionValidator
	Issuer    *auth.SessionIssuer
	Requests  *collab.Service
	Feed      *collab.Feed
	Chat      *chat.Service
	ChatLog   chat.MessageLog
	Partners  *partners.Resolver
	Directory *users.Directory
	Logger    *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Requests == nil {
		return nil, errMissingRequestsService
	}
	if deps.Feed == nil {
		return nil, errMissingRequestFeed
	}
	if deps.Chat == nil {
		return nil, errMissingChatService
	}
	if deps.ChatLog == nil {
		return nil, errMissingChatLog
	}
	if deps.Partners == nil {
		return nil, errMissingPartnerResolver
	}
	if deps.Directory == nil {
		return nil, errMissingUserDirectory
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	handler := &httpHandler{
		sessions:  deps.Sessions,
		issuer:    deps.Issuer,
		requests:  deps.Requests,
		feed:      deps.Feed,
		chat:      deps.Chat,
		chatLog:   deps.ChatLog,
		partners:  deps.Partners,
		directory: deps.Directory,
		logger:    logger,
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.Issuer != nil {
		router.POST("/auth/session", handler.handleSessionLogin)
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/requests", handler.handleOpenRequest)
	protected.GET("/requests", handler.handleListRequests)
	protected.POST("/requests/:id/quote", handler.handleQuote)
	protected.POST("/requests/:id/confirm", handler.handleConfirm)
	protected.POST("/requests/:id/complete", handler.handleComplete)
	protected.POST("/requests/:id/decline", handler.handleDecline)
	protected.DELETE("/requests/:id", handler.handleDeleteRequest)
	protected.GET("/partners", handler.handleListPartners)
	protected.GET("/users", handler.handleListUsers)
	protected.GET("/conversations/:partner/messages", handler.handleListMessages)
	protected.POST("/conversations/:partner/messages", handler.handleSendMessage)
	protected.POST("/conversations/:partner/read", handler.handleMarkRead)
	protected.GET("/events", handler.handleEvents)

	return router, nil
}

type httpHandler struct {
	sessions  *auth.SessionValidator
	issuer    *auth.SessionIssuer
	requests  *collab.Service
	feed      *collab.Feed
	chat      *chat.Service
	chatLog   chat.MessageLog
	partners  *partners.Resolver
	directory *users.Directory
	logger    *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type sessionLoginPayload struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	Role        string `json:"role"`
}

// handleSessionLogin mints a session cookie directly. Mounted only when an
// issuer is configured; production deployments receive sessions from the
// identity front instead.
func (h *httpHandler) handleSessionLogin(c *gin.Context) {
	var request sessionLoginPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	token, expiresAt, err := h.issuer.Issue(auth.SessionClaims{
		UserID:      strings.TrimSpace(request.UserID),
		Email:       request.Email,
		DisplayName: request.DisplayName,
		AvatarURL:   request.AvatarURL,
		Role:        request.Role,
	})
	if err != nil {
		h.logger.Error("failed to issue session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_issue_failed"})
		return
	}

	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.sessions.CookieName(),
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	c.JSON(http.StatusOK, gin.H{"expires_at_s": expiresAt.Unix()})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if _, err := h.directory.Ensure(c.Request.Context(), users.ProfileClaims{
		UserID:      claims.UserID,
		Email:       claims.Email,
		DisplayName: claims.DisplayName,
		AvatarURL:   claims.AvatarURL,
		Role:        claims.Role,
	}); err != nil {
		h.logger.Warn("profile refresh failed", zap.Error(err), zap.String("user_id", claims.UserID))
	}
	c.Set(userIDContextKey, claims.UserID)
	c.Next()
}

type openRequestPayload struct {
	ToUserID     string          `json:"to_user_id"`
	TargetTripID string          `json:"target_trip_id"`
	Package      json.RawMessage `json:"package"`
}

type quoteRequestPayload struct {
	Price float64 `json:"price"`
	Note  string  `json:"note"`
}

type requestPayload struct {
	ID                 string          `json:"id"`
	FromUserID         string          `json:"from_user_id"`
	ToUserID           string          `json:"to_user_id"`
	TargetTripID       string          `json:"target_trip_id,omitempty"`
	Package            json.RawMessage `json:"package,omitempty"`
	Status             string          `json:"status"`
	Quote              *quotePayload   `json:"quote,omitempty"`
	CreatedAtSeconds   int64           `json:"created_at_s"`
	CompletedAtSeconds int64           `json:"completed_at_s,omitempty"`
}

type quotePayload struct {
	Price              float64 `json:"price"`
	Note               string  `json:"note,omitempty"`
	RespondedAtSeconds int64   `json:"responded_at_s"`
}

func renderRequest(record collab.CollaborationRequest) requestPayload {
	payload := requestPayload{
		ID:               record.ID,
		FromUserID:       record.FromUserID,
		ToUserID:         record.ToUserID,
		TargetTripID:     record.TargetTripID,
		Status:           string(record.Status),
		CreatedAtSeconds: record.CreatedAt.Unix(),
	}
	if record.PackageJSON != "" {
		payload.Package = json.RawMessage(record.PackageJSON)
	}
	if quote := record.Response(); quote != nil {
		payload.Quote = &quotePayload{
			Price:              quote.Price,
			Note:               quote.Note,
			RespondedAtSeconds: quote.RespondedAt.Unix(),
		}
	}
	if record.CompletedAt != nil {
		payload.CompletedAtSeconds = record.CompletedAt.Unix()
	}
	return payload
}

func (h *httpHandler) handleOpenRequest(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var request openRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.ToUserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	record, err := h.requests.Open(c.Request.Context(), collab.OpenRequest{
		FromUserID:   userID,
		ToUserID:     request.ToUserID,
		TargetTripID: request.TargetTripID,
		PackageJSON:  string(request.Package),
	})
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, renderRequest(*record))
}

func (h *httpHandler) handleListRequests(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	bucket, ok := collab.ParseBucket(c.DefaultQuery("bucket", string(collab.BucketActive)))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_bucket"})
		return
	}

	box := strings.ToLower(strings.TrimSpace(c.DefaultQuery("box", "incoming")))
	var records []collab.CollaborationRequest
	var err error
	switch box {
	case "incoming":
		records, err = h.requests.Incoming(c.Request.Context(), userID, bucket)
	case "outgoing":
		records, err = h.requests.Outgoing(c.Request.Context(), userID, bucket)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_box"})
		return
	}
	if err != nil {
		h.renderError(c, err)
		return
	}

	payload := make([]requestPayload, 0, len(records))
	for _, record := range records {
		payload = append(payload, renderRequest(record))
	}
	c.JSON(http.StatusOK, gin.H{"requests": payload})
}

func (h *httpHandler) handleQuote(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var request quoteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	record, err := h.requests.Quote(c.Request.Context(), c.Param("id"), userID, request.Price, request.Note)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, renderRequest(*record))
}

func (h *httpHandler) handleConfirm(c *gin.Context) {
	record, err := h.requests.Confirm(c.Request.Context(), c.Param("id"), c.GetString(userIDContextKey))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, renderRequest(*record))
}

func (h *httpHandler) handleComplete(c *gin.Context) {
	record, err := h.requests.Complete(c.Request.Context(), c.Param("id"), c.GetString(userIDContextKey))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, renderRequest(*record))
}

func (h *httpHandler) handleDecline(c *gin.Context) {
	record, err := h.requests.Decline(c.Request.Context(), c.Param("id"), c.GetString(userIDContextKey))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, renderRequest(*record))
}

func (h *httpHandler) handleDeleteRequest(c *gin.Context) {
	if err := h.requests.Delete(c.Request.Context(), c.Param("id"), c.GetString(userIDContextKey)); err != nil {
		h.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type partnerPayload struct {
	UserID          string `json:"user_id"`
	DisplayName     string `json:"display_name,omitempty"`
	Email           string `json:"email,omitempty"`
	AvatarURL       string `json:"avatar_url,omitempty"`
	Role            string `json:"role,omitempty"`
	ConversationKey string `json:"conversation_key"`
}

func (h *httpHandler) handleListPartners(c *gin.Context) {
	list, err := h.partners.List(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.renderError(c, err)
		return
	}
	payload := make([]partnerPayload, 0, len(list))
	for _, partner := range list {
		payload = append(payload, partnerPayload{
			UserID:          partner.UserID,
			DisplayName:     partner.DisplayName,
			Email:           partner.Email,
			AvatarURL:       partner.AvatarURL,
			Role:            partner.Role,
			ConversationKey: partner.ConversationKey,
		})
	}
	c.JSON(http.StatusOK, gin.H{"partners": payload})
}

type userPayload struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Role        string `json:"role,omitempty"`
}

func (h *httpHandler) handleListUsers(c *gin.Context) {
	profiles, err := h.directory.List(c.Request.Context())
	if err != nil {
		h.renderError(c, err)
		return
	}
	payload := make([]userPayload, 0, len(profiles))
	for _, profile := range profiles {
		payload = append(payload, userPayload{
			UserID:      profile.UserID,
			DisplayName: profile.DisplayName,
			Email:       profile.Email,
			AvatarURL:   profile.AvatarURL,
			Role:        profile.Role,
		})
	}
	c.JSON(http.StatusOK, gin.H{"users": payload})
}

type sendMessagePayload struct {
	Text string `json:"text"`
}

type markReadPayload struct {
	MessageIDs []string `json:"message_ids"`
}

type messagePayload struct {
	ID               string `json:"id"`
	SenderID         string `json:"sender_id"`
	Text             string `json:"text"`
	CreatedAtSeconds int64  `json:"created_at_s"`
	ReadAtSeconds    int64  `json:"read_at_s,omitempty"`
}

func renderMessage(message chat.Message) messagePayload {
	payload := messagePayload{
		ID:               message.ID,
		SenderID:         message.SenderID,
		Text:             message.Text,
		CreatedAtSeconds: message.CreatedAt.Unix(),
	}
	if message.ReadAt != nil {
		payload.ReadAtSeconds = message.ReadAt.Unix()
	}
	return payload
}

// conversationKey derives the symmetric key from the caller and the partner
// path parameter. Routes are keyed by partner id rather than raw key so the
// caller can never address a conversation it is not part of.
func (h *httpHandler) conversationKey(c *gin.Context) (string, bool) {
	userID := c.GetString(userIDContextKey)
	partnerID := strings.TrimSpace(c.Param("partner"))
	if partnerID == "" || partnerID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_partner"})
		return "", false
	}
	return chat.ConversationKey(userID, partnerID), true
}

func (h *httpHandler) handleListMessages(c *gin.Context) {
	key, ok := h.conversationKey(c)
	if !ok {
		return
	}
	messages, err := h.chat.Messages(c.Request.Context(), key)
	if err != nil {
		h.renderError(c, err)
		return
	}
	payload := make([]messagePayload, 0, len(messages))
	for _, message := range messages {
		payload = append(payload, renderMessage(message))
	}
	c.JSON(http.StatusOK, gin.H{"conversation_key": key, "messages": payload})
}

func (h *httpHandler) handleSendMessage(c *gin.Context) {
	key, ok := h.conversationKey(c)
	if !ok {
		return
	}
	var request sendMessagePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	message, err := h.chat.Send(c.Request.Context(), key, c.GetString(userIDContextKey), request.Text)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, renderMessage(*message))
}

func (h *httpHandler) handleMarkRead(c *gin.Context) {
	key, ok := h.conversationKey(c)
	if !ok {
		return
	}
	var request markReadPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	transitioned, err := h.chat.MarkRead(c.Request.Context(), key, c.GetString(userIDContextKey), request.MessageIDs)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked_read": transitioned})
}

func (h *httpHandler) renderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, collab.ErrRequestNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, collab.ErrNotParticipant):
		status, code = http.StatusForbidden, "not_participant"
	case errors.Is(err, collab.ErrDuplicateActiveRequest):
		status, code = http.StatusConflict, "duplicate_active_request"
	case errors.Is(err, collab.ErrInvalidTransition):
		status, code = http.StatusConflict, "invalid_transition"
	case errors.Is(err, collab.ErrSelfRequest):
		status, code = http.StatusBadRequest, "self_request"
	case errors.Is(err, collab.ErrInvalidPrice):
		status, code = http.StatusBadRequest, "invalid_price"
	case errors.Is(err, chat.ErrEmptyMessage):
		status, code = http.StatusBadRequest, "empty_message"
	case errors.Is(err, chat.ErrMissingConversation), errors.Is(err, chat.ErrMissingSender):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, collab.ErrStoreUnavailable), errors.Is(err, chat.ErrLogUnavailable):
		status, code = http.StatusServiceUnavailable, "storage_unavailable"
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}
	c.JSON(status, gin.H{"error": code})
}
