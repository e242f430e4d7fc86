// Package httpapi is the gin surface: message intake, conversation reads,
// usage and health endpoints. Message intake only persists and publishes;
// all agent work happens asynchronously behind the event bus.
package httpapi

import (
	"net/http"

	"fragmentforge/internal/auth"
	"fragmentforge/internal/events"
	"fragmentforge/internal/middleware"
	"fragmentforge/internal/store"
	"fragmentforge/internal/usage"
	"fragmentforge/internal/ws"
	"fragmentforge/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server holds the handler dependencies.
type Server struct {
	store *store.Store
	bus   *events.Bus
	auth  *auth.Service
	hub   *ws.Hub
	usage *usage.Tracker
}

// NewServer creates the API server. Hub and usage tracker are optional.
func NewServer(st *store.Store, bus *events.Bus, authSvc *auth.Service, hub *ws.Hub, tracker *usage.Tracker) *Server {
	return &Server{store: st, bus: bus, auth: authSvc, hub: hub, usage: tracker}
}

// Router builds the full route tree with middleware attached.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())

	router.GET("/health", s.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limiter := middleware.NewRateLimiter(5, 10)
	api := router.Group("/api")
	api.Use(middleware.RequireAuth(s.auth), limiter.Middleware())
	{
		api.POST("/messages", s.PostMessage)
		api.GET("/conversations/:id", s.GetConversation)
		api.GET("/conversations/:id/messages", s.GetMessages)
		api.GET("/conversations/:id/fragment", s.GetLatestFragment)
		api.GET("/usage", s.GetUsage)
	}

	if s.hub != nil {
		router.GET("/ws", s.hub.HandleWebSocket)
	}
	return router
}

// Health answers load balancer checks without touching dependencies.
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"version": "1.0.0",
	})
}

// PostMessageRequest is the message intake payload.
type PostMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	ProjectID      string `json:"project_id" binding:"required"`
	Message        string `json:"message" binding:"required"`
	TemplateName   string `json:"template_name"`
}

// PostMessage persists the chat message and hands it to the async
// classification flow. Responds 202: the answer arrives over the socket
// and the transcript, not this response.
func (s *Server) PostMessage(c *gin.Context) {
	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.New().String()
	}

	userID, _ := middleware.GetUserID(c)
	orgID, _ := middleware.GetOrgID(c)

	ctx := c.Request.Context()
	conv, err := s.store.GetOrCreateConversation(ctx, req.ConversationID, orgID, req.ProjectID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load conversation"})
		return
	}
	msg, err := s.store.AppendMessage(ctx, conv.ID, "user", models.MessageKindChat, req.Message)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not persist message"})
		return
	}

	ev := events.MessageEvent{
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		Message:        req.Message,
		ProjectID:      req.ProjectID,
		OrgID:          orgID,
		UserID:         userID,
		TemplateName:   req.TemplateName,
	}
	if err := s.bus.Publish(events.TopicProcessMessage, ev); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not dispatch message"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"conversation_id": conv.ID,
		"message_id":      msg.ID,
		"status":          models.ConversationStatusClassifying,
	})
}

// GetConversation returns one conversation's metadata.
func (s *Server) GetConversation(c *gin.Context) {
	conv, ok := s.loadOwnConversation(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, conv)
}

// GetMessages returns the full persisted transcript, newest last.
func (s *Server) GetMessages(c *gin.Context) {
	conv, ok := s.loadOwnConversation(c)
	if !ok {
		return
	}
	msgs, err := s.store.AllMessages(c.Request.Context(), conv.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// GetLatestFragment returns the newest run result for a conversation.
func (s *Server) GetLatestFragment(c *gin.Context) {
	conv, ok := s.loadOwnConversation(c)
	if !ok {
		return
	}
	frag, err := s.store.LatestFragment(c.Request.Context(), conv.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load fragment"})
		return
	}
	if frag == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no fragment yet"})
		return
	}
	c.JSON(http.StatusOK, frag)
}

// GetUsage returns today's counters for the caller's org. Pending
// in-memory counters are flushed first so a run that just finished is
// already visible.
func (s *Server) GetUsage(c *gin.Context) {
	orgID, _ := middleware.GetOrgID(c)
	if s.usage != nil {
		s.usage.Flush(c.Request.Context())
	}
	rec, err := s.store.Usage(c.Request.Context(), orgID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load usage"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// loadOwnConversation fetches the path conversation and enforces org
// ownership; it writes the error response itself on failure.
func (s *Server) loadOwnConversation(c *gin.Context) (*models.Conversation, bool) {
	conv, err := s.store.GetConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return nil, false
	}
	orgID, _ := middleware.GetOrgID(c)
	if conv.OrgID != orgID {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return nil, false
	}
	return conv, true
}
