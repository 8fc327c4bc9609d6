package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"studio-backend/internal/agent"
	"studio-backend/internal/backend"
	"studio-backend/internal/model"
	"studio-backend/internal/service"
	"studio-backend/internal/session"
	"studio-backend/internal/storage"
	"studio-backend/internal/stream"
	"studio-backend/internal/utils"
	"studio-backend/pkg/logger"
)

const heartbeatInterval = 30 * time.Second

type ChatHandler struct {
	chatService *service.ChatService
}

func NewChatHandler(chatService *service.ChatService) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
	}
}

// RegisterRoutes mounts the API under api.
func (h *ChatHandler) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/config/check", h.ConfigCheck)
	api.GET("/agents", h.ListAgents)

	chat := api.Group("/chat")
	{
		chat.POST("", h.Chat)
		chat.POST("/stream", h.StreamChat)
		chat.GET("/conversations/:conv_id/events", h.ConversationEvents)
		chat.GET("/conversations/:conv_id/ws", h.ConversationWS)
	}

	sessions := api.Group("/sessions")
	{
		sessions.GET("", h.GetSessionList)
		sessions.GET("/:session_id", h.GetSession)
		sessions.DELETE("/:session_id", h.DeleteSession)
	}
}

func (h *ChatHandler) ConfigCheck(c *gin.Context) {
	c.JSON(http.StatusOK, h.chatService.ConfigCheck())
}

func (h *ChatHandler) ListAgents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agents": h.chatService.Agents()})
}

// Chat starts a turn and returns at once; progress is observed on the
// conversation's event stream.
func (h *ChatHandler) Chat(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: err.Error()})
		return
	}

	turn, err := h.chatService.Chat(&req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, turn.Response())
}

// StreamChat runs a turn and streams every snapshot of its messages until
// the output message is final.
func (h *ChatHandler) StreamChat(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: err.Error()})
		return
	}

	turn, err := h.chatService.StartTurn(&req)
	if err != nil {
		writeError(c, err)
		return
	}

	updates, cancel := h.chatService.Hub().Subscribe(turn.ConvID)
	defer cancel()

	sseWriter := utils.NewSSEWriter(c.Writer)
	if err := sseWriter.WriteJSON("message", turn.Input); err != nil {
		logger.Errorf("Failed to write SSE: %v", err)
	}
	h.chatService.RunInBackground(turn)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	isFinal := func(f stream.Frame) bool {
		return f.Message != nil && f.Message.ID == turn.OutputMsgID && session.MsgStatus(f.Message.Status).IsTerminal()
	}

	for {
		select {
		case f, ok := <-updates:
			if !ok {
				sseWriter.Close()
				return
			}
			if err := writeFrame(sseWriter, f); err != nil {
				logger.Errorf("Failed to write SSE: %v", err)
				return
			}
			if isFinal(f) {
				sseWriter.Close()
				return
			}

		case <-turn.Done():
			// The final snapshot may have been dropped by a full buffer.
		drain:
			for {
				select {
				case f, ok := <-updates:
					if !ok {
						break drain
					}
					_ = writeFrame(sseWriter, f)
					if isFinal(f) {
						sseWriter.Close()
						return
					}
				default:
					break drain
				}
			}
			if final := turn.Final(); final != nil {
				_ = sseWriter.WriteJSON("message", final)
			}
			sseWriter.Close()
			return

		case <-heartbeat.C:
			if err := sseWriter.Heartbeat(); err != nil {
				logger.Warnf("Heartbeat failed: %v", err)
				return
			}

		case <-c.Request.Context().Done():
			return
		}
	}
}

// ConversationEvents subscribes to a conversation's progress channel over
// SSE until the client goes away.
func (h *ChatHandler) ConversationEvents(c *gin.Context) {
	convID := c.Param("conv_id")
	updates, cancel := h.chatService.Hub().Subscribe(convID)
	defer cancel()

	sseWriter := utils.NewSSEWriter(c.Writer)
	if err := sseWriter.Heartbeat(); err != nil {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case f, ok := <-updates:
			if !ok {
				sseWriter.Close()
				return
			}
			if err := writeFrame(sseWriter, f); err != nil {
				logger.Warnf("Event stream of conversation %s closed: %v", convID, err)
				return
			}
		case <-heartbeat.C:
			if err := sseWriter.Heartbeat(); err != nil {
				return
			}
		case <-c.Request.Context().Done():
			return
		}
	}
}

// writeFrame sends snapshots as "message" events and data events as "event".
func writeFrame(w *utils.SSEWriter, f stream.Frame) error {
	if f.Event != nil {
		return w.WriteJSON("event", f.Event)
	}
	return w.WriteJSON("message", f.Message)
}

func (h *ChatHandler) GetSessionList(c *gin.Context) {
	sessions, err := h.chatService.GetAllSessions()
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
	})
}

func (h *ChatHandler) GetSession(c *gin.Context) {
	sessionID := c.Param("session_id")

	detail, err := h.chatService.GetSession(sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *ChatHandler) DeleteSession(c *gin.Context) {
	sessionID := c.Param("session_id")

	if err := h.chatService.DeleteSession(sessionID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Session deleted successfully"})
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, agent.ErrUnknownAgent),
		errors.Is(err, agent.ErrInvalidParams),
		errors.Is(err, service.ErrEmptyMessage),
		errors.Is(err, session.ErrInvalidToolCall):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidMediaType),
		errors.Is(err, service.ErrInvalidUpload):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrLibraryUnavailable),
		errors.Is(err, backend.ErrNotConfigured),
		errors.Is(err, backend.ErrMissingCredentials):
		status = http.StatusServiceUnavailable
	case errors.As(err, new(*backend.Error)):
		status = http.StatusBadGateway
		logger.Warnf("Request %s %s failed upstream: %v", c.Request.Method, c.Request.URL.Path, err)
	default:
		logger.Errorf("Request %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, model.ErrorResponse{Error: err.Error()})
}
