// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"math-agent-go/internal/service"
	"math-agent-go/pkg/log"
)

// ChatHandler 处理会话相关的 REST 请求。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// ChatRequest 是 POST /chat 的请求体。topic 必须出现，但允许为空串，由校验阶段给出提示。
type ChatRequest struct {
	Topic     *string `json:"topic" binding:"required"`
	SessionID string  `json:"session_id"`
}

// HumanInputRequest 是 POST /human-input 的请求体。
type HumanInputRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Feedback  string `json:"feedback"`
}

// Root 健康检查。
func (h *ChatHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Math Agent API is running"})
}

// Chat 创建或继续一个会话，立即返回，研究与求解在后台进行。
func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid request body: " + err.Error()})
		return
	}

	resp, err := h.chatService.StartOrContinue(c.Request.Context(), *req.Topic, req.SessionID)
	if err != nil {
		log.Errorf("[ChatHandler] 启动会话失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Error: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListSessions 返回所有会话的摘要。
func (h *ChatHandler) ListSessions(c *gin.Context) {
	summaries, err := h.chatService.ListSessions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Error: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, summaries)
}

// GetSession 返回会话当前状态。
func (h *ChatHandler) GetSession(c *gin.Context) {
	sess, err := h.chatService.GetSession(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess.StateResponse())
}

// HumanInput 处理用户对当前解答的反馈。
func (h *ChatHandler) HumanInput(c *gin.Context) {
	var req HumanInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid request body: " + err.Error()})
		return
	}

	if err := h.chatService.SubmitFeedback(c.Request.Context(), req.SessionID, req.Feedback); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Feedback processed successfully"})
}

// DeleteSession 删除会话。
func (h *ChatHandler) DeleteSession(c *gin.Context) {
	if err := h.chatService.DeleteSession(c.Request.Context(), c.Param("session_id")); err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Session deleted"})
}

// writeServiceError 把业务层的哨兵错误映射为 HTTP 状态码。
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": "Session not found"})
	case errors.Is(err, service.ErrNotAwaitingFeedback):
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Session is not waiting for feedback"})
	default:
		log.Errorf("[ChatHandler] 请求处理失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Error: " + err.Error()})
	}
}
