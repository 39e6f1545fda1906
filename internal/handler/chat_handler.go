package handler

import (
	"errors"
	"net/http"

	"agstack-go/internal/service"
	"agstack-go/pkg/log"
	"agstack-go/pkg/notify"
	"agstack-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// ChatHandler 处理会话、消息以及状态推送的 WebSocket 连接。
type ChatHandler struct {
	chatService service.ChatService
	tickets     *token.TicketManager
	hub         *notify.Hub
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, tickets *token.TicketManager, hub *notify.Hub) *ChatHandler {
	return &ChatHandler{chatService: chatService, tickets: tickets, hub: hub}
}

type createChatRequest struct {
	Title         string `json:"title"`
	ConnectionIDs []uint `json:"connection_ids" binding:"required,min=1"`
}

type sendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// chatError 把业务错误映射为状态码，返回 false 表示未知错误。
func chatError(c *gin.Context, err error) bool {
	var status int
	switch {
	case errors.Is(err, service.ErrChatNotFound), errors.Is(err, service.ErrMessageNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrConnectionRequired), errors.Is(err, service.ErrConnectionNotFound),
		errors.Is(err, service.ErrChatHasNoConnections):
		status = http.StatusBadRequest
	default:
		return false
	}
	c.JSON(status, gin.H{"code": status, "message": err.Error(), "data": nil})
	return true
}

// Create 创建会话。
func (h *ChatHandler) Create(c *gin.Context) {
	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "参数错误: " + err.Error(), "data": nil})
		return
	}
	chat, err := h.chatService.CreateChat(c.Request.Context(), req.Title, req.ConnectionIDs)
	if err != nil {
		if !chatError(c, err) {
			log.Errorf("创建会话失败: %v", err)
			internalError(c, "Failed to create chat")
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": http.StatusCreated, "message": "success", "data": chat})
}

// List 按更新时间倒序返回会话。
func (h *ChatHandler) List(c *gin.Context) {
	chats, err := h.chatService.ListChats(c.Request.Context())
	if err != nil {
		log.Errorf("获取会话列表失败: %v", err)
		internalError(c, "Failed to list chats")
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": chats})
}

// Get 返回单个会话。
func (h *ChatHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	chat, err := h.chatService.GetChat(c.Request.Context(), id)
	if err != nil {
		if !chatError(c, err) {
			log.Errorf("获取会话 %d 失败: %v", id, err)
			internalError(c, "Failed to get chat")
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": chat})
}

// Delete 删除会话及其消息。
func (h *ChatHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.chatService.DeleteChat(c.Request.Context(), id); err != nil {
		if !chatError(c, err) {
			log.Errorf("删除会话 %d 失败: %v", id, err)
			internalError(c, "Failed to delete chat")
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": nil})
}

// ListMessages 按顺序返回会话中的消息。
func (h *ChatHandler) ListMessages(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	msgs, err := h.chatService.ListMessages(c.Request.Context(), id)
	if err != nil {
		if !chatError(c, err) {
			log.Errorf("获取会话 %d 的消息失败: %v", id, err)
			internalError(c, "Failed to list messages")
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": msgs})
}

// SendMessage 同步处理一轮问答，返回终态的助手消息。
func (h *ChatHandler) SendMessage(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "参数错误: " + err.Error(), "data": nil})
		return
	}
	msg, err := h.chatService.ProcessMessage(c.Request.Context(), id, req.Content)
	if err != nil {
		if !chatError(c, err) {
			log.Errorf("处理会话 %d 的消息失败: %v", id, err)
			internalError(c, "Failed to process message")
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": msg})
}

// GetMessage 返回单条消息。
func (h *ChatHandler) GetMessage(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	msg, err := h.chatService.GetMessage(c.Request.Context(), id)
	if err != nil {
		if !chatError(c, err) {
			log.Errorf("获取消息 %d 失败: %v", id, err)
			internalError(c, "Failed to get message")
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": msg})
}

// IssueTicket 为会话签发 WebSocket 票据。
func (h *ChatHandler) IssueTicket(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if _, err := h.chatService.GetChat(c.Request.Context(), id); err != nil {
		if !chatError(c, err) {
			internalError(c, "Failed to issue ticket")
		}
		return
	}
	ticket, expiresAt, err := h.tickets.Issue(id)
	if err != nil {
		log.Errorf("签发票据失败: %v", err)
		internalError(c, "Failed to issue ticket")
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"ticket": ticket, "expires_at": expiresAt}})
}

// Stream 校验票据后升级为 WebSocket，推送该会话的消息状态。
func (h *ChatHandler) Stream(c *gin.Context) {
	claims, err := h.tickets.Verify(c.Param("ticket"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 ticket", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立，会话: %d", claims.ChatID)
	sub := h.hub.Subscribe(claims.ChatID)
	h.hub.Stream(conn, sub)
	log.Infof("WebSocket 连接已关闭，会话: %d", claims.ChatID)
}
