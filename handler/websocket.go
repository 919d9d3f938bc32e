package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"lingua_chat/apperr"
	"lingua_chat/middleware"
	"lingua_chat/service"
	"lingua_chat/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// 只在 WebSocket 上出现的事件
const (
	eventRead   = "read"
	eventTyping = "typing"
	eventError  = "error"
)

// Client WebSocket 客户端（一个设备一个）
type Client struct {
	ID     uuid.UUID
	UserID uuid.UUID
	Conn   *websocket.Conn
	Send   chan []byte
	Hub    *Hub
	mu     sync.Mutex
	closed bool // Send channel 是否已关闭
}

// Hub WebSocket 连接管理中心，同时是服务层的 EventPublisher
type Hub struct {
	// 在线用户 map[userID]map[clientID]*Client（支持多设备）
	Clients map[uuid.UUID]map[uuid.UUID]*Client
	mu      sync.RWMutex

	// 最大连接数限制（每个用户）
	MaxConnectionsPerUser int

	// Redis 客户端，为 nil 时只推送本地连接
	rdb *redis.Client

	msgSvc *service.MessageService

	// Pod ID（用于跨 Pod 广播去重）
	podID string

	stopPubSub chan struct{}
	stopOnce   sync.Once
}

// Redis Pub/Sub channel 名称
const redisBroadcastChannel = "ws:broadcast"

// BroadcastMessage 跨 Pod 广播消息格式
type BroadcastMessage struct {
	UserID  string `json:"user_id"`
	PodID   string `json:"pod_id"` // 发送方 Pod ID，用于去重
	Payload []byte `json:"payload"`
}

// NewHub 创建 Hub
func NewHub(rdb *redis.Client, msgSvc *service.MessageService) *Hub {
	return &Hub{
		Clients:               make(map[uuid.UUID]map[uuid.UUID]*Client),
		MaxConnectionsPerUser: 18,
		rdb:                   rdb,
		msgSvc:                msgSvc,
		podID:                 uuid.New().String(),
		stopPubSub:            make(chan struct{}),
	}
}

// Publish 实现 service.EventPublisher
// chat topic 推给会话当前成员，user topic 推给单个用户
func (h *Hub) Publish(ctx context.Context, topic string, event service.Event) error {
	kind, id, err := service.ParseTopic(topic)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.Type, err)
	}

	if kind == service.TopicUser {
		h.BroadcastToUser(ctx, id, payload)
		return nil
	}
	return h.broadcastToMembers(ctx, id, payload, uuid.Nil)
}

// broadcastToMembers 推给会话成员，except 不为空时跳过该用户
func (h *Hub) broadcastToMembers(ctx context.Context, conversationID uuid.UUID, payload []byte, except uuid.UUID) error {
	members, err := h.msgSvc.GetConversationMembers(ctx, conversationID)
	if err != nil {
		return err
	}
	for _, memberID := range members {
		if memberID != except {
			h.BroadcastToUser(ctx, memberID, payload)
		}
	}
	return nil
}

// Register 注册客户端（支持多设备，限制最大连接数）
func (h *Hub) Register(client *Client) bool {
	h.mu.Lock()

	if h.Clients[client.UserID] == nil {
		h.Clients[client.UserID] = make(map[uuid.UUID]*Client)
	}

	if len(h.Clients[client.UserID]) >= h.MaxConnectionsPerUser {
		h.mu.Unlock() // 先释放锁，再进行网络操作

		log.Printf("[ERROR] User %s exceeds max connections (%d), rejecting client %s",
			client.UserID, h.MaxConnectionsPerUser, client.ID)

		reason := fmt.Sprintf("Maximum %d devices allowed", h.MaxConnectionsPerUser)
		if msg, err := json.Marshal(service.Event{Type: eventError, Data: map[string]string{
			"code":    "too_many_devices",
			"message": reason,
		}}); err == nil {
			_ = client.Conn.WriteMessage(websocket.TextMessage, msg)
		}
		_ = client.Conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
		client.Conn.Close()
		return false
	}

	h.Clients[client.UserID][client.ID] = client
	deviceCount := len(h.Clients[client.UserID])
	totalUsers := len(h.Clients)
	h.mu.Unlock()

	log.Printf("[INFO] User %s connected (client: %s), devices: %d, users: %d",
		client.UserID, client.ID, deviceCount, totalUsers)
	return true
}

// Unregister 注销客户端（支持多设备）
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if userClients, exists := h.Clients[client.UserID]; exists {
		if _, found := userClients[client.ID]; found {
			delete(userClients, client.ID)
			if len(userClients) == 0 {
				delete(h.Clients, client.UserID)
			}
			log.Printf("[INFO] User %s disconnected (client: %s), remaining devices: %d",
				client.UserID, client.ID, len(userClients))
		}
	}
	h.mu.Unlock()

	client.mu.Lock()
	if !client.closed {
		close(client.Send)
		client.closed = true
	}
	client.mu.Unlock()
}

// SendToUser 发送给本 Pod 上该用户的所有设备
func (h *Hub) SendToUser(userID uuid.UUID, message []byte) bool {
	h.mu.RLock()
	userClients, exists := h.Clients[userID]
	if !exists || len(userClients) == 0 {
		h.mu.RUnlock()
		return false
	}

	// 复制一份 client 列表，避免遍历时并发修改
	clientsCopy := make([]*Client, 0, len(userClients))
	for _, client := range userClients {
		clientsCopy = append(clientsCopy, client)
	}
	h.mu.RUnlock()

	sentToAny := false
	for _, client := range clientsCopy {
		if client.enqueue(message) {
			sentToAny = true
			continue
		}
		log.Printf("[ERROR] Send channel FULL: user=%s, client=%s, closing connection", userID, client.ID)
		go h.Unregister(client)
	}
	return sentToAny
}

// enqueue 非阻塞写入 Send，已关闭或已满返回 false
func (c *Client) enqueue(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- message:
		return true
	default:
		return false
	}
}

// BroadcastToUser 先推本地连接，再 publish 到 Redis 让其他 Pod 推送
func (h *Hub) BroadcastToUser(ctx context.Context, userID uuid.UUID, message []byte) {
	h.SendToUser(userID, message)
	if h.rdb == nil {
		return
	}

	msgBytes, err := json.Marshal(BroadcastMessage{
		UserID:  userID.String(),
		PodID:   h.podID,
		Payload: message,
	})
	if err != nil {
		log.Printf("[ERROR] Failed to marshal broadcast message: %v", err)
		return
	}
	if err := h.rdb.Publish(ctx, redisBroadcastChannel, msgBytes).Err(); err != nil {
		log.Printf("[ERROR] Failed to publish to Redis: %v", err)
	}
}

// StartPubSub 订阅跨 Pod 广播，订阅确认后才返回
func (h *Hub) StartPubSub(ctx context.Context) error {
	if h.rdb == nil {
		return nil
	}
	pubsub := h.rdb.Subscribe(ctx, redisBroadcastChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe %s: %w", redisBroadcastChannel, err)
	}
	log.Printf("[INFO] Pod %s started Redis Pub/Sub subscription", h.podID[:8])

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-h.stopPubSub:
				log.Printf("[INFO] Pod %s stopping Redis Pub/Sub subscription", h.podID[:8])
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				h.handleBroadcastMessage([]byte(msg.Payload))
			}
		}
	}()
	return nil
}

// StopPubSub 停止 Redis Pub/Sub 订阅
func (h *Hub) StopPubSub() {
	h.stopOnce.Do(func() { close(h.stopPubSub) })
}

// handleBroadcastMessage 处理来自其他 Pod 的广播
func (h *Hub) handleBroadcastMessage(data []byte) {
	var msg BroadcastMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("[ERROR] Failed to unmarshal broadcast message: %v", err)
		return
	}
	if msg.PodID == h.podID {
		return
	}

	userID, err := uuid.Parse(msg.UserID)
	if err != nil {
		log.Printf("[ERROR] Invalid user ID in broadcast message: %v", err)
		return
	}
	h.SendToUser(userID, msg.Payload)
}

// IsOnline 本 Pod 上是否有该用户的连接
func (h *Hub) IsOnline(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.Clients[userID]) > 0
}

// WSMessage 客户端发来的消息
type WSMessage struct {
	Type string          `json:"type"` // 'message' | 'read' | 'typing' | 'recall' | 'heartbeat'
	Data json.RawMessage `json:"data"`
}

// HandleWebSocket 处理 WebSocket 连接，token 通过 query 参数传递
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.Query("token")
		if tokenString == "" {
			utils.Unauthorized(c, "missing token")
			return
		}

		userID, err := middleware.ValidateToken(tokenString)
		if err != nil {
			utils.Unauthorized(c, "invalid token")
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("[ERROR] WebSocket upgrade failed for user %s: %v", userID, err)
			return
		}

		client := &Client{
			ID:     uuid.New(),
			UserID: userID,
			Conn:   conn,
			Send:   make(chan []byte, 256),
			Hub:    hub,
		}
		if !hub.Register(client) {
			return
		}

		go client.readPump()
		go client.writePump()
	}
}

// readPump 从 WebSocket 读取消息
func (c *Client) readPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure) {
				log.Printf("[ERROR] User %s WebSocket unexpected close error: %v", c.UserID, err)
			}
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))

		var wsMsg WSMessage
		if err := json.Unmarshal(message, &wsMsg); err != nil {
			c.sendError(apperr.Validation("Invalid JSON format"))
			continue
		}

		ctx := context.Background()
		switch wsMsg.Type {
		case "heartbeat":
		case "message":
			c.handleSendMessage(ctx, wsMsg.Data)
		case "read":
			c.handleMarkAsRead(ctx, wsMsg.Data)
		case "typing":
			c.handleTyping(ctx, wsMsg.Data)
		case "recall":
			c.handleRecallMessage(ctx, wsMsg.Data)
		default:
			c.sendError(apperr.Validation(fmt.Sprintf("unknown message type %q", wsMsg.Type)))
		}
	}
}

// writePump 向 WebSocket 写入消息
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub 关闭了通道
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleSendMessage 发送消息，成功后的推送由 MessageService 完成
func (c *Client) handleSendMessage(ctx context.Context, data json.RawMessage) {
	var req service.SendMessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError(apperr.Validation("Invalid message format"))
		return
	}

	if _, err := c.Hub.msgSvc.SendMessage(ctx, c.UserID, &req); err != nil {
		c.sendError(err)
	}
}

// handleMarkAsRead 清零未读数并通知其他成员
func (c *Client) handleMarkAsRead(ctx context.Context, data json.RawMessage) {
	var req struct {
		ConversationID uuid.UUID `json:"conversation_id"`
		MessageID      uuid.UUID `json:"message_id"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError(apperr.Validation("Invalid read receipt format"))
		return
	}
	if !c.requireMember(ctx, req.ConversationID) {
		return
	}

	if err := c.Hub.msgSvc.MarkConversationRead(ctx, c.UserID, req.ConversationID); err != nil {
		c.sendError(err)
		return
	}

	payload, _ := json.Marshal(service.Event{Type: eventRead, Data: map[string]interface{}{
		"conversation_id": req.ConversationID,
		"message_id":      req.MessageID,
		"reader_id":       c.UserID,
	}})
	if err := c.Hub.broadcastToMembers(ctx, req.ConversationID, payload, c.UserID); err != nil {
		log.Printf("[ERROR] Failed to broadcast read receipt: %v", err)
	}
}

// handleTyping 正在输入提示，只推给其他成员
func (c *Client) handleTyping(ctx context.Context, data json.RawMessage) {
	var req struct {
		ConversationID uuid.UUID `json:"conversation_id"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	if !c.requireMember(ctx, req.ConversationID) {
		return
	}

	payload, _ := json.Marshal(service.Event{Type: eventTyping, Data: map[string]interface{}{
		"conversation_id": req.ConversationID,
		"user_id":         c.UserID,
	}})
	if err := c.Hub.broadcastToMembers(ctx, req.ConversationID, payload, c.UserID); err != nil {
		log.Printf("[ERROR] Failed to broadcast typing: %v", err)
	}
}

// handleRecallMessage 撤回消息，recalled 事件由 MessageService 推送
func (c *Client) handleRecallMessage(ctx context.Context, data json.RawMessage) {
	var req struct {
		MessageID uuid.UUID `json:"message_id"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		c.sendError(apperr.Validation("Invalid recall format"))
		return
	}

	if _, err := c.Hub.msgSvc.RecallMessage(ctx, c.UserID, req.MessageID); err != nil {
		c.sendError(err)
	}
}

func (c *Client) requireMember(ctx context.Context, conversationID uuid.UUID) bool {
	ok, err := c.Hub.msgSvc.IsConversationMember(ctx, conversationID, c.UserID)
	if err != nil {
		c.sendError(err)
		return false
	}
	if !ok {
		c.sendError(apperr.Forbidden("user is not a member of this conversation"))
		return false
	}
	return true
}

// sendError 发送错误给当前设备，code 与 HTTP 接口的错误分类一致
func (c *Client) sendError(err error) {
	code := apperr.CodeOf(err)
	message := apperr.MessageOf(err)
	if code == apperr.CodeInternal {
		log.Printf("[ERROR] WebSocket request from user %s failed: %v", c.UserID, err)
		message = "internal server error"
	}

	responseData, _ := json.Marshal(service.Event{Type: eventError, Data: map[string]string{
		"code":    string(code),
		"message": message,
	}})
	if !c.enqueue(responseData) {
		log.Printf("[ERROR] Failed to send error message to user %s: channel full", c.UserID)
	}
}
