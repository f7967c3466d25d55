package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/qs3c/anno_train_server/internal/pkg/logger"
	"github.com/qs3c/anno_train_server/internal/pkg/ws"
)

// 客户端只发关闭帧
const maxClientMessage = 512

type WebSocketHandler struct {
	hub      *ws.Hub
	upgrader websocket.Upgrader
}

// NewWebSocketHandler origins 为空时不校验来源，含 "*" 时放行所有来源
func NewWebSocketHandler(hub *ws.Hub, origins []string) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if len(origins) == 0 || origin == "" {
					return true
				}
				for _, o := range origins {
					if o == "*" || o == origin {
						return true
					}
				}
				return false
			},
		},
	}
}

// Handle 订阅某个项目的训练事件
// GET /api/v1/ws?project_id=xxx
func (h *WebSocketHandler) Handle(c *gin.Context) {
	projectID, err := strconv.ParseInt(c.Query("project_id"), 10, 64)
	if err != nil || projectID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing project_id"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("Failed to upgrade connection", zap.Int64("project_id", projectID), zap.Error(err))
		return
	}
	conn.SetReadLimit(maxClientMessage)

	client := &ws.Client{
		ProjectID: projectID,
		Conn:      conn,
	}
	h.hub.Register(client)

	// 只读不处理，用于检测断开
	go func() {
		defer func() {
			h.hub.Unregister(client)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
