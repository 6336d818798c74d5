package handler

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"math-agent-go/internal/model"
	"math-agent-go/internal/service"
	"math-agent-go/pkg/log"
)

const writeWait = 10 * time.Second

// SessionWatchHandler 通过 WebSocket 推送会话快照，会话每次变化推送一次。
type SessionWatchHandler struct {
	chatService service.ChatService
	interval    time.Duration
	upgrader    websocket.Upgrader

	quit     chan struct{}
	quitOnce sync.Once
}

// NewSessionWatchHandler 创建一个新的 SessionWatchHandler。
// allowedOrigins 为空或包含 "*" 时允许所有来源。
func NewSessionWatchHandler(chatService service.ChatService, interval time.Duration, allowedOrigins []string) *SessionWatchHandler {
	if interval <= 0 {
		interval = time.Second
	}
	return &SessionWatchHandler{
		chatService: chatService,
		interval:    interval,
		upgrader:    websocket.Upgrader{CheckOrigin: originChecker(allowedOrigins)},
		quit:        make(chan struct{}),
	}
}

func originChecker(allowedOrigins []string) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

// Close 通知所有活跃连接退出，服务关闭时调用。
func (h *SessionWatchHandler) Close() {
	h.quitOnce.Do(func() { close(h.quit) })
}

// Watch 处理 GET /chat/:session_id/ws。
func (h *SessionWatchHandler) Watch(c *gin.Context) {
	sessionID := c.Param("session_id")
	sess, err := h.chatService.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Infof("[SessionWatch] 连接已建立, session: %s", sessionID)

	// 读循环只用于感知客户端断开
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	last := fingerprint(sess)
	if err := writeSnapshot(conn, sess); err != nil {
		return
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-clientGone:
			log.Infof("[SessionWatch] 客户端断开, session: %s", sessionID)
			return
		case <-h.quit:
			closeWith(conn, websocket.CloseGoingAway, "server shutting down")
			return
		case <-ticker.C:
			sess, err := h.chatService.GetSession(c.Request.Context(), sessionID)
			if errors.Is(err, service.ErrSessionNotFound) {
				closeWith(conn, websocket.CloseNormalClosure, "session deleted")
				return
			}
			if err != nil {
				log.Errorf("[SessionWatch] 读取会话失败: %v", err)
				continue
			}
			if fp := fingerprint(sess); fp != last {
				last = fp
				if err := writeSnapshot(conn, sess); err != nil {
					return
				}
			}
		}
	}
}

type sessionFingerprint struct {
	status   model.Status
	messages int
	updated  int64
}

func fingerprint(s *model.Session) sessionFingerprint {
	return sessionFingerprint{status: s.Status, messages: len(s.Messages), updated: s.UpdatedAt.UnixNano()}
}

func writeSnapshot(conn *websocket.Conn, s *model.Session) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(s.StateResponse()); err != nil {
		log.Warnf("[SessionWatch] 推送快照失败: %v", err)
		return err
	}
	return nil
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}
