// Package gateway bridges registry topics to browsers over WebSocket.
package gateway

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"PPresence/logger"
	midsec "PPresence/middleware/security"
	"PPresence/service/natsx"
	"PPresence/service/topics"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Conf struct {
	SendQueue   int           // 每连接发送队列长度
	PingEvery   time.Duration // 心跳间隔
	PongWait    time.Duration // 超过该时间无读取即断开
	WriteWait   time.Duration
	MaxFrame    int64
	CheckOrigin func(r *http.Request) bool
}

func (c *Conf) norm() {
	if c.SendQueue <= 0 {
		c.SendQueue = 256
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingEvery <= 0 || c.PingEvery >= c.PongWait {
		c.PingEvery = c.PongWait * 9 / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.MaxFrame <= 0 {
		c.MaxFrame = 4096
	}
}

type Server struct {
	reg      *natsx.Registry
	conf     Conf
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*Client // connID -> client
	byUser  map[string]map[string]*Client
	closed  bool
}

func NewServer(reg *natsx.Registry, conf Conf) *Server {
	conf.norm()
	return &Server{
		reg:  reg,
		conf: conf,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     conf.CheckOrigin,
		},
		clients: make(map[string]*Client),
		byUser:  make(map[string]map[string]*Client),
	}
}

// allowed 限制 user:<id> 只能订阅自己的
func (s *Server) allowed(userID, topic string) bool {
	if topics.Validate(topic) != nil || !topics.Known(topic) {
		return false
	}
	if rest, ok := strings.CutPrefix(topic, "user:"); ok {
		return rest == userID
	}
	return true
}

// HandleWS must run behind the auth middleware (query token).
func (s *Server) HandleWS(c *gin.Context) {
	userID, ok := midsec.Identity(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 非 WebSocket 请求/握手失败
		logger.Info("[gateway] upgrade failed", zap.Error(err))
		return
	}

	cl := newClient(s, uuid.NewString(), userID, ws)
	if !s.add(cl) {
		_ = ws.Close()
		return
	}
	logger.Info("[gateway] connected", zap.String("conn", cl.ConnID), zap.String("user", userID))

	go cl.writeLoop()
	ctx, cancel := context.WithCancel(context.Background())
	cl.readLoop(ctx)
	cancel()

	s.remove(cl)
	cl.release()
	logger.Info("[gateway] disconnected", zap.String("conn", cl.ConnID), zap.String("user", userID))
}

func (s *Server) add(cl *Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[cl.ConnID] = cl
	mm := s.byUser[cl.UserID]
	if mm == nil {
		mm = make(map[string]*Client)
		s.byUser[cl.UserID] = mm
	}
	mm[cl.ConnID] = cl
	return true
}

func (s *Server) remove(cl *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, cl.ConnID)
	if mm := s.byUser[cl.UserID]; mm != nil {
		delete(mm, cl.ConnID)
		if len(mm) == 0 {
			delete(s.byUser, cl.UserID)
		}
	}
}

// Count returns the number of open connections.
func (s *Server) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// UserConns returns how many connections userID holds.
func (s *Server) UserConns(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byUser[userID])
}

// Close 关闭所有连接；之后的握手直接拒绝
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	all := make([]*Client, 0, len(s.clients))
	for _, cl := range s.clients {
		all = append(all, cl)
	}
	s.mu.Unlock()
	for _, cl := range all {
		cl.release()
	}
}
