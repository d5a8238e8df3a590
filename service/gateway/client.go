package gateway

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"PPresence/logger"
	"PPresence/service/natsx"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client is one browser connection. It owns its subscriptions; none
// outlive the socket.
type Client struct {
	ConnID string
	UserID string
	WS     *websocket.Conn
	Send   chan []byte // 单写协程消费

	srv *Server

	mu     sync.Mutex
	subs   map[subKey]*natsx.Subscription
	closed bool
	done   chan struct{}
}

type subKey struct{ topic, event string }

func newClient(srv *Server, connID, userID string, ws *websocket.Conn) *Client {
	return &Client{
		ConnID: connID,
		UserID: userID,
		WS:     ws,
		Send:   make(chan []byte, srv.conf.SendQueue),
		srv:    srv,
		subs:   make(map[subKey]*natsx.Subscription),
		done:   make(chan struct{}),
	}
}

// push 非阻塞入队；队列满则丢弃
func (cl *Client) push(o Out) {
	b, err := json.Marshal(o)
	if err != nil {
		return
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.closed {
		return
	}
	select {
	case cl.Send <- b:
	default:
		logger.Warn("[gateway] send queue full, drop", zap.String("conn", cl.ConnID), zap.String("topic", o.Topic), zap.String("event", o.Event))
	}
}

func (cl *Client) handle(ctx context.Context, f Frame) {
	switch f.Op {
	case OpPing:
		cl.push(Out{Op: OpPong})
	case OpSubscribe:
		cl.subscribe(ctx, f)
	case OpUnsubscribe:
		cl.unsubscribe(f)
	}
}

func (cl *Client) subscribe(ctx context.Context, f Frame) {
	if !cl.srv.allowed(cl.UserID, f.Topic) {
		cl.push(Out{Op: OpError, Topic: f.Topic, Event: f.Event, Error: "forbidden"})
		return
	}
	key := subKey{f.Topic, f.Event}
	cl.mu.Lock()
	if _, ok := cl.subs[key]; ok || cl.closed {
		cl.mu.Unlock()
		cl.push(Out{Op: OpSubscribed, Topic: f.Topic, Event: f.Event})
		return
	}
	cl.mu.Unlock()

	sub, err := cl.srv.reg.Subscribe(ctx, f.Topic, f.Event, func(_ context.Context, env natsx.Envelope) {
		cl.push(deliveryOf(env))
	})
	if err != nil {
		logger.Warn("[gateway] subscribe failed", zap.String("conn", cl.ConnID), zap.String("topic", f.Topic), zap.Error(err))
		cl.push(Out{Op: OpError, Topic: f.Topic, Event: f.Event, Error: err.Error()})
		return
	}

	cl.mu.Lock()
	_, dup := cl.subs[key]
	if cl.closed || dup {
		cl.mu.Unlock()
		sub.Unsubscribe()
		if dup {
			cl.push(Out{Op: OpSubscribed, Topic: f.Topic, Event: f.Event})
		}
		return
	}
	cl.subs[key] = sub
	cl.mu.Unlock()
	cl.push(Out{Op: OpSubscribed, Topic: f.Topic, Event: f.Event})
}

func (cl *Client) unsubscribe(f Frame) {
	key := subKey{f.Topic, f.Event}
	cl.mu.Lock()
	sub := cl.subs[key]
	delete(cl.subs, key)
	cl.mu.Unlock()
	sub.Unsubscribe()
	cl.push(Out{Op: OpUnsubscribed, Topic: f.Topic, Event: f.Event})
}

// Subscriptions is the number of live subscriptions this client holds.
func (cl *Client) Subscriptions() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.subs)
}

// release drops every subscription and stops the writer. Idempotent.
func (cl *Client) release() {
	cl.mu.Lock()
	if cl.closed {
		cl.mu.Unlock()
		return
	}
	cl.closed = true
	subs := cl.subs
	cl.subs = map[subKey]*natsx.Subscription{}
	close(cl.done)
	cl.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}

// writeLoop 唯一写协程：业务帧 + 心跳 ping
func (cl *Client) writeLoop() {
	ticker := time.NewTicker(cl.srv.conf.PingEvery)
	defer func() {
		ticker.Stop()
		_ = cl.WS.Close()
	}()
	for {
		select {
		case b := <-cl.Send:
			_ = cl.WS.SetWriteDeadline(time.Now().Add(cl.srv.conf.WriteWait))
			if err := cl.WS.WriteMessage(websocket.TextMessage, b); err != nil {
				logger.Debug("[gateway] write failed", zap.String("conn", cl.ConnID), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = cl.WS.SetWriteDeadline(time.Now().Add(cl.srv.conf.WriteWait))
			if err := cl.WS.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-cl.done:
			_ = cl.WS.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(cl.srv.conf.WriteWait))
			return
		}
	}
}

// readLoop 只读不写；出错即退出
func (cl *Client) readLoop(ctx context.Context) {
	cl.WS.SetReadLimit(cl.srv.conf.MaxFrame)
	_ = cl.WS.SetReadDeadline(time.Now().Add(cl.srv.conf.PongWait))
	cl.WS.SetPongHandler(func(string) error {
		return cl.WS.SetReadDeadline(time.Now().Add(cl.srv.conf.PongWait))
	})
	for {
		mt, data, err := cl.WS.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				logger.Debug("[gateway] peer closed", zap.String("conn", cl.ConnID))
			} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
				logger.Info("[gateway] read timeout", zap.String("conn", cl.ConnID))
			} else {
				logger.Debug("[gateway] read err", zap.String("conn", cl.ConnID), zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		_ = cl.WS.SetReadDeadline(time.Now().Add(cl.srv.conf.PongWait))
		f, err := ParseFrame(data)
		if err != nil {
			cl.push(Out{Op: OpError, Error: err.Error()})
			continue
		}
		cl.handle(ctx, f)
	}
}
