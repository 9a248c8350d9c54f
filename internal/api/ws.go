package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"orderhub/internal/metrics"
	"orderhub/internal/orderhub"
)

const (
	wsReadLimit    = 1 << 20
	wsPongWait     = 60 * time.Second
	wsPingInterval = 20 * time.Second
	wsWriteWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

var (
	errConnClosed     = errors.New("connection closed")
	errSendBufferFull = errors.New("send buffer full")
)

// clientMessage is what dashboards send us.
type clientMessage struct {
	Type         string `json:"type"`
	RestaurantID string `json:"restaurantId,omitempty"`
}

// wsConn adapts a gorilla connection to orderhub.Conn. All writes happen on
// the writer goroutine; Send only enqueues.
type wsConn struct {
	id  string
	ws  *websocket.Conn
	out chan orderhub.Message
	log logrus.FieldLogger

	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	holding bool
	held    []orderhub.Message
}

func newWSConn(ws *websocket.Conn, buffer int, log logrus.FieldLogger) *wsConn {
	if buffer <= 0 {
		buffer = 32
	}
	id := uuid.NewString()
	return &wsConn{
		id:   id,
		ws:   ws,
		out:  make(chan orderhub.Message, buffer),
		log:  log.WithField("conn_id", id),
		done: make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

// Send queues m for the writer. It fails rather than waits when the buffer is
// full, so a slow dashboard gets pruned instead of stalling its actor.
func (c *wsConn) Send(_ context.Context, m orderhub.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.holding {
		if len(c.held) >= cap(c.out) {
			return errSendBufferFull
		}
		c.held = append(c.held, m)
		return nil
	}
	return c.enqueue(m)
}

// caller holds c.mu
func (c *wsConn) enqueue(m orderhub.Message) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.out <- m:
		return nil
	default:
		return errSendBufferFull
	}
}

// hold parks pushes until release, so a subscribe ack always precedes the
// updates that follow it.
func (c *wsConn) hold() {
	c.mu.Lock()
	c.holding = true
	c.mu.Unlock()
}

// release queues first (if non-nil) followed by everything held.
func (c *wsConn) release(first *orderhub.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.holding = false
	held := c.held
	c.held = nil
	if first != nil {
		if err := c.enqueue(*first); err != nil {
			return err
		}
	}
	for _, m := range held {
		if err := c.enqueue(m); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the writer, which closes the socket. The read loop then exits
// and reports the connection gone.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case m := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.ws.WriteJSON(m); err != nil {
				c.log.WithError(err).Debug("ws write failed")
				_ = c.Close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				_ = c.Close()
				return
			}
		case <-c.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
			return
		}
	}
}

// WebSocketHandler serves /v1/ws. Dashboards send subscribe, unsubscribe and
// ping messages; order changes are pushed as they happen.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := newWSConn(ws, s.Config.Sync.SendBuffer, s.Log)
	metrics.ActiveConnections.Inc()
	go c.writeLoop()
	c.log.Info("dashboard connected")

	defer func() {
		_ = c.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.Hub.ConnectionClosed(ctx, c.ID())
		cancel()
		metrics.ActiveConnections.Dec()
		c.log.Info("dashboard disconnected")
	}()

	ws.SetReadLimit(wsReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error { return ws.SetReadDeadline(time.Now().Add(wsPongWait)) })

	ctx := r.Context()
	for {
		var msg clientMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.WithError(err).Debug("ws read failed")
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
		if err := s.handleClientMessage(ctx, c, msg); err != nil {
			return
		}
	}
}

// handleClientMessage returns an error only when the connection is unusable.
func (s *Server) handleClientMessage(ctx context.Context, c *wsConn, msg clientMessage) error {
	switch msg.Type {
	case "subscribe":
		if msg.RestaurantID == "" {
			return c.Send(ctx, errorMessage("", "restaurantId required"))
		}
		c.hold()
		ack, err := s.Hub.Subscribe(ctx, c, msg.RestaurantID)
		if err != nil {
			c.log.WithField("restaurant_id", msg.RestaurantID).WithError(err).Warn("subscribe failed")
			reply := errorMessage(msg.RestaurantID, err.Error())
			return c.release(&reply)
		}
		return c.release(&ack)
	case "unsubscribe":
		if msg.RestaurantID == "" {
			return c.Send(ctx, errorMessage("", "restaurantId required"))
		}
		ack, err := s.Hub.Unsubscribe(ctx, c.ID(), msg.RestaurantID)
		if err != nil {
			return c.Send(ctx, errorMessage(msg.RestaurantID, err.Error()))
		}
		return c.Send(ctx, ack)
	case "ping":
		return c.Send(ctx, orderhub.Message{Type: orderhub.MsgPong, Timestamp: time.Now().UTC()})
	default:
		return c.Send(ctx, errorMessage(msg.RestaurantID, "unknown message type "+msg.Type))
	}
}

func errorMessage(restaurantID, text string) orderhub.Message {
	return orderhub.Message{Type: orderhub.MsgError, RestaurantID: restaurantID, Error: text, Timestamp: time.Now().UTC()}
}
