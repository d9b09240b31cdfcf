package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kode4food/caravan"
	"github.com/kode4food/caravan/message"
	"github.com/kode4food/caravan/topic"

	"github.com/kode4food/stepflow/pkg/log"
)

// Client streams log entries to one WebSocket connection. Entries are
// queued on a topic so that slow connections never block the logger
type Client struct {
	conn      *websocket.Conn
	queue     topic.Topic[log.Entry]
	producer  topic.Producer[log.Entry]
	consumer  topic.Consumer[log.Entry]
	traceID   string
	remove    func()
	closed    chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
}

const (
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = (pongWait * 9) / 10
	maxMessageSize     = 512
	wsBufferSize       = 1024
	incomingBufferSize = 16
	traceQueryParam    = "traceId"
	traceAttr          = "trace_id"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsBufferSize,
	WriteBufferSize: wsBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (s *Server) handleLogSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed",
			log.Error(err))
		return
	}

	queue := caravan.NewTopic[log.Entry]()
	client := &Client{
		conn:     conn,
		queue:    queue,
		producer: queue.NewProducer(),
		consumer: queue.NewConsumer(),
		traceID:  c.Query(traceQueryParam),
		closed:   make(chan struct{}),
	}
	client.remove = s.engine.Logger().AddListener(client.enqueue)
	s.registerWebSocket(client)

	go func() {
		defer s.unregisterWebSocket(client)
		client.run()
	}()
}

// Close stops streaming and closes the connection
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.remove()
		c.mu.Lock()
		close(c.closed)
		c.mu.Unlock()
		_ = c.conn.Close()
	})
}

func (c *Client) enqueue(e log.Entry) {
	if c.traceID != "" && e.Attrs[traceAttr] != c.traceID {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	select {
	case <-c.closed:
	default:
		message.Send(c.producer, e)
	}
}

func (c *Client) run() {
	defer func() {
		c.Close()
		c.producer.Close()
		c.consumer.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	incoming := make(chan []byte, incomingBufferSize)
	go c.readMessages(incoming)

	for {
		select {
		case <-c.closed:
			return

		case _, ok := <-incoming:
			if !ok {
				return
			}

		case entry, ok := <-c.consumer.Receive():
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !c.send(entry) {
				return
			}

		case <-ticker.C:
			if !c.sendPing() {
				return
			}
		}
	}
}

func (c *Client) readMessages(incoming chan []byte) {
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			close(incoming)
			return
		}
		select {
		case incoming <- msg:
		default:
		}
	}
}

func (c *Client) send(e log.Entry) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(e); err != nil {
		slog.Error("WebSocket write failed",
			log.Error(err))
		return false
	}
	return true
}

func (c *Client) sendPing() bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteMessage(websocket.PingMessage, nil)
	return err == nil
}
