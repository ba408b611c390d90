package diag

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/temoto/flowtele/log2"
)

const (
	clientBuffer  = 16
	writeDeadline = 5 * time.Second
	readDeadline  = 60 * time.Second
	pingInterval  = 25 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  512,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || origin == "http://"+r.Host
	},
}

// Hub fans out telemetry records to /live clients.
// Slow client misses messages instead of blocking the agent tick.
type Hub struct {
	log     *log2.Log
	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(log *log2.Log) *Hub {
	return &Hub{log: log, clients: make(map[*client]struct{})}
}

func (self *Hub) Broadcast(b []byte) {
	self.mu.Lock()
	defer self.mu.Unlock()
	for c := range self.clients {
		select {
		case c.send <- b:
		default:
			self.log.Debugf("diag live client=%s lagging, message dropped", c.conn.RemoteAddr())
		}
	}
}

func (self *Hub) Clients() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return len(self.clients)
}

func (self *Hub) CloseAll() {
	self.mu.Lock()
	defer self.mu.Unlock()
	for c := range self.clients {
		delete(self.clients, c)
		close(c.send)
	}
}

func (self *Hub) add(c *client) {
	self.mu.Lock()
	self.clients[c] = struct{}{}
	n := len(self.clients)
	self.mu.Unlock()
	self.log.Debugf("diag live connect addr=%s clients=%d", c.conn.RemoteAddr(), n)
}

func (self *Hub) remove(c *client) {
	self.mu.Lock()
	if _, ok := self.clients[c]; ok {
		delete(self.clients, c)
		close(c.send)
	}
	self.mu.Unlock()
}

func (self *Hub) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		self.log.Errorf("diag live upgrade err=%v", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	self.add(c)
	go self.writer(c)

	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				self.log.Debugf("diag live read err=%v", err)
			}
			break
		}
	}
	self.remove(c)
}

func (self *Hub) writer(c *client) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	defer c.conn.Close()
	for {
		select {
		case b, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
