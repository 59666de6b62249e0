package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Laffyyy/collabo-tool-sub001/internal/middleware"
	"github.com/Laffyyy/collabo-tool-sub001/internal/models"
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Feed delivers raw presence update payloads until ctx is cancelled, then
// closes the channel.
type Feed interface {
	Updates(ctx context.Context) (<-chan []byte, error)
}

// RedisFeed subscribes to a Redis pub/sub channel.
type RedisFeed struct {
	client  *redis.Client
	channel string
}

func NewRedisFeed(client *redis.Client, channel string) *RedisFeed {
	return &RedisFeed{client: client, channel: channel}
}

func (f *RedisFeed) Updates(ctx context.Context) (<-chan []byte, error) {
	pubsub := f.client.Subscribe(ctx, f.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

type client struct {
	userID uuid.UUID
	conn   *websocket.Conn
	mu     sync.Mutex
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub fans presence updates out to every connected client. It holds one feed
// subscription while at least one client is connected.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	feed    Feed
	cancel  context.CancelFunc

	newBackOff func() backoff.BackOff
}

func NewHub(feed Feed) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		feed:    feed,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
}

// HandleWebSocket upgrades an authenticated request. Mount it behind
// JWTAuth.QueryTokenMiddleware.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &client{userID: userID, conn: conn}
	h.register(c)

	go func() {
		defer h.unregister(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = struct{}{}
	if len(h.clients) == 1 {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancel = cancel
		go h.consume(ctx)
	}

	log.Debug().Str("user_id", c.userID.String()).Int("clients", len(h.clients)).Msg("websocket connected")
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	c.conn.Close()
	delete(h.clients, c)

	if len(h.clients) == 0 && h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}

	log.Debug().Str("user_id", c.userID.String()).Msg("websocket disconnected")
}

// consume keeps a feed subscription alive until ctx is cancelled. Failed or
// dropped subscriptions are retried with backoff.
func (h *Hub) consume(ctx context.Context) {
	for ctx.Err() == nil {
		updates, err := backoff.Retry(ctx,
			func() (<-chan []byte, error) {
				return h.feed.Updates(ctx)
			},
			backoff.WithBackOff(h.newBackOff()),
			backoff.WithMaxElapsedTime(0),
			backoff.WithNotify(func(err error, next time.Duration) {
				log.Warn().Err(err).Dur("retry_in", next).Msg("presence feed subscription failed")
			}),
		)
		if err != nil {
			return
		}
		for payload := range updates {
			h.Broadcast(payload)
		}
		if ctx.Err() == nil {
			log.Warn().Msg("presence feed closed, resubscribing")
		}
	}
}

// Broadcast wraps a raw presence update and writes it to every client.
func (h *Hub) Broadcast(payload []byte) {
	data, err := json.Marshal(models.WSMessage{Type: "presence", Payload: json.RawMessage(payload)})
	if err != nil {
		log.Warn().Err(err).Msg("dropping malformed presence payload")
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.write(data); err != nil {
			log.Debug().Err(err).Str("user_id", c.userID.String()).Msg("websocket write failed")
			go h.unregister(c)
		}
	}
}

// ClientCount reports how many sockets are connected.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and drops the feed subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close()
		delete(h.clients, c)
	}
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}
