package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skald-audio/capture-service/internal/metrics"
	"github.com/skald-audio/capture-service/internal/protocol"
)

const (
	// Time allowed to write a control frame to the gateway.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong before the link counts as dead.
	pongWait = 60 * time.Second

	// Ping interval; must be shorter than pongWait.
	pingPeriod = 54 * time.Second

	// Buffered messages per connection before frames are dropped.
	messageBuffer = 1000

	maxMessageSize = 64 * 1024
)

// Config contains voice gateway connection settings
type Config struct {
	URL         string
	Token       string
	DialTimeout time.Duration
}

// Client dials voice gateway channels. One websocket connection serves
// one channel.
type Client struct {
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewClient creates a new gateway client
func NewClient(config Config, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("gateway URL cannot be empty")
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 10 * time.Second
	}

	return &Client{
		config:  config,
		logger:  logger.With(slog.String("component", "gateway_client")),
		metrics: m,
	}, nil
}

// Join opens a websocket connection streaming the given channel's
// speaking events and audio frames.
func (c *Client) Join(ctx context.Context, channelID string) (*Conn, error) {
	u, err := url.Parse(c.config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway URL: %w", err)
	}
	q := u.Query()
	q.Set("channel", channelID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if c.config.Token != "" {
		header.Set("Authorization", "Bearer "+c.config.Token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.config.DialTimeout}
	ws, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial gateway (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial gateway: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	connCtx, cancel := context.WithCancel(context.Background())
	conn := &Conn{
		ws:        ws,
		channelID: channelID,
		logger:    c.logger.With(slog.String("channel_id", channelID)),
		metrics:   c.metrics,
		messages:  make(chan protocol.Message, messageBuffer),
		ctx:       connCtx,
		cancel:    cancel,
	}

	conn.wg.Add(2)
	go conn.receiveLoop()
	go conn.pingLoop()

	c.logger.Info("Joined voice channel",
		slog.String("channel_id", channelID),
		slog.String("gateway", u.Host),
	)

	return conn, nil
}

// Conn is one live channel subscription on the voice gateway.
type Conn struct {
	ws        *websocket.Conn
	channelID string
	logger    *slog.Logger
	metrics   *metrics.Metrics

	messages chan protocol.Message

	// Concurrency management
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	// Counters
	messagesReceived uint64
	framesDropped    uint64
	parseErrors      uint64
	mu               sync.RWMutex
}

// Messages returns the parsed message stream. The channel closes when
// the connection ends.
func (c *Conn) Messages() <-chan protocol.Message {
	return c.messages
}

// ChannelID returns the joined channel's identifier.
func (c *Conn) ChannelID() string {
	return c.channelID
}

// Close tears down the connection and waits for its goroutines.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()

		// Best-effort close handshake so the gateway sees a clean leave.
		deadline := time.Now().Add(writeWait)
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)

		c.ws.Close()
		c.wg.Wait()
	})
	return nil
}

// receiveLoop reads gateway messages until the connection ends.
func (c *Conn) receiveLoop() {
	defer c.wg.Done()
	defer close(c.messages)

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.ctx.Done():
				// Expected during shutdown
			default:
				if websocket.IsUnexpectedCloseError(err,
					websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.logger.Error("Gateway connection lost", slog.String("error", err.Error()))
				} else {
					c.logger.Info("Gateway connection closed")
				}
			}
			return
		}

		if msgType != websocket.BinaryMessage {
			continue
		}

		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			c.mu.Lock()
			c.parseErrors++
			c.mu.Unlock()
			if c.metrics != nil {
				c.metrics.RecordParseError()
			}

			c.logger.Warn("Failed to parse gateway message",
				slog.Int("message_size", len(data)),
				slog.String("error", err.Error()),
			)
			continue
		}

		c.mu.Lock()
		c.messagesReceived++
		c.mu.Unlock()
		if msg.Type == protocol.MsgTypeAudio && c.metrics != nil {
			c.metrics.RecordFrameReceived()
		}

		// Deliver without blocking the reader; a stalled consumer sheds
		// frames instead of backing up the websocket.
		select {
		case c.messages <- *msg:
		default:
			c.mu.Lock()
			c.framesDropped++
			c.mu.Unlock()
			if c.metrics != nil {
				c.metrics.RecordFrameDropped()
			}

			c.logger.Warn("Message queue full, dropping message",
				slog.String("message_type", protocol.MessageTypeName(msg.Type)),
			)
		}
	}
}

// pingLoop keeps the connection alive while the context runs.
func (c *Conn) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeWait)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				select {
				case <-c.ctx.Done():
				default:
					c.logger.Warn("Failed to ping gateway", slog.String("error", err.Error()))
				}
				return
			}
		}
	}
}

// GetStatistics returns current connection statistics
func (c *Conn) GetStatistics() ConnStatistics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return ConnStatistics{
		ChannelID:        c.channelID,
		MessagesReceived: c.messagesReceived,
		FramesDropped:    c.framesDropped,
		ParseErrors:      c.parseErrors,
		QueueSize:        uint64(len(c.messages)),
		QueueCapacity:    uint64(cap(c.messages)),
	}
}

// ConnStatistics represents connection performance metrics
type ConnStatistics struct {
	ChannelID        string `json:"channel_id"`
	MessagesReceived uint64 `json:"messages_received"`
	FramesDropped    uint64 `json:"frames_dropped"`
	ParseErrors      uint64 `json:"parse_errors"`
	QueueSize        uint64 `json:"queue_size"`
	QueueCapacity    uint64 `json:"queue_capacity"`
}
