package walletconnect

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	relayWriteTimeout  = 10 * time.Second
	relayPublishTTL    = 300
	messageChanBacklog = 64
)

// Message is one payload received on a subscribed topic, regardless of which
// protocol's transport delivered it.
type Message struct {
	Topic   string
	Payload []byte
}

// Transport moves opaque payloads between the wallet and a remote peer via a
// relay. The v2 relay and the v1 bridge server speak different framings, so
// each gets its own implementation over the same interface.
type Transport interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string) error
	Messages() <-chan Message
	Close() error
}

// --- v2 relay transport ---

type relayFrame struct {
	ID      int64           `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

type relayPublishParams struct {
	Topic   string `json:"topic"`
	Message string `json:"message"`
	TTL     int    `json:"ttl"`
	Tag     int    `json:"tag"`
}

type relaySubscribeParams struct {
	Topic string `json:"topic"`
}

type relaySubscriptionData struct {
	Topic   string `json:"topic"`
	Message string `json:"message"`
}

type relaySubscriptionParams struct {
	ID   string                `json:"id"`
	Data relaySubscriptionData `json:"data"`
}

// RelayTransport is the v2 transport: JSON-RPC frames over a websocket to
// the relay, publish/subscribe addressed by topic.
type RelayTransport struct {
	conn     *websocket.Conn
	logger   *slog.Logger
	messages chan Message
	nextID   atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// DialRelay connects to the v2 relay and starts the read loop.
func DialRelay(ctx context.Context, relayURL string, logger *slog.Logger) (*RelayTransport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, _, err := websocket.Dial(ctx, relayURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	t := &RelayTransport{
		conn:     conn,
		logger:   logger.With(slog.String("component", "wc-relay")),
		messages: make(chan Message, messageChanBacklog),
		done:     make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func (t *RelayTransport) readLoop() {
	defer close(t.messages)
	for {
		var frame relayFrame
		if err := wsjson.Read(context.Background(), t.conn, &frame); err != nil {
			select {
			case <-t.done:
			default:
				t.logger.Warn("relay read loop ended", slog.Any("error", err))
			}
			return
		}
		if frame.Method != "irn_subscription" {
			// Acks for our own publish/subscribe calls.
			continue
		}
		var params relaySubscriptionParams
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			t.logger.Debug("malformed relay subscription frame", slog.Any("error", err))
			continue
		}
		t.ack(frame.ID)
		select {
		case t.messages <- Message{Topic: params.Data.Topic, Payload: []byte(params.Data.Message)}:
		case <-t.done:
			return
		}
	}
}

func (t *RelayTransport) ack(id int64) {
	ctx, cancel := context.WithTimeout(context.Background(), relayWriteTimeout)
	defer cancel()
	frame := map[string]interface{}{"id": id, "jsonrpc": "2.0", "result": true}
	if err := wsjson.Write(ctx, t.conn, frame); err != nil {
		t.logger.Debug("relay ack failed", slog.Any("error", err))
	}
}

func (t *RelayTransport) call(ctx context.Context, method string, params interface{}) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	frame := relayFrame{ID: t.nextID.Add(1), JSONRPC: "2.0", Method: method, Params: raw}
	writeCtx, cancel := context.WithTimeout(ctx, relayWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, t.conn, frame)
}

func (t *RelayTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	return t.call(ctx, "irn_publish", relayPublishParams{
		Topic:   topic,
		Message: string(payload),
		TTL:     relayPublishTTL,
	})
}

func (t *RelayTransport) Subscribe(ctx context.Context, topic string) error {
	return t.call(ctx, "irn_subscribe", relaySubscribeParams{Topic: topic})
}

func (t *RelayTransport) Messages() <-chan Message {
	return t.messages
}

func (t *RelayTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close(websocket.StatusNormalClosure, "bridge shutting down")
	})
	return err
}

// --- v1 bridge transport ---

type bridgeFrame struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Payload string `json:"payload"`
	Silent  bool   `json:"silent"`
}

// LegacyTransport is the v1 transport: pub/sub frames over a websocket to a
// legacy bridge server.
type LegacyTransport struct {
	conn     *websocket.Conn
	logger   *slog.Logger
	messages chan Message

	closeOnce sync.Once
	done      chan struct{}
}

// DialLegacyBridge connects to a v1 bridge server and starts the read loop.
func DialLegacyBridge(ctx context.Context, bridgeURL string, logger *slog.Logger) (*LegacyTransport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, _, err := websocket.Dial(ctx, bridgeURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial legacy bridge: %w", err)
	}
	t := &LegacyTransport{
		conn:     conn,
		logger:   logger.With(slog.String("component", "wc-legacy-bridge")),
		messages: make(chan Message, messageChanBacklog),
		done:     make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func (t *LegacyTransport) readLoop() {
	defer close(t.messages)
	for {
		var frame bridgeFrame
		if err := wsjson.Read(context.Background(), t.conn, &frame); err != nil {
			select {
			case <-t.done:
			default:
				t.logger.Warn("legacy bridge read loop ended", slog.Any("error", err))
			}
			return
		}
		if frame.Type != "pub" {
			continue
		}
		select {
		case t.messages <- Message{Topic: frame.Topic, Payload: []byte(frame.Payload)}:
		case <-t.done:
			return
		}
	}
}

func (t *LegacyTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, relayWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, t.conn, bridgeFrame{
		Topic:   topic,
		Type:    "pub",
		Payload: string(payload),
		Silent:  true,
	})
}

func (t *LegacyTransport) Subscribe(ctx context.Context, topic string) error {
	writeCtx, cancel := context.WithTimeout(ctx, relayWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, t.conn, bridgeFrame{Topic: topic, Type: "sub"})
}

func (t *LegacyTransport) Messages() <-chan Message {
	return t.messages
}

func (t *LegacyTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close(websocket.StatusNormalClosure, "bridge shutting down")
	})
	return err
}
