package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	ws "github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/dukerupert/hoadmin/internal/backend"
)

const (
	heartbeatInterval = 25 * time.Second
	maxBackoff        = 30 * time.Second
)

var _ backend.Realtime = (*Client)(nil)

// phxMessage is a Phoenix channel frame.
type phxMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
	JoinRef *string         `json:"join_ref,omitempty"`
}

type changesPayload struct {
	Data backend.Change `json:"data"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// realtimeURL maps the project URL to its realtime websocket endpoint.
func (c *Client) realtimeURL() string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/realtime/v1/websocket?apikey=" + c.anonKey + "&vsn=1.0.0"
}

// Subscribe streams row changes of table in the public schema to fn. The
// first connection must succeed; later drops are retried with backoff until
// unsubscribe is called or ctx ends.
func (c *Client) Subscribe(ctx context.Context, table string, fn func(backend.Change)) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		client: c,
		table:  table,
		topic:  "realtime:hoadmin-" + table + "-" + uuid.NewString(),
		fn:     fn,
	}

	conn, err := sub.connect(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", table, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		sub.run(ctx, conn)
	}()

	return func() {
		cancel()
		<-done
	}, nil
}

type subscription struct {
	client *Client
	table  string
	topic  string
	fn     func(backend.Change)
	ref    atomic.Int64
}

func (s *subscription) nextRef() *string {
	r := strconv.FormatInt(s.ref.Add(1), 10)
	return &r
}

func (s *subscription) send(ctx context.Context, conn *ws.Conn, msg phxMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Event, err)
	}
	return conn.Write(ctx, ws.MessageText, data)
}

// connect dials and joins the channel.
func (s *subscription) connect(ctx context.Context) (*ws.Conn, error) {
	conn, _, err := ws.Dial(ctx, s.client.realtimeURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial realtime: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	payload, _ := json.Marshal(map[string]any{
		"config": map[string]any{
			"postgres_changes": []map[string]string{
				{"event": "*", "schema": "public", "table": s.table},
			},
		},
		"access_token": s.client.bearer(),
	})
	ref := s.nextRef()
	join := phxMessage{Topic: s.topic, Event: "phx_join", Payload: payload, Ref: ref, JoinRef: ref}
	if err := s.send(ctx, conn, join); err != nil {
		conn.Close(ws.StatusInternalError, "join failed")
		return nil, fmt.Errorf("join %s: %w", s.topic, err)
	}
	return conn, nil
}

// run pumps one connection at a time, reconnecting on failure.
func (s *subscription) run(ctx context.Context, conn *ws.Conn) {
	logger := s.client.logger.With("component", "realtime", "table", s.table)
	backoff := time.Second

	for {
		err := s.pump(ctx, conn)
		conn.Close(ws.StatusNormalClosure, "")
		if ctx.Err() != nil {
			return
		}
		logger.Warn("realtime connection lost", "error", err, "retry_in", backoff)

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)

			conn, err = s.connect(ctx)
			if err == nil {
				backoff = time.Second
				break
			}
			logger.Warn("realtime reconnect", "error", err, "retry_in", backoff)
		}
	}
}

// pump runs the heartbeat writer and the reader until either fails.
func (s *subscription) pump(ctx context.Context, conn *ws.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				hb := phxMessage{Topic: "phoenix", Event: "heartbeat", Payload: json.RawMessage(`{}`), Ref: s.nextRef()}
				if err := s.send(ctx, conn, hb); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var msg phxMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if err := s.handle(msg); err != nil {
			return err
		}
	}
}

var errChannelClosed = errors.New("realtime channel closed")

func (s *subscription) handle(msg phxMessage) error {
	if msg.Topic != s.topic {
		return nil
	}
	switch msg.Event {
	case "postgres_changes":
		var p changesPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return nil
		}
		if p.Data.Table == "" {
			p.Data.Table = s.table
		}
		s.fn(p.Data)
	case "phx_reply":
		var r replyPayload
		if err := json.Unmarshal(msg.Payload, &r); err == nil && r.Status == "error" {
			return fmt.Errorf("join rejected: %s", string(r.Response))
		}
	case "phx_close", "phx_error":
		return errChannelClosed
	}
	return nil
}
