package main

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/klucsik/rpg-music-sub000/playback"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	sendBufferSize = 64

	trackEndedTimeout = 5 * time.Second
)

// clientMessage is the inbound frame listeners send over the socket.
type clientMessage struct {
	Type       string  `json:"type"`
	TrackID    string  `json:"trackId"`
	Position   float64 `json:"position"`
	Message    string  `json:"message"`
	ClientTime int64   `json:"clientTime"`
}

// Client is one websocket listener. It implements playback.Session; the
// engine pushes room events through Send and the pumps relay them to the
// socket.
type Client struct {
	id     string
	name   string
	engine *playback.Engine
	conn   *websocket.Conn
	send   chan playback.Event
	done   chan struct{}
	closed atomic.Bool
}

func NewClient(name string, conn *websocket.Conn, engine *playback.Engine) *Client {
	return &Client{
		id:     uuid.NewString(),
		name:   name,
		engine: engine,
		conn:   conn,
		send:   make(chan playback.Event, sendBufferSize),
		done:   make(chan struct{}),
	}
}

// ID implements playback.Session.
func (c *Client) ID() string { return c.id }

// Send implements playback.Session. It never blocks the room loop.
func (c *Client) Send(ev playback.Event) { c.push(ev) }

func (c *Client) readLoop() {
	defer func() {
		c.close()
	}()
	c.conn.SetReadLimit(1 << 20)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("listener", c.name).Msg("read message")
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Debug().Err(err).Str("listener", c.name).Msg("[server] malformed client message")
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg clientMessage) {
	switch msg.Type {
	case "track_ended":
		room, ok := c.engine.SessionRoom(c.id)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), trackEndedTimeout)
		defer cancel()
		if err := c.engine.TrackEnded(ctx, room, msg.TrackID); err != nil {
			log.Debug().Err(err).Str("room", room).Str("track", msg.TrackID).Msg("[server] track-ended report rejected")
		}
	case "report_error":
		room, _ := c.engine.SessionRoom(c.id)
		log.Warn().Str("listener", c.name).Str("room", room).Str("message", msg.Message).Msg("[server] listener reported playback error")
	case "time_ping":
		c.push(playback.Event{
			Type:       playback.EventTimePong,
			ClientTime: msg.ClientTime,
			ServerTime: playback.ServerTime(),
		})
	case "state_request":
		c.engine.Sync(c.id)
	default:
		log.Debug().Str("type", msg.Type).Str("listener", c.name).Msg("[server] unknown client message")
	}
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Str("listener", c.name).Msg("write json")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) push(ev playback.Event) {
	if c.closed.Load() {
		return
	}
	select {
	case c.send <- ev:
		return
	default:
	}
	// drop oldest to avoid blocking
	select {
	case <-c.send:
	default:
	}
	select {
	case c.send <- ev:
	default:
	}
}

func (c *Client) close() {
	if c.closed.Swap(true) {
		return
	}
	c.engine.Detach(c.id)
	close(c.done)
	_ = c.conn.Close()
}
