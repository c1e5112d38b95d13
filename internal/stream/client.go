package stream

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
)

const (
	clientSendBufferSize = 32
	pingInterval         = 30 * time.Second
	writeTimeout         = 10 * time.Second
	readTimeout          = 60 * time.Second
)

// Client is a single attached stream connection with its own send queue.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	ctx    context.Context
	cancel context.CancelFunc

	closed  bool
	closeMu sync.Mutex
}

// Wait blocks until the client disconnects. Handlers call this to keep
// the upgraded request alive.
func (c *Client) Wait() {
	<-c.ctx.Done()
}

func (c *Client) start() {
	go c.writePump()
	go c.readPump()
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, message)
			cancel()
			if err != nil {
				log.Debug().Err(err).Str("clientId", c.id).Msg("Stream write failed")
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// readPump drains incoming frames. The stream carries no client commands;
// reading only serves to notice the peer going away.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.close()
	}()

	for {
		readCtx, cancel := context.WithTimeout(c.ctx, readTimeout)
		_, _, err := c.conn.Read(readCtx)
		cancel()
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && c.ctx.Err() == nil {
				log.Debug().Err(err).Str("clientId", c.id).Msg("Stream read ended")
			}
			return
		}
	}
}

func (c *Client) enqueue(message []byte) bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		log.Warn().Str("clientId", c.id).Msg("Stream send buffer full, dropping slow client")
		go c.close()
		return false
	}
}

func (c *Client) close() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.cancel()
	close(c.send)
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}
