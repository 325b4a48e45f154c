// Package aistream provides the duplex audio channel to the voice-AI
// service: binary WebSocket messages carrying little-endian 16-bit PCM in
// both directions. Protocol semantics above raw PCM (session control,
// transcripts) belong to the AI collaborator, not this package.
package aistream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrChannelClosed means a send hit a channel after Close.
var ErrChannelClosed = errors.New("aistream: channel closed")

// OnAudio receives one inbound binary message of little-endian PCM. Invoked
// from the read pump goroutine; feed it to the playout engine's BufferAudio.
type OnAudio func(pcm []byte)

// Channel is one call's duplex connection to the AI service.
type Channel struct {
	conn    *websocket.Conn
	onAudio OnAudio
	group   *errgroup.Group

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Dial connects to the AI service and starts the read pump.
//
// Parameters:
//   - ctx: bounds the dial; the connection itself outlives it
//   - url: ws:// or wss:// endpoint
//   - onAudio: consumer of inbound PCM bursts
//
// Returns:
//   - *Channel: connected channel
//   - error: nil consumer or dial failure
func Dial(ctx context.Context, url string, onAudio OnAudio) (*Channel, error) {
	if onAudio == nil {
		return nil, fmt.Errorf("aistream: onAudio is nil")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "aistream.Dial",
			"url":      url,
			"error":    err.Error(),
		}).Error("AI channel dial failed")
		return nil, fmt.Errorf("aistream: dial %s: %w", url, err)
	}

	c := &Channel{
		conn:    conn,
		onAudio: onAudio,
		group:   &errgroup.Group{},
	}
	c.group.Go(c.readPump)

	logrus.WithFields(logrus.Fields{
		"function": "aistream.Dial",
		"url":      url,
	}).Info("AI channel connected")

	return c, nil
}

// readPump delivers inbound binary messages until the peer or Close ends the
// connection.
func (c *Channel) readPump() error {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() ||
				websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			logrus.WithFields(logrus.Fields{
				"function": "Channel.readPump",
				"error":    err.Error(),
			}).Warn("AI channel read failed")
			return fmt.Errorf("aistream: read: %w", err)
		}
		if messageType == websocket.BinaryMessage && len(data) > 0 {
			c.onAudio(data)
		}
	}
}

// SendFrame writes one 20ms ingress frame as a binary little-endian PCM
// message. Safe for concurrent use.
func (c *Channel) SendFrame(frame []int16) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}

	buf := make([]byte, len(frame)*2)
	for i, s := range frame {
		buf[i*2] = byte(s)
		buf[i*2+1] = byte(s >> 8)
	}

	c.writeMu.Lock()
	err := c.conn.WriteMessage(websocket.BinaryMessage, buf)
	c.writeMu.Unlock()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Channel.SendFrame",
			"samples":  len(frame),
			"error":    err.Error(),
		}).Warn("AI channel write failed")
		return fmt.Errorf("aistream: write: %w", err)
	}
	return nil
}

// Close shuts the connection down and joins the read pump. Idempotent; the
// first call's result is returned to all callers.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteMessage(websocket.CloseMessage, msg)
		c.writeMu.Unlock()

		_ = c.conn.Close()
		c.closeErr = c.group.Wait()

		logrus.WithFields(logrus.Fields{
			"function": "Channel.Close",
		}).Info("AI channel closed")
	})
	return c.closeErr
}
