package server

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/entrhq/taskpilot/pkg/types"
)

// outboundBuffer absorbs frame bursts without blocking the engine.
const outboundBuffer = 64

// client owns one websocket connection. All writes funnel through a
// single goroutine so events reach the wire in emission order.
type client struct {
	id       string
	ws       *websocket.Conn
	outbound chan *types.Event
	done     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

func newClient(id string, ws *websocket.Conn) *client {
	c := &client{
		id:       id,
		ws:       ws,
		outbound: make(chan *types.Event, outboundBuffer),
		done:     make(chan struct{}),
	}
	c.wg.Add(1)
	go c.writeLoop()
	return c
}

// emit queues an event for delivery. It blocks while the buffer is
// full so ordering survives bursts, and becomes a no-op once the
// client is shutting down.
func (c *client) emit(ev *types.Event) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.outbound <- ev:
	case <-c.done:
	}
}

func (c *client) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case ev := <-c.outbound:
			if err := c.ws.WriteJSON(ev); err != nil {
				c.shutdown()
				return
			}
		case <-c.done:
			// Deliver anything already queued before giving up the
			// socket.
			for {
				select {
				case ev := <-c.outbound:
					_ = c.ws.WriteJSON(ev)
				default:
					return
				}
			}
		}
	}
}

// shutdown stops accepting events. Safe to call more than once.
func (c *client) shutdown() {
	c.once.Do(func() { close(c.done) })
}

// drainAndClose waits for the writer to finish and closes the socket.
func (c *client) drainAndClose() {
	c.shutdown()
	c.wg.Wait()
	_ = c.ws.Close()
}
