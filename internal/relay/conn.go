package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tillsync/internal/event"
	"tillsync/pkg/platform/sentinel"
)

//go:generate mockgen -source=conn.go -destination=mocks/mocks.go -package=mocks Conn

// Conn is one relay connection. The pool holds one per endpoint; tests and
// mocks substitute their own.
type Conn interface {
	Query(ctx context.Context, f event.Filter) ([]event.Event, error)
	Publish(ctx context.Context, ev event.Event) error
	Subscribe(ctx context.Context, f event.Filter, onEvent func(event.Event), onCaughtUp func()) (event.Subscription, error)
	Close() error
}

// Dialer builds a Conn for an endpoint URL. Injected so pool tests run
// without a network.
type Dialer func(url string, logger *slog.Logger) Conn

// DialWebsocket is the production dialer. The connection is lazy: nothing is
// dialed until the first operation, and a dropped socket is redialed on the
// next use with standing subscriptions replayed.
func DialWebsocket(url string, logger *slog.Logger) Conn {
	return &wsConn{
		url:    url,
		logger: logger,
		subs:   make(map[string]*wsSub),
		oks:    make(map[string]chan bool),
	}
}

type wsSub struct {
	filter   event.Filter
	onEvent  func(event.Event)
	caughtUp func()
	once     sync.Once
}

type wsConn struct {
	url    string
	logger *slog.Logger

	// wmu serializes socket writes; gorilla allows one concurrent writer.
	wmu sync.Mutex

	mu     sync.Mutex
	ws     *websocket.Conn
	subs   map[string]*wsSub
	oks    map[string]chan bool
	closed bool
}

func (c *wsConn) send(ws *websocket.Conn, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return ws.WriteMessage(websocket.TextMessage, data)
}

// ensure dials the socket if needed and replays standing subscriptions.
// Callers hold no lock.
func (c *wsConn) ensure(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("connection closed: %w", sentinel.ErrInvalidState)
	}
	if c.ws != nil {
		return nil
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	c.ws = ws
	go c.readLoop(ws)

	for subID, sub := range c.subs {
		if data, err := encodeReqFrame(subID, sub.filter); err == nil {
			if err := c.send(ws, data); err != nil {
				break
			}
		}
	}
	return nil
}

func (c *wsConn) write(ctx context.Context, data []byte) error {
	if err := c.ensure(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return fmt.Errorf("connection lost: %w", sentinel.ErrUnavailable)
	}
	return c.send(ws, data)
}

func (c *wsConn) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.drop(ws, err)
			return
		}
		c.dispatch(data)
	}
}

// drop clears the dead socket so the next operation redials. Pending
// publishes are failed; standing subscriptions are replayed on redial.
func (c *wsConn) drop(ws *websocket.Conn, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws != ws {
		return
	}
	c.ws = nil
	for id, ch := range c.oks {
		close(ch)
		delete(c.oks, id)
	}
	if !c.closed {
		c.logger.Warn("relay connection dropped", "url", c.url, "error", err)
	}
	_ = ws.Close()
}

func (c *wsConn) dispatch(data []byte) {
	fr, err := decodeFrame(data)
	if err != nil {
		c.logger.Debug("dropping malformed relay frame", "url", c.url, "error", err)
		return
	}
	switch fr.label {
	case frameEvent:
		subID, err := fr.str(0)
		if err != nil {
			return
		}
		ev, err := fr.event(1)
		if err != nil {
			return
		}
		c.mu.Lock()
		sub := c.subs[subID]
		c.mu.Unlock()
		if sub != nil {
			sub.onEvent(ev)
		}
	case frameEOSE:
		subID, err := fr.str(0)
		if err != nil {
			return
		}
		c.mu.Lock()
		sub := c.subs[subID]
		c.mu.Unlock()
		if sub != nil && sub.caughtUp != nil {
			sub.once.Do(sub.caughtUp)
		}
	case frameOK:
		eventID, err := fr.str(0)
		if err != nil {
			return
		}
		accepted, err := fr.boolean(1)
		if err != nil {
			return
		}
		c.mu.Lock()
		ch := c.oks[eventID]
		delete(c.oks, eventID)
		c.mu.Unlock()
		if ch != nil {
			ch <- accepted
			close(ch)
		}
	case frameNotice:
		if msg, err := fr.str(0); err == nil {
			c.logger.Debug("relay notice", "url", c.url, "message", msg)
		}
	}
}

// Publish sends the event and waits for the relay's acknowledgement.
func (c *wsConn) Publish(ctx context.Context, ev event.Event) error {
	data, err := encodeEventFrame(ev)
	if err != nil {
		return err
	}

	ack := make(chan bool, 1)
	c.mu.Lock()
	c.oks[ev.ID] = ack
	c.mu.Unlock()

	if err := c.write(ctx, data); err != nil {
		c.mu.Lock()
		delete(c.oks, ev.ID)
		c.mu.Unlock()
		return err
	}

	select {
	case accepted, open := <-ack:
		if !open {
			return fmt.Errorf("%s: connection lost awaiting ack: %w", c.url, sentinel.ErrUnavailable)
		}
		if !accepted {
			return fmt.Errorf("%s rejected event %s", c.url, ev.ID)
		}
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.oks, ev.ID)
		c.mu.Unlock()
		return ctx.Err()
	}
}

// Query opens a one-shot subscription, collects events until the relay
// signals end-of-stored-events, and closes it.
func (c *wsConn) Query(ctx context.Context, f event.Filter) ([]event.Event, error) {
	subID := uuid.NewString()

	var mu sync.Mutex
	var events []event.Event
	done := make(chan struct{})

	c.mu.Lock()
	c.subs[subID] = &wsSub{
		filter: f,
		onEvent: func(ev event.Event) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		},
		caughtUp: func() { close(done) },
	}
	c.mu.Unlock()

	defer c.unsubscribe(subID)

	data, err := encodeReqFrame(subID, f)
	if err != nil {
		return nil, err
	}
	if err := c.write(ctx, data); err != nil {
		return nil, err
	}

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	return events, nil
}

// Subscribe opens a standing subscription that survives redials.
func (c *wsConn) Subscribe(ctx context.Context, f event.Filter, onEvent func(event.Event), onCaughtUp func()) (event.Subscription, error) {
	subID := uuid.NewString()

	c.mu.Lock()
	c.subs[subID] = &wsSub{filter: f, onEvent: onEvent, caughtUp: onCaughtUp}
	c.mu.Unlock()

	data, err := encodeReqFrame(subID, f)
	if err != nil {
		c.unsubscribe(subID)
		return nil, err
	}
	if err := c.write(ctx, data); err != nil {
		c.unsubscribe(subID)
		return nil, err
	}
	return subHandle{conn: c, subID: subID}, nil
}

type subHandle struct {
	conn  *wsConn
	subID string
}

func (h subHandle) Close() { h.conn.unsubscribe(h.subID) }

func (c *wsConn) unsubscribe(subID string) {
	c.mu.Lock()
	ws := c.ws
	delete(c.subs, subID)
	c.mu.Unlock()
	if ws != nil {
		if data, err := encodeCloseFrame(subID); err == nil {
			_ = c.send(ws, data)
		}
	}
}

// Close tears the connection down for good.
func (c *wsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.ws != nil {
		err := c.ws.Close()
		c.ws = nil
		return err
	}
	return nil
}
