package comfy

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrReadTimeout is returned by Next when no event arrives within the
// per-read timeout. It is not a failure: the monitor uses it to re-check its
// execution budget on a silent stream.
var ErrReadTimeout = errors.New("event stream read timeout")

// streamBufferSize is the channel buffer between the reader goroutine and
// Next. Events beyond this only delay the reader, they are never dropped.
const streamBufferSize = 64

// EventSource is an ordered stream of engine events. Implemented by Stream
// and by scripted fakes in tests.
type EventSource interface {
	// Next returns the next structured event, discarding binary and
	// non-JSON frames. It returns ErrReadTimeout when timeout elapses with
	// no event available.
	Next(timeout time.Duration) (Event, error)
	Close() error
}

// Stream is a live websocket subscription to the engine's status channel.
// A reader goroutine drains the connection so that Next can time out without
// poisoning the websocket read state.
type Stream struct {
	conn      *websocket.Conn
	events    chan Event
	errs      chan error
	done      chan struct{}
	closeOnce sync.Once
}

var _ EventSource = (*Stream)(nil)

// OpenStream subscribes to the engine's event stream for the given session.
// Events for submissions made with the same session id are delivered on this
// connection.
func (c *Client) OpenStream(ctx context.Context, sessionID string) (*Stream, error) {
	u := url.URL{
		Scheme:   "ws",
		Host:     c.addr,
		Path:     "/ws",
		RawQuery: url.Values{"clientId": {sessionID}}.Encode(),
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrUnreachable, u.String(), err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	s := &Stream{
		conn:   conn,
		events: make(chan Event, streamBufferSize),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	go s.readLoop()

	return s, nil
}

// readLoop pulls frames off the connection, discarding binary frames and
// text frames that are not JSON event envelopes. It exits on the first read
// error, which includes the connection being closed by Close.
func (s *Stream) readLoop() {
	for {
		msgType, frame, err := s.conn.ReadMessage()
		if err != nil {
			s.errs <- fmt.Errorf("read event frame: %w", err)
			close(s.events)
			return
		}

		if msgType != websocket.TextMessage {
			continue
		}
		if ev, ok := ParseEvent(frame); ok {
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		}
	}
}

// Next returns the next structured event, ErrReadTimeout after timeout with
// no traffic, or the terminal read error once the connection is gone.
func (s *Stream) Next(timeout time.Duration) (Event, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev, ok := <-s.events:
		if !ok {
			return Event{}, <-s.errs
		}
		return ev, nil
	case <-timer.C:
		return Event{}, ErrReadTimeout
	}
}

// Close closes the underlying websocket connection, which also stops the
// reader goroutine.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}
