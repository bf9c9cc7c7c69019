package runtime

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/joshsymonds/convseed/internal/circuit"
)

const (
	eventItemAdded   = "CONVERSATION.ADD_ITEM"
	handshakeTimeout = 10 * time.Second
	closeGrace       = time.Second
)

type wireEvent struct {
	Type string   `json:"type"`
	Item wireItem `json:"item"`
}

type eventStream struct {
	conn      *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
	closing   chan struct{}
}

func (g *restClient) OnItemAdded(fn func(circuit.ItemAddedEvent)) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	g.handlers = append(g.handlers, fn)
	g.mu.Unlock()
}

func (g *restClient) hasHandlers() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.handlers) > 0
}

func (g *restClient) websocketURL() string {
	u := g.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/rest/v2/websocket"
}

func (g *restClient) startEvents(ctx context.Context) error {
	token, err := g.bearer()
	if err != nil {
		return err
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := dialer.DialContext(ctx, g.websocketURL(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return err
	}
	stream := &eventStream{conn: conn, done: make(chan struct{}), closing: make(chan struct{})}
	g.mu.Lock()
	g.stream = stream
	g.mu.Unlock()
	go g.readEvents(stream)
	return nil
}

func (g *restClient) readEvents(s *eventStream) {
	defer close(s.done)
	for {
		var evt wireEvent
		if err := s.conn.ReadJSON(&evt); err != nil {
			select {
			case <-s.closing:
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					g.logger.Warn("event stream stopped", zap.Error(err))
				}
			}
			return
		}
		if evt.Type != eventItemAdded {
			continue
		}
		g.dispatch(circuit.ItemAddedEvent{Item: evt.Item.toItem()})
	}
}

func (g *restClient) dispatch(evt circuit.ItemAddedEvent) {
	g.mu.Lock()
	handlers := append([]func(circuit.ItemAddedEvent)(nil), g.handlers...)
	g.mu.Unlock()
	for _, fn := range handlers {
		fn(evt)
	}
}

// Close shuts the event stream down, if one was opened.
func (g *restClient) Close() error {
	g.mu.Lock()
	s := g.stream
	g.stream = nil
	g.mu.Unlock()
	if s == nil {
		return nil
	}
	var err error
	s.closeOnce.Do(func() {
		close(s.closing)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		werr := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			g.logger.Debug("send close frame", zap.Error(werr))
		}
		select {
		case <-s.done:
		case <-time.After(closeGrace):
		}
		err = s.conn.Close()
		<-s.done
	})
	return err
}
