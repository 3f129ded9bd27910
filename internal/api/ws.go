package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/mrecords121/ephyr/internal/state"
)

// §6's subscription protocol: the client frames a start/stop request per
// subscription id, the server streams data frames and a terminal complete
// frame, pinging every 30s to keep intermediaries from closing the socket.
const wsPingInterval = 30 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wsClientFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wsStartPayload struct {
	Query     string                     `json:"query"`
	Variables map[string]json.RawMessage `json:"variables"`
}

type wsServerFrame struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Payload any    `json:"payload,omitempty"`
}

func (s *Server) handleWebSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	var writeMu sync.Mutex
	write := func(frame wsServerFrame) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(frame)
	}

	go s.pingLoop(ctx, conn, &writeMu)

	subs := make(map[string]context.CancelFunc)
	var subsMu sync.Mutex
	defer func() {
		subsMu.Lock()
		for _, cancel := range subs {
			cancel()
		}
		subsMu.Unlock()
	}()

	for {
		var frame wsClientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return nil
		}

		switch frame.Type {
		case "start":
			var payload wsStartPayload
			if err := json.Unmarshal(frame.Payload, &payload); err != nil {
				continue
			}
			subCtx, subCancel := context.WithCancel(ctx)
			subsMu.Lock()
			subs[frame.ID] = subCancel
			subsMu.Unlock()
			go s.runSubscription(subCtx, frame.ID, payload, write)

		case "stop":
			subsMu.Lock()
			if cancel, ok := subs[frame.ID]; ok {
				cancel()
				delete(subs, frame.ID)
			}
			subsMu.Unlock()
		}
	}
}

// runSubscription drives one §6 subscription (info or allRestreams) until
// ctx is canceled, emitting a data frame on every new revision.
func (s *Server) runSubscription(ctx context.Context, id string, payload wsStartPayload, write func(wsServerFrame) error) {
	defer write(wsServerFrame{Type: "complete", ID: id})

	sub := s.store.Subscribe()
	defer sub.Close()

	for {
		snapshot, err := sub.Next(ctx)
		if err != nil {
			return
		}

		data, err := s.renderSubscription(payload.Query, snapshot)
		if err != nil {
			continue
		}
		if writeErr := write(wsServerFrame{Type: "data", ID: id, Payload: data}); writeErr != nil {
			return
		}
	}
}

func (s *Server) renderSubscription(query string, snapshot *state.State) (any, error) {
	switch query {
	case "info":
		return infoPayload{PublicHost: s.cfg.PublicHost, PasswordHash: snapshot.PasswordHash}, nil
	case "allRestreams":
		return snapshot.Restreams, nil
	default:
		return nil, errInvalidSubscription
	}
}

var errInvalidSubscription = &invalidSubscriptionError{}

type invalidSubscriptionError struct{}

func (*invalidSubscriptionError) Error() string { return "unsupported subscription query" }

func (s *Server) pingLoop(ctx context.Context, conn *websocket.Conn, writeMu *sync.Mutex) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
