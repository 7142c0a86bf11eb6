package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/quantrail/twapbook/internal/model"
)

type sessionState int

const (
	stateOpen sessionState = iota
	stateClosed
)

// clientFrame is the shape of a control message a subscriber sends.
// exchanges is required and non-empty on subscribe.
type clientFrame struct {
	Action    string   `json:"action"` // "subscribe" | "unsubscribe"
	Symbol    string   `json:"symbol"`
	Exchanges []string `json:"exchanges,omitempty"`
}

type errorFrame struct {
	Type   string `json:"type"`
	Detail string `json:"detail"`
}

type welcomeFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ackFrame struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

// Session is one WebSocket client's subscription state machine: open
// while its connection is live, closed once either side tears it down
// (spec §4.4). A Session is owned by its own read/write pump pair and
// must not be touched from outside them except through Hub.
type Session struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	log  zerolog.Logger

	mu     sync.Mutex
	state  sessionState
	subs   map[string]bool
}

func NewSession(h *Hub, conn *websocket.Conn, log zerolog.Logger) *Session {
	return &Session{
		hub:   h,
		conn:  conn,
		send:  make(chan []byte, 64),
		log:   log.With().Str("component", "hub.session").Logger(),
		state: stateOpen,
		subs:  make(map[string]bool),
	}
}

// Run blocks until the session closes, running the write pump in its
// own goroutine and the read pump (control-frame handling) on the
// calling goroutine.
func (s *Session) Run(ctx context.Context) {
	done := make(chan struct{})
	go s.writePump(done)
	s.hub.Attach(s)
	s.readPump(ctx)
	s.Close()
	<-done
}

// sendWelcome pushes the connection-open frame every client expects as
// its first inbound message (spec §4.4 attach).
func (s *Session) sendWelcome() {
	data, err := json.Marshal(welcomeFrame{Type: "welcome", Message: "Welcome to Twap-Trading-API WebSocket"})
	if err != nil {
		return
	}
	select {
	case s.send <- data:
	default:
	}
}

func (s *Session) writePump(done chan<- struct{}) {
	defer close(done)
	for msg := range s.send {
		s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (s *Session) readPump(ctx context.Context) {
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.replyError("malformed frame: " + err.Error())
			continue
		}

		switch frame.Action {
		case "subscribe":
			if frame.Symbol == "" {
				s.replyError("subscribe requires a symbol")
				continue
			}
			if len(frame.Exchanges) == 0 {
				s.replyError("exchanges is required and non-empty on subscribe")
				continue
			}
			added := s.hub.Subscribe(s, frame.Symbol, toVenues(frame.Exchanges))
			s.sendAck(frame.Symbol, added, "subscribe_success", "subscribe_failure")
		case "unsubscribe":
			if frame.Symbol == "" {
				s.replyError("unsubscribe requires a symbol")
				continue
			}
			removed := s.hub.Unsubscribe(s, frame.Symbol)
			s.sendAck(frame.Symbol, removed, "unsubscribe_success", "unsubscribe_failure")
		default:
			s.replyError("unknown action " + frame.Action)
		}
	}
}

func toVenues(requested []string) []model.Venue {
	out := make([]model.Venue, len(requested))
	for i, v := range requested {
		out[i] = model.Venue(v)
	}
	return out
}

func (s *Session) sendAck(symbol string, ok bool, successType, failureType string) {
	frameType := failureType
	if ok {
		frameType = successType
	}
	data, err := json.Marshal(ackFrame{Type: frameType, Symbol: symbol})
	if err != nil {
		return
	}
	select {
	case s.send <- data:
	default:
	}
}

func (s *Session) replyError(detail string) {
	data, err := json.Marshal(errorFrame{Type: "error", Detail: detail})
	if err != nil {
		return
	}
	select {
	case s.send <- data:
	default:
	}
}

// Close transitions the session to closed exactly once, detaches it
// from every broadcaster it subscribed to, and closes its send
// channel so the write pump exits.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return
	}
	s.state = stateClosed
	s.mu.Unlock()

	s.hub.Detach(s)
	close(s.send)
	s.conn.Close()
}

func (s *Session) trackSubscription(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[symbol] = true
}

func (s *Session) untrackSubscription(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, symbol)
}

func (s *Session) subscribedSymbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subs))
	for sym := range s.subs {
		out = append(out, sym)
	}
	return out
}
