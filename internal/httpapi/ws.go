package httpapi

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/quantrail/twapbook/internal/hub"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWS upgrades the connection and hands it to a Session, which owns
// the subscribe/unsubscribe control-frame protocol for its lifetime
// (spec §6 WS frame shapes).
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	session := hub.NewSession(s.hub, conn, s.log)
	session.Run(r.Context())
}
