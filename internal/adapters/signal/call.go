package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/curaline/telecall/internal/core"
	"github.com/curaline/telecall/internal/domain"
)

func (ctl *CallWSController) handleJoin(c *wsCallConn, data []byte) {
	type joinPayload struct {
		Type  string `json:"type"`
		Visit string `json:"visit"`
		User  string `json:"user"`
		Role  string `json:"role"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendJSON(c, map[string]any{"type": "error", "error": "bad_payload"})
		return
	}
	if p.Visit == "" {
		ctl.sendJSON(c, map[string]any{"type": "error", "error": "visit required"})
		return
	}

	sid, self, err := ctl.Coord.JoinVisit(
		domain.VisitID(p.Visit),
		c.id,
		domain.UserID(p.User),
		domain.Role(p.Role),
	)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.id)).Str("visit", p.Visit).Msg("join rejected")
		ctl.sendJSON(c, map[string]any{"type": "error", "error": err.Error()})
		return
	}

	view, _ := ctl.Coord.Session(sid)
	ctl.sendJSON(c, struct {
		Type         string               `json:"type"`
		Session      domain.SessionID     `json:"session"`
		Self         domain.Participant   `json:"self"`
		Participants []domain.Participant `json:"participants"`
		Count        int                  `json:"count"`
	}{
		Type:         "call_state",
		Session:      sid,
		Self:         *self,
		Participants: view.Participants,
		Count:        len(view.Participants),
	})

	ctl.broadcastToSession(sid, c.id, struct {
		Type        string             `json:"type"`
		Participant domain.Participant `json:"participant"`
	}{
		Type:        "peer_joined",
		Participant: *self,
	})
}

// handleLeave removes the participant without dropping the socket; the
// client may join another visit on the same connection afterwards.
func (ctl *CallWSController) handleLeave(c *wsCallConn) {
	log.Info().Str("module", "signal").Str("conn", string(c.id)).Msg("leave")
	sid, p, ok := ctl.Coord.Leave(c.id)

	ctl.sendJSON(c, map[string]any{"type": "left"})

	if ok {
		ctl.broadcastToSession(sid, c.id, struct {
			Type        string             `json:"type"`
			Participant domain.Participant `json:"participant"`
		}{
			Type:        "peer_left",
			Participant: *p,
		})
	}
}

// handleRelay forwards one opaque signaling frame if the coordinator
// authorizes it. Payload bytes pass straight through, unparsed.
func (ctl *CallWSController) handleRelay(c *wsCallConn, kind string, data []byte) {
	type relayPayload struct {
		Type    string          `json:"type"`
		To      string          `json:"to"`
		Payload json.RawMessage `json:"payload"`
	}
	var p relayPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad relay payload")
		ctl.sendJSON(c, map[string]any{"type": "error", "error": "bad_payload"})
		return
	}

	to := domain.ConnID(p.To)
	if !ctl.Coord.Relay(core.SignalKind(kind), c.id, to) {
		ctl.sendJSON(c, map[string]any{"type": "error", "error": "relay_rejected"})
		return
	}

	target, ok := ctl.lookup(to)
	if !ok {
		// Authorized a moment ago but the socket is already gone; the
		// sender sees this as a lost peer, not an error.
		log.Warn().Str("module", "signal").Str("to", string(to)).Msg("relay target socket gone")
		return
	}
	ctl.sendJSON(target, struct {
		Type    string          `json:"type"`
		From    domain.ConnID   `json:"from"`
		Payload json.RawMessage `json:"payload"`
	}{
		Type:    kind,
		From:    c.id,
		Payload: p.Payload,
	})
}

func (ctl *CallWSController) handlePing(c *wsCallConn) {
	ctl.sendJSON(c, struct {
		Type string `json:"type"`
	}{
		Type: "pong",
	})
}

// disconnect is the unclean-leave path: socket dropped without a leave
// frame. Membership cleanup must still happen or the session would leak
// until the sweeper catches it.
func (ctl *CallWSController) disconnect(c *wsCallConn) {
	sid, p, ok := ctl.Coord.Leave(c.id)
	ctl.unregister(c.id)
	ctl.limiter.Forget(c.id)
	c.Close()

	if ok {
		ctl.broadcastToSession(sid, c.id, struct {
			Type        string             `json:"type"`
			Participant domain.Participant `json:"participant"`
		}{
			Type:        "peer_left",
			Participant: *p,
		})
	}
}
