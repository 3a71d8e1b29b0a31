package core

import (
	"github.com/rs/zerolog/log"

	"github.com/curaline/telecall/internal/domain"
)

// SignalKind enumerates the three-message handshake protocol. Payload bodies
// are opaque; the kind never changes the authorization decision.
type SignalKind string

const (
	KindOffer        SignalKind = "offer"
	KindAnswer       SignalKind = "answer"
	KindICECandidate SignalKind = "ice-candidate"
)

func (k SignalKind) Valid() bool {
	switch k {
	case KindOffer, KindAnswer, KindICECandidate:
		return true
	}
	return false
}

// AuthorizeRelay reports whether a signaling frame from one connection may be
// forwarded to another: both must resolve to live participants of the same
// active session. Actual delivery is the transport layer's job.
func (r *registryImpl) AuthorizeRelay(from, to domain.ConnID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fromSID, _, ok := r.resolveLocked(from)
	if !ok {
		log.Warn().Str("module", "core.relay").Str("from", string(from)).Msg("relay rejected: sender not in a session")
		return false
	}
	toSID, _, ok := r.resolveLocked(to)
	if !ok {
		log.Warn().Str("module", "core.relay").Str("to", string(to)).Msg("relay rejected: target not in a session")
		return false
	}
	if fromSID != toSID {
		log.Warn().Str("module", "core.relay").Str("from_session", string(fromSID)).Str("to_session", string(toSID)).Msg("relay rejected: cross-session")
		return false
	}
	return true
}
