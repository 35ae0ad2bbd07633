package gateway

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"

	"chat-hub/internal/bridge"
	"chat-hub/internal/log"
	"chat-hub/internal/models"
	"chat-hub/internal/ws"
)

type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// allowed lists the legal successors of each state.
var allowed = map[State][]State{
	StateConnecting:     {StateAuthenticating, StateClosed},
	StateAuthenticating: {StateActive, StateClosed},
	StateActive:         {StateClosing},
	StateClosing:        {StateClosed},
}

// session is the per-connection state machine.
type session struct {
	state  atomic.Int32
	client *ws.Client
	userID int

	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger
}

func newSession() *session {
	return &session{logger: log.L()}
}

func (s *session) State() State {
	return State(s.state.Load())
}

// advance moves to next if that is a legal transition from the current state.
func (s *session) advance(next State) bool {
	for {
		cur := s.State()
		legal := false
		for _, st := range allowed[cur] {
			if st == next {
				legal = true
				break
			}
		}
		if !legal {
			return false
		}
		if s.state.CompareAndSwap(int32(cur), int32(next)) {
			s.logger.Debug().Str(log.FieldState, next.String()).Str("from", cur.String()).Msg("session state")
			return true
		}
	}
}

func (s *session) actor(requestID string) bridge.Actor {
	return bridge.Actor{UserID: s.userID, ConnID: s.client.ID, RequestID: requestID}
}

// send queues a frame for this connection only.
func (s *session) send(ev models.Event) {
	frame, err := ws.Encode(ev)
	if err != nil {
		s.logger.Error().Err(err).Str(log.FieldEvent, string(ev.Type)).Msg("encode reply")
		return
	}
	s.client.Enqueue(frame)
}
