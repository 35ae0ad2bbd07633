package gateway

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionLifecycle(t *testing.T) {
	s := newSession()
	assert.Equal(t, StateConnecting, s.State())

	assert.True(t, s.advance(StateAuthenticating))
	assert.True(t, s.advance(StateActive))
	assert.True(t, s.advance(StateClosing))
	assert.True(t, s.advance(StateClosed))
	assert.Equal(t, "closed", s.State().String())
}

func TestSessionRejectsIllegalTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []State
		next State
	}{
		{"skip authentication", nil, StateActive},
		{"close active without closing", []State{StateAuthenticating, StateActive}, StateClosed},
		{"reopen closed", []State{StateClosed}, StateAuthenticating},
		{"reactivate closing", []State{StateAuthenticating, StateActive, StateClosing}, StateActive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession()
			for _, st := range tt.path {
				assert.True(t, s.advance(st))
			}
			before := s.State()
			assert.False(t, s.advance(tt.next))
			assert.Equal(t, before, s.State())
		})
	}
}

func TestSessionAuthFailureCloses(t *testing.T) {
	s := newSession()
	s.advance(StateAuthenticating)
	assert.True(t, s.advance(StateClosed))
	assert.False(t, s.advance(StateActive))
}

func TestSessionClosingWinsOnce(t *testing.T) {
	s := newSession()
	s.advance(StateAuthenticating)
	s.advance(StateActive)

	var (
		wins atomic.Int32
		wg   sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.advance(StateClosing) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}
