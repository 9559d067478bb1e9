package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubChannel struct {
	name   string
	err    error
	events []Event
}

func (s *stubChannel) Name() string { return s.name }

func (s *stubChannel) Notify(_ context.Context, ev Event) error {
	s.events = append(s.events, ev)
	return s.err
}

func TestPolicy_Allows(t *testing.T) {
	ok := Event{Subject: "done", Success: true}
	failed := Event{Subject: "failed"}

	tests := []struct {
		policy      Policy
		wantOK      bool
		wantFailure bool
	}{
		{Policy{OnSuccess: true, OnFailure: true}, true, true},
		{Policy{OnSuccess: true}, true, false},
		{Policy{OnFailure: true}, false, true},
		{Policy{}, false, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.wantOK, tt.policy.Allows(ok), "%+v", tt.policy)
		assert.Equal(t, tt.wantFailure, tt.policy.Allows(failed), "%+v", tt.policy)
	}
}

func TestFanOut_deliversToEveryChannel(t *testing.T) {
	first := &stubChannel{name: "first", err: errors.New("smtp down")}
	second := &stubChannel{name: "second"}
	f := NewFanOut(Policy{OnSuccess: true, OnFailure: true}, first, second)

	ev := Event{Subject: "Backup run failed", Body: "Errors: 1"}
	f.Notify(context.Background(), ev)

	assert.Equal(t, []Event{ev}, first.events)
	assert.Equal(t, []Event{ev}, second.events)
}

func TestFanOut_gatesByOutcome(t *testing.T) {
	ch := &stubChannel{name: "only"}
	f := NewFanOut(Policy{OnFailure: true}, ch)

	f.Notify(context.Background(), Event{Subject: "Backup run completed", Success: true})
	assert.Empty(t, ch.events)

	f.Notify(context.Background(), Event{Subject: "Backup run failed"})
	assert.Len(t, ch.events, 1)
}

func TestFanOut_noChannels(t *testing.T) {
	f := NewFanOut(Policy{OnSuccess: true, OnFailure: true})
	assert.NotPanics(t, func() {
		f.Notify(context.Background(), Event{Subject: "x"})
	})
}
