package pdispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/sonorad/pkg/protocol/tagstruct"
)

func encodeReply(command, tag uint32, extra func(*tagstruct.TagStruct)) []byte {
	ts := tagstruct.New()
	ts.PutU32(command)
	ts.PutU32(tag)
	if extra != nil {
		extra(ts)
	}
	return ts.Bytes()
}

func TestPdispatch_ReplyDeliversToCallback(t *testing.T) {
	pd := New()
	gotCh := make(chan uint32, 1)
	pd.RegisterReply(5, time.Second, func(command, tag uint32, ts *tagstruct.TagStruct, userdata any) {
		gotCh <- tag
	}, nil)

	err := pd.Run(encodeReply(CommandReply, 5, nil), nil)
	require.NoError(t, err)
	select {
	case tag := <-gotCh:
		assert.EqualValues(t, 5, tag)
	default:
		t.Fatal("callback was not invoked synchronously")
	}
	assert.False(t, pd.IsPending())
}

func TestPdispatch_ErrorCarriesCode(t *testing.T) {
	pd := New()
	var gotCode uint32
	pd.RegisterReply(1, time.Second, func(command, tag uint32, ts *tagstruct.TagStruct, userdata any) {
		code, err := ts.GetU32()
		require.NoError(t, err)
		gotCode = code
	}, nil)

	err := pd.Run(encodeReply(CommandError, 1, func(ts *tagstruct.TagStruct) { ts.PutU32(7) }), nil)
	require.NoError(t, err)
	assert.EqualValues(t, 7, gotCode)
}

func TestPdispatch_UnexpectedReplyIsError(t *testing.T) {
	pd := New()
	err := pd.Run(encodeReply(CommandReply, 99, nil), nil)
	assert.ErrorIs(t, err, ErrUnexpectedReply)
}

func TestPdispatch_TimeoutFiresWithNilTagstruct(t *testing.T) {
	pd := New()
	done := make(chan bool, 1)
	pd.RegisterReply(3, 10*time.Millisecond, func(command, tag uint32, ts *tagstruct.TagStruct, userdata any) {
		done <- ts == nil && command == CommandTimeout
	}, nil)

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("timeout callback never fired")
	}
	assert.False(t, pd.IsPending())
}

func TestPdispatch_NoRepliesNoTimerIsNotPending(t *testing.T) {
	pd := New()
	assert.False(t, pd.IsPending())
}

func TestPdispatch_UnknownCommand(t *testing.T) {
	pd := New()
	err := pd.Run(encodeReply(42, 1, nil), nil)
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestPdispatch_RegisteredCommandInvoked(t *testing.T) {
	pd := New()
	invoked := false
	pd.RegisterCommand(9, func(pd *Pdispatch, command, tag uint32, ts *tagstruct.TagStruct, userdata any) error {
		invoked = true
		return nil
	})
	err := pd.Run(encodeReply(9, 1, nil), nil)
	require.NoError(t, err)
	assert.True(t, invoked)
}

func TestPdispatch_DrainCallbackFiresWhenEmptied(t *testing.T) {
	pd := New()
	drained := make(chan struct{}, 1)
	pd.OnDrain = func() { close(drained) }
	pd.RegisterReply(1, time.Second, func(uint32, uint32, *tagstruct.TagStruct, any) {}, nil)

	err := pd.Run(encodeReply(CommandReply, 1, nil), nil)
	require.NoError(t, err)
	select {
	case <-drained:
	default:
		t.Fatal("drain callback did not fire")
	}
}
