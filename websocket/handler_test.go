package websocket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHandlerSendDropsWhenQueueFull(t *testing.T) {
	h := &handler{
		Handler:  newTestViewerHandler(t, &fakeUpstream{}),
		sendChan: make(chan Msg, 1),
	}

	h.send(PongMsg{Type: MsgTypePong})
	require.Len(t, h.sendChan, 1)

	// A slow consumer never drains the queue. Further sends are dropped
	// instead of stalling the caller, the session frame loop among them.
	done := make(chan struct{})
	go func() {
		h.send(PongMsg{Type: MsgTypePong})
		h.send(PongMsg{Type: MsgTypePong})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("send blocked on a full queue")
	}
	require.Len(t, h.sendChan, 1)
}
