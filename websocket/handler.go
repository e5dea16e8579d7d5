package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"golang.org/x/net/websocket"

	"github.com/geovista/pointstream/models"
)

const (
	sendChanSize = 512
	msgChanSize  = 512
)

// Handler represents a pointstream viewer handler.
type Handler interface {
	// Handles a client connection.
	HandleConnect(conn *websocket.Conn)

	// Handles a ping request.
	HandlePing(ctx context.Context, respond models.ResponseSender, msg Msg) error

	// Handles a request to join a dataset session.
	HandleJoin(ctx context.Context, respond models.ResponseSender, msg Msg) error

	// Handles a camera pose update.
	HandleCamera(ctx context.Context, msg Msg) error

	// Handles a request to leave the current dataset session.
	HandleLeave(ctx context.Context, respond models.ResponseSender, msg Msg) error

	// Handles a client's disconnection.
	HandleDisconnect(error)

	// Creates a message receiver used to receive incoming messages.
	Receiver() Receiver

	// Creates a message sender used to write outgoing messages.
	Sender() Sender

	// Closes the handler and releases its allocated resources.
	Close()

	// The time a client is idle before being disconnected.
	IdleTimeout() time.Duration

	// Returns the session store.
	GetSessions() *models.SessionStore

	// The currently joined session.
	CurrentSession() *models.Session

	// The current viewer.
	CurrentViewer() *models.Viewer

	// Get ClientID.
	GetClientID() string
}

// Receiver reads the next inbound frame and its size.
type Receiver func() (Msg, int, error)

// Sender writes an outbound frame and returns its size.
type Sender func(Msg) (int, error)

// Handle runs the message loop of the given handler over the connection.
func Handle(ctx context.Context, conn *websocket.Conn, h Handler) {
	handler := handler{
		Conn:    conn,
		Handler: h,
	}

	handler.Handle(ctx)
}

type handler struct {
	// The WebSocket connection.
	Conn *websocket.Conn

	// The viewer handler.
	Handler Handler

	sendChan       chan Msg
	sender         Sender
	receiver       Receiver
	msgChan        chan Msg
	disconnectChan chan error
}

func (h *handler) Handle(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.Handler.HandleConnect(h.Conn)

	h.disconnectChan = make(chan error, 8)
	defer func() {
		for len(h.disconnectChan) != 0 {
			<-h.disconnectChan
		}
	}()

	var wg sync.WaitGroup

	h.sendChan = make(chan Msg, sendChanSize)
	h.sender = h.Handler.Sender()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startSending(ctx)
	}()

	h.msgChan = make(chan Msg, msgChanSize)
	h.receiver = h.Handler.Receiver()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startReceiving(ctx)
	}()

	idleTimeout := h.Handler.IdleTimeout()
	idleTimer := time.NewTimer(idleTimeout)
	defer idleTimer.Stop()

	var responder = responseSender{send: h.send}

	for ctx.Err() == nil {
		select {
		case <-ctx.Done():
			h.disconnect(ctx.Err())

		case <-idleTimer.C:
			h.disconnect(errors.New("idle connection").WithTag("duration", idleTimeout))

		case msg := <-h.msgChan:
			idleTimer.Stop()
			idleTimer.Reset(idleTimeout)

			if err := h.handleMessage(ctx, msg, responder); err != nil {
				h.disconnect(errors.New("handling message failed").Wrap(err))
			}

		case err := <-h.disconnectChan:
			h.handleDisconnect(err)
			if ctx.Err() == nil {
				// cancel context so go routines can cleanly exit
				cancel()
			}
		}
	}

	wg.Wait()
}

func (h *handler) send(v any) {
	msg, err := MsgFromAny(v)
	if err != nil {
		logs.WithTag("client_id", h.Handler.GetClientID()).
			WithTag("message", v).
			Debug(err)
		return
	}

	select {
	case h.sendChan <- msg:

	default:
		// A full queue marks a slow consumer. The frame is dropped rather
		// than stalling the session's frame loop behind one viewer.
		instrumentDroppedMsg(msg.Type)
		logs.WithTag("client_id", h.Handler.GetClientID()).
			WithTag("msg_type", msg.Type).
			Debug("outbound queue full, message dropped")
	}
}

func (h *handler) startSending(ctx context.Context) {
	defer func() {
		for len(h.sendChan) != 0 {
			<-h.sendChan
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-h.sendChan:
			if _, err := h.sender(msg); err != nil {
				h.disconnect(errors.New("sending message failed").Wrap(err))
				return
			}
		}
	}
}

func (h *handler) startReceiving(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		default:
			msg, _, err := h.receiver()
			if errors.IsType(err, models.ErrTypeBadMessage) {
				// Protocol violations are answered with an error frame,
				// the connection stays open.
				h.send(ErrorMsg{
					Type:    MsgTypeError,
					Code:    models.ErrTypeBadMessage,
					Message: err.Error(),
				})
				continue
			}
			if err != nil {
				h.disconnect(errors.New("receiving message failed").Wrap(err))
				return
			}

			h.msgChan <- msg
		}
	}
}

func (h *handler) handleMessage(ctx context.Context, msg Msg, responder models.ResponseSender) error {
	switch msg.Type {
	case MsgTypePing:
		return h.Handler.HandlePing(ctx, responder, msg)

	case MsgTypeJoin:
		return h.Handler.HandleJoin(ctx, responder, msg)

	case MsgTypeCamera:
		return h.Handler.HandleCamera(ctx, msg)

	case MsgTypeLeave:
		return h.Handler.HandleLeave(ctx, responder, msg)
	}

	return nil
}

func (h *handler) disconnect(err error) {
	h.disconnectChan <- err
}

func (h *handler) handleDisconnect(err error) {
	h.Conn.Close()
	h.Handler.HandleDisconnect(err)
}

type responseSender struct {
	send func(any)
}

func (r responseSender) Send(v any) {
	r.send(v)
}
