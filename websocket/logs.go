package websocket

import (
	"context"
	goerrors "errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"golang.org/x/net/websocket"

	"github.com/geovista/pointstream/models"
)

// HandlerWithLogs decorates a handler with connection logs and a periodic
// inbound message summary.
func HandlerWithLogs(h Handler, summaryInterval time.Duration) Handler {
	ctx, cancel := context.WithCancel(context.Background())

	handler := &handlerWithLogs{
		Handler:            h,
		summaryInterval:    summaryInterval,
		closeSummaryWorker: cancel,
		counter:            make(map[string]int),
	}

	go handler.startSummaryWorker(ctx)
	return handler
}

type handlerWithLogs struct {
	Handler

	originalRequest *http.Request

	summaryInterval    time.Duration
	closeSummaryWorker func()
	counterMutex       sync.Mutex
	counter            map[string]int

	dataset     string
	sessionID   string
	sessionUUID string
	viewerID    uint32
}

func (h *handlerWithLogs) HandleConnect(conn *websocket.Conn) {
	h.Handler.HandleConnect(conn)

	h.originalRequest = conn.Request()

	logs.WithTag("client_id", h.GetClientID()).
		Info("new viewer is connected")
}

func (h *handlerWithLogs) HandleJoin(ctx context.Context, respond models.ResponseSender, msg Msg) error {
	if err := h.Handler.HandleJoin(ctx, respond, msg); err != nil {
		return err
	}

	if h.CurrentViewer() == nil {
		var req JoinMsg
		// Check for error here is unecessary since it would never go here
		// if the request parsing failed in h.Handler.HandleJoin.
		msg.DataTo(&req)

		logs.WithTag("client_id", h.GetClientID()).
			WithTag("dataset", req.Dataset).
			WithTag("user_agent", h.originalRequest.UserAgent()).
			Info("viewer failed to join a dataset session")
		return nil
	}

	h.dataset = h.CurrentSession().DatasetID
	h.sessionID = h.GetSessions().GlobalSessionID(h.CurrentSession())
	h.sessionUUID = h.CurrentSession().SessionUUID
	h.viewerID = h.CurrentViewer().ID

	logs.WithTag("client_id", h.GetClientID()).
		WithTag("dataset", h.dataset).
		WithTag("session_id", h.sessionID).
		WithTag("session_uuid", h.sessionUUID).
		WithTag("viewer_id", h.viewerID).
		WithTag("user_agent", h.originalRequest.UserAgent()).
		Info("viewer joined a dataset session")
	return nil
}

func (h *handlerWithLogs) HandleDisconnect(err error) {
	h.Handler.HandleDisconnect(err)

	logs.WithTag("client_id", h.GetClientID()).
		WithTag("dataset", h.dataset).
		WithTag("session_id", h.sessionID).
		WithTag("viewer_id", h.viewerID).
		Info("viewer disconnected")
}

func (h *handlerWithLogs) Receiver() Receiver {
	receive := h.Handler.Receiver()

	return func() (Msg, int, error) {
		msg, n, err := receive()
		if err != nil && !goerrors.Is(err, io.EOF) && !goerrors.Is(err, net.ErrClosed) {
			logs.WithTag("client_id", h.GetClientID()).
				WithTag("dataset", h.dataset).
				WithTag("session_id", h.sessionID).
				WithTag("viewer_id", h.viewerID).
				Error(errors.New("receiving message failed").Wrap(err))
		} else if err == nil {
			logs.WithTag("client_id", h.GetClientID()).
				WithTag("dataset", h.dataset).
				WithTag("session_id", h.sessionID).
				WithTag("viewer_id", h.viewerID).
				WithTag("msg_type", msg.Type).
				Debug("message received")
			h.incCounter(msg.Type)
		}
		return msg, n, err
	}
}

func (h *handlerWithLogs) Sender() Sender {
	send := h.Handler.Sender()

	return func(msg Msg) (int, error) {
		n, err := send(msg)
		if err != nil && !goerrors.Is(err, net.ErrClosed) {
			logs.WithTag("client_id", h.GetClientID()).
				WithTag("dataset", h.dataset).
				WithTag("session_id", h.sessionID).
				WithTag("viewer_id", h.viewerID).
				WithTag("msg_type", msg.Type).
				Error(errors.New("sending message failed").Wrap(err))
		} else if err == nil {
			logs.WithTag("client_id", h.GetClientID()).
				WithTag("dataset", h.dataset).
				WithTag("session_id", h.sessionID).
				WithTag("viewer_id", h.viewerID).
				WithTag("msg_type", msg.Type).
				Debug("message sent")
		}
		return n, err
	}
}

func (h *handlerWithLogs) Close() {
	h.Handler.Close()
	h.closeSummaryWorker()
	h.logSummary()
}

func (h *handlerWithLogs) startSummaryWorker(ctx context.Context) {
	ticker := time.NewTicker(h.summaryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			h.logSummary()
		}
	}
}

func (h *handlerWithLogs) incCounter(msgType string) {
	h.counterMutex.Lock()
	defer h.counterMutex.Unlock()

	h.counter[msgType]++
}

func (h *handlerWithLogs) logSummary() {
	h.counterMutex.Lock()
	defer h.counterMutex.Unlock()

	if len(h.counter) == 0 {
		return
	}

	entry := logs.WithTag("client_id", h.GetClientID()).
		WithTag("dataset", h.dataset).
		WithTag("session_id", h.sessionID).
		WithTag("viewer_id", h.viewerID).
		WithTag("time_interval", h.summaryInterval)

	for k, v := range h.counter {
		entry = entry.WithTag(k, v)
		delete(h.counter, k)
	}

	entry.Info("inbound message summary")
}
