package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/paulmach/orb"
	"golang.org/x/net/websocket"

	"github.com/geovista/pointstream/featureflag"
	"github.com/geovista/pointstream/models"
	"github.com/geovista/pointstream/render"
	"github.com/geovista/pointstream/stream"
)

const clientIDHeader = "X-Client-Id"

// ViewerHandler serves one viewer connection: it joins dataset sessions,
// tracks the viewer's camera pose and relays the session's point batches.
type ViewerHandler struct {
	// The time a client is idle before being disconnected.
	ClientIdleTimeout time.Duration

	// The duration of a session frame.
	FrameDuration time.Duration

	// The store that contains all the dataset sessions.
	Sessions *models.SessionStore

	// The per-session streaming state, shared across connections.
	Streams *StreamStore

	// Loads dataset tile indexes.
	Index stream.IndexLoader

	// Fetches tile point buffers.
	Fetcher stream.TileFetcher

	// The streaming constants applied to new sessions.
	Tuning stream.Tuning

	FeatureFlags featureflag.FeatureFlag

	conn           *websocket.Conn
	currentSession *models.Session
	currentViewer  *models.Viewer
	currentStream  *sessionStream

	stopFrameHandling func()

	clientID string
}

func (h *ViewerHandler) HandleConnect(conn *websocket.Conn) {
	req := conn.Request()
	h.clientID = req.Header.Get(clientIDHeader)
	if h.clientID == "" {
		h.clientID = req.RemoteAddr
	}

	h.conn = conn
}

func (h *ViewerHandler) HandlePing(ctx context.Context, respond models.ResponseSender, msg Msg) error {
	respond.Send(PongMsg{Type: MsgTypePong})
	return nil
}

func (h *ViewerHandler) HandleJoin(ctx context.Context, respond models.ResponseSender, msg Msg) error {
	var req JoinMsg
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	if h.currentSession != nil && h.currentSession.DatasetID == req.Dataset {
		respond.Send(ErrorMsg{
			Type:    MsgTypeError,
			Code:    ErrCodeAlreadyJoined,
			Message: "dataset already joined",
		})
		return nil
	}

	// Switching datasets leaves the current session first. Fetches still in
	// flight for it resolve against a superseded controller and are dropped.
	if h.currentViewer != nil {
		h.leaveSession()
	}

	// The dataset lock makes get-or-create atomic: a second viewer joining
	// while the index fetch is in flight waits here and then finds the
	// session instead of creating a duplicate.
	unlock := h.Streams.LockDataset(req.Dataset)
	defer unlock()

	session, ok := h.Sessions.GetByDataset(req.Dataset)
	var ss *sessionStream
	if ok {
		ss, ok = h.Streams.Get(req.Dataset)
	}

	if !ok {
		session = models.NewSession(h.Sessions.NewID(), req.Dataset, h.FrameDuration)
		ss = newSessionStream(session, h.Index, h.Fetcher, h.Tuning, h.FeatureFlags)

		if err := ss.controller.LoadIndex(ctx); err != nil {
			respond.Send(ErrorMsg{
				Type:    MsgTypeError,
				Code:    models.ErrTypeIndexFetch,
				Message: "loading tile index failed",
			})
			session.Close()
			return nil
		}

		if err := h.Sessions.Add(ctx, session); err != nil {
			respond.Send(ErrorMsg{
				Type:    MsgTypeError,
				Code:    models.ErrTypeIndexFetch,
				Message: "creating dataset session failed",
			})
			session.Close()
			return nil
		}
		h.Streams.Add(req.Dataset, ss)
		go session.StartDispatchFrames()
	}

	viewer := &models.Viewer{
		ID:        session.NewViewerID(),
		Responder: respond,
	}

	session.AddViewer(viewer)
	h.stopFrameHandling = session.HandleFrame(ss.tickFrame)

	respond.Send(JoinedMsg{
		Type:        MsgTypeJoined,
		SessionID:   h.Sessions.GlobalSessionID(session),
		SessionUUID: session.SessionUUID,
		ViewerID:    viewer.ID,
		TileCount:   ss.controller.TileCount(),
	})

	h.currentSession = session
	h.currentViewer = viewer
	h.currentStream = ss
	return nil
}

func (h *ViewerHandler) HandleCamera(ctx context.Context, msg Msg) error {
	var req CameraMsg
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	ss := h.currentStream
	if ss == nil {
		return errors.New("dataset not joined").
			WithType(models.ErrTypeDatasetNotJoined).
			WithTag("msg_type", msg.Type)
	}

	ss.setCamera(cameraFromMsg(req))
	return nil
}

func (h *ViewerHandler) HandleLeave(ctx context.Context, respond models.ResponseSender, msg Msg) error {
	if h.currentViewer == nil {
		return errors.New("dataset not joined").
			WithType(models.ErrTypeDatasetNotJoined).
			WithTag("msg_type", msg.Type)
	}

	dataset := h.currentSession.DatasetID
	h.leaveSession()

	respond.Send(LeftMsg{
		Type:    MsgTypeLeft,
		Dataset: dataset,
	})
	return nil
}

func (h *ViewerHandler) HandleDisconnect(_ error) {
	if h.currentViewer != nil {
		h.leaveSession()
	}
}

func (h *ViewerHandler) Receiver() Receiver {
	return func() (Msg, int, error) {
		return Receive(h.conn)
	}
}

func (h *ViewerHandler) Sender() Sender {
	return func(msg Msg) (int, error) {
		return Send(h.conn, msg)
	}
}

func (h *ViewerHandler) Close() {
}

func (h *ViewerHandler) IdleTimeout() time.Duration {
	return h.ClientIdleTimeout
}

func (h *ViewerHandler) GetSessions() *models.SessionStore {
	return h.Sessions
}

func (h *ViewerHandler) CurrentSession() *models.Session {
	return h.currentSession
}

func (h *ViewerHandler) CurrentViewer() *models.Viewer {
	return h.currentViewer
}

func (h *ViewerHandler) GetClientID() string {
	return h.clientID
}

func (h *ViewerHandler) leaveSession() {
	session := h.currentSession
	viewer := h.currentViewer

	if viewer == nil || session == nil {
		return
	}

	if h.stopFrameHandling != nil {
		h.stopFrameHandling()
	}

	unlock := h.Streams.LockDataset(session.DatasetID)
	defer unlock()

	session.RemoveViewer(viewer)

	if session.ViewerCount() == 0 {
		// Here we use a context.Background to ensure the teardown completes
		// even when the connection context is already canceled.
		h.Sessions.Remove(context.Background(), session)
		h.Streams.Remove(session.DatasetID, h.currentStream)
		h.currentStream.close()
	}

	h.currentSession = nil
	h.currentViewer = nil
	h.currentStream = nil
}

func cameraFromMsg(msg CameraMsg) stream.Camera {
	return stream.Camera{
		Position: orb.Point{msg.X, msg.Y},
		Altitude: msg.Altitude,
		Heading:  msg.Heading,
		FOV:      msg.FOV,
		Far:      msg.Far,
	}
}

// StreamStore holds the streaming state of the active dataset sessions,
// keyed by dataset id like the session store.
type StreamStore struct {
	initOnce sync.Once
	mutex    sync.RWMutex
	streams  map[string]*sessionStream
	locks    map[string]*sync.Mutex
}

func (s *StreamStore) init() {
	s.streams = map[string]*sessionStream{}
	s.locks = map[string]*sync.Mutex{}
}

// LockDataset serializes session creation and teardown for one dataset. The
// returned function releases the lock.
func (s *StreamStore) LockDataset(datasetID string) (unlock func()) {
	s.initOnce.Do(s.init)

	s.mutex.Lock()
	mu, ok := s.locks[datasetID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[datasetID] = mu
	}
	s.mutex.Unlock()

	mu.Lock()
	return mu.Unlock
}

func (s *StreamStore) Add(datasetID string, ss *sessionStream) {
	s.initOnce.Do(s.init)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.streams[datasetID] = ss
}

// Remove drops the stream only while it is still the registered one, so a
// stale teardown cannot take out a stream installed by a later join.
func (s *StreamStore) Remove(datasetID string, ss *sessionStream) {
	s.initOnce.Do(s.init)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.streams[datasetID] == ss {
		delete(s.streams, datasetID)
	}
}

func (s *StreamStore) Get(datasetID string) (*sessionStream, bool) {
	s.initOnce.Do(s.init)
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	ss, ok := s.streams[datasetID]
	return ss, ok
}

// sessionStream binds one session to its streaming controller and renderer.
// The camera is last-writer-wins across the session's viewers.
type sessionStream struct {
	controller *stream.Controller
	renderer   *render.CloudRenderer

	mutex     sync.Mutex
	camera    stream.Camera
	hasCamera bool
}

func newSessionStream(session *models.Session, index stream.IndexLoader, fetcher stream.TileFetcher, tuning stream.Tuning, flags featureflag.FeatureFlag) *sessionStream {
	renderer := render.NewCloudRenderer()

	renderer.OnMerge = func(key models.TileKey, points models.PointBuffer) {
		flags.IfNotSet(featureflag.FlagDisablePointsBroadcast, func() {
			session.Broadcast(nil, PointsMsg{
				Type:   MsgTypePoints,
				Tile:   key.Tile,
				LOD:    key.LOD,
				Count:  points.Len(),
				Points: points,
			})
		})
	}

	renderer.OnEvict = func(key models.TileKey) {
		flags.IfNotSet(featureflag.FlagDisablePointsBroadcast, func() {
			session.Broadcast(nil, EvictMsg{
				Type: MsgTypeEvict,
				Tile: key.Tile,
				LOD:  key.LOD,
			})
		})
	}

	return &sessionStream{
		controller: &stream.Controller{
			Dataset:      session.DatasetID,
			Index:        index,
			Fetcher:      fetcher,
			Target:       renderer,
			Tuning:       tuning,
			FeatureFlags: flags,
		},
		renderer: renderer,
	}
}

func (s *sessionStream) setCamera(cam stream.Camera) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.camera = cam
	s.hasCamera = true
}

// tickFrame runs on every session frame. Ticks before the first camera pose
// are no-ops.
func (s *sessionStream) tickFrame() {
	s.mutex.Lock()
	cam, ok := s.camera, s.hasCamera
	s.mutex.Unlock()

	if !ok {
		return
	}
	s.controller.Tick(context.Background(), cam)
}

func (s *sessionStream) close() {
	s.controller.Close()
	s.renderer.Close()
}
