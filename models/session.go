package models

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ResponseSender sends a message back to a connected viewer.
type ResponseSender interface {
	Send(msg any)
}

// Viewer is a client connected to a dataset session.
type Viewer struct {
	ID        uint32
	Responder ResponseSender
}

// Session represents a dataset session. It owns the streaming state for one
// dataset and drives the frame loop that paces streaming ticks. It is created
// when the first viewer selects a dataset and torn down when the last viewer
// leaves.
type Session struct {
	ID          uint32
	SessionUUID string
	DatasetID   string

	viewerIDs   IDPool
	viewerMutex sync.RWMutex
	viewers     map[uint32]*Viewer

	startFrameOnce  sync.Once
	closeFrameChan  chan struct{}
	frameTicker     *time.Ticker
	frameHandlerIDs IDPool
	frameHandlers   map[uint32]func()
	frameMutex      sync.RWMutex

	closed    atomic.Bool
	closeOnce sync.Once
}

func NewSession(id uint32, datasetID string, frameDuration time.Duration) *Session {
	return &Session{
		ID:             id,
		SessionUUID:    uuid.New().String(),
		DatasetID:      datasetID,
		closeFrameChan: make(chan struct{}, 1),
		frameTicker:    time.NewTicker(frameDuration),
		viewers:        make(map[uint32]*Viewer),
		frameHandlers:  make(map[uint32]func()),
	}
}

func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.frameTicker.Stop()
		s.closeFrameChan <- struct{}{}
	})
}

// Closed reports whether the session has been torn down. Late fetch
// completions check it before merging results.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

func (s *Session) NewViewerID() uint32 {
	return s.viewerIDs.Next()
}

func (s *Session) AddViewer(v *Viewer) {
	s.viewerMutex.Lock()
	defer s.viewerMutex.Unlock()

	s.viewers[v.ID] = v
}

func (s *Session) RemoveViewer(v *Viewer) {
	s.viewerMutex.Lock()
	defer s.viewerMutex.Unlock()

	delete(s.viewers, v.ID)
}

func (s *Session) GetViewers() []*Viewer {
	s.viewerMutex.RLock()
	defer s.viewerMutex.RUnlock()

	viewers := make([]*Viewer, 0, len(s.viewers))
	for _, v := range s.viewers {
		viewers = append(viewers, v)
	}
	return viewers
}

func (s *Session) ViewerCount() int {
	s.viewerMutex.RLock()
	defer s.viewerMutex.RUnlock()

	return len(s.viewers)
}

// Broadcast sends a message to every viewer except the sender.
func (s *Session) Broadcast(sender *Viewer, msg any) {
	s.viewerMutex.RLock()
	defer s.viewerMutex.RUnlock()

	for _, v := range s.viewers {
		if v == sender {
			continue
		}
		v.Responder.Send(msg)
	}
}

// HandleFrame registers a handler called on every session frame. The returned
// function cancels the registration.
func (s *Session) HandleFrame(h func()) (cancel func()) {
	s.frameMutex.Lock()
	defer s.frameMutex.Unlock()

	id := s.frameHandlerIDs.Next()
	s.frameHandlers[id] = h

	return func() {
		s.frameMutex.Lock()
		defer s.frameMutex.Unlock()

		delete(s.frameHandlers, id)
		s.frameHandlerIDs.Release(id)
	}
}

func (s *Session) StartDispatchFrames() {
	s.startFrameOnce.Do(func() {
		for {
			select {
			case <-s.closeFrameChan:
				return

			case <-s.frameTicker.C:
				s.frameMutex.RLock()
				for _, h := range s.frameHandlers {
					h()
				}
				s.frameMutex.RUnlock()
			}
		}
	})
}

// SessionStore holds the active dataset sessions, keyed by dataset id. There
// is at most one session per dataset.
type SessionStore struct {
	initOnce sync.Once
	mutex    sync.RWMutex
	sessions map[string]*Session
	ids      IDPool
}

func (s *SessionStore) init() {
	s.sessions = map[string]*Session{}
}

func (s *SessionStore) NewID() uint32 {
	return s.ids.Next()
}

func (s *SessionStore) Add(ctx context.Context, session *Session) error {
	s.initOnce.Do(s.init)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.sessions[session.DatasetID] = session

	instrumentIncreaseSessionGauge(session.DatasetID)
	instrumentCountSession(session.DatasetID)
	return nil
}

func (s *SessionStore) Remove(ctx context.Context, session *Session) {
	s.initOnce.Do(s.init)
	s.mutex.Lock()
	defer s.mutex.Unlock()

	// Only unregister the session while it still holds the dataset slot. A
	// later session for the same dataset must survive a stale removal.
	if current, ok := s.sessions[session.DatasetID]; ok && current == session {
		delete(s.sessions, session.DatasetID)
		instrumentDecreaseSessionGauge(session.DatasetID)
	}
	session.Close()

	s.ids.Release(session.ID)
}

func (s *SessionStore) GetByDataset(datasetID string) (*Session, bool) {
	s.initOnce.Do(s.init)

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	session, ok := s.sessions[datasetID]
	return session, ok
}

// GlobalSessionID returns the session id exposed to viewers.
func (s *SessionStore) GlobalSessionID(session *Session) string {
	return fmt.Sprintf("%sx%x", session.DatasetID, session.ID)
}
