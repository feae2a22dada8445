package domain

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionConfig holds the signaling lifecycle knobs.
type SessionConfig struct {
	// NegotiationTimeout bounds how long a session may sit in
	// connecting before it self-terminates with reason error.
	NegotiationTimeout time.Duration
}

// DefaultSessionConfig returns the production defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{NegotiationTimeout: 30 * time.Second}
}

// SessionService owns the active-session tables and the end policy:
// which sides go back to the queue for each end reason. Fail-open bias
// throughout - prefer giving users a next match over stranding them.
type SessionService struct {
	cfg      SessionConfig
	matcher  *MatchingService
	sender   Sender
	recorder MatchRecorder
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	byDevice map[string]uuid.UUID
	timers   map[uuid.UUID]*time.Timer
}

// NewSessionService creates the session owner. Wire it to the matcher
// via matcher.OnMatched = svc.Start.
func NewSessionService(cfg SessionConfig, matcher *MatchingService, sender Sender, recorder MatchRecorder, logger *zap.Logger) *SessionService {
	return &SessionService{
		cfg:      cfg,
		matcher:  matcher,
		sender:   sender,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[uuid.UUID]*Session),
		byDevice: make(map[string]uuid.UUID),
		timers:   make(map[uuid.UUID]*time.Timer),
	}
}

// Start instantiates the signaling session for a fresh match, arms the
// negotiation timeout, and notifies both gateways. Each side only ever
// sees the peer's opaque alias and public criteria.
func (s *SessionService) Start(m *Match) {
	sess := newSession(m, s.now())

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.byDevice[m.A.Entry.DeviceID] = sess.ID
	s.byDevice[m.B.Entry.DeviceID] = sess.ID
	if s.cfg.NegotiationTimeout > 0 {
		id := sess.ID
		s.timers[sess.ID] = time.AfterFunc(s.cfg.NegotiationTimeout, func() {
			s.expire(id)
		})
	}
	s.mu.Unlock()

	s.notifyMatched(m, m.A, m.B)
	s.notifyMatched(m, m.B, m.A)

	s.logger.Info("signaling session started",
		zap.String("session_id", sess.ID.String()),
		zap.String("match_id", m.ID.String()),
	)
}

func (s *SessionService) notifyMatched(m *Match, to, peer MatchSide) {
	s.sender.SendToDevice(to.Entry.DeviceID, Event{
		Type: EventMatched,
		Payload: MatchedPayload{
			MatchID: m.ID.String(),
			Score:   m.Score,
			Partner: PartnerInfo{
				Alias:           peer.Alias.String(),
				Region:          peer.Entry.Profile.Criteria.Region,
				Language:        peer.Entry.Profile.Criteria.Language,
				SharedInterests: SharedInterests(to.Entry.Profile.Criteria, peer.Entry.Profile.Criteria),
			},
		},
	})
}

// Relay forwards an opaque payload from one participant to the other,
// verbatim. Called synchronously from the sender's connection goroutine,
// which preserves per-sender FIFO ordering.
func (s *SessionService) Relay(fromDeviceID, eventType string, payload json.RawMessage) error {
	sess, err := s.sessionFor(fromDeviceID)
	if err != nil {
		return err
	}
	peer, err := sess.PeerOf(fromDeviceID)
	if err != nil {
		return err
	}
	s.sender.SendToDevice(peer, Event{Type: eventType, Payload: payload})
	return nil
}

// MarkConnected records ICE success. Idempotent: the second report is a
// no-op. Disarms the negotiation timeout and tells the peer.
func (s *SessionService) MarkConnected(deviceID string) error {
	sess, err := s.sessionFor(deviceID)
	if err != nil {
		return err
	}
	if !sess.MarkConnected(s.now()) {
		return nil
	}

	s.mu.Lock()
	if t, ok := s.timers[sess.ID]; ok {
		t.Stop()
		delete(s.timers, sess.ID)
	}
	s.mu.Unlock()

	if peer, ok := sess.Match.Peer(deviceID); ok {
		s.sender.SendToDevice(peer.Entry.DeviceID, Event{Type: EventPeerConnected})
	}
	s.logger.Debug("session connected", zap.String("session_id", sess.ID.String()))
	return nil
}

// End terminates the caller's session with the given reason.
func (s *SessionService) End(deviceID string, reason EndReason) error {
	sess, err := s.sessionFor(deviceID)
	if err != nil {
		return err
	}
	s.endSession(sess, reason, deviceID)
	return nil
}

// EndOnDisconnect is the transport-failure path: the failing side is
// treated as disconnected and the surviving side is returned to queue.
func (s *SessionService) EndOnDisconnect(deviceID string) {
	sess, err := s.sessionFor(deviceID)
	if err != nil {
		return
	}
	s.endSession(sess, EndDisconnect, deviceID)
}

// expire fires when negotiation never completed within the timeout.
func (s *SessionService) expire(sessionID uuid.UUID) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return
	}
	s.logger.Warn("negotiation timed out", zap.String("session_id", sessionID.String()))
	s.endSession(sess, EndError, "")
}

func (s *SessionService) sessionFor(deviceID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byDevice[deviceID]
	if !ok {
		return nil, ErrNoActiveSession
	}
	return s.sessions[id], nil
}

// endSession runs the single teardown path: state transition exactly
// once, table cleanup, match release, requeue policy, notifications,
// and the archive end record.
func (s *SessionService) endSession(sess *Session, reason EndReason, endedBy string) {
	now := s.now()
	if !sess.end(reason, endedBy, now) {
		return
	}

	s.mu.Lock()
	delete(s.sessions, sess.ID)
	delete(s.byDevice, sess.Match.A.Entry.DeviceID)
	delete(s.byDevice, sess.Match.B.Entry.DeviceID)
	if t, ok := s.timers[sess.ID]; ok {
		t.Stop()
		delete(s.timers, sess.ID)
	}
	s.mu.Unlock()

	s.matcher.Release(sess.Match.ID)

	requeue := s.requeueSides(sess.Match, reason, endedBy)
	for _, side := range []MatchSide{sess.Match.A, sess.Match.B} {
		dev := side.Entry.DeviceID
		requeued := false
		if _, ok := requeue[dev]; ok {
			if err := s.matcher.Requeue(side.Entry); err != nil {
				s.logger.Warn("requeue after session end failed",
					zap.String("device_id", dev),
					zap.Error(err),
				)
			} else {
				requeued = true
			}
		}
		s.sender.SendToDevice(dev, Event{
			Type: EventSessionEnded,
			Payload: SessionEndedPayload{
				MatchID:  sess.Match.ID.String(),
				Reason:   reason,
				Requeued: requeued,
			},
		})
		if requeued {
			s.sender.SendToDevice(dev, Event{Type: EventQueued})
		}
	}
	if reason == EndSkip {
		if peer, ok := sess.Match.Peer(endedBy); ok {
			s.sender.SendToDevice(peer.Entry.DeviceID, Event{Type: EventSkipped})
		}
	}

	s.logger.Info("signaling session ended",
		zap.String("session_id", sess.ID.String()),
		zap.String("reason", string(reason)),
	)

	// Archive write is fire-and-forget; a failure never rolls back an
	// already-completed session.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.recorder.RecordMatchEnd(ctx, sess.Match.ID, now, reason); err != nil {
			s.logger.Warn("match end archive write failed",
				zap.String("match_id", sess.Match.ID.String()),
				zap.Error(err),
			)
		}
	}()
}

// requeueSides implements the end policy: skip requeues the skipper
// (the skipped side waits for an explicit next), disconnect requeues
// the survivor, natural requeues neither, error requeues both.
func (s *SessionService) requeueSides(m *Match, reason EndReason, endedBy string) map[string]struct{} {
	out := make(map[string]struct{}, 2)
	switch reason {
	case EndSkip:
		if endedBy != "" {
			out[endedBy] = struct{}{}
		}
	case EndDisconnect:
		if peer, ok := m.Peer(endedBy); ok {
			out[peer.Entry.DeviceID] = struct{}{}
		}
	case EndError:
		out[m.A.Entry.DeviceID] = struct{}{}
		out[m.B.Entry.DeviceID] = struct{}{}
	case EndNatural:
		// Neither side; the client asks for the next match explicitly.
	}
	return out
}
