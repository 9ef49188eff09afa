package session

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"chatline/app/internal/models"
	"chatline/app/internal/transport"
)

// Session holds the authenticated identity and the single shared push
// Connection. Collaborators receive a *Session by reference and must
// never open a second channel themselves.
type Session struct {
	wsURL string
	log   *zap.SugaredLogger

	mu           sync.RWMutex
	user         *models.User
	token        string
	conn         *Conn
	listeners    map[int]func(transport.Event)
	nextListener int
	online       map[string]struct{}
}

// New builds a Session that will dial wsURL on Connect.
func New(wsURL string, log *zap.SugaredLogger) *Session {
	return &Session{
		wsURL:     wsURL,
		log:       log,
		listeners: make(map[int]func(transport.Event)),
		online:    make(map[string]struct{}),
	}
}

// SetIdentity installs the authenticated user and bearer token after a
// successful login or register call.
func (s *Session) SetIdentity(user models.User, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := user
	s.user = &u
	s.token = token
}

// ClearIdentity drops the identity and tears the connection down.
func (s *Session) ClearIdentity() {
	s.Disconnect()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = nil
	s.token = ""
}

// CurrentUser returns the authenticated identity, nil until set.
func (s *Session) CurrentUser() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Token returns the current bearer credential, "" when signed out.
// Matches transport.TokenSource.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Connect opens the push channel. Idempotent: a no-op when already
// connected or when no identity is set, so exactly one live channel
// exists per identity.
func (s *Session) Connect() error {
	s.mu.Lock()
	if s.user == nil || s.conn != nil {
		s.mu.Unlock()
		return nil
	}
	conn := newConn(s.wsURL, s.token, s.dispatch, s.log)
	s.conn = conn
	s.mu.Unlock()

	if err := conn.open(); err != nil {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// Disconnect closes the push channel and removes every listener.
// Idempotent.
func (s *Session) Disconnect() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.listeners = make(map[int]func(transport.Event))
	s.online = make(map[string]struct{})
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// ConnState reports the push channel lifecycle state.
func (s *Session) ConnState() ConnState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return StateDisconnected
	}
	return s.conn.State()
}

// Subscribe registers a push-event listener and returns its remove
// function. Events are delivered in arrival order; the remove function
// is safe to call more than once.
func (s *Session) Subscribe(fn func(transport.Event)) func() {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// OnlineUsers returns the last presence roster pushed by the backend.
func (s *Session) OnlineUsers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.online))
	for id := range s.online {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// dispatch runs on the connection read loop, one event at a time.
// Listeners are invoked outside the lock so they may call back into
// the session (unsubscribe, state reads) without deadlocking.
func (s *Session) dispatch(ev transport.Event) {
	s.mu.Lock()
	if presence, ok := ev.(transport.PresenceEvent); ok {
		s.online = make(map[string]struct{}, len(presence.UserIDs))
		for _, id := range presence.UserIDs {
			s.online[id] = struct{}{}
		}
	}
	fns := make([]func(transport.Event), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
