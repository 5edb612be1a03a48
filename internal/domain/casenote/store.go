package casenote

import (
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/clinixnote/clinixnote/internal/platform/llm"
)

// Session is one clinician's working context: a workflow plus the completion
// client built from the credential supplied when the session was opened.
type Session struct {
	ID        uuid.UUID
	Owner     string
	CreatedAt time.Time
	Workflow  *Workflow

	client llm.Client
}

// SessionStore holds live sessions. It is bounded; the least recently used
// session is dropped when full, and a session idle for longer than the TTL
// expires.
type SessionStore struct {
	sessions *expirable.LRU[uuid.UUID, *Session]
}

func NewSessionStore(size int, ttl time.Duration) *SessionStore {
	return &SessionStore{
		sessions: expirable.NewLRU[uuid.UUID, *Session](size, nil, ttl),
	}
}

func (s *SessionStore) Add(sess *Session) {
	s.sessions.Add(sess.ID, sess)
}

// Get returns the session and refreshes its expiry.
func (s *SessionStore) Get(id uuid.UUID) (*Session, bool) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return nil, false
	}
	// expirable.LRU only resets the TTL on Add.
	s.sessions.Add(id, sess)
	return sess, true
}

func (s *SessionStore) Remove(id uuid.UUID) bool {
	return s.sessions.Remove(id)
}

func (s *SessionStore) Len() int {
	return s.sessions.Len()
}
