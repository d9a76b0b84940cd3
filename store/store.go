package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/synaptic-ai/chatstream/session"
)

const (
	// DefaultKey is the namespaced key the snapshot lives under.
	DefaultKey = "synaptic-ai-extension-chat-messages"

	// DefaultExpiry is how long a snapshot stays valid after its last write.
	DefaultExpiry = 30 * time.Minute

	// Millisecond-precision ISO-8601, the serialized timestamp form.
	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// storedMessage is the durable form of a session.Message, with the timestamp
// serialized as an ISO-8601 string.
type storedMessage struct {
	ID        string              `json:"id"`
	Role      session.Role        `json:"role"`
	Content   string              `json:"content"`
	Timestamp string              `json:"timestamp"`
	NoteLinks []session.Reference `json:"noteLinks,omitempty"`
	WebLinks  []session.Reference `json:"webLinks,omitempty"`
}

type snapshot struct {
	Messages     []storedMessage `json:"messages"`
	LastAccessed int64           `json:"lastAccessed"` // epoch-ms of last write
}

// Store reads and writes the transcript snapshot under a single key of an
// external KV. It is the sole owner of that key and of the staleness
// decision: an expired or unreadable snapshot is purged on read, never
// returned.
type Store struct {
	kv     KV
	key    string
	expiry time.Duration
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithKey overrides the snapshot key.
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// WithExpiry overrides the snapshot validity window.
func WithExpiry(d time.Duration) Option {
	return func(s *Store) { s.expiry = d }
}

// WithClock overrides the expiry clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store over the given KV with the default key and expiry.
func New(kv KV, opts ...Option) *Store {
	s := &Store{
		kv:     kv,
		key:    DefaultKey,
		expiry: DefaultExpiry,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the persisted transcript, or an empty transcript when no
// valid snapshot exists. An expired snapshot is purged as a side effect, as
// is one that no longer decodes; neither is ever partially recovered.
func (s *Store) Load(ctx context.Context) ([]session.Message, error) {
	data, ok, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}
	if !ok {
		return nil, nil
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.kv.Remove(ctx, s.key)
		return nil, nil
	}

	age := s.now().Sub(time.UnixMilli(snap.LastAccessed))
	if age > s.expiry {
		if err := s.kv.Remove(ctx, s.key); err != nil {
			return nil, fmt.Errorf("%w: purge expired: %v", ErrLoadFailed, err)
		}
		return nil, nil
	}

	msgs := make([]session.Message, 0, len(snap.Messages))
	for _, sm := range snap.Messages {
		ts, err := time.Parse(time.RFC3339, sm.Timestamp)
		if err != nil {
			s.kv.Remove(ctx, s.key)
			return nil, nil
		}
		msgs = append(msgs, session.Message{
			ID:        sm.ID,
			Role:      sm.Role,
			Content:   sm.Content,
			Timestamp: ts,
			NoteLinks: sm.NoteLinks,
			WebLinks:  sm.WebLinks,
		})
	}
	return msgs, nil
}

// Save overwrites the snapshot with the given transcript, stamping
// lastAccessed with the current instant. Timestamps are persisted to
// millisecond precision.
func (s *Store) Save(ctx context.Context, msgs []session.Message) error {
	stored := make([]storedMessage, len(msgs))
	for i, msg := range msgs {
		stored[i] = storedMessage{
			ID:        msg.ID,
			Role:      msg.Role,
			Content:   msg.Content,
			Timestamp: msg.Timestamp.UTC().Format(timestampLayout),
			NoteLinks: msg.NoteLinks,
			WebLinks:  msg.WebLinks,
		}
	}

	data, err := json.Marshal(snapshot{
		Messages:     stored,
		LastAccessed: s.now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}

	if err := s.kv.Set(ctx, s.key, data); err != nil {
		return fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}
	return nil
}

// Clear removes the snapshot.
func (s *Store) Clear(ctx context.Context) error {
	return s.kv.Remove(ctx, s.key)
}
