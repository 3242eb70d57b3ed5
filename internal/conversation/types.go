package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role tags one side of an exchange.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one immutable entry of a conversation. Append order is conversation
// chronology; turns are never edited or reordered.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// OwnerKind selects the addressing scheme for a conversation owner.
type OwnerKind string

const (
	OwnerUser      OwnerKind = "user"
	OwnerSession   OwnerKind = "session"
	OwnerAnonymous OwnerKind = "anonymous"
)

// OwnerRef identifies who a conversation belongs to: a registered user, an
// unauthenticated session, or an anonymous caller.
type OwnerRef struct {
	Kind OwnerKind `json:"kind"`
	Key  string    `json:"key"`
}

func UserOwner(userID string) OwnerRef   { return OwnerRef{Kind: OwnerUser, Key: userID} }
func SessionOwner(key string) OwnerRef   { return OwnerRef{Kind: OwnerSession, Key: key} }
func AnonymousOwner(key string) OwnerRef { return OwnerRef{Kind: OwnerAnonymous, Key: key} }

// String renders the owner as a single storage key, e.g. "user:42".
func (o OwnerRef) String() string {
	return string(o.Kind) + ":" + o.Key
}

func (o OwnerRef) IsZero() bool {
	return o.Kind == "" && o.Key == ""
}

// Validate rejects owners that cannot address a conversation.
func (o OwnerRef) Validate() error {
	switch o.Kind {
	case OwnerUser, OwnerSession, OwnerAnonymous:
	default:
		return fmt.Errorf("unknown owner kind %q", o.Kind)
	}
	if strings.TrimSpace(o.Key) == "" {
		return errors.New("owner key is required")
	}
	return nil
}

// Conversation is one persisted turn sequence. Version counts persisted
// appends and backs the optimistic-concurrency check in the store.
type Conversation struct {
	ID        string    `json:"id"`
	Owner     OwnerRef  `json:"owner"`
	Topic     string    `json:"topic"`
	Title     string    `json:"title"`
	Turns     []Turn    `json:"turns"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var (
	// ErrNotFound covers both genuinely absent conversations and those owned
	// by someone else; callers must not be able to tell the two apart.
	ErrNotFound = errors.New("conversation not found")
	// ErrVersionConflict reports a lost optimistic-concurrency race on append.
	ErrVersionConflict = errors.New("conversation version conflict")
)

// Store persists conversations. Implementations must apply the ownership
// filter inside the same query as the id lookup, never fetch-then-check.
type Store interface {
	FindByOwner(ctx context.Context, owner OwnerRef, topic string) (Conversation, error)
	FindByID(ctx context.Context, id string, owner OwnerRef) (Conversation, error)
	Create(ctx context.Context, owner OwnerRef, topic, title string) (Conversation, error)
	AppendTurns(ctx context.Context, id string, baseVersion int64, turns []Turn) (int64, error)
	ListByOwner(ctx context.Context, owner OwnerRef) ([]Conversation, error)
	Delete(ctx context.Context, id string, owner OwnerRef) error
	Close() error
}
