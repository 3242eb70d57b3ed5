package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devmiguelgomez/wow-backend/internal/events"
	"github.com/devmiguelgomez/wow-backend/internal/gemini"
	"github.com/devmiguelgomez/wow-backend/internal/observability"
	"github.com/devmiguelgomez/wow-backend/internal/persona"
)

var (
	ErrEmptyMessage = errors.New("message is required")
	ErrUnknownTopic = errors.New("unknown faction")
	ErrInvalidRole  = errors.New("role must be user or assistant")
)

// Gateway produces a completion for a primed history plus a live user message.
type Gateway interface {
	Complete(ctx context.Context, history []gemini.Content, message string) (string, error)
}

// Publisher emits chat events. Implementations must tolerate being called
// concurrently; publish failures never fail a request.
type Publisher interface {
	Publish(subject string, data any) error
}

// Manager orchestrates one exchange: resolve-or-create the conversation,
// append the user turn, call the gateway, append the assistant turn. All
// writes to one conversation serialize behind a per-key mutex, and the store's
// version check catches whatever the lock cannot see (e.g. another process).
type Manager struct {
	store        Store
	gateway      Gateway
	pub          Publisher
	metrics      *observability.Metrics
	defaultTopic string
	locks        keyedMutex
}

func NewManager(store Store, gateway Gateway, pub Publisher, metrics *observability.Metrics, defaultTopic string) *Manager {
	if defaultTopic == "" {
		defaultTopic = "alliance"
	}
	return &Manager{
		store:        store,
		gateway:      gateway,
		pub:          pub,
		metrics:      metrics,
		defaultTopic: defaultTopic,
	}
}

// HandleMessage runs one full exchange and returns the assistant's reply with
// the conversation id. The user turn is persisted before the gateway call, so
// it survives an upstream failure; the error from a failed gateway call is
// returned as-is (*gemini.UpstreamError) for the transport layer to map.
//
// When conversationID is set it must resolve to a conversation owned by the
// caller, otherwise ErrNotFound — an explicit id never falls back to creating
// a new conversation. When empty, the single conversation for (owner, topic)
// is found or created.
func (m *Manager) HandleMessage(ctx context.Context, owner OwnerRef, topic, conversationID, text string) (string, string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", "", ErrEmptyMessage
	}
	if err := owner.Validate(); err != nil {
		return "", "", err
	}
	if topic == "" {
		topic = m.defaultTopic
	}
	p, ok := persona.Lookup(topic)
	if !ok {
		return "", "", ErrUnknownTopic
	}

	unlock := m.locks.lock(m.lockKey(owner, topic, conversationID))
	defer unlock()

	conv, err := m.resolve(ctx, owner, p, conversationID, text)
	if err != nil {
		return "", "", err
	}

	// Persistence is detached from the caller's context: a client that
	// disconnects mid-call must not cost the user their turn.
	persistCtx := context.WithoutCancel(ctx)

	userTurn := Turn{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Content:   text,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.append(persistCtx, &conv, userTurn); err != nil {
		return "", conv.ID, err
	}

	history := Project(p, conv.Turns)

	start := time.Now()
	reply, err := m.gateway.Complete(ctx, history, text)
	if m.metrics != nil {
		m.metrics.ObserveGatewayLatency(time.Since(start))
	}
	if err != nil {
		m.recordGatewayFailure(conv.ID, p.Tag, err)
		return "", conv.ID, err
	}

	assistantTurn := Turn{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Content:   reply,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.append(persistCtx, &conv, assistantTurn); err != nil {
		return "", conv.ID, err
	}

	if m.metrics != nil {
		m.metrics.ChatMessages.WithLabelValues(p.Tag, "success").Inc()
	}
	if m.pub != nil {
		_ = m.pub.Publish(events.SubjectMessageStored, events.MessageStored{
			ConversationID: conv.ID,
			OwnerKind:      string(owner.Kind),
			Faction:        p.Tag,
			TurnCount:      len(conv.Turns),
		})
	}
	return reply, conv.ID, nil
}

// History returns the turns for (owner, topic), lazily materializing the
// faction greeting as the opening assistant turn of a fresh conversation. The
// greeting is persisted exactly once; repeated calls never duplicate it.
func (m *Manager) History(ctx context.Context, owner OwnerRef, topic string) ([]Turn, string, error) {
	if err := owner.Validate(); err != nil {
		return nil, "", err
	}
	if topic == "" {
		topic = m.defaultTopic
	}
	p, ok := persona.Lookup(topic)
	if !ok {
		return nil, "", ErrUnknownTopic
	}

	unlock := m.locks.lock(m.lockKey(owner, topic, ""))
	defer unlock()

	conv, err := m.store.FindByOwner(ctx, owner, topic)
	if errors.Is(err, ErrNotFound) {
		conv, err = m.create(ctx, owner, p, "")
	}
	if err != nil {
		return nil, "", err
	}

	if len(conv.Turns) == 0 {
		greeting := Turn{
			ID:        uuid.NewString(),
			Role:      RoleAssistant,
			Content:   p.Greeting,
			CreatedAt: time.Now().UTC(),
		}
		if err := m.append(ctx, &conv, greeting); err != nil {
			return nil, "", err
		}
	}
	return conv.Turns, conv.ID, nil
}

// Get returns one conversation, ownership-checked.
func (m *Manager) Get(ctx context.Context, id string, owner OwnerRef) (Conversation, error) {
	return m.store.FindByID(ctx, id, owner)
}

// List returns the owner's conversations, most recently updated first.
func (m *Manager) List(ctx context.Context, owner OwnerRef) ([]Conversation, error) {
	return m.store.ListByOwner(ctx, owner)
}

// CreateConversation makes a new empty conversation for the REST surface.
func (m *Manager) CreateConversation(ctx context.Context, owner OwnerRef, topic, title string) (Conversation, error) {
	if err := owner.Validate(); err != nil {
		return Conversation{}, err
	}
	if topic == "" {
		topic = m.defaultTopic
	}
	p, ok := persona.Lookup(topic)
	if !ok {
		return Conversation{}, ErrUnknownTopic
	}
	if strings.TrimSpace(title) == "" {
		title = "New conversation"
	}
	return m.create(ctx, owner, p, title)
}

// AppendTurn appends one raw turn to an owned conversation (REST surface).
func (m *Manager) AppendTurn(ctx context.Context, owner OwnerRef, id string, role Role, content string) (Turn, error) {
	if role != RoleUser && role != RoleAssistant {
		return Turn{}, ErrInvalidRole
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return Turn{}, ErrEmptyMessage
	}

	unlock := m.locks.lock("id:" + id)
	defer unlock()

	conv, err := m.store.FindByID(ctx, id, owner)
	if err != nil {
		return Turn{}, err
	}
	turn := Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.append(ctx, &conv, turn); err != nil {
		return Turn{}, err
	}
	return turn, nil
}

// Delete removes an owned conversation.
func (m *Manager) Delete(ctx context.Context, id string, owner OwnerRef) error {
	return m.store.Delete(ctx, id, owner)
}

func (m *Manager) lockKey(owner OwnerRef, topic, conversationID string) string {
	if conversationID != "" {
		return "id:" + conversationID
	}
	return "find:" + owner.String() + "|" + topic
}

func (m *Manager) resolve(ctx context.Context, owner OwnerRef, p persona.Persona, conversationID, firstMessage string) (Conversation, error) {
	if conversationID != "" {
		return m.store.FindByID(ctx, conversationID, owner)
	}
	conv, err := m.store.FindByOwner(ctx, owner, p.Tag)
	if errors.Is(err, ErrNotFound) {
		return m.create(ctx, owner, p, titleFrom(firstMessage))
	}
	return conv, err
}

func (m *Manager) create(ctx context.Context, owner OwnerRef, p persona.Persona, title string) (Conversation, error) {
	conv, err := m.store.Create(ctx, owner, p.Tag, title)
	if err != nil {
		return Conversation{}, err
	}
	if m.metrics != nil {
		m.metrics.ConversationsCreated.WithLabelValues(string(owner.Kind)).Inc()
	}
	if m.pub != nil {
		_ = m.pub.Publish(events.SubjectConversationCreated, events.ConversationCreated{
			ConversationID: conv.ID,
			OwnerKind:      string(owner.Kind),
			Faction:        p.Tag,
		})
	}
	return conv, nil
}

// append persists turns with the store's version check, refreshing and
// retrying on conflict so a racing writer costs a retry, never a lost turn.
func (m *Manager) append(ctx context.Context, conv *Conversation, turns ...Turn) error {
	for attempt := 0; attempt < 3; attempt++ {
		newVersion, err := m.store.AppendTurns(ctx, conv.ID, conv.Version, turns)
		if err == nil {
			conv.Version = newVersion
			conv.Turns = append(conv.Turns, turns...)
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}
		fresh, ferr := m.store.FindByID(ctx, conv.ID, conv.Owner)
		if ferr != nil {
			return ferr
		}
		*conv = fresh
	}
	return ErrVersionConflict
}

func (m *Manager) recordGatewayFailure(conversationID, faction string, err error) {
	status := 0
	var upstream *gemini.UpstreamError
	if errors.As(err, &upstream) {
		status = upstream.Status
	}
	if m.metrics != nil {
		m.metrics.ChatMessages.WithLabelValues(faction, "upstream_error").Inc()
		m.metrics.ObserveGatewayError(status)
	}
	if m.pub != nil {
		_ = m.pub.Publish(events.SubjectGatewayFailed, events.GatewayFailed{
			ConversationID: conversationID,
			Faction:        faction,
			Status:         status,
			Detail:         err.Error(),
		})
	}
}

// keyedMutex hands out one mutex per key and reclaims idle entries.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockRef
}

type lockRef struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*lockRef)
	}
	ref, ok := k.locks[key]
	if !ok {
		ref = &lockRef{}
		k.locks[key] = ref
	}
	ref.refs++
	k.mu.Unlock()

	ref.Lock()
	return func() {
		ref.Unlock()
		k.mu.Lock()
		ref.refs--
		if ref.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func titleFrom(message string) string {
	const max = 60
	message = strings.TrimSpace(message)
	if len(message) <= max {
		return message
	}
	cut := message[:max]
	if i := strings.LastIndexByte(cut, ' '); i > max/2 {
		cut = cut[:i]
	}
	return cut + "…"
}
