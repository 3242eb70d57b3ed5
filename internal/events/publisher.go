package events

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subjects emitted by the chat pipeline.
const (
	SubjectMessageStored       = "wowchat.message.stored"
	SubjectConversationCreated = "wowchat.conversation.created"
	SubjectGatewayFailed       = "wowchat.gateway.failed"
)

// MessageStored is emitted after a full exchange (user + assistant turns) has
// been persisted.
type MessageStored struct {
	ConversationID string `json:"conversation_id"`
	OwnerKind      string `json:"owner_kind"`
	Faction        string `json:"faction"`
	TurnCount      int    `json:"turn_count"`
}

// ConversationCreated is emitted when a conversation is first materialized.
type ConversationCreated struct {
	ConversationID string `json:"conversation_id"`
	OwnerKind      string `json:"owner_kind"`
	Faction        string `json:"faction"`
}

// GatewayFailed is emitted when the completion gateway rejects an exchange;
// the user turn is already durable at that point.
type GatewayFailed struct {
	ConversationID string `json:"conversation_id"`
	Faction        string `json:"faction"`
	Status         int    `json:"status"`
	Detail         string `json:"detail"`
}

// Publisher emits chat events to NATS. A nil *Publisher is valid and drops
// everything, so the service runs without a broker.
type Publisher struct {
	conn *nats.Conn
}

func NewPublisher(url, token string) (*Publisher, error) {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("nats disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Printf("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Publisher{conn: nc}, nil
}

func (p *Publisher) Publish(subject string, data any) error {
	if p == nil {
		return nil
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return p.conn.Publish(subject, payload)
}

func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.conn.Close()
}
