// Package consumers pulls outbox events from Pub/Sub and hands them to the
// domain services. Every consumer claims an event id in Redis before the
// handler runs so redeliveries are skipped.
package consumers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shopdeck-backend/pkg/errors"
	"github.com/angelmondragon/shopdeck-backend/pkg/logger"
	"github.com/angelmondragon/shopdeck-backend/pkg/outbox"
	"github.com/angelmondragon/shopdeck-backend/pkg/outbox/registry"
)

// Handler processes one decoded event. payload is the registry's typed value
// for eventType.
type Handler interface {
	Handles(eventType enums.OutboxEventType) bool
	Handle(ctx context.Context, eventType enums.OutboxEventType, env outbox.PayloadEnvelope, payload any) error
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

type decoder interface {
	Decode(eventType enums.OutboxEventType, data json.RawMessage) (any, error)
}

type claimer interface {
	Claim(ctx context.Context, consumer, eventID string) (bool, error)
	Release(ctx context.Context, consumer, eventID string) error
}

type Params struct {
	Name         string
	Subscription receiver
	Registry     decoder
	Claims       claimer
	Handler      Handler
	Logger       *logger.Logger
}

type Consumer struct {
	name    string
	sub     receiver
	reg     decoder
	claims  claimer
	handler Handler
	logg    *logger.Logger
}

func New(p Params) (*Consumer, error) {
	if strings.TrimSpace(p.Name) == "" {
		return nil, errors.New("consumer name is required")
	}
	if p.Subscription == nil {
		return nil, fmt.Errorf("%s subscription is required", p.Name)
	}
	if p.Registry == nil {
		return nil, errors.New("event registry is required")
	}
	if p.Claims == nil {
		return nil, errors.New("idempotency manager is required")
	}
	if p.Handler == nil {
		return nil, errors.New("handler is required")
	}
	if p.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Consumer{
		name:    p.Name,
		sub:     p.Subscription,
		reg:     p.Registry,
		claims:  p.Claims,
		handler: p.Handler,
		logg:    p.Logger,
	}, nil
}

func (c *Consumer) Name() string { return c.name }

// Run blocks until ctx is canceled or the subscription fails.
func (c *Consumer) Run(ctx context.Context) error {
	return c.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg.ID, msg.Attributes, msg.Data).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	nack bool
}

var ack = processResult{}

func (c *Consumer) process(ctx context.Context, msgID string, attrs map[string]string, data []byte) processResult {
	eventType := enums.OutboxEventType(strings.TrimSpace(attrs["event_type"]))
	ctx = c.logg.WithFields(ctx, map[string]any{
		"consumer":   c.name,
		"message_id": msgID,
		"event_type": string(eventType),
	})
	if eventType == "" {
		c.logg.Warn(ctx, "message without event_type attribute dropped")
		return ack
	}
	if !c.handler.Handles(eventType) {
		c.logg.Debug(ctx, "event not handled by consumer")
		return ack
	}

	env, err := outbox.DecodeEnvelope(data)
	if err != nil {
		c.logg.Error(ctx, "undecodable envelope dropped", err)
		return ack
	}
	if env.EventID == "" {
		env.EventID = attrs["event_id"]
	}
	if env.EventID == "" {
		c.logg.Warn(ctx, "message without event id dropped")
		return ack
	}
	ctx = c.logg.WithField(ctx, "event_id", env.EventID)

	payload, err := c.reg.Decode(eventType, env.Data)
	if err != nil {
		c.logg.Error(ctx, "undecodable payload dropped", err)
		return ack
	}

	claimed, err := c.claims.Claim(ctx, c.name, env.EventID)
	if err != nil {
		c.logg.Error(ctx, "idempotency claim failed", err)
		return processResult{nack: true}
	}
	if !claimed {
		c.logg.Info(ctx, "event already processed")
		return ack
	}

	if err := c.handler.Handle(ctx, eventType, env, payload); err != nil {
		if permanent(err) {
			c.logg.Error(ctx, "event failed permanently", err)
			return ack
		}
		if relErr := c.claims.Release(ctx, c.name, env.EventID); relErr != nil {
			c.logg.Error(ctx, "release idempotency claim", relErr)
		}
		c.logg.Error(ctx, "event handling failed, will redeliver", err)
		return processResult{nack: true}
	}
	c.logg.Info(ctx, "event processed")
	return ack
}

// permanent errors are acked; redelivering them cannot succeed.
func permanent(err error) bool {
	var nonRetry registry.NonRetryableError
	if errors.As(err, &nonRetry) {
		return true
	}
	if pkgerrors.As(err) != nil {
		return !pkgerrors.Retryable(err)
	}
	return false
}
