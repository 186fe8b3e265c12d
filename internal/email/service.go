// Package email renders transactional templates and hands them to Resend.
// Domain services never send inline: they queue an email_requested outbox
// event built by NewRequest and the email consumer delivers it.
package email

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/shopdeck-backend/pkg/enums"
	"github.com/angelmondragon/shopdeck-backend/pkg/logger"
	"github.com/angelmondragon/shopdeck-backend/pkg/outbox"
	"github.com/angelmondragon/shopdeck-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/shopdeck-backend/pkg/resend"
)

type sender interface {
	Send(ctx context.Context, msg resend.Message) (string, error)
}

type Service struct {
	sender sender
	logg   *logger.Logger
}

func NewService(s sender, logg *logger.Logger) (*Service, error) {
	if s == nil {
		return nil, errors.New("email sender required")
	}
	return &Service{sender: s, logg: logg}, nil
}

// Send delivers raw HTML to one recipient.
func (s *Service) Send(ctx context.Context, to, subject, html string) (string, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return "", errors.New("recipient required")
	}
	id, err := s.sender.Send(ctx, resend.Message{To: []string{to}, Subject: subject, HTML: html})
	if err != nil {
		return "", err
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{"email_id": id, "subject": subject}), "email sent")
	}
	return id, nil
}

// Deliver renders the request's template and sends it.
func (s *Service) Deliver(ctx context.Context, req payloads.EmailRequestedEvent) (string, error) {
	subject, html, err := Render(req.Template, req.Data)
	if err != nil {
		return "", err
	}
	return s.Send(ctx, req.To, subject, html)
}

// NewRequest builds the outbox event that queues template for to.
func NewRequest(storeID uuid.UUID, to, template string, data any) (outbox.DomainEvent, error) {
	if !KnownTemplate(template) {
		return outbox.DomainEvent{}, fmt.Errorf("unknown email template %q", template)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return outbox.DomainEvent{}, err
	}
	sid := storeID
	return outbox.DomainEvent{
		EventType:     enums.EventEmailRequested,
		AggregateType: enums.AggregateStore,
		AggregateID:   storeID,
		Data: payloads.EmailRequestedEvent{
			To:       to,
			Template: template,
			StoreID:  &sid,
			Data:     raw,
		},
	}, nil
}
