package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidPromotion is returned when a promotion lacks a title, a message
// or recipients.
var ErrInvalidPromotion = errors.New("admin: invalid promotion")

// Promotion is a push notification sent to selected customers.
type Promotion struct {
	Title   string      `json:"title"`
	Message string      `json:"message"`
	UserIDs []uuid.UUID `json:"user_ids"`
}

// Validate checks the promotion before it is sent.
func (p Promotion) Validate() error {
	switch {
	case strings.TrimSpace(p.Title) == "":
		return fmt.Errorf("%w: title is required", ErrInvalidPromotion)
	case strings.TrimSpace(p.Message) == "":
		return fmt.Errorf("%w: message is required", ErrInvalidPromotion)
	case len(p.UserIDs) == 0:
		return fmt.Errorf("%w: at least one recipient is required", ErrInvalidPromotion)
	}
	return nil
}

// SendPromotion broadcasts p. Duplicate recipients are sent once.
func (s *Service) SendPromotion(ctx context.Context, p Promotion) error {
	if err := p.Validate(); err != nil {
		return err
	}
	p.UserIDs = dedupe(p.UserIDs)
	if err := s.client.PostJSON(ctx, promotionPath, p, nil); err != nil {
		return fmt.Errorf("admin: send promotion: %w", err)
	}
	s.log.InfoContext(ctx, "admin.promotion.sent", slog.Int("recipients", len(p.UserIDs)))
	return nil
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
