package subscription

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/abeldemoz/birrledger/app/models"
	"github.com/abeldemoz/birrledger/app/repository"
	"gorm.io/gorm"
)

// Change is one canonical lifecycle event applied to a user's subscription.
// ReceivedAt is the provider-side receipt timestamp, the ordering authority
// for out-of-order webhook delivery.
type Change struct {
	Provider               string
	ProviderSubscriptionID string
	UserID                 uint
	PlanID                 uint
	EventType              string
	ReceivedAt             time.Time
	CurrentPeriodEnd       *time.Time
	Trialing               bool
}

// Transition reports a committed status change for notification emission.
// Apply returns nil when the event changed nothing.
type Transition struct {
	UserID uint
	From   string
	To     string
}

// transitions maps an event type to its allowed source statuses and the
// resulting status. Events arriving in any other source status are logged
// and ignored.
var transitions = map[string]map[string]string{
	models.EventInvoicePaid: {
		models.SubStatusIncomplete: models.SubStatusActive,
		models.SubStatusTrialing:   models.SubStatusActive,
		models.SubStatusPastDue:    models.SubStatusActive,
		models.SubStatusUnpaid:     models.SubStatusActive,
		models.SubStatusActive:     models.SubStatusActive,
	},
	models.EventInvoicePaymentFailed: {
		models.SubStatusActive:   models.SubStatusPastDue,
		models.SubStatusTrialing: models.SubStatusPastDue,
		models.SubStatusPastDue:  models.SubStatusUnpaid,
	},
	models.EventSubscriptionCancelled: {
		models.SubStatusIncomplete: models.SubStatusCanceled,
		models.SubStatusTrialing:   models.SubStatusCanceled,
		models.SubStatusActive:     models.SubStatusCanceled,
		models.SubStatusPastDue:    models.SubStatusCanceled,
		models.SubStatusUnpaid:     models.SubStatusCanceled,
		models.SubStatusPaused:     models.SubStatusCanceled,
	},
	models.EventSubscriptionPaused: {
		models.SubStatusActive: models.SubStatusPaused,
	},
	models.EventSubscriptionResumed: {
		models.SubStatusPaused: models.SubStatusActive,
	},
}

// Service drives the subscription lifecycle state machine.
type Service struct {
	subs repository.SubscriptionRepository
}

func NewService(subs repository.SubscriptionRepository) *Service {
	return &Service{subs: subs}
}

// WithTx returns a service whose writes run inside the given transaction.
func (s *Service) WithTx(tx *gorm.DB) *Service {
	return &Service{subs: s.subs.WithTx(tx)}
}

// GetStatus returns the subscription row for a user, or
// gorm.ErrRecordNotFound when the user never subscribed.
func (s *Service) GetStatus(userID uint) (*models.UserSubscription, error) {
	return s.subs.GetByUserID(userID)
}

// Apply runs one lifecycle event through the state machine. Stale events
// (ReceivedAt older than the last applied event) and transitions the table
// does not allow are ignored without error; only infrastructure failures
// come back as errors.
func (s *Service) Apply(ch Change) (*Transition, error) {
	if ch.EventType == models.EventSubscriptionCreated {
		return s.applyCreated(ch)
	}

	sub, err := s.lookup(ch)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("[subscription] %s for unknown subscription provider=%s external=%s user=%d, ignoring",
			ch.EventType, ch.Provider, ch.ProviderSubscriptionID, ch.UserID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load subscription: %w", err)
	}

	if sub.LastEventAt != nil && ch.ReceivedAt.Before(*sub.LastEventAt) {
		log.Printf("[subscription] stale %s for user=%d (event %s < applied %s), ignoring",
			ch.EventType, sub.UserID, ch.ReceivedAt.Format(time.RFC3339Nano), sub.LastEventAt.Format(time.RFC3339Nano))
		return nil, nil
	}
	if sub.IsTerminal() {
		log.Printf("[subscription] %s for canceled subscription user=%d, ignoring", ch.EventType, sub.UserID)
		return nil, nil
	}

	next, ok := transitions[ch.EventType][sub.Status]
	if !ok {
		log.Printf("[subscription] invalid transition %s from %s for user=%d, ignoring", ch.EventType, sub.Status, sub.UserID)
		return nil, nil
	}

	from := sub.Status
	sub.Status = next
	receivedAt := ch.ReceivedAt
	sub.LastEventAt = &receivedAt
	if ch.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = ch.CurrentPeriodEnd
	}
	if err := s.subs.Save(sub); err != nil {
		return nil, fmt.Errorf("save subscription: %w", err)
	}
	if from == next {
		return nil, nil
	}
	return &Transition{UserID: sub.UserID, From: from, To: next}, nil
}

// applyCreated inserts the subscription row. A replayed creation for an
// already known provider subscription is a no-op.
func (s *Service) applyCreated(ch Change) (*Transition, error) {
	if _, err := s.subs.GetByProviderSubscriptionID(ch.Provider, ch.ProviderSubscriptionID); err == nil {
		log.Printf("[subscription] %s already exists provider=%s external=%s, ignoring",
			ch.EventType, ch.Provider, ch.ProviderSubscriptionID)
		return nil, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("check existing subscription: %w", err)
	}

	status := models.SubStatusIncomplete
	if ch.Trialing {
		status = models.SubStatusTrialing
	}
	receivedAt := ch.ReceivedAt
	sub := &models.UserSubscription{
		UserID:                 ch.UserID,
		PlanID:                 ch.PlanID,
		Provider:               ch.Provider,
		ProviderSubscriptionID: ch.ProviderSubscriptionID,
		Status:                 status,
		CurrentPeriodEnd:       ch.CurrentPeriodEnd,
		LastEventAt:            &receivedAt,
	}
	if err := s.subs.Create(sub); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	return &Transition{UserID: sub.UserID, From: "", To: status}, nil
}

// lookup resolves the row by provider subscription ID first, falling back to
// the user ID for providers whose events omit the subscription reference.
func (s *Service) lookup(ch Change) (*models.UserSubscription, error) {
	if ch.ProviderSubscriptionID != "" {
		sub, err := s.subs.GetByProviderSubscriptionID(ch.Provider, ch.ProviderSubscriptionID)
		if err == nil || !errors.Is(err, gorm.ErrRecordNotFound) {
			return sub, err
		}
	}
	if ch.UserID != 0 {
		return s.subs.GetByUserID(ch.UserID)
	}
	return nil, gorm.ErrRecordNotFound
}
