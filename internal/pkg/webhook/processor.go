package webhook

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/abeldemoz/birrledger/app/models"
	"github.com/abeldemoz/birrledger/app/repository"
	"github.com/abeldemoz/birrledger/internal/pkg/coupon"
	"github.com/abeldemoz/birrledger/internal/pkg/metrics/counter"
	"github.com/abeldemoz/birrledger/internal/pkg/notification"
	"github.com/abeldemoz/birrledger/internal/pkg/provider"
	"github.com/abeldemoz/birrledger/internal/pkg/receipt"
	"github.com/abeldemoz/birrledger/internal/pkg/subscription"
	"gorm.io/gorm"
)

// Processor drives one webhook delivery end to end: authenticate, normalize,
// deduplicate, then apply all side effects in a single transaction. A
// transient failure leaves the stored event unprocessed so the provider's
// retry can finish the job.
type Processor struct {
	db       *gorm.DB
	events   repository.WebhookEventRepository
	subs     repository.SubscriptionRepository
	refs     repository.GatewayRefRepository
	verifier *Verifier
	coupons  *coupon.Service
	machine  *subscription.Service
	receipts *receipt.Service
	notifier notification.Notifier
	now      func() time.Time
}

func NewProcessor(
	db *gorm.DB,
	repos *repository.Repositories,
	verifier *Verifier,
	coupons *coupon.Service,
	machine *subscription.Service,
	receipts *receipt.Service,
	notifier notification.Notifier,
) *Processor {
	if notifier == nil {
		notifier = notification.LogNotifier{}
	}
	return &Processor{
		db:       db,
		events:   repos.WebhookEvent,
		subs:     repos.Subscription,
		refs:     repos.GatewayRef,
		verifier: verifier,
		coupons:  coupons,
		machine:  machine,
		receipts: receipts,
		notifier: notifier,
		now:      time.Now,
	}
}

// Process handles one raw delivery. Error contract for the HTTP layer:
// ErrInvalidSignature means reject with 401, provider.ErrUnknownProvider
// means 404, anything else is transient and the provider should redeliver.
// A nil return always means the delivery is acknowledged, including
// duplicates and events that failed for permanent business reasons.
func (p *Processor) Process(providerName string, body []byte, headers map[string]string) error {
	if !models.IsKnownProvider(providerName) {
		return fmt.Errorf("%w: %s", provider.ErrUnknownProvider, providerName)
	}
	if err := p.verifier.Verify(providerName, body, headers); err != nil {
		return err
	}

	ev, err := Normalize(providerName, body, p.now())
	if err != nil {
		return err
	}

	row := &models.WebhookEvent{
		Provider:        ev.Provider,
		ExternalEventID: ev.ExternalEventID,
		EventType:       ev.Type,
		PayloadJSON:     string(body),
		SignatureValid:  true,
		ReceivedAt:      ev.ReceivedAt,
	}
	created, stored, err := p.events.CreateIfNotExists(row)
	if err != nil {
		return fmt.Errorf("store webhook event: %w", err)
	}
	if !created {
		if stored.ProcessedAt != nil {
			log.Printf("[webhook] duplicate %s event %s, acknowledging", ev.Provider, ev.ExternalEventID)
			_ = counter.AddWebhookDuplicate(ev.Provider)
			return nil
		}
		// Stored but never finished (crash or earlier transient failure);
		// reprocess under the original receipt timestamp.
		ev.ReceivedAt = stored.ReceivedAt
	}

	if ev.Type == models.EventUnknown {
		log.Printf("[webhook] unrecognized %s event %s, archiving", ev.Provider, ev.ExternalEventID)
		return p.events.MarkProcessed(stored.ID, "")
	}

	var transitions []*subscription.Transition
	var issued []*models.Receipt
	err = p.inTx(func(tx *gorm.DB) error {
		var err error
		transitions, issued, err = p.dispatch(tx, ev)
		if err != nil {
			return err
		}
		// Processing is recorded in the same transaction as its effects; a
		// rollback leaves the event unprocessed for redelivery.
		return p.eventsIn(tx).MarkProcessed(stored.ID, "")
	})
	if err != nil {
		var re *coupon.RedeemError
		if errors.As(err, &re) {
			// Business rejection is final; archive it so retries stop.
			log.Printf("[webhook] %s event %s: coupon redemption rejected: %v", ev.Provider, ev.ExternalEventID, re)
			return p.events.MarkProcessed(stored.ID, re.Error())
		}
		log.Printf("[webhook] %s event %s failed, leaving for redelivery: %v", ev.Provider, ev.ExternalEventID, err)
		_ = counter.AddWebhookFailed(ev.Provider)
		return err
	}
	_ = counter.AddWebhookReceived(ev.Provider, ev.Type)

	// Emission happens after commit so a rollback never leaks an event.
	for _, tr := range transitions {
		p.notifier.NotifySubscriptionStatusChanged(notification.SubscriptionStatusChanged{
			UserID: tr.UserID,
			From:   tr.From,
			To:     tr.To,
		})
	}
	for _, rc := range issued {
		p.receipts.Announce(rc)
	}
	return nil
}

func (p *Processor) inTx(fn func(tx *gorm.DB) error) error {
	if p.db == nil {
		return fn(nil)
	}
	return p.db.Transaction(fn)
}

func (p *Processor) eventsIn(tx *gorm.DB) repository.WebhookEventRepository {
	if tx == nil {
		return p.events
	}
	return p.events.WithTx(tx)
}

func (p *Processor) subsIn(tx *gorm.DB) repository.SubscriptionRepository {
	if tx == nil {
		return p.subs
	}
	return p.subs.WithTx(tx)
}

func (p *Processor) refsIn(tx *gorm.DB) repository.GatewayRefRepository {
	if tx == nil {
		return p.refs
	}
	return p.refs.WithTx(tx)
}

func (p *Processor) machineIn(tx *gorm.DB) *subscription.Service {
	if tx == nil {
		return p.machine
	}
	return p.machine.WithTx(tx)
}

func (p *Processor) receiptsIn(tx *gorm.DB) *receipt.Service {
	if tx == nil {
		return p.receipts
	}
	return p.receipts.WithTx(tx)
}

func (p *Processor) couponsIn(tx *gorm.DB) *coupon.Service {
	if tx == nil {
		return p.coupons
	}
	return p.coupons.WithTx(tx)
}

// dispatch applies the canonical event's side effects inside tx and returns
// the committed status transitions and first-issued receipts for post-commit
// notification.
func (p *Processor) dispatch(tx *gorm.DB, ev *Event) ([]*subscription.Transition, []*models.Receipt, error) {
	var transitions []*subscription.Transition
	var issued []*models.Receipt

	switch ev.Type {
	case models.EventSubscriptionCreated,
		models.EventSubscriptionCancelled,
		models.EventSubscriptionPaused,
		models.EventSubscriptionResumed,
		models.EventInvoicePaymentFailed:
		tr, err := p.machineIn(tx).Apply(changeFor(ev))
		if err != nil {
			return nil, nil, err
		}
		if tr != nil {
			transitions = append(transitions, tr)
		}
		if ev.ProviderSubscriptionID != "" {
			if err := p.refsIn(tx).Upsert(ev.Provider, ev.ProviderSubscriptionID, models.GatewayRefKindSubscription); err != nil {
				return nil, nil, err
			}
		}

	case models.EventInvoicePaid:
		tr, err := p.machineIn(tx).Apply(changeFor(ev))
		if err != nil {
			return nil, nil, err
		}
		if tr != nil {
			transitions = append(transitions, tr)
		}
		rc, err := p.settle(tx, ev)
		if err != nil {
			return nil, nil, err
		}
		if rc != nil {
			issued = append(issued, rc)
		}

	case models.EventPaymentSucceeded:
		rc, err := p.settle(tx, ev)
		if err != nil {
			return nil, nil, err
		}
		if rc != nil {
			issued = append(issued, rc)
		}

	case models.EventPaymentFailed:
		log.Printf("[webhook] payment failed provider=%s payment=%s user=%d", ev.Provider, ev.ExternalPaymentID, ev.UserID)

	case models.EventRefundSucceeded:
		if ev.ExternalPaymentID != "" {
			if err := p.refsIn(tx).Upsert(ev.Provider, ev.ExternalPaymentID, models.GatewayRefKindPayment); err != nil {
				return nil, nil, err
			}
		}
		log.Printf("[webhook] refund settled provider=%s payment=%s", ev.Provider, ev.ExternalPaymentID)
	}

	return transitions, issued, nil
}

// settle records a successful payment: receipt issuance and, when the
// payment was made under a coupon, the redemption that makes the discount
// durable. Both are idempotent against replays. A non-nil receipt means a
// first issuance awaiting post-commit announcement.
func (p *Processor) settle(tx *gorm.DB, ev *Event) (*models.Receipt, error) {
	userID := ev.UserID
	if userID == 0 && ev.ProviderSubscriptionID != "" {
		sub, err := p.subsIn(tx).GetByProviderSubscriptionID(ev.Provider, ev.ProviderSubscriptionID)
		if err == nil {
			userID = sub.UserID
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if userID == 0 || ev.ExternalPaymentID == "" || ev.Amount == nil {
		log.Printf("[webhook] %s payment event %s lacks user/payment/amount context, skipping receipt",
			ev.Provider, ev.ExternalEventID)
		return nil, nil
	}

	if err := p.refsIn(tx).Upsert(ev.Provider, ev.ExternalPaymentID, models.GatewayRefKindPayment); err != nil {
		return nil, err
	}

	if ev.CouponCode != "" {
		if _, err := p.couponsIn(tx).Redeem(ev.CouponCode, userID, *ev.Amount, ev.ExternalPaymentID); err != nil {
			return nil, err
		}
	}

	rc, created, err := p.receiptsIn(tx).Issue(receipt.IssueParams{
		UserID:            userID,
		Provider:          ev.Provider,
		ExternalPaymentID: ev.ExternalPaymentID,
		Amount:            *ev.Amount,
		PaidAt:            ev.PaidAt,
	})
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, nil
	}
	return rc, nil
}

func changeFor(ev *Event) subscription.Change {
	return subscription.Change{
		Provider:               ev.Provider,
		ProviderSubscriptionID: ev.ProviderSubscriptionID,
		UserID:                 ev.UserID,
		PlanID:                 ev.PlanID,
		EventType:              ev.Type,
		ReceivedAt:             ev.ReceivedAt,
		CurrentPeriodEnd:       ev.CurrentPeriodEnd,
		Trialing:               ev.Trialing,
	}
}
