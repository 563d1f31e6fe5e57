package notification

import (
	"errors"
	"fmt"
	"log"

	"github.com/abeldemoz/birrledger/app/models"
	"github.com/abeldemoz/birrledger/internal/pkg/mail"
)

// ReceiptIssued is emitted after a receipt row is committed.
type ReceiptIssued struct {
	UserID        uint
	ReceiptNumber string
	Amount        models.Money
}

// SubscriptionStatusChanged is emitted after a state-machine transition commits.
type SubscriptionStatusChanged struct {
	UserID uint
	From   string
	To     string
}

// Notifier receives billing events for downstream delivery (email, push).
// Emission is best-effort: a failing notifier must never roll back the write
// that produced the event, so implementations return nothing.
type Notifier interface {
	NotifyReceiptIssued(ev ReceiptIssued)
	NotifySubscriptionStatusChanged(ev SubscriptionStatusChanged)
}

// EmailLookup resolves a user's billing email for mail delivery.
type EmailLookup interface {
	GetByUserID(userID uint) (*models.Customer, error)
}

// LogNotifier is the default sink when no delivery collaborator is wired.
type LogNotifier struct{}

func (LogNotifier) NotifyReceiptIssued(ev ReceiptIssued) {
	log.Printf("[notify] receipt issued user=%d number=%s amount=%s", ev.UserID, ev.ReceiptNumber, ev.Amount)
}

func (LogNotifier) NotifySubscriptionStatusChanged(ev SubscriptionStatusChanged) {
	log.Printf("[notify] subscription status changed user=%d %s -> %s", ev.UserID, ev.From, ev.To)
}

// MailNotifier emails billing events to the customer's address. Delivery
// failures are logged, never propagated.
type MailNotifier struct {
	lookup EmailLookup
}

func NewMailNotifier(lookup EmailLookup) *MailNotifier {
	return &MailNotifier{lookup: lookup}
}

func (n *MailNotifier) NotifyReceiptIssued(ev ReceiptIssued) {
	LogNotifier{}.NotifyReceiptIssued(ev)
	n.send(ev.UserID, "Your payment receipt "+ev.ReceiptNumber,
		fmt.Sprintf("<p>We received your payment of %s.</p><p>Receipt number: %s</p>", ev.Amount, ev.ReceiptNumber))
}

func (n *MailNotifier) NotifySubscriptionStatusChanged(ev SubscriptionStatusChanged) {
	LogNotifier{}.NotifySubscriptionStatusChanged(ev)
	n.send(ev.UserID, "Your subscription is now "+ev.To,
		fmt.Sprintf("<p>Your subscription status changed from %s to %s.</p>", ev.From, ev.To))
}

func (n *MailNotifier) send(userID uint, subject, body string) {
	customer, err := n.lookup.GetByUserID(userID)
	if err != nil || customer.Email == "" {
		return
	}
	if err := mail.SendMail(customer.Email, subject, body); err != nil && !errors.Is(err, mail.ErrNotConfigured) {
		log.Printf("[notify] mail delivery to user=%d failed: %v", userID, err)
	}
}
