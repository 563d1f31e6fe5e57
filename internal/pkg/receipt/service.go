package receipt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/abeldemoz/birrledger/app/models"
	"github.com/abeldemoz/birrledger/app/repository"
	"github.com/abeldemoz/birrledger/internal/pkg/metrics/counter"
	"github.com/abeldemoz/birrledger/internal/pkg/notification"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// IssueParams describes one settled payment to issue a receipt for.
type IssueParams struct {
	UserID            uint
	Provider          string
	ExternalPaymentID string
	Amount            models.Money
	PaidAt            time.Time
}

// Service issues receipts exactly once per settled payment.
type Service struct {
	receipts repository.ReceiptRepository
	notifier notification.Notifier
	now      func() time.Time
}

func NewService(receipts repository.ReceiptRepository, notifier notification.Notifier) *Service {
	if notifier == nil {
		notifier = notification.LogNotifier{}
	}
	return &Service{receipts: receipts, notifier: notifier, now: time.Now}
}

// WithTx returns a service whose writes run inside the given transaction.
func (s *Service) WithTx(tx *gorm.DB) *Service {
	return &Service{receipts: s.receipts.WithTx(tx), notifier: s.notifier, now: s.now}
}

// Issue creates the receipt for a payment, or returns the existing one
// unchanged when the payment was already receipted. The second return value
// reports a first issuance; the caller runs Announce once the enclosing
// transaction is committed.
func (s *Service) Issue(p IssueParams) (*models.Receipt, bool, error) {
	existing, err := s.receipts.GetByExternalPayment(p.Provider, p.ExternalPaymentID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("lookup receipt for %s/%s: %w", p.Provider, p.ExternalPaymentID, err)
	}

	paidAt := p.PaidAt
	if paidAt.IsZero() {
		paidAt = s.now()
	}
	rc := &models.Receipt{
		UserID:            p.UserID,
		ReceiptNumber:     s.newReceiptNumber(paidAt),
		Provider:          p.Provider,
		ExternalPaymentID: p.ExternalPaymentID,
		Amount:            p.Amount.Amount,
		Currency:          p.Amount.Currency,
		PaidAt:            paidAt,
	}
	if err := s.receipts.Create(rc); err != nil {
		// Lost a race against a concurrent delivery of the same payment;
		// the committed row is the receipt.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			committed, err := s.receipts.GetByExternalPayment(p.Provider, p.ExternalPaymentID)
			return committed, false, err
		}
		return nil, false, fmt.Errorf("create receipt: %w", err)
	}
	return rc, true, nil
}

// Announce emits the side effects of a first issuance: the issued counter and
// the ReceiptIssued notification. It runs only after the creating transaction
// committed, so a rollback never announces a receipt that does not exist.
func (s *Service) Announce(rc *models.Receipt) {
	_ = counter.AddReceiptIssued(rc.Provider)
	s.notifier.NotifyReceiptIssued(notification.ReceiptIssued{
		UserID:        rc.UserID,
		ReceiptNumber: rc.ReceiptNumber,
		Amount:        rc.Total(),
	})
}

// Get returns the receipt for a settled payment if one was issued.
func (s *Service) Get(providerName, externalPaymentID string) (*models.Receipt, error) {
	return s.receipts.GetByExternalPayment(providerName, externalPaymentID)
}

// ListByUser returns every receipt issued to a user.
func (s *Service) ListByUser(userID uint) ([]models.Receipt, error) {
	return s.receipts.ListByUser(userID)
}

// newReceiptNumber builds a human-readable unique number, e.g.
// RCP-20260901-1b9f03aa.
func (s *Service) newReceiptNumber(paidAt time.Time) string {
	entropy := strings.Split(uuid.NewString(), "-")[0]
	return fmt.Sprintf("RCP-%s-%s", paidAt.UTC().Format("20060102"), entropy)
}
