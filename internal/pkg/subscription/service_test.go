package subscription

import (
	"testing"
	"time"

	"github.com/abeldemoz/birrledger/app/models"
	"github.com/abeldemoz/birrledger/app/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeSubRepo struct {
	subs   []*models.UserSubscription
	nextID uint
}

func (r *fakeSubRepo) WithTx(tx *gorm.DB) repository.SubscriptionRepository { return r }

func (r *fakeSubRepo) GetByUserID(userID uint) (*models.UserSubscription, error) {
	for _, s := range r.subs {
		if s.UserID == userID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeSubRepo) GetByProviderSubscriptionID(providerName, externalID string) (*models.UserSubscription, error) {
	for _, s := range r.subs {
		if s.Provider == providerName && s.ProviderSubscriptionID == externalID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeSubRepo) Create(sub *models.UserSubscription) error {
	r.nextID++
	sub.ID = r.nextID
	cp := *sub
	r.subs = append(r.subs, &cp)
	return nil
}

func (r *fakeSubRepo) Save(sub *models.UserSubscription) error {
	for i, s := range r.subs {
		if s.ID == sub.ID {
			cp := *sub
			r.subs[i] = &cp
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func change(eventType string, at time.Time) Change {
	return Change{
		Provider:               models.ProviderStripe,
		ProviderSubscriptionID: "sub_123",
		UserID:                 7,
		PlanID:                 2,
		EventType:              eventType,
		ReceivedAt:             at,
	}
}

func TestLifecycleHappyPath(t *testing.T) {
	repo := &fakeSubRepo{}
	svc := NewService(repo)
	t0 := time.Now()

	tr, err := svc.Apply(change(models.EventSubscriptionCreated, t0))
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, models.SubStatusIncomplete, tr.To)

	tr, err = svc.Apply(change(models.EventInvoicePaid, t0.Add(time.Second)))
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, models.SubStatusIncomplete, tr.From)
	assert.Equal(t, models.SubStatusActive, tr.To)

	tr, err = svc.Apply(change(models.EventInvoicePaymentFailed, t0.Add(2*time.Second)))
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, models.SubStatusPastDue, tr.To)

	tr, err = svc.Apply(change(models.EventInvoicePaid, t0.Add(3*time.Second)))
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, models.SubStatusActive, tr.To)
}

func TestCreatedWithTrialStartsTrialing(t *testing.T) {
	repo := &fakeSubRepo{}
	svc := NewService(repo)

	ch := change(models.EventSubscriptionCreated, time.Now())
	ch.Trialing = true
	tr, err := svc.Apply(ch)
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, models.SubStatusTrialing, tr.To)
}

func TestCreatedReplayIsNoOp(t *testing.T) {
	repo := &fakeSubRepo{}
	svc := NewService(repo)
	t0 := time.Now()

	_, err := svc.Apply(change(models.EventSubscriptionCreated, t0))
	require.NoError(t, err)
	tr, err := svc.Apply(change(models.EventSubscriptionCreated, t0.Add(time.Second)))
	require.NoError(t, err)
	assert.Nil(t, tr)
	assert.Len(t, repo.subs, 1)
}

func TestPauseResume(t *testing.T) {
	repo := &fakeSubRepo{}
	svc := NewService(repo)
	t0 := time.Now()

	_, err := svc.Apply(change(models.EventSubscriptionCreated, t0))
	require.NoError(t, err)
	_, err = svc.Apply(change(models.EventInvoicePaid, t0.Add(time.Second)))
	require.NoError(t, err)

	tr, err := svc.Apply(change(models.EventSubscriptionPaused, t0.Add(2*time.Second)))
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, models.SubStatusPaused, tr.To)

	// Payment failure while paused is not a valid transition.
	tr, err = svc.Apply(change(models.EventInvoicePaymentFailed, t0.Add(3*time.Second)))
	require.NoError(t, err)
	assert.Nil(t, tr)

	tr, err = svc.Apply(change(models.EventSubscriptionResumed, t0.Add(4*time.Second)))
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, models.SubStatusActive, tr.To)
}

// A cancellation received at T2 must not be overridden by an invoice payment
// event received earlier at T1 but delivered late.
func TestOutOfOrderPaymentNeverRevivesCancellation(t *testing.T) {
	repo := &fakeSubRepo{}
	svc := NewService(repo)
	t0 := time.Now()

	_, err := svc.Apply(change(models.EventSubscriptionCreated, t0))
	require.NoError(t, err)
	_, err = svc.Apply(change(models.EventSubscriptionCancelled, t0.Add(2*time.Second)))
	require.NoError(t, err)

	tr, err := svc.Apply(change(models.EventInvoicePaid, t0.Add(time.Second)))
	require.NoError(t, err)
	assert.Nil(t, tr)

	sub, err := svc.GetStatus(7)
	require.NoError(t, err)
	assert.Equal(t, models.SubStatusCanceled, sub.Status)
}

func TestCanceledIsTerminal(t *testing.T) {
	repo := &fakeSubRepo{}
	svc := NewService(repo)
	t0 := time.Now()

	_, err := svc.Apply(change(models.EventSubscriptionCreated, t0))
	require.NoError(t, err)
	_, err = svc.Apply(change(models.EventSubscriptionCancelled, t0.Add(time.Second)))
	require.NoError(t, err)

	// Even a newer payment event cannot leave the terminal state.
	tr, err := svc.Apply(change(models.EventInvoicePaid, t0.Add(2*time.Second)))
	require.NoError(t, err)
	assert.Nil(t, tr)

	sub, err := svc.GetStatus(7)
	require.NoError(t, err)
	assert.Equal(t, models.SubStatusCanceled, sub.Status)
}

func TestUnknownSubscriptionIgnored(t *testing.T) {
	repo := &fakeSubRepo{}
	svc := NewService(repo)

	ch := change(models.EventInvoicePaid, time.Now())
	ch.UserID = 0
	tr, err := svc.Apply(ch)
	require.NoError(t, err)
	assert.Nil(t, tr)
}

func TestRepeatedFailureGoesUnpaid(t *testing.T) {
	repo := &fakeSubRepo{}
	svc := NewService(repo)
	t0 := time.Now()

	_, err := svc.Apply(change(models.EventSubscriptionCreated, t0))
	require.NoError(t, err)
	_, err = svc.Apply(change(models.EventInvoicePaid, t0.Add(time.Second)))
	require.NoError(t, err)
	_, err = svc.Apply(change(models.EventInvoicePaymentFailed, t0.Add(2*time.Second)))
	require.NoError(t, err)

	tr, err := svc.Apply(change(models.EventInvoicePaymentFailed, t0.Add(3*time.Second)))
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, models.SubStatusUnpaid, tr.To)
}
