package controllers

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/abeldemoz/birrledger/app/models"
	"github.com/abeldemoz/birrledger/internal/pkg/provider"
)

type fakeCustomerRefRepo struct {
	refs  map[string]string
	saves int
}

func newFakeCustomerRefRepo() *fakeCustomerRefRepo {
	return &fakeCustomerRefRepo{refs: make(map[string]string)}
}

func refKey(providerName string, userID uint) string {
	return fmt.Sprintf("%s/%d", providerName, userID)
}

func (r *fakeCustomerRefRepo) GetByUserID(userID uint) (*models.Customer, error) {
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeCustomerRefRepo) Upsert(customer *models.Customer) error { return nil }

func (r *fakeCustomerRefRepo) GetProviderCustomerRef(providerName string, userID uint) (string, error) {
	return r.refs[refKey(providerName, userID)], nil
}

func (r *fakeCustomerRefRepo) SaveProviderCustomerRef(providerName string, userID uint, externalID string) error {
	r.saves++
	r.refs[refKey(providerName, userID)] = externalID
	return nil
}

// customerAdapter fakes only the customer verb; anything else is unused.
type customerAdapter struct {
	provider.Adapter
	name    string
	creates int
	err     error
}

func (a *customerAdapter) Name() string { return a.name }

func (a *customerAdapter) GetOrCreateCustomer(ctx context.Context, in provider.CustomerParams) (*provider.Customer, error) {
	if a.err != nil {
		return nil, a.err
	}
	a.creates++
	return &provider.Customer{ExternalID: "cus_remote_1", Email: in.Email}, nil
}

func TestResolveProviderCustomerReusesStoredRef(t *testing.T) {
	repo := newFakeCustomerRefRepo()
	adapter := &customerAdapter{name: models.ProviderStripe}

	first, err := resolveProviderCustomer(context.Background(), repo, adapter, 7, "a@b.c")
	require.NoError(t, err)
	assert.Equal(t, "cus_remote_1", first)
	assert.Equal(t, 1, adapter.creates)
	assert.Equal(t, 1, repo.saves)

	// The second checkout for the same user hits the stored reference and
	// never reaches the provider.
	second, err := resolveProviderCustomer(context.Background(), repo, adapter, 7, "a@b.c")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, adapter.creates)
	assert.Equal(t, 1, repo.saves)
}

func TestResolveProviderCustomerWithoutCustomerObjects(t *testing.T) {
	repo := newFakeCustomerRefRepo()
	adapter := &customerAdapter{
		name: models.ProviderChapa,
		err:  provider.NotImplemented(models.ProviderChapa, "GetOrCreateCustomer"),
	}

	id, err := resolveProviderCustomer(context.Background(), repo, adapter, 7, "a@b.c")
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Zero(t, repo.saves)
}

func TestResolveProviderCustomerPropagatesFailure(t *testing.T) {
	repo := newFakeCustomerRefRepo()
	remoteDown := provider.Transient(models.ProviderStripe, "GetOrCreateCustomer", errors.New("timeout"))
	adapter := &customerAdapter{name: models.ProviderStripe, err: remoteDown}

	_, err := resolveProviderCustomer(context.Background(), repo, adapter, 7, "a@b.c")
	require.Error(t, err)
	assert.True(t, provider.IsTransient(err))
	assert.Zero(t, repo.saves)
}
