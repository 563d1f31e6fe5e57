package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abeldemoz/birrledger/app/models"
)

// Payment status values reported by adapters.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
)

// Payment is the provider-neutral view of a remote payment.
type Payment struct {
	Provider   string
	ExternalID string
	Reference  string
	Amount     models.Money
	Status     string
	CustomerID string
	PaidAt     *time.Time
}

// CheckoutSession is the result of initializing a hosted payment flow.
type CheckoutSession struct {
	Reference   string
	ExternalID  string
	RedirectURL string
}

// Subscription is the provider-neutral view of a remote subscription.
type Subscription struct {
	ExternalID       string
	PlanRef          string
	Status           string
	CurrentPeriodEnd *time.Time
}

// Customer is the provider-neutral view of a remote customer record.
type Customer struct {
	ExternalID string
	Email      string
}

// InitializeParams starts a hosted checkout for a plan purchase.
type InitializeParams struct {
	UserID      uint
	CustomerID  string
	Plan        models.SubscriptionPlan
	PlanRef     string
	Amount      models.Money
	Reference   string
	Email       string
	CallbackURL string
	CouponCode  string
}

// PaymentParams creates a direct (non-hosted) charge.
type PaymentParams struct {
	CustomerID string
	Amount     models.Money
	Reference  string
	Email      string
}

// SubscriptionParams creates a remote recurring subscription.
type SubscriptionParams struct {
	CustomerID string
	PlanRef    string
}

// CustomerParams identifies or creates a remote customer.
type CustomerParams struct {
	UserID uint
	Email  string
	Name   string
}

// Adapter is the uniform verb set over heterogeneous payment providers. A
// variant that does not support a verb returns a NotImplemented error rather
// than panicking, so the orchestrator can route elsewhere or surface a clear
// failure. VerifyPayment must be idempotent and side-effect-free.
type Adapter interface {
	Name() string
	InitializeSubscriptionPayment(ctx context.Context, in InitializeParams) (*CheckoutSession, error)
	CreatePayment(ctx context.Context, in PaymentParams) (*Payment, error)
	GetPayment(ctx context.Context, externalID string) (*Payment, error)
	RefundPayment(ctx context.Context, externalID string, amount models.Money) (*Payment, error)
	CreateSubscription(ctx context.Context, in SubscriptionParams) (*Subscription, error)
	GetSubscription(ctx context.Context, externalID string) (*Subscription, error)
	CancelSubscription(ctx context.Context, externalID string) error
	ChangePlan(ctx context.Context, externalID, planRef string) (*Subscription, error)
	GetOrCreateCustomer(ctx context.Context, in CustomerParams) (*Customer, error)
	VerifyPayment(ctx context.Context, reference string) (*Payment, error)
	EnsurePlanExists(ctx context.Context, plan models.SubscriptionPlan) (string, error)
}

// ErrorKind classifies adapter failures so callers can branch on them.
type ErrorKind int

const (
	// KindNotImplemented marks a verb the provider variant does not support.
	KindNotImplemented ErrorKind = iota
	// KindTransient marks retryable failures (timeouts, 5xx).
	KindTransient
	// KindRejected marks permanent failures (declined, invalid request).
	KindRejected
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotImplemented:
		return "not_implemented"
	case KindTransient:
		return "transient"
	default:
		return "rejected"
	}
}

// Error is a typed adapter failure carrying the provider, verb and kind.
type Error struct {
	Provider string
	Op       string
	Kind     ErrorKind
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s (%s): %v", e.Provider, e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s (%s)", e.Provider, e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NotImplemented builds the standard unsupported-verb failure.
func NotImplemented(provider, op string) *Error {
	return &Error{Provider: provider, Op: op, Kind: KindNotImplemented}
}

// Transient wraps a retryable failure.
func Transient(provider, op string, err error) *Error {
	return &Error{Provider: provider, Op: op, Kind: KindTransient, Err: err}
}

// Rejected wraps a permanent failure.
func Rejected(provider, op string, err error) *Error {
	return &Error{Provider: provider, Op: op, Kind: KindRejected, Err: err}
}

// IsNotImplemented reports whether err is an unsupported-verb failure.
func IsNotImplemented(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == KindNotImplemented
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == KindTransient
}

// ErrUnknownProvider is returned by the registry for unregistered names.
var ErrUnknownProvider = errors.New("unknown payment provider")

// Registry dispatches to adapter variants by provider name. Adding a provider
// means registering one more adapter; callers never switch on the name.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return a, nil
}

// Names lists the registered providers in no particular order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}

// unimplemented provides NotImplemented defaults for every verb so partial
// adapters only override what their provider supports.
type unimplemented struct {
	provider string
}

func (u unimplemented) InitializeSubscriptionPayment(context.Context, InitializeParams) (*CheckoutSession, error) {
	return nil, NotImplemented(u.provider, "InitializeSubscriptionPayment")
}

func (u unimplemented) CreatePayment(context.Context, PaymentParams) (*Payment, error) {
	return nil, NotImplemented(u.provider, "CreatePayment")
}

func (u unimplemented) GetPayment(context.Context, string) (*Payment, error) {
	return nil, NotImplemented(u.provider, "GetPayment")
}

func (u unimplemented) RefundPayment(context.Context, string, models.Money) (*Payment, error) {
	return nil, NotImplemented(u.provider, "RefundPayment")
}

func (u unimplemented) CreateSubscription(context.Context, SubscriptionParams) (*Subscription, error) {
	return nil, NotImplemented(u.provider, "CreateSubscription")
}

func (u unimplemented) GetSubscription(context.Context, string) (*Subscription, error) {
	return nil, NotImplemented(u.provider, "GetSubscription")
}

func (u unimplemented) CancelSubscription(context.Context, string) error {
	return NotImplemented(u.provider, "CancelSubscription")
}

func (u unimplemented) ChangePlan(context.Context, string, string) (*Subscription, error) {
	return nil, NotImplemented(u.provider, "ChangePlan")
}

func (u unimplemented) GetOrCreateCustomer(context.Context, CustomerParams) (*Customer, error) {
	return nil, NotImplemented(u.provider, "GetOrCreateCustomer")
}

func (u unimplemented) VerifyPayment(context.Context, string) (*Payment, error) {
	return nil, NotImplemented(u.provider, "VerifyPayment")
}

func (u unimplemented) EnsurePlanExists(context.Context, models.SubscriptionPlan) (string, error) {
	return "", NotImplemented(u.provider, "EnsurePlanExists")
}
