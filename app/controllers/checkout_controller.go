package controllers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/abeldemoz/birrledger/app/repository"
	"github.com/abeldemoz/birrledger/internal/pkg/env"
	"github.com/abeldemoz/birrledger/internal/pkg/provider"
	"github.com/abeldemoz/birrledger/internal/pkg/receipt"
)

var (
	registryOnce    sync.Once
	adapterRegistry *provider.Registry
)

func getAdapterRegistry() *provider.Registry {
	registryOnce.Do(func() {
		adapterRegistry = provider.NewRegistry(
			provider.NewStripeAdapterFromEnv(),
			provider.NewPaystackAdapterFromEnv(),
			provider.NewChapaAdapterFromEnv(),
			provider.NewFlutterwaveAdapterFromEnv(),
			provider.NewPayPalAdapterFromEnv(),
		)
	})
	return adapterRegistry
}

type checkoutRequest struct {
	UserID     uint   `json:"user_id" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	PlanID     uint   `json:"plan_id" validate:"required"`
	Provider   string `json:"provider" validate:"required"`
	CouponCode string `json:"coupon_code"`
}

// HandleCheckout starts a hosted subscription checkout with the chosen
// provider and returns the redirect URL. A coupon, if given, is validated up
// front and carried in the checkout metadata; the discount becomes durable
// when the provider's payment webhook arrives.
func HandleCheckout(c *fiber.Ctx) error {
	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}

	adapter, err := getAdapterRegistry().Get(req.Provider)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown_provider", "message": "Unknown payment provider"})
	}

	repos := repository.GetGlobalRepositories()
	plan, err := repos.Plan.GetByID(req.PlanID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Plan not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load plan"})
	}
	if !plan.IsActive || plan.PriceAmount.IsZero() {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "invalid_plan", "message": "Plan is not purchasable"})
	}

	amount := plan.Price()
	if req.CouponCode != "" {
		res, err := newCouponService().Validate(req.CouponCode, req.UserID, amount)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Coupon validation failed"})
		}
		if !res.OK {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": res.Reason, "message": "Coupon is not applicable"})
		}
		amount = *res.FinalAmount
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	customerID, err := resolveProviderCustomer(ctx, repos.Customer, adapter, req.UserID, req.Email)
	if err != nil {
		var pe *provider.Error
		if errors.As(err, &pe) {
			return providerErrorResponse(c, err, "Customer setup failed")
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Customer setup failed"})
	}

	planRef, err := provider.NewPlanResolver(repos.Plan).Ensure(ctx, adapter, *plan)
	if err != nil && !provider.IsNotImplemented(err) {
		return providerErrorResponse(c, err, "Plan setup failed")
	}

	session, err := adapter.InitializeSubscriptionPayment(ctx, provider.InitializeParams{
		UserID:      req.UserID,
		CustomerID:  customerID,
		Plan:        *plan,
		PlanRef:     planRef,
		Amount:      amount,
		Reference:   "chk_" + uuid.NewString(),
		Email:       req.Email,
		CallbackURL: env.GetEnv("CHECKOUT_CALLBACK_URL", ""),
		CouponCode:  req.CouponCode,
	})
	if err != nil {
		return providerErrorResponse(c, err, "Checkout initialization failed")
	}

	return c.JSON(fiber.Map{
		"provider":     req.Provider,
		"reference":    session.Reference,
		"external_id":  session.ExternalID,
		"redirect_url": session.RedirectURL,
	})
}

// resolveProviderCustomer returns the provider-side customer ID for a user,
// creating one remotely only when no stored reference exists. Repeat
// checkouts for the same (provider, user) reuse the stored reference instead
// of minting another remote customer. Providers without customer objects
// yield an empty ID.
func resolveProviderCustomer(ctx context.Context, customers repository.CustomerRepository, adapter provider.Adapter, userID uint, email string) (string, error) {
	id, err := customers.GetProviderCustomerRef(adapter.Name(), userID)
	if err != nil || id != "" {
		return id, err
	}

	customer, err := adapter.GetOrCreateCustomer(ctx, provider.CustomerParams{
		UserID: userID,
		Email:  email,
	})
	if provider.IsNotImplemented(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if err := customers.SaveProviderCustomerRef(adapter.Name(), userID, customer.ExternalID); err != nil {
		return "", err
	}
	return customer.ExternalID, nil
}

// HandleCheckoutReturn is the landing point after a hosted checkout. Some
// providers redirect the customer back before their webhook arrives, so the
// payment is verified directly and, when settled, the receipt is issued here.
// The webhook pipeline issuing the same receipt later is a no-op.
func HandleCheckoutReturn(c *fiber.Ctx) error {
	providerName := c.Query("provider")
	reference := c.Query("reference")
	if providerName == "" || reference == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "provider and reference are required"})
	}

	adapter, err := getAdapterRegistry().Get(providerName)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown_provider", "message": "Unknown payment provider"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	payment, err := adapter.VerifyPayment(ctx, reference)
	if err != nil {
		return providerErrorResponse(c, err, "Payment verification failed")
	}

	resp := fiber.Map{
		"provider":  payment.Provider,
		"reference": reference,
		"status":    payment.Status,
	}
	userID := c.QueryInt("user_id")
	if payment.Status == provider.PaymentStatusSucceeded && userID > 0 && payment.ExternalID != "" {
		paidAt := time.Now().UTC()
		if payment.PaidAt != nil {
			paidAt = *payment.PaidAt
		}
		repos := repository.GetGlobalRepositories()
		svc := receipt.NewService(repos.Receipt, nil)
		rc, created, err := svc.Issue(receipt.IssueParams{
			UserID:            uint(userID),
			Provider:          payment.Provider,
			ExternalPaymentID: payment.ExternalID,
			Amount:            payment.Amount,
			PaidAt:            paidAt,
		})
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Receipt issuance failed"})
		}
		if created {
			svc.Announce(rc)
		}
		resp["receipt_number"] = rc.ReceiptNumber
	}
	return c.JSON(resp)
}

// providerErrorResponse maps the adapter error taxonomy onto HTTP statuses:
// unsupported verbs are 501, provider rejections 422, transient outages 502.
func providerErrorResponse(c *fiber.Ctx, err error, message string) error {
	switch {
	case provider.IsNotImplemented(err):
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{"error": "not_supported", "message": message + ": not supported by this provider"})
	case provider.IsTransient(err):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider_unavailable", "message": message + ": provider unavailable, try again"})
	default:
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "provider_rejected", "message": message})
	}
}
