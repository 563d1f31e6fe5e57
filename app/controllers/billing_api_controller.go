package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/abeldemoz/birrledger/app/models"
	"github.com/abeldemoz/birrledger/app/repository"
	"github.com/abeldemoz/birrledger/internal/pkg/coupon"
	"github.com/abeldemoz/birrledger/internal/pkg/database"
	"github.com/abeldemoz/birrledger/internal/pkg/metrics/counter"
	"github.com/abeldemoz/birrledger/internal/pkg/notification"
	"github.com/abeldemoz/birrledger/internal/pkg/provider"
	"github.com/abeldemoz/birrledger/internal/pkg/receipt"
	"github.com/abeldemoz/birrledger/internal/pkg/subscription"
	"github.com/abeldemoz/birrledger/internal/pkg/webhook"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

func newCouponService() *coupon.Service {
	repos := repository.GetGlobalRepositories()
	return coupon.NewService(database.GetDB(), repos.Coupon, repos.Customer)
}

func newWebhookProcessor() *webhook.Processor {
	db := database.GetDB()
	repos := repository.GetGlobalRepositories()
	notifier := notification.NewMailNotifier(repos.Customer)
	return webhook.NewProcessor(
		db,
		repos,
		webhook.NewVerifierFromEnv(),
		coupon.NewService(db, repos.Coupon, repos.Customer),
		subscription.NewService(repos.Subscription),
		receipt.NewService(repos.Receipt, notifier),
		notifier,
	)
}

type validateCouponRequest struct {
	Code     string `json:"code" validate:"required"`
	UserID   uint   `json:"user_id" validate:"required"`
	Amount   string `json:"amount" validate:"required"`
	Currency string `json:"currency" validate:"required,len=3"`
}

// HandleValidateCoupon answers whether a coupon would apply to a purchase,
// without consuming anything.
func HandleValidateCoupon(c *fiber.Ctx) error {
	var req validateCouponRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}
	purchase, err := models.MoneyFromString(req.Amount, req.Currency)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid amount"})
	}

	res, err := newCouponService().Validate(req.Code, req.UserID, purchase)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Coupon validation failed"})
	}
	if !res.OK {
		return c.JSON(fiber.Map{"valid": false, "reason": res.Reason})
	}
	return c.JSON(fiber.Map{
		"valid":           true,
		"discount_amount": res.DiscountAmount.Amount,
		"final_amount":    res.FinalAmount.Amount,
		"currency":        res.FinalAmount.Currency,
	})
}

type redeemCouponRequest struct {
	Code             string `json:"code" validate:"required"`
	UserID           uint   `json:"user_id" validate:"required"`
	Amount           string `json:"amount" validate:"required"`
	Currency         string `json:"currency" validate:"required,len=3"`
	PaymentReference string `json:"payment_reference" validate:"required"`
}

// HandleRedeemCoupon consumes one coupon usage for a payment. Replays with
// the same payment reference return the original redemption.
func HandleRedeemCoupon(c *fiber.Ctx) error {
	var req redeemCouponRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}
	purchase, err := models.MoneyFromString(req.Amount, req.Currency)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid amount"})
	}

	usage, err := newCouponService().Redeem(req.Code, req.UserID, purchase, req.PaymentReference)
	if err != nil {
		var re *coupon.RedeemError
		if errors.As(err, &re) {
			status := fiber.StatusUnprocessableEntity
			if re.Reason == coupon.ReasonConflict {
				status = fiber.StatusConflict
			}
			return c.Status(status).JSON(fiber.Map{"error": re.Reason, "message": "Coupon could not be redeemed"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Coupon redemption failed"})
	}
	return c.JSON(fiber.Map{
		"coupon_id":         usage.CouponID,
		"user_id":           usage.UserID,
		"payment_reference": usage.PaymentReference,
		"original_amount":   usage.OriginalAmount,
		"discount_amount":   usage.DiscountAmount,
		"final_amount":      usage.FinalAmount,
		"currency":          usage.Currency,
		"used_at":           usage.UsedAt.UTC().Format(time.RFC3339),
	})
}

// HandleProviderWebhook ingests one delivery from a payment provider. The
// response contract follows provider retry semantics: 200 acknowledges
// (including duplicates), 401 rejects a bad signature, 5xx asks for
// redelivery.
func HandleProviderWebhook(c *fiber.Ctx) error {
	providerName := c.Params("provider")
	headers := map[string]string{
		"stripe-signature":        c.Get("Stripe-Signature"),
		"x-paystack-signature":    c.Get("X-Paystack-Signature"),
		"chapa-signature":         c.Get("Chapa-Signature"),
		"verif-hash":              c.Get("Verif-Hash"),
		"paypal-transmission-sig": c.Get("Paypal-Transmission-Sig"),
	}

	err := newWebhookProcessor().Process(providerName, c.Body(), headers)
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidSignature) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature", "message": "Webhook signature verification failed"})
		}
		if errors.Is(err, provider.ErrUnknownProvider) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown_provider", "message": "Unknown payment provider"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Event processing failed, please redeliver"})
	}
	return c.JSON(fiber.Map{"received": true})
}

// HandleGetSubscriptionStatus reports the current subscription state for a
// user. Users who never subscribed report the status "none".
func HandleGetSubscriptionStatus(c *fiber.Ctx) error {
	userID, err := c.ParamsInt("userID")
	if err != nil || userID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid user ID"})
	}

	repos := repository.GetGlobalRepositories()
	sub, err := repos.Subscription.GetByUserID(uint(userID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(fiber.Map{"user_id": userID, "status": "none"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load subscription"})
	}

	resp := fiber.Map{
		"user_id":  sub.UserID,
		"plan_id":  sub.PlanID,
		"provider": sub.Provider,
		"status":   sub.Status,
	}
	if sub.CurrentPeriodEnd != nil {
		resp["current_period_end"] = sub.CurrentPeriodEnd.UTC().Format(time.RFC3339)
	}
	return c.JSON(resp)
}

type issueReceiptRequest struct {
	UserID            uint   `json:"user_id" validate:"required"`
	Provider          string `json:"provider" validate:"required"`
	ExternalPaymentID string `json:"external_payment_id" validate:"required"`
	Amount            string `json:"amount" validate:"required"`
	Currency          string `json:"currency" validate:"required,len=3"`
	PaidAt            string `json:"paid_at"`
}

// HandleIssueReceipt issues (or re-returns) the receipt for a settled
// payment. Safe to call any number of times per payment.
func HandleIssueReceipt(c *fiber.Ctx) error {
	var req issueReceiptRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}
	if err := validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}
	if !models.IsKnownProvider(req.Provider) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown_provider", "message": "Unknown payment provider"})
	}
	amount, err := models.MoneyFromString(req.Amount, req.Currency)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid amount"})
	}
	var paidAt time.Time
	if req.PaidAt != "" {
		paidAt, err = time.Parse(time.RFC3339, req.PaidAt)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid paid_at timestamp"})
		}
	}

	repos := repository.GetGlobalRepositories()
	svc := receipt.NewService(repos.Receipt, nil)
	rc, created, err := svc.Issue(receipt.IssueParams{
		UserID:            req.UserID,
		Provider:          req.Provider,
		ExternalPaymentID: req.ExternalPaymentID,
		Amount:            amount,
		PaidAt:            paidAt,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Receipt issuance failed"})
	}
	if created {
		svc.Announce(rc)
	}
	return c.JSON(receiptJSON(rc))
}

// HandleListReceipts returns every receipt issued to a user.
func HandleListReceipts(c *fiber.Ctx) error {
	userID, err := c.ParamsInt("userID")
	if err != nil || userID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid user ID"})
	}

	repos := repository.GetGlobalRepositories()
	receipts, err := repos.Receipt.ListByUser(uint(userID))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load receipts"})
	}

	out := make([]fiber.Map, 0, len(receipts))
	for i := range receipts {
		out = append(out, receiptJSON(&receipts[i]))
	}
	return c.JSON(fiber.Map{"receipts": out})
}

// HandleListPlans returns the active plan catalog.
func HandleListPlans(c *fiber.Ctx) error {
	repos := repository.GetGlobalRepositories()
	plans, err := repos.Plan.ListActive()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load plans"})
	}

	out := make([]fiber.Map, 0, len(plans))
	for _, p := range plans {
		out = append(out, fiber.Map{
			"id":                    p.ID,
			"name":                  p.Name,
			"price_amount":          p.PriceAmount,
			"price_currency":        p.PriceCurrency,
			"interval_unit":         p.IntervalUnit,
			"interval_value":        p.IntervalValue,
			"document_upload_limit": p.DocumentUploadLimit,
			"ocr_page_limit":        p.OCRPageLimit,
		})
	}
	return c.JSON(fiber.Map{"plans": out})
}

// HandleWebhookStats exposes the Redis-backed delivery counters for
// operational dashboards.
func HandleWebhookStats(c *fiber.Ctx) error {
	stats, err := counter.Snapshot()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to read counters"})
	}
	return c.JSON(stats)
}

func receiptJSON(rc *models.Receipt) fiber.Map {
	return fiber.Map{
		"receipt_number":      rc.ReceiptNumber,
		"user_id":             rc.UserID,
		"provider":            rc.Provider,
		"external_payment_id": rc.ExternalPaymentID,
		"amount":              rc.Amount,
		"currency":            rc.Currency,
		"paid_at":             rc.PaidAt.UTC().Format(time.RFC3339),
	}
}
