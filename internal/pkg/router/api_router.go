package router

import (
	"github.com/abeldemoz/birrledger/app/controllers"
	"github.com/abeldemoz/birrledger/internal/pkg/constants"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	// Webhook deliveries burst on provider retries; keep headroom.
	api := app.Group(constants.APIRoute, limiter.New(limiter.Config{Max: 300}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group(constants.V1Route)

	v1.Post(constants.WebhooksRoute, controllers.HandleProviderWebhook)

	v1.Post(constants.CouponValidateRoute, controllers.HandleValidateCoupon)
	v1.Post(constants.CouponRedeemRoute, controllers.HandleRedeemCoupon)

	v1.Get(constants.SubscriptionsRoute, controllers.HandleGetSubscriptionStatus)

	v1.Post(constants.ReceiptsRoute, controllers.HandleIssueReceipt)
	v1.Get(constants.UserReceiptsRoute, controllers.HandleListReceipts)

	v1.Get(constants.PlansRoute, controllers.HandleListPlans)
	v1.Post(constants.CheckoutRoute, controllers.HandleCheckout)
	v1.Get(constants.CheckoutReturnRoute, controllers.HandleCheckoutReturn)

	v1.Get(constants.WebhookStatsRoute, controllers.HandleWebhookStats)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
