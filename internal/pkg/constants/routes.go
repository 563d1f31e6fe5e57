package constants

// Static route constants
const (
	APIRoute = "/api"
	V1Route  = "/v1"

	WebhooksRoute       = "/webhooks/:provider"
	CouponValidateRoute = "/coupons/validate"
	CouponRedeemRoute   = "/coupons/redeem"
	SubscriptionsRoute  = "/subscriptions/:userID"
	ReceiptsRoute       = "/receipts"
	UserReceiptsRoute   = "/users/:userID/receipts"
	PlansRoute          = "/plans"
	CheckoutRoute       = "/checkout"
	CheckoutReturnRoute = "/checkout/return"
	WebhookStatsRoute   = "/stats/webhooks"
)
