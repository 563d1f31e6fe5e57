package models

import "time"

// Canonical webhook event types. Provider-native event names are mapped to
// these by the normalizer; anything unrecognized becomes EventUnknown and is
// acknowledged without action.
const (
	EventPaymentSucceeded      = "payment_succeeded"
	EventPaymentFailed         = "payment_failed"
	EventSubscriptionCreated   = "subscription_created"
	EventInvoicePaid           = "invoice_paid"
	EventInvoicePaymentFailed  = "invoice_payment_failed"
	EventSubscriptionCancelled = "subscription_cancelled"
	EventSubscriptionPaused    = "subscription_paused"
	EventSubscriptionResumed   = "subscription_resumed"
	EventRefundSucceeded       = "refund_succeeded"
	EventUnknown               = "unknown"
)

// WebhookEvent stores every provider delivery with deduplication metadata.
// (provider, external_event_id) is the dedup key; an event row with a nil
// ProcessedAt is safe to reprocess after a crash or timeout.
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"type:varchar(20);not null;index:ux_webhook_events_provider_event,unique,priority:1" json:"provider"`
	ExternalEventID string     `gorm:"type:varchar(191);not null;default:'';index:ux_webhook_events_provider_event,unique,priority:2" json:"external_event_id"`
	EventType       string     `gorm:"type:varchar(64);not null;index" json:"event_type"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"payload_json"`
	SignatureValid  bool       `gorm:"default:false" json:"signature_valid"`
	ReceivedAt      time.Time  `gorm:"type:timestamp(6);not null" json:"received_at"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
