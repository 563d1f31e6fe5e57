package counter

import (
	"context"
	"strconv"
	"strings"

	"github.com/abeldemoz/birrledger/internal/pkg/cache"
)

const (
	webhookReceivedKey  = "webhooks:counters:received"
	webhookDuplicateKey = "webhooks:counters:duplicate"
	webhookFailedKey    = "webhooks:counters:failed"
	receiptIssuedKey    = "receipts:counters:issued"
)

func field(providerName, eventType string) string {
	return providerName + ":" + eventType
}

// AddWebhookReceived increments the processed-delivery counter for a
// provider and canonical event type.
func AddWebhookReceived(providerName, eventType string) error {
	return incr(webhookReceivedKey, field(providerName, eventType))
}

// AddWebhookDuplicate counts a delivery acknowledged as already seen.
func AddWebhookDuplicate(providerName string) error {
	return incr(webhookDuplicateKey, providerName)
}

// AddWebhookFailed counts a delivery left for provider redelivery.
func AddWebhookFailed(providerName string) error {
	return incr(webhookFailedKey, providerName)
}

// AddReceiptIssued counts a first-time receipt issuance per provider.
func AddReceiptIssued(providerName string) error {
	return incr(receiptIssuedKey, providerName)
}

func incr(key, field string) error {
	return cache.GetClient().HIncrBy(context.Background(), key, field, 1).Err()
}

// Stats is the point-in-time view of the webhook counters.
type Stats struct {
	Received   map[string]int64 `json:"received"`
	Duplicates map[string]int64 `json:"duplicates"`
	Failed     map[string]int64 `json:"failed"`
	Receipts   map[string]int64 `json:"receipts"`
}

// Snapshot reads all counters. Counters live in Redis only; they reset with
// the cache and are operational signals, not an audit log.
func Snapshot() (*Stats, error) {
	s := &Stats{
		Received:   map[string]int64{},
		Duplicates: map[string]int64{},
		Failed:     map[string]int64{},
		Receipts:   map[string]int64{},
	}
	for key, dst := range map[string]map[string]int64{
		webhookReceivedKey:  s.Received,
		webhookDuplicateKey: s.Duplicates,
		webhookFailedKey:    s.Failed,
		receiptIssuedKey:    s.Receipts,
	} {
		if err := readHash(key, dst); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func readHash(key string, dst map[string]int64) error {
	data, err := cache.GetClient().HGetAll(context.Background(), key).Result()
	if err != nil {
		if strings.Contains(err.Error(), "redis: nil") {
			return nil
		}
		return err
	}
	for f, v := range data {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			continue
		}
		dst[f] = n
	}
	return nil
}
