package razorpay

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/joao-fontenele/storefront-payments/internal/cache"
)

const remoteOrderKeyPrefix = "remote-order:"

// ReusingClient returns the remote order already minted for a receipt when
// the amount and currency match and it was minted within ttl, so checkout
// retries do not leave orphaned remote orders behind.
type ReusingClient struct {
	*Client
	cache  cache.Store
	ttl    time.Duration
	logger *slog.Logger
}

func NewReusingClient(client *Client, store cache.Store, ttl time.Duration, logger *slog.Logger) *ReusingClient {
	return &ReusingClient{Client: client, cache: store, ttl: ttl, logger: logger}
}

func (c *ReusingClient) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*Order, error) {
	key := remoteOrderKeyPrefix + receipt

	if receipt != "" && c.ttl > 0 {
		var cached Order
		found, err := c.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			c.logger.Warn("remote order cache unavailable", "error", err, "receipt", receipt)
		}
		if found && cached.Amount == amountMinor && strings.EqualFold(cached.Currency, currency) && cached.Status != "paid" {
			c.logger.Info("reusing remote order", "receipt", receipt, "remote_order_id", cached.ID)
			return &cached, nil
		}
	}

	order, err := c.Client.CreateOrder(ctx, amountMinor, currency, receipt)
	if err != nil {
		return nil, err
	}

	if receipt != "" && c.ttl > 0 {
		if err := c.cache.SetJSON(ctx, key, order, c.ttl); err != nil {
			c.logger.Warn("failed to cache remote order", "error", err, "receipt", receipt)
		}
	}
	return order, nil
}
