// Package subscription implements CRUD over daily-summary
// subscriptions and formats the three summary variants.
package subscription

import (
	"context"
	"fmt"
	"strings"

	"github.com/meshcommons/meshwatchd/internal/stats"
	"github.com/meshcommons/meshwatchd/internal/store"
)

// Store is the subset of *store.DB the service needs.
type Store interface {
	Subscribe(ctx context.Context, nodeID uint32, variant store.SubscriptionVariant) error
	Unsubscribe(ctx context.Context, nodeID uint32) error
	GetSubscription(ctx context.Context, nodeID uint32) (*store.Subscription, error)
	ListSubscriptions(ctx context.Context, variant store.SubscriptionVariant) ([]store.Subscription, error)
}

// Service implements subscription CRUD and summary formatting.
type Service struct {
	store Store
}

// New constructs a Service.
func New(st Store) *Service {
	return &Service{store: st}
}

// ParseVariant validates a user-supplied variant string.
func ParseVariant(s string) (store.SubscriptionVariant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return store.VariantLow, nil
	case "avg":
		return store.VariantAvg, nil
	case "high":
		return store.VariantHigh, nil
	default:
		return "", fmt.Errorf("subscription: unknown variant %q", s)
	}
}

// Subscribe upserts a node's active subscription: subscribing twice
// replaces the variant rather than duplicating the row.
func (s *Service) Subscribe(ctx context.Context, nodeID uint32, variant store.SubscriptionVariant) error {
	return s.store.Subscribe(ctx, nodeID, variant)
}

// Unsubscribe marks a node inactive.
func (s *Service) Unsubscribe(ctx context.Context, nodeID uint32) error {
	return s.store.Unsubscribe(ctx, nodeID)
}

// Get returns a node's subscription, if any.
func (s *Service) Get(ctx context.Context, nodeID uint32) (*store.Subscription, error) {
	return s.store.GetSubscription(ctx, nodeID)
}

// List returns active subscriptions, optionally filtered by variant.
func (s *Service) List(ctx context.Context, variant store.SubscriptionVariant) ([]store.Subscription, error) {
	return s.store.ListSubscriptions(ctx, variant)
}

// Format renders the fixed daily-summary template for a variant over
// a computed DayStat.
func Format(variant store.SubscriptionVariant, day *stats.WindowStats) string {
	switch variant {
	case store.VariantLow:
		return fmt.Sprintf(
			"Mesh summary: %d messages today, min %d gateways/msg.",
			day.Count, day.MinGateways,
		)
	case store.VariantHigh:
		p99 := "n/a"
		if day.P99 != nil {
			p99 = fmt.Sprintf("%.1f", *day.P99)
		}
		return fmt.Sprintf(
			"Mesh summary: %d messages, avg %.1f gateways/msg, max %d, p99 %s.",
			day.Count, day.AvgGateways, day.MaxGateways, p99,
		)
	default: // avg
		p50 := "n/a"
		if day.P50 != nil {
			p50 = fmt.Sprintf("%.1f", *day.P50)
		}
		return fmt.Sprintf(
			"Mesh summary: %d messages today, avg %.1f gateways/msg (p50 %s).",
			day.Count, day.AvgGateways, p50,
		)
	}
}
