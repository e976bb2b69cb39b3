package collector

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/qa-infra/burner/pkg/models/domain"
	"github.com/qa-infra/burner/pkg/services/pricing"
	"github.com/qa-infra/burner/pkg/store/elastic/spend"
)

// AttributionLister is the inventory contract the collector consumes.
type AttributionLister interface {
	ListAttributedResources(ctx context.Context) ([]domain.Attribution, error)
}

// Collector runs one attribution pass: inventory snapshot, snapshot pricing,
// one store upsert per user with the run's delta.
type Collector struct {
	inventory AttributionLister
	prices    *pricing.Table
	store     spend.Store
}

func New(inventory AttributionLister, prices *pricing.Table, store spend.Store) *Collector {
	return &Collector{inventory: inventory, prices: prices, store: store}
}

func (c *Collector) Run(ctx context.Context) error {
	logger := zerolog.Ctx(ctx)

	attributions, err := c.inventory.ListAttributedResources(ctx)
	if err != nil {
		return fmt.Errorf("list attributed resources: %w", err)
	}

	charges, err := c.Charge(attributions)
	if err != nil {
		return err
	}

	for _, charge := range charges {
		if err := c.store.AddSpend(ctx, charge.User, charge.Total()); err != nil {
			return fmt.Errorf("store spend for %s: %w", charge.User, err)
		}
		logger.Info().
			Str("user", charge.User).
			Float64("ec2", charge.ComputeSpent).
			Float64("ebs", charge.StorageSpent).
			Msg("spend recorded")
	}
	return nil
}

// Charge prices the snapshot and folds it into one charge per user. Multiple
// stacks owned by one user sum within the run. An instance type missing from
// the pricing table fails the whole run: silently pricing it as zero would
// understate a week of spend.
func (c *Collector) Charge(attributions []domain.Attribution) ([]domain.UserCharge, error) {
	byUser := make(map[string]*domain.UserCharge)

	for _, attr := range attributions {
		compute, err := c.prices.InstancePrice(attr.InstanceType)
		if err != nil {
			return nil, fmt.Errorf("stack %s: %w", attr.Stack, err)
		}

		var storage float64
		if attr.InstanceType != domain.InstanceTypeNotCountable || c.prices.PriceStoppedVolumes() {
			for volumeType, sizeGB := range attr.Volumes {
				amount, err := c.prices.StorageCharge(volumeType, sizeGB)
				if err != nil {
					return nil, fmt.Errorf("stack %s: %w", attr.Stack, err)
				}
				storage += amount
			}
		}

		charge, ok := byUser[attr.User]
		if !ok {
			charge = &domain.UserCharge{User: attr.User}
			byUser[attr.User] = charge
		}
		charge.ComputeSpent += compute
		charge.StorageSpent += storage
	}

	charges := make([]domain.UserCharge, 0, len(byUser))
	for _, charge := range byUser {
		charges = append(charges, *charge)
	}
	sort.Slice(charges, func(i, j int) bool { return charges[i].User < charges[j].User })
	return charges, nil
}
