package main

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/quartershq/quarters/internal/billing"
	"github.com/quartershq/quarters/internal/config"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Mirror plans and prices into Stripe and configure the customer portal",
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

// seedPlan describes one purchasable plan, amounts in minor units per
// interval and currency.
type seedPlan struct {
	key         string
	name        string
	description string
	amounts     map[string]map[string]int64
}

var seedPlans = []seedPlan{
	{
		key:         billing.PlanStandard,
		name:        "Standard",
		description: "For small teams getting started.",
		amounts: map[string]map[string]int64{
			billing.IntervalMonth: {billing.CurrencyUSD: 599, billing.CurrencyEUR: 599},
			billing.IntervalYear:  {billing.CurrencyUSD: 5990, billing.CurrencyEUR: 5990},
		},
	},
	{
		key:         billing.PlanPro,
		name:        "Pro",
		description: "For growing teams that need the full feature set.",
		amounts: map[string]map[string]int64{
			billing.IntervalMonth: {billing.CurrencyUSD: 1990, billing.CurrencyEUR: 1990},
			billing.IntervalYear:  {billing.CurrencyUSD: 19900, billing.CurrencyEUR: 19900},
		},
	},
	{
		key:         billing.PlanEnterprise,
		name:        "Enterprise",
		description: "For large organizations with advanced needs.",
		amounts: map[string]map[string]int64{
			billing.IntervalMonth: {billing.CurrencyUSD: 4990, billing.CurrencyEUR: 4990},
			billing.IntervalYear:  {billing.CurrencyUSD: 49900, billing.CurrencyEUR: 49900},
		},
	},
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := billing.NewStore()
	provider := billing.NewStripeProvider(cfg.Stripe.SecretKey)

	count, err := store.CountPlans(ctx, pool)
	if err != nil {
		return err
	}
	if count > 0 {
		slog.Info("plans already seeded, nothing to do", "count", count)
		return nil
	}
	if exists, err := provider.HasProducts(ctx); err != nil {
		return err
	} else if exists {
		slog.Info("stripe account already has products, skipping seed")
		return nil
	}

	var portalProducts []billing.PortalProduct

	for _, sp := range seedPlans {
		productID, err := provider.CreateProduct(ctx, sp.name, sp.description)
		if err != nil {
			return err
		}

		prices := billing.PriceTable{}
		var priceIDs []string
		for interval, byCurrency := range sp.amounts {
			prices[interval] = map[string]billing.Price{}
			for currency, amount := range byCurrency {
				priceID, err := provider.CreatePrice(ctx, productID, currency, interval, amount)
				if err != nil {
					return err
				}
				prices[interval][currency] = billing.Price{StripeID: priceID, Amount: amount}
				priceIDs = append(priceIDs, priceID)
			}
		}

		if _, err := store.CreatePlan(ctx, pool, &billing.Plan{
			Key:         sp.key,
			StripeID:    productID,
			Name:        sp.name,
			Description: sp.description,
			Prices:      prices,
		}); err != nil {
			return err
		}

		portalProducts = append(portalProducts, billing.PortalProduct{
			ProductID: productID,
			PriceIDs:  priceIDs,
		})
		slog.Info("seeded plan", "key", sp.key, "product_id", productID)
	}

	if err := provider.ConfigurePortal(ctx, "Manage your Quarters subscription", portalProducts); err != nil {
		return err
	}
	slog.Info("customer portal configured")
	return nil
}
