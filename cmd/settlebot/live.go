package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/settlebot/config"
	"github.com/alejandrodnm/settlebot/internal/adapters/onchain"
	"github.com/alejandrodnm/settlebot/internal/adapters/polymarket"
)

// abortWindow da tiempo a Ctrl+C antes de operar con dinero real.
const abortWindow = 5 * time.Second

// setupLive autentica contra el CLOB y verifica la wallet antes del primer ciclo.
func setupLive(ctx context.Context, cfg *config.Config, client *polymarket.Client, chain *ethclient.Client) (*polymarket.TradingClient, error) {
	orderSize := decimal.NewFromFloat(cfg.Execution.OrderSizeUSDC)

	slog.Info("=== LIVE TRADING MODE (REAL MONEY) ===",
		"order_size", orderSize.StringFixed(2),
		"market_cap", cfg.Risk.MarketExposureCapUSDC,
		"aggregate_cap", cfg.Risk.ExposureCapUSDC,
	)
	fmt.Printf("\n⚠️  LIVE TRADING MODE: REAL MONEY WILL BE SPENT\n")
	fmt.Printf("   Order size: $%s | Press Ctrl+C within %s to abort...\n\n", orderSize.StringFixed(2), abortWindow)

	abortTimer := time.NewTimer(abortWindow)
	defer abortTimer.Stop()
	select {
	case <-abortTimer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	auth, err := polymarket.NewAuthClient(client, cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	if err := auth.EnsureCreds(ctx); err != nil {
		return nil, fmt.Errorf("derive API credentials (check POLY_PRIVATE_KEY): %w", err)
	}
	slog.Info("live: authenticated with Polymarket CLOB", "address", auth.Address())

	wallet := onchain.NewWallet(chain, auth.Address())
	balance, err := wallet.Balance(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("live: wallet balance", "usdc", "$"+balance.StringFixed(2))
	if balance.LessThan(orderSize) {
		return nil, fmt.Errorf("insufficient USDC.e balance: $%s < order size $%s",
			balance.StringFixed(2), orderSize.StringFixed(2))
	}

	for _, negRisk := range []bool{false, true} {
		allowance, err := wallet.Allowance(ctx, negRisk)
		if err != nil {
			return nil, err
		}
		if allowance.LessThan(orderSize) {
			// las órdenes de ese exchange fallarán hasta aprobar USDC.e
			slog.Warn("live: low USDC.e allowance",
				"neg_risk", negRisk,
				"allowance", "$"+allowance.StringFixed(2),
			)
		}
	}

	return polymarket.NewTradingClient(auth), nil
}
