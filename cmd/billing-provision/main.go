// Команда billing-provision создаёт у платёжного провайдера купоны и
// промокоды из секции billing конфига. Повторный запуск безопасен.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/magabrotheeeer/video-subscription/internal/app/provision"
	"github.com/magabrotheeeer/video-subscription/internal/config"
	"github.com/magabrotheeeer/video-subscription/internal/lib/sl"
	"github.com/magabrotheeeer/video-subscription/internal/paymentprovider"
	"github.com/magabrotheeeer/video-subscription/internal/services/billing"
)

func main() {
	cfg := config.MustLoad()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prices, err := cfg.TierPrices()
	if err != nil {
		logger.Error("invalid billing prices", sl.Err(err))
		os.Exit(1)
	}

	processor := paymentprovider.NewClient(cfg.ProcessorURL, cfg.ProcessorSecretKey, cfg.ProcessorTimeout)
	svc := billing.New(logger, processor, nil, nil, nil, billing.Config{Prices: prices})

	logger.Info("provisioning billing objects",
		slog.Int("coupons", len(cfg.Coupons)),
		slog.Int("promotion_codes", len(cfg.PromotionCodes)),
	)
	if err := provision.Run(ctx, logger, svc, cfg.Coupons, cfg.PromotionCodes); err != nil {
		logger.Error("provisioning finished with errors", sl.Err(err))
		os.Exit(1)
	}
	logger.Info("provisioning complete")
}
