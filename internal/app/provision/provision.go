// Package provision приводит купоны и промокоды у платёжного провайдера
// к описанию из конфига.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/video-subscription/internal/config"
	"github.com/magabrotheeeer/video-subscription/internal/lib/sl"
	"github.com/magabrotheeeer/video-subscription/internal/models"
	"github.com/magabrotheeeer/video-subscription/internal/paymentprovider"
)

// Provisioner выполняет идемпотентное создание купонов и промокодов.
type Provisioner interface {
	EnsureCoupon(ctx context.Context, def models.CouponDefinition) (*paymentprovider.Coupon, error)
	EnsurePromotionCode(ctx context.Context, code, couponID string) (*paymentprovider.PromotionCode, error)
}

// Run создаёт все купоны, затем все промокоды. Ошибка одного определения
// не останавливает остальные, Run возвращает их вместе.
func Run(ctx context.Context, log *slog.Logger, p Provisioner, coupons []models.CouponDefinition, promos []config.PromotionCode) error {
	const op = "app.provision.Run"

	var errs []error
	failed := make(map[string]bool)
	for _, def := range coupons {
		c, err := p.EnsureCoupon(ctx, def)
		if err != nil {
			log.Error("coupon not provisioned", slog.String("coupon_id", def.ID), sl.Err(err))
			failed[def.ID] = true
			errs = append(errs, fmt.Errorf("coupon %s: %w", def.ID, err))
			continue
		}
		log.Info("coupon ready", slog.String("coupon_id", c.ID), slog.Float64("percent_off", c.PercentOff))
	}

	for _, promo := range promos {
		if failed[promo.CouponID] {
			log.Warn("promotion code skipped, coupon failed", slog.String("code", promo.Code))
			continue
		}
		pc, err := p.EnsurePromotionCode(ctx, promo.Code, promo.CouponID)
		if err != nil {
			log.Error("promotion code not provisioned", slog.String("code", promo.Code), sl.Err(err))
			errs = append(errs, fmt.Errorf("promotion code %s: %w", promo.Code, err))
			continue
		}
		log.Info("promotion code ready",
			slog.String("code", pc.Code),
			slog.String("id", pc.ID),
			slog.Bool("active", pc.Active),
		)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
