package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/magabrotheeeer/video-subscription/internal/lib/apperr"
	"github.com/magabrotheeeer/video-subscription/internal/models"
	"github.com/magabrotheeeer/video-subscription/internal/paymentprovider"
)

func validateCoupon(def models.CouponDefinition) error {
	const op = "services.billing.validateCoupon"
	switch {
	case def.ID == "":
		return apperr.New(apperr.Malformed, op, "coupon id is required")
	case def.PercentOff <= 0 || def.PercentOff > 100:
		return apperr.New(apperr.Malformed, op, "percent_off must be in (0, 100]")
	case def.Duration != models.DurationOnce && def.Duration != models.DurationRepeating:
		return apperr.New(apperr.Malformed, op, fmt.Sprintf("unsupported duration %q", def.Duration))
	case def.Duration == models.DurationRepeating && def.DurationInMonths <= 0:
		return apperr.New(apperr.Malformed, op, "repeating coupon needs duration_in_months")
	}
	return nil
}

func sortedProducts(products []string) []string {
	out := slices.Clone(products)
	slices.Sort(out)
	return slices.Compact(out)
}

// fingerprint однозначно описывает желаемое состояние купона.
func fingerprint(def models.CouponDefinition) string {
	months := int64(0)
	if def.Duration == models.DurationRepeating {
		months = def.DurationInMonths
	}
	return strings.Join([]string{
		def.ID,
		strconv.FormatFloat(def.PercentOff, 'f', -1, 64),
		string(def.Duration),
		strconv.FormatInt(months, 10),
		strings.Join(sortedProducts(def.Products), ","),
	}, "|")
}

// couponMatches сообщает, совпадает ли купон провайдера с описанием.
func couponMatches(c *paymentprovider.Coupon, def models.CouponDefinition) bool {
	if !c.Valid || c.PercentOff != def.PercentOff || c.Duration != string(def.Duration) {
		return false
	}
	if def.Duration == models.DurationRepeating && c.DurationInMonths != def.DurationInMonths {
		return false
	}
	return slices.Equal(sortedProducts(c.Products()), sortedProducts(def.Products))
}

// EnsureCoupon приводит купон у провайдера к описанию def: создаёт
// отсутствующий, а расходящийся или недействительный удаляет и создаёт
// заново. Параллельные вызовы с одинаковым описанием выполняются один раз.
func (s *Service) EnsureCoupon(ctx context.Context, def models.CouponDefinition) (*paymentprovider.Coupon, error) {
	if err := validateCoupon(def); err != nil {
		return nil, err
	}
	v, err, _ := s.group.Do("coupon|"+fingerprint(def), func() (any, error) {
		return s.ensureCoupon(ctx, def)
	})
	if err != nil {
		return nil, err
	}
	return v.(*paymentprovider.Coupon), nil
}

func (s *Service) ensureCoupon(ctx context.Context, def models.CouponDefinition) (*paymentprovider.Coupon, error) {
	const op = "services.billing.EnsureCoupon"
	log := s.log.With(slog.String("op", op), slog.String("coupon_id", def.ID))

	existing, err := s.processor.GetCoupon(ctx, def.ID)
	switch {
	case errors.Is(err, paymentprovider.ErrNotFound):
		return s.createCoupon(ctx, op, def)
	case err != nil:
		return nil, providerErr(op, err)
	case couponMatches(existing, def):
		return existing, nil
	}

	log.Warn("coupon diverges from definition, recreating",
		slog.Float64("percent_off", existing.PercentOff),
		slog.String("duration", existing.Duration),
		slog.Bool("valid", existing.Valid),
	)
	if err := s.processor.DeleteCoupon(ctx, def.ID); err != nil {
		return nil, providerErr(op, err)
	}
	return s.createCoupon(ctx, op, def)
}

func (s *Service) createCoupon(ctx context.Context, op string, def models.CouponDefinition) (*paymentprovider.Coupon, error) {
	created, err := s.processor.CreateCoupon(ctx, def)
	if err == nil {
		s.log.Info("coupon created", slog.String("op", op), slog.String("coupon_id", def.ID))
		return created, nil
	}
	if !paymentprovider.IsAlreadyExists(err) {
		return nil, providerErr(op, err)
	}

	// Купон успел создать другой процесс.
	existing, getErr := s.processor.GetCoupon(ctx, def.ID)
	if getErr != nil {
		return nil, providerErr(op, getErr)
	}
	if !couponMatches(existing, def) {
		return nil, &apperr.Error{
			Kind: apperr.PaymentProviderError,
			Op:   op,
			Msg:  fmt.Sprintf("coupon %q was concurrently created with a different definition", def.ID),
			Err:  err,
		}
	}
	return existing, nil
}

// EnsurePromotionCode возвращает существующий промокод code без изменений
// или создаёт его для купона couponID.
func (s *Service) EnsurePromotionCode(ctx context.Context, code, couponID string) (*paymentprovider.PromotionCode, error) {
	const op = "services.billing.EnsurePromotionCode"
	if code == "" || couponID == "" {
		return nil, apperr.New(apperr.Malformed, op, "code and coupon id are required")
	}

	v, err, _ := s.group.Do("promo|"+code, func() (any, error) {
		promo, err := s.processor.FindPromotionCode(ctx, code)
		if err == nil {
			return promo, nil
		}
		if !errors.Is(err, paymentprovider.ErrNotFound) {
			return nil, providerErr(op, err)
		}

		promo, err = s.processor.CreatePromotionCode(ctx, code, couponID, nil)
		if err == nil {
			s.log.Info("promotion code created", slog.String("op", op), slog.String("code", code))
			return promo, nil
		}
		if !paymentprovider.IsAlreadyExists(err) {
			return nil, providerErr(op, err)
		}
		promo, err = s.processor.FindPromotionCode(ctx, code)
		if err != nil {
			return nil, providerErr(op, err)
		}
		return promo, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*paymentprovider.PromotionCode), nil
}
