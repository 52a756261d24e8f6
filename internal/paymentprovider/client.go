// Package paymentprovider — клиент REST API платёжного провайдера
// (совместим со Stripe): купоны, промокоды, сессии оплаты и подписи вебхуков.
package paymentprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/magabrotheeeer/video-subscription/internal/models"
)

// Ключи метаданных, которые сервис кладёт в сессию и подписку.
const (
	MetadataUserID = "user_id"
	MetadataTier   = "tier"
	MetadataPrice  = "price_id"
)

// Client — клиент платёжного провайдера. Безопасен для конкурентного использования.
type Client struct {
	secretKey  string
	apiURL     string
	httpClient *http.Client
}

// NewClient создаёт новый клиент провайдера с адресом apiURL.
func NewClient(apiURL, secretKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		secretKey:  secretKey,
		apiURL:     strings.TrimRight(apiURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, form url.Values) (*http.Request, error) {
	target := c.apiURL + path
	var body io.Reader
	if form != nil && method != http.MethodGet && method != http.MethodDelete {
		body = strings.NewReader(form.Encode())
	} else if form != nil {
		target += "?" + form.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, out any) error {
	req, err := c.newRequest(ctx, method, path, form)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func decodeError(status int, data []byte) error {
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Error.Message == "" {
		return &Error{StatusCode: status, Message: http.StatusText(status)}
	}
	return &Error{
		StatusCode: status,
		Type:       env.Error.Type,
		Code:       env.Error.Code,
		Message:    env.Error.Message,
	}
}

// GetCoupon возвращает купон по идентификатору или ErrNotFound.
func (c *Client) GetCoupon(ctx context.Context, id string) (*Coupon, error) {
	const op = "paymentprovider.GetCoupon"

	form := url.Values{}
	form.Add("expand[]", "applies_to")
	var coupon Coupon
	if err := c.do(ctx, http.MethodGet, "/v1/coupons/"+url.PathEscape(id), form, &coupon); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &coupon, nil
}

// CreateCoupon создаёт купон по описанию def.
func (c *Client) CreateCoupon(ctx context.Context, def models.CouponDefinition) (*Coupon, error) {
	const op = "paymentprovider.CreateCoupon"

	form := url.Values{}
	form.Set("id", def.ID)
	form.Set("percent_off", strconv.FormatFloat(def.PercentOff, 'f', -1, 64))
	form.Set("duration", string(def.Duration))
	if def.Duration == models.DurationRepeating {
		form.Set("duration_in_months", strconv.FormatInt(def.DurationInMonths, 10))
	}
	for i, p := range def.Products {
		form.Set(fmt.Sprintf("applies_to[products][%d]", i), p)
	}
	var coupon Coupon
	if err := c.do(ctx, http.MethodPost, "/v1/coupons", form, &coupon); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &coupon, nil
}

// DeleteCoupon удаляет купон. Отсутствующий купон ошибкой не считается.
func (c *Client) DeleteCoupon(ctx context.Context, id string) error {
	const op = "paymentprovider.DeleteCoupon"

	err := c.do(ctx, http.MethodDelete, "/v1/coupons/"+url.PathEscape(id), nil, nil)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// FindPromotionCode ищет промокод по строке кода или возвращает ErrNotFound.
func (c *Client) FindPromotionCode(ctx context.Context, code string) (*PromotionCode, error) {
	const op = "paymentprovider.FindPromotionCode"

	form := url.Values{}
	form.Set("code", code)
	form.Set("limit", "1")
	var list promotionCodeList
	if err := c.do(ctx, http.MethodGet, "/v1/promotion_codes", form, &list); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	for i := range list.Data {
		if list.Data[i].Code == code {
			return &list.Data[i], nil
		}
	}
	return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
}

// CreatePromotionCode создаёт промокод, привязанный к купону.
func (c *Client) CreatePromotionCode(ctx context.Context, code, couponID string, expiresAt *time.Time) (*PromotionCode, error) {
	const op = "paymentprovider.CreatePromotionCode"

	form := url.Values{}
	form.Set("code", code)
	form.Set("coupon", couponID)
	if expiresAt != nil {
		form.Set("expires_at", strconv.FormatInt(expiresAt.Unix(), 10))
	}
	var promo PromotionCode
	if err := c.do(ctx, http.MethodPost, "/v1/promotion_codes", form, &promo); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &promo, nil
}

// CreateCheckoutSession создаёт сессию оплаты подписки и возвращает её адрес.
func (c *Client) CreateCheckoutSession(ctx context.Context, p CheckoutSessionParams) (*CheckoutSession, error) {
	const op = "paymentprovider.CreateCheckoutSession"

	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("line_items[0][price]", p.PriceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", p.SuccessURL)
	form.Set("cancel_url", p.CancelURL)
	form.Set("client_reference_id", p.UserID)
	if p.CustomerEmail != "" {
		form.Set("customer_email", p.CustomerEmail)
	}
	if p.PromotionCodeID != "" {
		form.Set("discounts[0][promotion_code]", p.PromotionCodeID)
	} else {
		form.Set("allow_promotion_codes", "true")
	}
	meta := map[string]string{MetadataUserID: p.UserID, MetadataPrice: p.PriceID}
	for k, v := range p.Metadata {
		meta[k] = v
	}
	for k, v := range meta {
		form.Set("metadata["+k+"]", v)
		form.Set("subscription_data[metadata]["+k+"]", v)
	}

	var session CheckoutSession
	if err := c.do(ctx, http.MethodPost, "/v1/checkout/sessions", form, &session); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if session.URL == "" {
		return nil, fmt.Errorf("%s: empty session url", op)
	}
	return &session, nil
}
