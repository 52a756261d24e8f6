package billing_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/magabrotheeeer/video-subscription/internal/capability"
	"github.com/magabrotheeeer/video-subscription/internal/lib/apperr"
	"github.com/magabrotheeeer/video-subscription/internal/lib/password"
	"github.com/magabrotheeeer/video-subscription/internal/models"
	"github.com/magabrotheeeer/video-subscription/internal/paymentprovider"
	"github.com/magabrotheeeer/video-subscription/internal/rabbitmq"
	"github.com/magabrotheeeer/video-subscription/internal/services/billing"
	"github.com/magabrotheeeer/video-subscription/internal/services/entitlement"
	"github.com/magabrotheeeer/video-subscription/internal/storage/memory"
)

const webhookSecret = "whsec_test"

var prices = map[models.Tier]string{
	models.TierSilver: "price_silver",
	models.TierGold:   "price_gold",
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeProcessor хранит купоны и промокоды в памяти и считает вызовы.
type fakeProcessor struct {
	mu      sync.Mutex
	coupons map[string]paymentprovider.Coupon
	promos  map[string]paymentprovider.PromotionCode

	creates  int
	deletes  int
	sessions []paymentprovider.CheckoutSessionParams
	delay    time.Duration

	checkoutErr error
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		coupons: make(map[string]paymentprovider.Coupon),
		promos:  make(map[string]paymentprovider.PromotionCode),
	}
}

func (f *fakeProcessor) GetCoupon(_ context.Context, id string) (*paymentprovider.Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.coupons[id]
	if !ok {
		return nil, &paymentprovider.Error{StatusCode: 404, Code: "resource_missing", Message: "No such coupon"}
	}
	return &c, nil
}

func (f *fakeProcessor) CreateCoupon(_ context.Context, def models.CouponDefinition) (*paymentprovider.Coupon, error) {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.coupons[def.ID]; ok {
		return nil, &paymentprovider.Error{StatusCode: 400, Code: "resource_already_exists", Message: "Coupon already exists."}
	}
	f.creates++
	c := paymentprovider.Coupon{
		ID:               def.ID,
		PercentOff:       def.PercentOff,
		Duration:         string(def.Duration),
		DurationInMonths: def.DurationInMonths,
		Valid:            true,
	}
	if len(def.Products) > 0 {
		c.AppliesTo = &paymentprovider.AppliesTo{Products: def.Products}
	}
	f.coupons[def.ID] = c
	return &c, nil
}

func (f *fakeProcessor) DeleteCoupon(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	delete(f.coupons, id)
	return nil
}

func (f *fakeProcessor) FindPromotionCode(_ context.Context, code string) (*paymentprovider.PromotionCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.promos[code]
	if !ok {
		return nil, paymentprovider.ErrNotFound
	}
	return &p, nil
}

func (f *fakeProcessor) CreatePromotionCode(_ context.Context, code, couponID string, _ *time.Time) (*paymentprovider.PromotionCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.promos[code]; ok {
		return nil, &paymentprovider.Error{StatusCode: 400, Message: "A promotion code with this code already exists."}
	}
	p := paymentprovider.PromotionCode{ID: "promo_" + code, Code: code, Coupon: f.coupons[couponID], Active: true}
	f.promos[code] = p
	return &p, nil
}

func (f *fakeProcessor) CreateCheckoutSession(_ context.Context, p paymentprovider.CheckoutSessionParams) (*paymentprovider.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.checkoutErr != nil {
		return nil, f.checkoutErr
	}
	f.sessions = append(f.sessions, p)
	return &paymentprovider.CheckoutSession{ID: "cs_1", URL: "https://pay.example.com/cs_1"}, nil
}

type fakeQueue struct {
	mu       sync.Mutex
	messages []models.BillingEvent
	err      error
}

func (q *fakeQueue) Publish(_ context.Context, _ string, message any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.messages = append(q.messages, message.(models.BillingEvent))
	return nil
}

type fixture struct {
	svc       *billing.Service
	processor *fakeProcessor
	ledger    *entitlement.Ledger
	userID    string
}

func newFixture(t *testing.T, queue billing.Enqueuer) fixture {
	t.Helper()
	store := memory.New(password.NewHasher(bcrypt.MinCost))
	u, err := store.Create(context.Background(), "viewer@example.com", "Viewer", "secret123")
	require.NoError(t, err)

	full := capability.NewDescriptor("server", string(capability.CryptoHashing), string(capability.PersistentSockets))
	resolver := capability.NewResolver(newNoopLogger(), store, store, capability.StaticDetector(full), nil)
	ledger := entitlement.New(newNoopLogger(), resolver, prices, nil, nil, time.Second)
	processor := newFakeProcessor()

	svc := billing.New(newNoopLogger(), processor, ledger, queue, nil, billing.Config{
		Prices:           prices,
		SuccessURL:       "https://app.example.com/success",
		CancelURL:        "https://app.example.com/cancel",
		WebhookSecret:    webhookSecret,
		WebhookTolerance: 5 * time.Minute,
	})
	return fixture{svc: svc, processor: processor, ledger: ledger, userID: u.ID}
}

func TestCreateCheckoutSession(t *testing.T) {
	f := newFixture(t, nil)
	user := models.User{ID: f.userID, Email: "viewer@example.com"}

	url, err := f.svc.CreateCheckoutSession(context.Background(), user, models.TierGold, "")
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example.com/cs_1", url)

	require.Len(t, f.processor.sessions, 1)
	got := f.processor.sessions[0]
	assert.Equal(t, "price_gold", got.PriceID)
	assert.Equal(t, f.userID, got.UserID)
	assert.Equal(t, "gold", got.Metadata[paymentprovider.MetadataTier])
	assert.Empty(t, got.PromotionCodeID)
}

func TestCreateCheckoutSession_Errors(t *testing.T) {
	user := models.User{ID: "u1", Email: "viewer@example.com"}

	t.Run("unknown tier", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.svc.CreateCheckoutSession(context.Background(), user, models.Tier("platinum"), "")
		assert.Equal(t, apperr.InvalidTier, apperr.KindOf(err))
	})

	t.Run("tier none", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.svc.CreateCheckoutSession(context.Background(), user, models.TierNone, "")
		assert.Equal(t, apperr.InvalidTier, apperr.KindOf(err))
	})

	t.Run("provider message passed through", func(t *testing.T) {
		f := newFixture(t, nil)
		f.processor.checkoutErr = &paymentprovider.Error{StatusCode: 402, Code: "card_declined", Message: "Your card was declined."}
		_, err := f.svc.CreateCheckoutSession(context.Background(), user, models.TierSilver, "")
		assert.Equal(t, apperr.PaymentProviderError, apperr.KindOf(err))
		assert.Equal(t, "Your card was declined.", apperr.Message(err))
	})

	t.Run("provider timeout", func(t *testing.T) {
		f := newFixture(t, nil)
		f.processor.checkoutErr = errors.Join(errors.New("post checkout session"), context.DeadlineExceeded)
		_, err := f.svc.CreateCheckoutSession(context.Background(), user, models.TierSilver, "")
		assert.Equal(t, apperr.Unavailable, apperr.KindOf(err))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("provider failure without message", func(t *testing.T) {
		f := newFixture(t, nil)
		f.processor.checkoutErr = errors.New("connection reset")
		_, err := f.svc.CreateCheckoutSession(context.Background(), user, models.TierSilver, "")
		assert.Equal(t, apperr.PaymentProviderError, apperr.KindOf(err))
		assert.Equal(t, "payment provider request failed", apperr.Message(err))
	})

	t.Run("unknown promotion code", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.svc.CreateCheckoutSession(context.Background(), user, models.TierSilver, "NOPE")
		assert.Equal(t, apperr.PaymentProviderError, apperr.KindOf(err))
		assert.Contains(t, apperr.Message(err), "NOPE")
	})
}

func TestCreateCheckoutSession_WithPromotionCode(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.svc.EnsureCoupon(ctx, models.CouponDefinition{ID: "launch", PercentOff: 20, Duration: models.DurationOnce})
	require.NoError(t, err)
	_, err = f.svc.EnsurePromotionCode(ctx, "LAUNCH20", "launch")
	require.NoError(t, err)

	_, err = f.svc.CreateCheckoutSession(ctx, models.User{ID: f.userID}, models.TierGold, "LAUNCH20")
	require.NoError(t, err)
	assert.Equal(t, "promo_LAUNCH20", f.processor.sessions[0].PromotionCodeID)
}

func TestEnsureCoupon_ConcurrentCallersCreateOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.processor.delay = 10 * time.Millisecond
	def := models.CouponDefinition{ID: "spring", PercentOff: 25, Duration: models.DurationRepeating, DurationInMonths: 3, Products: []string{"prod_gold", "prod_silver"}}

	const callers = 16
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.EnsureCoupon(context.Background(), def)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, f.processor.creates)
	require.Len(t, f.processor.coupons, 1)
	c := f.processor.coupons["spring"]
	assert.Equal(t, 25.0, c.PercentOff)
	assert.ElementsMatch(t, []string{"prod_gold", "prod_silver"}, c.Products())
}

func TestEnsureCoupon_RepairsDivergentCoupon(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.processor.coupons["spring"] = paymentprovider.Coupon{
		ID: "spring", PercentOff: 25, Duration: "once", Valid: true,
		AppliesTo: &paymentprovider.AppliesTo{Products: []string{"prod_silver"}},
	}

	def := models.CouponDefinition{ID: "spring", PercentOff: 25, Duration: models.DurationOnce, Products: []string{"prod_gold"}}
	c, err := f.svc.EnsureCoupon(ctx, def)
	require.NoError(t, err)
	assert.Equal(t, []string{"prod_gold"}, c.Products())
	assert.Equal(t, 1, f.processor.deletes)

	// Совпадающий купон не трогается.
	_, err = f.svc.EnsureCoupon(ctx, def)
	require.NoError(t, err)
	assert.Equal(t, 1, f.processor.deletes)
	assert.Equal(t, 1, f.processor.creates)
}

func TestEnsureCoupon_InvalidCouponIsRecreated(t *testing.T) {
	f := newFixture(t, nil)
	f.processor.coupons["old"] = paymentprovider.Coupon{ID: "old", PercentOff: 10, Duration: "once", Valid: false}

	c, err := f.svc.EnsureCoupon(context.Background(), models.CouponDefinition{ID: "old", PercentOff: 10, Duration: models.DurationOnce})
	require.NoError(t, err)
	assert.True(t, c.Valid)
	assert.Equal(t, 1, f.processor.deletes)
}

func TestEnsureCoupon_Validation(t *testing.T) {
	f := newFixture(t, nil)
	tests := []struct {
		name string
		def  models.CouponDefinition
	}{
		{"empty id", models.CouponDefinition{PercentOff: 10, Duration: models.DurationOnce}},
		{"zero percent", models.CouponDefinition{ID: "c", Duration: models.DurationOnce}},
		{"over hundred", models.CouponDefinition{ID: "c", PercentOff: 120, Duration: models.DurationOnce}},
		{"unknown duration", models.CouponDefinition{ID: "c", PercentOff: 10, Duration: "forever-ish"}},
		{"repeating without months", models.CouponDefinition{ID: "c", PercentOff: 10, Duration: models.DurationRepeating}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.EnsureCoupon(context.Background(), tt.def)
			assert.Equal(t, apperr.Malformed, apperr.KindOf(err))
		})
	}
	assert.Zero(t, f.processor.creates)
}

func TestEnsurePromotionCode_Idempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.svc.EnsurePromotionCode(ctx, "WELCOME", "launch")
	require.NoError(t, err)
	second, err := f.svc.EnsurePromotionCode(ctx, "WELCOME", "other")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, f.processor.promos, 1)

	_, err = f.svc.EnsurePromotionCode(ctx, "", "launch")
	assert.Equal(t, apperr.Malformed, apperr.KindOf(err))
}

func checkoutPayload(eventID, userID, price string, created int64) []byte {
	return []byte(`{"id":"` + eventID + `","type":"checkout.session.completed","created":` +
		strconv.FormatInt(created, 10) + `,"data":{"object":{"id":"cs_1","client_reference_id":"` + userID +
		`","metadata":{"price_id":"` + price + `"}}}}`)
}

func TestHandleWebhook_InvalidThenValidAppliesOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	now := time.Now()
	payload := checkoutPayload("evt_1", f.userID, "price_gold", now.Unix())

	_, err := f.svc.HandleWebhook(ctx, payload, paymentprovider.Sign(payload, "wrong-secret", now))
	assert.Equal(t, apperr.InvalidSignature, apperr.KindOf(err))

	tier, err := f.ledger.CurrentTier(ctx, f.userID)
	require.NoError(t, err)
	assert.Equal(t, models.TierNone, tier)

	header := paymentprovider.Sign(payload, webhookSecret, now)
	res, err := f.svc.HandleWebhook(ctx, payload, header)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusApplied, res.Status)
	assert.Equal(t, models.TierGold, res.Tier)

	res, err = f.svc.HandleWebhook(ctx, payload, header)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusDuplicate, res.Status)

	tier, err = f.ledger.CurrentTier(ctx, f.userID)
	require.NoError(t, err)
	assert.Equal(t, models.TierGold, tier)
}

func TestHandleWebhook_StaleFirstDeliveryIsNotDuplicate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	now := time.Now()

	newer := checkoutPayload("evt_2", f.userID, "price_gold", now.Unix())
	res, err := f.svc.HandleWebhook(ctx, newer, paymentprovider.Sign(newer, webhookSecret, now))
	require.NoError(t, err)
	require.Equal(t, billing.StatusApplied, res.Status)

	older := checkoutPayload("evt_1", f.userID, "price_silver", now.Add(-time.Minute).Unix())
	res, err = f.svc.HandleWebhook(ctx, older, paymentprovider.Sign(older, webhookSecret, now))
	require.NoError(t, err)
	assert.Equal(t, billing.StatusStale, res.Status)
	assert.Equal(t, models.TierGold, res.Tier)

	res, err = f.svc.HandleWebhook(ctx, older, paymentprovider.Sign(older, webhookSecret, now))
	require.NoError(t, err)
	assert.Equal(t, billing.StatusDuplicate, res.Status)
}

func TestHandleWebhook_Rejections(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	now := time.Now()
	payload := checkoutPayload("evt_1", f.userID, "price_gold", now.Unix())

	_, err := f.svc.HandleWebhook(ctx, payload, "")
	assert.Equal(t, apperr.InvalidSignature, apperr.KindOf(err))

	stale := paymentprovider.Sign(payload, webhookSecret, now.Add(-time.Hour))
	_, err = f.svc.HandleWebhook(ctx, payload, stale)
	assert.Equal(t, apperr.InvalidSignature, apperr.KindOf(err))

	tampered := append([]byte(nil), payload...)
	header := paymentprovider.Sign(payload, webhookSecret, now)
	tampered[len(tampered)-3] = 'x'
	_, err = f.svc.HandleWebhook(ctx, tampered, header)
	assert.Equal(t, apperr.InvalidSignature, apperr.KindOf(err))

	garbage := []byte(`{"not":"an event"}`)
	_, err = f.svc.HandleWebhook(ctx, garbage, paymentprovider.Sign(garbage, webhookSecret, now))
	assert.Equal(t, apperr.Malformed, apperr.KindOf(err))

	tier, err := f.ledger.CurrentTier(ctx, f.userID)
	require.NoError(t, err)
	assert.Equal(t, models.TierNone, tier)
}

func TestHandleWebhook_UnsupportedEventIgnored(t *testing.T) {
	f := newFixture(t, nil)
	now := time.Now()
	payload := []byte(`{"id":"evt_9","type":"customer.created","created":1700000000,"data":{"object":{}}}`)

	res, err := f.svc.HandleWebhook(context.Background(), payload, paymentprovider.Sign(payload, webhookSecret, now))
	require.NoError(t, err)
	assert.Equal(t, billing.StatusIgnored, res.Status)
}

func TestHandleWebhook_QueueMode(t *testing.T) {
	queue := &fakeQueue{}
	f := newFixture(t, queue)
	ctx := context.Background()
	now := time.Now()
	payload := checkoutPayload("evt_1", f.userID, "price_silver", now.Unix())

	res, err := f.svc.HandleWebhook(ctx, payload, paymentprovider.Sign(payload, webhookSecret, now))
	require.NoError(t, err)
	assert.Equal(t, billing.StatusQueued, res.Status)
	require.Len(t, queue.messages, 1)

	// До обработки очереди entitlement не меняется.
	tier, err := f.ledger.CurrentTier(ctx, f.userID)
	require.NoError(t, err)
	assert.Equal(t, models.TierNone, tier)

	body := []byte(`{"id":"evt_1","type":"checkout.session.completed","created_at":"` +
		queue.messages[0].CreatedAt.Format(time.RFC3339Nano) + `","user_id":"` + f.userID + `","price_id":"price_silver"}`)
	require.NoError(t, f.svc.ProcessQueued(ctx, body))
	require.NoError(t, f.svc.ProcessQueued(ctx, body))

	tier, err = f.ledger.CurrentTier(ctx, f.userID)
	require.NoError(t, err)
	assert.Equal(t, models.TierSilver, tier)

	queue.err = errors.New("channel closed")
	_, err = f.svc.HandleWebhook(ctx, payload, paymentprovider.Sign(payload, webhookSecret, now))
	assert.Equal(t, apperr.Unavailable, apperr.KindOf(err))
}

func TestProcessQueued_PermanentFailures(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{{`},
		{"no user", `{"id":"evt_1","type":"checkout.session.completed","created_at":"2025-03-01T12:00:00Z"}`},
		{"unknown user", `{"id":"evt_2","type":"checkout.session.completed","created_at":"2025-03-01T12:00:00Z","user_id":"ghost","price_id":"price_gold"}`},
		{"unknown price", `{"id":"evt_3","type":"checkout.session.completed","created_at":"2025-03-01T12:00:00Z","user_id":"` + f.userID + `","price_id":"price_bronze"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.svc.ProcessQueued(ctx, []byte(tt.body))
			assert.ErrorIs(t, err, rabbitmq.ErrPermanent)
		})
	}
}

func TestToBillingEvent(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		wantOK bool
		want   models.BillingEvent
	}{
		{
			name:   "checkout uses metadata user when no client reference",
			raw:    `{"id":"evt_1","type":"checkout.session.completed","created":1700000000,"data":{"object":{"metadata":{"user_id":"u1","price_id":"price_gold"}}}}`,
			wantOK: true,
			want:   models.BillingEvent{ID: "evt_1", Type: models.EventCheckoutCompleted, UserID: "u1", PriceID: "price_gold"},
		},
		{
			name:   "subscription updated",
			raw:    `{"id":"evt_2","type":"customer.subscription.updated","created":1700000000,"data":{"object":{"status":"past_due","metadata":{"user_id":"u1"},"items":{"data":[{"price":{"id":"price_silver"}}]}}}}`,
			wantOK: true,
			want:   models.BillingEvent{ID: "evt_2", Type: models.EventSubscriptionUpdated, UserID: "u1", PriceID: "price_silver", Status: "past_due"},
		},
		{
			name:   "invoice failure reads subscription metadata",
			raw:    `{"id":"evt_3","type":"invoice.payment_failed","created":1700000000,"data":{"object":{"subscription_details":{"metadata":{"user_id":"u1"}},"lines":{"data":[{"price":{"id":"price_gold"}}]}}}}`,
			wantOK: true,
			want:   models.BillingEvent{ID: "evt_3", Type: models.EventInvoicePaymentFail, UserID: "u1", PriceID: "price_gold"},
		},
		{
			name: "deleted subscription without user",
			raw:  `{"id":"evt_4","type":"customer.subscription.deleted","created":1700000000,"data":{"object":{"status":"canceled"}}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := paymentprovider.ParseEvent([]byte(tt.raw))
			require.NoError(t, err)
			got, ok, err := billing.ToBillingEvent(ev)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			tt.want.CreatedAt = time.Unix(1700000000, 0).UTC()
			assert.Equal(t, tt.want, got)
		})
	}
}
