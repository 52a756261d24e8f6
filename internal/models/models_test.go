package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBillingEvent_After(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		event BillingEvent
		at    time.Time
		id    string
		want  bool
	}{
		{"later timestamp", BillingEvent{ID: "evt_a", CreatedAt: base.Add(time.Second)}, base, "evt_z", true},
		{"earlier timestamp", BillingEvent{ID: "evt_z", CreatedAt: base.Add(-time.Second)}, base, "evt_a", false},
		{"tie broken by id", BillingEvent{ID: "evt_b", CreatedAt: base}, base, "evt_a", true},
		{"tie lower id", BillingEvent{ID: "evt_a", CreatedAt: base}, base, "evt_b", false},
		{"same event", BillingEvent{ID: "evt_a", CreatedAt: base}, base, "evt_a", false},
		{"first event", BillingEvent{ID: "evt_a", CreatedAt: base}, time.Time{}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.event.After(tt.at, tt.id))
		})
	}
}

func TestTier_Covers(t *testing.T) {
	assert.True(t, TierGold.Covers(TierSilver))
	assert.True(t, TierSilver.Covers(TierSilver))
	assert.False(t, TierSilver.Covers(TierGold))
	assert.True(t, TierNone.Covers(TierNone))
	assert.False(t, TierNone.Covers(TierSilver))
}

func TestEntitlement_EffectiveTier(t *testing.T) {
	assert.Equal(t, TierGold, Entitlement{Tier: TierGold, Status: StatusActive}.EffectiveTier())
	assert.Equal(t, TierSilver, Entitlement{Tier: TierSilver, Status: StatusPastDue}.EffectiveTier())
	assert.Equal(t, TierNone, Entitlement{Tier: TierGold, Status: StatusCanceled}.EffectiveTier())
	assert.Equal(t, TierNone, NoEntitlement("u1").EffectiveTier())
}

func TestParseTier(t *testing.T) {
	tier, err := ParseTier("gold")
	assert.NoError(t, err)
	assert.Equal(t, TierGold, tier)

	_, err = ParseTier("platinum")
	assert.Error(t, err)
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "a@b.com", NormalizeEmail("  A@B.Com "))
}
