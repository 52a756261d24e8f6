package paymentprovider

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	now := time.Unix(1_700_000_000, 0)
	valid := Sign(payload, "whsec", now)

	tests := []struct {
		name    string
		payload []byte
		header  string
		secret  string
		now     time.Time
		wantErr error
	}{
		{name: "valid", payload: payload, header: valid, secret: "whsec", now: now},
		{name: "valid within tolerance", payload: payload, header: valid, secret: "whsec", now: now.Add(4 * time.Minute)},
		{name: "wrong secret", payload: payload, header: valid, secret: "other", now: now, wantErr: ErrBadSignature},
		{name: "tampered payload", payload: []byte(`{"id":"evt_2","type":"checkout.session.completed"}`), header: valid, secret: "whsec", now: now, wantErr: ErrBadSignature},
		{name: "stale timestamp", payload: payload, header: valid, secret: "whsec", now: now.Add(10 * time.Minute), wantErr: ErrTimestampOutOfRange},
		{name: "empty header", payload: payload, header: "", secret: "whsec", now: now, wantErr: ErrMissingSignature},
		{name: "no v1", payload: payload, header: "t=" + strconv.FormatInt(now.Unix(), 10), secret: "whsec", now: now, wantErr: ErrMissingSignature},
		{name: "garbage", payload: payload, header: "t=abc,v1=zz", secret: "whsec", now: now, wantErr: ErrMissingSignature},
		{name: "non hex signature among valid", payload: payload, header: valid + ",v1=nothex", secret: "whsec", now: now},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(tt.payload, tt.header, tt.secret, 5*time.Minute, tt.now)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseEvent(t *testing.T) {
	e, err := ParseEvent([]byte(`{"id":"evt_1","type":"customer.subscription.deleted","created":1700000000,"data":{"object":{"id":"sub_1","status":"canceled","metadata":{"user_id":"u1"}}}}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), e.Created)

	var sub SubscriptionObject
	require.NoError(t, e.DecodeObject(&sub))
	assert.Equal(t, "u1", sub.Metadata[MetadataUserID])

	_, err = ParseEvent([]byte(`{"type":"x"}`))
	assert.Error(t, err)
	_, err = ParseEvent([]byte(`not json`))
	assert.Error(t, err)
}
