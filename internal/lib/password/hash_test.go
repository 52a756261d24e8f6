package password

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHasher_Hash(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)

	tests := []struct {
		name     string
		password string
	}{
		{name: "regular password", password: "password123"},
		{name: "password with special chars", password: "p@ssw0rd!@#$%^&*()"},
		{name: "long password", password: "verylongpasswordwithmorethanfiftycharacters"},
		{name: "short password", password: "short"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := h.Hash(tt.password)
			require.NoError(t, err)
			assert.NotEmpty(t, hash)
			assert.NotEqual(t, tt.password, hash)
			assert.NoError(t, h.Compare(hash, tt.password))
		})
	}
}

func TestHasher_HashIsSalted(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)

	first, err := h.Hash("same_password")
	require.NoError(t, err)
	second, err := h.Hash("same_password")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestHasher_Compare(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)
	hash, err := h.Hash("correct_password")
	require.NoError(t, err)

	tests := []struct {
		name     string
		hash     string
		password string
		wantErr  error
		anyErr   bool
	}{
		{name: "correct password", hash: hash, password: "correct_password"},
		{name: "wrong password", hash: hash, password: "wrong_password", wantErr: ErrMismatch},
		{name: "empty password", hash: hash, password: "", wantErr: ErrMismatch},
		{name: "invalid hash", hash: "not-a-bcrypt-hash", password: "correct_password", anyErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.Compare(tt.hash, tt.password)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.anyErr:
				assert.Error(t, err)
				assert.NotErrorIs(t, err, ErrMismatch)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestHasher_CompareDummy(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)
	assert.ErrorIs(t, h.CompareDummy("anything"), ErrMismatch)
}

func TestNewHasher_InvalidCostFallsBack(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, NewHasher(1000).cost)
	assert.Equal(t, bcrypt.DefaultCost, NewHasher(0).cost)
}
