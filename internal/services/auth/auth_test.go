package auth_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/magabrotheeeer/video-subscription/internal/capability"
	"github.com/magabrotheeeer/video-subscription/internal/lib/apperr"
	"github.com/magabrotheeeer/video-subscription/internal/lib/jwt"
	"github.com/magabrotheeeer/video-subscription/internal/lib/password"
	"github.com/magabrotheeeer/video-subscription/internal/models"
	"github.com/magabrotheeeer/video-subscription/internal/services/auth"
	"github.com/magabrotheeeer/video-subscription/internal/storage"
	"github.com/magabrotheeeer/video-subscription/internal/storage/memory"
)

var fullRuntime = capability.NewDescriptor("server",
	string(capability.CryptoHashing), string(capability.PersistentSockets))

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// CredentialStoreMock — мок storage.CredentialStore.
type CredentialStoreMock struct {
	mock.Mock
}

func (m *CredentialStoreMock) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *CredentialStoreMock) GetUser(ctx context.Context, userID string) (*models.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *CredentialStoreMock) VerifyCredential(ctx context.Context, user *models.User, plaintext string) (bool, error) {
	args := m.Called(ctx, user, plaintext)
	return args.Bool(0), args.Error(1)
}

func (m *CredentialStoreMock) Create(ctx context.Context, email, name, plaintext string) (*models.User, error) {
	args := m.Called(ctx, email, name, plaintext)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *CredentialStoreMock) Rehash(ctx context.Context, userID, plaintext string) error {
	return m.Called(ctx, userID, plaintext).Error(0)
}

func (m *CredentialStoreMock) Disable(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

type fixture struct {
	svc    *auth.Service
	store  *memory.Store
	tokens *jwt.MakerImpl
}

func newFixture(t *testing.T, descriptor capability.Descriptor) fixture {
	t.Helper()
	hasher := password.NewHasher(bcrypt.MinCost)
	store := memory.New(hasher)
	tokens := jwt.NewJWTMaker("test-secret", time.Hour)
	resolver := capability.NewResolver(newNoopLogger(), store, store, capability.StaticDetector(descriptor), nil)
	return fixture{
		svc:    auth.New(newNoopLogger(), resolver, tokens, hasher, nil, time.Second),
		store:  store,
		tokens: tokens,
	}
}

func TestService_SignUpAndSignIn(t *testing.T) {
	f := newFixture(t, fullRuntime)
	ctx := context.Background()

	signedUp, err := f.svc.SignUp(ctx, "Viewer@Example.com", "Viewer", "secret123")
	require.NoError(t, err)
	assert.Equal(t, "viewer@example.com", signedUp.User.Email)

	res, err := f.svc.SignIn(ctx, "viewer@example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, signedUp.User.ID, res.User.ID)

	claims, err := f.tokens.Verify(res.Token, time.Now())
	require.NoError(t, err)
	assert.Equal(t, signedUp.User.ID, claims.SubjectID())
}

func TestService_SignIn_Failures(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(t *testing.T, f fixture)
		email    string
		password string
		wantKind apperr.Kind
	}{
		{
			name:     "no such user",
			setup:    func(*testing.T, fixture) {},
			email:    "a@b.com",
			password: "secret",
			wantKind: apperr.InvalidCredentials,
		},
		{
			name: "wrong password",
			setup: func(t *testing.T, f fixture) {
				_, err := f.store.Create(context.Background(), "a@b.com", "A", "secret123")
				require.NoError(t, err)
			},
			email:    "a@b.com",
			password: "wrong",
			wantKind: apperr.InvalidCredentials,
		},
		{
			name: "disabled user",
			setup: func(t *testing.T, f fixture) {
				u, err := f.store.Create(context.Background(), "a@b.com", "A", "secret123")
				require.NoError(t, err)
				require.NoError(t, f.store.Disable(context.Background(), u.ID))
			},
			email:    "a@b.com",
			password: "secret123",
			wantKind: apperr.InvalidCredentials,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fullRuntime)
			tt.setup(t, f)

			res, err := f.svc.SignIn(context.Background(), tt.email, tt.password)
			assert.Nil(t, res)
			assert.Equal(t, tt.wantKind, apperr.KindOf(err))
			assert.NotEqual(t, apperr.Conflict, apperr.KindOf(err))
		})
	}
}

func TestService_SignUp_Conflict(t *testing.T) {
	f := newFixture(t, fullRuntime)
	ctx := context.Background()

	_, err := f.svc.SignUp(ctx, "a@b.com", "A", "secret123")
	require.NoError(t, err)

	_, err = f.svc.SignUp(ctx, "A@B.com", "Other", "secret456")
	assert.Equal(t, apperr.Conflict, apperr.KindOf(err))
}

func TestService_RestrictedRuntimeNeverIssuesToken(t *testing.T) {
	f := newFixture(t, capability.NewDescriptor("edge"))
	ctx := context.Background()

	_, err := f.store.Create(ctx, "a@b.com", "A", "secret123")
	require.NoError(t, err)

	res, err := f.svc.SignIn(ctx, "a@b.com", "secret123")
	assert.Nil(t, res)
	assert.Equal(t, apperr.Unavailable, apperr.KindOf(err))
	assert.ErrorIs(t, err, storage.ErrRestricted)

	_, err = f.svc.SignUp(ctx, "new@b.com", "New", "secret123")
	assert.Equal(t, apperr.Unavailable, apperr.KindOf(err))
}

func TestService_SignIn_StoreErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(m *CredentialStoreMock)
	}{
		{
			name: "store failure",
			setup: func(m *CredentialStoreMock) {
				m.On("FindByEmail", mock.Anything, "a@b.com").Return(nil, errors.New("connection reset"))
			},
		},
		{
			name: "store timeout",
			setup: func(m *CredentialStoreMock) {
				m.On("FindByEmail", mock.Anything, "a@b.com").
					Run(func(args mock.Arguments) {
						<-args.Get(0).(context.Context).Done()
					}).
					Return(nil, context.DeadlineExceeded)
			},
		},
		{
			name: "verify failure",
			setup: func(m *CredentialStoreMock) {
				u := &models.User{ID: "u1", Email: "a@b.com"}
				m.On("FindByEmail", mock.Anything, "a@b.com").Return(u, nil)
				m.On("VerifyCredential", mock.Anything, u, "secret").Return(false, errors.New("bad hash"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds := &CredentialStoreMock{}
			tt.setup(creds)
			hasher := password.NewHasher(bcrypt.MinCost)
			ents := memory.New(hasher)
			resolver := capability.NewResolver(newNoopLogger(), creds, ents, capability.StaticDetector(fullRuntime), nil)
			svc := auth.New(newNoopLogger(), resolver, jwt.NewJWTMaker("k", time.Hour), hasher, nil, 50*time.Millisecond)

			res, err := svc.SignIn(context.Background(), "a@b.com", "secret")
			assert.Nil(t, res)
			assert.Equal(t, apperr.Unavailable, apperr.KindOf(err))
			creds.AssertExpectations(t)
		})
	}
}

func TestService_ChangePassword(t *testing.T) {
	f := newFixture(t, fullRuntime)
	ctx := context.Background()

	res, err := f.svc.SignUp(ctx, "a@b.com", "A", "secret123")
	require.NoError(t, err)

	err = f.svc.ChangePassword(ctx, res.User.ID, "wrong", "newsecret1")
	assert.Equal(t, apperr.InvalidCredentials, apperr.KindOf(err))

	require.NoError(t, f.svc.ChangePassword(ctx, res.User.ID, "secret123", "newsecret1"))

	_, err = f.svc.SignIn(ctx, "a@b.com", "secret123")
	assert.Equal(t, apperr.InvalidCredentials, apperr.KindOf(err))
	_, err = f.svc.SignIn(ctx, "a@b.com", "newsecret1")
	assert.NoError(t, err)
}
