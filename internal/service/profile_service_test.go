package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/boddenberg/mining-ledger/internal/domain"
	"github.com/boddenberg/mining-ledger/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in    string
		want  string
		valid bool
	}{
		{"08012345678", "08012345678", true},
		{"+2348012345678", "08012345678", true},
		{"2349012345678", "09012345678", true},
		{" 07012345678 ", "07012345678", true},
		{"06012345678", "06012345678", false},
		{"0801234567", "0801234567", false},
		{"phone", "phone", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, service.NormalizePhone(tt.in))
			assert.Equal(t, tt.valid, service.ValidPhone(tt.in))
		})
	}
}

func TestRegister_CreatesProfileWithZeroBalance(t *testing.T) {
	fx := newFixture()

	p, err := fx.profiles.Register(context.Background(), "u1", domain.RegisterRequest{
		Phone:    "+2348012345678",
		FullName: "  Ada Obi  ",
	})
	require.NoError(t, err)

	assert.Equal(t, "08012345678", p.Phone)
	assert.Equal(t, "Ada Obi", p.FullName)
	assert.Equal(t, int64(0), p.Balance)
	assert.Len(t, p.ReferralCode, 8)
	assert.Equal(t, strings.ToUpper(p.ReferralCode), p.ReferralCode)
	assert.Nil(t, p.ReferredBy)
}

func TestRegister_CreditsReferrerOnce(t *testing.T) {
	fx := newFixture()
	referrer := fx.store.addProfile("ref", "08099999999", 50)

	p, err := fx.profiles.Register(context.Background(), "u1", domain.RegisterRequest{
		Phone:        "08012345678",
		FullName:     "Ada",
		ReferralCode: strings.ToLower(referrer.ReferralCode),
	})
	require.NoError(t, err)
	require.NotNil(t, p.ReferredBy)
	assert.Equal(t, "ref", *p.ReferredBy)

	got, err := fx.store.GetProfile(context.Background(), "ref")
	require.NoError(t, err)
	assert.Equal(t, int64(1050), got.Balance)
	assert.Equal(t, int64(1000), got.ReferralEarnings)
}

func TestRegister_UnknownReferralCodeIgnored(t *testing.T) {
	fx := newFixture()

	p, err := fx.profiles.Register(context.Background(), "u1", domain.RegisterRequest{
		Phone:        "08012345678",
		FullName:     "Ada",
		ReferralCode: "NOPE0000",
	})
	require.NoError(t, err)
	assert.Nil(t, p.ReferredBy)
	assert.Equal(t, 0, fx.store.adjustCalls)
}

func TestRegister_ReferralFailureDoesNotFailRegistration(t *testing.T) {
	fx := newFixture()
	referrer := fx.store.addProfile("ref", "08099999999", 0)
	fx.store.failAdjust = func(string, domain.BalanceDelta) error { return errors.New("store down") }

	p, err := fx.profiles.Register(context.Background(), "u1", domain.RegisterRequest{
		Phone:        "08012345678",
		FullName:     "Ada",
		ReferralCode: referrer.ReferralCode,
	})
	require.NoError(t, err)
	assert.NotNil(t, p.ReferredBy)
	assert.Equal(t, int64(0), fx.store.balance("ref"))
	assert.Equal(t, 3, fx.store.adjustCalls, "the bonus is re-sent under its reference before giving up")
}

func TestRegister_Validation(t *testing.T) {
	fx := newFixture()
	fx.store.addProfile("existing", "08012345678", 0)

	tests := []struct {
		name   string
		userID string
		req    domain.RegisterRequest
		check  func(t *testing.T, err error)
	}{
		{
			name:   "missing name",
			userID: "u1",
			req:    domain.RegisterRequest{Phone: "08011111111", FullName: "   "},
			check: func(t *testing.T, err error) {
				var ve *domain.ErrValidation
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, "full_name", ve.Field)
			},
		},
		{
			name:   "long name",
			userID: "u1",
			req:    domain.RegisterRequest{Phone: "08011111111", FullName: strings.Repeat("a", 101)},
			check: func(t *testing.T, err error) {
				var ve *domain.ErrValidation
				require.ErrorAs(t, err, &ve)
			},
		},
		{
			name:   "bad phone",
			userID: "u1",
			req:    domain.RegisterRequest{Phone: "12345", FullName: "Ada"},
			check: func(t *testing.T, err error) {
				var ve *domain.ErrValidation
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, "phone", ve.Field)
			},
		},
		{
			name:   "phone taken",
			userID: "u1",
			req:    domain.RegisterRequest{Phone: "+2348012345678", FullName: "Ada"},
			check: func(t *testing.T, err error) {
				var ce *domain.ErrConflict
				require.ErrorAs(t, err, &ce)
			},
		},
		{
			name:   "already registered",
			userID: "existing",
			req:    domain.RegisterRequest{Phone: "08022222222", FullName: "Ada"},
			check: func(t *testing.T, err error) {
				var ce *domain.ErrConflict
				require.ErrorAs(t, err, &ce)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.profiles.Register(context.Background(), tt.userID, tt.req)
			tt.check(t, err)
		})
	}
}

func TestUpdateDetails_TruncatesAndKeepsName(t *testing.T) {
	fx := newFixture()
	fx.store.addProfile("u1", "08012345678", 0)

	p, err := fx.profiles.UpdateDetails(context.Background(), "u1", domain.ProfileDetails{
		FullName:      "",
		BankName:      " GTBank ",
		AccountNumber: strings.Repeat("1", 30),
		AccountName:   "Ada Obi",
	})
	require.NoError(t, err)

	assert.Equal(t, "User u1", p.FullName)
	assert.Equal(t, "GTBank", p.BankName)
	assert.Len(t, p.AccountNumber, 20)
	assert.True(t, p.HasBankDetails())
}
