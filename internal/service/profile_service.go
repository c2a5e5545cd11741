package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/boddenberg/mining-ledger/internal/domain"
	"github.com/boddenberg/mining-ledger/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var profileTracer = otel.Tracer("service/profile")

const (
	maxNameLen          = 100
	maxAccountNumberLen = 20
	referralCodeLen     = 8
	referralCodeTries   = 5
	referralAlphabet    = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

var nigerianPhone = regexp.MustCompile(`^0[789]\d{9}$`)

// ProfileService handles registration, profile edits and referral crediting.
type ProfileService struct {
	store         port.ProfileStore
	ledger        *Ledger
	referralBonus int64
	logger        *zap.Logger
}

// NewProfileService creates a profile service.
func NewProfileService(store port.ProfileStore, ledger *Ledger, referralBonus int64, logger *zap.Logger) *ProfileService {
	return &ProfileService{store: store, ledger: ledger, referralBonus: referralBonus, logger: logger}
}

// NormalizePhone maps +234XXXXXXXXXX and 234XXXXXXXXXX to 0XXXXXXXXXX.
func NormalizePhone(phone string) string {
	p := strings.TrimSpace(phone)
	switch {
	case strings.HasPrefix(p, "+234"):
		return "0" + p[4:]
	case strings.HasPrefix(p, "234"):
		return "0" + p[3:]
	}
	return p
}

// ValidPhone reports whether phone normalizes to a Nigerian mobile number.
func ValidPhone(phone string) bool {
	return nigerianPhone.MatchString(NormalizePhone(phone))
}

// Register creates the caller's profile and pays the referral bonus once.
func (s *ProfileService) Register(ctx context.Context, userID string, req domain.RegisterRequest) (*domain.Profile, error) {
	ctx, span := profileTracer.Start(ctx, "ProfileService.Register")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	fullName := strings.TrimSpace(req.FullName)
	if fullName == "" {
		return nil, &domain.ErrValidation{Field: "full_name", Message: "full name is required"}
	}
	if utf8.RuneCountInString(fullName) > maxNameLen {
		return nil, &domain.ErrValidation{Field: "full_name", Message: fmt.Sprintf("must be at most %d characters", maxNameLen)}
	}
	phone := NormalizePhone(req.Phone)
	if !nigerianPhone.MatchString(phone) {
		return nil, &domain.ErrValidation{Field: "phone", Message: "enter a valid Nigerian phone number (e.g. 08012345678)"}
	}

	if _, err := s.store.GetProfile(ctx, userID); err == nil {
		return nil, &domain.ErrConflict{Message: "profile already exists"}
	} else if !isNotFound(err) {
		return nil, err
	}
	if _, err := s.store.GetProfileByPhone(ctx, phone); err == nil {
		return nil, &domain.ErrConflict{Message: "phone already registered"}
	} else if !isNotFound(err) {
		return nil, err
	}

	code, err := s.uniqueReferralCode(ctx)
	if err != nil {
		return nil, err
	}

	// Unknown codes are ignored rather than failing the registration.
	var referrer *domain.Profile
	if rc := strings.ToUpper(strings.TrimSpace(req.ReferralCode)); rc != "" {
		referrer, err = s.store.GetProfileByReferralCode(ctx, rc)
		if err != nil && !isNotFound(err) {
			return nil, err
		}
		if referrer != nil && referrer.UserID == userID {
			referrer = nil
		}
	}

	p := &domain.Profile{
		UserID:       userID,
		Phone:        phone,
		FullName:     fullName,
		ReferralCode: code,
	}
	if referrer != nil {
		p.ReferredBy = &referrer.UserID
	}

	created, err := s.store.CreateProfile(ctx, p)
	if err != nil {
		return nil, err
	}

	if referrer != nil && s.referralBonus > 0 {
		if _, err := s.ledger.CreditReferral(ctx, referrer.UserID, s.referralBonus, "referral:"+userID); err != nil {
			s.logger.Error("referral bonus not credited",
				zap.String("referrer_id", referrer.UserID),
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("profile registered",
		zap.String("user_id", userID),
		zap.Bool("referred", referrer != nil),
	)
	return created, nil
}

// GetProfile returns the caller's profile.
func (s *ProfileService) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	ctx, span := profileTracer.Start(ctx, "ProfileService.GetProfile")
	defer span.End()

	return s.store.GetProfile(ctx, userID)
}

// UpdateDetails trims and truncates the editable fields before saving.
// An empty full name keeps the current one.
func (s *ProfileService) UpdateDetails(ctx context.Context, userID string, d domain.ProfileDetails) (*domain.Profile, error) {
	ctx, span := profileTracer.Start(ctx, "ProfileService.UpdateDetails")
	defer span.End()

	current, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	clean := domain.ProfileDetails{
		FullName:      truncate(d.FullName, maxNameLen),
		BankName:      truncate(d.BankName, maxNameLen),
		AccountNumber: truncate(d.AccountNumber, maxAccountNumberLen),
		AccountName:   truncate(d.AccountName, maxNameLen),
	}
	if clean.FullName == "" {
		clean.FullName = current.FullName
	}
	return s.store.UpdateProfileDetails(ctx, userID, clean)
}

func (s *ProfileService) uniqueReferralCode(ctx context.Context) (string, error) {
	for i := 0; i < referralCodeTries; i++ {
		code, err := newReferralCode()
		if err != nil {
			return "", err
		}
		_, err = s.store.GetProfileByReferralCode(ctx, code)
		if isNotFound(err) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", &domain.ErrConflict{Message: "could not allocate a unique referral code"}
}

func newReferralCode() (string, error) {
	var b strings.Builder
	radix := big.NewInt(int64(len(referralAlphabet)))
	for i := 0; i < referralCodeLen; i++ {
		n, err := rand.Int(rand.Reader, radix)
		if err != nil {
			return "", fmt.Errorf("generating referral code: %w", err)
		}
		b.WriteByte(referralAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// truncate trims whitespace and cuts to at most n runes.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > n {
		return strings.TrimSpace(string(r[:n]))
	}
	return s
}

func isNotFound(err error) bool {
	var nf *domain.ErrNotFound
	return errors.As(err, &nf)
}
