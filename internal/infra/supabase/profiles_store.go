package supabase

import (
	"context"
	"errors"
	"net/http"

	"github.com/boddenberg/mining-ledger/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Profiles — the balance ledger
// ============================================================

func (c *Client) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetProfile")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	return c.findProfile(ctx, eq("user_id", userID), userID)
}

func (c *Client) GetProfileByPhone(ctx context.Context, phone string) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetProfileByPhone")
	defer span.End()

	return c.findProfile(ctx, eq("phone", phone), phone)
}

func (c *Client) GetProfileByReferralCode(ctx context.Context, code string) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetProfileByReferralCode")
	defer span.End()

	return c.findProfile(ctx, eq("referral_code", code), code)
}

func (c *Client) findProfile(ctx context.Context, filter, id string) (*domain.Profile, error) {
	var profile *domain.Profile
	err := c.read(ctx, "profiles", func() error {
		body, err := c.doRequest(ctx, http.MethodGet, query("profiles", filter, "limit=1"))
		if err != nil {
			return err
		}
		rows, err := decodeRows[domain.Profile](body, "profile")
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return &domain.ErrNotFound{Resource: "profile", ID: id}
		}
		profile = &rows[0]
		return nil
	})
	return profile, err
}

func (c *Client) CreateProfile(ctx context.Context, p *domain.Profile) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateProfile")
	defer span.End()

	row := map[string]any{
		"user_id":           p.UserID,
		"phone":             p.Phone,
		"full_name":         p.FullName,
		"balance":           p.Balance,
		"referral_code":     p.ReferralCode,
		"referred_by":       p.ReferredBy,
		"referral_earnings": p.ReferralEarnings,
	}

	var created *domain.Profile
	err := c.write("profiles", func() error {
		body, err := c.doPost(ctx, "profiles", row)
		if err != nil {
			return err
		}
		created, _, err = decodeOne[domain.Profile](body, "profile")
		return err
	})
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, &domain.ErrNotFound{Resource: "profile", ID: p.UserID}
	}
	return created, nil
}

func (c *Client) UpdateProfileDetails(ctx context.Context, userID string, d domain.ProfileDetails) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateProfileDetails")
	defer span.End()

	patch := map[string]any{
		"full_name":      d.FullName,
		"bank_name":      d.BankName,
		"account_number": d.AccountNumber,
		"account_name":   d.AccountName,
	}

	var updated *domain.Profile
	err := c.write("profiles", func() error {
		body, err := c.doPatch(ctx, query("profiles", eq("user_id", userID)), patch)
		if err != nil {
			return err
		}
		var ok bool
		updated, ok, err = decodeOne[domain.Profile](body, "profile")
		if err != nil {
			return err
		}
		if !ok {
			return &domain.ErrNotFound{Resource: "profile", ID: userID}
		}
		return nil
	})
	return updated, err
}

func (c *Client) ListProfiles(ctx context.Context, n int) ([]domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListProfiles")
	defer span.End()

	var rows []domain.Profile
	err := c.read(ctx, "profiles", func() error {
		body, err := c.doRequest(ctx, http.MethodGet, query("profiles", "order=created_at.desc", limit(n)))
		if err != nil {
			return err
		}
		rows, err = decodeRows[domain.Profile](body, "profiles")
		return err
	})
	return rows, err
}

func (c *Client) ListProfilesByUserIDs(ctx context.Context, userIDs []string) ([]domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListProfilesByUserIDs")
	defer span.End()

	if len(userIDs) == 0 {
		return []domain.Profile{}, nil
	}

	var rows []domain.Profile
	err := c.read(ctx, "profiles", func() error {
		body, err := c.doRequest(ctx, http.MethodGet, query("profiles", in("user_id", userIDs)))
		if err != nil {
			return err
		}
		rows, err = decodeRows[domain.Profile](body, "profiles")
		return err
	})
	return rows, err
}

// AdjustBalance applies a relative delta through the adjust_balance SQL
// function, which performs a single guarded UPDATE ... RETURNING and, for
// a referenced delta, writes the journal row in the same transaction.
func (c *Client) AdjustBalance(ctx context.Context, userID string, delta domain.BalanceDelta) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "Supabase.AdjustBalance")
	defer span.End()
	span.SetAttributes(
		attribute.String("user.id", userID),
		attribute.Int64("delta.balance", delta.Balance),
	)

	args := map[string]any{
		"p_user_id":            userID,
		"p_delta":              delta.Balance,
		"p_referral_delta":     delta.ReferralEarnings,
		"p_require_sufficient": delta.RequireSufficient,
	}
	if delta.Reference != "" {
		args["p_kind"] = delta.Kind
		args["p_reference"] = delta.Reference
	}

	var updated *domain.Profile
	err := c.write("adjust_balance", func() error {
		body, err := c.doRPC(ctx, "adjust_balance", args)
		if err != nil {
			return err
		}
		var ok bool
		updated, ok, err = decodeOne[domain.Profile](body, "profile")
		if err != nil {
			return err
		}
		if !ok {
			return &domain.ErrNotFound{Resource: "profile", ID: userID}
		}
		return nil
	})
	if err != nil {
		var fe *domain.ErrInsufficientFunds
		if errors.As(err, &fe) {
			fe.Required = -delta.Balance
		}
		return nil, err
	}

	c.logger.Info("supabase: balance adjusted",
		zap.String("user_id", userID),
		zap.Int64("delta", delta.Balance),
		zap.Int64("referral_delta", delta.ReferralEarnings),
		zap.Int64("balance", updated.Balance),
	)
	return updated, nil
}
