package supabase

import (
	"context"
	"net/http"

	"github.com/boddenberg/mining-ledger/internal/domain"
)

// ============================================================
// Ledger journal and roles
// ============================================================

func (c *Client) ListEntries(ctx context.Context, userID string, n int) ([]domain.LedgerEntry, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListEntries")
	defer span.End()

	var rows []domain.LedgerEntry
	err := c.read(ctx, "ledger_entries", func() error {
		path := query("ledger_entries", eq("user_id", userID), "order=created_at.desc", limit(n))
		body, err := c.doRequest(ctx, http.MethodGet, path)
		if err != nil {
			return err
		}
		rows, err = decodeRows[domain.LedgerEntry](body, "ledger entries")
		return err
	})
	return rows, err
}

func (c *Client) IsAdmin(ctx context.Context, userID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "Supabase.IsAdmin")
	defer span.End()

	var admin bool
	err := c.read(ctx, "user_roles", func() error {
		path := query("user_roles", "select=role", eq("user_id", userID), "role=eq.admin", "limit=1")
		body, err := c.doRequest(ctx, http.MethodGet, path)
		if err != nil {
			return err
		}
		rows, err := decodeRows[struct {
			Role string `json:"role"`
		}](body, "roles")
		admin = len(rows) > 0
		return err
	})
	return admin, err
}
