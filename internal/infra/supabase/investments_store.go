package supabase

import (
	"context"
	"fmt"
	"net/http"

	"github.com/boddenberg/mining-ledger/internal/domain"

	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// Products and investments
// ============================================================

func (c *Client) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetProduct")
	defer span.End()

	return getByID[domain.Product](ctx, c, "products", "product", id)
}

func (c *Client) ListProducts(ctx context.Context, activeOnly bool) ([]domain.Product, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListProducts")
	defer span.End()

	filters := []string{"order=sort_order.asc"}
	if activeOnly {
		filters = append(filters, "is_active=eq.true")
	}

	var rows []domain.Product
	err := c.read(ctx, "products", func() error {
		body, err := c.doRequest(ctx, http.MethodGet, query("products", filters...))
		if err != nil {
			return err
		}
		rows, err = decodeRows[domain.Product](body, "products")
		return err
	})
	return rows, err
}

func (c *Client) CreateInvestment(ctx context.Context, inv *domain.Investment) (*domain.Investment, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateInvestment")
	defer span.End()
	span.SetAttributes(attribute.String("product.id", inv.ProductID))

	row := map[string]any{
		"user_id":    inv.UserID,
		"product_id": inv.ProductID,
		"amount":     inv.Amount,
		"roi":        inv.Roi,
		"roi_paid":   inv.RoiPaid,
		"status":     domain.InvestmentActive,
	}
	if inv.ID != "" {
		row["id"] = inv.ID
	}
	return insertOne[domain.Investment](ctx, c, "investments", row)
}

func (c *Client) GetInvestment(ctx context.Context, id string) (*domain.Investment, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetInvestment")
	defer span.End()

	return getByID[domain.Investment](ctx, c, "investments", "investment", id)
}

func (c *Client) ListInvestments(ctx context.Context, f domain.InvestmentFilter) ([]domain.Investment, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListInvestments")
	defer span.End()

	filters := []string{"order=invested_at.desc", limit(f.Limit)}
	if f.UserID != "" {
		filters = append(filters, eq("user_id", f.UserID))
	}
	if f.Status != "" {
		filters = append(filters, eq("status", string(f.Status)))
	}

	var rows []domain.Investment
	err := c.read(ctx, "investments", func() error {
		body, err := c.doRequest(ctx, http.MethodGet, query("investments", filters...))
		if err != nil {
			return err
		}
		rows, err = decodeRows[domain.Investment](body, "investments")
		return err
	})
	return rows, err
}

// activeInvestmentRow embeds the product duration via a PostgREST join.
type activeInvestmentRow struct {
	domain.Investment
	Product *struct {
		DurationDays int `json:"duration_days"`
	} `json:"products"`
}

func (c *Client) ListActiveInvestments(ctx context.Context) ([]domain.Investment, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListActiveInvestments")
	defer span.End()

	path := query("investments",
		"select=*,products(duration_days)",
		eq("status", string(domain.InvestmentActive)),
		"order=invested_at.asc",
	)

	var out []domain.Investment
	err := c.read(ctx, "investments", func() error {
		body, err := c.doRequest(ctx, http.MethodGet, path)
		if err != nil {
			return err
		}
		rows, err := decodeRows[activeInvestmentRow](body, "investments")
		if err != nil {
			return err
		}
		out = make([]domain.Investment, 0, len(rows))
		for _, r := range rows {
			inv := r.Investment
			if r.Product != nil {
				inv.DurationDays = r.Product.DurationDays
			}
			out = append(out, inv)
		}
		return nil
	})
	return out, err
}

// UpdateInvestmentProgress is a single PATCH filtered on the expected
// roi_paid and status, so a concurrent writer makes it match nothing.
func (c *Client) UpdateInvestmentProgress(ctx context.Context, p domain.InvestmentProgress) (*domain.Investment, error) {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateInvestmentProgress")
	defer span.End()
	span.SetAttributes(
		attribute.String("investment.id", p.ID),
		attribute.Int64("roi_paid", p.RoiPaid),
	)

	path := query("investments",
		eq("id", p.ID),
		fmt.Sprintf("roi_paid=eq.%d", p.ExpectedRoiPaid),
		eq("status", string(p.ExpectedStatus)),
	)
	patch := map[string]any{
		"roi_paid":        p.RoiPaid,
		"status":          p.Status,
		"last_accrued_at": p.LastAccruedAt,
		"completed_at":    p.CompletedAt,
	}

	var updated *domain.Investment
	err := c.write("investments", func() error {
		body, err := c.doPatch(ctx, path, patch)
		if err != nil {
			return err
		}
		updated, _, err = decodeOne[domain.Investment](body, "investment")
		return err
	})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		if _, err := c.GetInvestment(ctx, p.ID); err != nil {
			return nil, err
		}
		return nil, &domain.ErrConflict{Message: fmt.Sprintf("investment %s changed concurrently", p.ID)}
	}
	return updated, nil
}
