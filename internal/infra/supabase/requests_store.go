package supabase

import (
	"context"
	"fmt"
	"net/http"

	"github.com/boddenberg/mining-ledger/internal/domain"

	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// Deposits and withdrawals — admin-gated requests
// ============================================================

func (c *Client) CreateDeposit(ctx context.Context, d *domain.Deposit) (*domain.Deposit, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateDeposit")
	defer span.End()

	row := map[string]any{
		"user_id":        d.UserID,
		"amount":         d.Amount,
		"transaction_id": d.TransactionID,
		"proof_note":     d.ProofNote,
		"status":         domain.RequestPending,
	}
	return insertOne[domain.Deposit](ctx, c, "deposits", row)
}

func (c *Client) GetDeposit(ctx context.Context, id string) (*domain.Deposit, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetDeposit")
	defer span.End()

	return getByID[domain.Deposit](ctx, c, "deposits", "deposit", id)
}

func (c *Client) ListDeposits(ctx context.Context, f domain.RequestFilter) ([]domain.Deposit, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListDeposits")
	defer span.End()

	return listRequests[domain.Deposit](ctx, c, "deposits", f)
}

func (c *Client) TransitionDeposit(ctx context.Context, id string, from, to domain.RequestStatus) (*domain.Deposit, error) {
	ctx, span := tracer.Start(ctx, "Supabase.TransitionDeposit")
	defer span.End()
	span.SetAttributes(attribute.String("deposit.id", id), attribute.String("status.to", string(to)))

	d, err := transition[domain.Deposit](ctx, c, "deposits", id, from, to)
	if d == nil && err == nil {
		current, gerr := c.GetDeposit(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		return nil, &domain.ErrConflict{Message: fmt.Sprintf("deposit %s is %s, not %s", id, current.Status, from)}
	}
	return d, err
}

func (c *Client) CreateWithdrawal(ctx context.Context, w *domain.Withdrawal) (*domain.Withdrawal, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateWithdrawal")
	defer span.End()

	row := map[string]any{
		"user_id":        w.UserID,
		"amount":         w.Amount,
		"bank_name":      w.BankName,
		"account_number": w.AccountNumber,
		"account_name":   w.AccountName,
		"status":         domain.RequestPending,
	}
	return insertOne[domain.Withdrawal](ctx, c, "withdrawals", row)
}

func (c *Client) GetWithdrawal(ctx context.Context, id string) (*domain.Withdrawal, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetWithdrawal")
	defer span.End()

	return getByID[domain.Withdrawal](ctx, c, "withdrawals", "withdrawal", id)
}

func (c *Client) ListWithdrawals(ctx context.Context, f domain.RequestFilter) ([]domain.Withdrawal, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListWithdrawals")
	defer span.End()

	return listRequests[domain.Withdrawal](ctx, c, "withdrawals", f)
}

func (c *Client) TransitionWithdrawal(ctx context.Context, id string, from, to domain.RequestStatus) (*domain.Withdrawal, error) {
	ctx, span := tracer.Start(ctx, "Supabase.TransitionWithdrawal")
	defer span.End()
	span.SetAttributes(attribute.String("withdrawal.id", id), attribute.String("status.to", string(to)))

	w, err := transition[domain.Withdrawal](ctx, c, "withdrawals", id, from, to)
	if w == nil && err == nil {
		current, gerr := c.GetWithdrawal(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		return nil, &domain.ErrConflict{Message: fmt.Sprintf("withdrawal %s is %s, not %s", id, current.Status, from)}
	}
	return w, err
}

// --- generic row helpers ---

func insertOne[T any](ctx context.Context, c *Client, table string, row map[string]any) (*T, error) {
	var created *T
	err := c.write(table, func() error {
		body, err := c.doPost(ctx, table, row)
		if err != nil {
			return err
		}
		var ok bool
		created, ok, err = decodeOne[T](body, table)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("insert into %s returned no row", table)
		}
		return nil
	})
	return created, err
}

func getByID[T any](ctx context.Context, c *Client, table, resource, id string) (*T, error) {
	var row *T
	err := c.read(ctx, table, func() error {
		body, err := c.doRequest(ctx, http.MethodGet, query(table, eq("id", id), "limit=1"))
		if err != nil {
			return err
		}
		rows, err := decodeRows[T](body, resource)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return &domain.ErrNotFound{Resource: resource, ID: id}
		}
		row = &rows[0]
		return nil
	})
	return row, err
}

func listRequests[T any](ctx context.Context, c *Client, table string, f domain.RequestFilter) ([]T, error) {
	filters := []string{"order=created_at.desc", limit(f.Limit)}
	if f.UserID != "" {
		filters = append(filters, eq("user_id", f.UserID))
	}
	if f.Status != "" {
		filters = append(filters, eq("status", string(f.Status)))
	}

	var rows []T
	err := c.read(ctx, table, func() error {
		body, err := c.doRequest(ctx, http.MethodGet, query(table, filters...))
		if err != nil {
			return err
		}
		rows, err = decodeRows[T](body, table)
		return err
	})
	return rows, err
}

// transition returns (nil, nil) when no row matched id+from.
func transition[T any](ctx context.Context, c *Client, table, id string, from, to domain.RequestStatus) (*T, error) {
	if err := domain.CheckTransition(from, to); err != nil {
		return nil, err
	}
	var updated *T
	err := c.write(table, func() error {
		path := query(table, eq("id", id), eq("status", string(from)))
		body, err := c.doPatch(ctx, path, map[string]any{"status": to})
		if err != nil {
			return err
		}
		updated, _, err = decodeOne[T](body, table)
		return err
	})
	return updated, err
}
