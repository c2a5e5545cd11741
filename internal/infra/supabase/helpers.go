package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ============================================================
// HTTP helpers for POST, PATCH and RPC
// ============================================================

// doPost inserts one row and returns the representation.
func (c *Client) doPost(ctx context.Context, table string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, http.MethodPost, table, bytes.NewReader(payload), "return=representation")
}

// doPatch updates the rows matched by path and returns them. PostgREST
// filters make this a single conditional UPDATE, so an empty result means
// nothing matched.
func (c *Client) doPatch(ctx context.Context, path string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, http.MethodPatch, path, bytes.NewReader(payload), "return=representation")
}

// doRPC calls a Postgres function exposed under /rpc.
func (c *Client) doRPC(ctx context.Context, fn string, args any) ([]byte, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, http.MethodPost, "rpc/"+fn, bytes.NewReader(payload), "")
}

// decodeRows unmarshals a PostgREST array.
func decodeRows[T any](body []byte, what string) ([]T, error) {
	rows := []T{}
	if len(bytes.TrimSpace(body)) == 0 {
		return rows, nil
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode %s: %w", what, err)
	}
	return rows, nil
}

// decodeOne accepts either a single object or a one-element array.
func decodeOne[T any](body []byte, what string) (*T, bool, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, false, nil
	}
	if trimmed[0] == '[' {
		rows, err := decodeRows[T](trimmed, what)
		if err != nil || len(rows) == 0 {
			return nil, false, err
		}
		return &rows[0], true, nil
	}
	var v T
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", what, err)
	}
	return &v, true, nil
}

// eq builds a PostgREST equality filter with an escaped value.
func eq(column, value string) string {
	return column + "=eq." + url.QueryEscape(value)
}

// in builds a PostgREST in.(...) filter.
func in(column string, values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
	}
	return column + "=in.(" + url.QueryEscape(strings.Join(quoted, ",")) + ")"
}

// query joins a table with its filters.
func query(table string, filters ...string) string {
	var parts []string
	for _, f := range filters {
		if f != "" {
			parts = append(parts, f)
		}
	}
	if len(parts) == 0 {
		return table
	}
	return table + "?" + strings.Join(parts, "&")
}

func limit(n int) string {
	if n <= 0 {
		return ""
	}
	return fmt.Sprintf("limit=%d", n)
}
