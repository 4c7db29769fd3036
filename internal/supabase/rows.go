package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/dukerupert/hoadmin/internal/backend"
)

var (
	_ backend.Rows = (*Client)(nil)
	_ backend.RPC  = (*Client)(nil)
)

func filterQuery(filters []backend.Filter) url.Values {
	q := url.Values{}
	for _, f := range filters {
		q.Add(f.Column, "eq."+f.Value)
	}
	return q
}

// Select reads rows of table into dest, which must point to a slice.
func (c *Client) Select(ctx context.Context, table string, q backend.Query, dest any) error {
	query := filterQuery(q.Filters)
	cols := q.Columns
	if cols == "" {
		cols = "*"
	}
	query.Set("select", cols)
	if q.Order != "" {
		dir := "asc"
		if q.Desc {
			dir = "desc"
		}
		query.Set("order", q.Order+"."+dir)
	}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}

	data, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/rest/v1/" + table,
		query:  query,
	})
	if err != nil {
		return fmt.Errorf("select %s: %w", table, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decode %s: %w", table, err)
	}
	return nil
}

// Insert inserts row and, if dest is non-nil, decodes the created row into it.
func (c *Client) Insert(ctx context.Context, table string, row any, dest any) error {
	prefer := "return=minimal"
	if dest != nil {
		prefer = "return=representation"
	}
	data, err := c.do(ctx, request{
		method:  http.MethodPost,
		path:    "/rest/v1/" + table,
		body:    row,
		headers: map[string]string{"Prefer": prefer},
	})
	if err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	if dest == nil {
		return nil
	}

	var created []json.RawMessage
	if err := json.Unmarshal(data, &created); err != nil {
		return fmt.Errorf("decode inserted %s: %w", table, err)
	}
	if len(created) == 0 {
		return fmt.Errorf("insert %s: no row returned", table)
	}
	if err := json.Unmarshal(created[0], dest); err != nil {
		return fmt.Errorf("decode inserted %s: %w", table, err)
	}
	return nil
}

func (c *Client) Update(ctx context.Context, table string, filters []backend.Filter, patch any) error {
	if len(filters) == 0 {
		return fmt.Errorf("update %s: refusing unfiltered update", table)
	}
	_, err := c.do(ctx, request{
		method:  http.MethodPatch,
		path:    "/rest/v1/" + table,
		query:   filterQuery(filters),
		body:    patch,
		headers: map[string]string{"Prefer": "return=minimal"},
	})
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, table string, filters []backend.Filter) error {
	if len(filters) == 0 {
		return fmt.Errorf("delete %s: refusing unfiltered delete", table)
	}
	_, err := c.do(ctx, request{
		method:  http.MethodDelete,
		path:    "/rest/v1/" + table,
		query:   filterQuery(filters),
		headers: map[string]string{"Prefer": "return=minimal"},
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	return nil
}

// Call invokes a database function and returns its raw JSON result.
func (c *Client) Call(ctx context.Context, fn string, args any) (json.RawMessage, error) {
	if args == nil {
		args = map[string]any{}
	}
	data, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/rest/v1/rpc/" + fn,
		body:   args,
	})
	if err != nil {
		return nil, fmt.Errorf("rpc %s: %w", fn, err)
	}
	return json.RawMessage(data), nil
}
