package hoa

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dukerupert/hoadmin/internal/backend"
	"github.com/dukerupert/hoadmin/internal/model"
)

type Residents struct {
	rows backend.Rows
}

func NewResidents(rows backend.Rows) *Residents {
	return &Residents{rows: rows}
}

// Table is the backend table residents live in.
func (r *Residents) Table() string { return tableResidents }

func (r *Residents) List(ctx context.Context) ([]model.Resident, error) {
	var list []model.Resident
	if err := r.rows.Select(ctx, tableResidents, backend.Query{Order: "created_at", Desc: true}, &list); err != nil {
		return nil, fmt.Errorf("list residents: %w", err)
	}
	return list, nil
}

func (r *Residents) Pending(ctx context.Context) ([]model.Resident, error) {
	list, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	var pending []model.Resident
	for _, res := range list {
		if res.Pending() {
			pending = append(pending, res)
		}
	}
	return pending, nil
}

// PendingIDs returns the identifiers of registrations awaiting review.
func (r *Residents) PendingIDs(ctx context.Context) ([]string, error) {
	pending, err := r.Pending(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(pending))
	for _, res := range pending {
		ids = append(ids, strconv.FormatInt(res.ID, 10))
	}
	return ids, nil
}

func (r *Residents) Approve(ctx context.Context, id int64) error {
	err := r.rows.Update(ctx, tableResidents, idFilter(id), map[string]any{
		"is_verified": true,
		"status":      model.ResidentStatusApproved,
	})
	if err != nil {
		return fmt.Errorf("approve resident %d: %w", id, err)
	}
	return nil
}

func (r *Residents) Reject(ctx context.Context, id int64) error {
	err := r.rows.Update(ctx, tableResidents, idFilter(id), map[string]any{
		"is_verified": false,
		"status":      model.ResidentStatusRejected,
	})
	if err != nil {
		return fmt.Errorf("reject resident %d: %w", id, err)
	}
	return nil
}

func idFilter(id int64) []backend.Filter {
	return []backend.Filter{backend.Eq("id", strconv.FormatInt(id, 10))}
}
