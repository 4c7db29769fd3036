package hoa

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dukerupert/hoadmin/internal/backend"
	"github.com/dukerupert/hoadmin/internal/model"
)

type Reservations struct {
	rows backend.Rows
}

func NewReservations(rows backend.Rows) *Reservations {
	return &Reservations{rows: rows}
}

func (r *Reservations) Table() string { return tableReservations }

func (r *Reservations) List(ctx context.Context) ([]model.Reservation, error) {
	var list []model.Reservation
	q := backend.Query{Order: "date", Desc: false}
	if err := r.rows.Select(ctx, tableReservations, q, &list); err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	return list, nil
}

func (r *Reservations) Pending(ctx context.Context) ([]model.Reservation, error) {
	list, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	var pending []model.Reservation
	for _, res := range list {
		if res.Pending() {
			pending = append(pending, res)
		}
	}
	return pending, nil
}

func (r *Reservations) PendingIDs(ctx context.Context) ([]string, error) {
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

func (r *Reservations) Approve(ctx context.Context, id int64) error {
	return r.setStatus(ctx, id, model.ReservationStatusApproved)
}

func (r *Reservations) Reject(ctx context.Context, id int64) error {
	return r.setStatus(ctx, id, model.ReservationStatusRejected)
}

func (r *Reservations) setStatus(ctx context.Context, id int64, status string) error {
	if err := r.rows.Update(ctx, tableReservations, idFilter(id), map[string]any{"status": status}); err != nil {
		return fmt.Errorf("set reservation %d %s: %w", id, status, err)
	}
	return nil
}
