// Package hoa holds typed repositories over the backend's HOA tables.
package hoa

import (
	"context"
	"fmt"
	"strings"

	"github.com/dukerupert/hoadmin/internal/backend"
	"github.com/dukerupert/hoadmin/internal/model"
)

const (
	tableAdmins        = "admins"
	tableResidents     = "residents"
	tableReservations  = "reservations"
	tableAnnouncements = "announcements"

	rpcGenerateAdminID = "generate_admin_id"
)

type Admins struct {
	rows backend.Rows
	rpc  backend.RPC
}

func NewAdmins(rows backend.Rows, rpc backend.RPC) *Admins {
	return &Admins{rows: rows, rpc: rpc}
}

// EmailExists reports whether any admin account already uses email as its
// contact address. The comparison is case-insensitive.
func (a *Admins) EmailExists(ctx context.Context, email string) (bool, error) {
	var found []struct {
		ID int64 `json:"id"`
	}
	err := a.rows.Select(ctx, tableAdmins, backend.Query{
		Filters: []backend.Filter{backend.Eq("email", strings.ToLower(strings.TrimSpace(email)))},
		Columns: "id",
		Limit:   1,
	}, &found)
	if err != nil {
		return false, fmt.Errorf("check admin email: %w", err)
	}
	return len(found) > 0, nil
}

// ByAuthUser returns the admin linked to an auth identity, or nil if none.
func (a *Admins) ByAuthUser(ctx context.Context, userID string) (*model.AdminAccount, error) {
	var found []model.AdminAccount
	err := a.rows.Select(ctx, tableAdmins, backend.Query{
		Filters: []backend.Filter{backend.Eq("user_id", userID)},
		Limit:   1,
	}, &found)
	if err != nil {
		return nil, fmt.Errorf("get admin by user: %w", err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

func (a *Admins) ByAdminID(ctx context.Context, adminID string) (*model.AdminAccount, error) {
	var found []model.AdminAccount
	err := a.rows.Select(ctx, tableAdmins, backend.Query{
		Filters: []backend.Filter{backend.Eq("admin_id", adminID)},
		Limit:   1,
	}, &found)
	if err != nil {
		return nil, fmt.Errorf("get admin: %w", err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

// Create inserts acct and returns the stored row.
func (a *Admins) Create(ctx context.Context, acct *model.AdminAccount) (*model.AdminAccount, error) {
	row := *acct
	row.Email = strings.ToLower(strings.TrimSpace(row.Email))

	var created model.AdminAccount
	if err := a.rows.Insert(ctx, tableAdmins, row, &created); err != nil {
		return nil, fmt.Errorf("create admin: %w", err)
	}
	return &created, nil
}

// GenerateAdminID asks the backend for a fresh unique admin identifier.
func (a *Admins) GenerateAdminID(ctx context.Context) (string, error) {
	raw, err := a.rpc.Call(ctx, rpcGenerateAdminID, nil)
	if err != nil {
		return "", fmt.Errorf("generate admin id: %w", err)
	}
	id, err := backend.NormalizeAdminID(raw)
	if err != nil {
		return "", fmt.Errorf("generate admin id: %w", err)
	}
	return id, nil
}
