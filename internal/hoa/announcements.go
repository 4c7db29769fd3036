package hoa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/hoadmin/internal/backend"
	"github.com/dukerupert/hoadmin/internal/model"
)

// imageURLTTL is how long signed announcement image URLs stay valid.
const imageURLTTL = time.Hour

var ErrStorageUnavailable = errors.New("image storage is not configured")

// NewAnnouncement is the input to Announcements.Create. Image is optional.
type NewAnnouncement struct {
	Title       string
	Body        string
	PostedBy    string
	Image       io.Reader
	ImageName   string
	ContentType string
}

type Announcements struct {
	rows    backend.Rows
	storage backend.Storage
	logger  *slog.Logger
}

// NewAnnouncements builds the repository. storage may be nil, in which case
// announcements without images still work.
func NewAnnouncements(rows backend.Rows, storage backend.Storage, logger *slog.Logger) *Announcements {
	return &Announcements{rows: rows, storage: storage, logger: logger.With("component", "announcements")}
}

// Create uploads the image (if any) under a random key, then inserts the row.
// If the insert fails the uploaded image is removed again.
func (a *Announcements) Create(ctx context.Context, in NewAnnouncement) (*model.Announcement, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, errors.New("title is required")
	}

	row := model.Announcement{Title: in.Title, Body: in.Body, PostedBy: in.PostedBy}

	if in.Image != nil {
		if a.storage == nil {
			return nil, ErrStorageUnavailable
		}
		key := "announcements/" + uuid.NewString() + strings.ToLower(path.Ext(in.ImageName))
		if err := a.storage.Upload(ctx, key, in.Image, in.ContentType); err != nil {
			return nil, fmt.Errorf("upload announcement image: %w", err)
		}
		row.ImagePath = &key
	}

	var created model.Announcement
	if err := a.rows.Insert(ctx, tableAnnouncements, row, &created); err != nil {
		if row.ImagePath != nil {
			a.removeImage(ctx, *row.ImagePath)
		}
		return nil, fmt.Errorf("create announcement: %w", err)
	}
	return &created, nil
}

// List returns announcements newest first with signed image URLs filled in.
// A signing failure leaves ImageURL empty rather than failing the list.
func (a *Announcements) List(ctx context.Context) ([]model.Announcement, error) {
	var list []model.Announcement
	if err := a.rows.Select(ctx, tableAnnouncements, backend.Query{Order: "created_at", Desc: true}, &list); err != nil {
		return nil, fmt.Errorf("list announcements: %w", err)
	}
	if a.storage == nil {
		return list, nil
	}

	var paths []string
	for _, an := range list {
		if an.ImagePath != nil && *an.ImagePath != "" {
			paths = append(paths, *an.ImagePath)
		}
	}
	if len(paths) == 0 {
		return list, nil
	}

	urls, err := a.storage.SignURLs(ctx, paths, imageURLTTL)
	if err != nil {
		a.logger.Warn("sign announcement images", "error", err)
		return list, nil
	}
	for i := range list {
		if list[i].ImagePath != nil {
			list[i].ImageURL = urls[*list[i].ImagePath]
		}
	}
	return list, nil
}

// Delete removes the announcement and, best-effort, its image.
func (a *Announcements) Delete(ctx context.Context, id int64) error {
	var found []model.Announcement
	err := a.rows.Select(ctx, tableAnnouncements, backend.Query{
		Filters: []backend.Filter{backend.Eq("id", strconv.FormatInt(id, 10))},
		Limit:   1,
	}, &found)
	if err != nil {
		return fmt.Errorf("get announcement %d: %w", id, err)
	}
	if len(found) == 0 {
		return backend.ErrNotFound
	}

	if err := a.rows.Delete(ctx, tableAnnouncements, idFilter(id)); err != nil {
		return fmt.Errorf("delete announcement %d: %w", id, err)
	}
	if p := found[0].ImagePath; p != nil && *p != "" {
		a.removeImage(ctx, *p)
	}
	return nil
}

func (a *Announcements) removeImage(ctx context.Context, key string) {
	if a.storage == nil {
		return
	}
	if err := a.storage.Delete(ctx, key); err != nil {
		a.logger.Warn("delete announcement image", "key", key, "error", err)
	}
}
