// Package backendtest provides in-memory implementations of the backend
// interfaces for tests.
package backendtest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/dukerupert/hoadmin/internal/backend"
)

// Recorder collects calls across fakes so tests can assert ordering.
type Recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *Recorder) Record(call string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func (r *Recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// Count returns how many recorded calls equal call.
func (r *Recorder) Count(call string) int {
	n := 0
	for _, c := range r.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeInto(v any, dest any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func matches(row map[string]any, filters []backend.Filter) bool {
	for _, f := range filters {
		if fmt.Sprint(row[f.Column]) != f.Value {
			return false
		}
	}
	return true
}

// Rows is an in-memory table store. Rows are returned in insertion order,
// reversed when the query asks for descending order.
type Rows struct {
	Rec *Recorder

	mu     sync.Mutex
	tables map[string][]map[string]any
	nextID int64

	SelectErr error
	InsertErr error
	UpdateErr error
	DeleteErr error
}

func NewRows() *Rows {
	return &Rows{tables: make(map[string][]map[string]any)}
}

// Seed appends row to table as-is, assigning an id when it has none.
func (f *Rows) Seed(table string, row any) {
	m, err := toMap(row)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assignID(m)
	f.tables[table] = append(f.tables[table], m)
}

// Table returns a copy of the rows in table.
func (f *Rows) Table(table string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.tables[table])
}

// SetSelectErr changes the select failure under lock; safe while a watcher polls.
func (f *Rows) SetSelectErr(err error) {
	f.mu.Lock()
	f.SelectErr = err
	f.mu.Unlock()
}

func (f *Rows) assignID(m map[string]any) {
	if id, ok := m["id"]; ok && fmt.Sprint(id) != "0" {
		return
	}
	f.nextID++
	m["id"] = json.Number(strconv.FormatInt(f.nextID, 10))
}

func (f *Rows) Select(_ context.Context, table string, q backend.Query, dest any) error {
	f.Rec.Record("select " + table)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SelectErr != nil {
		return f.SelectErr
	}

	out := []map[string]any{}
	for _, row := range f.tables[table] {
		if matches(row, q.Filters) {
			out = append(out, row)
		}
	}
	if q.Desc {
		slices.Reverse(out)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return decodeInto(out, dest)
}

func (f *Rows) Insert(_ context.Context, table string, row any, dest any) error {
	f.Rec.Record("insert " + table)
	if f.InsertErr != nil {
		return f.InsertErr
	}
	m, err := toMap(row)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.assignID(m)
	if _, ok := m["created_at"]; !ok || m["created_at"] == "0001-01-01T00:00:00Z" {
		m["created_at"] = time.Now().UTC().Format(time.RFC3339)
	}
	f.tables[table] = append(f.tables[table], m)
	f.mu.Unlock()

	if dest == nil {
		return nil
	}
	return decodeInto(m, dest)
}

func (f *Rows) Update(_ context.Context, table string, filters []backend.Filter, patch any) error {
	f.Rec.Record("update " + table)
	if f.UpdateErr != nil {
		return f.UpdateErr
	}
	p, err := toMap(patch)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.tables[table] {
		if matches(row, filters) {
			for k, v := range p {
				row[k] = v
			}
		}
	}
	return nil
}

func (f *Rows) Delete(_ context.Context, table string, filters []backend.Filter) error {
	f.Rec.Record("delete " + table)
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[table] = slices.DeleteFunc(f.tables[table], func(row map[string]any) bool {
		return matches(row, filters)
	})
	return nil
}

// RPC returns queued results in order; the last one repeats.
type RPC struct {
	Rec     *Recorder
	Results []json.RawMessage
	Err     error

	mu    sync.Mutex
	calls int
}

func (f *RPC) Call(_ context.Context, fn string, _ any) (json.RawMessage, error) {
	f.Rec.Record("rpc " + fn)
	if f.Err != nil {
		return nil, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Results) == 0 {
		return json.RawMessage("null"), nil
	}
	i := min(f.calls, len(f.Results)-1)
	f.calls++
	return f.Results[i], nil
}

// Storage keeps objects in memory.
type Storage struct {
	mu      sync.Mutex
	Objects map[string][]byte

	UploadErr error
	SignErr   error
	DeleteErr error
}

func NewStorage() *Storage {
	return &Storage{Objects: make(map[string][]byte)}
}

func (f *Storage) Upload(_ context.Context, path string, r io.Reader, _ string) error {
	if f.UploadErr != nil {
		return f.UploadErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.Objects[path] = data
	f.mu.Unlock()
	return nil
}

func (f *Storage) PublicURL(path string) string {
	return "https://storage.test/public/" + path
}

func (f *Storage) SignedURL(_ context.Context, path string, _ time.Duration) (string, error) {
	if f.SignErr != nil {
		return "", f.SignErr
	}
	return "https://storage.test/signed/" + path, nil
}

func (f *Storage) SignURLs(ctx context.Context, paths []string, ttl time.Duration) (map[string]string, error) {
	out := make(map[string]string, len(paths))
	for _, p := range paths {
		u, err := f.SignedURL(ctx, p, ttl)
		if err != nil {
			return nil, err
		}
		out[p] = u
	}
	return out, nil
}

func (f *Storage) Delete(_ context.Context, paths ...string) error {
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range paths {
		delete(f.Objects, p)
	}
	return nil
}

// Has reports whether path is stored.
func (f *Storage) Has(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.Objects[path]
	return ok
}
