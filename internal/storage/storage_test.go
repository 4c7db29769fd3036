package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dukerupert/hoadmin/internal/config"
)

// mockS3Client implements s3Client and presigner for testing.
type mockS3Client struct {
	mu        sync.Mutex
	objects   map[string][]byte
	types     map[string]string
	signCalls int
	putErr    error
	signErr   error
	delErrors []types.Error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, _ := io.ReadAll(input.Body)
	m.objects[*input.Key] = data
	m.types[*input.Key] = aws.ToString(input.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) DeleteObjects(_ context.Context, input *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range input.Delete.Objects {
		delete(m.objects, *o.Key)
	}
	return &s3.DeleteObjectsOutput{Errors: m.delErrors}, nil
}

func (m *mockS3Client) PresignGetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	m.mu.Lock()
	m.signCalls++
	m.mu.Unlock()
	if m.signErr != nil {
		return nil, m.signErr
	}
	return &v4.PresignedHTTPRequest{URL: "https://signed.test/" + *input.Key + "?sig=1"}, nil
}

func newTestBucket(m *mockS3Client) *Bucket {
	return &Bucket{
		client:    m,
		presign:   m,
		bucket:    "announcements",
		publicURL: "https://cdn.test/announcements",
		logger:    slog.New(slog.DiscardHandler),
	}
}

func TestUpload(t *testing.T) {
	m := newMockS3()
	b := newTestBucket(m)

	if err := b.Upload(context.Background(), "images/a.png", strings.NewReader("png"), "image/png"); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if string(m.objects["images/a.png"]) != "png" {
		t.Errorf("stored = %q, want png", m.objects["images/a.png"])
	}
	if m.types["images/a.png"] != "image/png" {
		t.Errorf("content type = %q", m.types["images/a.png"])
	}
}

func TestUploadError(t *testing.T) {
	m := newMockS3()
	m.putErr = errors.New("boom")
	b := newTestBucket(m)

	if err := b.Upload(context.Background(), "x", strings.NewReader(""), ""); err == nil {
		t.Fatal("expected error")
	}
}

func TestPublicURL(t *testing.T) {
	b := newTestBucket(newMockS3())
	if got := b.PublicURL("/images/a.png"); got != "https://cdn.test/announcements/images/a.png" {
		t.Errorf("public url = %q", got)
	}
}

func TestNewDerivesPublicURLFromEndpoint(t *testing.T) {
	b := New(config.Storage{
		Endpoint:  "http://localhost:9000/",
		Region:    "us-east-1",
		Bucket:    "announcements",
		AccessKey: "key",
		SecretKey: "secret",
	}, slog.New(slog.DiscardHandler))

	if got := b.PublicURL("a.png"); got != "http://localhost:9000/announcements/a.png" {
		t.Errorf("public url = %q", got)
	}
}

func TestSignURLsDeduplicates(t *testing.T) {
	m := newMockS3()
	b := newTestBucket(m)

	urls, err := b.SignURLs(context.Background(), []string{"a.png", "b.png", "a.png", ""}, time.Hour)
	if err != nil {
		t.Fatalf("sign urls: %v", err)
	}
	if len(urls) != 2 {
		t.Fatalf("got %d urls, want 2", len(urls))
	}
	if urls["b.png"] != "https://signed.test/b.png?sig=1" {
		t.Errorf("b.png = %q", urls["b.png"])
	}
	if m.signCalls != 2 {
		t.Errorf("sign calls = %d, want 2", m.signCalls)
	}
}

func TestSignURLsError(t *testing.T) {
	m := newMockS3()
	m.signErr = errors.New("no credentials")
	b := newTestBucket(m)

	if _, err := b.SignURLs(context.Background(), []string{"a.png"}, time.Hour); err == nil {
		t.Fatal("expected error")
	}
}

func TestDelete(t *testing.T) {
	m := newMockS3()
	m.objects["a.png"] = []byte("a")
	m.objects["b.png"] = []byte("b")
	b := newTestBucket(m)

	if err := b.Delete(context.Background(), "a.png", "b.png"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(m.objects) != 0 {
		t.Errorf("objects left = %d, want 0", len(m.objects))
	}
}

func TestDeleteReportsObjectErrors(t *testing.T) {
	m := newMockS3()
	m.delErrors = []types.Error{{Key: aws.String("a.png"), Message: aws.String("AccessDenied")}}
	b := newTestBucket(m)

	err := b.Delete(context.Background(), "a.png")
	if err == nil || !strings.Contains(err.Error(), "AccessDenied") {
		t.Errorf("err = %v, want AccessDenied", err)
	}
}

func TestDeleteNothing(t *testing.T) {
	b := newTestBucket(newMockS3())
	if err := b.Delete(context.Background()); err != nil {
		t.Errorf("delete: %v", err)
	}
}
