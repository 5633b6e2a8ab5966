package memory

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/fruitsalade/blobtext/pkg/models"
	"github.com/fruitsalade/blobtext/pkg/pathname"
)

func TestPutWithSuffix(t *testing.T) {
	ctx := context.Background()
	s := New("", WithSuffixFunc(func() string { return "abcdefghijklmnopqrstu" }))

	res, err := s.Put(ctx, "docs/readme.md", "hello", models.PutOptions{AddRandomSuffix: true})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if res.Pathname != "docs/readme-abcdefghijklmnopqrstu.md" {
		t.Errorf("Pathname = %q", res.Pathname)
	}
	if res.URL != DefaultBaseURL+res.Pathname {
		t.Errorf("URL = %q", res.URL)
	}
	if res.DownloadURL != res.URL+"?download=1" {
		t.Errorf("DownloadURL = %q", res.DownloadURL)
	}
	if pathname.Decode(res.Pathname) != "docs/readme.md" {
		t.Errorf("suffix does not decode: %q", res.Pathname)
	}

	content, err := s.GetContent(ctx, res.DownloadURL)
	if err != nil || content != "hello" {
		t.Errorf("GetContent = %q, %v", content, err)
	}
}

func TestPutWithoutSuffixOverwrites(t *testing.T) {
	ctx := context.Background()
	s := New("http://x/o")

	first, _ := s.Put(ctx, "a.txt", "one", models.PutOptions{})
	second, _ := s.Put(ctx, "a.txt", "two", models.PutOptions{})
	if first.URL != second.URL || first.URL != "http://x/o/a.txt" {
		t.Errorf("URLs = %q, %q", first.URL, second.URL)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
	content, _ := s.GetContent(ctx, first.URL)
	if content != "two" {
		t.Errorf("content = %q, want two", content)
	}
}

func TestPutRejectsDirectory(t *testing.T) {
	if _, err := New("").Put(context.Background(), "dir/", "", models.PutOptions{}); err == nil {
		t.Error("expected error for directory pathname")
	}
}

func TestCreateDirectoryMarker(t *testing.T) {
	ctx := context.Background()
	s := New("")
	res, err := s.CreateDirectoryMarker(ctx, "folder")
	if err != nil {
		t.Fatalf("CreateDirectoryMarker: %v", err)
	}
	if res.Pathname != "folder/" || !strings.HasSuffix(res.URL, "/folder/") {
		t.Errorf("result = %+v", res)
	}
	objects, _ := s.List(ctx)
	if len(objects) != 1 {
		t.Fatalf("List returned %d objects", len(objects))
	}
	if objects[0].ContentType != models.ContentTypeDirectory || objects[0].Size != 0 {
		t.Errorf("marker = %+v", objects[0])
	}
}

func TestListOrderAndDelete(t *testing.T) {
	ctx := context.Background()
	s := New("")
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := s.Seed("a.txt", "a", ts)
	b := s.Seed("dir/", "ignored", ts)
	c := s.Seed("dir/c.txt", "c", ts)

	objects, _ := s.List(ctx)
	var keys []string
	for _, o := range objects {
		keys = append(keys, o.Pathname)
	}
	if strings.Join(keys, ",") != "a.txt,dir/,dir/c.txt" {
		t.Errorf("order = %v", keys)
	}
	if objects[1].Size != 0 {
		t.Errorf("directory marker should be empty, got size %d", objects[1].Size)
	}

	if err := s.Delete(ctx, []string{b.URL, c.URL, "https://unknown/url"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	objects, _ = s.List(ctx)
	if len(objects) != 1 || objects[0].URL != a.URL {
		t.Errorf("after delete = %+v", objects)
	}
}

func TestGetContentMissing(t *testing.T) {
	_, err := New("").GetContent(context.Background(), "https://mock.blob.local/nope")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("err = %v, want fs.ErrNotExist", err)
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New("").List(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
