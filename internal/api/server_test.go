package api

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fruitsalade/blobtext/internal/auth"
	"github.com/fruitsalade/blobtext/internal/events"
	"github.com/fruitsalade/blobtext/internal/explorer"
	"github.com/fruitsalade/blobtext/internal/gateway"
	"github.com/fruitsalade/blobtext/internal/gateway/memory"
	"github.com/fruitsalade/blobtext/pkg/models"
	"github.com/fruitsalade/blobtext/pkg/protocol"
	"github.com/fruitsalade/blobtext/pkg/validate"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// brokenGateway fails writes, or hangs them until the context ends.
type brokenGateway struct {
	*memory.Store
	hang bool
}

func (b *brokenGateway) Put(ctx context.Context, p, content string, opts models.PutOptions) (models.PutResult, error) {
	if b.hang {
		<-ctx.Done()
		return models.PutResult{}, ctx.Err()
	}
	return models.PutResult{}, errors.New("write refused")
}

type testEnv struct {
	ts          *httptest.Server
	store       *memory.Store
	explorer    *explorer.Explorer
	broadcaster *events.Broadcaster
}

func newEnv(t *testing.T, gw gateway.Gateway, store *memory.Store, cfg Config) *testEnv {
	t.Helper()
	b := events.NewBroadcaster()
	ex := explorer.New(gw, explorer.WithPublisher(b))
	if err := ex.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	ts := httptest.NewServer(NewServer(ex, b, cfg).Handler())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, store: store, explorer: ex, broadcaster: b}
}

// seededEnv serves an explorer over a memory store holding folder/,
// folder/a.txt and root.txt.
func seededEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	store := memory.New("")
	store.Seed("folder/", "", t0)
	store.Seed("folder/a.txt", "alpha", t0.Add(time.Minute))
	store.Seed("root.txt", "root", t0.Add(2*time.Minute))
	return newEnv(t, store, store, cfg)
}

func (e *testEnv) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestHealth(t *testing.T) {
	env := seededEnv(t, Config{Backend: "memory"})
	resp := env.do(t, http.MethodGet, "/health", "")
	body := decode[map[string]string](t, resp)
	if resp.StatusCode != http.StatusOK || body["gateway"] != "memory" {
		t.Errorf("health = %d %v", resp.StatusCode, body)
	}
}

func TestFilesTreeState(t *testing.T) {
	env := seededEnv(t, Config{})

	files := decode[protocol.FilesResponse](t, env.do(t, http.MethodGet, "/api/v1/files", ""))
	if len(files.Files) != 3 {
		t.Errorf("files = %+v", files.Files)
	}

	resp := env.do(t, http.MethodGet, "/api/v1/tree", "")
	var raw struct {
		Nodes []map[string]any `json:"nodes"`
		Count int              `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatal(err)
	}
	if raw.Count != 3 || len(raw.Nodes) != 2 {
		t.Fatalf("tree = %+v", raw)
	}
	if raw.Nodes[0]["id"] != "folder" {
		t.Errorf("first node = %v, want folder directory", raw.Nodes[0])
	}
	if _, ok := raw.Nodes[1]["children"]; ok {
		t.Error("file node should not carry children")
	}

	state := decode[protocol.StateResponse](t, env.do(t, http.MethodGet, "/api/v1/state", ""))
	if state.Selected != nil || state.IsListLoading || len(state.Deleting) != 0 {
		t.Errorf("state = %+v", state)
	}
}

func TestTreeGzip(t *testing.T) {
	env := seededEnv(t, Config{})
	req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/api/v1/tree", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("Content-Encoding") != "gzip" {
		t.Fatalf("Content-Encoding = %q", resp.Header.Get("Content-Encoding"))
	}
	zr, err := gzip.NewReader(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	var tr struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(zr).Decode(&tr); err != nil || tr.Count != 3 {
		t.Errorf("tree count = %d, %v", tr.Count, err)
	}
}

func TestSaveSelectAndEdit(t *testing.T) {
	env := seededEnv(t, Config{})

	resp := env.do(t, http.MethodPut, "/api/v1/files/folder/new.txt", "hi")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("save status = %d", resp.StatusCode)
	}
	saved := decode[protocol.FileResponse](t, resp).File
	if saved.URL == "" || saved.Size != 2 || saved.IsDirectory {
		t.Errorf("saved = %+v", saved)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/select", `{"pathname":"folder/new.txt"}`)
	sel := decode[protocol.SelectResponse](t, resp)
	if sel.Selected == nil || sel.Selected.Pathname != "folder/new.txt" || sel.Content != "hi" {
		t.Errorf("select = %+v", sel)
	}

	resp = env.do(t, http.MethodPut, "/api/v1/files/folder/new.txt?editing=true", "hello")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("edit status = %d", resp.StatusCode)
	}
	if got := decode[protocol.FileResponse](t, resp).File; got.Size != 5 {
		t.Errorf("edited = %+v", got)
	}
	if n := len(env.explorer.Files()); n != 4 {
		t.Errorf("files = %d, want 4", n)
	}

	resp = env.do(t, http.MethodPut, "/api/v1/files/folder/sub/", "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("mkdir status = %d", resp.StatusCode)
	}
	if dir := decode[protocol.FileResponse](t, resp).File; !dir.IsDirectory {
		t.Errorf("dir = %+v", dir)
	}
}

func TestSelectVariants(t *testing.T) {
	env := seededEnv(t, Config{})

	resp := env.do(t, http.MethodPost, "/api/v1/select", `{"pathname":"folder/"}`)
	sel := decode[protocol.SelectResponse](t, resp)
	if sel.Selected == nil || !sel.Selected.IsDirectory || sel.Content != "" {
		t.Errorf("dir select = %+v", sel)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/select", `{"pathname":null}`)
	if sel := decode[protocol.SelectResponse](t, resp); sel.Selected != nil {
		t.Errorf("null select = %+v", sel)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/select", `{"pathname":"nope.txt"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown select status = %d", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/select", `{`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad body status = %d", resp.StatusCode)
	}
}

func TestValidate(t *testing.T) {
	env := seededEnv(t, Config{})
	tests := []struct {
		body  string
		valid bool
		msg   string
	}{
		{`{"pathname":"folder/new.txt"}`, true, ""},
		{`{"pathname":"folder/a.txt"}`, false, validate.ErrAlreadyExists},
		{`{"pathname":"folder/a.txt","isEditing":true}`, true, ""},
		{`{"pathname":"other/file.txt"}`, false, validate.ErrParentNotFound},
	}
	for _, tt := range tests {
		resp := env.do(t, http.MethodPost, "/api/v1/validate", tt.body)
		got := decode[models.ValidationResult](t, resp)
		if got.IsValid != tt.valid || got.Error != tt.msg {
			t.Errorf("validate %s = %+v", tt.body, got)
		}
	}
}

func TestSaveValidationReturns422(t *testing.T) {
	env := seededEnv(t, Config{})
	resp := env.do(t, http.MethodPut, "/api/v1/files/other/file.txt", "x")
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
	body := decode[protocol.ValidationErrorResponse](t, resp)
	if body.Validation.IsValid || body.Validation.Error != validate.ErrParentNotFound {
		t.Errorf("body = %+v", body)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/create", `{"directory":"folder","name":"","isDirectory":false}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("create status = %d, want 422", resp.StatusCode)
	}
}

func TestCreate(t *testing.T) {
	env := seededEnv(t, Config{})
	resp := env.do(t, http.MethodPost, "/api/v1/create", `{"directory":"folder/","name":"docs","isDirectory":true}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if f := decode[protocol.FileResponse](t, resp).File; f.Pathname != "folder/docs/" || !f.IsDirectory {
		t.Errorf("created = %+v", f)
	}
}

func TestGatewayErrorsMapToStatus(t *testing.T) {
	store := memory.New("")
	store.Seed("folder/", "", t0)

	env := newEnv(t, gateway.Instrument(&brokenGateway{Store: store}), store, Config{})
	resp := env.do(t, http.MethodPut, "/api/v1/files/folder/x.txt", "x")
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
	if n := len(env.explorer.Files()); n != 1 {
		t.Errorf("failed save left %d files", n)
	}

	slow := gateway.WithTimeout(&brokenGateway{Store: store, hang: true}, 20*time.Millisecond)
	env = newEnv(t, slow, store, Config{})
	resp = env.do(t, http.MethodPut, "/api/v1/files/folder/x.txt", "x")
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", resp.StatusCode)
	}
}

func TestDeleteRoutes(t *testing.T) {
	env := seededEnv(t, Config{})

	resp := env.do(t, http.MethodDelete, "/api/v1/files/missing.txt", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", resp.StatusCode)
	}

	resp = env.do(t, http.MethodDelete, "/api/v1/files/folder?dir=true", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("dir delete status = %d", resp.StatusCode)
	}
	files := env.explorer.Files()
	if len(files) != 1 || files[0].Pathname != "root.txt" {
		t.Errorf("files = %+v", files)
	}
	if env.store.Len() != 1 {
		t.Errorf("store has %d objects", env.store.Len())
	}

	resp = env.do(t, http.MethodDelete, "/api/v1/files", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete all status = %d", resp.StatusCode)
	}
	if env.store.Len() != 0 || len(env.explorer.Files()) != 0 {
		t.Error("delete all left entries")
	}
}

func TestRefresh(t *testing.T) {
	env := seededEnv(t, Config{})
	env.store.Seed("late.txt", "late", t0.Add(time.Hour))

	resp := env.do(t, http.MethodPost, "/api/v1/refresh", "")
	if got := decode[protocol.FilesResponse](t, resp); len(got.Files) != 4 {
		t.Errorf("files after refresh = %d", len(got.Files))
	}
}

func TestAuthProtectsAPI(t *testing.T) {
	a := auth.New("test-secret")
	env := seededEnv(t, Config{Auth: a})

	if resp := env.do(t, http.MethodGet, "/health", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodGet, "/api/v1/files", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	token, _, err := a.IssueToken("tester", time.Hour, true)
	if err != nil {
		t.Fatal(err)
	}
	req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/api/v1/files", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated status = %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodDelete, env.ts.URL+"/api/v1/files", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("read-only delete status = %d, want 403", resp.StatusCode)
	}
}

func TestEventsStream(t *testing.T) {
	env := seededEnv(t, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, env.ts.URL+"/api/v1/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	deadline := time.Now().Add(time.Second)
	for env.broadcaster.Count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(time.Millisecond)
	}

	env.do(t, http.MethodPut, "/api/v1/files/folder/new.txt", "hi")

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 3 {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if lines[1] != "event: "+events.EventCreate {
		t.Errorf("event line = %q", lines[1])
	}
	var ev events.Event
	if err := json.Unmarshal([]byte(strings.TrimPrefix(lines[2], "data: ")), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Path != "folder/new.txt" || ev.Size != 2 {
		t.Errorf("event = %+v", ev)
	}
	if lines[0] != fmt.Sprintf("id: %d", ev.Seq) {
		t.Errorf("id line = %q, seq %d", lines[0], ev.Seq)
	}
}

func TestExtraRegistrations(t *testing.T) {
	store := memory.New("")
	ex := explorer.New(store)
	h := NewServer(ex, nil, Config{}).Handler(func(mux *http.ServeMux) {
		mux.HandleFunc("GET /extra", func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "ok")
		})
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/extra", nil))
	if rec.Body.String() != "ok" {
		t.Errorf("extra route body = %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("events without broadcaster = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("request id header missing")
	}
}
