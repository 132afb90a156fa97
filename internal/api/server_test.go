package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"storyreel/internal/api"
	"storyreel/internal/assets"
	"storyreel/internal/engine"
	"storyreel/internal/generator"
	"storyreel/internal/ratelimit"
	"storyreel/internal/session"
	"storyreel/internal/storyboard"
	"storyreel/internal/testsupport"
)

type harness struct {
	url      string
	client   *http.Client
	handler  http.Handler
	store    *storyboard.Store
	assets   *assets.Store
	sessions *session.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStoryboardStore(t, cfg)
	assetStore := testsupport.MustOpenAssetStore(t, cfg)
	registry, err := generator.NewRegistry(cfg)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	sessions := session.NewManager()
	limiter := ratelimit.New(cfg)
	runner := engine.New(store, assetStore, registry, limiter, nil)
	server := api.NewServer(cfg, store, assetStore, sessions, runner, limiter, nil)

	handler := server.Handler()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return &harness{
		url:      ts.URL,
		client:   ts.Client(),
		handler:  handler,
		store:    store,
		assets:   assetStore,
		sessions: sessions,
	}
}

func (h *harness) post(t *testing.T, path string, body any, out any) *http.Response {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	resp, err := h.client.Post(h.url+path, "application/json", &payload)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s response: %v", path, err)
		}
	}
	return resp
}

func (h *harness) get(t *testing.T, path string, out any) *http.Response {
	t.Helper()
	resp, err := h.client.Get(h.url + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s response: %v", path, err)
		}
	}
	return resp
}

func (h *harness) delete(t *testing.T, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, h.url+path, nil)
	if err != nil {
		t.Fatalf("build DELETE %s: %v", path, err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		t.Fatalf("DELETE %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (h *harness) initialize(t *testing.T, sceneCount int) api.InitializeResponse {
	t.Helper()
	var init api.InitializeResponse
	resp := h.post(t, "/api/generate/initialize", api.InitializeRequest{
		Prompt:     "a lost robot finds its way home",
		SceneCount: sceneCount,
	}, &init)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("initialize returned %d", resp.StatusCode)
	}
	return init
}

func TestGenerateEndToEnd(t *testing.T) {
	h := newHarness(t)

	init := h.initialize(t, 3)
	if init.SessionID == "" || init.Storyboard == nil {
		t.Fatalf("incomplete initialize response: %+v", init)
	}
	if got := len(init.Storyboard.OriginalScenes); got != 3 {
		t.Fatalf("expected 3 planned scenes, got %d", got)
	}
	if init.Storyboard.Generation.Status != storyboard.StatusPending {
		t.Fatalf("expected pending storyboard, got %s", init.Storyboard.Generation.Status)
	}

	var started api.StartResponse
	resp := h.post(t, "/api/generate/"+init.SessionID+"/start", nil, &started)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start returned %d", resp.StatusCode)
	}
	if started.Status != storyboard.StatusCompleted {
		t.Fatalf("expected completed run, got %s", started.Status)
	}
	if started.CompletedScenes != 3 || started.TotalScenes != 3 {
		t.Fatalf("unexpected progress: %+v", started)
	}
	if len(started.Errors) != 0 {
		t.Fatalf("unexpected failures: %+v", started.Errors)
	}

	var sb storyboard.Storyboard
	resp = h.get(t, "/api/storyboards/"+init.Storyboard.ID, &sb)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get storyboard returned %d", resp.StatusCode)
	}
	if len(sb.Clips) != 3 {
		t.Fatalf("expected 3 clips, got %d", len(sb.Clips))
	}

	var asset api.AssetResponse
	resp = h.get(t, "/api/assets/"+sb.Clips[0].AssetID, &asset)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get asset returned %d", resp.StatusCode)
	}
	if asset.Content == "" {
		t.Fatal("expected asset content")
	}
}

func TestStartSurvivesClientDisconnect(t *testing.T) {
	h := newHarness(t)
	init := h.initialize(t, 2)

	// A caller that gives up mid-run arrives here as an already-canceled
	// request context. The run must still drive every scene to completion.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/generate/"+init.SessionID+"/start", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	sb, err := h.store.Get(context.Background(), init.Storyboard.ID)
	if err != nil {
		t.Fatalf("reload storyboard: %v", err)
	}
	if sb.Generation.Status != storyboard.StatusCompleted {
		t.Fatalf("expected completed run despite disconnect, got %s", sb.Generation.Status)
	}
	if len(sb.Clips) != 2 {
		t.Fatalf("expected 2 clips, got %d", len(sb.Clips))
	}
}

func TestRequestIDHeader(t *testing.T) {
	h := newHarness(t)

	req, err := http.NewRequest(http.MethodGet, h.url+"/api/health", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("X-Request-ID", "trace-123")
	resp, err := h.client.Do(req)
	if err != nil {
		t.Fatalf("GET /api/health: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "trace-123" {
		t.Fatalf("expected caller's request id echoed, got %q", got)
	}

	resp = h.get(t, "/api/health", nil)
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected generated request id on response")
	}
}

func TestInitializeValidation(t *testing.T) {
	h := newHarness(t)

	resp := h.post(t, "/api/generate/initialize", api.InitializeRequest{Prompt: "   "}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank prompt returned %d", resp.StatusCode)
	}

	resp = h.post(t, "/api/generate/initialize", api.InitializeRequest{
		Prompt:   "fine prompt",
		Provider: "midjourney",
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown provider returned %d", resp.StatusCode)
	}

	resp = h.post(t, "/api/generate/initialize", api.InitializeRequest{
		Prompt:     "fine prompt",
		SceneCount: 9999,
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("oversized scene count returned %d", resp.StatusCode)
	}
}

func TestStartUnknownSession(t *testing.T) {
	h := newHarness(t)
	resp := h.post(t, "/api/generate/ghost/start", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestDeleteSession(t *testing.T) {
	h := newHarness(t)
	init := h.initialize(t, 1)

	resp := h.delete(t, "/api/generate/"+init.SessionID)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete session returned %d", resp.StatusCode)
	}
	resp = h.delete(t, "/api/generate/"+init.SessionID)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete returned %d", resp.StatusCode)
	}
}

func TestDeleteStoryboardConflictsWithLiveSession(t *testing.T) {
	h := newHarness(t)
	init := h.initialize(t, 1)

	resp := h.delete(t, "/api/storyboards/"+init.Storyboard.ID)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 while session is live, got %d", resp.StatusCode)
	}

	if resp := h.delete(t, "/api/generate/"+init.SessionID); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("remove session returned %d", resp.StatusCode)
	}
	resp = h.delete(t, "/api/storyboards/"+init.Storyboard.ID)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected delete after session removal, got %d", resp.StatusCode)
	}
	resp = h.get(t, "/api/storyboards/"+init.Storyboard.ID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestListStoryboards(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, 1)
	h.initialize(t, 2)

	var list api.StoryboardListResponse
	resp := h.get(t, "/api/storyboards", &list)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list returned %d", resp.StatusCode)
	}
	if len(list.Storyboards) != 2 {
		t.Fatalf("expected 2 storyboards, got %d", len(list.Storyboards))
	}
}

func TestProgressStreamsSnapshotThenFinish(t *testing.T) {
	h := newHarness(t)
	init := h.initialize(t, 2)

	req, err := http.NewRequest(http.MethodGet, h.url+"/api/generate/"+init.SessionID+"/progress", nil)
	if err != nil {
		t.Fatalf("build progress request: %v", err)
	}
	// Keep the stream uncompressed so events arrive line by line.
	req.Header.Set("Accept-Encoding", "identity")
	resp, err := h.client.Do(req)
	if err != nil {
		t.Fatalf("open progress stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("progress returned %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); !strings.HasPrefix(got, "text/event-stream") {
		t.Fatalf("unexpected content type %q", got)
	}

	reader := bufio.NewReader(resp.Body)
	first := readEvent(t, reader)
	if first.Type != session.EventSnapshot {
		t.Fatalf("expected snapshot first, got %s", first.Type)
	}
	if first.TotalScenes != 2 {
		t.Fatalf("snapshot total %d, want 2", first.TotalScenes)
	}

	sess, ok := h.sessions.Get(init.SessionID)
	if !ok {
		t.Fatal("session missing from manager")
	}
	sess.ReportSceneComplete(1, &storyboard.Clip{ID: "clip-1", Order: 1, Name: "Scene 2"})
	next := readEvent(t, reader)
	if next.Type != session.EventSceneCompleted || next.CompletedScenes != 1 {
		t.Fatalf("unexpected event: %+v", next)
	}
	if next.NewClip == nil || next.NewClip.ID != "clip-1" {
		t.Fatalf("expected clip payload on stream event, got %+v", next.NewClip)
	}

	sess.Finish(storyboard.StatusCompletedWithErrors)
	final := readEvent(t, reader)
	if final.Type != session.EventFinished || final.Status != storyboard.StatusCompletedWithErrors {
		t.Fatalf("unexpected terminal event: %+v", final)
	}
}

func readEvent(t *testing.T, reader *bufio.Reader) session.Event {
	t.Helper()
	var data string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
		}
		if line == "" && data != "" {
			break
		}
	}
	var event session.Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		t.Fatalf("decode event %q: %v", data, err)
	}
	return event
}

func TestStatusAndHealth(t *testing.T) {
	h := newHarness(t)

	var status api.DaemonStatus
	resp := h.get(t, "/api/status", &status)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status returned %d", resp.StatusCode)
	}
	if !status.Running || status.PID == 0 {
		t.Fatalf("unexpected status: %+v", status)
	}
	if !status.AssetDBHealthy {
		t.Fatalf("expected healthy asset db: %+v", status)
	}
	found := false
	for _, provider := range status.Providers {
		if provider.Provider == "stub" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected stub provider in status: %+v", status.Providers)
	}

	var health map[string]string
	resp = h.get(t, "/api/health", &health)
	if resp.StatusCode != http.StatusOK || health["status"] != "ok" {
		t.Fatalf("health returned %d %v", resp.StatusCode, health)
	}
}

func TestGetAssetMissing(t *testing.T) {
	h := newHarness(t)
	resp := h.get(t, fmt.Sprintf("/api/assets/%s", "no-such-asset"), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
