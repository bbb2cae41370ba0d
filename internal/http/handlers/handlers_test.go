package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/DaanH/buildings-visualizer/internal/domain"
	"github.com/DaanH/buildings-visualizer/internal/http/handlers"
	"github.com/DaanH/buildings-visualizer/internal/http/httpapi"
	"github.com/DaanH/buildings-visualizer/internal/infra"
	"github.com/DaanH/buildings-visualizer/internal/jobs"
	"github.com/DaanH/buildings-visualizer/internal/media"
	img "github.com/DaanH/buildings-visualizer/internal/providers/image"
	"github.com/DaanH/buildings-visualizer/internal/stats"
	"github.com/DaanH/buildings-visualizer/internal/store/storetest"
)

type stubGenerator struct {
	mu      sync.Mutex
	prompts []string

	started chan struct{}
	release chan struct{}
	err     error
	payload []byte
}

func (g *stubGenerator) Generate(ctx context.Context, req img.EditRequest) (*img.Result, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, req.Prompt)
	g.mu.Unlock()

	if g.started != nil {
		g.started <- struct{}{}
	}
	if g.release != nil {
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	return &img.Result{DataURL: media.EncodeDataURL(media.MIMEPNG, g.payload)}, nil
}

func (g *stubGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

type testEnv struct {
	server *httptest.Server
	store  *storetest.MemStore
	queue  *jobs.Queue
}

func newTestEnv(t *testing.T, gen img.Generator, buffer int) *testEnv {
	t.Helper()
	memStore := storetest.NewMemStore()
	logger := zerolog.Nop()
	recorder := stats.NewRecorder(memStore, logger)
	queue := jobs.NewQueue(memStore, gen, logger, jobs.Options{
		Workers:    1,
		Buffer:     buffer,
		JobTimeout: 5 * time.Second,
		Outcomes:   recorder,
		Registerer: prometheus.NewRegistry(),
	})
	queue.Start(context.Background())

	cfg := &infra.Config{DefaultLocale: "en"}
	app := handlers.NewApp(memStore, queue, recorder, cfg, logger)
	server := httptest.NewServer(httpapi.NewRouter(app, nil))
	t.Cleanup(server.Close)
	t.Cleanup(queue.Stop)

	return &testEnv{server: server, store: memStore, queue: queue}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	src := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			src.Set(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func multipartBody(t *testing.T, fields map[string]string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			t.Fatalf("write field %s: %v", name, err)
		}
	}
	for name, data := range files {
		part, err := writer.CreateFormFile(name, name+".png")
		if err != nil {
			t.Fatalf("create file part %s: %v", name, err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("write file part %s: %v", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func upload(t *testing.T, env *testEnv, fields map[string]string, files map[string][]byte) *http.Response {
	t.Helper()
	body, contentType := multipartBody(t, fields, files)
	res, err := http.Post(env.server.URL+"/", contentType, body)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return res
}

func decodeJSON(t *testing.T, res *http.Response) map[string]any {
	t.Helper()
	defer res.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func imageIDFrom(t *testing.T, res *http.Response) string {
	t.Helper()
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("upload status = %d, want %d", res.StatusCode, http.StatusAccepted)
	}
	body := decodeJSON(t, res)
	inner, ok := body["response"].(map[string]any)
	if !ok {
		t.Fatalf("missing response envelope in %v", body)
	}
	id, _ := inner["imageId"].(string)
	if id == "" {
		t.Fatalf("missing imageId in %v", body)
	}
	return id
}

func pollStatus(t *testing.T, env *testEnv, id string) map[string]any {
	t.Helper()
	res, err := http.Get(fmt.Sprintf("%s/api/image/%s/status", env.server.URL, id))
	if err != nil {
		t.Fatalf("status request: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		res.Body.Close()
		t.Fatalf("status code = %d, want 200", res.StatusCode)
	}
	return decodeJSON(t, res)
}

func waitForTerminal(t *testing.T, env *testEnv, id string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		body := pollStatus(t, env, id)
		if status, _ := body["status"].(string); status != string(domain.StatusPending) {
			return body
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("record never left pending")
	return nil
}

func TestUploadToCompletion(t *testing.T) {
	payload := []byte{0x89, 1, 2, 3}
	gen := &stubGenerator{release: make(chan struct{}), payload: payload}
	env := newTestEnv(t, gen, 8)

	res := upload(t, env,
		map[string]string{"colorHex": "#aabbcc"},
		map[string][]byte{"image": pngBytes(t)},
	)
	id := imageIDFrom(t, res)

	if body := pollStatus(t, env, id); body["status"] != string(domain.StatusPending) {
		t.Fatalf("fresh record status = %v, want pending", body["status"])
	}

	close(gen.release)
	body := waitForTerminal(t, env, id)
	if body["status"] != string(domain.StatusCompleted) {
		t.Fatalf("terminal status = %v, want completed", body["status"])
	}
	if prompt := gen.lastPrompt(); !strings.Contains(prompt, "#aabbcc") {
		t.Fatalf("generated prompt %q does not mention the requested color", prompt)
	}

	imgRes, err := http.Get(env.server.URL + "/api/image/" + id)
	if err != nil {
		t.Fatalf("image request: %v", err)
	}
	defer imgRes.Body.Close()
	if imgRes.StatusCode != http.StatusOK {
		t.Fatalf("image status = %d, want 200", imgRes.StatusCode)
	}
	if got := imgRes.Header.Get("Content-Type"); got != media.MIMEPNG {
		t.Fatalf("content type = %q, want %q", got, media.MIMEPNG)
	}
	if got := imgRes.Header.Get("Cache-Control"); !strings.Contains(got, "immutable") {
		t.Fatalf("cache control = %q, want an immutable policy", got)
	}
	data, err := io.ReadAll(imgRes.Body)
	if err != nil {
		t.Fatalf("read image body: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatalf("image bytes = %v, want %v", data, payload)
	}

	// The outcome counter is written just after the record itself, so the
	// stats read may need a beat to catch up.
	deadline := time.Now().Add(2 * time.Second)
	for {
		statsRes, err := http.Get(env.server.URL + "/api/stats")
		if err != nil {
			t.Fatalf("stats request: %v", err)
		}
		summary := decodeJSON(t, statsRes)
		submitted, _ := summary["submitted"].(float64)
		completed, _ := summary["completed"].(float64)
		if submitted == 1 && completed == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("stats summary = %v, want submitted=1 completed=1", summary)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestUploadFailureKeepsProviderMessage(t *testing.T) {
	gen := &stubGenerator{err: &domain.ProviderError{Message: "image must be square"}}
	env := newTestEnv(t, gen, 8)

	res := upload(t, env,
		map[string]string{"prompt": "repaint the walls"},
		map[string][]byte{"image": pngBytes(t)},
	)
	id := imageIDFrom(t, res)

	body := waitForTerminal(t, env, id)
	if body["status"] != string(domain.StatusError) {
		t.Fatalf("terminal status = %v, want error", body["status"])
	}
	if body["errorMessage"] != "image must be square" {
		t.Fatalf("errorMessage = %v, want the provider message verbatim", body["errorMessage"])
	}

	// A failed generation never serves image bytes.
	imgRes, err := http.Get(env.server.URL + "/api/image/" + id)
	if err != nil {
		t.Fatalf("image request: %v", err)
	}
	imgRes.Body.Close()
	if imgRes.StatusCode != http.StatusNotFound {
		t.Fatalf("image status = %d, want 404", imgRes.StatusCode)
	}
}

func TestStatusUnknownID(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{payload: []byte{1}}, 8)

	res, err := http.Get(env.server.URL + "/api/image/nope/status")
	if err != nil {
		t.Fatalf("status request: %v", err)
	}
	if res.StatusCode != http.StatusNotFound {
		res.Body.Close()
		t.Fatalf("status code = %d, want 404", res.StatusCode)
	}
	body := decodeJSON(t, res)
	if body["error"] == "" {
		t.Fatal("expected an error payload")
	}
}

func TestUploadValidation(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{payload: []byte{1}}, 8)

	cases := []struct {
		name   string
		fields map[string]string
		files  map[string][]byte
	}{
		{"missing image", map[string]string{"prompt": "x"}, nil},
		{"missing prompt and color", nil, map[string][]byte{"image": pngBytes(t)}},
		{"not a raster image", map[string]string{"prompt": "x"}, map[string][]byte{"image": []byte("plain text")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := upload(t, env, tc.fields, tc.files)
			defer res.Body.Close()
			if res.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", res.StatusCode)
			}
		})
	}
}

func TestUploadQueueFull(t *testing.T) {
	gen := &stubGenerator{
		started: make(chan struct{}, 4),
		release: make(chan struct{}),
		payload: []byte{1},
	}
	env := newTestEnv(t, gen, 1)

	first := upload(t, env, map[string]string{"prompt": "x"}, map[string][]byte{"image": pngBytes(t)})
	imageIDFrom(t, first)
	<-gen.started // the single worker is now blocked

	second := upload(t, env, map[string]string{"prompt": "x"}, map[string][]byte{"image": pngBytes(t)})
	imageIDFrom(t, second) // occupies the only buffer slot

	third := upload(t, env, map[string]string{"prompt": "x"}, map[string][]byte{"image": pngBytes(t)})
	if third.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", third.StatusCode)
	}
	body := decodeJSON(t, third)
	if body["error"] == "" {
		t.Fatal("expected an error payload")
	}

	close(gen.release)
}

func TestDeleteImage(t *testing.T) {
	gen := &stubGenerator{payload: []byte{1}}
	env := newTestEnv(t, gen, 8)

	res := upload(t, env, map[string]string{"prompt": "x"}, map[string][]byte{"image": pngBytes(t)})
	id := imageIDFrom(t, res)
	waitForTerminal(t, env, id)

	req, err := http.NewRequest(http.MethodDelete, env.server.URL+"/api/image/"+id, nil)
	if err != nil {
		t.Fatalf("build delete request: %v", err)
	}
	delRes, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete request: %v", err)
	}
	delRes.Body.Close()
	if delRes.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", delRes.StatusCode)
	}

	again, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("second delete request: %v", err)
	}
	again.Body.Close()
	if again.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", again.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &stubGenerator{payload: []byte{1}}, 8)

	res, err := http.Get(env.server.URL + "/v1/healthz")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		res.Body.Close()
		t.Fatalf("health status = %d, want 200", res.StatusCode)
	}
	body := decodeJSON(t, res)
	if body["status"] != "ok" {
		t.Fatalf("health body = %v", body)
	}
}
