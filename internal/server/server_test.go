package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"photosplat/internal/app"
	"photosplat/internal/library"
	"photosplat/internal/notify"
	"photosplat/internal/splat"
	"photosplat/pkg/domain"
	"photosplat/pkg/storage"
	"photosplat/pkg/store"
)

func newTestServer(t *testing.T) (*Server, *library.Library, *splat.Tracker) {
	t.Helper()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1/jobs" || r.URL.Path == "/v1/jobs/upload":
			json.NewEncoder(w).Encode(map[string]string{"requestId": "req-test"})
		case strings.HasSuffix(r.URL.Path, "/result"):
			json.NewEncoder(w).Encode(splat.Result{AssetURL: "https://x/y.ply", Filename: "y.ply", SizeBytes: 12345})
		default:
			json.NewEncoder(w).Encode(map[string]string{"status": "completed"})
		}
	}))
	t.Cleanup(backend.Close)

	st := store.NewMemoryStore()
	objects, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	notifier := notify.NewNotifier()
	lib, err := library.New(library.Config{Store: st, Objects: objects, Notifier: notifier})
	if err != nil {
		t.Fatalf("library.New: %v", err)
	}
	if err := lib.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	tracker := splat.NewTracker()
	client, err := splat.NewClient(splat.ClientConfig{BaseURL: backend.URL, Tracker: tracker})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	poller, err := splat.NewPoller(splat.PollerConfig{
		Client:  client,
		Tracker: tracker,
		Backoff: splat.Backoff{Base: time.Millisecond, Step: time.Millisecond, Max: 5 * time.Millisecond},
		Timeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	a, err := app.New(app.Config{Library: lib, Tracker: tracker, Client: client, Poller: poller, Notifier: notifier})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	s, err := New(Config{App: a, Library: lib, Tracker: tracker, Notifier: notifier})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, lib, tracker
}

func pngUpload(t *testing.T, field, filename string) (*bytes.Buffer, string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: uint8(30 * x), G: uint8(30 * y), B: 90, A: 255})
		}
	}
	var data bytes.Buffer
	if err := png.Encode(&data, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write(data.Bytes()); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &body, mw.FormDataContentType()
}

func doJSON(t *testing.T, handler http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doJSON(t, s.Router(), http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestUploadPhotos(t *testing.T) {
	s, _, _ := newTestServer(t)
	body, contentType := pngUpload(t, "files", "cat.png")

	req := httptest.NewRequest(http.MethodPost, "/api/photos", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Items []domain.Photo `json:"items"`
		Count int            `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 1 || len(resp.Items) != 1 {
		t.Fatalf("count = %d, want 1", resp.Count)
	}
	if resp.Items[0].SplatStatus != domain.SplatPending {
		t.Fatalf("splat status = %q, want pending", resp.Items[0].SplatStatus)
	}
}

func TestUploadPhotosRequiresFiles(t *testing.T) {
	s, _, _ := newTestServer(t)
	body, contentType := pngUpload(t, "wrongfield", "cat.png")

	req := httptest.NewRequest(http.MethodPost, "/api/photos", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUploadPhotosUnknownAlbum(t *testing.T) {
	s, _, _ := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("albumId", "nope"); err != nil {
		t.Fatalf("WriteField: %v", err)
	}
	part, err := mw.CreateFormFile("files", "cat.png")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	var img bytes.Buffer
	if err := png.Encode(&img, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	if _, err := part.Write(img.Bytes()); err != nil {
		t.Fatalf("write part: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/photos", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404: %s", rec.Code, rec.Body.String())
	}
}

func TestListPhotos(t *testing.T) {
	s, lib, _ := newTestServer(t)
	seedPhoto(t, lib, "a.png")
	seedPhoto(t, lib, "b.png")

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/photos", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Items []domain.Photo `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 2 || resp.Items[0].Name != "a.png" || resp.Items[1].Name != "b.png" {
		t.Fatalf("items = %+v, want [a.png b.png]", resp.Items)
	}
}

func TestPhotoByID(t *testing.T) {
	s, lib, _ := newTestServer(t)
	photo := seedPhoto(t, lib, "cat.png")

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/photos/"+photo.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	rec = doJSON(t, s.Router(), http.MethodGet, "/api/photos/ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown photo status = %d, want 404", rec.Code)
	}

	rec = doJSON(t, s.Router(), http.MethodDelete, "/api/photos/"+photo.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", rec.Code)
	}
	rec = doJSON(t, s.Router(), http.MethodGet, "/api/photos/"+photo.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("deleted photo status = %d, want 404", rec.Code)
	}
}

func TestPhotoContentFallsBackToBytes(t *testing.T) {
	s, lib, _ := newTestServer(t)
	photo := seedPhoto(t, lib, "cat.png")

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/photos/"+photo.ID+"/content", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "image/png" {
		t.Fatalf("content type = %q, want image/png", got)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("empty content body")
	}
}

func TestPhotoSplatNotReady(t *testing.T) {
	s, lib, _ := newTestServer(t)
	photo := seedPhoto(t, lib, "cat.png")

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/photos/"+photo.ID+"/splat", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}

	if err := lib.UpdateSplatStatus(context.Background(), photo.ID, domain.SplatReady, "https://x/y.ply"); err != nil {
		t.Fatalf("UpdateSplatStatus: %v", err)
	}
	rec = doJSON(t, s.Router(), http.MethodGet, "/api/photos/"+photo.ID+"/splat", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["assetUrl"] != "https://x/y.ply" || resp["status"] != "ready" {
		t.Fatalf("resp = %v, want ready with asset url", resp)
	}
}

func TestRequestSplat(t *testing.T) {
	s, lib, _ := newTestServer(t)
	photo := seedPhoto(t, lib, "cat.png")

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/photos/"+photo.ID+"/splat", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		got, _, err := lib.GetPhoto(context.Background(), photo.ID)
		if err != nil {
			t.Fatalf("GetPhoto: %v", err)
		}
		if got.SplatStatus == domain.SplatReady {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("photo never reached ready, last status %q", got.SplatStatus)
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A photo with a terminal status is not resubmitted.
	rec = doJSON(t, s.Router(), http.MethodPost, "/api/photos/"+photo.ID+"/splat", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("resubmit status = %d, want 409", rec.Code)
	}
}

func TestAlbums(t *testing.T) {
	s, lib, _ := newTestServer(t)

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/albums", map[string]string{"name": "Trips"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", rec.Code)
	}
	var created domain.Album
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doJSON(t, s.Router(), http.MethodPost, "/api/albums", map[string]string{"name": "  "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("blank name status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, s.Router(), http.MethodGet, "/api/albums", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", rec.Code)
	}
	var listed struct {
		Items   []domain.Album `json:"items"`
		Current string         `json:"current"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listed.Items) != 2 {
		t.Fatalf("albums = %d, want 2", len(listed.Items))
	}
	if listed.Current == created.ID {
		t.Fatal("creating an album must not change the current album")
	}

	rec = doJSON(t, s.Router(), http.MethodPost, "/api/albums/"+created.ID+"/select", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("select status = %d, want 200", rec.Code)
	}
	if got := lib.CurrentAlbum().ID; got != created.ID {
		t.Fatalf("current album = %q, want %q", got, created.ID)
	}

	rec = doJSON(t, s.Router(), http.MethodPost, "/api/albums/ghost/select", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("select unknown status = %d, want 404", rec.Code)
	}
}

func TestJobsAndReap(t *testing.T) {
	s, _, tracker := newTestServer(t)
	tracker.Register("req-1", "cat.png")

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/jobs", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", rec.Code)
	}
	var listed struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if listed.Count != 1 {
		t.Fatalf("count = %d, want 1", listed.Count)
	}

	rec = doJSON(t, s.Router(), http.MethodPost, "/api/jobs/reap", map[string]int{"maxAgeSeconds": 0})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("reap zero status = %d, want 400", rec.Code)
	}

	// A generous age keeps the fresh entry.
	rec = doJSON(t, s.Router(), http.MethodPost, "/api/jobs/reap", map[string]int{"maxAgeSeconds": 3600})
	if rec.Code != http.StatusOK {
		t.Fatalf("reap status = %d, want 200", rec.Code)
	}
	var reaped map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &reaped); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reaped["removed"] != 0 {
		t.Fatalf("removed = %d, want 0", reaped["removed"])
	}
	if tracker.Len() != 1 {
		t.Fatalf("tracker len = %d, want 1", tracker.Len())
	}
}

func TestEventsStream(t *testing.T) {
	s, lib, _ := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content type = %q, want text/event-stream", got)
	}

	if _, err := lib.CreateAlbum(context.Background(), "Trips"); err != nil {
		t.Fatalf("CreateAlbum: %v", err)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "event: albums") {
			return
		}
	}
	t.Fatalf("albums event never arrived: %v", scanner.Err())
}

func seedPhoto(t *testing.T, lib *library.Library, name string) domain.Photo {
	t.Helper()
	var img bytes.Buffer
	if err := png.Encode(&img, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	accepted, err := lib.AddFromSource(context.Background(), []library.SourceFile{
		{Name: name, Data: img.Bytes()},
	}, "")
	if err != nil {
		t.Fatalf("AddFromSource: %v", err)
	}
	if len(accepted) != 1 {
		t.Fatalf("accepted %d, want 1", len(accepted))
	}
	return accepted[0]
}
