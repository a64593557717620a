package webapp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer() (*Server, *http.ServeMux) {
	s := New("8080")
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/download", s.handleDownload)
	mux.HandleFunc("GET /api/status/{id}", s.handleStatus)
	mux.HandleFunc("GET /api/file/{id}", s.handleFile)
	mux.HandleFunc("GET /api/preview/{id}", s.handlePreview)
	mux.HandleFunc("GET /health", s.handleHealth)
	return s, mux
}

func TestHandleDownloadRejectsBadInput(t *testing.T) {
	_, mux := newTestServer()

	tests := []struct {
		name string
		body string
		code int
	}{
		{"некорректный JSON", "{not json", http.StatusBadRequest},
		{"без ссылки", `{"url": "просто текст"}`, http.StatusBadRequest},
		{"неподдерживаемая платформа", `{"url": "https://example.com/video/1"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/download", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestHandleDownloadCreatesTask(t *testing.T) {
	s, mux := newTestServer()

	body := `{"url": "посмотри https://www.tiktok.com/@user/video/1234567890"}`
	req := httptest.NewRequest(http.MethodPost, "/api/download", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp downloadResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.TaskID)
	assert.Equal(t, "https://www.tiktok.com/@user/video/1234567890", resp.ExtractedURL)
	assert.Equal(t, "tiktok", resp.Platform)

	task, ok := s.getTask(resp.TaskID)
	require.True(t, ok)
	assert.Contains(t, []string{StatusPending, StatusDownloading, StatusFailed}, task.Status)
}

func TestHandleStatusUnknownTask(t *testing.T) {
	_, mux := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/api/status/нет-такой", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleFileBeforeCompletion(t *testing.T) {
	s, mux := newTestServer()

	s.mu.Lock()
	s.tasks["t1"] = &Task{ID: "t1", Status: StatusDownloading, CreatedAt: time.Now()}
	s.mu.Unlock()

	for _, path := range []string{"/api/file/t1", "/api/preview/t1"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusConflict, rec.Code, path)
	}
}

func TestHandleFileServesCompletedTask(t *testing.T) {
	s, mux := newTestServer()

	dir := t.TempDir()
	path := filepath.Join(dir, "video.mp4")
	require.NoError(t, os.WriteFile(path, []byte("содержимое видео"), 0o644))

	s.mu.Lock()
	s.tasks["t1"] = &Task{ID: "t1", Status: StatusCompleted, CreatedAt: time.Now(), path: path}
	s.mu.Unlock()

	req := httptest.NewRequest(http.MethodGet, "/api/file/t1", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Equal(t, "содержимое видео", rec.Body.String())
}

func TestHandlePreviewSupportsRange(t *testing.T) {
	s, mux := newTestServer()

	dir := t.TempDir()
	path := filepath.Join(dir, "video.mp4")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	s.mu.Lock()
	s.tasks["t1"] = &Task{ID: "t1", Status: StatusCompleted, CreatedAt: time.Now(), path: path}
	s.mu.Unlock()

	req := httptest.NewRequest(http.MethodGet, "/api/preview/t1", nil)
	req.Header.Set("Range", "bytes=2-5")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "2345", rec.Body.String())
}

func TestHealth(t *testing.T) {
	_, mux := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
	assert.NotEmpty(t, resp["time"])
}

// Опросы статуса во время скачивания не должны гоняться с записями
// фоновой задачи. Ловится под go test -race.
func TestStatusPollDuringTaskMutation(t *testing.T) {
	s, mux := newTestServer()

	s.mu.Lock()
	s.tasks["t1"] = &Task{ID: "t1", Status: StatusPending, CreatedAt: time.Now()}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			s.setStatus("t1", StatusDownloading, "")
			s.setStatus("t1", StatusFailed, "платформа недоступна")
		}
	}()

	for i := 0; i < 500; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/status/t1", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var task Task
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&task))
		assert.Contains(t, []string{StatusPending, StatusDownloading, StatusFailed}, task.Status)
	}
	<-done
}

func TestCleanupTasksRemovesOldTasksAndFiles(t *testing.T) {
	s, _ := newTestServer()

	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old.mp4")
	require.NoError(t, os.WriteFile(oldPath, []byte("старое"), 0o644))

	now := time.Now()
	s.mu.Lock()
	s.tasks["old"] = &Task{ID: "old", Status: StatusCompleted, CreatedAt: now.Add(-2 * time.Hour), path: oldPath}
	s.tasks["fresh"] = &Task{ID: "fresh", Status: StatusDownloading, CreatedAt: now.Add(-5 * time.Minute)}
	s.mu.Unlock()

	s.cleanupTasks(now)

	_, oldExists := s.getTask("old")
	_, freshExists := s.getTask("fresh")
	assert.False(t, oldExists)
	assert.True(t, freshExists)
	assert.NoFileExists(t, oldPath)
}
