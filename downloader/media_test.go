package downloader

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scratchFiles возвращает список файлов в каталоге временных файлов
func scratchFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(ScratchDir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestDownloadOnceSuccess(t *testing.T) {
	t.Chdir(t.TempDir())

	payload := bytes.Repeat([]byte("v"), 2048)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		assert.Equal(t, "https://example.com/", r.Header.Get("Referer"))
		w.Write(payload)
	}))
	defer srv.Close()

	path, size, err := downloadOnce(context.Background(), srv.URL, map[string]string{
		"Referer": "https://example.com/",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), size)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestDownloadOnceRejectsDeclaredOversize(t *testing.T) {
	t.Chdir(t.TempDir())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "104857600") // 100 МБ
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, _, err := downloadOnce(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoSuitableFormat)
	assert.Empty(t, scratchFiles(t), "файл не должен создаваться при отказе по заявленному размеру")
}

func TestDownloadOnceAbortsOversizedStream(t *testing.T) {
	t.Chdir(t.TempDir())

	// Сервер не заявляет размер и льёт больше лимита
	chunk := bytes.Repeat([]byte("x"), 1024*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 51; i++ {
			if _, err := w.Write(chunk); err != nil {
				return
			}
			flusher.Flush()
		}
	}))
	defer srv.Close()

	_, _, err := downloadOnce(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoSuitableFormat)
	assert.Empty(t, scratchFiles(t), "неполный файл должен быть удалён")
}

func TestDownloadOnceRejectsTinyFile(t *testing.T) {
	t.Chdir(t.TempDir())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not a video"))
	}))
	defer srv.Close()

	_, _, err := downloadOnce(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.Empty(t, scratchFiles(t))
}

func TestDownloadMediaDoesNotRetryOversize(t *testing.T) {
	t.Chdir(t.TempDir())

	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Header().Set("Content-Length", "104857600")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, _, err := downloadMedia(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoSuitableFormat)
	assert.Equal(t, 1, requests, "превышение лимита не лечится повтором")
}

func TestDownloadMediaRejectsBadURL(t *testing.T) {
	_, _, err := downloadMedia(context.Background(), "ftp://example.com/video.mp4", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDownloadFailed)
}

func TestCleanupStale(t *testing.T) {
	t.Chdir(t.TempDir())

	require.NoError(t, os.MkdirAll(ScratchDir, 0755))

	oldPath := ScratchDir + "/video_old.mp4"
	freshPath := ScratchDir + "/video_fresh.mp4"
	require.NoError(t, os.WriteFile(oldPath, []byte("старый"), 0o644))
	require.NoError(t, os.WriteFile(freshPath, []byte("свежий"), 0o644))

	stale := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(oldPath, stale, stale))

	CleanupStale(time.Hour)

	assert.NoFileExists(t, oldPath)
	assert.FileExists(t, freshPath)
}
