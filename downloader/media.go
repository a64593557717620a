package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ScratchDir — каталог для временных файлов. Имена файлов уникальны
// на запрос, поэтому параллельные скачивания не требуют координации.
const ScratchDir = "temp_videos"

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36"

// httpClient общий для скачиваний: таймаут на весь запрос и лимит редиректов
var httpClient = &http.Client{
	Timeout: 120 * time.Second,
	CheckRedirect: func(req *http.Request, via []*http.Request) error {
		if len(via) >= 10 {
			return errors.New("слишком много редиректов")
		}
		return nil
	},
}

// tempFilePath возвращает путь к новому уникальному временному файлу
func tempFilePath() (string, error) {
	if err := os.MkdirAll(ScratchDir, 0755); err != nil {
		return "", fmt.Errorf("%w: не удалось создать каталог временных файлов: %v", ErrDownloadFailed, err)
	}
	name := fmt.Sprintf("video_%s.mp4", uuid.NewString())
	return filepath.Join(ScratchDir, name), nil
}

// downloadMedia потоково скачивает медиа по прямой ссылке во временный
// файл. Жёсткий потолок SizeLimit соблюдается во время записи: при
// превышении скачивание прерывается и неполный файл удаляется —
// заявленный размер мог быть неверным или отсутствовать.
func downloadMedia(ctx context.Context, mediaURL string, headers map[string]string) (string, int64, error) {
	mediaURL = strings.Trim(mediaURL, "\"'")
	if !strings.HasPrefix(mediaURL, "http://") && !strings.HasPrefix(mediaURL, "https://") {
		return "", 0, fmt.Errorf("%w: неверный формат URL: %s", ErrDownloadFailed, mediaURL)
	}

	const maxRetries = 3
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", 0, fmt.Errorf("%w: %v", ErrDownloadFailed, ctx.Err())
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		path, size, err := downloadOnce(ctx, mediaURL, headers)
		if err == nil {
			return path, size, nil
		}
		// Превышение лимита не лечится повтором
		if errors.Is(err, ErrNoSuitableFormat) {
			return "", 0, err
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("попытка скачивания не удалась")
	}

	return "", 0, fmt.Errorf("%w: после %d попыток: %v", ErrDownloadFailed, maxRetries, lastErr)
}

// downloadOnce — одна попытка скачивания
func downloadOnce(ctx context.Context, mediaURL string, headers map[string]string) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("ошибка создания запроса: %v", err)
	}

	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "video/mp4,video/webm,video/*;q=0.9,*/*;q=0.8")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("ошибка запроса: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("неверный статус код: %d", resp.StatusCode)
	}

	// Заявленный размер проверяем до записи первого байта
	if resp.ContentLength > SizeLimit {
		return "", 0, fmt.Errorf("%w: Content-Length %d байт", ErrNoSuitableFormat, resp.ContentLength)
	}

	outputPath, err := tempFilePath()
	if err != nil {
		return "", 0, err
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return "", 0, fmt.Errorf("%w: не удалось создать файл: %v", ErrDownloadFailed, err)
	}

	// Читаем не больше лимита плюс один байт: лишний байт означает,
	// что поток превысил потолок
	n, err := io.Copy(out, io.LimitReader(resp.Body, SizeLimit+1))
	closeErr := out.Close()

	if err != nil {
		os.Remove(outputPath)
		return "", 0, fmt.Errorf("ошибка записи в файл: %v", err)
	}
	if closeErr != nil {
		os.Remove(outputPath)
		return "", 0, fmt.Errorf("ошибка закрытия файла: %v", closeErr)
	}
	if n > SizeLimit {
		os.Remove(outputPath)
		return "", 0, fmt.Errorf("%w: поток превысил %d байт", ErrNoSuitableFormat, int64(SizeLimit))
	}
	if n < 1024 {
		os.Remove(outputPath)
		return "", 0, fmt.Errorf("скачанный файл слишком маленький (%d байт), вероятно это не видео", n)
	}

	return outputPath, n, nil
}

// CleanupStale удаляет из каталога временных файлов всё старше maxAge.
// Страхует от файлов, осиротевших из-за падения или отмены запроса.
func CleanupStale(maxAge time.Duration) {
	entries, err := os.ReadDir(ScratchDir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("не удалось прочитать каталог временных файлов")
		}
		return
	}

	now := time.Now()
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(ScratchDir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > maxAge {
			if err := os.Remove(path); err != nil {
				log.Warn().Err(err).Str("path", path).Msg("не удалось удалить старый файл")
			} else {
				log.Info().Str("path", path).Msg("удалён старый временный файл")
			}
		}
	}
}
