package downloader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"goland/VideoFetchBot/platform"
	"goland/VideoFetchBot/xhs"
)

// SizeLimit — жёсткий потолок Telegram для файлов, отправляемых ботом
const SizeLimit = 50 * 1024 * 1024

// Таймаут на разрешение прямой ссылки одним экстрактором
const resolveTimeout = 90 * time.Second

// Result описывает скачанное видео. Файл по пути Path принадлежит
// текущему запросу и должен быть удалён после отправки.
type Result struct {
	Path     string
	Size     int64
	Duration int // секунды
	Width    int
	Height   int
	Caption  string
}

// resolved — прямая ссылка на медиа с метаданными, полученная экстрактором
type resolved struct {
	mediaURL string
	title    string
	author   string
	size     int64 // 0 — размер заранее неизвестен
	headers  map[string]string
}

// resolver разрешает ссылку платформы в прямую ссылку на видео
type resolver func(ctx context.Context, rawURL string) (*resolved, error)

// Таблица стратегий по платформам. Добавление платформы — строка здесь
// плюс паттерн в пакете platform.
var resolvers = map[platform.Tag]resolver{
	platform.TikTok:      resolveTikTok,
	platform.Douyin:      resolveTikTok,
	platform.Xiaohongshu: resolveXiaohongshu,
	platform.YouTube:     resolveYouTube,
	platform.Bilibili:    resolveBilibili,
	platform.Weibo:       resolveWeibo,
}

// Fetch проводит ссылку через весь конвейер: разрешение прямой ссылки,
// потоковое скачивание с ограничением размера и необязательный ffprobe.
func Fetch(ctx context.Context, rawURL string, tag platform.Tag) (*Result, error) {
	resolve, ok := resolvers[tag]
	if !ok {
		return nil, ErrUnsupportedLink
	}

	rctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	res, err := resolve(rctx, rawURL)
	if err != nil {
		return nil, classifyResolveErr(err)
	}

	// Заявленный размер больше лимита — отказываемся до скачивания
	if res.size > SizeLimit {
		return nil, fmt.Errorf("%w: заявлено %d байт", ErrNoSuitableFormat, res.size)
	}

	path, size, err := downloadMedia(ctx, res.mediaURL, res.headers)
	if err != nil {
		return nil, err
	}

	result := &Result{Path: path, Size: size}

	// ffprobe необязателен: при ошибке просто остаёмся без метаданных
	if info, err := probeVideo(ctx, path); err == nil {
		result.Duration = info.Duration
		result.Width = info.Width
		result.Height = info.Height
	} else {
		log.Debug().Err(err).Str("path", path).Msg("ffprobe не отработал, отправляем без метаданных")
	}

	result.Caption = buildCaption(res, result)
	return result, nil
}

// resolveXiaohongshu запускает изолированную browser-сессию на один запрос
func resolveXiaohongshu(ctx context.Context, rawURL string) (*resolved, error) {
	note, err := xhs.Extract(ctx, rawURL)
	if err != nil {
		return nil, mapNoteErr(err)
	}
	return &resolved{
		mediaURL: note.VideoURL,
		title:    note.Title,
		author:   note.Author,
		headers: map[string]string{
			"Referer":    "https://www.xiaohongshu.com/",
			"User-Agent": "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36",
		},
	}, nil
}

// mapNoteErr приводит ошибки разбора заметки к таксономии:
// заметка без видео для пользователя выглядит как "не найдено"
func mapNoteErr(err error) error {
	if errors.Is(err, xhs.ErrNoVideo) {
		return fmt.Errorf("%w: в заметке нет видео", ErrNotFound)
	}
	return err
}

// buildCaption собирает подпись из доступных метаданных
func buildCaption(res *resolved, r *Result) string {
	var parts []string
	if res.title != "" {
		parts = append(parts, res.title)
	}
	if res.author != "" {
		parts = append(parts, "👤 "+res.author)
	}
	var tech []string
	if r.Duration > 0 {
		tech = append(tech, formatDuration(r.Duration))
	}
	if r.Width > 0 && r.Height > 0 {
		tech = append(tech, fmt.Sprintf("%dx%d", r.Width, r.Height))
	}
	tech = append(tech, formatSize(r.Size))
	parts = append(parts, strings.Join(tech, " · "))

	caption := strings.Join(parts, "\n")
	// Telegram ограничивает подпись 1024 символами
	if rr := []rune(caption); len(rr) > 1024 {
		caption = string(rr[:1021]) + "..."
	}
	return caption
}

// formatDuration форматирует секунды в мм:сс
func formatDuration(seconds int) string {
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// formatSize форматирует размер в человекочитаемый вид
func formatSize(bytes int64) string {
	const mb = 1024 * 1024
	if bytes < mb {
		return fmt.Sprintf("%.0f КБ", float64(bytes)/1024)
	}
	return fmt.Sprintf("%.1f МБ", float64(bytes)/mb)
}
