package downloader

import (
	"context"
	"errors"
	"net"
	neturl "net/url"
)

// Типизированная таксономия ошибок конвейера. Каждый внешний вызов
// заворачивается ровно в одну из этих ошибок, чтобы ответчик мог
// показать пользователю короткое понятное сообщение.
var (
	ErrUnsupportedLink  = errors.New("ссылка не поддерживается")
	ErrUnreachable      = errors.New("платформа недоступна")
	ErrNotFound         = errors.New("видео не найдено")
	ErrNoSuitableFormat = errors.New("нет подходящего формата")
	ErrExtractor        = errors.New("ошибка извлечения видео")
	ErrDownloadFailed   = errors.New("не удалось скачать видео")
	ErrFileTooLarge     = errors.New("файл слишком большой для отправки")
	ErrUploadFailed     = errors.New("не удалось отправить видео")
)

// UserMessage возвращает короткий текст для пользователя по типу ошибки.
// Стектрейсы и внутренние детали наружу не выходят.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedLink):
		return "Эта ссылка не поддерживается. Отправьте ссылку на TikTok, Douyin, Xiaohongshu, YouTube, Bilibili или Weibo."
	case errors.Is(err, ErrUnreachable):
		return "Не удалось связаться с платформой. Попробуйте позже."
	case errors.Is(err, ErrNotFound):
		return "Видео по этой ссылке не найдено. Проверьте ссылку."
	case errors.Is(err, ErrNoSuitableFormat):
		return "Видео слишком большое: нет формата меньше 50 МБ."
	case errors.Is(err, ErrFileTooLarge):
		return "Файл больше 50 МБ — Telegram не позволяет его отправить."
	case errors.Is(err, ErrUploadFailed):
		return "Не удалось отправить видео. Попробуйте ещё раз."
	case errors.Is(err, ErrDownloadFailed):
		return "Не удалось скачать видео. Попробуйте ещё раз."
	default:
		return "Не удалось обработать ссылку. Попробуйте ещё раз."
	}
}

// classifyResolveErr приводит ошибку внешнего вызова к таксономии:
// сетевые проблемы — ErrUnreachable, всё остальное — ErrExtractor.
func classifyResolveErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnreachable) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrNoSuitableFormat) || errors.Is(err, ErrExtractor) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return errors.Join(ErrUnreachable, err)
	}
	var urlErr *neturl.Error
	if errors.As(err, &urlErr) {
		return errors.Join(ErrUnreachable, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrUnreachable, err)
	}
	return errors.Join(ErrExtractor, err)
}
