package downloader

import (
	"context"
	"errors"
	"fmt"
	"strings"

	youtube "github.com/kkdai/youtube/v2"
)

// Минимальное качество, ниже которого видео не предлагаем
const minVideoHeight = 360

var youtubeClient = youtube.Client{}

// resolveYouTube разрешает ссылку YouTube через библиотеку извлечения.
// Из muxed-форматов (видео со звуком) выбирается самый маленький,
// который не ниже порога качества и помещается в лимит размера.
func resolveYouTube(ctx context.Context, rawURL string) (*resolved, error) {
	video, err := youtubeClient.GetVideoContext(ctx, rawURL)
	if err != nil {
		var playErr *youtube.ErrPlayabiltyStatus
		if errors.As(err, &playErr) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, playErr.Reason)
		}
		return nil, err
	}

	format, err := pickYouTubeFormat(video.Formats)
	if err != nil {
		return nil, err
	}

	streamURL, err := youtubeClient.GetStreamURLContext(ctx, video, format)
	if err != nil {
		return nil, err
	}

	return &resolved{
		mediaURL: streamURL,
		title:    video.Title,
		author:   video.Author,
		size:     format.ContentLength,
	}, nil
}

// pickYouTubeFormat выбирает формат: mp4 со звуком, высота не ниже
// порога, размер в пределах лимита, из подходящих — наименьший.
func pickYouTubeFormat(formats youtube.FormatList) (*youtube.Format, error) {
	candidates := formats.WithAudioChannels()
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: нет форматов со звуком", ErrNotFound)
	}

	var best *youtube.Format
	for i := range candidates {
		f := &candidates[i]
		if !strings.Contains(f.MimeType, "video/mp4") {
			continue
		}
		if f.Height < minVideoHeight {
			continue
		}
		if f.ContentLength <= 0 || f.ContentLength > SizeLimit {
			continue
		}
		if best == nil || f.ContentLength < best.ContentLength {
			best = f
		}
	}

	if best == nil {
		return nil, fmt.Errorf("%w: ни один формат не проходит по качеству и размеру", ErrNoSuitableFormat)
	}
	return best, nil
}
