package downloader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"strconv"
	"time"
)

// videoInfo — метаданные контейнера, прочитанные ffprobe
type videoInfo struct {
	Duration int
	Width    int
	Height   int
}

// ProbeAvailable проверяет наличие ffprobe. Без него бот работает,
// но подписи остаются без длительности и разрешения.
func ProbeAvailable() bool {
	return exec.Command("ffprobe", "-version").Run() == nil
}

// probeVideo читает длительность и разрешение видео через ffprobe
func probeVideo(ctx context.Context, path string) (*videoInfo, error) {
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(pctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "format=duration:stream=width,height",
		"-of", "json", path)

	var out bytes.Buffer
	cmd.Stdout = &out

	if err := cmd.Run(); err != nil {
		return nil, err
	}

	var obj struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
		Streams []struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(out.Bytes(), &obj); err != nil {
		return nil, err
	}
	if len(obj.Streams) == 0 {
		return nil, errors.New("видеопоток не найден")
	}

	info := &videoInfo{
		Width:  obj.Streams[0].Width,
		Height: obj.Streams[0].Height,
	}
	if dur, err := strconv.ParseFloat(obj.Format.Duration, 64); err == nil && dur > 0 {
		info.Duration = int(dur)
	}
	return info, nil
}
