package downloader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
)

var weiboStatusPattern = regexp.MustCompile(`/(?:detail|status(?:es)?)/([a-zA-Z0-9]+)`)

// weiboShowResponse — ответ мобильного API statuses/show
type weiboShowResponse struct {
	OK   int `json:"ok"`
	Data struct {
		User struct {
			ScreenName string `json:"screen_name"`
		} `json:"user"`
		PageInfo struct {
			Type      string `json:"type"`
			PageTitle string `json:"page_title"`
			MediaInfo struct {
				StreamURL   string `json:"stream_url"`
				StreamURLHD string `json:"stream_url_hd"`
				Duration    float64 `json:"duration"`
			} `json:"media_info"`
		} `json:"page_info"`
	} `json:"data"`
}

// resolveWeibo разрешает ссылку Weibo через мобильное API статусов;
// для ссылок без идентификатора статуса — через meta-теги страницы.
func resolveWeibo(ctx context.Context, rawURL string) (*resolved, error) {
	if m := weiboStatusPattern.FindStringSubmatch(rawURL); len(m) == 2 {
		return resolveWeiboStatus(ctx, m[1])
	}
	return resolveWeiboPage(ctx, rawURL)
}

func resolveWeiboStatus(ctx context.Context, statusID string) (*resolved, error) {
	apiURL := "https://m.weibo.cn/statuses/show?id=" + statusID

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса к weibo: %v", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Referer", "https://m.weibo.cn/")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса к weibo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("неверный статус код от weibo: %d", resp.StatusCode)
	}

	var parsed weiboShowResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("ошибка разбора JSON weibo: %v", err)
	}
	if parsed.OK != 1 {
		return nil, fmt.Errorf("%w: статус weibo недоступен", ErrNotFound)
	}

	media := parsed.Data.PageInfo.MediaInfo
	streamURL := media.StreamURLHD
	if streamURL == "" {
		streamURL = media.StreamURL
	}
	if streamURL == "" {
		return nil, fmt.Errorf("%w: в статусе нет видео", ErrNotFound)
	}

	return &resolved{
		mediaURL: streamURL,
		title:    parsed.Data.PageInfo.PageTitle,
		author:   parsed.Data.User.ScreenName,
		headers:  map[string]string{"Referer": "https://weibo.com/"},
	}, nil
}

// resolveWeiboPage ищет прямую ссылку в meta-тегах страницы
func resolveWeiboPage(ctx context.Context, rawURL string) (*resolved, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса к weibo: %v", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса к weibo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("неверный статус код от weibo: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения страницы weibo: %v", err)
	}

	patterns := []string{
		`"stream_url_hd":\s*"([^"]+)"`,
		`"stream_url":\s*"([^"]+)"`,
		`og:video" content="([^"]+)"`,
	}
	for _, pattern := range patterns {
		re := regexp.MustCompile(pattern)
		if m := re.FindStringSubmatch(string(body)); len(m) > 1 {
			videoURL := strings.ReplaceAll(m[1], "&amp;", "&")
			videoURL = strings.ReplaceAll(videoURL, `\/`, "/")
			return &resolved{
				mediaURL: videoURL,
				headers:  map[string]string{"Referer": "https://weibo.com/"},
			}, nil
		}
	}

	return nil, fmt.Errorf("%w: видео не найдено на странице weibo", ErrNotFound)
}
