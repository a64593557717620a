package downloader

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var playinfoPattern = regexp.MustCompile(`window\.__playinfo__\s*=\s*(\{.+?\})\s*</script>`)

// bilibiliPlayinfo — встроенный в страницу JSON с потоками плеера
type bilibiliPlayinfo struct {
	Data struct {
		Durl []struct {
			URL  string `json:"url"`
			Size int64  `json:"size"`
		} `json:"durl"`
		Dash struct {
			Video []struct {
				BaseURL string `json:"baseUrl"`
			} `json:"video"`
		} `json:"dash"`
	} `json:"data"`
}

// resolveBilibili достаёт прямую ссылку из страницы Bilibili:
// плеер кладёт список потоков в window.__playinfo__.
func resolveBilibili(ctx context.Context, rawURL string) (*resolved, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса к bilibili: %v", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Referer", "https://www.bilibili.com/")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса к bilibili: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: страница bilibili не найдена", ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("неверный статус код от bilibili: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора HTML bilibili: %v", err)
	}

	html, err := doc.Html()
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации HTML bilibili: %v", err)
	}

	matches := playinfoPattern.FindStringSubmatch(html)
	if len(matches) < 2 {
		return nil, fmt.Errorf("%w: __playinfo__ не найден на странице", ErrNotFound)
	}

	var playinfo bilibiliPlayinfo
	if err := json.Unmarshal([]byte(matches[1]), &playinfo); err != nil {
		return nil, fmt.Errorf("ошибка разбора __playinfo__: %v", err)
	}

	res := &resolved{
		headers: map[string]string{"Referer": "https://www.bilibili.com/"},
	}

	switch {
	case len(playinfo.Data.Durl) > 0:
		res.mediaURL = playinfo.Data.Durl[0].URL
		res.size = playinfo.Data.Durl[0].Size
	case len(playinfo.Data.Dash.Video) > 0:
		res.mediaURL = playinfo.Data.Dash.Video[0].BaseURL
	default:
		return nil, fmt.Errorf("%w: __playinfo__ без потоков", ErrNotFound)
	}

	if title, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		res.title = strings.TrimSuffix(title, "_哔哩哔哩_bilibili")
	}
	if author, ok := doc.Find(`meta[name="author"]`).Attr("content"); ok {
		res.author = author
	}

	return res, nil
}
