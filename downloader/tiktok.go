package downloader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	neturl "net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
)

// resolveTikTok разрешает ссылки TikTok и Douyin. Основной путь — API
// tikwm.com, который отдаёт прямую ссылку вместе с размером и автором;
// при его отказе используется резервный разбор snaptik.app.
func resolveTikTok(ctx context.Context, rawURL string) (*resolved, error) {
	res, err := resolveTikwm(ctx, rawURL)
	if err == nil {
		return res, nil
	}
	log.Warn().Err(err).Str("url", rawURL).Msg("tikwm не сработал, пробуем snaptik")
	return resolveSnaptik(ctx, rawURL)
}

// tikwmResponse — ответ API tikwm.com
type tikwmResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		Play     string `json:"play"`
		Size     int64  `json:"size"`
		Duration int    `json:"duration"`
		Author   struct {
			UniqueID string `json:"unique_id"`
			Nickname string `json:"nickname"`
		} `json:"author"`
	} `json:"data"`
}

func resolveTikwm(ctx context.Context, rawURL string) (*resolved, error) {
	apiURL := "https://www.tikwm.com/api/?url=" + neturl.QueryEscape(rawURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса к tikwm: %v", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса к tikwm: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("неверный статус код от tikwm: %d", resp.StatusCode)
	}

	var parsed tikwmResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("ошибка разбора JSON tikwm: %v", err)
	}
	if parsed.Code != 0 || parsed.Data.Play == "" {
		return nil, fmt.Errorf("%w: tikwm не нашёл видео: %s", ErrNotFound, parsed.Msg)
	}

	playURL := parsed.Data.Play
	if strings.HasPrefix(playURL, "/") {
		playURL = "https://www.tikwm.com" + playURL
	}

	author := parsed.Data.Author.Nickname
	if author == "" {
		author = parsed.Data.Author.UniqueID
	}

	return &resolved{
		mediaURL: playURL,
		title:    parsed.Data.Title,
		author:   author,
		size:     parsed.Data.Size,
	}, nil
}

// resolveSnaptik — резервный путь через snaptik.app: токен с главной
// страницы, POST со ссылкой, расшифровка обфусцированного ответа и
// поиск ссылки на видео в полученном HTML.
func resolveSnaptik(ctx context.Context, rawURL string) (*resolved, error) {
	homeReq, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://snaptik.app/", nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса к snaptik: %v", err)
	}
	homeReq.Header.Set("User-Agent", defaultUserAgent)

	homeResp, err := httpClient.Do(homeReq)
	if err != nil {
		return nil, fmt.Errorf("ошибка запроса к snaptik: %w", err)
	}
	defer homeResp.Body.Close()

	if homeResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("неверный статус код от snaptik: %d", homeResp.StatusCode)
	}

	homeDoc, err := goquery.NewDocumentFromReader(homeResp.Body)
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора HTML snaptik: %v", err)
	}

	token, ok := homeDoc.Find("input[name='token']").Attr("value")
	if !ok || token == "" {
		return nil, fmt.Errorf("токен не найден на странице snaptik")
	}

	form := neturl.Values{}
	form.Set("url", rawURL)
	form.Set("token", token)

	postReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://snaptik.app/abc2.php", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания POST-запроса к snaptik: %v", err)
	}
	postReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	postReq.Header.Set("Origin", "https://snaptik.app")
	postReq.Header.Set("Referer", "https://snaptik.app/")
	postReq.Header.Set("User-Agent", defaultUserAgent)

	postResp, err := httpClient.Do(postReq)
	if err != nil {
		return nil, fmt.Errorf("ошибка POST-запроса к snaptik: %w", err)
	}
	defer postResp.Body.Close()

	if postResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("неверный статус код от snaptik: %d", postResp.StatusCode)
	}

	body, err := io.ReadAll(postResp.Body)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ответа snaptik: %v", err)
	}

	html := unpackSnaptik(string(body))
	if html == "" {
		return nil, fmt.Errorf("не удалось расшифровать ответ snaptik")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора расшифрованного HTML snaptik: %v", err)
	}

	videoURL, ok := doc.Find(".download-box > .video-links > a").Attr("href")
	if !ok || videoURL == "" {
		videoURL, ok = doc.Find("a[download]").Attr("href")
		if !ok || videoURL == "" {
			videoURL, ok = doc.Find("a[href*='.mp4']").Attr("href")
			if !ok || videoURL == "" {
				return nil, fmt.Errorf("%w: ссылка на видео не найдена в ответе snaptik", ErrNotFound)
			}
		}
	}

	return &resolved{mediaURL: videoURL}, nil
}

// unpackSnaptik разворачивает обфусцированный eval-ответ snaptik в HTML
func unpackSnaptik(data string) string {
	args := extractEvalArgs(data)
	if args == nil {
		return ""
	}
	decoded := decodeEvalPayload(args)
	if decoded == "" {
		return ""
	}

	parts := strings.Split(decoded, `$("#download").innerHTML = "`)
	if len(parts) < 2 {
		return ""
	}
	inner := strings.Split(parts[1], `"; document.getElementById("inputData").remove(); `)
	html := inner[0]
	html = strings.ReplaceAll(html, `\\`, "")
	html = strings.ReplaceAll(html, `\`, "")
	return html
}

// extractEvalArgs вырезает аргументы самовызывающейся функции из ответа
func extractEvalArgs(data string) []string {
	parts := strings.Split(data, "decodeURIComponent(escape(r))}(")
	if len(parts) < 2 {
		return nil
	}
	inner := strings.Split(parts[1], "))")
	if len(inner) < 1 {
		return nil
	}
	raw := strings.Split(inner[0], ",")
	args := make([]string, 0, len(raw))
	for _, part := range raw {
		args = append(args, strings.ReplaceAll(strings.TrimSpace(part), `"`, ""))
	}
	return args
}

// decodeEvalPayload воспроизводит алгоритм распаковки snaptik:
// каждая группа символов до разделителя — число в системе счисления e,
// из которого восстанавливается код символа
func decodeEvalPayload(args []string) string {
	if len(args) < 6 {
		return ""
	}
	h, n, t, e := args[0], args[2], args[3], args[4]

	tNum, err := strconv.Atoi(t)
	if err != nil {
		return ""
	}
	eNum, err := strconv.Atoi(e)
	if err != nil {
		return ""
	}
	if eNum <= 1 || eNum >= len(n) {
		return ""
	}

	alphabet := "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ+/"
	toDecimal := func(s string, base int) int {
		digits := alphabet[:base]
		val := 0
		for c := 0; c < len(s); c++ {
			idx := strings.IndexByte(digits, s[len(s)-1-c])
			if idx >= 0 {
				val += idx * int(math.Pow(float64(base), float64(c)))
			}
		}
		return val
	}

	var result strings.Builder
	delim := n[eNum]
	for i := 0; i < len(h); {
		var chunk strings.Builder
		for i < len(h) && h[i] != delim {
			chunk.WriteByte(h[i])
			i++
		}
		i++

		s := chunk.String()
		for j := 0; j < len(n); j++ {
			s = strings.ReplaceAll(s, string(n[j]), strconv.Itoa(j))
		}

		code := toDecimal(s, eNum) - tNum
		if code >= 0 && code <= 0x10FFFF {
			result.WriteRune(rune(code))
		}
	}

	return fixLatin1(result.String())
}

// fixLatin1 чинит строки, где байты UTF-8 оказались прочитаны как
// отдельные символы
func fixLatin1(s string) string {
	bytes := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xFF {
			return s
		}
		bytes = append(bytes, byte(r))
	}
	if utf8.Valid(bytes) {
		return string(bytes)
	}
	return s
}
