// Пакет xhs извлекает видео из заметок Xiaohongshu через headless-браузер.
// Библиотечные экстракторы с этой платформой не справляются из-за капчи,
// поэтому прямая ссылка перехватывается из сетевых ответов страницы.
package xhs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
)

// ErrNoVideo — страница загрузилась, но видео в заметке не нашлось
var ErrNoVideo = errors.New("в заметке нет видео")

// Note — результат разбора заметки
type Note struct {
	VideoURL string
	Title    string
	Author   string
}

const pageUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"

// Сколько ждём после загрузки страницы, пока плеер запросит видео
const settleWait = 5 * time.Second

// Куки по умолчанию: без них xiaohongshu показывает капчу
var defaultCookies = []*proto.NetworkCookieParam{
	{Name: "a1", Value: "19a90f6bc56svf6e84o8s43lqt5jhn8fo6hcjfvpb30000518932", Domain: ".xiaohongshu.com", Path: "/"},
	{Name: "webId", Value: "7adabb4b2bc4bfdd80f18f30754b1728", Domain: ".xiaohongshu.com", Path: "/"},
	{Name: "web_session", Value: "040069b2a37562cb56388332593b4b7d7dd974", Domain: ".xiaohongshu.com", Path: "/"},
	{Name: "xsecappid", Value: "xhs-pc-web", Domain: ".xiaohongshu.com", Path: "/"},
}

var noteIDPattern = regexp.MustCompile(`/(?:explore|discovery/item)/([a-f0-9]+)`)

// NoteID извлекает идентификатор заметки из полной ссылки
func NoteID(rawURL string) string {
	if m := noteIDPattern.FindStringSubmatch(rawURL); len(m) == 2 {
		return m[1]
	}
	return ""
}

// IsShortLink распознаёт короткие ссылки xhslink.com,
// которые разворачиваются редиректом при навигации
func IsShortLink(rawURL string) bool {
	return strings.Contains(strings.ToLower(rawURL), "xhslink.com")
}

// isVideoResponse определяет, является ли сетевой ответ видеопотоком заметки
func isVideoResponse(respURL string) bool {
	return strings.Contains(respURL, "sns-video") && strings.Contains(respURL, ".mp4")
}

// Extract открывает заметку в изолированном браузере и перехватывает
// прямую ссылку на видео. Браузер живёт ровно один запрос и закрывается
// на любом пути выхода, включая таймаут навигации.
func Extract(ctx context.Context, rawURL string) (*Note, error) {
	if id := NoteID(rawURL); id != "" {
		log.Debug().Str("note", id).Msg("извлекаем заметку xhs")
	} else if IsShortLink(rawURL) {
		log.Debug().Str("url", rawURL).Msg("короткая ссылка xhs, развернётся редиректом")
	}

	browser, cleanup, err := launchBrowser()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if err := browser.SetCookies(defaultCookies); err != nil {
		return nil, fmt.Errorf("не удалось установить куки: %v", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть страницу: %v", err)
	}
	page = page.Context(ctx)

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: pageUserAgent}); err != nil {
		return nil, fmt.Errorf("не удалось установить user agent: %v", err)
	}

	// Собираем ссылки на видео из сетевых ответов страницы
	var mu sync.Mutex
	var videoURLs []string
	go page.EachEvent(func(e *proto.NetworkResponseReceived) {
		if isVideoResponse(e.Response.URL) {
			mu.Lock()
			videoURLs = append(videoURLs, e.Response.URL)
			mu.Unlock()
		}
	})()

	navErr := page.Navigate(rawURL)
	if navErr == nil {
		if err := page.WaitLoad(); err != nil {
			log.Debug().Err(err).Msg("страница xhs не дождалась полной загрузки, продолжаем")
		}
		// Даём плееру время запросить видеопоток
		select {
		case <-ctx.Done():
		case <-time.After(settleWait):
		}
	}

	mu.Lock()
	captured := append([]string(nil), videoURLs...)
	mu.Unlock()

	// Даже при таймауте навигации перехваченные ссылки годятся
	if len(captured) == 0 {
		if navErr != nil {
			return nil, fmt.Errorf("навигация не удалась: %w", navErr)
		}
		return nil, ErrNoVideo
	}

	note := &Note{VideoURL: captured[0]}
	fillMeta(page, note)
	return note, nil
}

// launchBrowser запускает headless-браузер на один запрос.
// cleanup гарантированно гасит и браузер, и процесс Chrome.
func launchBrowser() (*rod.Browser, func(), error) {
	l := launcher.New().
		Headless(true).
		NoSandbox(true).
		Set("disable-gpu").
		Set("disable-dev-shm-usage")

	if chromePath := os.Getenv("CHROME_PATH"); chromePath != "" {
		l = l.Bin(chromePath)
	}
	if proxy := os.Getenv("HTTP_PROXY"); proxy != "" {
		l = l.Proxy(proxy)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, nil, fmt.Errorf("не удалось запустить браузер: %v", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, nil, fmt.Errorf("не удалось подключиться к браузеру: %v", err)
	}

	cleanup := func() {
		if err := browser.Close(); err != nil {
			log.Warn().Err(err).Msg("не удалось закрыть браузер")
		}
		l.Kill()
	}
	return browser, cleanup, nil
}

// fillMeta вытаскивает заголовок и автора заметки, ошибки не критичны
func fillMeta(page *rod.Page, note *Note) {
	short := page.Timeout(3 * time.Second)

	if el, err := short.Element(`meta[property="og:title"], meta[name="og:title"]`); err == nil {
		if content, err := el.Attribute("content"); err == nil && content != nil {
			note.Title = strings.TrimSpace(*content)
		}
	}
	if el, err := short.Element(`.author-container .username, .author .name`); err == nil {
		if text, err := el.Text(); err == nil {
			note.Author = strings.TrimSpace(text)
		}
	}
}
