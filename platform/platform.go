package platform

import (
	"regexp"
	"strings"
)

// Tag определяет тип платформы, к которой относится ссылка
type Tag string

const (
	TikTok      Tag = "tiktok"
	Douyin      Tag = "douyin"
	Xiaohongshu Tag = "xiaohongshu"
	YouTube     Tag = "youtube"
	Bilibili    Tag = "bilibili"
	Weibo       Tag = "weibo"
	Unknown     Tag = "unknown"
)

// matcher связывает платформу с её регулярным выражением
type matcher struct {
	tag Tag
	re  *regexp.Regexp
}

// Упорядоченная таблица паттернов: выигрывает первое совпадение.
// Добавление платформы — это добавление строки в таблицу.
var matchers = []matcher{
	{TikTok, regexp.MustCompile(`^https?://(?:www\.|m\.|vm\.|vt\.)?tiktok\.com/(?:@[^/]+/(?:video|photo)/\d+|v/\d+|t/[\w]+|[\w]+)/?`)},
	{Douyin, regexp.MustCompile(`^https?://(?:www\.|v\.|m\.)?(?:douyin|iesdouyin)\.com/`)},
	{Xiaohongshu, regexp.MustCompile(`^https?://(?:www\.)?(?:xiaohongshu\.com|xhslink\.com)/`)},
	{YouTube, regexp.MustCompile(`^https?://(?:www\.|m\.)?(?:youtube\.com/(?:watch\?v=|shorts/)|youtu\.be/)([a-zA-Z0-9_-]{11})`)},
	{Bilibili, regexp.MustCompile(`^https?://(?:www\.|m\.)?(?:bilibili\.com/video/(?:BV[\w]+|av\d+)|b23\.tv/[\w]+)`)},
	{Weibo, regexp.MustCompile(`^https?://(?:www\.|m\.)?weibo\.(?:com|cn)/(?:tv/show/|status(?:es)?/|detail/|\d+/)\S+`)},
}

// urlPattern извлекает любую http(s)-ссылку из текста
var urlPattern = regexp.MustCompile(`https?://[^\s<>"]+`)

// Detect классифицирует URL по таблице паттернов.
// Чистая функция: один и тот же URL всегда даёт один и тот же тег, без сети.
func Detect(rawURL string) Tag {
	rawURL = strings.TrimSpace(rawURL)
	for _, m := range matchers {
		if m.re.MatchString(rawURL) {
			return m.tag
		}
	}
	return Unknown
}

// ExtractLink извлекает первую ссылку из текста сообщения.
// Возвращает пустую строку, если ссылки нет.
func ExtractLink(text string) string {
	return urlPattern.FindString(text)
}
