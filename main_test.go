package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goland/VideoFetchBot/downloader"
)

// telegramStub подменяет Bot API: отвечает на служебные методы и
// записывает отправленные тексты и вызванные методы
type telegramStub struct {
	mu        sync.Mutex
	methods   []string
	texts     []string
	videoResp string
}

func (s *telegramStub) handler(w http.ResponseWriter, r *http.Request) {
	method := path.Base(r.URL.Path)

	s.mu.Lock()
	s.methods = append(s.methods, method)
	if method == "sendMessage" {
		_ = r.ParseForm()
		s.texts = append(s.texts, r.FormValue("text"))
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch method {
	case "getMe":
		fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"bot","username":"test_bot"}}`)
	case "sendMessage":
		fmt.Fprint(w, `{"ok":true,"result":{"message_id":7,"chat":{"id":1,"type":"private"},"date":1}}`)
	case "sendVideo":
		fmt.Fprint(w, s.videoResp)
	default:
		fmt.Fprint(w, `{"ok":true,"result":true}`)
	}
}

func (s *telegramStub) sentTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func (s *telegramStub) calledMethods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.methods...)
}

func newStubBot(t *testing.T, stub *telegramStub) *tgbotapi.BotAPI {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(stub.handler))
	t.Cleanup(srv.Close)

	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint("123:test-token", srv.URL+"/bot%s/%s")
	require.NoError(t, err)
	return bot
}

func tempVideoFile(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "video.mp4")
	require.NoError(t, os.WriteFile(p, []byte("видеоданные"), 0o644))
	return p
}

func TestSendVideoDeletesFileOnSuccess(t *testing.T) {
	stub := &telegramStub{
		videoResp: `{"ok":true,"result":{"message_id":9,"chat":{"id":1,"type":"private"},"date":1}}`,
	}
	bot := newStubBot(t, stub)
	p := tempVideoFile(t)

	sendVideo(bot, 1, &downloader.Result{Path: p, Size: 11, Caption: "подпись"}, 42)

	assert.NoFileExists(t, p, "временный файл должен удаляться после успешной отправки")
	assert.Empty(t, stub.sentTexts(), "при успехе текстовых сообщений не отправляется")
	assert.Contains(t, stub.calledMethods(), "deleteMessage", "служебное сообщение должно удаляться")
}

func TestSendVideoDeletesFileWhenTelegramRejectsSize(t *testing.T) {
	stub := &telegramStub{
		videoResp: `{"ok":false,"error_code":413,"description":"Request Entity Too Large"}`,
	}
	bot := newStubBot(t, stub)
	p := tempVideoFile(t)

	sendVideo(bot, 1, &downloader.Result{Path: p, Size: 11}, 42)

	assert.NoFileExists(t, p, "временный файл должен удаляться и при отказе отправки")

	texts := stub.sentTexts()
	require.Len(t, texts, 1)
	assert.Equal(t, downloader.UserMessage(downloader.ErrFileTooLarge), texts[0],
		"отказ Telegram по размеру сообщается отдельным текстом")
}

func TestSendVideoDeletesFileOnOtherUploadError(t *testing.T) {
	stub := &telegramStub{
		videoResp: `{"ok":false,"error_code":500,"description":"Internal Server Error"}`,
	}
	bot := newStubBot(t, stub)
	p := tempVideoFile(t)

	sendVideo(bot, 1, &downloader.Result{Path: p, Size: 11}, 42)

	assert.NoFileExists(t, p)

	texts := stub.sentTexts()
	require.Len(t, texts, 1)
	assert.Equal(t, downloader.UserMessage(downloader.ErrUploadFailed), texts[0])
}
