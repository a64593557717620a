package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"goland/VideoFetchBot/downloader"
	"goland/VideoFetchBot/platform"
	"goland/VideoFetchBot/webapp"
)

// Семафор для ограничения количества одновременных скачиваний
var downloadSemaphore chan struct{}

// Таймаут на обработку одного сообщения целиком
const messageTimeout = 10 * time.Minute

func main() {
	debugMode := flag.Bool("debug", false, "Режим отладки (true/false)")
	maxConcurrent := flag.Int("concurrent", 5, "Максимальное количество одновременных скачиваний")
	flag.Parse()

	// .env необязателен, переменные окружения имеют приоритет
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	if *debugMode {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	botToken := os.Getenv("TELEGRAM_BOT_TOKEN")
	if botToken == "" {
		log.Fatal().Msg("Токен бота не найден. Установите переменную окружения TELEGRAM_BOT_TOKEN")
	}

	// Без ffprobe работаем, но подписи будут без длительности и разрешения
	if downloader.ProbeAvailable() {
		log.Info().Msg("ffprobe обнаружен, метаданные видео включены")
	} else {
		log.Warn().Msg("ffprobe недоступен, подписи будут без длительности и разрешения")
	}

	downloadSemaphore = make(chan struct{}, *maxConcurrent)

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка инициализации бота")
	}
	bot.Debug = *debugMode
	log.Info().Str("username", bot.Self.UserName).Bool("debug", bot.Debug).Msg("Авторизован")

	setupBotCommands(bot)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Веб-вариант поднимается рядом с ботом, если задан порт
	if port := os.Getenv("WEB_PORT"); port != "" {
		srv := webapp.New(port)
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.Error().Err(err).Msg("Веб-сервер остановился с ошибкой")
			}
		}()
	}

	// Периодическая очистка осиротевших временных файлов
	go startPeriodicCleanup(ctx)

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 30
	updates := bot.GetUpdatesChan(updateConfig)

	log.Info().Msg("Бот запущен, ожидаем сообщения")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Завершение работы")
			return
		case update := <-updates:
			if update.Message != nil {
				// Каждое сообщение обрабатывается независимо
				go handleMessage(ctx, bot, update.Message)
			}
		}
	}
}

// setupBotCommands устанавливает список команд бота для отображения в меню
func setupBotCommands(bot *tgbotapi.BotAPI) {
	commands := []tgbotapi.BotCommand{
		{Command: "start", Description: "Начать работу с ботом"},
		{Command: "help", Description: "Показать инструкцию по использованию"},
	}
	if _, err := bot.Request(tgbotapi.NewSetMyCommands(commands...)); err != nil {
		log.Warn().Err(err).Msg("Ошибка при установке команд бота")
	}
}

// handleMessage проводит входящее сообщение через конвейер:
// ссылка, платформа, извлечение, скачивание, отправка
func handleMessage(ctx context.Context, bot *tgbotapi.BotAPI, message *tgbotapi.Message) {
	chatID := message.Chat.ID

	if message.IsCommand() {
		handleCommand(bot, chatID, message.Command())
		return
	}

	url := platform.ExtractLink(message.Text)
	if url == "" {
		reply(bot, chatID, "Пожалуйста, отправьте ссылку на видео из TikTok, Douyin, Xiaohongshu, YouTube, Bilibili или Weibo.")
		return
	}

	tag := platform.Detect(url)
	if tag == platform.Unknown {
		reply(bot, chatID, downloader.UserMessage(downloader.ErrUnsupportedLink))
		return
	}

	log.Info().Int64("chat", chatID).Str("platform", string(tag)).Str("url", url).Msg("Новый запрос")

	processingMsg, _ := bot.Send(tgbotapi.NewMessage(chatID, "⏳ Обрабатываю ссылку..."))

	// Ограничиваем число одновременных скачиваний
	downloadSemaphore <- struct{}{}
	defer func() { <-downloadSemaphore }()

	mctx, cancel := context.WithTimeout(ctx, messageTimeout)
	defer cancel()

	result, err := downloader.Fetch(mctx, url, tag)
	if err != nil {
		log.Error().Err(err).Int64("chat", chatID).Str("platform", string(tag)).Msg("Конвейер завершился ошибкой")
		reply(bot, chatID, downloader.UserMessage(err))
		deleteMessage(bot, chatID, processingMsg.MessageID)
		return
	}

	sendVideo(bot, chatID, result, processingMsg.MessageID)
}

// handleCommand отвечает на команды, минуя конвейер скачивания
func handleCommand(bot *tgbotapi.BotAPI, chatID int64, command string) {
	switch command {
	case "start":
		reply(bot, chatID,
			"Привет! Я скачиваю видео из TikTok, Douyin, Xiaohongshu, YouTube, Bilibili и Weibo. "+
				"Просто отправь мне ссылку, и я пришлю видео файлом (до 50 МБ).")
	case "help":
		reply(bot, chatID,
			"🔍 Как использовать:\n\n"+
				"1. Скопируйте ссылку на видео\n"+
				"2. Отправьте её мне\n"+
				"3. Дождитесь загрузки и получите файл\n\n"+
				"Поддерживаемые платформы: TikTok, Douyin, Xiaohongshu, YouTube, Bilibili, Weibo.\n"+
				"Ограничение Telegram: файлы до 50 МБ.")
	default:
		reply(bot, chatID, "Неизвестная команда. Отправьте /help для инструкции.")
	}
}

// sendVideo отправляет скачанное видео и удаляет временный файл.
// Файл удаляется в любом случае, и после успеха, и после ошибки
// отправки, иначе диск забьётся остатками.
func sendVideo(bot *tgbotapi.BotAPI, chatID int64, result *downloader.Result, processingMsgID int) {
	defer func() {
		deleteMessage(bot, chatID, processingMsgID)
		if err := os.Remove(result.Path); err != nil {
			log.Warn().Err(err).Str("path", result.Path).Msg("Не удалось удалить временный файл")
		}
	}()

	video := tgbotapi.NewVideo(chatID, tgbotapi.FilePath(result.Path))
	video.Caption = result.Caption
	video.Duration = result.Duration
	video.SupportsStreaming = true

	if _, err := bot.Send(video); err != nil {
		log.Error().Err(err).Int64("chat", chatID).Msg("Ошибка при отправке видео")
		// Отказ самого Telegram по размеру отличаем от остальных ошибок
		uploadErr := downloader.ErrUploadFailed
		if strings.Contains(err.Error(), "Request Entity Too Large") || strings.Contains(err.Error(), "file is too big") {
			uploadErr = downloader.ErrFileTooLarge
		}
		reply(bot, chatID, downloader.UserMessage(uploadErr))
		return
	}

	log.Info().Int64("chat", chatID).Int64("size", result.Size).Msg("Видео отправлено")
}

// reply отправляет короткое текстовое сообщение
func reply(bot *tgbotapi.BotAPI, chatID int64, text string) {
	if _, err := bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		log.Warn().Err(err).Int64("chat", chatID).Msg("Не удалось отправить сообщение")
	}
}

// deleteMessage удаляет служебное сообщение
func deleteMessage(bot *tgbotapi.BotAPI, chatID int64, messageID int) {
	if _, err := bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		log.Debug().Err(err).Int("message", messageID).Msg("Не удалось удалить служебное сообщение")
	}
}

// startPeriodicCleanup раз в час подчищает временные файлы старше часа.
// Конвейер удаляет свои файлы сам, очистка страхует от падений и отмен.
func startPeriodicCleanup(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	log.Info().Msg("Запущена периодическая очистка временных файлов")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			downloader.CleanupStale(time.Hour)
		}
	}
}
