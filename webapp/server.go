// Package webapp реализует веб-вариант загрузчика: HTTP API с задачами
// вместо диалога в Telegram. Используется тот же конвейер скачивания.
package webapp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"goland/VideoFetchBot/downloader"
	"goland/VideoFetchBot/platform"
)

// Статусы задачи скачивания
const (
	StatusPending     = "pending"
	StatusDownloading = "downloading"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
)

// Задачи старше этого возраста удаляются вместе с файлами
const taskTTL = time.Hour

// Task описывает одно скачивание, запущенное через API
type Task struct {
	ID        string    `json:"task_id"`
	URL       string    `json:"url"`
	Platform  string    `json:"platform"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Caption   string    `json:"caption,omitempty"`
	Size      int64     `json:"size,omitempty"`
	Duration  int       `json:"duration,omitempty"`
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	path string
}

// Server обслуживает HTTP API поверх конвейера скачивания
type Server struct {
	addr  string
	mu    sync.Mutex
	tasks map[string]*Task
}

// New создаёт сервер, слушающий указанный порт
func New(port string) *Server {
	return &Server{
		addr:  ":" + strings.TrimPrefix(port, ":"),
		tasks: make(map[string]*Task),
	}
}

// Run запускает сервер и блокируется до отмены контекста
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/download", s.handleDownload)
	mux.HandleFunc("GET /api/status/{id}", s.handleStatus)
	mux.HandleFunc("GET /api/file/{id}", s.handleFile)
	mux.HandleFunc("GET /api/preview/{id}", s.handlePreview)
	mux.HandleFunc("GET /health", s.handleHealth)

	srv := &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
	}

	go s.startTaskCleanup(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", s.addr).Msg("Веб-сервер запущен")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type downloadRequest struct {
	URL string `json:"url"`
}

type downloadResponse struct {
	TaskID       string `json:"task_id"`
	ExtractedURL string `json:"extracted_url"`
	Platform     string `json:"platform"`
}

// handleDownload принимает ссылку, заводит задачу и запускает скачивание в фоне
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "некорректный JSON")
		return
	}

	url := platform.ExtractLink(req.URL)
	if url == "" {
		writeError(w, http.StatusBadRequest, "ссылка не найдена в запросе")
		return
	}

	tag := platform.Detect(url)
	if tag == platform.Unknown {
		writeError(w, http.StatusBadRequest, downloader.UserMessage(downloader.ErrUnsupportedLink))
		return
	}

	task := &Task{
		ID:        uuid.New().String(),
		URL:       url,
		Platform:  string(tag),
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	s.tasks[task.ID] = task
	s.mu.Unlock()

	go s.runTask(task.ID, url, tag)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(downloadResponse{
		TaskID:       task.ID,
		ExtractedURL: url,
		Platform:     string(tag),
	})
}

// runTask выполняет скачивание и переводит задачу в конечный статус
func (s *Server) runTask(id, url string, tag platform.Tag) {
	s.setStatus(id, StatusDownloading, "")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	result, err := downloader.Fetch(ctx, url, tag)

	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		// Задачу успели вычистить, файл больше никому не нужен
		if result != nil {
			_ = os.Remove(result.Path)
		}
		return
	}
	if err != nil {
		log.Error().Err(err).Str("task", id).Str("url", url).Msg("Задача завершилась ошибкой")
		task.Status = StatusFailed
		task.Error = downloader.UserMessage(err)
		return
	}
	task.Status = StatusCompleted
	task.Caption = result.Caption
	task.Size = result.Size
	task.Duration = result.Duration
	task.Width = result.Width
	task.Height = result.Height
	task.path = result.Path
	log.Info().Str("task", id).Int64("size", result.Size).Msg("Задача выполнена")
}

func (s *Server) setStatus(id, status, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task, ok := s.tasks[id]; ok {
		task.Status = status
		task.Error = errMsg
	}
}

// getTask возвращает копию задачи: указатель наружу не отдаём,
// иначе обработчики читали бы поля одновременно с записью из runTask
func (s *Server) getTask(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// handleStatus отдаёт текущее состояние задачи
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	task, ok := s.getTask(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "задача не найдена")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(task)
}

// handleFile отдаёт готовый файл как вложение
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	task, ok := s.getTask(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "задача не найдена")
		return
	}
	if task.Status != StatusCompleted {
		writeError(w, http.StatusConflict, "файл ещё не готов")
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", `attachment; filename="video.mp4"`)
	http.ServeFile(w, r, task.path)
}

// handlePreview отдаёт файл для проигрывания в браузере с поддержкой Range
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	task, ok := s.getTask(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "задача не найдена")
		return
	}
	if task.Status != StatusCompleted {
		writeError(w, http.StatusConflict, "файл ещё не готов")
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Accept-Ranges", "bytes")
	http.ServeFile(w, r, task.path)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// startTaskCleanup раз в десять минут удаляет задачи старше часа вместе с файлами
func (s *Server) startTaskCleanup(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanupTasks(time.Now())
		}
	}
}

func (s *Server) cleanupTasks(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, task := range s.tasks {
		if now.Sub(task.CreatedAt) < taskTTL {
			continue
		}
		if task.path != "" {
			if err := os.Remove(task.path); err != nil && !os.IsNotExist(err) {
				log.Warn().Err(err).Str("task", id).Msg("Не удалось удалить файл задачи")
			}
		}
		delete(s.tasks, id)
		log.Debug().Str("task", id).Msg("Устаревшая задача удалена")
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
