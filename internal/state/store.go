package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/maine/goodnews_feed/internal/news"
)

// FileStore хранит состояние рассылки (получатели, offset Telegram,
// уже отправленные отпечатки) в JSON-файле.
type FileStore struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewFileStore создаёт новый файловый стор.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, logger: logger}
}

// Load читает состояние из файла. Отсутствующий файл даёт пустое состояние.
func (s *FileStore) Load(ctx context.Context) (news.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Save записывает состояние в файл атомарно (через временный файл).
func (s *FileStore) Save(ctx context.Context, st news.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(st)
}

// Update выполняет чтение, изменение и запись под одной блокировкой.
// Если fn вернула ошибку, файл не меняется.
func (s *FileStore) Update(ctx context.Context, fn func(*news.State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(&st); err != nil {
		return err
	}
	return s.save(st)
}

func (s *FileStore) load() (news.State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return news.State{}, nil
		}
		return news.State{}, fmt.Errorf("read state file: %w", err)
	}

	var st news.State
	if err := json.Unmarshal(data, &st); err != nil {
		// Повреждённый файл сохраняем рядом для диагностики и начинаем с чистого состояния
		brokenPath := s.path + ".broken"
		_ = os.WriteFile(brokenPath, data, 0o644)
		s.logger.Warn("state file is corrupted, starting from empty state", "path", s.path, "backup", brokenPath, "error", err)
		return news.State{}, nil
	}

	return st, nil
}

func (s *FileStore) save(st news.State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp state file: %w", err)
	}

	// rename атомарен на большинстве файловых систем
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp state file: %w", err)
	}

	return nil
}
