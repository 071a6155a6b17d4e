package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/maine/goodnews_feed/internal/logging"
	"github.com/maine/goodnews_feed/internal/news"
)

func TestFileStore_Load_Save(t *testing.T) {
	tmpDir := t.TempDir()
	statePath := filepath.Join(tmpDir, "nested", "state.json")
	store := NewFileStore(statePath, logging.Discard())
	ctx := context.Background()

	t.Run("load non-existent file returns empty state", func(t *testing.T) {
		st, err := store.Load(ctx)
		if err != nil {
			t.Fatalf("Load() error = %v, want nil", err)
		}
		if !st.LastRun.IsZero() || len(st.SentArticles) != 0 {
			t.Errorf("Load() should return empty state, got %+v", st)
		}
	})

	t.Run("save and load state", func(t *testing.T) {
		now := time.Date(2024, 12, 3, 12, 0, 0, 0, time.UTC)
		st := news.State{
			LastRun: now,
			SentArticles: []news.StateArticle{
				{Fingerprint: "fp-1", SentAt: now},
				{Fingerprint: "fp-2", SentAt: now},
			},
			Recipients: []news.RecipientBinding{
				{Name: "user1", ChatID: "123", UpdatedAt: now},
			},
			Telegram: news.TelegramState{LastUpdateID: 100},
		}

		if err := store.Save(ctx, st); err != nil {
			t.Fatalf("Save() error = %v", err)
		}

		loaded, err := store.Load(ctx)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if !loaded.LastRun.Equal(now) {
			t.Errorf("Load() LastRun = %v, want %v", loaded.LastRun, now)
		}
		if len(loaded.SentArticles) != 2 || loaded.SentArticles[1].Fingerprint != "fp-2" {
			t.Errorf("Load() SentArticles = %+v", loaded.SentArticles)
		}
		if loaded.Telegram.LastUpdateID != 100 || len(loaded.Recipients) != 1 {
			t.Errorf("Load() telegram/recipients mismatch: %+v", loaded)
		}
		if _, err := os.Stat(statePath + ".tmp"); !os.IsNotExist(err) {
			t.Errorf("temp file must not remain after Save")
		}
	})
}

func TestFileStore_CorruptedFile(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(statePath, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewFileStore(statePath, logging.Discard())
	st, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(st.SentArticles) != 0 {
		t.Errorf("corrupted file must load as empty state")
	}
	if _, err := os.Stat(statePath + ".broken"); err != nil {
		t.Errorf("broken backup must be written: %v", err)
	}
}

func TestFileStore_Update(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	store := NewFileStore(statePath, logging.Discard())
	ctx := context.Background()

	err := store.Update(ctx, func(st *news.State) error {
		st.Telegram.LastUpdateID = 7
		return nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	boom := errors.New("boom")
	err = store.Update(ctx, func(st *news.State) error {
		st.Telegram.LastUpdateID = 99
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update() error = %v, want boom", err)
	}

	st, err := store.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Telegram.LastUpdateID != 7 {
		t.Errorf("failed update must not be saved, LastUpdateID = %d", st.Telegram.LastUpdateID)
	}
}
