package telegram

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/maine/goodnews_feed/internal/news"
)

// RecipientManager собирает получателей дайджеста: чаты из конфига плюс,
// при auto_subscribe, все, кто написал боту.
type RecipientManager struct {
	client        TelegramClient
	staticChatIDs []string
	autoSubscribe bool
	clock         func() time.Time
}

// NewRecipientManager создаёт менеджер.
func NewRecipientManager(client TelegramClient, chatIDs []string, auto bool) *RecipientManager {
	return &RecipientManager{
		client:        client,
		staticChatIDs: chatIDs,
		autoSubscribe: auto,
		clock:         time.Now,
	}
}

// Resolve обновляет состояние и возвращает актуальный список получателей.
func (m *RecipientManager) Resolve(ctx context.Context, st news.State) (news.State, []news.RecipientBinding, error) {
	if m.client == nil {
		return st, nil, fmt.Errorf("telegram client not configured")
	}

	now := m.clock()
	recipients := map[string]news.RecipientBinding{}
	for _, r := range st.Recipients {
		if r.ChatID == "" {
			continue
		}
		recipients[r.ChatID] = r
	}
	for _, id := range m.staticChatIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := recipients[id]; !ok {
			recipients[id] = news.RecipientBinding{Name: "chat-" + id, ChatID: id, UpdatedAt: now}
		}
	}

	if m.autoSubscribe {
		updates, err := m.client.GetUpdates(ctx, st.Telegram.LastUpdateID+1, 0)
		if err != nil {
			return st, nil, fmt.Errorf("get updates: %w", err)
		}

		maxUpdateID := st.Telegram.LastUpdateID
		for _, upd := range updates {
			if upd.UpdateID > maxUpdateID {
				maxUpdateID = upd.UpdateID
			}
			if upd.Message == nil || upd.Message.Chat.ID == 0 {
				continue
			}

			chatID := strconv.FormatInt(upd.Message.Chat.ID, 10)
			if strings.EqualFold(strings.TrimSpace(upd.Message.Text), "/stop") {
				delete(recipients, chatID)
				continue
			}
			recipients[chatID] = news.RecipientBinding{
				Name:      deriveRecipientName(upd.Message),
				ChatID:    chatID,
				UpdatedAt: now,
			}
		}

		st.Telegram.LastUpdateID = maxUpdateID
	}

	res := make([]news.RecipientBinding, 0, len(recipients))
	for _, r := range recipients {
		res = append(res, r)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Name != res[j].Name {
			return res[i].Name < res[j].Name
		}
		return res[i].ChatID < res[j].ChatID
	})

	st.Recipients = res
	return st, res, nil
}

func deriveRecipientName(msg *Message) string {
	if msg.Chat.Username != "" {
		return msg.Chat.Username
	}
	if msg.From != nil && msg.From.Username != "" {
		return msg.From.Username
	}
	if msg.Chat.Title != "" {
		return msg.Chat.Title
	}
	if msg.Chat.FirstName != "" || msg.Chat.LastName != "" {
		return strings.TrimSpace(msg.Chat.FirstName + " " + msg.Chat.LastName)
	}
	return fmt.Sprintf("chat-%d", msg.Chat.ID)
}
