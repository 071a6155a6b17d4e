package app

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maine/goodnews_feed/internal/logging"
	"github.com/maine/goodnews_feed/internal/news"
)

type memStateStore struct {
	state news.State
	saves int
}

func (m *memStateStore) Load(ctx context.Context) (news.State, error) { return m.state, nil }

func (m *memStateStore) Save(ctx context.Context, st news.State) error {
	m.state = st
	m.saves++
	return nil
}

type titleFormatter struct{}

func (titleFormatter) BuildMessages(articles []news.Article) ([]string, error) {
	out := make([]string, 0, len(articles))
	for _, a := range articles {
		out = append(out, a.Title)
	}
	return out, nil
}

type recordingSender struct {
	err      error
	messages []string
	sentTo   []news.RecipientBinding
}

func (s *recordingSender) Send(ctx context.Context, recipients []news.RecipientBinding, messages []string) error {
	if s.err != nil {
		return s.err
	}
	s.sentTo = recipients
	s.messages = append(s.messages, messages...)
	return nil
}

func digestArticle(fp, title string) news.Article {
	return news.Article{Fingerprint: fp, Title: title, Category: news.CategoryCuteFun, Disposition: news.DispositionAccepted}
}

func TestDigest_Notify(t *testing.T) {
	alice := news.RecipientBinding{Name: "alice", ChatID: "1"}

	tests := []struct {
		name      string
		state     news.State
		sendErr   error
		articles  []news.Article
		wantErr   error
		wantSent  []string
		wantMarks int
	}{
		{
			name:      "sends fresh articles and marks them",
			state:     news.State{Recipients: []news.RecipientBinding{alice}},
			articles:  []news.Article{digestArticle("a", "Otter"), digestArticle("b", "Kitten")},
			wantSent:  []string{"Otter", "Kitten"},
			wantMarks: 2,
		},
		{
			name: "skips already sent fingerprints",
			state: news.State{
				Recipients:   []news.RecipientBinding{alice},
				SentArticles: []news.StateArticle{{Fingerprint: "a", SentAt: testNow}},
			},
			articles:  []news.Article{digestArticle("a", "Otter"), digestArticle("b", "Kitten")},
			wantSent:  []string{"Kitten"},
			wantMarks: 2,
		},
		{
			name:     "no recipients",
			articles: []news.Article{digestArticle("a", "Otter")},
			wantErr:  ErrNoRecipients,
		},
		{
			name:     "send failure leaves state unmarked",
			state:    news.State{Recipients: []news.RecipientBinding{alice}},
			sendErr:  errors.New("telegram down"),
			articles: []news.Article{digestArticle("a", "Otter")},
			wantErr:  errors.New("telegram down"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memStateStore{state: tt.state}
			sender := &recordingSender{err: tt.sendErr}
			d := NewDigest(DigestDeps{
				Formatter:  titleFormatter{},
				Sender:     sender,
				StateStore: store,
				Clock:      func() time.Time { return testNow },
				Logger:     logging.Discard(),
			})

			err := d.Notify(context.Background(), tt.articles)
			switch {
			case tt.wantErr == nil:
				require.NoError(t, err)
			case errors.Is(tt.wantErr, ErrNoRecipients):
				assert.ErrorIs(t, err, ErrNoRecipients)
			default:
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr.Error())
			}

			assert.Equal(t, tt.wantSent, sender.messages)
			assert.Len(t, store.state.SentArticles, tt.wantMarks)
			assert.Equal(t, 1, store.saves, "state is saved exactly once per notification")
		})
	}
}

func TestDigest_HistoryIsCapped(t *testing.T) {
	history := make([]news.StateArticle, maxSentHistory)
	for i := range history {
		history[i] = news.StateArticle{Fingerprint: fmt.Sprintf("old-%d", i)}
	}
	store := &memStateStore{state: news.State{
		Recipients:   []news.RecipientBinding{{Name: "alice", ChatID: "1"}},
		SentArticles: history,
	}}
	d := NewDigest(DigestDeps{Formatter: titleFormatter{}, Sender: &recordingSender{}, StateStore: store, Logger: logging.Discard()})

	require.NoError(t, d.Notify(context.Background(), []news.Article{digestArticle("fresh", "Otter")}))
	require.Len(t, store.state.SentArticles, maxSentHistory)
	assert.Equal(t, "fresh", store.state.SentArticles[maxSentHistory-1].Fingerprint)
}

type staticResolver struct {
	recipients []news.RecipientBinding
}

func (r staticResolver) Resolve(ctx context.Context, st news.State) (news.State, []news.RecipientBinding, error) {
	st.Recipients = r.recipients
	st.Telegram.LastUpdateID = 42
	return st, r.recipients, nil
}

func TestDigest_UsesResolvedRecipients(t *testing.T) {
	bob := news.RecipientBinding{Name: "bob", ChatID: "2"}
	store := &memStateStore{}
	sender := &recordingSender{}
	d := NewDigest(DigestDeps{
		Formatter:  titleFormatter{},
		Sender:     sender,
		Recipients: staticResolver{recipients: []news.RecipientBinding{bob}},
		StateStore: store,
		Logger:     logging.Discard(),
	})

	require.NoError(t, d.Notify(context.Background(), []news.Article{digestArticle("a", "Otter")}))
	assert.Equal(t, []news.RecipientBinding{bob}, sender.sentTo)
	assert.Equal(t, int64(42), store.state.Telegram.LastUpdateID)
}

func TestDigest_NotConfigured(t *testing.T) {
	d := NewDigest(DigestDeps{})
	assert.ErrorIs(t, d.Notify(context.Background(), nil), ErrNotConfigured)
}
