package news

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// Fingerprint вычисляет идентичность статьи.
// Основа: канонический URL. Без URL используется заголовок, источник и дата публикации.
func Fingerprint(a RawArticle) string {
	if canonical := NormalizeURL(a.URL); canonical != "" {
		return hashHex(canonical)
	}
	key := NormalizeTitle(a.Title) + "|" + NormalizeTitle(a.Source) + "|" + a.PublishedAt.UTC().Format("2006-01-02")
	return hashHex(key)
}

// SubmissionFingerprint строит отпечаток пользовательской истории по её содержимому.
func SubmissionFingerprint(title, story string) string {
	return hashHex(strings.TrimSpace(title) + "-" + strings.TrimSpace(story))
}

// NormalizeTitle приводит заголовок к нижнему регистру и схлопывает пробелы.
func NormalizeTitle(t string) string {
	return strings.Join(strings.Fields(strings.ToLower(t)), " ")
}

// NormalizeURL убирает фрагмент, трекинговые параметры и завершающий слеш.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return strings.ToLower(raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	for k := range q {
		lk := strings.ToLower(k)
		if strings.HasPrefix(lk, "utm_") || lk == "fbclid" || lk == "gclid" {
			q.Del(k)
		}
	}
	u.RawQuery = q.Encode()

	return strings.TrimSuffix(u.String(), "/")
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
