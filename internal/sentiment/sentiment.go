package sentiment

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/maine/goodnews_feed/internal/news"
)

//go:embed lexicon.yaml
var defaultLexicon []byte

// titleWeight: во сколько раз слово заголовка весомее слова текста.
const titleWeight = 2.0

// negationSpan: сколько следующих слов инвертирует отрицание.
const negationSpan = 2

// Lexicon: словарь весов для оценщика.
type Lexicon struct {
	Positive map[string]float64 `yaml:"positive"`
	Negative map[string]float64 `yaml:"negative"`
	Negators []string           `yaml:"negators"`
}

// DefaultLexicon возвращает встроенный словарь.
func DefaultLexicon() Lexicon {
	lex, err := ParseLexicon(defaultLexicon)
	if err != nil {
		panic(fmt.Sprintf("embedded lexicon is invalid: %v", err))
	}
	return lex
}

// ParseLexicon разбирает YAML-словарь.
func ParseLexicon(data []byte) (Lexicon, error) {
	var lex Lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return Lexicon{}, fmt.Errorf("unmarshal lexicon: %w", err)
	}
	if len(lex.Positive) == 0 && len(lex.Negative) == 0 {
		return Lexicon{}, fmt.Errorf("lexicon has no weights")
	}
	return lex, nil
}

// LoadLexicon читает словарь из файла. Пустой путь: встроенный словарь.
func LoadLexicon(path string) (Lexicon, error) {
	if path == "" {
		return DefaultLexicon(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Lexicon{}, fmt.Errorf("read lexicon: %w", err)
	}
	return ParseLexicon(data)
}

type prefixWeight struct {
	prefix string
	weight float64
}

// Scorer: детерминированный словарный оценщик позитивности.
// Score возвращает вероятность позитивной тональности в [0,1]; 0.5: нейтрально.
type Scorer struct {
	exact    map[string]float64
	prefixes []prefixWeight
	negators map[string]struct{}
}

// New строит оценщик из словаря. Вес положительный для позитивных слов и отрицательный для негативных.
func New(lex Lexicon) *Scorer {
	s := &Scorer{
		exact:    make(map[string]float64),
		negators: make(map[string]struct{}, len(lex.Negators)),
	}
	add := func(words map[string]float64, sign float64) {
		for word, weight := range words {
			word = strings.ToLower(strings.TrimSpace(word))
			if prefix, ok := strings.CutSuffix(word, "*"); ok {
				s.prefixes = append(s.prefixes, prefixWeight{prefix: prefix, weight: sign * weight})
				continue
			}
			s.exact[word] = sign * weight
		}
	}
	add(lex.Positive, 1)
	add(lex.Negative, -1)
	for _, n := range lex.Negators {
		s.negators[strings.ToLower(n)] = struct{}{}
	}

	// длинные префиксы проверяются первыми, порядок не зависит от обхода map
	sort.Slice(s.prefixes, func(i, j int) bool {
		if len(s.prefixes[i].prefix) != len(s.prefixes[j].prefix) {
			return len(s.prefixes[i].prefix) > len(s.prefixes[j].prefix)
		}
		return s.prefixes[i].prefix < s.prefixes[j].prefix
	})
	return s
}

// Score реализует оценку тональности статьи.
func (s *Scorer) Score(a news.RawArticle) float64 {
	var pos, neg float64
	for _, part := range []struct {
		text   string
		weight float64
	}{{a.Title, titleWeight}, {a.Body, 1}} {
		p, n := s.tally(part.text)
		pos += p * part.weight
		neg += n * part.weight
	}
	if pos == 0 && neg == 0 {
		return 0.5
	}
	return (pos + 1) / (pos + neg + 2)
}

// Passes сообщает, проходит ли оценка порог. Граница включительно.
func Passes(score, minPositiveProb float64) bool {
	return score >= minPositiveProb
}

func (s *Scorer) tally(text string) (pos, neg float64) {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	negated := 0
	for _, tok := range tokens {
		if _, ok := s.negators[tok]; ok {
			negated = negationSpan
			continue
		}
		w := s.weight(tok)
		if negated > 0 {
			negated--
			w = -w
		}
		switch {
		case w > 0:
			pos += w
		case w < 0:
			neg -= w
		}
	}
	return pos, neg
}

func (s *Scorer) weight(tok string) float64 {
	if w, ok := s.exact[tok]; ok {
		return w
	}
	for _, p := range s.prefixes {
		if strings.HasPrefix(tok, p.prefix) {
			return p.weight
		}
	}
	return 0
}
