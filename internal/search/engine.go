package search

import (
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/pders01/apodtok/internal/apod"
)

// Result represents a search match with relevance scoring
type Result struct {
	Item    apod.Item
	Score   float64
	Matches []Match
}

// Match represents where text was found
type Match struct {
	Field  string // "title", "explanation", "copyright"
	Text   string // matched text snippet
	Weight float64
}

// Engine scores items held in memory without an index. It backs the
// in-picture search and stands in when bleve cannot be set up.
type Engine struct {
	mu    sync.RWMutex
	items map[string]apod.Item
	order []string
}

// NewEngine creates a new search engine
func NewEngine() *Engine {
	return &Engine{items: make(map[string]apod.Item)}
}

// Index adds items; a repeated date replaces the earlier item.
func (e *Engine) Index(items []apod.Item) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, item := range items {
		key := item.Key()
		if _, seen := e.items[key]; !seen {
			e.order = append(e.order, key)
		}
		e.items[key] = item
	}
	return nil
}

func (e *Engine) DocCount() (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.items), nil
}

// Search performs intelligent search across seen items
func (e *Engine) Search(query string, limit int) ([]*Result, error) {
	if len(strings.TrimSpace(query)) < 2 {
		return []*Result{}, nil
	}

	terms := tokenize(query)
	if len(terms) == 0 {
		return []*Result{}, nil
	}

	e.mu.RLock()
	var results []*Result
	for _, key := range e.order {
		if result := e.searchItem(e.items[key], terms); result != nil {
			results = append(results, result)
		}
	}
	e.mu.RUnlock()

	// Sort by relevance score (highest first)
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

// SearchInItem searches within a single picture's text
func (e *Engine) SearchInItem(item apod.Item, query string) ([]*Result, error) {
	if len(strings.TrimSpace(query)) < 2 {
		return []*Result{}, nil
	}

	terms := tokenize(query)
	if len(terms) == 0 {
		return []*Result{}, nil
	}

	if result := e.searchItem(item, terms); result != nil {
		return []*Result{result}, nil
	}

	return []*Result{}, nil
}

func (e *Engine) searchItem(item apod.Item, terms []string) *Result {
	var matches []Match
	var total float64

	if score := e.scoreField(item.Title, terms, 4.0); score > 0 {
		total += score
		matches = append(matches, Match{Field: "title", Text: item.Title, Weight: score})
	}
	if score := e.scoreField(item.Explanation, terms, 2.0); score > 0 {
		total += score
		matches = append(matches, Match{
			Field:  "explanation",
			Text:   e.findBestSnippet(item.Explanation, terms, 160),
			Weight: score,
		})
	}
	if score := e.scoreField(item.Copyright, terms, 1.0); score > 0 {
		total += score
		matches = append(matches, Match{Field: "copyright", Text: item.Copyright, Weight: score})
	}

	if total == 0 {
		return nil
	}
	return &Result{Item: item, Score: total, Matches: matches}
}

// scoreField calculates relevance score for a field
func (e *Engine) scoreField(text string, terms []string, weight float64) float64 {
	if text == "" {
		return 0
	}

	lower := strings.ToLower(text)
	words := tokenize(text)
	if len(words) == 0 {
		return 0
	}

	var score float64
	matchedTerms := 0

	for _, term := range terms {
		// Exact phrase match (highest score)
		if strings.Contains(lower, term) {
			score += 2.0
			matchedTerms++
		}

		// Word boundary matches (medium score)
		for _, word := range words {
			if word == term {
				score += 1.5
				matchedTerms++
			} else if strings.HasPrefix(word, term) || strings.HasSuffix(word, term) {
				score += 1.0
				matchedTerms++
			} else if strings.Contains(word, term) {
				score += 0.5
				matchedTerms++
			}
		}
	}

	// Boost score if multiple terms match
	if len(terms) > 1 && matchedTerms > 1 {
		score *= 1.0 + float64(matchedTerms)/float64(len(terms))
	}

	tf := float64(matchedTerms) / float64(len(words))
	score *= (1.0 + math.Log(1.0+tf))

	return score * weight
}

// findBestSnippet finds the most relevant text snippet containing search terms
func (e *Engine) findBestSnippet(text string, terms []string, maxLength int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}

	bestScore := 0.0
	bestStart := 0
	windowSize := maxLength / 8 // Approximate words in snippet

	if windowSize > len(words) {
		return truncate(text, maxLength)
	}

	// Sliding window to find best snippet
	for i := 0; i <= len(words)-windowSize; i++ {
		windowText := strings.ToLower(strings.Join(words[i:i+windowSize], " "))
		score := 0.0

		for _, term := range terms {
			if strings.Contains(windowText, term) {
				score += 1.0
			}
		}

		if score > bestScore {
			bestScore = score
			bestStart = i
		}
	}

	snippet := strings.Join(words[bestStart:bestStart+windowSize], " ")
	return truncate(snippet, maxLength)
}

// tokenize breaks text into lowercase searchable terms
func tokenize(text string) []string {
	var terms []string
	current := strings.Builder{}

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			current.WriteRune(unicode.ToLower(r))
		} else if current.Len() > 0 {
			if term := current.String(); len(term) > 1 { // Skip single chars
				terms = append(terms, term)
			}
			current.Reset()
		}
	}

	if current.Len() > 1 {
		terms = append(terms, current.String())
	}

	return terms
}

// truncate limits text length with ellipsis
func truncate(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen-1]) + "…"
}
