// Package search implements in-memory search over a chat's message log.
// A query snapshots the log, matches case-insensitively and records the
// byte spans of every hit so a renderer can highlight them. A cursor walks
// the matches circularly in both directions.
package search

import (
	"strings"
	"sync"
	"unicode"

	"github.com/caioqm/deskchat/internal/store"
)

// snapshotLimit bounds how much of the log a query scans.
const snapshotLimit = 10000

// Lister is the store surface the index needs.
type Lister interface {
	ListMessages(chatID string, afterLocalID int64, limit int) ([]store.Message, error)
}

// Span is one highlighted region of a message body, in bytes of the
// original text.
type Span struct {
	Start int
	Len   int
}

// Match is one message containing the query, with every occurrence marked.
type Match struct {
	Message store.Message
	Spans   []Span
}

// Index holds the results of the most recent query and a cursor over them.
// The snapshot does not follow later log appends; re-query to refresh.
type Index struct {
	db Lister

	mu      sync.Mutex
	query   string
	matches []Match
	cursor  int
}

func NewIndex(db Lister) *Index {
	return &Index{db: db, cursor: -1}
}

// Query scans the chat's log for the given text and replaces the current
// result set. An empty query clears the index. The cursor resets so the
// next Next call lands on the first match.
func (ix *Index) Query(chatID, text string) ([]Match, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.query = text
	ix.matches = nil
	ix.cursor = -1
	if text == "" {
		return nil, nil
	}

	msgs, err := ix.db.ListMessages(chatID, 0, snapshotLimit)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		spans := findSpans(msgs[i].Body, text)
		if len(spans) == 0 {
			continue
		}
		ix.matches = append(ix.matches, Match{Message: msgs[i], Spans: spans})
	}
	return append([]Match(nil), ix.matches...), nil
}

// Clear drops the result set and the active query.
func (ix *Index) Clear() {
	ix.mu.Lock()
	ix.query = ""
	ix.matches = nil
	ix.cursor = -1
	ix.mu.Unlock()
}

// Matches returns a copy of the current result set in log order.
func (ix *Index) Matches() []Match {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return append([]Match(nil), ix.matches...)
}

// Next advances the cursor to the next match, wrapping past the last back
// to the first. It reports false when there are no matches.
func (ix *Index) Next() (Match, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if len(ix.matches) == 0 {
		return Match{}, false
	}
	ix.cursor = (ix.cursor + 1) % len(ix.matches)
	return ix.matches[ix.cursor], true
}

// Previous moves the cursor back one match, wrapping before the first to
// the last. It reports false when there are no matches.
func (ix *Index) Previous() (Match, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if len(ix.matches) == 0 {
		return Match{}, false
	}
	if ix.cursor <= 0 {
		ix.cursor = len(ix.matches) - 1
	} else {
		ix.cursor--
	}
	return ix.matches[ix.cursor], true
}

// findSpans returns every case-insensitive occurrence of query in text as
// byte spans into the original text. Lowercasing can change byte lengths
// for some runes, so matching runs over a lowered copy with an index map
// back to the original.
func findSpans(text, query string) []Span {
	lq := strings.ToLower(query)
	if lq == "" {
		return nil
	}

	var lowered strings.Builder
	lowered.Grow(len(text))
	var backMap []int
	for i, r := range text {
		s := string(unicode.ToLower(r))
		for range len(s) {
			backMap = append(backMap, i)
		}
		lowered.WriteString(s)
	}
	lt := lowered.String()

	var spans []Span
	for at := 0; ; {
		j := strings.Index(lt[at:], lq)
		if j < 0 {
			break
		}
		j += at
		start := backMap[j]
		end := len(text)
		if next := j + len(lq); next < len(lt) {
			end = backMap[next]
		}
		spans = append(spans, Span{Start: start, Len: end - start})
		at = j + len(lq)
	}
	return spans
}
