// Package segment splits long scripts into chunks that a text-to-speech
// provider will accept in a single request.
package segment

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"
)

// DefaultBudget is the character budget used when a caller does not pick one.
const DefaultBudget = 4000

// RecommendedBudgets are the budgets offered to users. Higher values mean
// fewer requests but a higher chance the provider rejects a chunk.
var RecommendedBudgets = []int{2000, 3000, 4000, 5000}

// ErrInvalidBudget is returned when the character budget is not positive.
var ErrInvalidBudget = errors.New("segment budget must be positive")

// Segment is one chunk of text destined for one TTS request.
// Index is 1-based and follows emission order.
type Segment struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Len returns the segment length in characters.
func (s Segment) Len() int {
	return utf8.RuneCountInString(s.Text)
}

// Options selects how a caller wants its text prepared.
type Options struct {
	// Enabled turns segmentation on. When false the whole text is one segment.
	Enabled bool `json:"enabled"`
	// MaxChars is the budget per segment (0 = DefaultBudget).
	MaxChars int `json:"max_chars"`
}

// sentenceDelims matches one or more sentence-terminal marks in a row.
var sentenceDelims = regexp.MustCompile(`[.!?]+`)

// Plan prepares text according to opts.
func Plan(text string, opts Options) ([]Segment, error) {
	if !opts.Enabled {
		return Whole(text), nil
	}
	maxChars := opts.MaxChars
	if maxChars == 0 {
		maxChars = DefaultBudget
	}
	return Split(text, maxChars)
}

// Whole returns the trimmed text as a single segment without any length
// check. Blank text yields no segments.
func Whole(text string) []Segment {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return []Segment{{Index: 1, Text: text}}
}

// Split partitions text into segments of at most maxChars characters.
//
// Sentences are packed greedily and re-joined with ". "; whitespace runs
// inside a sentence become single spaces. Every sentence-level
// flush ends with a synthetic period whatever the original punctuation was.
// A sentence that alone exceeds the budget is packed word by word, and a
// single word longer than the budget is emitted alone and unsplit.
func Split(text string, maxChars int) ([]Segment, error) {
	if maxChars <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBudget, maxChars)
	}

	p := &packer{max: maxChars}
	for _, sentence := range sentences(text) {
		p.addSentence(sentence)
	}
	p.flushSentence()

	return p.segments, nil
}

// sentences splits text on terminal punctuation and drops blank pieces.
// Whitespace runs inside a sentence collapse to one space so sentence-level
// and word-level packing measure the same string.
func sentences(text string) []string {
	parts := sentenceDelims.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if s := strings.Join(strings.Fields(part), " "); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// packer holds the accumulator state of one Split call.
type packer struct {
	max      int
	current  string
	segments []Segment
}

func (p *packer) addSentence(sentence string) {
	candidate := sentence
	if p.current != "" {
		candidate = p.current + ". " + sentence
	}

	// +1 leaves room for the period appended on flush.
	if charLen(candidate)+1 <= p.max {
		p.current = candidate
		return
	}

	if p.current != "" {
		p.flushSentence()
		p.addSentence(sentence)
		return
	}

	p.packWords(sentence)
}

// packWords handles a sentence that cannot fit on its own. The leftover
// accumulator keeps collecting sentences unless there is no room left for
// the trailing period, in which case it is emitted as-is.
func (p *packer) packWords(sentence string) {
	var acc string
	for _, word := range strings.Fields(sentence) {
		candidate := word
		if acc != "" {
			candidate = acc + " " + word
		}
		if charLen(candidate) <= p.max {
			acc = candidate
			continue
		}
		if acc != "" {
			p.emit(acc)
		}
		if charLen(word) > p.max {
			p.emit(word)
			acc = ""
			continue
		}
		acc = word
	}

	if acc == "" {
		return
	}
	if charLen(acc)+1 > p.max {
		p.emit(acc)
		return
	}
	p.current = acc
}

func (p *packer) flushSentence() {
	if p.current == "" {
		return
	}
	p.emit(p.current + ".")
	p.current = ""
}

func (p *packer) emit(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	p.segments = append(p.segments, Segment{Index: len(p.segments) + 1, Text: text})
}

func charLen(s string) int {
	return utf8.RuneCountInString(s)
}

// IsRecommended reports whether n is one of RecommendedBudgets.
func IsRecommended(n int) bool {
	return slices.Contains(RecommendedBudgets, n)
}

// Join concatenates segment texts with single spaces.
func Join(segs []Segment) string {
	parts := make([]string, len(segs))
	for i, s := range segs {
		parts[i] = s.Text
	}
	return strings.Join(parts, " ")
}

// Summary describes a segment sequence.
type Summary struct {
	Count      int `json:"count"`
	TotalChars int `json:"total_chars"`
	Longest    int `json:"longest"`
	// Oversized counts single-word segments longer than the budget.
	Oversized int `json:"oversized"`
}

// Stats summarizes segs against the budget they were produced with.
func Stats(segs []Segment, maxChars int) Summary {
	sum := Summary{Count: len(segs)}
	for _, s := range segs {
		n := s.Len()
		sum.TotalChars += n
		if n > sum.Longest {
			sum.Longest = n
		}
		if maxChars > 0 && n > maxChars {
			sum.Oversized++
		}
	}
	return sum
}

// AssembleChapters joins chapter bodies with blank lines, skipping empty ones.
func AssembleChapters(contents []string) string {
	parts := make([]string, 0, len(contents))
	for _, c := range contents {
		if c = strings.TrimSpace(c); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, "\n\n")
}
