// Package tokenizer estimates token counts for adapters whose upstream has
// no native count_tokens endpoint: a BPE tokenizer keyed by an approximate
// model family (defaulting to a GPT-style encoding) applied to the
// serialized messages and system prompt. The estimate is advisory; cache
// tokens are reported as zero.
package tokenizer

import (
	"strings"
	"sync"

	"github.com/daulet/tokenizers"
)

// Estimate is the advisory usage count the tokenizer produces. It carries
// only an input-token count and no cache-token counts — an estimator has no
// notion of prompt caching.
type Estimate struct {
	InputTokens int
}

// Family identifies which BPE vocabulary to use. Keyed by upstream model
// name prefix; unmatched names fall back to FamilyDefault (GPT-style).
type Family string

const (
	FamilyGPT     Family = "gpt"
	FamilyGemini  Family = "gemini"
	FamilyDefault Family = FamilyGPT
)

// FamilyFor maps an upstream model name to its estimator family.
func FamilyFor(upstreamModel string) Family {
	lower := strings.ToLower(upstreamModel)
	switch {
	case strings.HasPrefix(lower, "gpt-") || strings.HasPrefix(lower, "o1") || strings.HasPrefix(lower, "o3"):
		return FamilyGPT
	case strings.HasPrefix(lower, "gemini-"):
		return FamilyGemini
	default:
		return FamilyDefault
	}
}

// VocabPaths configures where each family's tokenizer.json vocabulary file
// lives on disk. A family with no configured path (or an unreadable file)
// falls back to a character-based heuristic rather than failing the
// request — the estimate is advisory either way.
type VocabPaths map[Family]string

// Estimator lazily loads and caches one *tokenizers.Tokenizer per family,
// process-wide. Tokenizer instances are expensive to construct but safe
// for concurrent use across goroutines once built, so a single cached
// instance per family is shared by every request.
type Estimator struct {
	paths VocabPaths

	mu    sync.Mutex
	cache map[Family]*tokenizers.Tokenizer
}

// New builds an Estimator. paths may be nil or partially populated —
// unconfigured families always use the heuristic fallback.
func New(paths VocabPaths) *Estimator {
	return &Estimator{
		paths: paths,
		cache: make(map[Family]*tokenizers.Tokenizer),
	}
}

// Count estimates the token count of text for the given upstream model.
func (e *Estimator) Count(upstreamModel, text string) Estimate {
	family := FamilyFor(upstreamModel)
	tok := e.tokenizerFor(family)
	if tok == nil {
		return Estimate{InputTokens: heuristicCount(text)}
	}

	ids, _, err := tok.Encode(text, false)
	if err != nil {
		return Estimate{InputTokens: heuristicCount(text)}
	}
	return Estimate{InputTokens: len(ids)}
}

func (e *Estimator) tokenizerFor(family Family) *tokenizers.Tokenizer {
	e.mu.Lock()
	defer e.mu.Unlock()

	if tok, ok := e.cache[family]; ok {
		return tok
	}

	path, ok := e.paths[family]
	if !ok || path == "" {
		e.cache[family] = nil
		return nil
	}

	tok, err := tokenizers.FromFile(path)
	if err != nil {
		// Vocabulary file missing or malformed: remember the failure so we
		// don't retry the filesystem on every request, and fall back.
		e.cache[family] = nil
		return nil
	}
	e.cache[family] = tok
	return tok
}

// Close releases every cached tokenizer. Call once at process shutdown.
func (e *Estimator) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, tok := range e.cache {
		if tok != nil {
			tok.Close()
		}
	}
}

// heuristicCount approximates BPE token count at roughly 4 characters per
// token (the commonly cited English-text average for GPT-style encodings)
// when no real vocabulary is loaded.
func heuristicCount(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}
