package services

import (
	"strings"

	"brain-knowledge-platform/models"
)

// Chunking defaults and the coarse-to-fine separator priority:
// paragraph break, line break, sentence punctuation, clause
// punctuation, word boundary.
const (
	DefaultChunkSize    = 1500
	DefaultChunkOverlap = 200

	// charsPerToken converts token budgets to characters. A heuristic,
	// not a tokenizer.
	charsPerToken = 4
)

var defaultSeparators = []string{"\n\n", "\n", ". ", "! ", "? ", "; ", ", ", " "}

// TextChunk is one bounded slice of a document prepared for embedding.
// Offsets locate the pre-overlap content within the trimmed input and
// are approximate by contract.
type TextChunk struct {
	Content     string               `json:"content"`
	Index       int                  `json:"index"`
	StartOffset int                  `json:"start_offset"`
	EndOffset   int                  `json:"end_offset"`
	Metadata    models.ChunkMetadata `json:"metadata"`
}

// ChunkingService splits text into overlapping, boundary-respecting
// segments.
type ChunkingService struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// NewChunkingService creates a chunking service. Non-positive arguments
// fall back to the defaults; an overlap that would reach the chunk size
// is reduced to a fifth of it so the overlap-shorter-than-chunk
// invariant always holds.
func NewChunkingService(chunkSize, chunkOverlap int) *ChunkingService {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = DefaultChunkOverlap
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 5
	}

	return &ChunkingService{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separators:   defaultSeparators,
	}
}

// ChunkSize returns the configured chunk size in characters.
func (s *ChunkingService) ChunkSize() int { return s.chunkSize }

// ChunkOverlap returns the configured overlap in characters.
func (s *ChunkingService) ChunkOverlap() int { return s.chunkOverlap }

// ChunkText splits text into ordered chunks. Empty or whitespace-only
// input yields no chunks; input within the chunk size yields exactly one
// chunk equal to the trimmed input. Every chunk after the first is
// prefixed with the trailing overlap of its predecessor so embeddings
// keep continuity across boundaries.
func (s *ChunkingService) ChunkText(text string) []TextChunk {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return []TextChunk{}
	}

	if len(trimmed) <= s.chunkSize {
		return []TextChunk{{
			Content:   trimmed,
			Index:     0,
			EndOffset: len(trimmed),
			Metadata: models.ChunkMetadata{
				ChunkSize:    s.chunkSize,
				ChunkOverlap: s.chunkOverlap,
				TotalChunks:  1,
				EndOffset:    len(trimmed),
			},
		}}
	}

	pieces := s.splitRecursive(trimmed, s.separators)
	total := len(pieces)
	chunks := make([]TextChunk, 0, total)

	cursor := 0
	prevTail := ""
	for i, piece := range pieces {
		start := cursor
		if idx := strings.Index(trimmed[cursor:], piece); idx >= 0 {
			start = cursor + idx
		}
		end := start + len(piece)
		cursor = end

		content := piece
		if i > 0 && s.chunkOverlap > 0 && prevTail != "" {
			content = prevTail + piece
		}

		chunks = append(chunks, TextChunk{
			Content:     content,
			Index:       i,
			StartOffset: start,
			EndOffset:   end,
			Metadata: models.ChunkMetadata{
				ChunkSize:    s.chunkSize,
				ChunkOverlap: s.chunkOverlap,
				TotalChunks:  total,
				StartOffset:  start,
				EndOffset:    end,
			},
		})

		if len(piece) > s.chunkOverlap {
			prevTail = piece[len(piece)-s.chunkOverlap:]
		} else {
			prevTail = piece
		}
	}

	return chunks
}

// ChunkTextByTokens chunks with a token budget instead of a character
// budget, converting at ~4 characters per token.
func (s *ChunkingService) ChunkTextByTokens(text string, tokenBudget, tokenOverlap int) []TextChunk {
	derived := NewChunkingService(tokenBudget*charsPerToken, tokenOverlap*charsPerToken)
	derived.separators = s.separators
	return derived.ChunkText(text)
}

// splitRecursive splits text on the first separator present (in priority
// order), merges the resulting pieces up to the chunk size, and
// re-splits any piece still too large using the remaining, finer
// separators. With no separator left it falls back to fixed-width
// slicing.
func (s *ChunkingService) splitRecursive(text string, separators []string) []string {
	if len(text) <= s.chunkSize {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []string{text}
	}

	sep := ""
	remaining := separators
	for i, candidate := range separators {
		if strings.Contains(text, candidate) {
			sep = candidate
			remaining = separators[i+1:]
			break
		}
	}

	if sep == "" {
		return hardSlice(text, s.chunkSize)
	}

	pieces := splitKeepSeparator(text, sep)
	merged := s.mergePieces(pieces)

	out := make([]string, 0, len(merged))
	for _, m := range merged {
		if len(m) > s.chunkSize {
			out = append(out, s.splitRecursive(m, remaining)...)
			continue
		}
		if strings.TrimSpace(m) != "" {
			out = append(out, m)
		}
	}
	return out
}

// splitKeepSeparator splits on sep, reattaching the separator to the
// piece that precedes it.
func splitKeepSeparator(text, sep string) []string {
	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	for i, p := range parts {
		if i < len(parts)-1 {
			p += sep
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// mergePieces greedily concatenates consecutive pieces while staying
// within the chunk size. A single oversize piece passes through and is
// handled by the caller's recursion.
func (s *ChunkingService) mergePieces(pieces []string) []string {
	var merged []string
	var current strings.Builder

	for _, piece := range pieces {
		if current.Len() > 0 && current.Len()+len(piece) > s.chunkSize {
			merged = append(merged, current.String())
			current.Reset()
		}
		current.WriteString(piece)
	}
	if current.Len() > 0 {
		merged = append(merged, current.String())
	}
	return merged
}

// hardSlice cuts text into fixed-width pieces of at most size chars.
func hardSlice(text string, size int) []string {
	var out []string
	for start := 0; start < len(text); start += size {
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		out = append(out, text[start:end])
	}
	return out
}
