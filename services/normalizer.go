package services

import (
	"math"
	"sort"
	"strings"

	"brain-knowledge-platform/models"
)

// Normalization constants. Chunks from the same source whose content
// overlaps beyond the ratio are collapsed into one; quotes outside the
// length window fall back to plain truncation.
const (
	unknownSourceID  = "unknown"
	overlapRatio     = 0.3
	quoteMinLen      = 30
	quoteMaxLen      = 300
	quoteTruncateLen = 150
	topTagCount      = 3
)

// NormalizeSearchResults groups raw hits by source document, collapses
// near-duplicate chunks within each source, extracts a citable quote
// per source and computes aggregate statistics. It is a pure function
// of its input.
func NormalizeSearchResults(hits []models.SearchHit) *models.NormalizedResults {
	out := &models.NormalizedResults{
		Sources: []models.NormalizedSource{},
		Summary: models.SearchSummary{
			TotalChunks: len(hits),
			Pillars:     []string{},
			TopTags:     []string{},
		},
	}
	if len(hits) == 0 {
		return out
	}

	// Group hits by source, preserving first-seen order for stability
	groups := make(map[string][]models.SearchHit)
	var order []string
	for _, hit := range hits {
		id := hit.SourceID
		if id == "" {
			id = unknownSourceID
		}
		if _, seen := groups[id]; !seen {
			order = append(order, id)
		}
		groups[id] = append(groups[id], hit)
	}

	tagFreq := make(map[string]int)
	pillarSeen := make(map[string]bool)
	dedupTotal := 0

	for _, id := range order {
		group := groups[id]

		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Similarity > group[j].Similarity
		})

		kept := collapseChunks(group)
		dedupTotal += len(kept)

		var sum float64
		chunks := make([]models.NormalizedChunk, len(kept))
		for i, hit := range kept {
			sum += hit.Similarity
			chunks[i] = models.NormalizedChunk{
				Content:    hit.Content,
				Similarity: hit.Similarity,
			}
		}
		avg := math.Round(sum/float64(len(kept))*100) / 100

		src := models.NormalizedSource{
			DocumentID:    id,
			Title:         group[0].Title,
			Type:          group[0].Type,
			URL:           group[0].URL,
			Pillar:        groupPillar(kept),
			Chunks:        chunks,
			TopQuote:      extractQuote(kept[0].Content),
			AvgSimilarity: avg,
			Tags:          uniqueTags(kept),
		}
		out.Sources = append(out.Sources, src)

		for _, tag := range src.Tags {
			tagFreq[tag]++
		}
		if src.Pillar != "" && !pillarSeen[src.Pillar] {
			pillarSeen[src.Pillar] = true
			out.Summary.Pillars = append(out.Summary.Pillars, src.Pillar)
		}
	}

	sort.SliceStable(out.Sources, func(i, j int) bool {
		return out.Sources[i].AvgSimilarity > out.Sources[j].AvgSimilarity
	})

	out.Summary.TotalSources = len(out.Sources)
	out.Summary.ChunksAfterDedup = dedupTotal
	out.Summary.TopTags = topTags(tagFreq, topTagCount)
	return out
}

// collapseChunks walks hits best-first and drops any chunk whose
// content is already covered by a kept one, either as a substring or
// through heavy word overlap.
func collapseChunks(group []models.SearchHit) []models.SearchHit {
	kept := make([]models.SearchHit, 0, len(group))
	for _, candidate := range group {
		covered := false
		for _, existing := range kept {
			if contentOverlaps(existing.Content, candidate.Content) {
				covered = true
				break
			}
		}
		if !covered {
			kept = append(kept, candidate)
		}
	}
	return kept
}

// contentOverlaps reports whether two chunk texts say substantially the
// same thing. Substring containment catches overlap-prefixed chunks;
// the word-overlap ratio catches reworded near-duplicates.
func contentOverlaps(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if la == "" || lb == "" {
		return la == lb
	}
	if strings.Contains(la, lb) || strings.Contains(lb, la) {
		return true
	}

	wordsA := uniqueWords(la)
	wordsB := uniqueWords(lb)
	shorter, longer := wordsA, wordsB
	if len(wordsB) < len(wordsA) {
		shorter, longer = wordsB, wordsA
	}
	if len(shorter) == 0 {
		return false
	}

	common := 0
	for w := range shorter {
		if longer[w] {
			common++
		}
	}
	return float64(common)/float64(len(shorter)) > overlapRatio
}

func uniqueWords(s string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		w = strings.Trim(w, ".,;:!?\"'()[]")
		if w != "" {
			words[w] = true
		}
	}
	return words
}

// extractQuote picks a citable quote from chunk content: the first
// sentence when its length is reasonable, otherwise a truncated
// excerpt.
func extractQuote(content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return ""
	}

	sentence := firstSentence(content)
	if len(sentence) >= quoteMinLen && len(sentence) <= quoteMaxLen {
		return sentence
	}

	if len(content) > quoteTruncateLen {
		return strings.TrimSpace(content[:quoteTruncateLen]) + "..."
	}
	return content
}

func firstSentence(s string) string {
	end := len(s)
	for _, sep := range []string{". ", "! ", "? ", "\n"} {
		if idx := strings.Index(s, sep); idx >= 0 && idx < end {
			end = idx + 1
		}
	}
	return strings.TrimSpace(s[:end])
}

// groupPillar returns the common pillar of a group, or empty when the
// group mixes pillars.
func groupPillar(group []models.SearchHit) string {
	pillar := group[0].Pillar
	for _, hit := range group[1:] {
		if hit.Pillar != pillar {
			return ""
		}
	}
	return pillar
}

func uniqueTags(group []models.SearchHit) []string {
	seen := make(map[string]bool)
	var tags []string
	for _, hit := range group {
		for _, tag := range hit.Tags {
			if tag != "" && !seen[tag] {
				seen[tag] = true
				tags = append(tags, tag)
			}
		}
	}
	return tags
}

// topTags returns the n most frequent tags, ties broken alphabetically
// for determinism.
func topTags(freq map[string]int, n int) []string {
	tags := make([]string, 0, len(freq))
	for tag := range freq {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool {
		if freq[tags[i]] != freq[tags[j]] {
			return freq[tags[i]] > freq[tags[j]]
		}
		return tags[i] < tags[j]
	})
	if len(tags) > n {
		tags = tags[:n]
	}
	return tags
}
