package knowledge

import (
	"context"
	"errors"
	"log"
	"math"
	"sort"
	"strings"
)

const (
	maxConsolidatedChars = 4000
	lexicalBoostPerTopic = 0.05
	maxLexicalBoost      = 0.15
)

// chunkHit is a pre-consolidation candidate from any tier.
type chunkHit struct {
	DocumentID   uint64
	DocumentName string
	Content      string
	Score        float64
}

// Retrieve runs the cascading fallback: hybrid vector search, in-process
// semantic search, keyword search, then static reference facts. A tier's
// error is logged and treated as zero results; only full exhaustion returns
// an empty slice, which is not an error.
func (s *Service) Retrieve(ctx context.Context, query string, maxResults int, language string) ([]RetrievalResult, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("knowledge: database connection is not configured")
	}
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, nil
	}
	if maxResults <= 0 {
		maxResults = 3
	}
	if language == "" {
		language = DetectLanguage(trimmed)
	}
	topics := extractTopics(trimmed)

	if hits, err := s.hybridSearch(ctx, trimmed, topics, maxResults); err != nil {
		log.Printf("knowledge: hybrid search failed, falling back: %v", err)
	} else if len(hits) > 0 {
		return consolidate(hits, maxResults, ResultSourceHybrid), nil
	}

	if hits, err := s.semanticSearch(ctx, trimmed, language, maxResults); err != nil {
		log.Printf("knowledge: semantic search failed, falling back: %v", err)
	} else if len(hits) > 0 {
		return consolidate(hits, maxResults, ResultSourceSemantic), nil
	}

	if hits, err := s.keywordSearch(ctx, topics, maxResults); err != nil {
		log.Printf("knowledge: keyword search failed, falling back: %v", err)
	} else if len(hits) > 0 {
		return consolidate(hits, maxResults, ResultSourceKeyword), nil
	}

	return staticReferenceResults(topics, maxResults), nil
}

// hybridSearch queries the mirrored vector store and boosts candidates whose
// text contains topic terms from the query.
func (s *Service) hybridSearch(ctx context.Context, query string, topics []string, maxResults int) ([]chunkHit, error) {
	if s.vectors == nil {
		return nil, nil
	}
	if s.embedder == nil {
		return nil, ErrProviderUnavailable
	}

	vectors, err := s.embedTexts(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, nil
	}

	matches, err := s.vectors.Search(ctx, vectors[0], maxResults*2)
	if err != nil {
		return nil, err
	}

	hits := make([]chunkHit, 0, len(matches))
	for _, match := range matches {
		hit := chunkHit{Score: match.Score}
		if match.Payload != nil {
			if v, ok := match.Payload["document_id"].(float64); ok && v > 0 {
				hit.DocumentID = uint64(v)
			}
			if v, ok := match.Payload["document_name"].(string); ok {
				hit.DocumentName = v
			}
			if v, ok := match.Payload["content"].(string); ok {
				hit.Content = v
			}
		}
		if hit.DocumentID == 0 || hit.Content == "" {
			continue
		}
		hit.Score += lexicalBoost(hit.Content, topics)
		if hit.Score >= s.threshold {
			hits = append(hits, hit)
		}
	}
	return hits, nil
}

// semanticSearch computes cosine similarity in process against verified
// knowledge entries of the query language, falling back to all languages
// when the language has no entries.
func (s *Service) semanticSearch(ctx context.Context, query, language string, maxResults int) ([]chunkHit, error) {
	if s.embedder == nil {
		return nil, ErrProviderUnavailable
	}

	vectors, err := s.embedTexts(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	queryVector := vectors[0]

	var entries []KnowledgeEntry
	if err := s.db.WithContext(ctx).
		Where("is_verified = ? AND language = ?", true, language).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		if err := s.db.WithContext(ctx).
			Where("is_verified = ?", true).
			Find(&entries).Error; err != nil {
			return nil, err
		}
	}
	if len(entries) == 0 {
		return nil, nil
	}

	names, err := s.documentNames(ctx, documentIDsOf(entries))
	if err != nil {
		return nil, err
	}

	hits := make([]chunkHit, 0, len(entries))
	for _, entry := range entries {
		vector := vectorFromJSON(entry.Embedding)
		if len(vector) == 0 {
			continue
		}
		score := cosineSimilarity(queryVector, vector)
		if score < s.threshold {
			continue
		}
		hits = append(hits, chunkHit{
			DocumentID:   entry.DocumentID,
			DocumentName: names[entry.DocumentID],
			Content:      entry.Content,
			Score:        score,
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return hits, nil
}

// keywordSearch matches extracted query topics as literal substrings of
// chunk content. The score reflects the fraction of topics matched.
func (s *Service) keywordSearch(ctx context.Context, topics []string, maxResults int) ([]chunkHit, error) {
	if len(topics) == 0 {
		return nil, nil
	}

	seen := make(map[uint64]struct{})
	var chunks []Chunk
	for _, topic := range topics {
		var batch []Chunk
		if err := s.db.WithContext(ctx).
			Where("content LIKE ?", "%"+topic+"%").
			Limit(maxResults * 4).
			Find(&batch).Error; err != nil {
			return nil, err
		}
		for _, chunk := range batch {
			if _, ok := seen[chunk.ID]; ok {
				continue
			}
			seen[chunk.ID] = struct{}{}
			chunks = append(chunks, chunk)
		}
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	names, err := s.documentNames(ctx, chunkDocumentIDs(chunks))
	if err != nil {
		return nil, err
	}

	hits := make([]chunkHit, 0, len(chunks))
	for _, chunk := range chunks {
		matched := 0
		lower := strings.ToLower(chunk.Content)
		for _, topic := range topics {
			if strings.Contains(lower, strings.ToLower(topic)) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		hits = append(hits, chunkHit{
			DocumentID:   chunk.DocumentID,
			DocumentName: names[chunk.DocumentID],
			Content:      chunk.Content,
			Score:        0.5 + 0.5*float64(matched)/float64(len(topics)),
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return hits, nil
}

func (s *Service) documentNames(ctx context.Context, ids []uint64) (map[uint64]string, error) {
	names := make(map[uint64]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	var rows []struct {
		ID   uint64
		Name string
	}
	if err := s.db.WithContext(ctx).Model(&Document{}).
		Select("id, name").
		Where("id IN ?", ids).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		names[row.ID] = row.Name
	}
	return names, nil
}

// consolidate merges chunk hits per document: content concatenated without
// repeating substrings already present, score is the max of the members.
func consolidate(hits []chunkHit, maxResults int, source string) []RetrievalResult {
	byDoc := make(map[uint64]*RetrievalResult)
	order := make([]uint64, 0, len(hits))

	sorted := make([]chunkHit, len(hits))
	copy(sorted, hits)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	for _, hit := range sorted {
		result, ok := byDoc[hit.DocumentID]
		if !ok {
			byDoc[hit.DocumentID] = &RetrievalResult{
				DocumentID:   hit.DocumentID,
				DocumentName: hit.DocumentName,
				Content:      hit.Content,
				Score:        hit.Score,
				Source:       source,
			}
			order = append(order, hit.DocumentID)
			continue
		}
		if hit.Score > result.Score {
			result.Score = hit.Score
		}
		if strings.Contains(result.Content, hit.Content) {
			continue
		}
		if len(result.Content)+len(hit.Content)+2 > maxConsolidatedChars {
			continue
		}
		result.Content = result.Content + "\n\n" + hit.Content
	}

	results := make([]RetrievalResult, 0, len(order))
	for _, id := range order {
		results = append(results, *byDoc[id])
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results
}

func documentIDsOf(entries []KnowledgeEntry) []uint64 {
	seen := make(map[uint64]struct{}, len(entries))
	ids := make([]uint64, 0, len(entries))
	for _, entry := range entries {
		if _, ok := seen[entry.DocumentID]; ok {
			continue
		}
		seen[entry.DocumentID] = struct{}{}
		ids = append(ids, entry.DocumentID)
	}
	return ids
}

func chunkDocumentIDs(chunks []Chunk) []uint64 {
	seen := make(map[uint64]struct{}, len(chunks))
	ids := make([]uint64, 0, len(chunks))
	for _, chunk := range chunks {
		if _, ok := seen[chunk.DocumentID]; ok {
			continue
		}
		seen[chunk.DocumentID] = struct{}{}
		ids = append(ids, chunk.DocumentID)
	}
	return ids
}

func lexicalBoost(content string, topics []string) float64 {
	if len(topics) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	boost := 0.0
	for _, topic := range topics {
		if strings.Contains(lower, strings.ToLower(topic)) {
			boost += lexicalBoostPerTopic
		}
	}
	if boost > maxLexicalBoost {
		boost = maxLexicalBoost
	}
	return boost
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var topicStopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "was": {}, "what": {},
	"when": {}, "where": {}, "which": {}, "how": {}, "why": {}, "who": {},
	"does": {}, "this": {}, "that": {}, "with": {}, "from": {}, "have": {},
	"has": {}, "can": {}, "should": {}, "would": {}, "could": {}, "about": {},
	"der": {}, "die": {}, "das": {}, "und": {}, "ist": {}, "wie": {},
	"warum": {}, "welche": {}, "mit": {}, "von": {},
}

// extractTopics keeps the content-bearing words of a query for lexical
// matching, dropping short tokens and stopwords.
func extractTopics(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '.' && r != '-'
	})
	seen := make(map[string]struct{}, len(fields))
	topics := make([]string, 0, len(fields))
	for _, field := range fields {
		trimmed := strings.Trim(field, ".-")
		if len(trimmed) < 3 {
			continue
		}
		if _, stop := topicStopwords[trimmed]; stop {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		topics = append(topics, trimmed)
	}
	return topics
}

var germanMarkers = []string{" der ", " die ", " das ", " und ", " nicht ", " ist ", " eine ", " mit ", "ß", "ä", "ö", "ü"}

// DetectLanguage is a coarse heuristic, enough to pick the right slice of
// the corpus; callers can always pass the language explicitly.
func DetectLanguage(text string) string {
	lower := " " + strings.ToLower(text) + " "
	hits := 0
	for _, marker := range germanMarkers {
		if strings.Contains(lower, marker) {
			hits++
		}
	}
	if hits >= 2 {
		return "de"
	}
	return "en"
}
