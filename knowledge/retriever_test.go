package knowledge

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
		Logger:  logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Document{}, &Chunk{}, &KnowledgeEntry{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return db
}

type fakeEmbedder struct {
	fn    func(input string) ([]float32, error)
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, 0, len(inputs))
	for _, input := range inputs {
		vector, err := f.fn(input)
		if err != nil {
			return nil, err
		}
		out = append(out, vector)
	}
	return out, nil
}

func (f *fakeEmbedder) ModelID() string { return "fake-embedding-model" }

type fakeVectorStore struct {
	matches   []VectorMatch
	searchErr error
	upserted  []VectorPoint
	deleted   []string
	ensured   int
}

func (f *fakeVectorStore) EnsureCollection(context.Context, int) error {
	f.ensured++
	return nil
}

func (f *fakeVectorStore) Upsert(_ context.Context, points []VectorPoint) error {
	f.upserted = append(f.upserted, points...)
	return nil
}

func (f *fakeVectorStore) Delete(_ context.Context, pointIDs []string) error {
	f.deleted = append(f.deleted, pointIDs...)
	return nil
}

func (f *fakeVectorStore) Search(context.Context, []float32, int) ([]VectorMatch, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.matches, nil
}

func constantEmbedder(vector []float32) *fakeEmbedder {
	return &fakeEmbedder{fn: func(string) ([]float32, error) { return vector, nil }}
}

func seedDocument(t *testing.T, db *gorm.DB, name string) uint64 {
	t.Helper()
	doc := Document{Name: name, Status: StatusIndexed, Language: "en"}
	require.NoError(t, db.Create(&doc).Error)
	return doc.ID
}

func seedEntry(t *testing.T, db *gorm.DB, docID uint64, content string, vector []float32, verified bool) {
	t.Helper()
	entry := KnowledgeEntry{
		SourceType: "document",
		SourceID:   docID,
		DocumentID: docID,
		Content:    content,
		Embedding:  vectorToJSON(vector),
		Language:   "en",
		IsVerified: verified,
	}
	require.NoError(t, db.Create(&entry).Error)
}

func TestRetrieveHybridTier(t *testing.T) {
	db := newTestDB(t)
	vectors := &fakeVectorStore{matches: []VectorMatch{
		{
			ID:    "p1",
			Score: 0.9,
			Payload: map[string]interface{}{
				"document_id":   float64(1),
				"document_name": "VS1 datasheet",
				"content":       "VS1 is nominally 2.05V measured against ground.",
			},
		},
		{
			ID:    "p2",
			Score: 0.5, // below threshold, must be filtered
			Payload: map[string]interface{}{
				"document_id":   float64(2),
				"document_name": "Unrelated manual",
				"content":       "The pump motor draws 1.2A at full load.",
			},
		},
	}}

	svc, err := NewService(db, constantEmbedder([]float32{1, 0, 0}), vectors, nil)
	require.NoError(t, err)

	results, err := svc.Retrieve(context.Background(), "what is the VS1 voltage", 3, "en")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ResultSourceHybrid, results[0].Source)
	assert.Equal(t, "VS1 datasheet", results[0].DocumentName)
	assert.Contains(t, results[0].Content, "2.05V")
	assert.Greater(t, results[0].Score, 0.9, "topic overlap should boost the raw score")
}

func TestRetrieveFallsBackToSemanticOnVectorStoreError(t *testing.T) {
	db := newTestDB(t)
	docA := seedDocument(t, db, "Sensor calibration guide")
	docB := seedDocument(t, db, "Packaging notes")
	seedEntry(t, db, docA, "Calibrate the inlet sensor to 4mA at zero flow.", []float32{1, 0, 0}, true)
	seedEntry(t, db, docB, "Ship units in antistatic bags.", []float32{0, 1, 0}, true)

	vectors := &fakeVectorStore{searchErr: errors.New("qdrant down")}
	svc, err := NewService(db, constantEmbedder([]float32{1, 0, 0}), vectors, nil)
	require.NoError(t, err)

	results, err := svc.Retrieve(context.Background(), "sensor calibration", 3, "en")
	require.NoError(t, err)
	require.Len(t, results, 1, "only the aligned entry clears the threshold")
	assert.Equal(t, ResultSourceSemantic, results[0].Source)
	assert.Equal(t, docA, results[0].DocumentID)
	assert.Equal(t, "Sensor calibration guide", results[0].DocumentName)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
}

func TestRetrieveReportsQueryEmbeddingCall(t *testing.T) {
	db := newTestDB(t)
	docID := seedDocument(t, db, "Sensor calibration guide")
	seedEntry(t, db, docID, "Calibrate the inlet sensor to 4mA at zero flow.", []float32{1, 0, 0}, true)

	svc, err := NewService(db, constantEmbedder([]float32{1, 0, 0}), nil, nil)
	require.NoError(t, err)

	var calls []ProviderCall
	svc.SetUsageRecorder(func(_ context.Context, call ProviderCall) {
		calls = append(calls, call)
	})

	_, err = svc.Retrieve(context.Background(), "sensor calibration", 3, "en")
	require.NoError(t, err)

	require.Len(t, calls, 1)
	assert.Equal(t, OperationEmbedding, calls[0].Operation)
	assert.Equal(t, "fake-embedding-model", calls[0].Model)
	assert.NoError(t, calls[0].Err)
	assert.Equal(t, len("sensor calibration"), calls[0].InputChars)
}

func TestSemanticSearchIgnoresUnverifiedEntries(t *testing.T) {
	db := newTestDB(t)
	docID := seedDocument(t, db, "Draft notes")
	seedEntry(t, db, docID, "Unreviewed draft content.", []float32{1, 0, 0}, false)

	svc, err := NewService(db, constantEmbedder([]float32{1, 0, 0}), nil, nil)
	require.NoError(t, err)

	hits, err := svc.semanticSearch(context.Background(), "draft", "en", 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestRetrieveKeywordTierWithoutEmbedder(t *testing.T) {
	db := newTestDB(t)
	docID := seedDocument(t, db, "Relay troubleshooting")
	chunk := Chunk{
		DocumentID:  docID,
		ChunkIndex:  0,
		Content:     "Replace the relay when contacts show pitting or the coil resistance drifts.",
		ContentHash: hashContent("relay"),
		Language:    "en",
		VectorID:    "v-relay-0",
	}
	require.NoError(t, db.Create(&chunk).Error)

	svc, err := NewService(db, nil, nil, nil)
	require.NoError(t, err)

	results, err := svc.Retrieve(context.Background(), "relay coil resistance", 3, "en")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ResultSourceKeyword, results[0].Source)
	assert.Equal(t, docID, results[0].DocumentID)
	assert.Contains(t, results[0].Content, "coil resistance")
	assert.InDelta(t, 1.0, results[0].Score, 1e-9, "all three topics match")
}

func TestRetrieveStaticReferenceFallback(t *testing.T) {
	db := newTestDB(t)
	svc, err := NewService(db, nil, nil, nil)
	require.NoError(t, err)

	results, err := svc.Retrieve(context.Background(), "what is the supply voltage rail", 3, "en")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, result := range results {
		assert.Equal(t, ResultSourceReference, result.Source)
		assert.Contains(t, result.DocumentName, "General reference:")
		assert.InDelta(t, 0.3, result.Score, 1e-9)
		assert.Zero(t, result.DocumentID)
	}
}

func TestRetrieveEmptyQuery(t *testing.T) {
	db := newTestDB(t)
	svc, err := NewService(db, nil, nil, nil)
	require.NoError(t, err)

	results, err := svc.Retrieve(context.Background(), "   ", 3, "en")
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestConsolidateMergesChunksPerDocument(t *testing.T) {
	hits := []chunkHit{
		{DocumentID: 7, DocumentName: "Manual", Content: "Section on fuses.", Score: 0.8},
		{DocumentID: 7, DocumentName: "Manual", Content: "Section on relays.", Score: 0.9},
		{DocumentID: 9, DocumentName: "Appendix", Content: "Torque values.", Score: 0.75},
	}

	results := consolidate(hits, 3, ResultSourceHybrid)

	require.Len(t, results, 2)
	assert.Equal(t, uint64(7), results[0].DocumentID)
	assert.InDelta(t, 0.9, results[0].Score, 1e-9)
	assert.Contains(t, results[0].Content, "Section on fuses.")
	assert.Contains(t, results[0].Content, "Section on relays.")
	assert.Equal(t, uint64(9), results[1].DocumentID)
}

func TestConsolidateSkipsRepeatedContent(t *testing.T) {
	hits := []chunkHit{
		{DocumentID: 1, DocumentName: "Doc", Content: "Full section including the warning text.", Score: 0.9},
		{DocumentID: 1, DocumentName: "Doc", Content: "the warning text", Score: 0.8},
	}

	results := consolidate(hits, 3, ResultSourceSemantic)

	require.Len(t, results, 1)
	assert.Equal(t, "Full section including the warning text.", results[0].Content)
}

func TestConsolidateHonorsMaxResults(t *testing.T) {
	hits := []chunkHit{
		{DocumentID: 1, Content: "a", Score: 0.9},
		{DocumentID: 2, Content: "b", Score: 0.8},
		{DocumentID: 3, Content: "c", Score: 0.7},
	}

	results := consolidate(hits, 2, ResultSourceKeyword)

	require.Len(t, results, 2)
	assert.Equal(t, uint64(1), results[0].DocumentID)
	assert.Equal(t, uint64(2), results[1].DocumentID)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, cosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}))
	assert.Zero(t, cosineSimilarity(nil, nil))
	assert.Zero(t, cosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}

func TestExtractTopics(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"drops stopwords and short tokens", "What is the VS1 voltage?", []string{"vs1", "voltage"}},
		{"keeps dotted part numbers", "error code E-42.1 on startup", []string{"error", "code", "e-42.1", "startup"}},
		{"deduplicates", "sensor sensor sensor", []string{"sensor"}},
		{"empty query", "   ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractTopics(tt.query)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "de", DetectLanguage("Warum ist die Spannung nicht stabil und fällt ab?"))
	assert.Equal(t, "en", DetectLanguage("Why does the voltage drop under load?"))
	assert.Equal(t, "en", DetectLanguage(""))
}
