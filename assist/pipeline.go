package assist

import (
	"context"
	"errors"
	"log"
	"os"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"techdesk_back/knowledge"
)

const (
	defaultRetrievalLimit = 3

	answerTemperature          = 0.2
	forceExtractionTemperature = 0.0
	escalationTemperature      = 0.3
)

var fallbackApology = map[string]string{
	"en": "Sorry, I could not produce an answer right now. Please try again in a moment or contact support directly.",
	"de": "Entschuldigung, ich konnte gerade keine Antwort erzeugen. Bitte versuchen Sie es gleich erneut oder wenden Sie sich direkt an den Support.",
}

// documentRetriever is the slice of the knowledge service the answer
// pipeline needs.
type documentRetriever interface {
	Retrieve(ctx context.Context, query string, maxResults int, language string) ([]knowledge.RetrievalResult, error)
}

// AnswerRequest carries one user question through the pipeline.
type AnswerRequest struct {
	Query        string  `json:"query" binding:"required"`
	Language     string  `json:"language"`
	UserID       *uint64 `json:"user_id"`
	WidgetID     *uint64 `json:"widget_id"`
	UseDocuments *bool   `json:"use_documents"`
}

// AnswerResponse is the pipeline output. Answer is never empty.
type AnswerResponse struct {
	Answer    string                      `json:"answer"`
	Language  string                      `json:"language"`
	Grounded  bool                        `json:"grounded"`
	Escalated bool                        `json:"escalated"`
	Cached    bool                        `json:"cached"`
	Source    string                      `json:"source,omitempty"`
	Results   []knowledge.RetrievalResult `json:"results,omitempty"`
}

// Answerer runs the retrieval-grounded answer pipeline: retrieve, generate,
// gate for grounding, retry with forced extraction, then escalate to an
// external source when the question allows it.
type Answerer struct {
	generator      Generator
	retriever      documentRetriever
	checker        GroundednessChecker
	external       ExternalSource
	policy         *escalationPolicy
	ledger         *usageLedger
	cache          *answerCache
	retrievalLimit int
	contextBudget  int
}

// NewAnswerer wires an Answerer from explicit collaborators. Used directly
// by tests; production code goes through NewAnswererFromEnv.
func NewAnswerer(db *gorm.DB, generator Generator, retriever documentRetriever, checker GroundednessChecker, external ExternalSource) *Answerer {
	if checker == nil {
		checker = newPhraseChecker()
	}
	return &Answerer{
		generator:      generator,
		retriever:      retriever,
		checker:        checker,
		external:       external,
		policy:         newEscalationPolicyFromEnv(),
		ledger:         &usageLedger{db: db},
		retrievalLimit: defaultRetrievalLimit,
		contextBudget:  defaultContextCharBudget,
	}
}

// NewAnswererFromEnv builds the production pipeline on top of a knowledge
// service. A missing provider key is tolerated; Answer then returns the
// static fallback and records nothing.
func NewAnswererFromEnv(db *gorm.DB, svc *knowledge.Service) (*Answerer, error) {
	generator, err := NewChatClientFromEnv()
	if err != nil && !errors.Is(err, ErrProviderUnavailable) {
		return nil, err
	}
	if generator == nil {
		log.Printf("assist: chat provider unavailable, answers degrade to static fallback")
	}

	external, err := NewExternalSourceFromEnv()
	if err != nil {
		return nil, err
	}

	a := &Answerer{
		retriever:      svc,
		checker:        newPhraseChecker(),
		external:       external,
		policy:         newEscalationPolicyFromEnv(),
		ledger:         &usageLedger{db: db},
		retrievalLimit: envInt("RETRIEVAL_MAX_RESULTS", defaultRetrievalLimit),
		contextBudget:  envInt("CONTEXT_CHAR_BUDGET", defaultContextCharBudget),
	}
	if generator != nil {
		a.generator = generator
	}
	return a, nil
}

// WithCacheClient attaches a Redis-backed answer cache. Call with nil to
// leave caching disabled.
func (a *Answerer) WithCacheClient(cache *answerCache) *Answerer {
	if a != nil {
		a.cache = cache
	}
	return a
}

// Answer runs the full pipeline for one question. The returned response
// always carries a non-empty Answer, even when every provider call fails.
func (a *Answerer) Answer(ctx context.Context, req AnswerRequest) (AnswerResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return AnswerResponse{}, errors.New("assist: query must not be empty")
	}

	language := strings.ToLower(strings.TrimSpace(req.Language))
	if language == "" {
		language = knowledge.DetectLanguage(query)
	}

	useDocuments := req.UseDocuments == nil || *req.UseDocuments
	if !useDocuments {
		return a.converse(ctx, req, query, language)
	}

	if cached, err := a.cache.get(ctx, query, language); err == nil && cached != nil && cached.Answer != "" {
		return AnswerResponse{
			Answer:   cached.Answer,
			Language: language,
			Grounded: cached.Grounded,
			Cached:   true,
		}, nil
	}

	results, err := a.retrieve(ctx, query, language)
	if err != nil {
		return AnswerResponse{}, err
	}
	contextBlock := buildContext(results, a.contextBudget)
	source := ""
	if len(results) > 0 {
		source = results[0].Source
	}

	resp := AnswerResponse{Language: language, Source: source, Results: results}

	answer, ok := a.generate(ctx, req, OperationAnswer, answerSystemPrompt(contextBlock, language), query, answerTemperature)
	if ok && a.checker.IsGrounded(answer) {
		resp.Answer = answer
		resp.Grounded = true
		a.cache.store(ctx, query, language, cachedAnswer{Answer: answer, Grounded: true})
		return resp, nil
	}

	retry, retryOK := a.generate(ctx, req, OperationRetry, forceExtractionSystemPrompt(contextBlock, language), query, forceExtractionTemperature)
	if retryOK && a.checker.IsGrounded(retry) {
		resp.Answer = retry
		resp.Grounded = true
		a.cache.store(ctx, query, language, cachedAnswer{Answer: retry, Grounded: true})
		return resp, nil
	}

	// Last generated text survives as the fallback when escalation is not
	// possible or fails.
	lastAnswer := answer
	if retryOK && retry != "" {
		lastAnswer = retry
	}

	if a.external != nil && a.policy.eligible(query) {
		if escalated, escOK := a.escalate(ctx, req, query, language, lastAnswer); escOK {
			resp.Answer = escalated
			resp.Escalated = true
			return resp, nil
		}
	}

	if lastAnswer == "" {
		lastAnswer = apology(language)
	}
	resp.Answer = lastAnswer
	return resp, nil
}

// converse handles the no-documents path: a plain assistant turn with no
// retrieval and no grounding gate.
func (a *Answerer) converse(ctx context.Context, req AnswerRequest, query, language string) (AnswerResponse, error) {
	answer, ok := a.generate(ctx, req, OperationAnswer, conversationSystemPrompt(language), query, answerTemperature)
	if !ok || answer == "" {
		answer = apology(language)
	}
	return AnswerResponse{Answer: answer, Language: language}, nil
}

// generate performs one provider call and always appends a ledger row for
// it, success or failure.
func (a *Answerer) generate(ctx context.Context, req AnswerRequest, operation, systemPrompt, userPrompt string, temperature float64) (string, bool) {
	if a.generator == nil {
		return "", false
	}

	result, err := a.generator.Complete(ctx, systemPrompt, userPrompt, temperature)
	rec := UsageRecord{
		ModelName:     a.generator.ModelID(),
		Provider:      a.generator.Provider(),
		OperationType: operation,
		UserID:        req.UserID,
		WidgetID:      req.WidgetID,
		Success:       err == nil,
		TokenCount:    tokensFromUsage(result.Usage, len(systemPrompt)+len(userPrompt), len(result.Content)),
	}
	if err != nil {
		message := err.Error()
		rec.ErrorMessage = &message
	}
	a.ledger.record(ctx, rec)

	if err != nil {
		log.Printf("assist: %s generation failed: %v", operation, err)
		return "", false
	}
	return strings.TrimSpace(result.Content), true
}

// ledgerProviderCall writes embedding provider outcomes reported by the
// knowledge service into the usage ledger. Wire it with SetUsageRecorder.
func (a *Answerer) ledgerProviderCall(ctx context.Context, call knowledge.ProviderCall) {
	rec := UsageRecord{
		ModelName:     call.Model,
		Provider:      embeddingProviderLabel(),
		OperationType: call.Operation,
		Success:       call.Err == nil,
		TokenCount:    estimateTokens(call.InputChars, 0),
	}
	if call.Err != nil {
		message := call.Err.Error()
		rec.ErrorMessage = &message
	}
	a.ledger.record(ctx, rec)
}

func embeddingProviderLabel() string {
	if provider := os.Getenv("EMBEDDING_PROVIDER"); provider != "" {
		return provider
	}
	return "openai-compatible"
}

// recordExternalSearch ledgers one external lookup, failed or not.
func (a *Answerer) recordExternalSearch(ctx context.Context, req AnswerRequest, query string, err error) {
	rec := UsageRecord{
		ModelName:     "external-search",
		Provider:      "external",
		OperationType: OperationExternalSearch,
		UserID:        req.UserID,
		WidgetID:      req.WidgetID,
		Success:       err == nil,
		TokenCount:    estimateTokens(len(query), 0),
	}
	if err != nil {
		message := err.Error()
		rec.ErrorMessage = &message
	}
	a.ledger.record(ctx, rec)
}

// escalate pulls external material and synthesizes a disclosed answer from
// it. Returns false when the external lookup or the synthesis yields
// nothing usable.
func (a *Answerer) escalate(ctx context.Context, req AnswerRequest, query, language, priorAnswer string) (string, bool) {
	info, err := a.external.Search(ctx, query, language)
	a.recordExternalSearch(ctx, req, query, err)
	if err != nil {
		log.Printf("assist: external search failed: %v", err)
		return "", false
	}
	if info == "" {
		return "", false
	}

	answer, ok := a.generate(ctx, req, OperationEscalation, escalationSystemPrompt(language), escalationUserPrompt(query, priorAnswer, info), escalationTemperature)
	if !ok || answer == "" {
		return "", false
	}
	return answer, true
}

func (a *Answerer) retrieve(ctx context.Context, query, language string) ([]knowledge.RetrievalResult, error) {
	if a.retriever == nil {
		return nil, errors.New("assist: document retriever is not configured")
	}
	return a.retriever.Retrieve(ctx, query, a.retrievalLimit, language)
}

func apology(language string) string {
	if text, ok := fallbackApology[language]; ok {
		return text
	}
	return fallbackApology["en"]
}

func envInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
