package service

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"salespulse-go/internal/model"
	"salespulse-go/internal/repository"
	"salespulse-go/internal/sqlguard"
	"salespulse-go/pkg/llm"
	"salespulse-go/pkg/log"
)

const (
	// 检索为空时的固定回答，绝不编造。
	insufficientInfoAnswer = "I don't have enough information to answer that based on your data."
	// LLM 合成失败时的固定回答。
	synthesisFailedAnswer = "I couldn't synthesize an answer right now."
)

// AnswerOptions 是问答入口的可选参数。
type AnswerOptions struct {
	K        int
	Types    []string
	SellerID string
}

// AnswerService 接口定义了带引用的问答合成入口。
type AnswerService interface {
	Answer(ctx context.Context, query, tenantID string, opts AnswerOptions) (*model.AnswerResponse, error)
}

// answerService 按固定顺序分发问题：
// 缓存 → 意图路由 → 受控 SQL（开关）→ 确定性指标 → LLM 意图分类（开关）→ 语义检索合成。
type answerService struct {
	router     *IntentRouter
	analytics  AnalyticsService
	search     SearchService
	sqlRunner  *sqlguard.Runner
	llm        llm.Client
	sellerRepo repository.SellerRepository
	cache      repository.AnswerCacheRepository

	guardedSQLEnabled bool
	llmIntentEnabled  bool
	maxContextChars   int
	perDocChars       int
}

// NewAnswerService 创建一个新的 AnswerService 实例。
func NewAnswerService(
	router *IntentRouter,
	analytics AnalyticsService,
	search SearchService,
	sqlRunner *sqlguard.Runner,
	llmClient llm.Client,
	sellerRepo repository.SellerRepository,
	cache repository.AnswerCacheRepository,
	guardedSQLEnabled, llmIntentEnabled bool,
	maxContextChars, perDocChars int,
) AnswerService {
	if maxContextChars <= 0 {
		maxContextChars = 6000
	}
	if perDocChars <= 0 {
		perDocChars = 1000
	}
	return &answerService{
		router:            router,
		analytics:         analytics,
		search:            search,
		sqlRunner:         sqlRunner,
		llm:               llmClient,
		sellerRepo:        sellerRepo,
		cache:             cache,
		guardedSQLEnabled: guardedSQLEnabled,
		llmIntentEnabled:  llmIntentEnabled,
		maxContextChars:   maxContextChars,
		perDocChars:       perDocChars,
	}
}

// Answer 是问答主入口。
func (s *answerService) Answer(ctx context.Context, query, tenantID string, opts AnswerOptions) (*model.AnswerResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" || tenantID == "" {
		return &model.AnswerResponse{Answer: insufficientInfoAnswer, Sources: []model.AnswerSource{}}, nil
	}

	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, tenantID, query); ok {
			log.Debugf("[Answer] 缓存命中: %.60s", query)
			return cached, nil
		}
	}

	resp, err := s.answer(ctx, query, tenantID, opts)
	if err != nil {
		return nil, err
	}
	if s.cache != nil && resp != nil {
		s.cache.Set(ctx, tenantID, query, resp)
	}
	return resp, nil
}

func (s *answerService) answer(ctx context.Context, query, tenantID string, opts AnswerOptions) (*model.AnswerResponse, error) {
	intent := s.router.Route(query)

	// 受控 SQL 通路：仅对分析类意图生效，失败时静默落回后续通路
	if s.guardedSQLEnabled && intent.Kind.IsAnalytics() && s.sqlRunner != nil {
		if resp := s.answerViaGuardedSQL(ctx, query, tenantID, opts.SellerID, intent); resp != nil {
			return resp, nil
		}
	}

	// 确定性指标通路
	if intent.Kind.IsAnalytics() {
		resp, err := s.dispatchAnalytics(ctx, tenantID, opts.SellerID, intent)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			return resp, nil
		}
	}

	// LLM 意图分类：确定性路由漏掉的分析类问题可在这里被补救
	if intent.Kind == KindRAGAnswer && s.llmIntentEnabled {
		if resp := s.answerViaLLMIntent(ctx, query, tenantID, opts.SellerID); resp != nil {
			return resp, nil
		}
	}

	return s.answerViaRAG(ctx, query, tenantID, opts, intent)
}

// answerViaGuardedSQL 执行受控 SQL 通路。返回 nil 表示应继续走后续通路。
func (s *answerService) answerViaGuardedSQL(ctx context.Context, query, tenantID, sellerID string, intent Intent) *model.AnswerResponse {
	params := sqlguard.Params{TenantID: tenantID}
	if !intent.Params.Start.IsZero() {
		start := intent.Params.Start
		params.Start = &start
	}
	if !intent.Params.End.IsZero() {
		end := intent.Params.End
		params.End = &end
	}

	result := s.sqlRunner.Run(ctx, query, params)
	switch result.Outcome {
	case sqlguard.OutcomeRejected, sqlguard.OutcomeFailed:
		log.Warnf("[Answer] 受控 SQL 未产出结果(%v), 落回确定性通路: %s", result.Outcome, result.Err)
		return nil
	case sqlguard.OutcomeEmptySuggestFallback:
		// 零行 + 缺席类措辞：优先用确定性指标重算，避免把合成偏差当成真实为零
		if det, err := s.dispatchAnalytics(ctx, tenantID, sellerID, intent); err == nil && det != nil {
			return det
		}
	}

	return s.summarizeSQLResult(ctx, query, result)
}

// summarizeSQLResult 请 LLM 把行集预览压缩成一两句话，并清洗内部标识符。
// 合成失败时退化为行数据预览，保证通路本身不失败。
func (s *answerService) summarizeSQLResult(ctx context.Context, query string, result sqlguard.Result) *model.AnswerResponse {
	preview := result.Data
	if len(preview) > 50 {
		preview = preview[:50]
	}
	previewJSON, _ := json.MarshalIndent(preview, "", "  ")

	prompt := "You are an expert data analyst.\n" +
		"Task: Given the user's question, the executed SQL, and the first rows of the result,\n" +
		"produce a concise natural-language answer (one or two sentences).\n" +
		"- Be precise and avoid fluff.\n" +
		"- If data is empty or insufficient, say so.\n" +
		"- Do NOT output code or SQL.\n" +
		"- Prefer human names and readable labels; do not expose internal IDs/UUIDs in the answer.\n\n" +
		fmt.Sprintf("Question: %s\n\nSQL:\n%s\n\nRows (preview):\n%s\n", query, result.SQL, string(previewJSON))

	raw, err := s.llm.Complete(ctx, prompt)
	if err == nil && strings.TrimSpace(raw) != "" {
		return &model.AnswerResponse{
			Answer: SanitizeSummaryText(strings.TrimSpace(raw)),
			Sources: []model.AnswerSource{{
				Type: "sql",
				SQL:  result.SQL,
				Rows: len(result.Data),
			}},
		}
	}

	log.Warnf("[Answer] SQL 结果摘要失败, 退化为行数据预览: %v", err)
	fallbackRows := result.Data
	if len(fallbackRows) > 10 {
		fallbackRows = fallbackRows[:10]
	}
	rowsJSON, _ := json.Marshal(fallbackRows)
	return &model.AnswerResponse{
		Answer:  string(rowsJSON),
		Sources: []model.AnswerSource{{Type: "sql", SQL: result.SQL}},
	}
}

// dispatchAnalytics 按意图 kind 分发到对应的确定性指标。
// 返回 (nil, nil) 表示该 kind 没有确定性处理器。
func (s *answerService) dispatchAnalytics(ctx context.Context, tenantID, sellerID string, intent Intent) (*model.AnswerResponse, error) {
	normalizeWindow(&intent.Params, time.Now())

	switch intent.Kind {
	case KindCountTotalCalls:
		return s.analytics.CountTotalCalls(tenantID, intent.Params)
	case KindCountCalls:
		return s.analytics.CountCalls(tenantID, intent.Params)
	case KindSellerProductCalls:
		resolved := sellerID
		if resolved == "" && intent.Params.SellerName != "" {
			sellers, err := s.sellerRepo.FindByNameLike(tenantID, intent.Params.SellerName)
			if err == nil && len(sellers) > 0 {
				resolved = sellers[0].ID
			}
		}
		if resolved == "" {
			return &model.AnswerResponse{
				Answer:  "0",
				Sources: []model.AnswerSource{{Type: "analytics", Reason: "seller_not_found"}},
			}, nil
		}
		return s.analytics.SellerProductCalls(tenantID, resolved, intent.Params)
	case KindCountBuyers:
		return s.analytics.CountBuyers(tenantID, intent.Params)
	case KindCountSellers:
		return s.analytics.CountSellers(tenantID, intent.Params)
	case KindCountProducts:
		return s.analytics.CountProducts(tenantID, intent.Params)
	case KindAnsweredRate:
		return s.analytics.AnsweredRate(tenantID, intent.Params)
	case KindMissedRate:
		return s.analytics.MissedRate(tenantID, intent.Params)
	case KindAvgCallDuration:
		return s.analytics.AvgCallDuration(tenantID, intent.Params)
	case KindTopSellersByCalls:
		return s.analytics.TopSellersByCalls(tenantID, intent.Params)
	case KindTopProductsDiscussed:
		return s.analytics.TopProductsDiscussed(tenantID, intent.Params)
	case KindTimeseriesCalls:
		return s.analytics.TimeseriesCalls(tenantID, intent.Params)
	default:
		return nil, nil
	}
}

// llmIntentResult 是 LLM 意图分类的严格 JSON 输出结构。
type llmIntentResult struct {
	Mode   string `json:"mode"`
	Kind   string `json:"kind"`
	Params struct {
		Start        string `json:"start"`
		End          string `json:"end"`
		Direction    string `json:"direction"`
		Answered     string `json:"answered"`
		SellerName   string `json:"seller_name"`
		ProductQuery string `json:"product_query"`
		Metric       string `json:"metric"`
		Granularity  string `json:"granularity"`
		Limit        int    `json:"limit"`
	} `json:"params"`
}

// answerViaLLMIntent 请 LLM 对规则路由漏掉的问题做一次意图分类。
// 只有分类结果是允许清单内的分析意图时才提升为分析通路，否则返回 nil 继续 RAG。
func (s *answerService) answerViaLLMIntent(ctx context.Context, query, tenantID, sellerID string) *model.AnswerResponse {
	allowed := []IntentKind{
		KindCountCalls, KindCountTotalCalls, KindSellerProductCalls, KindCountBuyers,
		KindCountSellers, KindCountProducts, KindAnsweredRate, KindMissedRate,
		KindAvgCallDuration, KindTopSellersByCalls, KindTopProductsDiscussed, KindTimeseriesCalls,
	}
	allowedNames := make([]string, 0, len(allowed))
	for _, k := range allowed {
		allowedNames = append(allowedNames, string(k))
	}

	payload := map[string]interface{}{
		"task":                      "Classify the user's question as 'analytics' or 'rag', and if analytics, map to one of the allowed analytics intents with params.",
		"allowed_analytics_intents": allowedNames,
		"param_hints": map[string]string{
			"start":         "ISO datetime or null",
			"end":           "ISO datetime or null",
			"direction":     "incoming|outgoing|null",
			"answered":      "answered|unanswered|null",
			"seller_name":   "string|null",
			"product_query": "string|null",
			"metric":        "answered|total|null",
			"granularity":   "daily|weekly|null",
			"limit":         "integer|null",
		},
		"question": query,
		"instructions": []string{
			"Return strict JSON with keys: mode ('analytics'|'rag'), kind (when analytics), params (when analytics).",
			"Do not include markdown or backticks.",
		},
	}
	payloadJSON, _ := json.Marshal(payload)

	raw, err := s.llm.Complete(ctx, string(payloadJSON))
	if err != nil {
		log.Warnf("[Answer] LLM 意图分类调用失败: %v", err)
		return nil
	}

	var parsed llmIntentResult
	if err := json.Unmarshal([]byte(stripJSONFences(raw)), &parsed); err != nil {
		log.Warnf("[Answer] LLM 意图分类输出不是合法 JSON: %v", err)
		return nil
	}
	if parsed.Mode != "analytics" {
		return nil
	}

	kind := IntentKind(parsed.Kind)
	valid := false
	for _, k := range allowed {
		if k == kind {
			valid = true
			break
		}
	}
	if !valid {
		log.Warnf("[Answer] LLM 返回的意图不在允许清单内: %s", parsed.Kind)
		return nil
	}

	intent := Intent{Kind: kind, Params: IntentParams{
		Direction:    parsed.Params.Direction,
		Answered:     parsed.Params.Answered,
		SellerName:   parsed.Params.SellerName,
		ProductQuery: parsed.Params.ProductQuery,
		Metric:       parsed.Params.Metric,
		Granularity:  parsed.Params.Granularity,
		Limit:        parsed.Params.Limit,
	}}
	if t, err := time.Parse(time.RFC3339, parsed.Params.Start); err == nil {
		intent.Params.Start = t
	}
	if t, err := time.Parse(time.RFC3339, parsed.Params.End); err == nil {
		intent.Params.End = t
	}

	// 分析通路内部的顺序与确定性路由一致：受控 SQL 优先，再确定性指标
	if s.guardedSQLEnabled && s.sqlRunner != nil {
		if resp := s.answerViaGuardedSQL(ctx, query, tenantID, sellerID, intent); resp != nil {
			return resp
		}
	}
	resp, err := s.dispatchAnalytics(ctx, tenantID, sellerID, intent)
	if err != nil {
		log.Errorf("[Answer] 分发 LLM 分类出的分析意图失败: %v", err)
		return nil
	}
	return resp
}

// ragCitation 是 RAG 输出 JSON 中的引用条目。
type ragCitation struct {
	ID string `json:"id"`
}

// ragOutput 是 RAG 严格 JSON 输出结构。
type ragOutput struct {
	Answer  string        `json:"answer"`
	Sources []ragCitation `json:"sources"`
}

// answerViaRAG 执行语义检索合成通路。
func (s *answerService) answerViaRAG(ctx context.Context, query, tenantID string, opts AnswerOptions, intent Intent) (*model.AnswerResponse, error) {
	k := opts.K
	if k <= 0 {
		k = 8
	}
	results, err := s.search.Search(ctx, query, tenantID, k, SearchFilter{
		Types:    opts.Types,
		SellerID: opts.SellerID,
		Start:    intent.Params.Start,
		End:      intent.Params.End,
	})
	if err != nil {
		return nil, err
	}

	if len(results) == 0 {
		return &model.AnswerResponse{Answer: insufficientInfoAnswer, Sources: []model.AnswerSource{}}, nil
	}

	// 组装有界上下文：单文档截断 + 总量封顶，达到上限即停止
	var contextBlocks []string
	var usedResults []model.SearchResult
	total := 0
	for _, r := range results {
		if total >= s.maxContextChars {
			break
		}
		text := r.Text
		if len(text) > s.perDocChars {
			text = text[:s.perDocChars]
		}
		if total+len(text) > s.maxContextChars {
			text = text[:s.maxContextChars-total]
		}
		contextBlocks = append(contextBlocks, fmt.Sprintf("[%s] (%s)\n%s", r.ID, r.Type, text))
		usedResults = append(usedResults, r)
		total += len(text)
	}

	retrievedSources := sourcesFromResults(usedResults)

	prompt := "You are a helpful assistant answering questions strictly from the supplied context.\n" +
		"Rules:\n" +
		"- Use ONLY the context below. If it is insufficient, say so.\n" +
		"- Cite the ids of context documents you used.\n" +
		"- Return strict JSON: {\"answer\": string, \"sources\": [{\"id\": string}]}. No markdown, no backticks.\n\n" +
		fmt.Sprintf("Question: %s\n\nContext:\n%s\n", query, strings.Join(contextBlocks, "\n---\n"))

	raw, err := s.llm.Complete(ctx, prompt)
	if err != nil {
		log.Errorf("[Answer] RAG 合成调用失败: %v", err)
		return &model.AnswerResponse{Answer: synthesisFailedAnswer, Sources: retrievedSources}, nil
	}

	var parsed ragOutput
	if err := json.Unmarshal([]byte(stripJSONFences(raw)), &parsed); err != nil || strings.TrimSpace(parsed.Answer) == "" {
		log.Warnf("[Answer] RAG 输出解析失败, 返回检索来源: %v", err)
		return &model.AnswerResponse{Answer: synthesisFailedAnswer, Sources: retrievedSources}, nil
	}

	// 引用合并：LLM 引用的 id 回填检索元数据，未知 id 丢弃，空引用取全部检索结果
	sources := mergeCitations(parsed.Sources, usedResults)
	if len(sources) == 0 {
		sources = retrievedSources
	}

	return &model.AnswerResponse{Answer: parsed.Answer, Sources: sources}, nil
}

// sourcesFromResults 把检索结果转换为来源条目。
func sourcesFromResults(results []model.SearchResult) []model.AnswerSource {
	sources := make([]model.AnswerSource, 0, len(results))
	for _, r := range results {
		sources = append(sources, model.AnswerSource{
			Type:      "document",
			ID:        r.ID,
			DocType:   r.Type,
			MeetingID: r.MeetingID,
			BuyerID:   r.BuyerID,
			ProductID: r.ProductID,
			SellerID:  r.SellerID,
			Distance:  r.Distance,
		})
	}
	return sources
}

// mergeCitations 按被引用的 id 过滤检索结果，保持 LLM 引用顺序。
func mergeCitations(citations []ragCitation, results []model.SearchResult) []model.AnswerSource {
	byID := make(map[string]model.SearchResult, len(results))
	for _, r := range results {
		byID[r.ID] = r
	}
	var sources []model.AnswerSource
	for _, c := range citations {
		if r, ok := byID[c.ID]; ok {
			sources = append(sources, sourcesFromResults([]model.SearchResult{r})...)
		}
	}
	return sources
}

// stripJSONFences 去掉 LLM 输出中可能包裹的 markdown 围栏。
func stripJSONFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}

var (
	reSellerIDParen  = regexp.MustCompile(`\(seller_id:[^)]+\)`)
	reUUID           = regexp.MustCompile(`(?i)\b[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}\b`)
	reSellerWithID   = regexp.MustCompile(`\b[Ss]eller with ID:?\s*`)
	reEmptyParens    = regexp.MustCompile(`\(\s*\)`)
	reMultipleSpaces = regexp.MustCompile(`\s{2,}`)
)

// SanitizeSummaryText 清洗答案文本中的内部标识符（UUID、seller_id 提法），
// 并收拾清洗后留下的空括号和多余空格。
func SanitizeSummaryText(text string) string {
	text = reSellerIDParen.ReplaceAllString(text, "")
	text = reUUID.ReplaceAllString(text, "")
	text = reSellerWithID.ReplaceAllString(text, "")
	text = reEmptyParens.ReplaceAllString(text, "")
	text = reMultipleSpaces.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
