package sqlguard

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"salespulse-go/pkg/log"
)

// Outcome 是一次受控执行的终态。
type Outcome int

const (
	OutcomeSuccess              Outcome = iota // 执行成功并返回行集
	OutcomeEmptySuggestFallback                // 执行成功但零行，且问题措辞暗示缺席类指标
	OutcomeRejected                            // 校验阶段拒绝，未触达存储
	OutcomeFailed                              // 执行阶段失败，事务已回滚
)

// Result 是受控执行的结构化结果。失败信息折叠在 Err 中，Run 永不返回 Go error。
type Result struct {
	Outcome   Outcome
	Candidate string // LLM 原始候选
	SQL       string // 改写后的最终语句（拒绝发生在改写前时与 Candidate 相同）
	Params    Params
	Data      []map[string]interface{}
	Err       string
}

// Params 是绑定到最终语句的命名参数集。
type Params struct {
	TenantID string
	Start    *time.Time
	End      *time.Time
}

// Completer 抽象了一个单轮补全能力。
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Executor 以参数化方式执行只读语句。实现方负责事务与回滚。
type Executor interface {
	Query(ctx context.Context, sqlText string, params Params) ([]map[string]interface{}, error)
}

// Runner 按 DRAFTING → VALIDATING → REWRITING → EXECUTING 的顺序推进一次受控执行。
// 校验在任何存储访问之前完整结束，改写后的语句只以命名参数执行。
type Runner struct {
	llm      Completer
	executor Executor
	registry *Registry
	rowLimit int
}

// NewRunner 创建一个新的 Runner 实例。
func NewRunner(llm Completer, executor Executor, rowLimit int) *Runner {
	if rowLimit <= 0 {
		rowLimit = 200
	}
	return &Runner{
		llm:      llm,
		executor: executor,
		registry: GetRegistry(),
		rowLimit: rowLimit,
	}
}

// Run 对一个分析类问题执行完整的受控 SQL 流程。
func (r *Runner) Run(ctx context.Context, question string, params Params) Result {
	// DRAFTING
	prompt := r.buildPrompt(question)
	raw, err := r.llm.Complete(ctx, prompt)
	if err != nil {
		log.Errorf("[SQLGuard] LLM 生成 SQL 失败: %v", err)
		return Result{Outcome: OutcomeFailed, Params: params, Err: "LLM 调用失败: " + err.Error()}
	}

	candidate := ExtractCandidate(raw)
	if candidate == "" {
		log.Warnf("[SQLGuard] 无法从 LLM 响应中提取 SQL, raw: %.200s", raw)
		return Result{Outcome: OutcomeRejected, Candidate: raw, Params: params, Err: "无法从 LLM 响应中提取 SQL"}
	}

	// VALIDATING（在任何执行动作之前完整结束）
	if err := Validate(candidate, r.registry); err != nil {
		log.Warnf("[SQLGuard] 候选 SQL 被拒绝: %v, sql: %s", err, candidate)
		return Result{Outcome: OutcomeRejected, Candidate: candidate, SQL: candidate, Params: params, Err: err.Error()}
	}

	// REWRITING
	rewritten := EnsureTenantFilter(candidate)
	rewritten = EnsureLimit(rewritten, r.rowLimit)
	rewritten = NormalizeWhitespace(rewritten)

	// 改写结果再过一遍校验，保证注入本身没有破坏结构
	if err := Validate(rewritten, r.registry); err != nil {
		log.Errorf("[SQLGuard] 改写后 SQL 校验失败: %v, sql: %s", err, rewritten)
		return Result{Outcome: OutcomeRejected, Candidate: candidate, SQL: rewritten, Params: params, Err: err.Error()}
	}

	// EXECUTING
	data, err := r.executor.Query(ctx, rewritten, params)
	if err != nil {
		log.Errorf("[SQLGuard] 受控 SQL 执行失败: %v, sql: %s", err, rewritten)
		return Result{Outcome: OutcomeFailed, Candidate: candidate, SQL: rewritten, Params: params, Err: err.Error()}
	}

	// 缺席类措辞 + 零行：可能是合成偏差而非真实为零，提示走确定性回退。
	// 关键字嗅探是尽力而为的启发式，只作为信号，不作为权威结论。
	lowered := strings.ToLower(question)
	if len(data) == 0 && (strings.Contains(lowered, "unanswered") || strings.Contains(lowered, "missed")) {
		return Result{Outcome: OutcomeEmptySuggestFallback, Candidate: candidate, SQL: rewritten, Params: params, Data: data}
	}

	return Result{Outcome: OutcomeSuccess, Candidate: candidate, SQL: rewritten, Params: params, Data: data}
}

// buildPrompt 构建带 schema 允许清单与硬性规则的结构化提示词。
func (r *Runner) buildPrompt(question string) string {
	payload := map[string]interface{}{
		"task": "Generate a single SELECT-only SQL for MySQL to answer the question.",
		"rules": []string{
			"MUST use only allowlisted tables/columns from the registry.",
			"MUST include a WHERE sellers.agency_id = @tenant_id OR join to sellers and filter by it.",
			"If time is implied, use BETWEEN @start AND @end on *_time columns (e.g., start_time, created_at).",
			"Return ONLY raw SQL text. No backticks, no markdown, no explanations.",
			"Ensure the query includes a LIMIT 200.",
			"Prefer selecting human-readable names (e.g., sellers.name, products.name) instead of internal IDs. Avoid exposing UUIDs in the SELECT list.",
		},
		"registry": r.registry,
		"question": question,
		"params":   map[string]string{"tenant_id": "@tenant_id", "start": "@start", "end": "@end"},
	}
	b, _ := json.Marshal(payload)
	return string(b)
}

// ExtractCandidate 从形态多变的 LLM 响应中容错提取单条 SQL。
// 依次尝试：JSON 对象的 sql/query/SQL 键、```sql 围栏、首个 select 前缀。
func ExtractCandidate(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	// JSON 对象 {"sql": "..."} / {"query": "..."} / {"SQL": "..."}
	if strings.HasPrefix(s, "{") {
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(s), &obj); err == nil {
			for _, key := range []string{"sql", "query", "SQL"} {
				if v, ok := obj[key].(string); ok && strings.TrimSpace(v) != "" {
					s = strings.TrimSpace(v)
					break
				}
			}
		}
	}

	// Markdown 围栏 ```sql ... ```
	if idx := strings.Index(s, "```"); idx >= 0 {
		rest := s[idx+3:]
		rest = strings.TrimPrefix(rest, "sql")
		rest = strings.TrimPrefix(rest, "SQL")
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		s = strings.TrimSpace(rest)
	}

	// 前置说明文字：从第一个 select 开始截取
	lower := strings.ToLower(s)
	idx := strings.Index(lower, "select")
	if idx < 0 {
		return ""
	}
	// 尾部分号会被校验器当作多语句边界，提取阶段先行剥掉
	return strings.TrimRight(strings.TrimSpace(s[idx:]), "; \t\n")
}
