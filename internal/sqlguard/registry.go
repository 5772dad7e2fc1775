// Package sqlguard 实现了受控的 LLM 生成 SQL 的校验、改写与执行。
// LLM 的输出一律视为不可信输入：先分词，再按允许清单校验，改写补齐租户过滤
// 与行数上限，最后才以参数化语句执行。任何一步失败都折叠为结构化结果，不向上抛。
package sqlguard

// TableSchema 描述允许清单中的一张表。
type TableSchema struct {
	Columns   []string `json:"columns"`
	Semantics string   `json:"semantics"`
}

// Registry 是可查询表/列的静态允许清单。
// 它同时充当两份资料：构建 SQL 草稿提示词的 schema 依据，以及校验阶段的唯一允许清单。
type Registry struct {
	Tables map[string]TableSchema `json:"tables"`
	Notes  []string               `json:"notes"`
}

// TenantScopeTable 是承载租户隔离列的表；事实表必须与它连接。
const TenantScopeTable = "sellers"

// TenantScopeColumn 是租户隔离列名。
const TenantScopeColumn = "agency_id"

// factTables 列出引用时必须带 sellers 连接的事实表。
var factTables = map[string]bool{
	"meetings":  true,
	"app_calls": true,
}

// defaultRegistry 在包加载时构建一次，之后只读。
var defaultRegistry = &Registry{
	Tables: map[string]TableSchema{
		"agencies": {
			Columns:   []string{"id", "name", "description"},
			Semantics: "Organizations. agencies.id is referenced by sellers.agency_id, buyers.agency_id, products.agency_id.",
		},
		"sellers": {
			Columns:   []string{"id", "agency_id", "name", "email", "phone", "role", "manager_id"},
			Semantics: "Sales reps/agents. agency_id is mandatory; manager_id denotes reporting line.",
		},
		"buyers": {
			Columns:   []string{"id", "agency_id", "phone", "name", "email", "company_name"},
			Semantics: "Customers/leads. phone is normalized and unique per agency via constraint.",
		},
		"products": {
			Columns:   []string{"id", "agency_id", "name", "description", "features"},
			Semantics: "Per-agency product catalog. features JSON may include key-value attributes.",
		},
		"meetings": {
			Columns: []string{
				"id", "buyer_id", "seller_id", "source", "start_time", "end_time",
				"transcription", "direction", "title", "summary", "detected_products",
			},
			Semantics: "Answered calls/conversations. direction in ('incoming','outgoing'). detected_products is JSON/text of mentioned products.",
		},
		"app_calls": {
			Columns:   []string{"id", "buyer_number", "seller_number", "call_type", "start_time", "end_time", "duration", "user_id", "status"},
			Semantics: "Raw mobile calls. Unanswered: incoming status in ('missed','rejected'); outgoing status = 'not_answered'. user_id -> sellers.id.",
		},
		"call_performances": {
			Columns: []string{
				"id", "meeting_id", "intro", "rapport_building", "objection_handling",
				"closure_and_next_steps", "overall_performance_summary", "overall_score",
				"analyzed_at", "created_at", "updated_at",
			},
			Semantics: "Per-meeting analysis and metric scores; meeting_id -> meetings.id.",
		},
	},
	Notes: []string{
		"Use sellers.agency_id = @tenant_id to scope queries.",
		"Join meetings via meetings.seller_id = sellers.id; join app_calls via app_calls.user_id = sellers.id.",
		"Time-window filters should compare *_time BETWEEN @start AND @end when provided.",
		"Count unanswered using app_calls: incoming missed/rejected; outgoing not_answered. Answered = meetings rows.",
		"Use DISTINCT for unique buyers/sellers/products where appropriate.",
	},
}

// GetRegistry 返回表/列允许清单。
func GetRegistry() *Registry {
	return defaultRegistry
}

// IsAllowedTable 判断表名是否在允许清单内。
func (r *Registry) IsAllowedTable(name string) bool {
	_, ok := r.Tables[name]
	return ok
}

// IsFactTable 判断表是否为必须连接 sellers 的事实表。
func IsFactTable(name string) bool {
	return factTables[name]
}
