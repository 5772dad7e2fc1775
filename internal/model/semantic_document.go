// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// SemanticDocument 代表存储在 Elasticsearch 中的语义文档结构。
// 文档 ID 由 (type, entity_id, chunk_index) 派生，重复索引同一分块时整体覆盖而非追加。
// TenantID 永不为空，所有检索都必须先按它过滤。
type SemanticDocument struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"` // 例如 meeting.transcript / buyer.profile
	Text      string            `json:"text"`
	Meta      map[string]string `json:"meta,omitempty"`
	TenantID  string            `json:"tenant_id"`
	MeetingID string            `json:"meeting_id,omitempty"`
	BuyerID   string            `json:"buyer_id,omitempty"`
	ProductID string            `json:"product_id,omitempty"`
	SellerID  string            `json:"seller_id,omitempty"`
	Embedding []float32         `json:"embedding,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// SearchResult 定义了返回给前端的单条检索结果结构。
type SearchResult struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Text      string            `json:"text"`
	Meta      map[string]string `json:"meta,omitempty"`
	TenantID  string            `json:"tenant_id"`
	MeetingID string            `json:"meeting_id,omitempty"`
	BuyerID   string            `json:"buyer_id,omitempty"`
	ProductID string            `json:"product_id,omitempty"`
	SellerID  string            `json:"seller_id,omitempty"`
	Distance  float64           `json:"distance"`
}

// AnswerSource 是答案引用的一个来源条目。
// 不同通路写入不同字段：analytics 写 Metric/Components，sql 写 SQL/Rows，
// 检索通路写文档引用字段。保持松散结构以便直接序列化进响应 JSON。
type AnswerSource struct {
	Type       string                 `json:"type"`
	ID         string                 `json:"id,omitempty"`
	DocType    string                 `json:"doc_type,omitempty"`
	MeetingID  string                 `json:"meeting_id,omitempty"`
	BuyerID    string                 `json:"buyer_id,omitempty"`
	ProductID  string                 `json:"product_id,omitempty"`
	SellerID   string                 `json:"seller_id,omitempty"`
	Distance   float64                `json:"distance,omitempty"`
	Metric     string                 `json:"metric,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
	SQL        string                 `json:"sql,omitempty"`
	Rows       int                    `json:"rows,omitempty"`
	Limit      int                    `json:"limit,omitempty"`
	Direction  string                 `json:"direction,omitempty"`
	Answered   string                 `json:"answered,omitempty"`
	Components map[string]interface{} `json:"components,omitempty"`
	Items      []map[string]interface{} `json:"items,omitempty"`
	Series     []TimeseriesPoint      `json:"series,omitempty"`
	DateRange  *DateRange             `json:"date_range,omitempty"`
}

// DateRange 是来源条目中序列化的起止时间。
type DateRange struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// TimeseriesPoint 是时间序列指标的一个桶。
type TimeseriesPoint struct {
	Bucket     string `json:"bucket"`
	Answered   int64  `json:"answered"`
	Unanswered int64  `json:"unanswered"`
	Total      int64  `json:"total"`
}

// AnswerResponse 是问答入口的统一返回结构。
type AnswerResponse struct {
	Answer  string         `json:"answer"`
	Sources []AnswerSource `json:"sources"`
}
