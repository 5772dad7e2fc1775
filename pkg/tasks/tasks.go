// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// IndexingTask represents the data structure for a semantic indexing job.
type IndexingTask struct {
	DocType  string `json:"doc_type"`
	EntityID string `json:"entity_id"`
	TenantID string `json:"tenant_id"`
}

// Key 返回任务的逻辑标识，用于失败计数与日志。
func (t IndexingTask) Key() string {
	return t.DocType + ":" + t.EntityID
}
