package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"salespulse-go/internal/model"
	"salespulse-go/pkg/embedding"
	"salespulse-go/pkg/es"
	"salespulse-go/pkg/log"
)

// SearchFilter 是语义检索的过滤条件。租户过滤是强制的，由调用方参数单独传入。
type SearchFilter struct {
	Types    []string
	SellerID string
	Start    time.Time
	End      time.Time
}

// SearchService 接口定义了带 ACL 过滤的向量相似度检索。
type SearchService interface {
	Search(ctx context.Context, query, tenantID string, k int, filter SearchFilter) ([]model.SearchResult, error)
}

// searchService 是 SearchService 接口的实现，基于 ES 的 kNN 检索。
type searchService struct {
	embedder  embedding.Client
	indexName string
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(embedder embedding.Client, indexName string) SearchService {
	return &searchService{embedder: embedder, indexName: indexName}
}

// ClampK 把 k 收敛到 [1, 100] 区间。
func ClampK(k int) int {
	if k < 1 {
		return 1
	}
	if k > 100 {
		return 100
	}
	return k
}

// BuildKNNQuery 构建 kNN 检索请求体。租户过滤永远是第一个过滤条件，
// 其余可选条件（类型、销售人员、时间窗）按顺序追加。导出供测试验证过滤结构。
func BuildKNNQuery(queryVector []float32, tenantID string, k int, filter SearchFilter) map[string]interface{} {
	filters := []interface{}{
		map[string]interface{}{"term": map[string]interface{}{"tenant_id": tenantID}},
	}
	if len(filter.Types) > 0 {
		filters = append(filters, map[string]interface{}{
			"terms": map[string]interface{}{"type": filter.Types},
		})
	}
	if filter.SellerID != "" {
		filters = append(filters, map[string]interface{}{
			"term": map[string]interface{}{"seller_id": filter.SellerID},
		})
	}
	if !filter.Start.IsZero() || !filter.End.IsZero() {
		rangeCond := map[string]interface{}{}
		if !filter.Start.IsZero() {
			rangeCond["gte"] = filter.Start.Format(time.RFC3339)
		}
		if !filter.End.IsZero() {
			rangeCond["lte"] = filter.End.Format(time.RFC3339)
		}
		filters = append(filters, map[string]interface{}{
			"range": map[string]interface{}{"created_at": rangeCond},
		})
	}

	numCandidates := k * 10
	if numCandidates < 100 {
		numCandidates = 100
	}

	return map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "embedding",
			"query_vector":   queryVector,
			"k":              k,
			"num_candidates": numCandidates,
			"filter":         map[string]interface{}{"bool": map[string]interface{}{"must": filters}},
		},
		"size":    k,
		"_source": []string{"id", "type", "text", "meta", "tenant_id", "meeting_id", "buyer_id", "product_id", "seller_id"},
	}
}

// Search 执行一次向量检索。空查询或空租户直接返回空结果，不报错。
func (s *searchService) Search(ctx context.Context, query, tenantID string, k int, filter SearchFilter) ([]model.SearchResult, error) {
	if query == "" || tenantID == "" {
		return []model.SearchResult{}, nil
	}
	k = ClampK(k)

	vectors, err := s.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("查询向量化失败: %w", err)
	}
	if len(vectors) == 0 {
		return nil, errors.New("查询向量化返回空结果")
	}

	body := BuildKNNQuery(vectors[0], tenantID, k, filter)
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	res, err := es.ESClient.Search(
		es.ESClient.Search.WithContext(ctx),
		es.ESClient.Search.WithIndex(s.indexName),
		es.ESClient.Search.WithBody(bytes.NewReader(bodyBytes)),
	)
	if err != nil {
		return nil, fmt.Errorf("检索请求失败: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("[Search] Elasticsearch 返回错误: %s", res.String())
		return nil, errors.New("检索请求被 Elasticsearch 拒绝")
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				ID     string                 `json:"_id"`
				Score  float64                `json:"_score"`
				Source model.SemanticDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("解析检索响应失败: %w", err)
	}

	results := make([]model.SearchResult, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		results = append(results, model.SearchResult{
			ID:        hit.ID,
			Type:      hit.Source.Type,
			Text:      hit.Source.Text,
			Meta:      hit.Source.Meta,
			TenantID:  hit.Source.TenantID,
			MeetingID: hit.Source.MeetingID,
			BuyerID:   hit.Source.BuyerID,
			ProductID: hit.Source.ProductID,
			SellerID:  hit.Source.SellerID,
			// cosine 相似度得分归一到 [0,1]，换算成越小越近的距离语义
			Distance: 1 - hit.Score,
		})
	}
	return results, nil
}
