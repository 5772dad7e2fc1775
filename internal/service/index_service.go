package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"salespulse-go/internal/model"
	"salespulse-go/pkg/embedding"
	"salespulse-go/pkg/es"
	"salespulse-go/pkg/log"
)

// EntityRefs 携带语义文档的实体外键引用，窄删除靠它收缩范围。
type EntityRefs struct {
	MeetingID string
	BuyerID   string
	ProductID string
	SellerID  string
}

// IndexService 接口定义了语义文档的幂等写入与删除。
type IndexService interface {
	UpsertDocuments(ctx context.Context, docType, entityID, tenantID string, chunks []string, meta map[string]string, refs EntityRefs) ([]string, error)
	DeleteEntityDocuments(ctx context.Context, docType string, refs EntityRefs) error
}

// indexService 是 IndexService 接口的实现。
type indexService struct {
	embedder  embedding.Client
	indexName string
	enabled   bool
}

// NewIndexService 创建一个新的 IndexService 实例。
// enabled 开关在进程启动时解析一次，关闭时所有写入都是零操作。
func NewIndexService(embedder embedding.Client, indexName string, enabled bool) IndexService {
	return &indexService{embedder: embedder, indexName: indexName, enabled: enabled}
}

// BuildDocID 由 (doc_type, entity_id, chunk_index) 派生确定性文档 ID。
// 同一逻辑分块永远映射到同一 ID，重复索引覆盖旧向量而不是追加。
func BuildDocID(docType, entityID string, chunkIndex int) string {
	ns := uuid.NewSHA1(uuid.NameSpaceDNS, []byte("semantic:"+docType))
	return uuid.NewSHA1(ns, []byte(fmt.Sprintf("%s:%d", entityID, chunkIndex))).String()
}

// ChunkText 按词数切分长文本。块大小由目标 token 数换算（约 1.3 词/token，下限 50 词），
// 相邻块之间保留 15% 重叠，保证语义边界处的内容不被截断丢失。
func ChunkText(text string) []string {
	return ChunkTextWith(text, 800, 0.15)
}

// ChunkTextWith 是 ChunkText 的可调参形式。
func ChunkTextWith(text string, targetTokens int, overlapRatio float64) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	wordsPerChunk := int(float64(targetTokens) * 1.3)
	if wordsPerChunk < 50 {
		wordsPerChunk = 50
	}
	overlap := int(float64(wordsPerChunk) * overlapRatio)

	step := wordsPerChunk - overlap
	if step < 1 {
		step = 1
	}

	var chunks []string
	for i := 0; i < len(words); i += step {
		end := i + wordsPerChunk
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[i:end], " "))
	}
	return chunks
}

// refFieldFor 返回窄删除使用的实体引用字段与值。
// 删除范围必须收窄到单一实体自身的引用列，保证不会误删其它实体的文档。
func refFieldFor(docType string, refs EntityRefs) (string, string) {
	switch {
	case strings.HasPrefix(docType, "meeting"):
		return "meeting_id", refs.MeetingID
	case strings.HasPrefix(docType, "buyer"):
		return "buyer_id", refs.BuyerID
	case strings.HasPrefix(docType, "product"):
		return "product_id", refs.ProductID
	case strings.HasPrefix(docType, "seller"):
		return "seller_id", refs.SellerID
	case strings.HasPrefix(docType, "app"):
		return "seller_id", refs.SellerID
	default:
		return "", ""
	}
}

// UpsertDocuments 对一个实体的全部分块做一次幂等写入：
// 生成确定性 ID → 批量向量化 → 逐块覆盖写入 → 窄删除多余的旧分块。
// 任何一块写入失败都会回滚本次已写入的分块，保证新旧状态不会混合可见。
func (s *indexService) UpsertDocuments(ctx context.Context, docType, entityID, tenantID string, chunks []string, meta map[string]string, refs EntityRefs) ([]string, error) {
	if !s.enabled {
		log.Infof("[Index] 语义索引已关闭, 跳过 %s:%s 的写入", docType, entityID)
		return []string{}, nil
	}
	if len(chunks) == 0 {
		return []string{}, nil
	}
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id 不能为空")
	}

	vectors, err := s.embedder.EmbedTexts(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("向量化失败: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("向量数量 %d 与分块数量 %d 不一致", len(vectors), len(chunks))
	}

	now := time.Now()
	storedIDs := make([]string, 0, len(chunks))
	for idx, text := range chunks {
		docID := BuildDocID(docType, entityID, idx)
		doc := model.SemanticDocument{
			ID:        docID,
			Type:      docType,
			Text:      text,
			Meta:      meta,
			TenantID:  tenantID,
			MeetingID: refs.MeetingID,
			BuyerID:   refs.BuyerID,
			ProductID: refs.ProductID,
			SellerID:  refs.SellerID,
			Embedding: vectors[idx],
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := es.IndexDocument(ctx, s.indexName, doc); err != nil {
			// 补偿回滚：清掉本次已写入的分块，避免新旧状态混合可见
			if rbErr := es.DeleteByIDs(ctx, s.indexName, storedIDs); rbErr != nil {
				log.Errorf("[Index] 回滚已写入分块失败: %v", rbErr)
			}
			return nil, fmt.Errorf("写入分块 %d 失败: %w", idx, err)
		}
		storedIDs = append(storedIDs, docID)
	}

	if err := s.deleteStaleChunks(ctx, docType, refs, storedIDs); err != nil {
		log.Warnf("[Index] 清理过期分块失败 %s:%s: %v", docType, entityID, err)
	}

	log.Infof("[Index] 已写入 %d 个语义文档 %s:%s", len(storedIDs), docType, entityID)
	return storedIDs, nil
}

// deleteStaleChunks 删除该实体名下不在本次保留集中的旧分块。
// 典型场景：重新索引后分块数变少，尾部的旧分块必须消失。
func (s *indexService) deleteStaleChunks(ctx context.Context, docType string, refs EntityRefs, keepIDs []string) error {
	refField, refValue := refFieldFor(docType, refs)
	if refField == "" || refValue == "" {
		return nil
	}

	keep := make([]interface{}, 0, len(keepIDs))
	for _, id := range keepIDs {
		keep = append(keep, id)
	}

	query := map[string]interface{}{
		"bool": map[string]interface{}{
			"must": []interface{}{
				map[string]interface{}{"term": map[string]interface{}{"type": docType}},
				map[string]interface{}{"term": map[string]interface{}{refField: refValue}},
			},
			"must_not": []interface{}{
				map[string]interface{}{"ids": map[string]interface{}{"values": keep}},
			},
		},
	}
	return es.DeleteByQuery(ctx, s.indexName, query)
}

// DeleteEntityDocuments 删除实体名下该类型的全部语义文档，用于实体被移除时。
func (s *indexService) DeleteEntityDocuments(ctx context.Context, docType string, refs EntityRefs) error {
	if !s.enabled {
		return nil
	}
	refField, refValue := refFieldFor(docType, refs)
	if refField == "" || refValue == "" {
		return fmt.Errorf("doc_type %s 缺少可用的实体引用", docType)
	}
	query := map[string]interface{}{
		"bool": map[string]interface{}{
			"must": []interface{}{
				map[string]interface{}{"term": map[string]interface{}{"type": docType}},
				map[string]interface{}{"term": map[string]interface{}{refField: refValue}},
			},
		},
	}
	return es.DeleteByQuery(ctx, s.indexName, query)
}
