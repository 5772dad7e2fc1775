package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"salespulse-go/internal/pipeline"
	"salespulse-go/internal/repository"
	"salespulse-go/pkg/kafka"
	"salespulse-go/pkg/log"
	"salespulse-go/pkg/tasks"
)

// ReindexHandler 负责管理端的全量重建索引入口。
// 它只负责投递任务，真正的索引工作由 Kafka 消费端异步完成。
type ReindexHandler struct {
	entityRepo repository.EntityRepository
}

// NewReindexHandler 创建一个新的 ReindexHandler 实例。
func NewReindexHandler(entityRepo repository.EntityRepository) *ReindexHandler {
	return &ReindexHandler{entityRepo: entityRepo}
}

// ReindexRequest 定义了重建索引 API 的请求体结构。
// types 为空时重建全部文档类型。
type ReindexRequest struct {
	TenantID string   `json:"tenant_id" binding:"required"`
	Types    []string `json:"types"`
}

var allDocTypes = []string{
	pipeline.DocTypeMeetingTranscript,
	pipeline.DocTypeMeetingKeyPoint,
	pipeline.DocTypeBuyerProfile,
	pipeline.DocTypeSellerProfile,
	pipeline.DocTypeProductCatalog,
	pipeline.DocTypeAppCall,
}

// Reindex 处理 POST /internal/reindex：为租户的全部实体投递索引任务。
func (h *ReindexHandler) Reindex(c *gin.Context) {
	var req ReindexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载：tenant_id 不能为空"})
		return
	}

	docTypes := req.Types
	if len(docTypes) == 0 {
		docTypes = allDocTypes
	}

	published := 0
	for _, docType := range docTypes {
		ids, err := h.listEntityIDs(req.TenantID, docType)
		if err != nil {
			log.Errorf("[ReindexHandler] 加载实体列表失败, doc_type: %s, error: %v", docType, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Reindex failed"})
			return
		}
		for _, id := range ids {
			task := tasks.IndexingTask{DocType: docType, EntityID: id, TenantID: req.TenantID}
			if err := kafka.ProduceIndexingTask(task); err != nil {
				log.Errorf("[ReindexHandler] 投递索引任务失败: %s, error: %v", task.Key(), err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Reindex failed"})
				return
			}
			published++
		}
	}

	log.Infof("[ReindexHandler] 重建索引任务投递完成, tenant: %s, tasks: %d", req.TenantID, published)
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "Reindex tasks published",
		"data":    gin.H{"published": published},
	})
}

// listEntityIDs 按 doc_type 返回需要重建的实体主键集合。
func (h *ReindexHandler) listEntityIDs(tenantID, docType string) ([]string, error) {
	switch docType {
	case pipeline.DocTypeMeetingTranscript, pipeline.DocTypeMeetingKeyPoint:
		return h.entityRepo.ListMeetingIDs(tenantID)
	case pipeline.DocTypeBuyerProfile:
		return h.entityRepo.ListBuyerIDs(tenantID)
	case pipeline.DocTypeSellerProfile:
		return h.entityRepo.ListSellerIDs(tenantID)
	case pipeline.DocTypeProductCatalog:
		return h.entityRepo.ListProductIDs(tenantID)
	case pipeline.DocTypeAppCall:
		return h.entityRepo.ListAppCallIDs(tenantID)
	default:
		return nil, nil
	}
}
