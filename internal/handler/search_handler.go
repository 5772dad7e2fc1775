package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"salespulse-go/internal/model"
	"salespulse-go/internal/service"
	"salespulse-go/pkg/log"
)

// SearchHandler 负责处理语义检索与问答请求。
type SearchHandler struct {
	searchService service.SearchService
	answerService service.AnswerService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService, answerService service.AnswerService) *SearchHandler {
	return &SearchHandler{
		searchService: searchService,
		answerService: answerService,
	}
}

// SearchRequest 定义了 /search 与 /search/answer 的请求体结构。
// 租户上下文从认证后的账号解析，请求体无法指定。
type SearchRequest struct {
	Query   string   `json:"query"`
	K       int      `json:"k"`
	Types   []string `json:"types"`
	OwnerID string   `json:"owner_id"`
	Start   string   `json:"start"`
	End     string   `json:"end"`
}

// currentTenant 从 Gin 上下文解析当前账号与租户。
func currentTenant(c *gin.Context) (*model.Seller, bool) {
	v, exists := c.Get("seller")
	if !exists {
		return nil, false
	}
	seller, ok := v.(*model.Seller)
	return seller, ok
}

// Search 处理 POST /search：向量检索，返回带距离的文档列表。
// 空查询按约定返回 200 与空结果，而不是错误。
func (h *SearchHandler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	seller, ok := currentTenant(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	if req.Query == "" {
		c.JSON(http.StatusOK, gin.H{"results": []model.SearchResult{}})
		return
	}

	k := req.K
	if k <= 0 {
		k = 8
	}

	filter := service.SearchFilter{Types: req.Types, SellerID: req.OwnerID}
	if t, err := time.Parse(time.RFC3339, req.Start); err == nil {
		filter.Start = t
	}
	if t, err := time.Parse(time.RFC3339, req.End); err == nil {
		filter.End = t
	}

	results, err := h.searchService.Search(c.Request.Context(), req.Query, seller.AgencyID, k, filter)
	if err != nil {
		log.Errorf("[SearchHandler] 检索失败, query: %.60s, error: %v", req.Query, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Search failed"})
		return
	}

	log.Infof("[SearchHandler] 检索成功, query: '%.60s', 返回 %d 条结果", req.Query, len(results))
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// Answer 处理 POST /search/answer：合成带引用的回答。
func (h *SearchHandler) Answer(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	seller, ok := currentTenant(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}

	resp, err := h.answerService.Answer(c.Request.Context(), req.Query, seller.AgencyID, service.AnswerOptions{
		K:        req.K,
		Types:    req.Types,
		SellerID: req.OwnerID,
	})
	if err != nil {
		log.Errorf("[SearchHandler] 问答失败, query: %.60s, error: %v", req.Query, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Answer failed"})
		return
	}

	c.JSON(http.StatusOK, resp)
}
