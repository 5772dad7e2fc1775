package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"salespulse-go/internal/service"
	"salespulse-go/pkg/llm"
	"salespulse-go/pkg/log"
	"salespulse-go/pkg/token"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// StreamHandler 通过 WebSocket 流式推送问答结果。
// 每条入站消息是一个问题；回答分块实时下发，结束后补发一条 sources 消息。
type StreamHandler struct {
	searchService service.SearchService
	sellerService service.SellerService
	llmClient     llm.Client
	jwtManager    *token.JWTManager
	perDocChars   int
	contextChars  int
}

// NewStreamHandler 创建一个新的 StreamHandler 实例。
func NewStreamHandler(searchService service.SearchService, sellerService service.SellerService, llmClient llm.Client, jwtManager *token.JWTManager, contextChars, perDocChars int) *StreamHandler {
	if contextChars <= 0 {
		contextChars = 6000
	}
	if perDocChars <= 0 {
		perDocChars = 1000
	}
	return &StreamHandler{
		searchService: searchService,
		sellerService: sellerService,
		llmClient:     llmClient,
		jwtManager:    jwtManager,
		contextChars:  contextChars,
		perDocChars:   perDocChars,
	}
}

// Handle 处理一个传入的 WebSocket 连接。token 经 URL 路径传入。
func (h *StreamHandler) Handle(c *gin.Context) {
	tokenString := c.Param("token")
	claims, err := h.jwtManager.VerifyToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	seller, err := h.sellerService.GetByID(claims.SellerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立, seller: %s", seller.ID)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		query := strings.TrimSpace(string(message))
		if query == "" {
			continue
		}

		if err := h.streamAnswer(c, conn, query, seller.AgencyID); err != nil {
			log.Errorf("流式问答失败: %v", err)
			errMsg := map[string]interface{}{
				"type":      "error",
				"message":   "回答生成失败",
				"timestamp": time.Now().UnixMilli(),
			}
			b, _ := json.Marshal(errMsg)
			_ = conn.WriteMessage(websocket.TextMessage, b)
		}
	}
}

// streamAnswer 检索有界上下文并把 LLM 的流式分块直接写入连接。
func (h *StreamHandler) streamAnswer(c *gin.Context, conn *websocket.Conn, query, tenantID string) error {
	results, err := h.searchService.Search(c.Request.Context(), query, tenantID, 8, service.SearchFilter{})
	if err != nil {
		return err
	}

	if len(results) == 0 {
		payload := map[string]interface{}{
			"type":    "answer",
			"content": "I don't have enough information to answer that based on your data.",
		}
		b, _ := json.Marshal(payload)
		return conn.WriteMessage(websocket.TextMessage, b)
	}

	var blocks []string
	total := 0
	var sources []map[string]string
	for _, r := range results {
		if total >= h.contextChars {
			break
		}
		text := r.Text
		if len(text) > h.perDocChars {
			text = text[:h.perDocChars]
		}
		if total+len(text) > h.contextChars {
			text = text[:h.contextChars-total]
		}
		blocks = append(blocks, fmt.Sprintf("[%s] (%s)\n%s", r.ID, r.Type, text))
		sources = append(sources, map[string]string{"id": r.ID, "type": r.Type})
		total += len(text)
	}

	messages := []llm.Message{
		{Role: "system", Content: "You are a helpful assistant answering questions strictly from the supplied context. If the context is insufficient, say so."},
		{Role: "user", Content: fmt.Sprintf("Question: %s\n\nContext:\n%s", query, strings.Join(blocks, "\n---\n"))},
	}

	if err := h.llmClient.StreamChatMessages(c.Request.Context(), messages, nil, conn); err != nil {
		return err
	}

	// 流结束后补发引用列表
	final := map[string]interface{}{
		"type":      "sources",
		"sources":   sources,
		"timestamp": time.Now().UnixMilli(),
	}
	b, _ := json.Marshal(final)
	return conn.WriteMessage(websocket.TextMessage, b)
}
