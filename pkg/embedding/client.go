// Package embedding provides a client for interacting with embedding models.
package embedding

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"salespulse-go/internal/config"
	"salespulse-go/pkg/log"
)

// Client defines the interface for an embedding client.
type Client interface {
	// EmbedTexts 批量向量化文本，返回与输入等长且顺序一致的向量列表。
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

type openAICompatibleClient struct {
	cfg    config.EmbeddingConfig
	client *http.Client
}

// NewClient creates a new embedding client based on the provider in the config.
func NewClient(cfg config.EmbeddingConfig) Client {
	return &openAICompatibleClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// EmbedTexts 调用 OpenAI 兼容接口批量获取向量。
// 按固定批次大小顺序请求，保证输出顺序与输入一致；远端失败且降级开关开启时
// 回退到确定性伪向量，保证离线/测试环境链路可用。
func (c *openAICompatibleClient) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	batchSize := c.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 64
	}

	out := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := c.embedBatch(ctx, texts[i:end])
		if err != nil {
			if c.cfg.FallbackEnabled {
				log.Warnf("[EmbeddingClient] Embedding API 调用失败, 启用确定性降级向量: %v", err)
				return c.fallbackVectors(texts), nil
			}
			return nil, err
		}
		out = append(out, vectors...)
	}

	if len(out) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: %d texts vs %d vectors", len(texts), len(out))
	}
	return out, nil
}

func (c *openAICompatibleClient) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	log.Infof("[EmbeddingClient] 开始调用 Embedding API, model: %s, batch: %d", c.cfg.Model, len(texts))
	reqBody := embeddingRequest{
		Model:      c.cfg.Model,
		Input:      texts,
		Dimensions: c.cfg.Dimensions,
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/embeddings", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		log.Errorf("[EmbeddingClient] 调用 Embedding API 失败, error: %v", err)
		return nil, fmt.Errorf("failed to call embedding api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Errorf("[EmbeddingClient] Embedding API 返回非 200 状态码: %s", resp.Status)
		return nil, fmt.Errorf("embedding api returned non-200 status: %s", resp.Status)
	}

	var embeddingResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingResp); err != nil {
		log.Errorf("[EmbeddingClient] 解析 Embedding API 响应失败, error: %v", err)
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}

	if len(embeddingResp.Data) != len(texts) {
		log.Warnf("[EmbeddingClient] Embedding API 返回数量不匹配: %d 输入 vs %d 向量", len(texts), len(embeddingResp.Data))
		return nil, fmt.Errorf("embedding api returned %d vectors for %d inputs", len(embeddingResp.Data), len(texts))
	}

	vectors := make([][]float32, 0, len(embeddingResp.Data))
	for _, d := range embeddingResp.Data {
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("received empty embedding from api")
		}
		vectors = append(vectors, d.Embedding)
	}
	return vectors, nil
}

func (c *openAICompatibleClient) fallbackVectors(texts []string) [][]float32 {
	dims := c.cfg.Dimensions
	if dims <= 0 {
		dims = 1536
	}
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		out = append(out, FallbackVector(t, dims))
	}
	return out
}

// FallbackVector 从 SHA-256 摘要生成确定性伪向量并做 L2 归一化。
// 同一文本永远映射到同一向量，足以支撑降级模式下的往返检索。
func FallbackVector(text string, dims int) []float32 {
	digest := sha256.Sum256([]byte(text))
	vals := make([]float64, dims)
	var norm float64
	for i := 0; i < dims; i++ {
		b := digest[i%len(digest)]
		v := float64(b)/255.0 - 0.5
		vals[i] = v
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		norm = 1
	}
	out := make([]float32, dims)
	for i, v := range vals {
		out[i] = float32(v / norm)
	}
	return out
}
