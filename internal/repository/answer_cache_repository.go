package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"salespulse-go/internal/model"
	"salespulse-go/pkg/log"
)

// AnswerCacheRepository 接口定义了问答结果的短时缓存。
// 缓存键按租户和问题指纹区分，不同租户的相同问题互不可见。
type AnswerCacheRepository interface {
	Get(ctx context.Context, tenantID, question string) (*model.AnswerResponse, bool)
	Set(ctx context.Context, tenantID, question string, resp *model.AnswerResponse)
}

// answerCacheRepository 是 AnswerCacheRepository 接口的 Redis 实现。
type answerCacheRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewAnswerCacheRepository 创建一个新的 AnswerCacheRepository 实例。
func NewAnswerCacheRepository(rdb *redis.Client, ttl time.Duration) AnswerCacheRepository {
	return &answerCacheRepository{rdb: rdb, ttl: ttl}
}

// cacheKey 生成租户隔离的缓存键，问题文本取 SHA-256 指纹避免超长键。
func cacheKey(tenantID, question string) string {
	sum := sha256.Sum256([]byte(question))
	return "answer:cache:" + tenantID + ":" + hex.EncodeToString(sum[:])
}

// Get 读取缓存的问答结果，未命中或反序列化失败都按未命中处理。
func (r *answerCacheRepository) Get(ctx context.Context, tenantID, question string) (*model.AnswerResponse, bool) {
	raw, err := r.rdb.Get(ctx, cacheKey(tenantID, question)).Result()
	if err != nil {
		return nil, false
	}
	var resp model.AnswerResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		log.Warnf("[AnswerCache] 缓存内容反序列化失败, 按未命中处理: %v", err)
		return nil, false
	}
	return &resp, true
}

// Set 写入问答结果。缓存只是加速层，写入失败只记日志不影响主流程。
func (r *answerCacheRepository) Set(ctx context.Context, tenantID, question string, resp *model.AnswerResponse) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := r.rdb.Set(ctx, cacheKey(tenantID, question), raw, r.ttl).Err(); err != nil {
		log.Warnf("[AnswerCache] 写入缓存失败: %v", err)
	}
}
