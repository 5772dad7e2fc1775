package database

import (
	"context"

	"github.com/go-redis/redis/v8"

	"salespulse-go/pkg/log"
)

var RDB *redis.Client

// InitRedis 初始化 Redis 客户端。
// 这里承载两类数据：问答结果缓存（带 TTL），以及索引任务消费失败计数。
func InitRedis(addr, password string, db int) {
	RDB = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := RDB.Ping(ctx).Err(); err != nil {
		log.Fatal("[Redis] 连接失败", err)
	}

	log.Info("[Redis] 客户端连接成功")
}
