package database

import (
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"salespulse-go/pkg/log"
)

var DB *gorm.DB

// InitMySQL 初始化 MySQL 连接。
// DSN 需携带 parseTime=true，否则 meetings/app_calls 的时间列无法扫描进 time.Time。
func InitMySQL(dsn string) {
	var err error
	DB, err = gorm.Open(mysql.Open(dsn), &gorm.Config{
		// 聚合查询由仓储层自行记录日志，GORM 只在出错时输出
		Logger: logger.Default.LogMode(logger.Error),
	})
	if err != nil {
		log.Fatal("[MySQL] 连接数据库失败", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		log.Fatal("[MySQL] 获取底层 sql.DB 失败", err)
	}

	// 连接池以分析聚合与受控 SQL 的并发只读查询为主要负载
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Info("[MySQL] 数据库连接成功")
}
