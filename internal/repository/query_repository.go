package repository

import (
	"context"
	"database/sql"
	"time"

	"gorm.io/gorm"

	"salespulse-go/internal/sqlguard"
)

// queryRepository 是 sqlguard.Executor 的 GORM 实现。
// 语句以命名参数形式在独立事务中执行，任何错误都触发回滚，绝不落库。
type queryRepository struct {
	db *gorm.DB
}

// NewQueryRepository 创建一个新的受控查询执行器。
func NewQueryRepository(db *gorm.DB) sqlguard.Executor {
	return &queryRepository{db: db}
}

// Query 执行一条已通过校验和改写的只读语句，返回行集。
func (r *queryRepository) Query(ctx context.Context, sqlText string, params sqlguard.Params) ([]map[string]interface{}, error) {
	args := []interface{}{
		sql.Named("tenant_id", params.TenantID),
	}
	if params.Start != nil {
		args = append(args, sql.Named("start", params.Start.Format("2006-01-02 15:04:05")))
	} else {
		args = append(args, sql.Named("start", time.Time{}.Format("2006-01-02 15:04:05")))
	}
	if params.End != nil {
		args = append(args, sql.Named("end", params.End.Format("2006-01-02 15:04:05")))
	} else {
		args = append(args, sql.Named("end", time.Now().Format("2006-01-02 15:04:05")))
	}

	var rows []map[string]interface{}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Raw(sqlText, args...).Scan(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}
