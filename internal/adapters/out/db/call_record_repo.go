package db

import (
	"context"

	"gorm.io/gorm"

	"github.com/albin6/social-realtime/internal/domain/entity"
	"github.com/albin6/social-realtime/internal/ports/out"
)

// 确保实现接口
var _ out.CallRecordRepository = (*CallRecordRepositoryMySQL)(nil)

// CallRecordRepositoryMySQL 通话归档MySQL实现
type CallRecordRepositoryMySQL struct {
	db *gorm.DB
}

// NewCallRecordRepositoryMySQL 创建仓储并确保表结构
func NewCallRecordRepositoryMySQL(db *gorm.DB) (*CallRecordRepositoryMySQL, error) {
	if err := db.AutoMigrate(&entity.CallRecord{}); err != nil {
		return nil, err
	}
	return &CallRecordRepositoryMySQL{db: db}, nil
}

// Save 保存归档记录，callID冲突时忽略重复写入
func (r *CallRecordRepositoryMySQL) Save(ctx context.Context, record *entity.CallRecord) error {
	result := r.db.WithContext(ctx).Create(record)
	if result.Error == gorm.ErrDuplicatedKey {
		return nil
	}
	return result.Error
}

// ListByUser 查询用户最近的通话记录，按结束时间倒序
func (r *CallRecordRepositoryMySQL) ListByUser(ctx context.Context, userID string, limit int) ([]*entity.CallRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	var records []*entity.CallRecord
	err := r.db.WithContext(ctx).
		Where("caller_id = ? OR callee_id = ?", userID, userID).
		Order("ended_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
