// Package repository はデータアクセス層の実装を提供する。
package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"salon-gateway/internal/domain"
)

// DecryptBatchModel はgorm用のモデル定義。平文の値は保存しない。
type DecryptBatchModel struct {
	ID             string    `gorm:"type:char(36);primaryKey"`
	ChainID        uint64    `gorm:"not null;index:idx_decrypt_batches_chain_created"`
	Category       string    `gorm:"type:varchar(128);not null"`
	Requested      int       `gorm:"not null"`
	SucceededCount int       `gorm:"not null"`
	Status         string    `gorm:"type:varchar(16);not null"`
	Message        string    `gorm:"type:varchar(512);not null;default:''"`
	Generation     uint64    `gorm:"not null;default:0"`
	CreatedAt      time.Time `gorm:"type:datetime(6);not null;autoCreateTime;index:idx_decrypt_batches_chain_created"`
}

// TableName はテーブル名を返す。
func (DecryptBatchModel) TableName() string {
	return "decrypt_batches"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *DecryptBatchModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

func (m *DecryptBatchModel) toDomain() *domain.DecryptBatch {
	return &domain.DecryptBatch{
		ID:             m.ID,
		ChainID:        m.ChainID,
		Category:       m.Category,
		Requested:      m.Requested,
		SucceededCount: m.SucceededCount,
		Status:         domain.BatchStatus(m.Status),
		Message:        m.Message,
		Generation:     m.Generation,
		CreatedAt:      m.CreatedAt,
	}
}

// BatchRepository は復号バッチ履歴のデータアクセスを提供する。
type BatchRepository struct {
	db *gorm.DB
}

// NewBatchRepository は新しいBatchRepositoryを生成する。
func NewBatchRepository(db *gorm.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// Create はバッチ履歴を保存する。IDが空の場合は採番する。
func (r *BatchRepository) Create(ctx context.Context, b *domain.DecryptBatch) error {
	model := &DecryptBatchModel{
		ID:             b.ID,
		ChainID:        b.ChainID,
		Category:       b.Category,
		Requested:      b.Requested,
		SucceededCount: b.SucceededCount,
		Status:         string(b.Status),
		Message:        b.Message,
		Generation:     b.Generation,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		slog.ErrorContext(ctx, "failed to create decrypt batch",
			"operation", "create_batch",
			"chain_id", b.ChainID,
			"category", b.Category,
			"error", err,
		)
		return err
	}
	b.ID = model.ID
	b.CreatedAt = model.CreatedAt
	return nil
}

// FindByID はIDのバッチ履歴を返す。存在しない場合はnilを返す。
func (r *BatchRepository) FindByID(ctx context.Context, id string) (*domain.DecryptBatch, error) {
	var model DecryptBatchModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find decrypt batch",
			"operation", "find_batch",
			"id", id,
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// ListRecent は新しい順にlimit件のバッチ履歴を返す。
func (r *BatchRepository) ListRecent(ctx context.Context, limit int) ([]*domain.DecryptBatch, error) {
	var models []DecryptBatchModel
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to list decrypt batches",
			"operation", "list_batches",
			"limit", limit,
			"error", err,
		)
		return nil, err
	}

	batches := make([]*domain.DecryptBatch, len(models))
	for i := range models {
		batches[i] = models[i].toDomain()
	}
	return batches, nil
}
