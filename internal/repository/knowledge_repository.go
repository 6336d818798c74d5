package repository

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"math-agent-go/internal/model"
)

// KnowledgeRepository 定义了离线导入台账（knowledge_documents / knowledge_chunks）的数据操作接口。
type KnowledgeRepository interface {
	// FindDocument 查找某文件在某命名空间下的导入记录，不存在时返回 (nil, nil)。
	FindDocument(fileMD5, namespace string) (*model.KnowledgeDocument, error)
	// UpsertDocument 按 (file_md5, namespace) 创建或覆盖导入记录。
	UpsertDocument(doc *model.KnowledgeDocument) error
	UpdateDocumentStatus(fileMD5, namespace string, status, chunkCount int) error
	// ReplaceChunks 在一个事务内删除旧分块并写入新分块。
	ReplaceChunks(fileMD5, namespace string, chunks []*model.KnowledgeChunkRecord) error
	FindChunks(fileMD5, namespace string) ([]*model.KnowledgeChunkRecord, error)
}

type knowledgeRepository struct {
	db *gorm.DB
}

// NewKnowledgeRepository 创建一个新的 KnowledgeRepository 实例。
func NewKnowledgeRepository(db *gorm.DB) KnowledgeRepository {
	return &knowledgeRepository{db: db}
}

func (r *knowledgeRepository) FindDocument(fileMD5, namespace string) (*model.KnowledgeDocument, error) {
	var doc model.KnowledgeDocument
	err := r.db.Where("file_md5 = ? AND namespace = ?", fileMD5, namespace).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *knowledgeRepository) UpsertDocument(doc *model.KnowledgeDocument) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "file_md5"}, {Name: "namespace"}},
		DoUpdates: clause.AssignmentColumns([]string{"file_name", "index_name", "chunk_count", "status", "updated_at"}),
	}).Create(doc).Error
}

func (r *knowledgeRepository) UpdateDocumentStatus(fileMD5, namespace string, status, chunkCount int) error {
	return r.db.Model(&model.KnowledgeDocument{}).
		Where("file_md5 = ? AND namespace = ?", fileMD5, namespace).
		Updates(map[string]interface{}{"status": status, "chunk_count": chunkCount}).Error
}

func (r *knowledgeRepository) ReplaceChunks(fileMD5, namespace string, chunks []*model.KnowledgeChunkRecord) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("file_md5 = ? AND namespace = ?", fileMD5, namespace).
			Delete(&model.KnowledgeChunkRecord{}).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		return tx.CreateInBatches(chunks, 100).Error // 每100条记录一批
	})
}

func (r *knowledgeRepository) FindChunks(fileMD5, namespace string) ([]*model.KnowledgeChunkRecord, error) {
	var chunks []*model.KnowledgeChunkRecord
	err := r.db.Where("file_md5 = ? AND namespace = ?", fileMD5, namespace).
		Order("position asc").Find(&chunks).Error
	return chunks, err
}
