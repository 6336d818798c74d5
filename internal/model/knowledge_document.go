package model

import "time"

// 知识文档的导入状态
const (
	DocumentStatusProcessing = 0
	DocumentStatusCompleted  = 1
	DocumentStatusFailed     = 2
)

// KnowledgeDocument 对应 knowledge_documents 表，每个导入过的源文件一行，
// 用于让离线导入按文件 MD5 幂等。
type KnowledgeDocument struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	FileMD5    string    `gorm:"type:varchar(32);not null;uniqueIndex:idx_doc_ns" json:"fileMd5"`
	FileName   string    `gorm:"type:varchar(255);not null" json:"fileName"`
	IndexName  string    `gorm:"type:varchar(100);not null" json:"indexName"`
	Namespace  string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_doc_ns" json:"namespace"`
	ChunkCount int       `gorm:"not null;default:0" json:"chunkCount"`
	Status     int       `gorm:"type:tinyint;not null;default:0" json:"status"` // 0: processing, 1: completed, 2: failed
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (KnowledgeDocument) TableName() string {
	return "knowledge_documents"
}

// KnowledgeChunkRecord 对应 knowledge_chunks 表，保存分块文本的关系型副本。
type KnowledgeChunkRecord struct {
	ID           uint   `gorm:"primaryKey;autoIncrement;column:id"`
	ChunkID      string `gorm:"type:varchar(64);not null;uniqueIndex;column:chunk_id"`
	FileMD5      string `gorm:"type:varchar(32);not null;index;column:file_md5"`
	Namespace    string `gorm:"type:varchar(100);not null;column:namespace"`
	Position     int    `gorm:"not null;column:position"`
	TextContent  string `gorm:"type:text;column:text_content"`
	ModelVersion string `gorm:"type:varchar(100);column:model_version"`
}

func (KnowledgeChunkRecord) TableName() string {
	return "knowledge_chunks"
}
