package model

// KnowledgeChunk 定义了存储在 Elasticsearch 向量索引中的知识分块。
// 导入时生成一次，之后不再修改。
type KnowledgeChunk struct {
	ChunkID      string    `json:"chunk_id"` // 形如 chunk-{序号}-{uuid}
	Namespace    string    `json:"namespace"`
	Text         string    `json:"text"`
	Vector       []float32 `json:"vector"` // 文本内容的向量表示
	Source       string    `json:"source"`
	FileMD5      string    `json:"file_md5"`
	ModelVersion string    `json:"model_version"`
}

// KnowledgeHit 是一次向量检索命中的结果。
type KnowledgeHit struct {
	ChunkID string  `json:"chunk_id"`
	Text    string  `json:"text"`
	Score   float64 `json:"score"`
}
