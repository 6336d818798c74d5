// Package tasks 定义了通过 Kafka 传递的任务结构。
package tasks

// IngestionTask 表示一次知识库导入任务。
// ObjectName 非空时从 MinIO 读取源文件，否则读取本地 SourcePath。
type IngestionTask struct {
	FileMD5    string `json:"file_md5"`
	FileName   string `json:"file_name"`
	ObjectName string `json:"object_name,omitempty"`
	SourcePath string `json:"source_path,omitempty"`
	IndexName  string `json:"index_name"`
	Namespace  string `json:"namespace"`
	Force      bool   `json:"force"`
}
