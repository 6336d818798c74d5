// Package pipeline 定义了知识库离线导入的核心流程。
package pipeline

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"golang.org/x/sync/errgroup"

	"math-agent-go/internal/config"
	"math-agent-go/internal/model"
	"math-agent-go/internal/repository"
	"math-agent-go/pkg/embedding"
	"math-agent-go/pkg/es"
	"math-agent-go/pkg/log"
	"math-agent-go/pkg/metrics"
	"math-agent-go/pkg/tasks"
)

var (
	// ErrEmptyContent 表示源文件或提取出的文本为空。
	ErrEmptyContent = errors.New("source content is empty")
	// ErrNoExtractor 表示非纯文本文件在未配置 Tika 时无法提取文本。
	ErrNoExtractor = errors.New("no text extractor configured for binary documents")
)

// TextExtractor 从二进制文档（PDF 等）中提取纯文本。
type TextExtractor interface {
	ExtractText(ctx context.Context, r io.Reader, fileName string) (string, error)
}

// ObjectStore 读取存放在对象存储中的源文件。
type ObjectStore interface {
	Get(ctx context.Context, objectName string) ([]byte, error)
}

// Result 描述一次导入的结果。
type Result struct {
	FileMD5 string
	Chunks  int
	Skipped bool
}

// Processor 封装了知识库导入的所有依赖和逻辑。
type Processor struct {
	extractor       TextExtractor
	store           ObjectStore
	embeddingClient embedding.Client
	esClient        *elasticsearch.Client
	knowledgeRepo   repository.KnowledgeRepository
	ingestCfg       config.IngestionConfig
	dims            int
}

// NewProcessor 创建一个新的 Processor 实例。
// extractor、store、knowledgeRepo 可以为 nil：分别表示只导入纯文本、只读本地文件、不记录台账。
func NewProcessor(
	extractor TextExtractor,
	store ObjectStore,
	embeddingClient embedding.Client,
	esClient *elasticsearch.Client,
	knowledgeRepo repository.KnowledgeRepository,
	ingestCfg config.IngestionConfig,
	dims int,
) *Processor {
	if ingestCfg.ChunkSize <= 0 {
		ingestCfg.ChunkSize = 1000
	}
	if ingestCfg.ChunkOverlap < 0 || ingestCfg.ChunkOverlap >= ingestCfg.ChunkSize {
		ingestCfg.ChunkOverlap = ingestCfg.ChunkSize / 5
	}
	if ingestCfg.BatchSize <= 0 {
		ingestCfg.BatchSize = 80
	}
	if ingestCfg.Concurrency <= 0 {
		ingestCfg.Concurrency = 1
	}
	return &Processor{
		extractor:       extractor,
		store:           store,
		embeddingClient: embeddingClient,
		esClient:        esClient,
		knowledgeRepo:   knowledgeRepo,
		ingestCfg:       ingestCfg,
		dims:            dims,
	}
}

// Process 执行导入任务，供 Kafka 消费者调用。
func (p *Processor) Process(ctx context.Context, task tasks.IngestionTask) error {
	_, err := p.Ingest(ctx, task)
	return err
}

// Ingest 读取源文件，切块、向量化并写入向量索引。
// 同一文件（按 MD5）在同一命名空间已成功导入过时跳过，除非 task.Force。
func (p *Processor) Ingest(ctx context.Context, task tasks.IngestionTask) (*Result, error) {
	log.Infof("[Processor] 开始导入, FileName: %s, Index: %s, Namespace: %s", task.FileName, task.IndexName, task.Namespace)

	// 1. 读取源文件
	content, err := p.load(ctx, task)
	if err != nil {
		return nil, err
	}
	if len(content) == 0 {
		log.Warnf("[Processor] 文件 '%s' 内容为空, 处理中止", task.FileName)
		return nil, ErrEmptyContent
	}
	fileMD5 := task.FileMD5
	if fileMD5 == "" {
		fileMD5 = fmt.Sprintf("%x", md5.Sum(content))
	}
	result := &Result{FileMD5: fileMD5}

	// 2. 幂等检查
	if p.knowledgeRepo != nil && !task.Force {
		doc, err := p.knowledgeRepo.FindDocument(fileMD5, task.Namespace)
		if err != nil {
			return nil, fmt.Errorf("查询导入记录失败: %w", err)
		}
		if doc != nil && doc.Status == model.DocumentStatusCompleted {
			log.Infof("[Processor] 文件 %s 已导入过 (%d 个分块), 跳过", fileMD5, doc.ChunkCount)
			result.Chunks = doc.ChunkCount
			result.Skipped = true
			return result, nil
		}
	}

	// 3. 提取文本
	text, err := p.extractText(ctx, task.FileName, content)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		log.Warnf("[Processor] 提取的文本内容为空, 处理中止, FileName: %s", task.FileName)
		return nil, ErrEmptyContent
	}
	log.Infof("[Processor] 文本提取成功, 内容长度: %d 字符", utf8.RuneCountInString(text))

	// 4. 文本切块
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(p.ingestCfg.ChunkSize),
		textsplitter.WithChunkOverlap(p.ingestCfg.ChunkOverlap),
	)
	pieces, err := splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("文本分块失败: %w", err)
	}
	if len(pieces) == 0 {
		return nil, ErrEmptyContent
	}
	log.Infof("[Processor] 文本分块完成, chunkSize: %d, chunkOverlap: %d, 共 %d 个分块",
		p.ingestCfg.ChunkSize, p.ingestCfg.ChunkOverlap, len(pieces))

	modelVersion := p.embeddingClient.ModelVersion()
	chunks := make([]model.KnowledgeChunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = model.KnowledgeChunk{
			ChunkID:      fmt.Sprintf("chunk-%d-%s", i, uuid.NewString()),
			Namespace:    task.Namespace,
			Text:         piece,
			Source:       task.FileName,
			FileMD5:      fileMD5,
			ModelVersion: modelVersion,
		}
	}

	// 5. 记录台账
	if err := p.recordChunks(task, fileMD5, chunks); err != nil {
		return nil, err
	}

	// 6. 向量化并写入 Elasticsearch
	if err := p.indexChunks(ctx, task, fileMD5, chunks); err != nil {
		p.markStatus(fileMD5, task.Namespace, model.DocumentStatusFailed, 0)
		return nil, err
	}
	p.markStatus(fileMD5, task.Namespace, model.DocumentStatusCompleted, len(chunks))
	metrics.IngestedChunks.WithLabelValues(task.Namespace).Add(float64(len(chunks)))

	result.Chunks = len(chunks)
	log.Infof("[Processor] 导入完成, FileMD5: %s, 分块数: %d", fileMD5, len(chunks))
	return result, nil
}

func (p *Processor) load(ctx context.Context, task tasks.IngestionTask) ([]byte, error) {
	if task.ObjectName != "" {
		if p.store == nil {
			return nil, fmt.Errorf("object %s requested but no object store configured", task.ObjectName)
		}
		log.Infof("[Processor] 从MinIO下载文件, Object: %s", task.ObjectName)
		return p.store.Get(ctx, task.ObjectName)
	}
	data, err := os.ReadFile(task.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("读取源文件失败: %w", err)
	}
	return data, nil
}

// extractText 纯文本与 Markdown 直接读取，其余格式交给 Tika。
func (p *Processor) extractText(ctx context.Context, fileName string, content []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".txt", ".md", ".markdown":
		return string(content), nil
	}
	if p.extractor == nil {
		return "", ErrNoExtractor
	}
	text, err := p.extractor.ExtractText(ctx, bytes.NewReader(content), fileName)
	if err != nil {
		log.Errorf("[Processor] 使用Tika提取文本失败, FileName: %s, Error: %v", fileName, err)
		return "", fmt.Errorf("使用 Tika 提取文本失败: %w", err)
	}
	return text, nil
}

func (p *Processor) recordChunks(task tasks.IngestionTask, fileMD5 string, chunks []model.KnowledgeChunk) error {
	if p.knowledgeRepo == nil {
		return nil
	}
	if err := p.knowledgeRepo.UpsertDocument(&model.KnowledgeDocument{
		FileMD5:   fileMD5,
		FileName:  task.FileName,
		IndexName: task.IndexName,
		Namespace: task.Namespace,
		Status:    model.DocumentStatusProcessing,
	}); err != nil {
		return fmt.Errorf("保存导入记录失败: %w", err)
	}

	records := make([]*model.KnowledgeChunkRecord, 0, len(chunks))
	for i, c := range chunks {
		records = append(records, &model.KnowledgeChunkRecord{
			ChunkID:      c.ChunkID,
			FileMD5:      fileMD5,
			Namespace:    task.Namespace,
			Position:     i,
			TextContent:  c.Text,
			ModelVersion: c.ModelVersion,
		})
	}
	if err := p.knowledgeRepo.ReplaceChunks(fileMD5, task.Namespace, records); err != nil {
		log.Errorf("[Processor] 批量保存文本分块到数据库失败, Error: %v", err)
		return fmt.Errorf("批量保存文本分块失败: %w", err)
	}
	log.Infof("[Processor] 成功将 %d 个分块存入数据库", len(records))
	return nil
}

// indexChunks 按批向量化并写入索引，批次之间并发执行。
func (p *Processor) indexChunks(ctx context.Context, task tasks.IngestionTask, fileMD5 string, chunks []model.KnowledgeChunk) error {
	if err := es.EnsureIndex(ctx, p.esClient, task.IndexName, p.dims); err != nil {
		return fmt.Errorf("确保索引存在失败: %w", err)
	}
	// 重新导入时先清掉旧分块，分块 ID 每次都会重新生成
	if err := es.DeleteFileChunks(ctx, p.esClient, task.IndexName, task.Namespace, fileMD5); err != nil {
		return fmt.Errorf("清理旧分块失败: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.ingestCfg.Concurrency)
	batchSize := p.ingestCfg.BatchSize
	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Text
			}
			vectors, err := p.embeddingClient.CreateEmbeddings(gctx, texts)
			if err != nil {
				return fmt.Errorf("分块 %d-%d 向量化失败: %w", start, end-1, err)
			}
			if len(vectors) != len(batch) {
				return fmt.Errorf("分块 %d-%d 向量数量不匹配: 期望 %d, 实际 %d", start, end-1, len(batch), len(vectors))
			}
			for i := range batch {
				batch[i].Vector = vectors[i]
			}
			if err := es.IndexChunks(gctx, p.esClient, task.IndexName, batch); err != nil {
				return fmt.Errorf("分块 %d-%d 写入索引失败: %w", start, end-1, err)
			}
			log.Infof("[Processor] 分块 %d-%d 向量化并索引成功", start, end-1)
			return nil
		})
	}
	return g.Wait()
}

func (p *Processor) markStatus(fileMD5, namespace string, status, chunkCount int) {
	if p.knowledgeRepo == nil {
		return
	}
	if err := p.knowledgeRepo.UpdateDocumentStatus(fileMD5, namespace, status, chunkCount); err != nil {
		log.Warnf("[Processor] 更新导入记录状态失败 (file_md5=%s): %v", fileMD5, err)
	}
}
