package service

import (
	"context"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"

	"math-agent-go/internal/config"
	"math-agent-go/pkg/embedding"
	"math-agent-go/pkg/es"
	"math-agent-go/pkg/log"
	"math-agent-go/pkg/metrics"
)

// RetrievalService 从向量知识库中检索与查询相关的文本片段。
type RetrievalService interface {
	// Retrieve 按相关度降序返回最多 TopK 条片段。任何失败都只记录日志并返回空切片。
	Retrieve(ctx context.Context, query string) []string
}

type retrievalService struct {
	embeddingClient embedding.Client
	esClient        *elasticsearch.Client
	cfg             config.RetrievalConfig
}

// NewRetrievalService 创建一个新的 RetrievalService 实例。
func NewRetrievalService(embeddingClient embedding.Client, esClient *elasticsearch.Client, cfg config.RetrievalConfig) RetrievalService {
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	return &retrievalService{
		embeddingClient: embeddingClient,
		esClient:        esClient,
		cfg:             cfg,
	}
}

func (s *retrievalService) Retrieve(ctx context.Context, query string) []string {
	query = strings.TrimSpace(query)
	if query == "" {
		return []string{}
	}
	log.Infof("[RetrievalService] 开始检索知识库, query: '%s', index: %s, namespace: %s", query, s.cfg.IndexName, s.cfg.Namespace)

	// 1. 向量化查询
	vector, err := s.embeddingClient.CreateEmbedding(ctx, query)
	if err != nil {
		log.Errorf("[RetrievalService] 向量化查询失败: %v", err)
		metrics.RetrievalErrors.WithLabelValues("embedding").Inc()
		return []string{}
	}

	// 2. kNN 检索
	hits, err := es.KNNSearch(ctx, s.esClient, s.cfg.IndexName, s.cfg.Namespace, vector, s.cfg.TopK, s.cfg.NumCandidates)
	if err != nil {
		log.Errorf("[RetrievalService] Elasticsearch 检索失败: %v", err)
		metrics.RetrievalErrors.WithLabelValues("search").Inc()
		return []string{}
	}

	snippets := make([]string, 0, len(hits))
	for _, h := range hits {
		if h.Text == "" {
			continue
		}
		snippets = append(snippets, h.Text)
		if len(snippets) == s.cfg.TopK {
			break
		}
	}
	metrics.RetrievalHits.Observe(float64(len(snippets)))
	log.Infof("[RetrievalService] 检索完成, 命中 %d 条", len(snippets))
	return snippets
}
