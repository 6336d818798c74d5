// Package metrics 定义服务暴露给 Prometheus 的指标。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionsCreated 统计新建会话数
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "math_agent_sessions_created_total",
		Help: "Total chat sessions created",
	})

	// StageOutcomes 按阶段、执行策略和结果统计
	StageOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "math_agent_stage_outcomes_total",
		Help: "Research/solve/revise outcomes by stage, strategy and result",
	}, []string{"stage", "strategy", "result"})

	// StageDuration 记录每个阶段的耗时
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "math_agent_stage_duration_seconds",
		Help:    "Stage duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 0.25s to ~2m
	}, []string{"stage"})

	// FeedbackDecisions 统计用户反馈被判定为通过还是修订
	FeedbackDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "math_agent_feedback_decisions_total",
		Help: "Human feedback decisions by outcome",
	}, []string{"decision"})

	// RetrievalHits 记录每次知识库检索返回的片段数
	RetrievalHits = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "math_agent_retrieval_hits",
		Help:    "Snippets returned per knowledge base retrieval",
		Buckets: []float64{0, 1, 2, 3, 5, 10},
	})

	// RetrievalErrors 按失败环节统计检索错误
	RetrievalErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "math_agent_retrieval_errors_total",
		Help: "Knowledge base retrieval errors by step",
	}, []string{"step"})

	// JobsInFlight 是当前正在执行的会话任务数
	JobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "math_agent_jobs_in_flight",
		Help: "Session jobs currently running",
	})

	// IngestedChunks 统计写入索引的分块数
	IngestedChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "math_agent_ingested_chunks_total",
		Help: "Knowledge chunks written to the vector index by namespace",
	}, []string{"namespace"})
)

// Handler 返回 /metrics 的 HTTP 处理器。
func Handler() http.Handler {
	return promhttp.Handler()
}
