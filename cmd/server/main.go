// Package main 是应用程序的入口点。
package main

import (
	"context"
	"crypto/md5"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tmc/langchaingo/tools"

	"math-agent-go/internal/agent"
	"math-agent-go/internal/config"
	"math-agent-go/internal/guardrail"
	"math-agent-go/internal/handler"
	"math-agent-go/internal/middleware"
	"math-agent-go/internal/pipeline"
	"math-agent-go/internal/repository"
	"math-agent-go/internal/service"
	"math-agent-go/internal/worker"
	"math-agent-go/pkg/database"
	"math-agent-go/pkg/embedding"
	"math-agent-go/pkg/es"
	"math-agent-go/pkg/kafka"
	"math-agent-go/pkg/llm"
	"math-agent-go/pkg/log"
	"math-agent-go/pkg/metrics"
	"math-agent-go/pkg/storage"
	"math-agent-go/pkg/tasks"
	"math-agent-go/pkg/tika"
	"math-agent-go/pkg/websearch"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 1. 初始化配置
	config.Init(*configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()

	// 3. 初始化 Redis 和 Elasticsearch
	if err := database.InitRedis(cfg.Database.Redis); err != nil {
		// 缓存不可用不影响答题
		log.Warnf("Redis 初始化失败，关闭向量缓存: %v", err)
	}
	if err := es.InitES(cfg.Elasticsearch); err != nil {
		log.Fatalf("es 初始化失败: %v", err)
	}

	// 4. 初始化检索与模型客户端
	embeddingClient := embedding.NewClient(cfg.Embedding)
	if database.RDB != nil {
		cacheRepo := repository.NewEmbeddingCacheRepository(database.RDB, cfg.Database.Redis.EmbeddingTTL)
		embeddingClient = embedding.NewCachedClient(embeddingClient, cacheRepo)
	}
	retrievalService := service.NewRetrievalService(embeddingClient, es.ESClient, cfg.Retrieval)

	llmClient, err := llm.NewClient(bgCtx, cfg.LLM)
	if err != nil {
		log.Fatalf("LLM 客户端初始化失败: %v", err)
	}
	fallback := agent.NewDirectCompletion(llmClient)

	// 5. 初始化 Agent 与工具
	var researcher, solver agent.Strategy
	var searchClient *websearch.MCPClient
	if cfg.Agent.Enabled {
		chatModel, err := agent.NewChatModel(cfg.Agent)
		if err != nil {
			log.Warnf("Agent 模型初始化失败，将只使用直接补全: %v", err)
		} else {
			agentTools := []tools.Tool{agent.NewRAGTool(retrievalService)}
			if cfg.WebSearch.Enabled {
				startCtx, cancelStart := context.WithTimeout(bgCtx, 30*time.Second)
				searchClient, err = websearch.StartMCPClient(startCtx, cfg.WebSearch, os.Environ())
				cancelStart()
				if err != nil {
					log.Warnf("联网搜索工具不可用，继续运行: %v", err)
				} else {
					agentTools = append(agentTools, agent.NewWebSearchTool(searchClient))
				}
			}
			toolAgent := agent.NewToolAugmented(chatModel, agentTools, cfg.Agent.MaxIterations)
			researcher = toolAgent
			solver = toolAgent.WithTools(nil)
			log.Infof("Agent 初始化成功, 工具数: %d", len(agentTools))
		}
	}

	guard := guardrail.New()
	tutorService := service.NewTutorService(guard, guard, researcher, solver, fallback)

	// 6. 初始化会话存储与任务队列
	sessionRepo := repository.NewMemorySessionRepository()
	queue := worker.NewQueue(cfg.Session.MaxConcurrentPipelines)
	queue.OnStart = func(string) { metrics.JobsInFlight.Inc() }
	queue.OnFinish = func(string, error) { metrics.JobsInFlight.Dec() }
	chatService := service.NewChatService(sessionRepo, tutorService, queue)

	// 7. 知识库导入：Kafka 消费者与种子目录
	if cfg.Kafka.Enabled || cfg.Ingestion.SeedDir != "" {
		processor, err := newProcessor(bgCtx, cfg)
		if err != nil {
			log.Fatalf("导入管道初始化失败: %v", err)
		}
		if cfg.Kafka.Enabled {
			consumer := kafka.NewConsumer(cfg.Kafka, processor, database.RDB)
			go consumer.Run(bgCtx)
		}
		if cfg.Ingestion.SeedDir != "" {
			go initSeedFiles(bgCtx, cfg.Ingestion.SeedDir, cfg.Retrieval, processor)
		}
	}

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger("/metrics"), gin.Recovery(), middleware.CORS(cfg.Server.AllowedOrigins))

	// 9. 注册路由
	chatHandler := handler.NewChatHandler(chatService)
	watchHandler := handler.NewSessionWatchHandler(chatService, cfg.Server.WatchInterval, cfg.Server.AllowedOrigins)
	handler.RegisterRoutes(r, chatHandler, watchHandler)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// WebSocket 连接不受 Shutdown 管理，先通知它们退出
	watchHandler.Close()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}
	cancelBg()
	if err := queue.Shutdown(ctx); err != nil {
		log.Warnf("后台任务未在超时内结束: %v", err)
	}
	if searchClient != nil {
		if err := searchClient.Close(); err != nil {
			log.Warnf("关闭联网搜索子进程失败: %v", err)
		}
	}
	log.Info("服务已优雅关闭")
}

// newProcessor 组装导入管道，MySQL 未配置或连接失败时不记录台账。
// 启用 Kafka 时源文件由 cmd/ingest 上传到 MinIO，任务只携带对象名，因此必须连上 MinIO。
func newProcessor(ctx context.Context, cfg config.Config) (*pipeline.Processor, error) {
	var objectStore pipeline.ObjectStore
	if cfg.Kafka.Enabled {
		if err := storage.InitMinIO(ctx, cfg.MinIO); err != nil {
			return nil, err
		}
		objectStore = storage.NewStore(storage.MinioClient, cfg.MinIO.BucketName)
	}

	var knowledgeRepo repository.KnowledgeRepository
	if cfg.Database.MySQL.DSN != "" {
		if err := database.InitMySQL(cfg.Database.MySQL.DSN); err != nil {
			log.Warnf("MySQL 初始化失败，导入不记录台账: %v", err)
		} else {
			knowledgeRepo = repository.NewKnowledgeRepository(database.DB)
		}
	}
	return pipeline.NewProcessor(
		tika.NewClient(cfg.Tika),
		objectStore,
		embedding.NewClient(cfg.Embedding),
		es.ESClient,
		knowledgeRepo,
		cfg.Ingestion,
		cfg.Embedding.Dimensions,
	), nil
}

// initSeedFiles 扫描目录下文件并逐个导入（幂等）。
func initSeedFiles(ctx context.Context, dir string, retrievalCfg config.RetrievalConfig, processor *pipeline.Processor) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Infof("initSeedFiles: 目录 '%s' 不存在或不可用，跳过初始化导入", dir)
		return
	}

	walkErr := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		content, err := os.ReadFile(path)
		if err != nil {
			log.Warnf("initSeedFiles: 读取文件失败 %s: %v", path, err)
			return nil
		}
		task := tasks.IngestionTask{
			FileMD5:    fmt.Sprintf("%x", md5.Sum(content)),
			FileName:   d.Name(),
			SourcePath: path,
			IndexName:  retrievalCfg.IndexName,
			Namespace:  retrievalCfg.Namespace,
		}
		res, err := processor.Ingest(ctx, task)
		if err != nil {
			log.Warnf("initSeedFiles: 导入失败 %s: %v", path, err)
			return nil
		}
		log.Infof("initSeedFiles: %s 处理完成, 分块数: %d, 跳过: %v", d.Name(), res.Chunks, res.Skipped)
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, context.Canceled) {
		log.Warnf("initSeedFiles: 遍历目录失败: %v", walkErr)
	}
}
