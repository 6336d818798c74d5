// Package main 是知识库离线导入工具的入口：把教材等源文件切块、向量化后写入向量索引。
package main

import (
	"context"
	"crypto/md5"
	"flag"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"math-agent-go/internal/config"
	"math-agent-go/internal/pipeline"
	"math-agent-go/internal/repository"
	"math-agent-go/pkg/database"
	"math-agent-go/pkg/embedding"
	"math-agent-go/pkg/es"
	"math-agent-go/pkg/kafka"
	"math-agent-go/pkg/log"
	"math-agent-go/pkg/storage"
	"math-agent-go/pkg/tasks"
	"math-agent-go/pkg/tika"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	file := flag.String("file", "data/mathbook.pdf", "要导入的源文件")
	indexName := flag.String("index", "", "目标索引，默认取 retrieval.index_name")
	namespace := flag.String("namespace", "", "目标命名空间，默认取 retrieval.namespace")
	force := flag.Bool("force", false, "忽略导入台账，强制重新导入")
	upload := flag.Bool("upload", false, "先把源文件上传到 MinIO")
	publish := flag.Bool("publish", false, "只把导入任务投递到 Kafka，由服务端消费")
	flag.Parse()

	config.Init(*configPath)
	cfg := config.Conf
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *file, *indexName, *namespace, *force, *upload, *publish); err != nil {
		log.Errorf("导入失败: %v", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, file, indexName, namespace string, force, upload, publish bool) error {
	if indexName == "" {
		indexName = cfg.Retrieval.IndexName
	}
	if namespace == "" {
		namespace = cfg.Retrieval.Namespace
	}

	content, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("读取源文件失败: %w", err)
	}
	absPath, err := filepath.Abs(file)
	if err != nil {
		return err
	}
	task := tasks.IngestionTask{
		FileMD5:    fmt.Sprintf("%x", md5.Sum(content)),
		FileName:   filepath.Base(file),
		SourcePath: absPath,
		IndexName:  indexName,
		Namespace:  namespace,
		Force:      force,
	}

	var store *storage.Store
	if upload || publish {
		if err := storage.InitMinIO(ctx, cfg.MinIO); err != nil {
			return err
		}
		store = storage.NewStore(storage.MinioClient, cfg.MinIO.BucketName)
		task.ObjectName = storage.ObjectName(task.FileMD5, task.FileName)
		if err := store.Put(ctx, task.ObjectName, content, mime.TypeByExtension(filepath.Ext(file))); err != nil {
			return err
		}
	}

	if publish {
		producer := kafka.NewProducer(cfg.Kafka)
		defer producer.Close()
		if err := producer.ProduceIngestionTask(ctx, task); err != nil {
			return fmt.Errorf("投递导入任务失败: %w", err)
		}
		log.Infof("导入任务已投递到 Kafka, topic: %s, MD5: %s", cfg.Kafka.Topic, task.FileMD5)
		return nil
	}

	if err := es.InitES(cfg.Elasticsearch); err != nil {
		return err
	}
	var knowledgeRepo repository.KnowledgeRepository
	if cfg.Database.MySQL.DSN != "" {
		if err := database.InitMySQL(cfg.Database.MySQL.DSN); err != nil {
			return err
		}
		knowledgeRepo = repository.NewKnowledgeRepository(database.DB)
	} else {
		log.Warnf("未配置 MySQL，导入不记录台账")
	}

	var objectStore pipeline.ObjectStore
	if store != nil {
		objectStore = store
	}
	processor := pipeline.NewProcessor(
		tika.NewClient(cfg.Tika),
		objectStore,
		embedding.NewClient(cfg.Embedding),
		es.ESClient,
		knowledgeRepo,
		cfg.Ingestion,
		cfg.Embedding.Dimensions,
	)
	res, err := processor.Ingest(ctx, task)
	if err != nil {
		return err
	}
	if res.Skipped {
		fmt.Printf("%s already ingested into %s/%s (%d chunks), use -force to re-ingest\n", task.FileName, indexName, namespace, res.Chunks)
		return nil
	}
	fmt.Printf("ingested %s into %s/%s: %d chunks\n", task.FileName, indexName, namespace, res.Chunks)
	return nil
}
