// Package kafka 提供了与 Kafka 消息队列交互的功能，用于投递和消费知识库导入任务。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"math-agent-go/internal/config"
	"math-agent-go/pkg/log"
	"math-agent-go/pkg/tasks"
)

// maxAttempts 是同一文件导入失败后放弃重试前的最大次数。
const maxAttempts = 3

// TaskProcessor 定义了能够处理导入任务的服务。
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.IngestionTask) error
}

func brokers(cfg config.KafkaConfig) []string {
	var out []string
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Producer 投递导入任务。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 创建 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	return &Producer{writer: &kafka.Writer{
		Addr:     kafka.TCP(brokers(cfg)...),
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{},
	}}
}

// ProduceIngestionTask 发送一个导入任务，以文件 MD5 作为消息 key，同一文件落在同一分区。
func (p *Producer) ProduceIngestionTask(ctx context.Context, task tasks.IngestionTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.FileMD5),
		Value: taskBytes,
	})
}

// Close 关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// messageReader 是 Consumer 用到的 kafka.Reader 方法子集。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer 消费导入任务并交给 TaskProcessor 处理。
// 失败的任务在进程内重试，累计失败次数记在 Redis 中，达到上限后提交 offset 放弃该消息。
type Consumer struct {
	reader    messageReader
	topic     string
	processor TaskProcessor
	rdb       *redis.Client
	backoff   time.Duration
}

// NewConsumer 创建消费者。rdb 为 nil 时只在本进程内计数。
func NewConsumer(cfg config.KafkaConfig, processor TaskProcessor, rdb *redis.Client) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: r, topic: cfg.Topic, processor: processor, rdb: rdb, backoff: 2 * time.Second}
}

// Run 循环拉取消息直到 ctx 取消。
func (c *Consumer) Run(ctx context.Context) {
	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", c.topic)
	defer func() {
		if err := c.reader.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Info("Kafka 消费者已停止")
				return
			}
			log.Errorf("从 Kafka 读取消息失败: %v", err)
			return
		}
		log.Infof("收到 Kafka 消息: offset %d", m.Offset)
		c.handle(ctx, m)
	}
}

// handle 处理一条消息。group reader 不会重新投递未提交的消息，所以失败重试在这里完成，
// 处理结束后（成功或放弃）才提交 offset。
func (c *Consumer) handle(ctx context.Context, m kafka.Message) {
	var task tasks.IngestionTask
	if err := json.Unmarshal(m.Value, &task); err != nil {
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		// 消息格式错误，直接提交，避免阻塞队列
		c.commit(ctx, m)
		return
	}

	log.Infof("开始处理导入任务: MD5=%s, FileName=%s", task.FileMD5, task.FileName)
	for attempt := 1; ; attempt++ {
		err := c.processor.Process(ctx, task)
		if err == nil {
			break
		}
		log.Errorf("处理导入任务失败: MD5=%s, 第 %d 次, Error: %v", task.FileMD5, attempt, err)
		if ctx.Err() != nil {
			// 停机中不提交，重启后由 Kafka 重新投递
			return
		}
		if !c.shouldRetry(ctx, task.FileMD5, attempt) {
			log.Errorf("导入任务多次失败(>=%d)，提交 offset 终止重试: MD5=%s", maxAttempts, task.FileMD5)
			c.commit(ctx, m)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.backoff):
		}
	}

	log.Infof("导入任务处理成功: MD5=%s", task.FileMD5)
	if c.rdb != nil {
		_ = c.rdb.Del(ctx, attemptsKey(task.FileMD5)).Err()
	}
	c.commit(ctx, m)
}

// shouldRetry 记录一次失败并判断是否继续重试。
// 有 Redis 时按累计次数判断（跨重启保留），否则或 Redis 异常时按本次处理的尝试次数判断。
func (c *Consumer) shouldRetry(ctx context.Context, fileMD5 string, attempt int) bool {
	if c.rdb != nil {
		key := attemptsKey(fileMD5)
		attempts, err := c.rdb.Incr(ctx, key).Result()
		if err == nil {
			_ = c.rdb.Expire(ctx, key, 24*time.Hour).Err()
			return attempts < maxAttempts
		}
		log.Warnf("记录导入失败次数失败: %v", err)
	}
	return attempt < maxAttempts
}

func (c *Consumer) commit(ctx context.Context, m kafka.Message) {
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}

func attemptsKey(fileMD5 string) string {
	return fmt.Sprintf("kafka:ingest:attempts:%s", fileMD5)
}
