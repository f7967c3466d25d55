package testutil

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/qs3c/anno_train_server/internal/pkg/queue"
)

// TestQueueName 测试用训练队列名
const TestQueueName = "test_training_jobs"

// SetupTestRedis 启动 miniredis 并返回客户端，测试结束时自动关闭
func SetupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

// SetupTestQueue 基于 miniredis 的训练队列
func SetupTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	return queue.NewQueue(SetupTestRedis(t), TestQueueName)
}
