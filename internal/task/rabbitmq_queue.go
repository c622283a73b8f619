package task

import (
	"context"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "TaskBench/internal/errors"
)

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string
	Queue      string
	Prefetch   int
	Durable    bool
	AutoDelete bool
}

// RabbitMQQueue 使用 RabbitMQ 实现任务队列。
type RabbitMQQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewRabbitMQQueue 创建 RabbitMQ 队列实例。
func NewRabbitMQQueue(cfg RabbitMQConfig) (*RabbitMQQueue, error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidConfig, "RabbitMQ URL 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "taskbench.tasks"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeBackendUnavailable, err, "连接 RabbitMQ 失败")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeBackendUnavailable, err, "创建 RabbitMQ channel 失败")
	}
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return nil, xerrors.Wrap(xerrors.CodeBackendUnavailable, err, "设置 RabbitMQ QOS 失败")
		}
	}
	_, err = ch.QueueDeclare(queue, cfg.Durable, cfg.AutoDelete, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeBackendUnavailable, err, "声明 RabbitMQ 队列失败")
	}
	return &RabbitMQQueue{conn: conn, ch: ch, queue: queue}, nil
}

// Name 返回后端名称。
func (q *RabbitMQQueue) Name() string {
	return "rabbitmq"
}

// Push 将任务投递到 RabbitMQ。
func (q *RabbitMQQueue) Push(ctx context.Context, payload Payload) error {
	if q == nil || q.ch == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "RabbitMQ 队列未初始化")
	}
	body, err := NewExecution(payload).Encode()
	if err != nil {
		return err
	}
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeSinkFailure, err, "RabbitMQ 发布任务失败")
	}
	return nil
}

// Consume 使用手动确认模式消费 RabbitMQ 队列。
// 每次调用使用独立的 consumer tag，返回前取消订阅。
func (q *RabbitMQQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.ch == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "RabbitMQ 队列未初始化")
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	tag := "taskbench-" + uuid.NewString()
	msgs, err := q.ch.Consume(q.queue, tag, false, false, false, false, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeSourceFailure, err, "订阅 RabbitMQ 队列失败")
	}
	defer func() {
		_ = q.ch.Cancel(tag, false)
	}()

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-msgs:
					if !ok {
						return
					}
					exec, err := DecodeExecution(msg.Body)
					if err != nil {
						_ = msg.Reject(false)
						continue
					}
					// 失败的任务同样确认，RabbitMQ 后端不做重试。
					_ = handler.Handle(ctx, exec)
					_ = msg.Ack(false)
				}
			}
		}()
	}

	wg.Wait()
	return ctx.Err()
}

// Reset 清空队列中所有就绪的消息。
func (q *RabbitMQQueue) Reset(context.Context) error {
	if q == nil || q.ch == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "RabbitMQ 队列未初始化")
	}
	if _, err := q.ch.QueuePurge(q.queue, false); err != nil {
		return xerrors.Wrap(xerrors.CodeResetFailure, err, "清空 RabbitMQ 队列失败")
	}
	return nil
}

// Close 关闭 RabbitMQ 连接。
func (q *RabbitMQQueue) Close() error {
	if q == nil {
		return nil
	}
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
