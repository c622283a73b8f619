package task

import (
	"context"
	"sync"
)

// MemoryQueue 是进程内的无界队列，适合作为基准的参照组以及测试。
// Push 从不因积压而阻塞，写入测量只衡量入队本身的开销。
type MemoryQueue struct {
	mu        sync.Mutex
	items     []*Execution
	ready     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryQueue 创建一个内存队列，size 仅作为初始容量提示。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{
		items: make([]*Execution, 0, size),
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Name 返回后端名称。
func (q *MemoryQueue) Name() string {
	return "memory"
}

// Push 将任务追加到队尾。队列关闭或 ctx 已结束时返回错误。
func (q *MemoryQueue) Push(ctx context.Context, payload Payload) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	q.items = append(q.items, NewExecution(payload))
	q.mu.Unlock()
	q.notify()
	return nil
}

func (q *MemoryQueue) notify() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) pop() (*Execution, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	exec := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) > 0 {
		// 还有积压，唤醒下一个空闲的工作协程。
		q.notify()
	}
	return exec, true
}

// Consume 启动指定数量的工作协程消费队列中的任务。
// 队列关闭后返回 nil。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if ctx.Err() != nil {
					return
				}
				if exec, ok := q.pop(); ok {
					// 内存队列不做重试，失败的任务直接丢弃。
					_ = handler.Handle(ctx, exec)
					continue
				}
				select {
				case <-ctx.Done():
					return
				case <-q.done:
					return
				case <-q.ready:
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Reset 丢弃所有尚未被消费的任务。
func (q *MemoryQueue) Reset(context.Context) error {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
	return nil
}

// Len 返回当前积压的任务数量。
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close 关闭内存队列，正在运行的 Consume 会随之返回。
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() {
		close(q.done)
	})
	return nil
}
