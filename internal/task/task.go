package task

import (
	"encoding/json"

	"github.com/google/uuid"

	xerrors "TaskBench/internal/errors"
)

// Payload 是基准测试中投递的任务载荷。它不携带任何信息，只代表一个工作单元。
type Payload struct{}

// Execution 描述后端交给处理器的一次任务执行。
type Execution struct {
	ID      string  `json:"id"`
	Attempt int     `json:"attempt"`
	Payload Payload `json:"payload"`
}

// NewExecution 为载荷分配一个新的任务 ID。
func NewExecution(payload Payload) *Execution {
	return &Execution{ID: uuid.NewString(), Attempt: 1, Payload: payload}
}

// Retry 返回下一次尝试使用的执行副本。
func (e *Execution) Retry() *Execution {
	next := *e
	next.Attempt++
	return &next
}

// Encode 把执行编码为队列中保存的消息体。
func (e *Execution) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, xerrors.Wrap(CodeTaskEncoding, err, "编码任务失败")
	}
	return data, nil
}

// DecodeExecution 解析队列中的消息体。
func DecodeExecution(data []byte) (*Execution, error) {
	var exec Execution
	if err := json.Unmarshal(data, &exec); err != nil {
		return nil, xerrors.Wrap(CodeTaskEncoding, err, "解析任务失败")
	}
	if exec.ID == "" {
		return nil, xerrors.New(CodeTaskEncoding, "任务缺少 ID")
	}
	if exec.Attempt <= 0 {
		exec.Attempt = 1
	}
	return &exec, nil
}

const (
	CodeQueueClosed  xerrors.Code = "QUEUE_CLOSED"
	CodeTaskEncoding xerrors.Code = "TASK_ENCODING_FAILED"
)

var (
	// ErrQueueClosed 表示队列已经关闭，不再接受或投递任务。
	ErrQueueClosed = xerrors.New(CodeQueueClosed, "queue closed")
)

func init() {
	xerrors.Register(CodeQueueClosed, xerrors.Attributes{
		Message:  "queue closed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskEncoding, xerrors.Attributes{
		Message:  "task encoding failed",
		Severity: xerrors.SeverityWarning,
	})
}
