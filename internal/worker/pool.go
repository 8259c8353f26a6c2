// Package worker 提供响应发送后异步任务使用的有界协程池。
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	xerrors "github.com/SoftInstigate/restheart-sub016/internal/errors"
	"github.com/SoftInstigate/restheart-sub016/pkg/logger"
)

// Task 是提交到协程池的工作单元。
type Task func(ctx context.Context)

// Pool 使用带缓冲 channel 排队任务，并由固定数量的协程消费。
type Pool struct {
	workers int
	tasks   chan Task
	log     *slog.Logger

	mu      sync.RWMutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option 定义可选配置。
type Option func(*Pool)

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithQueueSize 设置排队任务上限。
func WithQueueSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.tasks = make(chan Task, n)
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.log = l
		}
	}
}

// New 创建协程池，默认 4 个协程、队列长度 256。
func New(opts ...Option) *Pool {
	p := &Pool{workers: 4, tasks: make(chan Task, 256)}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.log == nil {
		p.log = logger.Named("worker")
	}
	return p
}

// Start 启动消费协程。ctx 只控制协程生命周期，任务收到的 ctx 不随请求取消。
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.loop(runCtx, i)
	}
	p.log.Debug("协程池已启动", slog.Int("workers", p.workers), slog.Int("queue", cap(p.tasks)))
}

func (p *Pool) loop(ctx context.Context, id int) {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(ctx, id, task)
	}
}

func (p *Pool) run(ctx context.Context, id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("异步任务崩溃", slog.Int("worker", id), slog.Any("panic", r))
		}
	}()
	task(ctx)
}

// Submit 非阻塞地投递任务，队列已满或协程池已关闭时返回错误。
func (p *Pool) Submit(task func(ctx context.Context)) error {
	if task == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务不能为空")
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return xerrors.New(xerrors.CodeQueueFailure, "协程池已关闭")
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return xerrors.New(xerrors.CodeQueueFailure,
			fmt.Sprintf("协程池队列已满（容量 %d）", cap(p.tasks)),
			xerrors.WithAlert(false), xerrors.WithSeverity(xerrors.SeverityWarning))
	}
}

// Pending 返回排队中的任务数量。
func (p *Pool) Pending() int { return len(p.tasks) }

// Close 停止接收新任务并等待已排队任务执行完毕，ctx 到期时放弃等待。
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.tasks)
	started := p.started
	p.mu.Unlock()

	if !started {
		return nil
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "等待异步任务结束超时")
	}
}
