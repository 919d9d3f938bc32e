package utils

import (
	"context"
	"log"
	"sync"
	"time"
)

// Task 异步任务
type Task func(ctx context.Context) error

type namedTask struct {
	name string
	run  Task
}

// AsyncDispatcher 有界异步任务队列
// 发送方只负责投递：队列满或任务出错 / panic 都只记日志，不会回传给调用方
type AsyncDispatcher struct {
	name    string
	tasks   chan namedTask
	timeout time.Duration
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewAsyncDispatcher 创建并启动 workers 个消费协程
func NewAsyncDispatcher(name string, workers, capacity int, taskTimeout time.Duration) *AsyncDispatcher {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 256
	}
	d := &AsyncDispatcher{
		name:    name,
		tasks:   make(chan namedTask, capacity),
		timeout: taskTimeout,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.loop()
	}
	return d
}

// Submit 非阻塞投递，返回是否入队成功
func (d *AsyncDispatcher) Submit(name string, task Task) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		log.Printf("[WARN] %s: dispatcher closed, dropping task %s", d.name, name)
		return false
	}

	select {
	case d.tasks <- namedTask{name: name, run: task}:
		return true
	default:
		log.Printf("[ERROR] %s: queue full, dropping task %s", d.name, name)
		return false
	}
}

// Close 停止接收新任务，并等待已入队任务执行完
func (d *AsyncDispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.tasks)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *AsyncDispatcher) loop() {
	defer d.wg.Done()
	for t := range d.tasks {
		d.execute(t)
	}
}

func (d *AsyncDispatcher) execute(t namedTask) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[ERROR] %s: task %s panicked: %v", d.name, t.name, r)
		}
	}()

	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	if err := t.run(ctx); err != nil {
		log.Printf("[ERROR] %s: task %s failed: %v", d.name, t.name, err)
	}
}
