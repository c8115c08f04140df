package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// exitTimeout 收到信号后等待任务收尾的最长时间
const exitTimeout = 30 * time.Second

var SafeExitInst *SafeExit

func InitSafeExit() {
	SafeExitInst = NewSafeExit()
	go SafeExitInst.ListenSignal()
}

// SafeExit 收到退出信号时取消任务并依次执行清理函数
type SafeExit struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	funcs    []func()
	done     bool
	finished chan struct{}
}

func NewSafeExit() *SafeExit {
	ctx, cancel := context.WithCancel(context.Background())
	return &SafeExit{ctx: ctx, cancel: cancel, finished: make(chan struct{})}
}

// Context 在收到退出信号后被取消
func (s *SafeExit) Context() context.Context { return s.ctx }

func (s *SafeExit) Register(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.funcs = append(s.funcs, f)
}

// Shutdown 取消任务并按注册的逆序执行清理函数，只执行一次
func (s *SafeExit) Shutdown() {
	s.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	for i := len(s.funcs) - 1; i >= 0; i-- {
		s.funcs[i]()
	}
	close(s.finished)
}

func (s *SafeExit) ListenSignal() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	sig := <-sigs
	fmt.Fprintf(os.Stderr, "收到系统信号 %s, 正在停止任务, 请稍后\n", sig)
	// 先停止派发, 等待进行中的瓦片写完后由任务执行清理
	s.cancel()
	select {
	case <-s.finished:
	case <-time.After(exitTimeout):
		s.Shutdown()
	}
	os.Exit(1)
}
