package container

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/zap"

	"backpack-mm/infrastructure/logger"
	"backpack-mm/internal/engine"
	"backpack-mm/internal/journal"
)

// Lifecycle 生命周期接口
type Lifecycle interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Health() error
}

// LifecycleManager 生命周期管理器
type LifecycleManager struct {
	components []Lifecycle
	started    int
	mu         sync.Mutex
}

// NewLifecycleManager 创建新的生命周期管理器
func NewLifecycleManager() *LifecycleManager {
	return &LifecycleManager{
		components: make([]Lifecycle, 0),
	}
}

// Register 注册组件
func (m *LifecycleManager) Register(component Lifecycle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, component)
}

// StartAll 按注册顺序启动所有组件，失败时逆序停止已启动的组件。
func (m *LifecycleManager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, component := range m.components {
		if err := component.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = m.components[j].Stop()
			}
			m.started = 0
			return fmt.Errorf("start %s failed: %w", component.Name(), err)
		}
		m.started = i + 1
	}
	return nil
}

// StopAll 逆序停止已启动的组件，返回遇到的第一个错误。
func (m *LifecycleManager) StopAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for i := m.started - 1; i >= 0; i-- {
		if err := m.components[i].Stop(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stop %s: %w", m.components[i].Name(), err)
		}
	}
	m.started = 0
	return firstErr
}

// CheckHealth 检查所有组件健康状态
func (m *LifecycleManager) CheckHealth() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, component := range m.components {
		if err := component.Health(); err != nil {
			return fmt.Errorf("%s unhealthy: %w", component.Name(), err)
		}
	}
	return nil
}

// httpServerComponent HTTP服务器组件
type httpServerComponent struct {
	name    string
	handler http.Handler
	addr    string
	logger  *logger.Logger

	mu      sync.Mutex
	server  *http.Server
	bound   string
	started bool
}

func (h *httpServerComponent) Name() string { return h.name }

func (h *httpServerComponent) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return nil
	}
	// 先同步监听，端口被占用立即报错
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", h.addr, err)
	}
	srv := &http.Server{
		Handler:           h.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	h.server = srv
	h.bound = ln.Addr().String()

	go func() {
		h.logger.Info("http server listening", zap.String("component", h.name), zap.String("addr", h.bound))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.LogError(err, map[string]interface{}{
				"component": h.name,
				"action":    "serve",
			})
		}
	}()

	h.started = true
	return nil
}

// Addr 实际监听地址，配置为 :0 时用于获取随机端口。
func (h *httpServerComponent) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bound
}

func (h *httpServerComponent) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started || h.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", h.name, err)
	}

	h.logger.Info("http server stopped", zap.String("component", h.name))
	h.started = false
	return nil
}

func (h *httpServerComponent) Health() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return fmt.Errorf("%s not started", h.name)
	}
	return nil
}

// engineComponent 控制循环。Stop 内部会撤销全部挂单。
type engineComponent struct {
	engine *engine.Engine
}

func (c *engineComponent) Name() string { return "engine" }

func (c *engineComponent) Start(ctx context.Context) error { return c.engine.Start(ctx) }

func (c *engineComponent) Stop() error { return c.engine.Stop() }

func (c *engineComponent) Health() error {
	if err := c.engine.Err(); err != nil {
		return err
	}
	if st := c.engine.GetState(); st != engine.StateRunning {
		return fmt.Errorf("engine state %s", st)
	}
	return nil
}

// runComponent 把一个阻塞的 Run(ctx) 包装成组件，如行情 WebSocket 或纸面行情。
type runComponent struct {
	name   string
	run    func(ctx context.Context) error
	logger *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (c *runComponent) Name() string { return c.name }

func (c *runComponent) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		err := c.run(runCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.LogError(err, map[string]interface{}{"component": c.name, "action": "run"})
		}
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
	}()
	return nil
}

func (c *runComponent) Stop() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("%s did not exit", c.name)
	}
}

func (c *runComponent) Health() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		return fmt.Errorf("%s not started", c.name)
	}
	select {
	case <-c.done:
		if c.err != nil {
			return c.err
		}
		return fmt.Errorf("%s exited", c.name)
	default:
		return nil
	}
}

// journalComponent 只负责在最后关闭成交流水，保证停机前的成交都已落盘。
type journalComponent struct {
	journal *journal.Journal
}

func (c *journalComponent) Name() string                { return "journal" }
func (c *journalComponent) Start(context.Context) error { return nil }
func (c *journalComponent) Stop() error                 { return c.journal.Close() }
func (c *journalComponent) Health() error               { return nil }

// profilerComponent 连续性能剖析，配置了 pyroscope 地址时启用。
type profilerComponent struct {
	cfg      pyroscope.Config
	profiler *pyroscope.Profiler
}

func (c *profilerComponent) Name() string { return "profiler" }

func (c *profilerComponent) Start(context.Context) error {
	p, err := pyroscope.Start(c.cfg)
	if err != nil {
		return fmt.Errorf("pyroscope start: %w", err)
	}
	c.profiler = p
	return nil
}

func (c *profilerComponent) Stop() error {
	if c.profiler == nil {
		return nil
	}
	err := c.profiler.Stop()
	c.profiler = nil
	return err
}

func (c *profilerComponent) Health() error { return nil }
