// =============================================================================
// 文件: internal/proxy/server.go
// 描述: 监听与接入 - 双栈 TCP 监听，每个连接派发独立处理协程
// =============================================================================
package proxy

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/mrcgq/310/internal/logging"
	"github.com/mrcgq/310/internal/metrics"
)

// Server 代理监听器
type Server struct {
	port    int
	handler *Handler

	listener net.Listener

	// 状态
	closed    int32
	closeOnce sync.Once
	closeChan chan struct{}

	// 统计
	activeConns int64
	totalConns  uint64

	log     *logging.Logger
	metrics *metrics.ProxyMetrics
}

// NewServer 创建监听器
func NewServer(port int, handler *Handler) *Server {
	return &Server{
		port:      port,
		handler:   handler,
		closeChan: make(chan struct{}),
		log:       logging.New("Listener"),
	}
}

// SetMetrics 挂接指标收集器
func (s *Server) SetMetrics(m *metrics.ProxyMetrics) {
	s.metrics = m
}

// Start 绑定端口并启动接入循环
// 支持 IPv6 的平台绑定双栈 [::]，否则回退 0.0.0.0
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", fmt.Sprintf("[::]:%d", s.port))
	if err != nil {
		listener, err = net.Listen("tcp4", fmt.Sprintf("0.0.0.0:%d", s.port))
		if err != nil {
			return fmt.Errorf("listen failed on port %d: %w", s.port, err)
		}
	}
	s.listener = listener
	s.log.Infof("监听 %s", listener.Addr())

	go s.acceptLoop(ctx)
	return nil
}

// acceptLoop 接入循环，直到 Close 被调用
func (s *Server) acceptLoop(ctx context.Context) {
	for {
		select {
		case <-s.closeChan:
			return
		default:
		}

		conn, err := s.listener.Accept()
		if err != nil {
			// 停止后的 accept 错误静默退出
			if atomic.LoadInt32(&s.closed) == 1 {
				return
			}
			s.log.Warnf("accept 失败: %v", err)
			continue
		}

		atomic.AddInt64(&s.activeConns, 1)
		atomic.AddUint64(&s.totalConns, 1)
		if s.metrics != nil {
			s.metrics.ConnOpened()
		}

		go func() {
			defer func() {
				atomic.AddInt64(&s.activeConns, -1)
				if s.metrics != nil {
					s.metrics.ConnClosed()
				}
			}()
			s.handler.Handle(ctx, conn)
		}()
	}
}

// Close 停止监听
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		atomic.StoreInt32(&s.closed, 1)
		close(s.closeChan)
		if s.listener != nil {
			err = s.listener.Close()
		}
	})
	return err
}

// Addr 返回实际监听地址（测试中用于获取随机端口）
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stats 返回统计信息
func (s *Server) Stats() (active int64, total uint64) {
	return atomic.LoadInt64(&s.activeConns), atomic.LoadUint64(&s.totalConns)
}
