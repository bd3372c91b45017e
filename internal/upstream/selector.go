// =============================================================================
// 文件: internal/upstream/selector.go
// 描述: 上游选择器 - failover 按配置顺序逐个尝试，roundRobin 轮转起点
//       单个上游失败记录后继续，全部失败时返回聚合错误
// =============================================================================
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"

	"github.com/mrcgq/310/internal/config"
	"github.com/mrcgq/310/internal/logging"
	"github.com/mrcgq/310/internal/metrics"
	"github.com/mrcgq/310/internal/transport"
)

// ErrUnsupportedType 上游类型无法建立连接
var ErrUnsupportedType = errors.New("unsupported upstream type")

// Selector 上游选择器
type Selector struct {
	upstreams []config.UpstreamConfig // 仅 enabled 条目，配置顺序
	strategy  string

	// roundRobin 轮转计数，无符号回绕
	rrCounter uint64

	log     *logging.Logger
	metrics *metrics.ProxyMetrics
}

// NewSelector 创建选择器，仅保留启用的上游
func NewSelector(cfg *config.ProxyConfig) *Selector {
	return &Selector{
		upstreams: cfg.EnabledUpstreams(),
		strategy:  cfg.LoadBalancingStrategy,
		log:       logging.New("Selector"),
	}
}

// SetMetrics 挂接指标收集器
func (s *Selector) SetMetrics(m *metrics.ProxyMetrics) {
	s.metrics = m
}

// Connect 建立到目标的出站字节流
// 无上游时直连；否则按策略生成尝试顺序并逐个走 failover
func (s *Selector) Connect(ctx context.Context, host string, port int, family transport.Family) (net.Conn, error) {
	if len(s.upstreams) == 0 {
		return transport.DialPreferred(ctx, host, port, family)
	}

	order := s.attemptOrder()

	var result *multierror.Error
	for _, u := range order {
		if u.Host == "" {
			continue
		}
		// direct 条目在选择阶段视为空操作跳过
		if u.Type == config.UpstreamDirect {
			continue
		}

		conn, err := s.connectVia(ctx, &u, host, port, family)
		if err != nil {
			s.log.Warnf("上游 %s (%s:%d) 连接失败: %v", u.Type, u.Host, u.Port, err)
			if s.metrics != nil {
				s.metrics.ObserveUpstreamAttempt(u.Host, false)
			}
			result = multierror.Append(result, err)
			continue
		}

		s.log.Infof("经上游 %s (%s:%d) 连接 %s:%d", u.Type, u.Host, u.Port, host, port)
		if s.metrics != nil {
			s.metrics.ObserveUpstreamAttempt(u.Host, true)
		}
		return conn, nil
	}

	if result == nil {
		return nil, fmt.Errorf("all upstreams failed: no usable entries")
	}
	return nil, fmt.Errorf("all upstreams failed: %w", result)
}

// attemptOrder 生成本次连接的尝试顺序
func (s *Selector) attemptOrder() []config.UpstreamConfig {
	n := len(s.upstreams)
	if s.strategy != config.StrategyRoundRobin || n == 1 {
		return s.upstreams
	}

	// 首次选择映射到第 0 个条目
	k := int((atomic.AddUint64(&s.rrCounter, 1) - 1) % uint64(n))

	order := make([]config.UpstreamConfig, 0, n)
	order = append(order, s.upstreams[k:]...)
	order = append(order, s.upstreams[:k]...)
	return order
}

// connectVia 按上游类型分发
func (s *Selector) connectVia(ctx context.Context, u *config.UpstreamConfig, host string, port int, family transport.Family) (net.Conn, error) {
	switch u.Type {
	case config.UpstreamSocks5:
		return DialSOCKS5(ctx, u.Host, u.Port, host, port, family)
	case config.UpstreamHTTP:
		return DialHTTPConnect(ctx, u.Host, u.Port, host, port, family)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, u.Type)
	}
}
