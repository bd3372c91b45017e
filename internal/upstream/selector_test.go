// =============================================================================
// 文件: internal/upstream/selector_test.go
// 描述: 上游选择器测试 - failover 顺序、roundRobin 公平轮转与错误聚合
// =============================================================================
package upstream

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/mrcgq/310/internal/config"
	"github.com/mrcgq/310/internal/logging"
	"github.com/mrcgq/310/internal/transport"
)

func socksUpstream(host string, port int) config.UpstreamConfig {
	return config.UpstreamConfig{
		Enabled: true,
		Type:    config.UpstreamSocks5,
		Host:    host,
		Port:    port,
	}
}

func selectorFor(strategy string, ups ...config.UpstreamConfig) *Selector {
	return NewSelector(&config.ProxyConfig{
		Port:                  8080,
		LoadBalancingStrategy: strategy,
		Upstreams:             ups,
	})
}

// echoListener 纯回显的直连目标
func echoListener(t *testing.T) (host string, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				io.Copy(c, c)
			}(conn)
		}
	}()
	return "127.0.0.1", ln.Addr().(*net.TCPAddr).Port
}

// =============================================================================
// 直连与 failover
// =============================================================================

func TestSelectorDirectWhenEmpty(t *testing.T) {
	ctx := testContext(t)
	host, port := echoListener(t)

	s := selectorFor(config.StrategyFailover)
	conn, err := s.Connect(ctx, host, port, transport.FamilyAny)
	if err != nil {
		t.Fatalf("无上游应直连: %v", err)
	}
	defer conn.Close()

	conn.Write([]byte("ping"))
	buf := make([]byte, 4)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(conn, buf); err != nil || string(buf) != "ping" {
		t.Fatalf("直连回显失败: %v %q", err, buf)
	}
}

func TestSelectorFailover(t *testing.T) {
	ctx := testContext(t)

	t.Run("首个失败换下一个", func(t *testing.T) {
		badPort := refusedPort(t)
		good := newSocksStub(t)

		var logBuf bytes.Buffer
		logging.SetOutput(&logBuf)
		defer logging.SetOutput(os.Stdout)

		s := selectorFor(config.StrategyFailover,
			socksUpstream("127.0.0.1", badPort),
			socksUpstream(good.host, good.port),
		)

		conn, err := s.Connect(ctx, "example.test", 443, transport.FamilyAny)
		if err != nil {
			t.Fatalf("failover 应最终成功: %v", err)
		}
		conn.Close()

		if good.servedCount() != 1 {
			t.Errorf("第二个上游服务次数 = %d, want 1", good.servedCount())
		}

		// 日志契约: 被拒的尝试恰好一条警告，成功的尝试恰好一条信息
		logs := logBuf.String()
		if n := strings.Count(logs, "[WARN]"); n != 1 {
			t.Errorf("警告日志条数 = %d, want 1\n%s", n, logs)
		}
		if n := strings.Count(logs, "[INFO]"); n != 1 {
			t.Errorf("信息日志条数 = %d, want 1\n%s", n, logs)
		}
	})

	t.Run("全部失败聚合错误按顺序", func(t *testing.T) {
		p1 := refusedPort(t)
		p2 := refusedPort(t)

		var logBuf bytes.Buffer
		logging.SetOutput(&logBuf)
		defer logging.SetOutput(os.Stdout)

		s := selectorFor(config.StrategyFailover,
			socksUpstream("127.0.0.1", p1),
			socksUpstream("127.0.0.1", p2),
		)

		_, err := s.Connect(ctx, "example.test", 443, transport.FamilyAny)
		if err == nil {
			t.Fatal("全部失败应返回错误")
		}

		var merr *multierror.Error
		if !errors.As(err, &merr) {
			t.Fatalf("应携带聚合错误: %v", err)
		}
		if len(merr.Errors) != 2 {
			t.Fatalf("聚合错误条数 = %d, want 2", len(merr.Errors))
		}
		if !strings.Contains(merr.Errors[0].Error(), fmt.Sprintf(":%d", p1)) {
			t.Errorf("第一条错误应来自第一个上游: %v", merr.Errors[0])
		}
		if !strings.Contains(merr.Errors[1].Error(), fmt.Sprintf(":%d", p2)) {
			t.Errorf("第二条错误应来自第二个上游: %v", merr.Errors[1])
		}
	})

	t.Run("direct条目视为空操作", func(t *testing.T) {
		good := newSocksStub(t)
		s := selectorFor(config.StrategyFailover,
			config.UpstreamConfig{Enabled: true, Type: config.UpstreamDirect, Host: "127.0.0.1", Port: 1},
			socksUpstream(good.host, good.port),
		)

		conn, err := s.Connect(ctx, "example.test", 443, transport.FamilyAny)
		if err != nil {
			t.Fatalf("direct 条目应被跳过: %v", err)
		}
		conn.Close()

		if good.servedCount() != 1 {
			t.Errorf("socks5 上游服务次数 = %d, want 1", good.servedCount())
		}
	})

	t.Run("空host条目跳过", func(t *testing.T) {
		good := newSocksStub(t)
		s := selectorFor(config.StrategyFailover,
			socksUpstream("", 1080),
			socksUpstream(good.host, good.port),
		)

		conn, err := s.Connect(ctx, "example.test", 443, transport.FamilyAny)
		if err != nil {
			t.Fatalf("空 host 条目应被跳过: %v", err)
		}
		conn.Close()
	})
}

// =============================================================================
// roundRobin
// =============================================================================

func TestSelectorRoundRobin(t *testing.T) {
	ctx := testContext(t)

	t.Run("公平轮转", func(t *testing.T) {
		var mu sync.Mutex
		var order []int

		stubs := make([]*socksStub, 3)
		ups := make([]config.UpstreamConfig, 3)
		for i := 0; i < 3; i++ {
			i := i
			stubs[i] = newSocksStub(t, func(s *socksStub) {
				s.onServe = func() {
					mu.Lock()
					order = append(order, i)
					mu.Unlock()
				}
			})
			ups[i] = socksUpstream(stubs[i].host, stubs[i].port)
		}

		s := selectorFor(config.StrategyRoundRobin, ups...)

		for i := 0; i < 6; i++ {
			conn, err := s.Connect(ctx, "example.test", 443, transport.FamilyAny)
			if err != nil {
				t.Fatalf("第 %d 次连接失败: %v", i+1, err)
			}
			conn.Close()
		}

		for i, stub := range stubs {
			if stub.servedCount() != 2 {
				t.Errorf("上游 %d 服务次数 = %d, want 2", i, stub.servedCount())
			}
		}

		mu.Lock()
		defer mu.Unlock()
		want := []int{0, 1, 2, 0, 1, 2}
		if len(order) != len(want) {
			t.Fatalf("服务顺序长度 = %d, want %d", len(order), len(want))
		}
		for i := range want {
			if order[i] != want[i] {
				t.Fatalf("服务顺序 = %v, want %v", order, want)
			}
		}
	})

	t.Run("轮转起点失败时继续后续条目", func(t *testing.T) {
		bad := newSocksStub(t, func(s *socksStub) { s.rejectStatus = 0x01 })
		good := newSocksStub(t)

		s := selectorFor(config.StrategyRoundRobin,
			socksUpstream(bad.host, bad.port),
			socksUpstream(good.host, good.port),
		)

		// 首次轮转起点是条目 0（被拒），应落到条目 1
		conn, err := s.Connect(ctx, "example.test", 443, transport.FamilyAny)
		if err != nil {
			t.Fatalf("应回落到健康上游: %v", err)
		}
		conn.Close()

		if good.servedCount() != 1 {
			t.Errorf("健康上游服务次数 = %d, want 1", good.servedCount())
		}
	})
}
