// =============================================================================
// 文件: internal/upstream/helpers_test.go
// 描述: 测试公共工具
// =============================================================================
package upstream

import (
	"context"
	"net"
	"testing"
	"time"
)

// testContext 带超时的测试上下文，防止失败用例卡死
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// refusedPort 返回一个大概率拒绝连接的本地端口
func refusedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}
