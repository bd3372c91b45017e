// =============================================================================
// 文件: internal/transport/sniff.go
// 描述: 流分类器 - 预读连接首字节判定 TLS，预读内容交由 PrefixedConn 回放
// =============================================================================
package transport

import (
	"fmt"
	"net"
	"time"
)

const (
	// 预读长度与等待首字节的期限
	sniffSize    = 5
	sniffTimeout = 5 * time.Second
)

// IsTLSClientHello 判定前缀是否是 TLS 握手记录
// 依据 TLS 记录头: 0x16 (handshake) + 0x03 + 版本字节 0x01..0x04 (TLS 1.0-1.3)
func IsTLSClientHello(prefix []byte) bool {
	return len(prefix) >= 3 &&
		prefix[0] == 0x16 &&
		prefix[1] == 0x03 &&
		prefix[2] >= 0x01 && prefix[2] <= 0x04
}

// PeekClassify 预读连接的前几个字节并分类
// 返回的 net.Conn 会先回放预读内容再继续读底层连接，
// 因此可以直接作为 tls.Server 的底层传输
func PeekClassify(conn net.Conn) (net.Conn, bool, error) {
	if err := conn.SetReadDeadline(time.Now().Add(sniffTimeout)); err != nil {
		return nil, false, fmt.Errorf("classify: set deadline: %w", err)
	}

	buf := make([]byte, sniffSize)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, false, fmt.Errorf("classify: read first bytes: %w", err)
	}
	if n == 0 {
		return nil, false, fmt.Errorf("classify: empty read")
	}

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, false, fmt.Errorf("classify: clear deadline: %w", err)
	}

	prefix := buf[:n]
	return NewPrefixedConn(conn, prefix), IsTLSClientHello(prefix), nil
}
