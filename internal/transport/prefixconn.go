// =============================================================================
// 文件: internal/transport/prefixconn.go
// 描述: 带前缀回放的连接 - 先吐出已预读的字节，再委托给底层连接
// =============================================================================
package transport

import "net"

// PrefixedConn 包装一个连接，使已从中读出的前缀对后续读者重新可见
// 写入直接穿透到底层连接
type PrefixedConn struct {
	net.Conn
	prefix []byte
}

// NewPrefixedConn 创建带前缀的连接
func NewPrefixedConn(conn net.Conn, prefix []byte) *PrefixedConn {
	return &PrefixedConn{Conn: conn, prefix: prefix}
}

// Read 先消耗前缀，前缀耗尽后读底层连接
func (c *PrefixedConn) Read(b []byte) (int, error) {
	if len(c.prefix) > 0 {
		n := copy(b, c.prefix)
		c.prefix = c.prefix[n:]
		return n, nil
	}
	return c.Conn.Read(b)
}

// CloseWrite 关闭写方向（底层支持半关时透传，否则整体关闭）
func (c *PrefixedConn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return c.Conn.Close()
}
