// =============================================================================
// 文件: internal/upstream/socks5.go
// 描述: SOCKS5 客户端 - RFC 1928 无认证握手与 CONNECT 请求
// =============================================================================
package upstream

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/mrcgq/310/internal/transport"
)

// ============================================
// SOCKS5 协议常量
// ============================================

const (
	socksVersion5 = 0x05

	// 认证方法
	authNone = 0x00

	// 命令类型
	cmdConnect = 0x01

	// 地址类型
	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04

	// 回复状态
	repSuccess = 0x00
)

// 标准回复状态对应的失败原因
var socksReplyReasons = map[byte]string{
	0x01: "general failure",
	0x02: "connection not allowed by ruleset",
	0x03: "network unreachable",
	0x04: "host unreachable",
	0x05: "connection refused",
	0x06: "TTL expired",
	0x07: "command not supported",
	0x08: "address type not supported",
}

// ErrHandshakeRejected SOCKS5 服务器拒绝了无认证方式
var ErrHandshakeRejected = errors.New("socks5: handshake rejected")

// DialSOCKS5 经 SOCKS5 上游建立到 targetHost:targetPort 的隧道
// 目标按形态编码: IPv4 字面量、IPv6 字面量或域名
func DialSOCKS5(ctx context.Context, proxyHost string, proxyPort int, targetHost string, targetPort int, family transport.Family) (net.Conn, error) {
	conn, err := transport.DialPreferred(ctx, proxyHost, proxyPort, family)
	if err != nil {
		return nil, fmt.Errorf("socks5: dial %s:%d: %w", proxyHost, proxyPort, err)
	}

	if err := socksHandshake(conn); err != nil {
		conn.Close()
		return nil, err
	}

	if err := socksConnect(conn, targetHost, targetPort); err != nil {
		conn.Close()
		return nil, err
	}

	return conn, nil
}

// socksHandshake 方法协商阶段: 只提议无认证
func socksHandshake(conn net.Conn) error {
	if _, err := conn.Write([]byte{socksVersion5, 0x01, authNone}); err != nil {
		return fmt.Errorf("socks5: write method selection: %w", err)
	}

	var resp [2]byte
	if _, err := io.ReadFull(conn, resp[:]); err != nil {
		return fmt.Errorf("socks5: read method selection: %w", err)
	}
	if resp[0] != socksVersion5 || resp[1] != authNone {
		return fmt.Errorf("%w (version=0x%02x method=0x%02x)", ErrHandshakeRejected, resp[0], resp[1])
	}
	return nil
}

// socksConnect CONNECT 请求阶段
func socksConnect(conn net.Conn, targetHost string, targetPort int) error {
	req := []byte{socksVersion5, cmdConnect, 0x00}

	// 按目标形态编码地址
	if ip := net.ParseIP(targetHost); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			req = append(req, atypIPv4)
			req = append(req, ip4...)
		} else {
			req = append(req, atypIPv6)
			req = append(req, ip.To16()...)
		}
	} else {
		if len(targetHost) > 255 {
			return fmt.Errorf("socks5: domain name too long: %d bytes", len(targetHost))
		}
		req = append(req, atypDomain, byte(len(targetHost)))
		req = append(req, targetHost...)
	}

	req = binary.BigEndian.AppendUint16(req, uint16(targetPort))

	if _, err := conn.Write(req); err != nil {
		return fmt.Errorf("socks5: write connect request: %w", err)
	}

	// 读取 4 字节响应头
	var hdr [4]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return fmt.Errorf("socks5: read connect reply: %w", err)
	}
	if hdr[1] != repSuccess {
		reason, ok := socksReplyReasons[hdr[1]]
		if !ok {
			reason = fmt.Sprintf("unknown status 0x%02x", hdr[1])
		}
		return fmt.Errorf("socks5: connect failed: %s", reason)
	}

	// 消费绑定地址尾部，避免字节泄漏进隧道
	var tail int
	switch hdr[3] {
	case atypIPv4:
		tail = 4 + 2
	case atypIPv6:
		tail = 16 + 2
	case atypDomain:
		var n [1]byte
		if _, err := io.ReadFull(conn, n[:]); err != nil {
			return fmt.Errorf("socks5: read bound domain length: %w", err)
		}
		tail = int(n[0]) + 2
	default:
		return fmt.Errorf("socks5: unsupported bound address type 0x%02x", hdr[3])
	}
	if _, err := io.CopyN(io.Discard, conn, int64(tail)); err != nil {
		return fmt.Errorf("socks5: read bound address: %w", err)
	}

	return nil
}
