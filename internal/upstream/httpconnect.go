// =============================================================================
// 文件: internal/upstream/httpconnect.go
// 描述: HTTP CONNECT 客户端 - 经 HTTP 代理打开 TCP 隧道
// =============================================================================
package upstream

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/mrcgq/310/internal/transport"
)

// 响应头最大长度，防止异常上游把读取拖入无界循环
const maxConnectResponse = 64 * 1024

// RejectedError HTTP 上游以非 200 状态拒绝 CONNECT
type RejectedError struct {
	Code   int
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("http upstream rejected CONNECT: %d %s", e.Code, e.Reason)
}

// DialHTTPConnect 经 HTTP 代理建立到 targetHost:targetPort 的隧道
// 只消费到响应头终止符为止，不触碰后续隧道字节
func DialHTTPConnect(ctx context.Context, proxyHost string, proxyPort int, targetHost string, targetPort int, family transport.Family) (net.Conn, error) {
	conn, err := transport.DialPreferred(ctx, proxyHost, proxyPort, family)
	if err != nil {
		return nil, fmt.Errorf("http-connect: dial %s:%d: %w", proxyHost, proxyPort, err)
	}

	hostPort := net.JoinHostPort(targetHost, strconv.Itoa(targetPort))
	req := "CONNECT " + hostPort + " HTTP/1.1\r\n" +
		"Host: " + hostPort + "\r\n" +
		"Proxy-Connection: Keep-Alive\r\n" +
		"\r\n"

	if _, err := conn.Write([]byte(req)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("http-connect: write request: %w", err)
	}

	head, err := readResponseHead(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := checkConnectStatus(head); err != nil {
		conn.Close()
		return nil, err
	}

	return conn, nil
}

// readResponseHead 逐字节读取直到 \r\n\r\n
// 逐字节读保证响应头终止符之后的隧道字节一个都不被多消费
func readResponseHead(conn net.Conn) (string, error) {
	var head []byte
	var b [1]byte
	for {
		if _, err := conn.Read(b[:]); err != nil {
			return "", fmt.Errorf("http-connect: read response: %w", err)
		}
		head = append(head, b[0])
		if len(head) >= 4 && string(head[len(head)-4:]) == "\r\n\r\n" {
			return string(head), nil
		}
		if len(head) > maxConnectResponse {
			return "", fmt.Errorf("http-connect: response head too large")
		}
	}
}

// checkConnectStatus 解析状态行，非 200 视为上游拒绝
func checkConnectStatus(head string) error {
	line := head
	if idx := strings.Index(head, "\r\n"); idx >= 0 {
		line = head[:idx]
	}

	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return fmt.Errorf("http-connect: malformed status line: %q", line)
	}

	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return fmt.Errorf("http-connect: malformed status code: %q", line)
	}
	if code != 200 {
		reason := ""
		if len(parts) == 3 {
			reason = parts[2]
		}
		return &RejectedError{Code: code, Reason: reason}
	}
	return nil
}
