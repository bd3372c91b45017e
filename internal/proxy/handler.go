// =============================================================================
// 文件: internal/proxy/handler.go
// 描述: 每连接状态机 - 分类首字节、按需终止 TLS、解析一条代理请求、
//       经选择器建立上游后双向中继
// =============================================================================
package proxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/mrcgq/310/internal/logging"
	"github.com/mrcgq/310/internal/metrics"
	"github.com/mrcgq/310/internal/transport"
	"github.com/mrcgq/310/internal/upstream"
)

const (
	connectDefaultPort = 443
	httpDefaultPort    = 80

	tlsHandshakeTimeout = 10 * time.Second
)

// Handler 每连接代理请求处理器
// 所有连接共享只读的证书与选择器，无连接间状态
type Handler struct {
	selector *upstream.Selector
	cert     *tls.Certificate // nil 表示监听端未启用 TLS

	log     *logging.Logger
	metrics *metrics.ProxyMetrics
}

// NewHandler 创建处理器
func NewHandler(selector *upstream.Selector, cert *tls.Certificate) *Handler {
	return &Handler{
		selector: selector,
		cert:     cert,
		log:      logging.New("Handler"),
	}
}

// SetMetrics 挂接指标收集器
func (h *Handler) SetMetrics(m *metrics.ProxyMetrics) {
	h.metrics = m
}

// Handle 处理单个接入连接，返回前保证连接关闭
func (h *Handler) Handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	clientAddr := conn.RemoteAddr()
	family := transport.ConnFamily(conn)

	// 1. 预读分类
	stream, isTLS, err := transport.PeekClassify(conn)
	if err != nil {
		h.log.Warnf("客户端 %s 分类失败: %v", clientAddr, err)
		return
	}

	// 2. TLS 代理请求先在监听端终止
	if isTLS {
		if h.cert == nil {
			h.log.Warnf("客户端 %s 发来 TLS 请求，但 HTTPS 未启用", clientAddr)
			return
		}

		tlsConn := tls.Server(stream, &tls.Config{
			Certificates: []tls.Certificate{*h.cert},
			MinVersion:   tls.VersionTLS12,
			MaxVersion:   tls.VersionTLS13,
		})
		hsCtx, cancel := context.WithTimeout(ctx, tlsHandshakeTimeout)
		err := tlsConn.HandshakeContext(hsCtx)
		cancel()
		if err != nil {
			h.log.Warnf("客户端 %s TLS 握手失败: %v", clientAddr, err)
			if h.metrics != nil {
				h.metrics.ObserveTLSHandshakeFailure()
			}
			return
		}
		stream = tlsConn
	}

	// 3. 解析请求行
	reader := bufio.NewReader(stream)
	line, err := readHeaderLine(reader)
	if err != nil {
		h.log.Warnf("客户端 %s 读取请求行失败: %v", clientAddr, err)
		return
	}

	parts := strings.Split(line, " ")
	if len(parts) < 3 {
		h.log.Errorf("客户端 %s 请求行无效: %q", clientAddr, line)
		return
	}
	method, target, version := parts[0], parts[1], parts[2]

	// 4. 按方法分支
	if strings.EqualFold(method, "CONNECT") {
		h.handleConnect(ctx, reader, stream, clientAddr, target, family)
	} else {
		h.handleForward(ctx, reader, stream, clientAddr, method, target, version, family)
	}
}

// handleConnect CONNECT 隧道路径
// 上游就绪前不向客户端回任何字节，200 是唯一的成功指示
func (h *Handler) handleConnect(ctx context.Context, reader *bufio.Reader, stream net.Conn, clientAddr net.Addr, target string, family transport.Family) {
	host, port, err := transport.SplitHostPort(target, connectDefaultPort)
	if err != nil {
		h.log.Errorf("客户端 %s CONNECT 目标无效 %q: %v", clientAddr, target, err)
		return
	}

	// 消费剩余请求头；CONNECT 的头属于代理协议层，不进隧道
	if _, err := readHeaderBlock(reader, nil); err != nil {
		h.log.Errorf("客户端 %s 读取请求头失败: %v", clientAddr, err)
		return
	}

	up, err := h.selector.Connect(ctx, host, port, family)
	if err != nil {
		h.log.Errorf("客户端 %s 连接目标 %s:%d 失败: %v", clientAddr, host, port, err)
		return
	}
	defer up.Close()

	if _, err := stream.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		h.log.Errorf("客户端 %s 写入 200 响应失败: %v", clientAddr, err)
		return
	}

	sent, received := h.relay(reader, stream, up)
	h.log.Debugf("客户端 %s 隧道 %s:%d 结束: 发送 %d 字节, 接收 %d 字节",
		clientAddr, host, port, sent, received)
}

// handleForward 正向 HTTP 代理路径
// 绝对形式 URL 优先；否则从 Host 头取目标，头部原样转发
func (h *Handler) handleForward(ctx context.Context, reader *bufio.Reader, stream net.Conn, clientAddr net.Addr, method, target, version string, family transport.Family) {
	var host string
	port := httpDefaultPort
	pathAndQuery := target

	lower := strings.ToLower(target)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		u, err := url.Parse(target)
		if err != nil {
			h.log.Errorf("客户端 %s 目标 URL 无效 %q: %v", clientAddr, target, err)
			return
		}
		if strings.EqualFold(u.Scheme, "https") {
			port = connectDefaultPort
		}
		host, port, err = transport.SplitHostPort(u.Host, port)
		if err != nil {
			h.log.Errorf("客户端 %s 目标 URL 主机无效 %q: %v", clientAddr, u.Host, err)
			return
		}
		pathAndQuery = u.RequestURI()
	}

	// 收集请求头，顺带在 host 缺失时解析 Host 头
	headers, err := readHeaderBlock(reader, func(line string) {
		if host != "" {
			return
		}
		if len(line) >= 5 && strings.EqualFold(line[:5], "Host:") {
			if hh, hp, perr := transport.SplitHostPort(strings.TrimSpace(line[5:]), port); perr == nil {
				host, port = hh, hp
			}
		}
	})
	if err != nil {
		h.log.Errorf("客户端 %s 读取请求头失败: %v", clientAddr, err)
		return
	}

	if host == "" {
		h.log.Errorf("客户端 %s 请求无效: 既无绝对 URL 也无 Host 头", clientAddr)
		return
	}

	up, err := h.selector.Connect(ctx, host, port, family)
	if err != nil {
		h.log.Errorf("客户端 %s 连接目标 %s:%d 失败: %v", clientAddr, host, port, err)
		return
	}
	defer up.Close()

	// 重写请求行为源站形式，头部原样透传后接空行
	var head strings.Builder
	head.WriteString(method)
	head.WriteByte(' ')
	head.WriteString(pathAndQuery)
	head.WriteByte(' ')
	head.WriteString(version)
	head.WriteString("\r\n")
	for _, hl := range headers {
		head.WriteString(hl)
		head.WriteString("\r\n")
	}
	head.WriteString("\r\n")

	if _, err := up.Write([]byte(head.String())); err != nil {
		h.log.Errorf("客户端 %s 转发请求头失败: %v", clientAddr, err)
		return
	}

	sent, received := h.relay(reader, stream, up)
	h.log.Debugf("客户端 %s 转发 %s:%d 结束: 发送 %d 字节, 接收 %d 字节",
		clientAddr, host, port, sent, received)
}

// readHeaderLine 读取一行（CRLF 结尾），返回去掉行终止符的内容
func readHeaderLine(reader *bufio.Reader) (string, error) {
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readHeaderBlock 读取到空行为止的所有头部行
// onLine 对每行回调（可为 nil），返回收集到的行
func readHeaderBlock(reader *bufio.Reader, onLine func(string)) ([]string, error) {
	var headers []string
	for {
		line, err := readHeaderLine(reader)
		if err != nil {
			return nil, err
		}
		if line == "" {
			return headers, nil
		}
		headers = append(headers, line)
		if onLine != nil {
			onLine(line)
		}
	}
}
