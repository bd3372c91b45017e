// =============================================================================
// 文件: internal/proxy/relay.go
// 描述: 双向中继 - 两个独立拷贝任务，各自运行到源端 EOF 或出错
// =============================================================================
package proxy

import (
	"io"
	"net"

	"golang.org/x/sync/errgroup"
)

// 每个方向的拷贝缓冲区大小
const relayBufferSize = 80 * 1024

// relay 在客户端与上游之间双向搬运字节，两个方向都结束后返回
// clientReader 可能带有 bufio 缓冲的剩余字节，客户端→上游方向必须从它读
func (h *Handler) relay(clientReader io.Reader, client net.Conn, up net.Conn) (sent, received int64) {
	var g errgroup.Group

	g.Go(func() error {
		n, err := io.CopyBuffer(up, clientReader, make([]byte, relayBufferSize))
		sent = n
		// 源端收尾后半关对端写方向，让另一半拷贝能看到 EOF
		closeWrite(up)
		return err
	})

	g.Go(func() error {
		n, err := io.CopyBuffer(client, up, make([]byte, relayBufferSize))
		received = n
		closeWrite(client)
		return err
	})

	if err := g.Wait(); err != nil {
		// 中继期间的错误与正常断开不可区分，降为调试日志
		h.log.Debugf("中继结束: %v", err)
	}

	if h.metrics != nil {
		h.metrics.AddRelayBytes(sent, received)
	}
	return sent, received
}

// closeWrite 半关连接的写方向，不支持半关时整体关闭
func closeWrite(conn net.Conn) {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
		return
	}
	conn.Close()
}
