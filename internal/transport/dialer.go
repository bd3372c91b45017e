// =============================================================================
// 文件: internal/transport/dialer.go
// 描述: 地址族优先拨号 - 字面量 IP 直连，域名按偏好族解析选址
// =============================================================================
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// 出站连接建立超时上限（操作系统超时通常更长且不可控）
const DialTimeout = 10 * time.Second

// ErrNoAddresses 域名解析结果为空
var ErrNoAddresses = errors.New("dial: no addresses resolved")

// DialPreferred 建立到 host:port 的 TCP 连接
// 字面量 IP 直接按其地址族连接；无偏好时按名称双栈拨号；
// 有偏好时解析后优先选同族地址，其次异族，最后取第一个结果
func DialPreferred(ctx context.Context, host string, port int, family Family) (net.Conn, error) {
	d := net.Dialer{Timeout: DialTimeout}

	if ip := net.ParseIP(host); ip != nil {
		return d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	}

	if family == FamilyAny {
		return d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return nil, ErrNoAddresses
	}

	picked := pickAddress(addrs, family)
	return d.DialContext(ctx, "tcp", net.JoinHostPort(picked.String(), strconv.Itoa(port)))
}

// pickAddress 按偏好族选址
func pickAddress(addrs []net.IPAddr, family Family) net.IP {
	for _, a := range addrs {
		if FamilyOf(a.IP) == family {
			return a.IP
		}
	}
	other := FamilyIPv4
	if family == FamilyIPv4 {
		other = FamilyIPv6
	}
	for _, a := range addrs {
		if FamilyOf(a.IP) == other {
			return a.IP
		}
	}
	return addrs[0].IP
}
