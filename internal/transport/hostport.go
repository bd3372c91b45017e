// =============================================================================
// 文件: internal/transport/hostport.go
// 描述: host:port 解析 - 支持裸主机名、带端口形式和带方括号的 IPv6 字面量
// =============================================================================
package transport

import (
	"fmt"
	"strconv"
	"strings"
)

// SplitHostPort 解析 "host"、"host:port" 和 "[v6addr]:port" 三种形式
// 未携带端口时使用 defaultPort；不带方括号却出现多个冒号视为歧义错误
func SplitHostPort(s string, defaultPort int) (string, int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", 0, fmt.Errorf("地址为空")
	}

	// 带方括号的 IPv6 字面量: [::1] 或 [::1]:8443
	if strings.HasPrefix(s, "[") {
		end := strings.Index(s, "]")
		if end < 0 {
			return "", 0, fmt.Errorf("地址缺少匹配的 ']': %s", s)
		}
		host := s[1:end]
		if host == "" {
			return "", 0, fmt.Errorf("方括号内主机为空: %s", s)
		}
		rest := s[end+1:]
		if rest == "" {
			return host, defaultPort, nil
		}
		if !strings.HasPrefix(rest, ":") {
			return "", 0, fmt.Errorf("']' 之后存在多余内容: %s", s)
		}
		port, err := parsePortToken(rest[1:])
		if err != nil {
			return "", 0, fmt.Errorf("端口无效 %q: %w", s, err)
		}
		return host, port, nil
	}

	switch strings.Count(s, ":") {
	case 0:
		return s, defaultPort, nil
	case 1:
		idx := strings.Index(s, ":")
		host := s[:idx]
		if host == "" {
			return "", 0, fmt.Errorf("主机为空: %s", s)
		}
		port, err := parsePortToken(s[idx+1:])
		if err != nil {
			return "", 0, fmt.Errorf("端口无效 %q: %w", s, err)
		}
		return host, port, nil
	default:
		// 无方括号的多冒号无法与 IPv6 字面量区分
		return "", 0, fmt.Errorf("地址歧义（多个冒号需使用方括号）: %s", s)
	}
}

func parsePortToken(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("超出范围: %d", port)
	}
	return port, nil
}
