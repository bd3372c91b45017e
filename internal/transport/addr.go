// =============================================================================
// 文件: internal/transport/addr.go
// 描述: 地址族工具函数 - IPv4/IPv6 判定与连接地址族提取
// =============================================================================
package transport

import "net"

// Family 地址族
type Family int

const (
	FamilyAny  Family = 0
	FamilyIPv4 Family = 4
	FamilyIPv6 Family = 6
)

// IsIPv4 检查地址是否是 IPv4
func IsIPv4(ip net.IP) bool {
	return ip != nil && ip.To4() != nil
}

// IsIPv6 检查地址是否是 IPv6
func IsIPv6(ip net.IP) bool {
	return ip != nil && ip.To4() == nil && ip.To16() != nil
}

// FamilyOf 返回 IP 的地址族
func FamilyOf(ip net.IP) Family {
	if IsIPv4(ip) {
		return FamilyIPv4
	}
	if IsIPv6(ip) {
		return FamilyIPv6
	}
	return FamilyAny
}

// ConnFamily 返回连接对端的地址族
// 客户端以哪个族接入，向目标拨号时就优先用哪个族
func ConnFamily(conn net.Conn) Family {
	addr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok || addr == nil {
		return FamilyAny
	}
	return FamilyOf(addr.IP)
}
