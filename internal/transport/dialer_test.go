// =============================================================================
// 文件: internal/transport/dialer_test.go
// 描述: 地址族优先拨号测试
// =============================================================================
package transport

import (
	"context"
	"net"
	"testing"
)

func TestPickAddress(t *testing.T) {
	v4a := net.IPAddr{IP: net.ParseIP("192.0.2.1")}
	v4b := net.IPAddr{IP: net.ParseIP("192.0.2.2")}
	v6a := net.IPAddr{IP: net.ParseIP("2001:db8::1")}
	v6b := net.IPAddr{IP: net.ParseIP("2001:db8::2")}

	tests := []struct {
		name   string
		addrs  []net.IPAddr
		family Family
		want   net.IP
	}{
		{"偏好v6选第一个v6", []net.IPAddr{v4a, v6a, v6b}, FamilyIPv6, v6a.IP},
		{"偏好v4选第一个v4", []net.IPAddr{v6a, v4a, v4b}, FamilyIPv4, v4a.IP},
		{"偏好v6但仅有v4时取v4", []net.IPAddr{v4a, v4b}, FamilyIPv6, v4a.IP},
		{"偏好v4但仅有v6时取v6", []net.IPAddr{v6a, v6b}, FamilyIPv4, v6a.IP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pickAddress(tt.addrs, tt.family)
			if !got.Equal(tt.want) {
				t.Errorf("pickAddress = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDialPreferredLiteralIP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("启动测试监听失败: %v", err)
	}
	defer ln.Close()

	accepted := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
		close(accepted)
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	conn, err := DialPreferred(context.Background(), "127.0.0.1", port, FamilyIPv6)
	if err != nil {
		t.Fatalf("字面量 IP 拨号失败: %v", err)
	}
	conn.Close()
	<-accepted
}

func TestConnFamily(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("启动测试监听失败: %v", err)
	}
	defer ln.Close()

	serverSide := make(chan Family, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverSide <- FamilyAny
			return
		}
		defer conn.Close()
		serverSide <- ConnFamily(conn)
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("拨号失败: %v", err)
	}
	defer conn.Close()

	if got := ConnFamily(conn); got != FamilyIPv4 {
		t.Errorf("ConnFamily = %v, want FamilyIPv4", got)
	}
	if got := <-serverSide; got != FamilyIPv4 {
		t.Errorf("服务端视角 ConnFamily = %v, want FamilyIPv4", got)
	}
}
