// =============================================================================
// 文件: internal/config/config_test.go
// 描述: 配置鲁棒性测试 - 默认值、旧版字段合并与非法配置拦截
// =============================================================================
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// =============================================================================
// 默认值测试
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("基础配置默认值", func(t *testing.T) {
		if cfg.Proxy.Port != 8080 {
			t.Errorf("Proxy.Port 默认值错误: got %d, want 8080", cfg.Proxy.Port)
		}
		if cfg.Proxy.UseHTTPS {
			t.Error("Proxy.UseHTTPS 默认应为 false")
		}
		if cfg.Proxy.CrlPort != 0 {
			t.Errorf("Proxy.CrlPort 默认值错误: got %d, want 0", cfg.Proxy.CrlPort)
		}
		if cfg.Proxy.LoadBalancingStrategy != StrategyFailover {
			t.Errorf("负载策略默认值错误: got %s, want failover", cfg.Proxy.LoadBalancingStrategy)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel 默认值错误: got %s, want info", cfg.LogLevel)
		}
	})

	t.Run("Metrics配置默认值", func(t *testing.T) {
		if cfg.Metrics.Enabled {
			t.Error("Metrics.Enabled 默认应为 false")
		}
		if cfg.Metrics.Listen != ":9100" {
			t.Errorf("Metrics.Listen 默认值错误: got %s", cfg.Metrics.Listen)
		}
		if cfg.Metrics.Path != "/metrics" {
			t.Errorf("Metrics.Path 默认值错误: got %s", cfg.Metrics.Path)
		}
	})
}

// =============================================================================
// Normalize 测试
// =============================================================================

func TestNormalize(t *testing.T) {
	t.Run("旧版单上游并入列表头部", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Proxy.Upstream = &UpstreamConfig{Enabled: true, Type: "socks5", Host: "legacy", Port: 1080}
		cfg.Proxy.Upstreams = []UpstreamConfig{
			{Enabled: true, Type: "http", Host: "listed", Port: 3128},
		}

		cfg.Normalize()

		if cfg.Proxy.Upstream != nil {
			t.Error("旧版字段合并后应清空")
		}
		if len(cfg.Proxy.Upstreams) != 2 {
			t.Fatalf("合并后上游数量 = %d, want 2", len(cfg.Proxy.Upstreams))
		}
		if cfg.Proxy.Upstreams[0].Host != "legacy" {
			t.Errorf("旧版条目应排在首位: got %s", cfg.Proxy.Upstreams[0].Host)
		}
		if cfg.Proxy.Upstreams[1].Host != "listed" {
			t.Errorf("列表条目应在旧版条目之后: got %s", cfg.Proxy.Upstreams[1].Host)
		}
	})

	t.Run("策略大小写不敏感", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Proxy.LoadBalancingStrategy = "RoundRobin"
		cfg.Normalize()
		if cfg.Proxy.LoadBalancingStrategy != StrategyRoundRobin {
			t.Errorf("策略未规范化: got %s", cfg.Proxy.LoadBalancingStrategy)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("RoundRobin 应合法: %v", err)
		}
	})

	t.Run("上游类型大小写不敏感", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Proxy.Upstreams = []UpstreamConfig{
			{Enabled: true, Type: "SOCKS5", Host: "h", Port: 1080},
		}
		cfg.Normalize()
		if cfg.Proxy.Upstreams[0].Type != UpstreamSocks5 {
			t.Errorf("类型未规范化: got %s", cfg.Proxy.Upstreams[0].Type)
		}
	})

	t.Run("进程配置默认值填充", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Proxy.Upstreams = []UpstreamConfig{
			{Enabled: true, Type: "socks5", Host: "h", Port: 1080,
				Process: &ProcessConfig{AutoStart: true, FileName: "helper"}},
		}
		cfg.Normalize()

		p := cfg.Proxy.Upstreams[0].Process
		if p.StartupDelayMs != 1000 {
			t.Errorf("StartupDelayMs 默认值错误: got %d, want 1000", p.StartupDelayMs)
		}
		if p.RedirectOutput == nil || !*p.RedirectOutput {
			t.Error("RedirectOutput 默认应为 true")
		}
		if p.AutoRestart == nil || !*p.AutoRestart {
			t.Error("AutoRestart 默认应为 true")
		}
		if p.MaxRestartAttempts == nil || *p.MaxRestartAttempts != 5 {
			t.Error("MaxRestartAttempts 默认应为 5")
		}
		if p.RestartDelayMs != 3000 {
			t.Errorf("RestartDelayMs 默认值错误: got %d, want 3000", p.RestartDelayMs)
		}
	})

	t.Run("显式0次重启上限保留为不限", func(t *testing.T) {
		zero := 0
		cfg := DefaultConfig()
		cfg.Proxy.Upstreams = []UpstreamConfig{
			{Enabled: true, Type: "socks5", Host: "h", Port: 1080,
				Process: &ProcessConfig{AutoStart: true, FileName: "helper", MaxRestartAttempts: &zero}},
		}
		cfg.Normalize()

		if *cfg.Proxy.Upstreams[0].Process.MaxRestartAttempts != 0 {
			t.Error("显式配置的 0 不应被默认值覆盖")
		}
	})

	t.Run("健康检查默认值填充", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Proxy.Upstreams = []UpstreamConfig{
			{Enabled: true, Type: "socks5", Host: "h", Port: 1080,
				HealthCheck: &HealthCheckConfig{}},
		}
		cfg.Normalize()

		h := cfg.Proxy.Upstreams[0].HealthCheck
		if h.Enabled == nil || !*h.Enabled {
			t.Error("HealthCheck.Enabled 默认应为 true")
		}
		if h.IntervalMs != 30000 {
			t.Errorf("IntervalMs 默认值错误: got %d, want 30000", h.IntervalMs)
		}
		if h.TimeoutMs != 5000 {
			t.Errorf("TimeoutMs 默认值错误: got %d, want 5000", h.TimeoutMs)
		}
		if h.FailureThreshold != 3 {
			t.Errorf("FailureThreshold 默认值错误: got %d, want 3", h.FailureThreshold)
		}
	})
}

// =============================================================================
// 校验测试
// =============================================================================

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Proxy.Upstreams = []UpstreamConfig{
			{Enabled: true, Type: "socks5", Host: "127.0.0.1", Port: 1080},
		}
		cfg.Normalize()
		return cfg
	}

	t.Run("合法配置通过", func(t *testing.T) {
		if err := valid().Validate(); err != nil {
			t.Errorf("合法配置不应报错: %v", err)
		}
	})

	t.Run("端口越界", func(t *testing.T) {
		cfg := valid()
		cfg.Proxy.Port = 70000
		if err := cfg.Validate(); err == nil {
			t.Error("端口越界应报错")
		}
	})

	t.Run("CRL端口与主端口冲突", func(t *testing.T) {
		cfg := valid()
		cfg.Proxy.CrlPort = cfg.Proxy.Port
		err := cfg.Validate()
		if err == nil {
			t.Error("端口冲突应报错")
		}
		if !strings.Contains(err.Error(), "冲突") {
			t.Errorf("错误信息应包含'冲突': %v", err)
		}
	})

	t.Run("无效策略", func(t *testing.T) {
		cfg := valid()
		cfg.Proxy.LoadBalancingStrategy = "random"
		if err := cfg.Validate(); err == nil {
			t.Error("未知策略应报错")
		}
	})

	t.Run("无效上游类型", func(t *testing.T) {
		cfg := valid()
		cfg.Proxy.Upstreams[0].Type = "shadowsocks"
		if err := cfg.Validate(); err == nil {
			t.Error("未知上游类型应报错")
		}
	})

	t.Run("禁用条目不校验", func(t *testing.T) {
		cfg := valid()
		cfg.Proxy.Upstreams = append(cfg.Proxy.Upstreams,
			UpstreamConfig{Enabled: false, Type: "bogus", Host: "h", Port: -1})
		if err := cfg.Validate(); err != nil {
			t.Errorf("禁用条目不应校验: %v", err)
		}
	})

	t.Run("托管进程缺少文件名", func(t *testing.T) {
		cfg := valid()
		cfg.Proxy.Upstreams[0].Process = &ProcessConfig{AutoStart: true}
		cfg.Normalize()
		if err := cfg.Validate(); err == nil {
			t.Error("auto_start 进程缺少 file_name 应报错")
		}
	})
}

// =============================================================================
// EnabledUpstreams 与 HealthCheckActive
// =============================================================================

func TestEnabledUpstreams(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Proxy.Upstreams = []UpstreamConfig{
		{Enabled: true, Type: "socks5", Host: "a", Port: 1},
		{Enabled: false, Type: "socks5", Host: "b", Port: 2},
		{Enabled: true, Type: "http", Host: "c", Port: 3},
	}
	cfg.Normalize()

	enabled := cfg.Proxy.EnabledUpstreams()
	if len(enabled) != 2 {
		t.Fatalf("启用上游数量 = %d, want 2", len(enabled))
	}
	if enabled[0].Host != "a" || enabled[1].Host != "c" {
		t.Errorf("启用上游顺序错误: %v", enabled)
	}
}

func TestHealthCheckActive(t *testing.T) {
	tests := []struct {
		name string
		u    UpstreamConfig
		want bool
	}{
		{
			"托管进程且有host时生效",
			UpstreamConfig{Enabled: true, Type: "socks5", Host: "127.0.0.1", Port: 1080,
				Process:     &ProcessConfig{AutoStart: true, FileName: "x"},
				HealthCheck: &HealthCheckConfig{}},
			true,
		},
		{
			"无托管进程时加载但不生效",
			UpstreamConfig{Enabled: true, Type: "socks5", Host: "127.0.0.1", Port: 1080,
				HealthCheck: &HealthCheckConfig{}},
			false,
		},
		{
			"进程未自启时不生效",
			UpstreamConfig{Enabled: true, Type: "socks5", Host: "127.0.0.1", Port: 1080,
				Process:     &ProcessConfig{AutoStart: false},
				HealthCheck: &HealthCheckConfig{}},
			false,
		},
		{
			"host为空时不生效",
			UpstreamConfig{Enabled: true, Type: "socks5", Port: 1080,
				Process:     &ProcessConfig{AutoStart: true, FileName: "x"},
				HealthCheck: &HealthCheckConfig{}},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Proxy.Upstreams = []UpstreamConfig{tt.u}
			cfg.Normalize()
			if got := cfg.Proxy.Upstreams[0].HealthCheckActive(); got != tt.want {
				t.Errorf("HealthCheckActive = %v, want %v", got, tt.want)
			}
		})
	}
}

// =============================================================================
// 配置文件加载测试
// =============================================================================

func TestLoad(t *testing.T) {
	t.Run("文件不存在", func(t *testing.T) {
		if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
			t.Error("加载不存在的文件应该报错")
		}
	})

	t.Run("有效配置文件", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.yaml")

		content := `
log_level: "debug"
proxy:
  port: 18080
  use_https: true
  crl_port: 18081
  load_balancing_strategy: "RoundRobin"
  upstream:
    enabled: true
    type: "SOCKS5"
    host: "127.0.0.1"
    port: 1080
  upstreams:
    - enabled: true
      type: "http"
      host: "proxy.example.com"
      port: 3128
`
		if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
			t.Fatalf("创建临时配置文件失败: %v", err)
		}

		cfg, err := Load(configPath)
		if err != nil {
			t.Fatalf("加载配置文件失败: %v", err)
		}

		if cfg.Proxy.Port != 18080 {
			t.Errorf("Port = %d, want 18080", cfg.Proxy.Port)
		}
		if !cfg.Proxy.UseHTTPS {
			t.Error("UseHTTPS 应为 true")
		}
		if cfg.Proxy.LoadBalancingStrategy != StrategyRoundRobin {
			t.Errorf("策略 = %s, want roundrobin", cfg.Proxy.LoadBalancingStrategy)
		}
		if len(cfg.Proxy.Upstreams) != 2 {
			t.Fatalf("合并后上游数量 = %d, want 2", len(cfg.Proxy.Upstreams))
		}
		if cfg.Proxy.Upstreams[0].Type != UpstreamSocks5 {
			t.Errorf("旧版条目类型 = %s, want socks5", cfg.Proxy.Upstreams[0].Type)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %s, want debug", cfg.LogLevel)
		}
	})

	t.Run("无效YAML格式", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "invalid.yaml")

		invalid := `
proxy:
    port: 8080
  bad: indentation
`
		if err := os.WriteFile(configPath, []byte(invalid), 0644); err != nil {
			t.Fatalf("创建临时配置文件失败: %v", err)
		}

		if _, err := Load(configPath); err == nil {
			t.Error("解析无效YAML应该报错")
		}
	})

	t.Run("非法配置被校验拦截", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "bad.yaml")

		content := `
proxy:
  port: 8080
  load_balancing_strategy: "random"
`
		if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
			t.Fatalf("创建临时配置文件失败: %v", err)
		}

		if _, err := Load(configPath); err == nil {
			t.Error("非法策略应在加载时报错")
		}
	})
}

// =============================================================================
// 示例配置生成测试
// =============================================================================

func TestWriteExampleConfig(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "example.yaml")

	if err := WriteExampleConfig(path); err != nil {
		t.Fatalf("写入示例配置失败: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("读取示例配置失败: %v", err)
	}
	if !strings.Contains(string(data), "load_balancing_strategy") {
		t.Error("示例配置缺少关键字段")
	}
}
