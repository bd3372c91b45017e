// =============================================================================
// 文件: internal/config/config.go
// 描述: 配置管理 - 代理监听、上游列表、辅助进程与健康检查配置
//       负责默认值填充、合法性校验和旧版单上游字段的合并
// =============================================================================
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// 负载均衡策略（规范化后的小写形式）
const (
	StrategyFailover   = "failover"
	StrategyRoundRobin = "roundrobin"
)

// 上游类型（规范化后的小写形式）
const (
	UpstreamSocks5 = "socks5"
	UpstreamHTTP   = "http"
	UpstreamDirect = "direct"
)

// Config 主配置
type Config struct {
	LogLevel string `yaml:"log_level"`

	Proxy   ProxyConfig   `yaml:"proxy"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ProxyConfig 代理配置
type ProxyConfig struct {
	Port     int  `yaml:"port"`
	UseHTTPS bool `yaml:"use_https"`
	CrlPort  int  `yaml:"crl_port"`

	// 服务端证书对；留空且启用 HTTPS 时自动生成自签名证书
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// failover 或 roundRobin（大小写不敏感）
	LoadBalancingStrategy string `yaml:"load_balancing_strategy"`

	// 旧版单上游字段，加载后合并到 Upstreams 列表头部
	Upstream  *UpstreamConfig  `yaml:"upstream"`
	Upstreams []UpstreamConfig `yaml:"upstreams"`
}

// UpstreamConfig 单个上游配置
type UpstreamConfig struct {
	Enabled bool   `yaml:"enabled"`
	Type    string `yaml:"type"` // socks5, http, direct（大小写不敏感）
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`

	Process     *ProcessConfig     `yaml:"process"`
	HealthCheck *HealthCheckConfig `yaml:"health_check"`
}

// ProcessConfig 辅助进程配置
// 路径与参数字段在启动时做 %NAME% 环境变量展开
type ProcessConfig struct {
	AutoStart        bool     `yaml:"auto_start"`
	FileName         string   `yaml:"file_name"`
	Arguments        []string `yaml:"arguments"`
	WorkingDirectory string   `yaml:"working_directory"`

	StartupDelayMs int `yaml:"startup_delay_ms"` // 默认 1000

	// 指针字段区分"未配置"与显式 false/0
	RedirectOutput     *bool `yaml:"redirect_output"`      // 默认 true
	AutoRestart        *bool `yaml:"auto_restart"`         // 默认 true
	MaxRestartAttempts *int  `yaml:"max_restart_attempts"` // 默认 5，0 = 不限次数

	RestartDelayMs int `yaml:"restart_delay_ms"` // 默认 3000
}

// HealthCheckConfig 健康检查配置
// 仅在所属上游 process.auto_start=true 时生效
type HealthCheckConfig struct {
	Enabled          *bool `yaml:"enabled"` // 默认 true
	IntervalMs       int   `yaml:"interval_ms"`
	TimeoutMs        int   `yaml:"timeout_ms"`
	FailureThreshold int   `yaml:"failure_threshold"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Listen      string `yaml:"listen"`
	Path        string `yaml:"path"`
	HealthPath  string `yaml:"health_path"`
	EnablePprof bool   `yaml:"enable_pprof"`
}

// Load 加载配置
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",

		Proxy: ProxyConfig{
			Port:                  8080,
			UseHTTPS:              false,
			CrlPort:               0,
			LoadBalancingStrategy: StrategyFailover,
		},

		Metrics: MetricsConfig{
			Enabled:    false,
			Listen:     ":9100",
			Path:       "/metrics",
			HealthPath: "/health",
		},
	}
}

// Normalize 合并旧版字段并填充默认值
// 必须在 Validate 之前调用；Load 自动处理
func (c *Config) Normalize() {
	// 1. 旧版单上游并入列表头部（配置顺序对 failover 有含义）
	if c.Proxy.Upstream != nil {
		c.Proxy.Upstreams = append([]UpstreamConfig{*c.Proxy.Upstream}, c.Proxy.Upstreams...)
		c.Proxy.Upstream = nil
	}

	// 2. 策略与上游类型统一为小写
	c.Proxy.LoadBalancingStrategy = strings.ToLower(strings.TrimSpace(c.Proxy.LoadBalancingStrategy))
	if c.Proxy.LoadBalancingStrategy == "" {
		c.Proxy.LoadBalancingStrategy = StrategyFailover
	}

	for i := range c.Proxy.Upstreams {
		u := &c.Proxy.Upstreams[i]
		u.Type = strings.ToLower(strings.TrimSpace(u.Type))

		if u.Process != nil {
			p := u.Process
			if p.StartupDelayMs == 0 {
				p.StartupDelayMs = 1000
			}
			if p.RedirectOutput == nil {
				p.RedirectOutput = boolPtr(true)
			}
			if p.AutoRestart == nil {
				p.AutoRestart = boolPtr(true)
			}
			if p.MaxRestartAttempts == nil {
				p.MaxRestartAttempts = intPtr(5)
			}
			if p.RestartDelayMs == 0 {
				p.RestartDelayMs = 3000
			}
		}

		if u.HealthCheck != nil {
			h := u.HealthCheck
			if h.Enabled == nil {
				h.Enabled = boolPtr(true)
			}
			if h.IntervalMs == 0 {
				h.IntervalMs = 30000
			}
			if h.TimeoutMs == 0 {
				h.TimeoutMs = 5000
			}
			if h.FailureThreshold == 0 {
				h.FailureThreshold = 3
			}
		}
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = ":9100"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.HealthPath == "" {
		c.Metrics.HealthPath = "/health"
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Proxy.Port < 1 || c.Proxy.Port > 65535 {
		return fmt.Errorf("proxy.port 无效: %d", c.Proxy.Port)
	}

	if c.Proxy.CrlPort != 0 {
		if c.Proxy.CrlPort < 1 || c.Proxy.CrlPort > 65535 {
			return fmt.Errorf("proxy.crl_port 无效: %d", c.Proxy.CrlPort)
		}
		if c.Proxy.CrlPort == c.Proxy.Port {
			return fmt.Errorf("proxy.crl_port (%d) 与 proxy.port 冲突", c.Proxy.CrlPort)
		}
	}

	switch c.Proxy.LoadBalancingStrategy {
	case StrategyFailover, StrategyRoundRobin:
	default:
		return fmt.Errorf("无效的负载均衡策略: %s (支持: failover, roundRobin)",
			c.Proxy.LoadBalancingStrategy)
	}

	for i := range c.Proxy.Upstreams {
		u := &c.Proxy.Upstreams[i]
		if !u.Enabled {
			continue
		}

		switch u.Type {
		case UpstreamSocks5, UpstreamHTTP, UpstreamDirect:
		default:
			return fmt.Errorf("upstreams[%d].type 无效: %s (支持: socks5, http, direct)", i, u.Type)
		}

		if u.Host != "" {
			if u.Port < 1 || u.Port > 65535 {
				return fmt.Errorf("upstreams[%d].port 无效: %d", i, u.Port)
			}
		}

		if u.Process != nil && u.Process.AutoStart && u.Process.FileName == "" {
			return fmt.Errorf("upstreams[%d].process.file_name 不能为空", i)
		}

		if u.Process != nil {
			if *u.Process.MaxRestartAttempts < 0 {
				return fmt.Errorf("upstreams[%d].process.max_restart_attempts 不能为负数", i)
			}
			if u.Process.RestartDelayMs < 0 || u.Process.StartupDelayMs < 0 {
				return fmt.Errorf("upstreams[%d].process 延迟配置不能为负数", i)
			}
		}

		if u.HealthCheck != nil {
			h := u.HealthCheck
			if h.IntervalMs < 1 {
				return fmt.Errorf("upstreams[%d].health_check.interval_ms 无效: %d", i, h.IntervalMs)
			}
			if h.TimeoutMs < 1 {
				return fmt.Errorf("upstreams[%d].health_check.timeout_ms 无效: %d", i, h.TimeoutMs)
			}
			if h.FailureThreshold < 1 {
				return fmt.Errorf("upstreams[%d].health_check.failure_threshold 无效: %d", i, h.FailureThreshold)
			}
		}
	}

	return nil
}

// EnabledUpstreams 返回启用的上游（保持配置顺序）
func (p *ProxyConfig) EnabledUpstreams() []UpstreamConfig {
	var enabled []UpstreamConfig
	for _, u := range p.Upstreams {
		if u.Enabled {
			enabled = append(enabled, u)
		}
	}
	return enabled
}

// HealthCheckActive 健康检查是否实际生效
// 仅当上游进程托管 (auto_start=true) 且 host 非空时才探测
func (u *UpstreamConfig) HealthCheckActive() bool {
	return u.HealthCheck != nil && *u.HealthCheck.Enabled &&
		u.Process != nil && u.Process.AutoStart &&
		u.Host != ""
}

func boolPtr(v bool) *bool { return &v }
func intPtr(v int) *int    { return &v }

// =============================================================================
// 配置文件示例生成
// =============================================================================

// GenerateExampleConfig 生成示例配置
func GenerateExampleConfig() string {
	return `# Specter Proxy 配置文件示例
# =============================================================================

log_level: "info"                   # 日志级别: debug, info, warn, error

proxy:
  port: 8080                        # 监听端口（双栈）
  use_https: false                  # 在监听端口同时接受 TLS 包裹的代理请求
  crl_port: 0                       # CRL 分发端口 (0 = 禁用)
  cert_file: ""                     # 服务端证书 (PEM)；留空自动生成自签名
  key_file: ""                      # 服务端私钥 (PEM)
  load_balancing_strategy: "failover"  # failover 或 roundRobin

  # 上游列表，顺序对 failover 和 roundRobin 起始轮转有含义
  upstreams:
    # SOCKS5 上游，由本代理托管其进程并做健康检查
    - enabled: false
      type: "socks5"
      host: "127.0.0.1"
      port: 1080
      process:
        auto_start: true
        file_name: "%USERPROFILE%/tools/socks-helper"
        arguments: ["-port", "1080"]
        working_directory: ""
        startup_delay_ms: 1000
        redirect_output: true
        auto_restart: true
        max_restart_attempts: 5     # 0 = 不限次数
        restart_delay_ms: 3000
      health_check:
        enabled: true
        interval_ms: 30000
        timeout_ms: 5000
        failure_threshold: 3

    # HTTP CONNECT 上游
    - enabled: false
      type: "http"
      host: "proxy.example.com"
      port: 3128

# Prometheus 监控
metrics:
  enabled: false
  listen: ":9100"                   # 监控端口
  path: "/metrics"                  # Prometheus 指标路径
  health_path: "/health"            # 健康检查路径
  enable_pprof: false               # 启用 pprof
`
}

// WriteExampleConfig 写入示例配置文件
func WriteExampleConfig(path string) error {
	return os.WriteFile(path, []byte(GenerateExampleConfig()), 0644)
}
