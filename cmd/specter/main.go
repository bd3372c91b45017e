// =============================================================================
// 文件: cmd/specter/main.go
// 描述: 主程序入口 - 组装监听器、上游选择器、辅助进程监管与 CRL 端点，
//       统一处理退出信号与幂等清理
// =============================================================================
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/mrcgq/310/internal/certs"
	"github.com/mrcgq/310/internal/config"
	"github.com/mrcgq/310/internal/crl"
	"github.com/mrcgq/310/internal/logging"
	"github.com/mrcgq/310/internal/metrics"
	"github.com/mrcgq/310/internal/proxy"
	"github.com/mrcgq/310/internal/supervisor"
	"github.com/mrcgq/310/internal/upstream"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("c", "config.yaml", "配置文件路径")
	showVersion := flag.Bool("v", false, "显示版本")
	genConfig := flag.Bool("gen-config", false, "生成示例配置文件")
	port := flag.Int("port", 0, "覆盖监听端口")
	logLevel := flag.String("log-level", "", "覆盖日志级别: debug/info/warn/error")
	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	if *genConfig {
		if err := config.WriteExampleConfig("config.example.yaml"); err != nil {
			fmt.Fprintf(os.Stderr, "生成配置失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("已生成示例配置文件: config.example.yaml")
		return
	}

	// 加载配置；默认路径不存在时退回内置默认值
	var cfg *config.Config
	if _, err := os.Stat(*configPath); os.IsNotExist(err) && !isFlagSet("c") {
		cfg = config.DefaultConfig()
		cfg.Normalize()
	} else {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
			os.Exit(1)
		}
	}

	if *port != 0 {
		cfg.Proxy.Port = *port
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	logging.SetLevel(logging.ParseLevel(cfg.LogLevel))

	log := logging.New("Main")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics 服务
	var metricsServer *metrics.Server
	var proxyMetrics *metrics.ProxyMetrics
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(
			cfg.Metrics.Listen,
			cfg.Metrics.Path,
			cfg.Metrics.HealthPath,
			cfg.Metrics.EnablePprof,
		)
		proxyMetrics = metrics.NewProxyMetrics(metricsServer.Registry())
		if err := metricsServer.Start(); err != nil {
			log.Errorf("Metrics 启动失败: %v", err)
		}
	}

	// 启动托管的辅助进程；单个失败只记录，不影响代理本体
	var supervisors []*supervisor.Supervisor
	for _, u := range cfg.Proxy.EnabledUpstreams() {
		if u.Process == nil || !u.Process.AutoStart {
			continue
		}
		sup := supervisor.New(u)
		if proxyMetrics != nil {
			sup.SetMetrics(proxyMetrics)
		}
		if err := sup.Start(ctx); err != nil {
			log.Errorf("辅助进程启动失败: %v", err)
			continue
		}
		supervisors = append(supervisors, sup)
	}

	// HTTPS 监听需要服务端证书，取不到视为致命错误
	var cert *tls.Certificate
	if cfg.Proxy.UseHTTPS {
		var err error
		cert, err = certs.Load(cfg.Proxy.CertFile, cfg.Proxy.KeyFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "证书获取失败: %v\n", err)
			os.Exit(1)
		}
	}

	// CRL 分发端点
	var crlResponder *crl.Responder
	if cert != nil && cfg.Proxy.CrlPort > 0 {
		crlBytes, err := certs.BuildCRL(cert)
		if err != nil {
			log.Warnf("CRL 生成失败，端点不启动: %v", err)
		} else {
			crlResponder = crl.NewResponder(cfg.Proxy.CrlPort, crlBytes)
			crlResponder.Start()
		}
	}

	// 组装代理
	selector := upstream.NewSelector(&cfg.Proxy)
	handler := proxy.NewHandler(selector, cert)
	server := proxy.NewServer(cfg.Proxy.Port, handler)
	if proxyMetrics != nil {
		selector.SetMetrics(proxyMetrics)
		handler.SetMetrics(proxyMetrics)
		server.SetMetrics(proxyMetrics)
	}

	if err := server.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "启动失败: %v\n", err)
		os.Exit(1)
	}

	printBanner(cfg)

	// 中断信号与正常退出共用同一套幂等清理
	var cleanupOnce sync.Once
	cleanup := func() {
		cleanupOnce.Do(func() {
			log.Infof("正在关闭...")
			cancel()
			server.Close()
			if crlResponder != nil {
				crlResponder.Stop()
			}
			if metricsServer != nil {
				metricsServer.Stop()
			}
			for _, sup := range supervisors {
				sup.Stop()
			}
			log.Infof("已退出")
		})
	}
	defer cleanup()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	cleanup()
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func printVersion() {
	fmt.Printf("Specter Proxy %s\n", Version)
	fmt.Printf("  构建时间: %s\n", BuildTime)
	fmt.Printf("  Git 提交: %s\n", GitCommit)
	fmt.Printf("  Go 版本:  %s (%s/%s)\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func printBanner(cfg *config.Config) {
	fmt.Println("=============================================")
	fmt.Printf(" Specter Proxy %s\n", Version)
	fmt.Printf(" 监听端口:   %d\n", cfg.Proxy.Port)
	fmt.Printf(" HTTPS 监听: %v\n", cfg.Proxy.UseHTTPS)
	fmt.Printf(" 负载策略:   %s\n", cfg.Proxy.LoadBalancingStrategy)
	fmt.Printf(" 上游数量:   %d\n", len(cfg.Proxy.EnabledUpstreams()))
	if cfg.Proxy.CrlPort > 0 {
		fmt.Printf(" CRL 端口:   %d\n", cfg.Proxy.CrlPort)
	}
	if cfg.Metrics.Enabled {
		fmt.Printf(" Metrics:    %s%s\n", cfg.Metrics.Listen, cfg.Metrics.Path)
	}
	fmt.Println("=============================================")
}
