// =============================================================================
// 文件: internal/supervisor/supervisor.go
// 描述: 辅助进程监管 - 启动配置的上游辅助进程，捕获输出，崩溃后按
//       限次重启，主动 TCP 健康检查连续失败时立即重启
// =============================================================================
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mrcgq/310/internal/config"
	"github.com/mrcgq/310/internal/logging"
	"github.com/mrcgq/310/internal/metrics"
)

const (
	// 崩溃监控轮询间隔
	crashPollInterval = 1 * time.Second

	// Stop 各阶段等待上限
	monitorStopWait  = 2 * time.Second
	politeStopWait   = 5 * time.Second
	forcefulStopWait = 2 * time.Second
)

// Supervisor 单个辅助进程的监管器
// 公开接口 Start/Stop 由编排层串行调用，内部状态以 mu 保护
type Supervisor struct {
	name string
	proc config.ProcessConfig

	// 健康检查目标（上游的 host:port）
	health       *config.HealthCheckConfig
	healthActive bool
	host         string
	port         int

	job    *processJob
	cmd    *exec.Cmd
	exited chan struct{}

	restartAttempts int
	stopping        atomic.Bool
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	mu              sync.Mutex

	log     *logging.Logger
	metrics *metrics.ProxyMetrics
}

// New 为携带 process 配置的上游创建监管器
func New(u config.UpstreamConfig) *Supervisor {
	name := filepath.Base(ExpandEnv(u.Process.FileName))
	return &Supervisor{
		name:         name,
		proc:         *u.Process,
		health:       u.HealthCheck,
		healthActive: u.HealthCheckActive(),
		host:         u.Host,
		port:         u.Port,
		log:          logging.New("Supervisor:" + name),
	}
}

// SetMetrics 挂接指标收集器
func (s *Supervisor) SetMetrics(m *metrics.ProxyMetrics) {
	s.metrics = m
}

// Name 返回进程标识
func (s *Supervisor) Name() string {
	return s.name
}

// RestartAttempts 返回崩溃重启计数（健康检查重启不计入）
func (s *Supervisor) RestartAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restartAttempts
}

// Pid 返回当前子进程 PID，未运行时为 0
func (s *Supervisor) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil && s.cmd.Process != nil && !s.exitedLocked() {
		return s.cmd.Process.Pid
	}
	return 0
}

// Start 启动子进程与监控任务
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 作业句柄先于子进程创建，保证句柄始终覆盖全部衍生进程
	job, err := newProcessJob()
	if err != nil {
		return fmt.Errorf("supervisor %s: %w", s.name, err)
	}
	s.job = job

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if err := s.launchLocked(); err != nil {
		cancel()
		job.Close()
		return err
	}

	if *s.proc.AutoRestart {
		s.wg.Add(1)
		go s.crashMonitor(runCtx)
	}
	if s.healthActive {
		s.wg.Add(1)
		go s.healthMonitor(runCtx)
	}

	return nil
}

// launchLocked 展开配置并拉起子进程，等待启动延迟后确认存活
// 调用方必须持有 mu
func (s *Supervisor) launchLocked() error {
	fileName := ExpandEnv(s.proc.FileName)
	args := make([]string, len(s.proc.Arguments))
	for i, a := range s.proc.Arguments {
		args[i] = ExpandEnv(a)
	}

	cmd := exec.Command(fileName, args...)
	if wd := ExpandEnv(s.proc.WorkingDirectory); wd != "" {
		cmd.Dir = wd
	}
	setPlatformProcAttr(cmd)

	var stdout, stderr io.ReadCloser
	if *s.proc.RedirectOutput {
		var err error
		stdout, err = cmd.StdoutPipe()
		if err != nil {
			return fmt.Errorf("supervisor %s: stdout pipe: %w", s.name, err)
		}
		stderr, err = cmd.StderrPipe()
		if err != nil {
			stdout.Close()
			return fmt.Errorf("supervisor %s: stderr pipe: %w", s.name, err)
		}
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("supervisor %s: 启动失败: %w", s.name, err)
	}

	if err := s.job.Assign(cmd.Process); err != nil {
		s.log.Warnf("进程加入作业对象失败: %v", err)
	}

	exited := make(chan struct{})
	go func() {
		cmd.Wait()
		close(exited)
	}()

	if stdout != nil {
		go s.scanOutput(stdout, false)
	}
	if stderr != nil {
		go s.scanOutput(stderr, true)
	}

	s.cmd = cmd
	s.exited = exited
	s.log.Infof("进程已启动: %s (PID %d)", fileName, cmd.Process.Pid)

	// 启动延迟内退出视为启动失败
	time.Sleep(time.Duration(s.proc.StartupDelayMs) * time.Millisecond)
	select {
	case <-exited:
		code := exitCodeOf(cmd)
		s.log.Errorf("进程在启动延迟内退出 (code %d)", code)
		return fmt.Errorf("supervisor %s: 进程启动后立即退出 (code %d)", s.name, code)
	default:
	}

	return nil
}

// scanOutput 捕获子进程输出并转为日志
func (s *Supervisor) scanOutput(r io.Reader, isStderr bool) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if isStderr {
			s.log.Warnf("[stderr] %s", scanner.Text())
		} else {
			s.log.Infof("[stdout] %s", scanner.Text())
		}
	}
}

// =============================================================================
// 崩溃监控
// =============================================================================

// crashMonitor 每秒检查子进程是否退出，按限次延迟重启
func (s *Supervisor) crashMonitor(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(crashPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if s.stopping.Load() {
			return
		}

		s.mu.Lock()
		exited := s.exitedLocked()
		code := 0
		if exited {
			code = exitCodeOf(s.cmd)
		}
		attempts := s.restartAttempts
		s.mu.Unlock()

		if !exited {
			continue
		}

		max := *s.proc.MaxRestartAttempts
		if max > 0 && attempts >= max {
			s.log.Errorf("达到最大重启次数 (%d)，停止重启", max)
			return
		}

		delay := time.Duration(s.proc.RestartDelayMs) * time.Millisecond
		s.log.Warnf("进程异常退出 (code %d)，%v 后重启 (第 %d 次，上限 %s)",
			code, delay, attempts+1, formatMax(max))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		if s.stopping.Load() {
			return
		}

		s.mu.Lock()
		s.restartAttempts++
		err := s.launchLocked()
		s.mu.Unlock()

		if err != nil {
			s.log.Errorf("重启失败: %v", err)
			continue
		}
		if s.metrics != nil {
			s.metrics.ObserveSupervisorRestart(s.name, "crash")
		}
	}
}

// =============================================================================
// 健康监控
// =============================================================================

// healthMonitor 周期性 TCP 探测，连续失败达到阈值时立即重启
// 健康检查触发的重启不增加 restartAttempts，也不受重启次数上限约束
func (s *Supervisor) healthMonitor(ctx context.Context) {
	defer s.wg.Done()

	interval := time.Duration(s.health.IntervalMs) * time.Millisecond
	timeout := time.Duration(s.health.TimeoutMs) * time.Millisecond
	threshold := s.health.FailureThreshold
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))

	// 首次探测前等待一个完整周期，给进程留出初始化时间
	select {
	case <-ctx.Done():
		return
	case <-time.After(interval):
	}

	failures := 0
	for {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			if failures > 0 {
				s.log.Infof("健康检查恢复: %s (此前连续失败 %d 次)", addr, failures)
			}
			failures = 0
		} else {
			if ctx.Err() != nil {
				return
			}
			failures++
			s.log.Warnf("健康检查失败: %s (%d/%d): %v", addr, failures, threshold, err)

			if failures >= threshold {
				failures = 0
				s.log.Warnf("连续失败达到阈值，立即重启进程")
				s.respawnForHealth()
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// respawnForHealth 健康检查触发的重启：先终止可能僵死的旧进程再拉起
func (s *Supervisor) respawnForHealth() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopping.Load() {
		return
	}

	if !s.exitedLocked() {
		s.job.Terminate(s.cmd.Process)
		select {
		case <-s.exited:
		case <-time.After(forcefulStopWait):
			s.log.Warnf("旧进程未在 %v 内退出", forcefulStopWait)
		}
	}

	if err := s.launchLocked(); err != nil {
		s.log.Errorf("健康重启失败: %v", err)
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveSupervisorRestart(s.name, "health")
	}
}

// =============================================================================
// 停止
// =============================================================================

// Stop 优雅停止：标记 stopping、收敛监控任务、先礼后兵地终止子进程，
// 最后释放作业句柄（Windows 上这一步兜底杀掉全部残余进程）
func (s *Supervisor) Stop() {
	// 先置 stopping 再取消监控，抑制收尾期间的误重启
	s.stopping.Store(true)
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(monitorStopWait):
		s.log.Warnf("监控任务未在 %v 内退出", monitorStopWait)
	}

	s.mu.Lock()
	cmd := s.cmd
	exited := s.exited
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil && !chanClosed(exited) {
		politeTerminate(cmd.Process)
		select {
		case <-exited:
		case <-time.After(politeStopWait):
			s.log.Warnf("进程未响应终止请求，强制结束进程树")
			s.job.Terminate(cmd.Process)
			select {
			case <-exited:
			case <-time.After(forcefulStopWait):
				s.log.Errorf("进程树强制结束超时")
			}
		}
	}

	if s.job != nil {
		s.job.Close()
	}
	s.log.Infof("已停止")
}

// =============================================================================
// 辅助函数
// =============================================================================

// exitedLocked 子进程是否已退出（需持有 mu）
func (s *Supervisor) exitedLocked() bool {
	return chanClosed(s.exited)
}

func chanClosed(ch chan struct{}) bool {
	if ch == nil {
		return true
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func exitCodeOf(cmd *exec.Cmd) int {
	if cmd == nil || cmd.ProcessState == nil {
		return 0
	}
	return cmd.ProcessState.ExitCode()
}

func formatMax(max int) string {
	if max == 0 {
		return "不限"
	}
	return strconv.Itoa(max)
}
