//go:build !windows

// 进程树控制 (Unix): 没有作业对象，退而以进程组整树收割
// 约束弱于 Windows 的 KILL_ON_JOB_CLOSE —— 监管器被绕过时无兜底
package supervisor

import (
	"os"
	"os/exec"
	"syscall"
)

type processJob struct{}

func newProcessJob() (*processJob, error) {
	return &processJob{}, nil
}

// Assign Unix 上无作业对象，进程组在 setPlatformProcAttr 已建立
func (j *processJob) Assign(p *os.Process) error {
	return nil
}

// Terminate 向进程组发送 SIGKILL，进程本体兜底
func (j *processJob) Terminate(p *os.Process) {
	if p == nil {
		return
	}
	_ = syscall.Kill(-p.Pid, syscall.SIGKILL)
	_ = p.Kill()
}

func (j *processJob) Close() {}

// setPlatformProcAttr 子进程放入独立进程组，便于整树终止
func setPlatformProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// politeTerminate 向进程组发送 SIGTERM
func politeTerminate(p *os.Process) {
	if p == nil {
		return
	}
	_ = syscall.Kill(-p.Pid, syscall.SIGTERM)
}
