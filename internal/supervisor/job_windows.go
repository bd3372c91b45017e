//go:build windows

// 进程树控制 (Windows): 作业对象 + KILL_ON_JOB_CLOSE
// 句柄释放即终止组内全部进程及其后代
package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

type processJob struct {
	handle windows.Handle
}

func newProcessJob() (*processJob, error) {
	h, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create job object: %w", err)
	}

	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{}
	info.BasicLimitInformation.LimitFlags = windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE
	if _, err := windows.SetInformationJobObject(
		h,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
	); err != nil {
		windows.CloseHandle(h)
		return nil, fmt.Errorf("set job object limits: %w", err)
	}

	return &processJob{handle: h}, nil
}

// Assign 子进程加入作业对象
func (j *processJob) Assign(p *os.Process) error {
	if p == nil {
		return nil
	}
	ph, err := windows.OpenProcess(
		windows.PROCESS_SET_QUOTA|windows.PROCESS_TERMINATE, false, uint32(p.Pid))
	if err != nil {
		return fmt.Errorf("open process %d: %w", p.Pid, err)
	}
	defer windows.CloseHandle(ph)
	return windows.AssignProcessToJobObject(j.handle, ph)
}

// Terminate 终止作业内全部进程
func (j *processJob) Terminate(p *os.Process) {
	_ = windows.TerminateJobObject(j.handle, 1)
	if p != nil {
		_ = p.Kill()
	}
}

// Close 释放句柄；KILL_ON_JOB_CLOSE 保证残余进程随之终止
func (j *processJob) Close() {
	windows.CloseHandle(j.handle)
}

// setPlatformProcAttr 隐藏窗口并建立新进程组（CTRL_BREAK 需要）
func setPlatformProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP,
	}
}

// politeTerminate 向进程组发送 CTRL_BREAK，请求正常退出
func politeTerminate(p *os.Process) {
	if p == nil {
		return
	}
	_ = windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(p.Pid))
}
