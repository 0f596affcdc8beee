package manager

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ExecutorStatus is the outcome of a non-blocking Check on a spawned
// executor process.
type ExecutorStatus int

const (
	// Running means the child has neither exited nor been signaled yet.
	Running ExecutorStatus = iota
	// Finished means the child exited normally, carrying its exit code.
	Finished
	// FinishedFail means the child was killed by a signal, or its status
	// could not be determined (signal/-1).
	FinishedFail
)

// ActiveExecutor tracks one spawned executor process: identity, resources
// granted, connections opened against it, and allocation timestamps.
type ActiveExecutor struct {
	PID               int
	Cores             int16
	Connections       []string
	AllocationBegin   time.Time
	AllocationFinished time.Time

	kind    SandboxKind
	cmd     *exec.Cmd
	logFile *os.File
}

// Check performs a non-blocking wait on the child, returning its current
// status plus an exit code (valid when Finished) or signal number (valid,
// possibly -1, when FinishedFail).
func (e *ActiveExecutor) Check() (ExecutorStatus, int, error) {
	if e.cmd == nil || e.cmd.Process == nil {
		return FinishedFail, -1, fmt.Errorf("manager: executor %d has no process", e.PID)
	}

	var ws syscall.WaitStatus
	pid, err := syscall.Wait4(e.cmd.Process.Pid, &ws, syscall.WNOHANG, nil)
	if err != nil {
		return FinishedFail, -1, err
	}
	if pid == 0 {
		return Running, 0, nil
	}

	e.AllocationFinished = time.Now()
	if ws.Exited() {
		return Finished, ws.ExitStatus(), nil
	}
	if ws.Signaled() {
		return FinishedFail, int(ws.Signal()), nil
	}
	return FinishedFail, -1, nil
}

// spawnCounter tracks how many executors this process has spawned, reset
// back to zero every 36 spawns. The 36-spawn rollover has no other
// significance observed in this codebase; it is preserved verbatim rather
// than replaced with an unbounded counter.
var spawnCounter int

// SpawnProcess launches the bare executor binary directly via fork+exec,
// the Process sandbox kind.
func SpawnProcess(executorPath string, args []string, log *zap.Logger) (*ActiveExecutor, error) {
	return spawnWithArgv(SandboxProcess, executorPath, args, log)
}

// SpawnDocker launches the executor binary inside a docker_rdma_sriov
// container, prepending the docker run invocation to the argument vector.
func SpawnDocker(sandbox SandboxConfiguration, docker DockerSettings, innerArgs []string, log *zap.Logger) (*ActiveExecutor, error) {
	args := buildContainerArgs("docker_rdma_sriov", sandbox, docker, innerArgs)
	return spawnWithArgv(SandboxDocker, "docker_rdma_sriov", args, log)
}

// SpawnSarus launches the executor binary inside a Sarus container. The
// sandbox configuration's user only fills the {user} template of its
// mount_filesystem entries; its name is not used.
func SpawnSarus(sandbox SandboxConfiguration, docker DockerSettings, innerArgs []string, log *zap.Logger) (*ActiveExecutor, error) {
	args := buildContainerArgs("sarus", sandbox, docker, innerArgs)
	return spawnWithArgv(SandboxSarus, "sarus", args, log)
}

func buildContainerArgs(launcher string, sandbox SandboxConfiguration, docker DockerSettings, innerArgs []string) []string {
	args := []string{
		"run", "--rm", "-i",
		"--net=" + docker.Network,
		"--ip=" + docker.IP,
		"--volume", docker.Volume + ":/opt",
		fmt.Sprintf("%s:%d/%s", docker.RegistryIP, docker.RegistryPort, docker.Image),
	}
	for _, dev := range sandbox.Devices {
		args = append(args, "--device", dev)
	}
	for _, m := range sandbox.ExpandMountFilesystem() {
		args = append(args, "--volume", m)
	}
	for k, v := range sandbox.Env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	args = append(args, "/opt/bin/executor")
	args = append(args, innerArgs...)
	_ = launcher
	return args
}

// spawnWithArgv performs the common child-process setup shared by every
// sandbox kind: open a per-pid log file, duplicate it over stdout and
// stderr, and exec the chosen program.
func spawnWithArgv(kind SandboxKind, program string, args []string, log *zap.Logger) (*ActiveExecutor, error) {
	if log == nil {
		log = zap.NewNop()
	}

	cmd := exec.Command(program, args...)

	// Log file path uses a placeholder pid until the process starts;
	// renamed once the real pid is known, mirroring executor_<pid> naming.
	tmp, err := os.CreateTemp("", "executor_*")
	if err != nil {
		return nil, newError(KindSpawnFailed, program, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, newError(KindSpawnFailed, program, err)
	}
	cmd.Stdout = tmp
	cmd.Stderr = tmp

	if err := cmd.Start(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		log.Warn("executor spawn failed", zap.String("program", program), zap.Error(err))
		return nil, newError(KindSpawnFailed, program, err)
	}

	pid := cmd.Process.Pid
	finalPath := fmt.Sprintf("executor_%d", pid)
	tmp.Close()
	_ = os.Rename(tmp.Name(), finalPath)
	logFile, err := os.OpenFile(finalPath, os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		logFile = tmp
	}

	spawnCounter++
	if spawnCounter == 36 {
		spawnCounter = 0
	}

	log.Debug("executor spawned", zap.Int("pid", pid), zap.String("kind", string(kind)))

	return &ActiveExecutor{
		PID:             pid,
		AllocationBegin: time.Now(),
		kind:            kind,
		cmd:             cmd,
		logFile:         logFile,
	}, nil
}

// BuildExecutorArgs assembles the common argument vector passed to the
// inner executor binary regardless of sandbox kind.
func BuildExecutorArgs(clientAddr string, clientPort uint16, repetitions int, recvBufSize, inputBufSize int32, pinSpec string, cores int16, warmupIters int, maxInline int32, funcBufSize int32, hotTimeoutMs int32, creds ManagerConnectionCredentials) []string {
	return []string{
		"-a", clientAddr,
		"-p", fmt.Sprintf("%d", clientPort),
		"--polling-mgr", "thread",
		"-r", fmt.Sprintf("%d", repetitions),
		"-x", fmt.Sprintf("%d", recvBufSize),
		"-s", fmt.Sprintf("%d", inputBufSize),
		"--pin-threads", pinSpec,
		"--fast", fmt.Sprintf("%d", cores),
		"--warmup-iters", fmt.Sprintf("%d", warmupIters),
		"--max-inline-data", fmt.Sprintf("%d", maxInline),
		"--func-size", fmt.Sprintf("%d", funcBufSize),
		"--timeout", fmt.Sprintf("%d", hotTimeoutMs),
		"--mgr-address", creds.AddrString(),
		"--mgr-port", fmt.Sprintf("%d", creds.Port),
		"--mgr-secret", fmt.Sprintf("%d", creds.Secret),
		"--mgr-buf-addr", fmt.Sprintf("%d", creds.RAddr),
		"--mgr-buf-rkey", fmt.Sprintf("%d", creds.RKey),
	}
}

// Close releases the executor's log file handle without signaling the
// child process.
func (e *ActiveExecutor) Close() error {
	if e.logFile == nil {
		return nil
	}
	err := e.logFile.Close()
	e.logFile = nil
	return err
}
