package manager

import (
	"os"
	"testing"
	"time"
)

func TestSpawnProcessAndCheckFinishedSuccess(t *testing.T) {
	exec, err := SpawnProcess("/bin/true", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() {
		_ = exec.Close()
		os.Remove(logPathFor(exec.PID))
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status, code, err := exec.Check()
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if status == Running {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if status != Finished {
			t.Fatalf("expected Finished, got status=%v code=%d", status, code)
		}
		if code != 0 {
			t.Fatalf("expected exit code 0, got %d", code)
		}
		return
	}
	t.Fatalf("process did not finish within deadline")
}

func TestSpawnProcessAndCheckFinishedFailure(t *testing.T) {
	exec, err := SpawnProcess("/bin/false", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() {
		_ = exec.Close()
		os.Remove(logPathFor(exec.PID))
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status, code, err := exec.Check()
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if status == Running {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if status != Finished {
			t.Fatalf("expected Finished with nonzero code, got status=%v", status)
		}
		if code == 0 {
			t.Fatalf("expected nonzero exit code")
		}
		return
	}
	t.Fatalf("process did not finish within deadline")
}

func TestSpawnCounterRollsOverAt36(t *testing.T) {
	spawnCounter = 35
	exec, err := SpawnProcess("/bin/true", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() {
		_ = exec.Close()
		os.Remove(logPathFor(exec.PID))
	}()
	if spawnCounter != 0 {
		t.Fatalf("expected counter to roll over to 0, got %d", spawnCounter)
	}
}

func TestBuildExecutorArgsIncludesManagerCredentials(t *testing.T) {
	creds, err := NewManagerConnectionCredentials("10.0.0.2", 6000, 77, 0xdead, 0xbeef)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	args := BuildExecutorArgs("10.0.0.1", 5000, 3, 4096, 1024, "0-3", 4, 2, 256, 2048, 10000, creds)

	found := map[string]bool{}
	for i := 0; i+1 < len(args); i += 2 {
		found[args[i]] = true
	}
	for _, flag := range []string{"-a", "-p", "--mgr-address", "--mgr-port", "--mgr-secret", "--mgr-buf-addr", "--mgr-buf-rkey"} {
		if !found[flag] {
			t.Fatalf("expected flag %q in argument vector %v", flag, args)
		}
	}
}

func logPathFor(pid int) string {
	return "executor_" + itoa(pid)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
