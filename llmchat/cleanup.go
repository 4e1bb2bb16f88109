package llmchat

import (
	"context"
	"os/exec"
	"runtime"
	"time"
)

// forceCleanup performs best-effort external-process cleanup on cancel:
// it never blocks the caller and never raises, win or lose.
//
// It shells out to `ollama stop <model>` and, on non-Windows platforms,
// schedules a delayed `pkill -f <host>`, which signals processes whose
// command line contains the host string; it does not look up the process
// listening on the host's port. Both steps
// run detached from the caller and swallow every error: cleanup failure
// must never surface as a node error.
func forceCleanup(host, model string) {
	go runStopCommand(model)
	if runtime.GOOS != "windows" {
		go delayedKillListener(host)
	}
}

func runStopCommand(model string) {
	if model == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "ollama", "stop", model)
	_ = cmd.Run()
}

// delayedKillListener waits two seconds, then runs `pkill -f host` without
// first checking whether the backend is still reachable. Failures are
// swallowed; this is a courtesy, not a guarantee.
func delayedKillListener(host string) {
	if host == "" {
		return
	}
	time.Sleep(2 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "pkill", "-f", host)
	_ = cmd.Run()
}
