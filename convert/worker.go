package convert

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"time"
)

// worker is one long-lived unoserver process bound to a loopback port.
type worker struct {
	id      int
	port    int
	cmd     *exec.Cmd
	done    chan struct{} // closed when the process exits
	started time.Time
}

// freePort asks the kernel for an unused loopback port.
func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// launchWorker starts an unoserver process and waits until it accepts
// connections (unless the port probe is disabled).
func (s *Supervisor) launchWorker(ctx context.Context, id int) (*worker, error) {
	port, err := freePort()
	if err != nil {
		return nil, fmt.Errorf("free port: %w", err)
	}

	args := []string{
		"--interface", "127.0.0.1",
		"--port", strconv.Itoa(port),
		"--executable", s.cfg.SofficeBin,
	}
	var cmd *exec.Cmd
	if s.cfg.MemoryLimitMB > 0 {
		// ulimit applies to the shell and is inherited by the exec'd worker.
		script := fmt.Sprintf(`ulimit -v %d && exec "$0" "$@"`, s.cfg.MemoryLimitMB*1024)
		cmd = exec.Command("/bin/sh", append([]string{"-c", script, s.cfg.UnoserverBin}, args...)...)
	} else {
		cmd = exec.Command(s.cfg.UnoserverBin, args...)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", s.cfg.UnoserverBin, err)
	}

	w := &worker{
		id:      id,
		port:    port,
		cmd:     cmd,
		done:    make(chan struct{}),
		started: time.Now(),
	}
	go func() {
		cmd.Wait()
		close(w.done)
	}()

	if s.cfg.SkipPortProbe {
		s.cfg.Logger.Debug("convert: worker started (no port probe)", "worker", id, "pid", cmd.Process.Pid)
		return w, nil
	}

	deadline := time.Now().Add(s.cfg.StartTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			w.stop()
			return nil, ctx.Err()
		case <-w.done:
			return nil, fmt.Errorf("%s exited during startup", s.cfg.UnoserverBin)
		case <-time.After(200 * time.Millisecond):
		}
		if w.portOpen() {
			s.cfg.Logger.Info("convert: worker ready", "worker", id, "pid", cmd.Process.Pid, "port", port)
			return w, nil
		}
	}
	w.stop()
	return nil, fmt.Errorf("%s not listening on %d after %s", s.cfg.UnoserverBin, port, s.cfg.StartTimeout)
}

// alive reports whether the process has not exited.
func (w *worker) alive() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// portOpen dials the worker's listener with a short deadline.
func (w *worker) portOpen() bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(w.port)), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// healthy is the lightweight pre-call probe: the process must be running and,
// unless disabled, its port must accept connections.
func (w *worker) healthy(skipPort bool) bool {
	if !w.alive() {
		return false
	}
	if skipPort {
		return true
	}
	return w.portOpen()
}

// stop kills the process and waits briefly for it to be reaped.
func (w *worker) stop() {
	if w.cmd.Process != nil {
		w.cmd.Process.Kill()
	}
	select {
	case <-w.done:
	case <-time.After(2 * time.Second):
	}
}

// convert runs one unoconvert call against this worker's listener. The
// command is bound to ctx, so a timeout or cancellation kills the client
// process; the caller decides what happens to the worker.
func (w *worker) convert(ctx context.Context, bin, in, out, to string) error {
	cmd := exec.CommandContext(ctx, bin,
		"--interface", "127.0.0.1",
		"--port", strconv.Itoa(w.port),
		"--convert-to", to,
		in, out,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := bytes.TrimSpace(stderr.Bytes())
		if len(msg) > 300 {
			msg = msg[:300]
		}
		if len(msg) > 0 {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}
