// Package shellhost implements the agent-side shell host: spawn an
// interactive subshell per ShellInit, fan its stdout/stderr out as
// ShellOutput chunks, and forward ShellInput to its stdin.
//
// Grounded on other_examples/56d09762_ElleNajt-acp-multiplex__main.go's
// cmd.StdinPipe()/StdoutPipe() plumbing (plain pipes, not a pty; see
// DESIGN.md for why creack/pty can't serve this) and on the teacher's
// escalating-signal subshell teardown in internal/agent/controller.go's
// Controller.Stop, adapted from PTY signals to process signals over a
// plain *exec.Cmd.
package shellhost

import (
	"io"
	"log"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

const readChunkSize = 1024 // up to 1KiB per read

// Sink is where a shell host delivers output chunks; it's satisfied by
// internal/agentconn's Connection.
type Sink interface {
	EmitShellOutput(shellID string, data []byte)
}

// shell is one live subshell.
type shell struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	done     chan struct{} // closed once both stdout/stderr readers have exited
	reapOnce sync.Once
}

// reap waits for the process to exit, releasing its resources. Safe to
// call more than once (e.g. once from the natural-exit path and once from
// an explicit Close racing it).
func (sh *shell) reap() {
	sh.reapOnce.Do(func() {
		_ = sh.cmd.Wait()
	})
}

// Host owns the set of live shells for one agent connection, keyed by
// shell ID.
type Host struct {
	sink Sink

	mu     sync.Mutex
	shells map[string]*shell
}

// NewHost creates a Host that delivers output to sink.
func NewHost(sink Sink) *Host {
	return &Host{sink: sink, shells: make(map[string]*shell)}
}

// Spawn starts a new interactive subshell under id. If id already names a
// live shell, the old one is torn down first: a duplicate ShellInit
// replaces cleanly rather than leaking the prior subshell.
func (h *Host) Spawn(id string) error {
	h.mu.Lock()
	if old, ok := h.shells[id]; ok {
		delete(h.shells, id)
		h.mu.Unlock()
		killShell(old)
	} else {
		h.mu.Unlock()
	}

	cmd := exec.Command("sh", "-i")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	sh := &shell{cmd: cmd, stdin: stdin, done: make(chan struct{})}

	h.mu.Lock()
	h.shells[id] = sh
	h.mu.Unlock()

	var readers sync.WaitGroup
	readers.Add(2)
	go h.drain(id, stdout, &readers)
	go h.drain(id, stderr, &readers)
	go func() {
		readers.Wait()
		close(sh.done)
		sh.reap()
		h.forget(id, sh)
	}()

	return nil
}

// forget removes id from the table, but only if it still points at sh;
// a newer Spawn under the same id may already have replaced it.
func (h *Host) forget(id string, sh *shell) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shells[id] == sh {
		delete(h.shells, id)
	}
}

// drain repeatedly reads up to readChunkSize bytes from r and emits each
// chunk as ShellOutput, until EOF or a read error.
func (h *Host) drain(id string, r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			h.sink.EmitShellOutput(id, chunk)
		}
		if err != nil {
			return
		}
	}
}

// Input writes bytes verbatim to the shell's stdin. Write errors are
// logged and do not tear down the shell. Unknown id is a no-op.
func (h *Host) Input(id string, data []byte) {
	h.mu.Lock()
	sh, ok := h.shells[id]
	h.mu.Unlock()
	if !ok {
		return
	}
	if _, err := sh.stdin.Write(data); err != nil {
		log.Printf("[shellhost] write to shell %s: %v", id, err)
	}
}

// Close tears down the shell under id and releases its pipes. Unknown id
// is a no-op.
func (h *Host) Close(id string) {
	h.mu.Lock()
	sh, ok := h.shells[id]
	if ok {
		delete(h.shells, id)
	}
	h.mu.Unlock()
	if ok {
		killShell(sh)
	}
}

// CloseAll tears down every live shell, for connection teardown.
func (h *Host) CloseAll() {
	h.mu.Lock()
	shells := h.shells
	h.shells = make(map[string]*shell)
	h.mu.Unlock()

	for _, sh := range shells {
		killShell(sh)
	}
}

// killShell terminates the subshell with an escalating signal sequence,
// the same SIGTERM-then-SIGKILL shape the teacher uses for agent
// teardown, simplified to a single interactive "sh -i" process rather
// than a process group under job control.
func killShell(sh *shell) {
	if sh.cmd.Process == nil {
		return
	}
	_ = sh.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-sh.done:
	case <-time.After(500 * time.Millisecond):
		_ = sh.cmd.Process.Kill()
		<-sh.done
	}
	sh.reap()
}
