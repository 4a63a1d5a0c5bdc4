package ffmpegcodec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// process is a running ffmpeg with its stdout collected in the background
// so that writes to stdin never wait on the caller draining output.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer

	mu      sync.Mutex
	out     []byte
	readErr error
	eof     bool
	drained chan struct{}
}

func startProcess(ctx context.Context, path string, args []string) (*process, error) {
	p := &process{drained: make(chan struct{})}
	p.cmd = exec.CommandContext(ctx, path, args...)
	p.cmd.Stderr = &p.stderr

	stdin, err := p.cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	p.stdin = stdin

	if err := p.cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	go p.collect(stdout)
	return p, nil
}

func (p *process) collect(r io.Reader) {
	defer close(p.drained)
	buf := make([]byte, 64*1024)
	for {
		n, err := r.Read(buf)
		p.mu.Lock()
		p.out = append(p.out, buf[:n]...)
		if err != nil {
			p.eof = true
			if err != io.EOF {
				p.readErr = err
			}
		}
		p.mu.Unlock()
		if err != nil {
			return
		}
	}
}

// Write feeds stdin.
func (p *process) Write(data []byte) error {
	if _, err := p.stdin.Write(data); err != nil {
		return fmt.Errorf("write to ffmpeg: %w", err)
	}
	return nil
}

// Take removes and returns everything collected from stdout so far.
func (p *process) Take() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.out
	p.out = nil
	return out
}

// Finish closes stdin, waits for stdout to reach EOF and for the process to
// exit, and returns the remaining output.
func (p *process) Finish(ctx context.Context) ([]byte, error) {
	p.stdin.Close()
	select {
	case <-p.drained:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := p.cmd.Wait(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w\nstderr: %s", err, p.stderr.String())
	}
	p.mu.Lock()
	err := p.readErr
	p.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("read ffmpeg output: %w", err)
	}
	return p.Take(), nil
}

// Kill stops a process that was not finished.
func (p *process) Kill() {
	p.stdin.Close()
	if p.cmd.ProcessState == nil && p.cmd.Process != nil {
		p.cmd.Process.Kill()
		<-p.drained
		p.cmd.Wait()
	}
}
