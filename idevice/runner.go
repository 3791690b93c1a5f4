package idevice

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
)

// Runner executes the libimobiledevice command line tools
type Runner interface {
	// Run executes a command and returns its stdout
	Run(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error)
	// Stream executes a command and hands every output line (stdout and
	// stderr, split on \n or \r) to onLine as it arrives
	Stream(ctx context.Context, onLine func(string), name string, args ...string) error
	// LookPath resolves a tool binary
	LookPath(name string) (string, error)
}

// ExecRunner runs tools from ToolsDir, or from PATH when ToolsDir is empty
type ExecRunner struct {
	ToolsDir string
}

func (r ExecRunner) path(name string) string {
	if r.ToolsDir == "" {
		return name
	}
	return filepath.Join(r.ToolsDir, name)
}

func (r ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(r.path(name))
}

func (r ExecRunner) Run(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.path(name), args...)
	cmd.Stdin = stdin
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return stdout.Bytes(), fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return stdout.Bytes(), fmt.Errorf("%s: %w", name, err)
	}
	return stdout.Bytes(), nil
}

func (r ExecRunner) Stream(ctx context.Context, onLine func(string), name string, args ...string) error {
	cmd := exec.CommandContext(ctx, r.path(name), args...)
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		return fmt.Errorf("failed to start %s: %w", name, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(pr)
		scanner.Split(scanLines)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				onLine(line)
			}
		}
		// drain so the child never blocks on a full pipe
		io.Copy(io.Discard, pr)
	}()

	err := cmd.Wait()
	pw.Close()
	<-done
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// scanLines splits on \n and on bare \r, which progress bars use to redraw
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
