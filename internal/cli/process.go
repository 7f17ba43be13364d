package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"

	"github.com/roach88/entsync/internal/host"
)

// moduleProcess is a connection module running as a child process. Frames
// go to its stdin and come back on its stdout; stderr lines are logged.
type moduleProcess struct {
	cmd       *exec.Cmd
	transport *host.StreamTransport
	logger    *slog.Logger
	stderrEOF chan struct{}
}

// pipeConn joins the child's stdout and stdin into one stream.
type pipeConn struct {
	io.Reader
	io.WriteCloser
}

func (p pipeConn) Close() error {
	return p.WriteCloser.Close()
}

// startModule launches argv and connects a stream transport to it.
func startModule(ctx context.Context, connectionID string, argv []string, logger *slog.Logger) (*moduleProcess, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty module command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("module %s stdin: %w", connectionID, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("module %s stdout: %w", connectionID, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("module %s stderr: %w", connectionID, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start module %s: %w", connectionID, err)
	}

	logger = logger.With("connection", connectionID, "pid", cmd.Process.Pid)
	stderrEOF := make(chan struct{})
	go func() {
		defer close(stderrEOF)
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			logger.Info("module output", "line", sc.Text())
		}
	}()
	logger.Info("module started", "command", argv[0])

	return &moduleProcess{
		cmd:       cmd,
		transport: host.NewStreamTransport(pipeConn{Reader: stdout, WriteCloser: stdin}),
		logger:    logger,
		stderrEOF: stderrEOF,
	}, nil
}

// stop closes the transport and waits for the child to exit. Stderr must
// be drained before Wait closes the pipe.
func (p *moduleProcess) stop() {
	_ = p.transport.Close()
	<-p.stderrEOF
	if err := p.cmd.Wait(); err != nil {
		p.logger.Warn("module exited", "error", err)
		return
	}
	p.logger.Info("module exited")
}
