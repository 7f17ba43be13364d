package cli

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartModule_Errors(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	_, err := startModule(context.Background(), "atem", nil, logger)
	require.Error(t, err)

	_, err = startModule(context.Background(), "atem", []string{"/nonexistent/entsync-module"}, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start module atem")
}

func TestStartModule_LogsStderrAndStops(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(buf, nil))

	p, err := startModule(context.Background(), "atem", []string{sh, "-c", "echo booting >&2; cat >/dev/null"}, logger)
	require.NoError(t, err)
	p.stop()

	assert.Contains(t, buf.String(), "module started")
	assert.Contains(t, buf.String(), "line=booting")
	assert.Contains(t, buf.String(), "module exited")
}
