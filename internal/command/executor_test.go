package command

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"iotc-agent/internal/model"
)

type recordingAcker struct {
	mu   sync.Mutex
	acks []model.AckMessage
	err  error
}

func (r *recordingAcker) SendAck(_ context.Context, ack model.AckMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acks = append(r.acks, ack)
	return r.err
}

func (r *recordingAcker) all() []model.AckMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.AckMessage(nil), r.acks...)
}

type countingRunner struct {
	calls int
}

func (c *countingRunner) Run(context.Context, string, []string) ([]byte, int, error) {
	c.calls++
	return nil, 0, nil
}

func strptr(s string) *string { return &s }

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
}

func newTestExecutor(t *testing.T, dir string, opts ...Option) (*Executor, *recordingAcker) {
	t.Helper()
	wl, err := Snapshot(dir)
	require.NoError(t, err)
	acker := &recordingAcker{}
	return NewExecutor(wl, acker, zap.NewNop().Sugar(), opts...), acker
}

func TestHandleSuccessAcks(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "reboot.sh", `printf ok`)
	e, acker := newTestExecutor(t, dir)

	res := e.Handle(context.Background(), model.CommandMessage{
		Command: "reboot.sh",
		Ack:     strptr("abc"),
		ID:      strptr("corr-1"),
	})

	assert.Equal(t, StateSucceeded, res.State)
	assert.Equal(t, []model.AckMessage{{
		AckID:         "abc",
		Status:        model.AckSuccess,
		Message:       "ok",
		CorrelationID: "corr-1",
	}}, acker.all())
}

func TestHandlePassesArguments(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "echo.sh", `printf '%s|' "$@"`)
	e, acker := newTestExecutor(t, dir)

	res := e.Handle(context.Background(), model.CommandMessage{Command: "echo.sh  a   b", Ack: strptr("t")})

	assert.Equal(t, []string{"a", "b"}, res.Args)
	require.Len(t, acker.all(), 1)
	assert.Equal(t, "a|b|", acker.all()[0].Message)
}

func TestHandleNonZeroExitReportsStdout(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "fail.sh", `echo "disk full"; echo "hidden" >&2; exit 3`)
	e, acker := newTestExecutor(t, dir)

	res := e.Handle(context.Background(), model.CommandMessage{Command: "fail.sh", Ack: strptr("abc")})

	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 3, res.ExitCode)
	acks := acker.all()
	require.Len(t, acks, 1)
	assert.Equal(t, model.AckFail, acks[0].Status)
	assert.Equal(t, "disk full\n", acks[0].Message)
}

func TestHandleRejectsUnknownCommand(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "reboot.sh", `exit 0`)
	runner := &countingRunner{}
	e, acker := newTestExecutor(t, dir, WithRunner(runner))

	res := e.Handle(context.Background(), model.CommandMessage{Command: "rm -rf /", Ack: strptr("abc")})

	assert.Equal(t, StateRejected, res.State)
	assert.Zero(t, runner.calls)
	assert.Equal(t, []model.AckMessage{{
		AckID:   "abc",
		Status:  model.AckFail,
		Message: "Command rm does not exist",
	}}, acker.all())
}

func TestResolveRejectsPathSeparators(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "reboot.sh", `exit 0`)
	runner := &countingRunner{}
	e, acker := newTestExecutor(t, dir, WithRunner(runner))

	for _, line := range []string{"./reboot.sh", "../reboot.sh", dir + "/reboot.sh", "sub/reboot.sh"} {
		res := e.Handle(context.Background(), model.CommandMessage{Command: line, Ack: strptr("x")})
		assert.Equal(t, StateRejected, res.State, line)
	}
	assert.Zero(t, runner.calls)
	for _, ack := range acker.all() {
		assert.Equal(t, model.AckFail, ack.Status)
	}
}

func TestNoAckTokenNeverAcks(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "ok.sh", `exit 0`)
	writeScript(t, dir, "bad.sh", `exit 1`)
	e, acker := newTestExecutor(t, dir)

	for _, line := range []string{"ok.sh", "bad.sh", "missing.sh", ""} {
		e.Handle(context.Background(), model.CommandMessage{Command: line})
	}
	assert.Empty(t, acker.all())
}

func TestSnapshotIgnoresLateFiles(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "early.sh", `exit 0`)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))

	wl, err := Snapshot(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"early.sh"}, wl.Names())

	writeScript(t, dir, "late.sh", `exit 0`)
	_, ok := wl.Resolve("late.sh")
	assert.False(t, ok)

	require.NoError(t, wl.Refresh())
	path, ok := wl.Resolve("late.sh")
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "late.sh"), path)
}

func TestSpawnFailureIsFailed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "noexec.sh"), []byte("#!/bin/sh\n"), 0o644))
	e, acker := newTestExecutor(t, dir)

	res := e.Handle(context.Background(), model.CommandMessage{Command: "noexec.sh", Ack: strptr("abc")})

	assert.Equal(t, StateFailed, res.State)
	require.Len(t, acker.all(), 1)
	assert.Equal(t, model.AckFail, acker.all()[0].Status)
}
