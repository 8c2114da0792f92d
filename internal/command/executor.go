// Package command resolves remote command lines against a script whitelist,
// runs them and acknowledges the outcome.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"iotc-agent/internal/model"
)

type State int

const (
	StateRejected State = iota
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRejected:
		return "rejected"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Result is the terminal state of one command message.
type Result struct {
	Name     string
	Args     []string
	State    State
	ExitCode int
	Message  string
}

func (r Result) AckStatus() model.AckStatus {
	if r.State == StateSucceeded {
		return model.AckSuccess
	}
	return model.AckFail
}

// Acker delivers acknowledgments to the remote service.
type Acker interface {
	SendAck(ctx context.Context, ack model.AckMessage) error
}

// Runner spawns a process and waits for it. Stderr is discarded.
type Runner interface {
	Run(ctx context.Context, path string, args []string) (stdout []byte, exitCode int, err error)
}

type execRunner struct{}

// Run blocks until the process exits. ctx is not used to kill the process.
func (execRunner) Run(_ context.Context, path string, args []string) ([]byte, int, error) {
	var stdout bytes.Buffer
	cmd := exec.Command(path, args...)
	cmd.Stdout = &stdout

	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), exitErr.ExitCode(), nil
	}
	if err != nil {
		return stdout.Bytes(), -1, err
	}
	return stdout.Bytes(), 0, nil
}

type Executor struct {
	whitelist *Whitelist
	runner    Runner
	acker     Acker
	logger    *zap.SugaredLogger
}

type Option func(*Executor)

// WithRunner replaces the process runner.
func WithRunner(r Runner) Option {
	return func(e *Executor) {
		e.runner = r
	}
}

func NewExecutor(whitelist *Whitelist, acker Acker, logger *zap.SugaredLogger, opts ...Option) *Executor {
	e := &Executor{
		whitelist: whitelist,
		runner:    execRunner{},
		acker:     acker,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute parses, resolves and runs commandLine. It never acknowledges.
func (e *Executor) Execute(ctx context.Context, commandLine string) Result {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return rejected("")
	}
	res := Result{Name: fields[0], Args: fields[1:]}

	path, ok := e.whitelist.Resolve(res.Name)
	if !ok {
		return rejected(res.Name)
	}

	e.logger.Infow("executing command", "command", res.Name, "args", res.Args)
	stdout, code, err := e.runner.Run(ctx, path, res.Args)
	res.ExitCode = code
	if err != nil {
		e.logger.Errorw("failed to start command", "command", res.Name, "error", err)
		res.State = StateFailed
		res.Message = err.Error()
		return res
	}

	res.Message = strings.ToValidUTF8(string(stdout), "�")
	if code == 0 {
		res.State = StateSucceeded
	} else {
		res.State = StateFailed
	}
	e.logger.Infow("command finished", "command", res.Name, "state", res.State, "exit_code", code)
	return res
}

// Handle runs msg and acknowledges the result if an ack was requested.
func (e *Executor) Handle(ctx context.Context, msg model.CommandMessage) Result {
	res := e.Execute(ctx, msg.Command)
	if res.State == StateRejected {
		e.logger.Warnw("command rejected", "command", res.Name)
	}
	e.Acknowledge(ctx, msg, res.AckStatus(), res.Message)
	return res
}

// Acknowledge sends {ack, status, message, id} when msg carries an ack token.
func (e *Executor) Acknowledge(ctx context.Context, msg model.CommandMessage, status model.AckStatus, message string) {
	token, ok := msg.AckToken()
	if !ok {
		e.logger.Debugw("ack not requested", "command", msg.Command)
		return
	}

	ack := model.AckMessage{
		AckID:         token,
		Status:        status,
		Message:       message,
		CorrelationID: msg.CorrelationID(),
	}
	if err := e.acker.SendAck(ctx, ack); err != nil {
		if errors.Is(err, model.ErrNoClient) {
			e.logger.Warnw("no client, ack dropped", "ack", token)
			return
		}
		e.logger.Errorw("failed to send ack", "ack", token, "error", err)
	}
}

func rejected(name string) Result {
	return Result{
		Name:    name,
		State:   StateRejected,
		Message: fmt.Sprintf("Command %s does not exist", name),
	}
}
