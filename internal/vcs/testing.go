package vcs

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// MockExecutor records commands and returns configured responses.
// It is exported so other packages can fake git in their tests.
type MockExecutor struct {
	commands []MockCommand
	calls    []ExecutorCall
}

// MockCommand defines a response for commands starting with Prefix.
type MockCommand struct {
	Prefix string
	Output []byte
	Err    error
}

// ExecutorCall records a command invocation.
type ExecutorCall struct {
	Dir  string
	Name string
	Args []string
}

// NewMockExecutor creates an executor with no responses.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{}
}

// AddResponse queues a one-shot response for commands whose full text
// ("git status ...") starts with prefix.
func (m *MockExecutor) AddResponse(prefix string, output []byte, err error) {
	m.commands = append(m.commands, MockCommand{Prefix: prefix, Output: output, Err: err})
}

// Run returns and consumes the first matching response.
func (m *MockExecutor) Run(_ context.Context, dir string, name string, args ...string) ([]byte, error) {
	m.calls = append(m.calls, ExecutorCall{Dir: dir, Name: name, Args: args})

	fullCmd := name + " " + strings.Join(args, " ")
	for i, cmd := range m.commands {
		if strings.HasPrefix(fullCmd, cmd.Prefix) {
			m.commands = append(m.commands[:i], m.commands[i+1:]...)
			return cmd.Output, cmd.Err
		}
	}
	return nil, errors.New("no mock response configured for: " + fullCmd)
}

// Calls returns all recorded invocations.
func (m *MockExecutor) Calls() []ExecutorCall {
	return m.calls
}

// MustGetLastCall returns the last recorded call, failing the test if there is none.
func (m *MockExecutor) MustGetLastCall(t *testing.T) ExecutorCall {
	t.Helper()
	if len(m.calls) == 0 {
		t.Fatal("Expected at least one command call")
	}
	return m.calls[len(m.calls)-1]
}
