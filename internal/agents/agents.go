package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/AustinJeremiah05/Prop99/internal/domain"
)

// Agent is a single valuation provider. Evaluate never returns an error:
// any failure is folded into the response's Error field so one provider
// cannot abort its siblings.
type Agent interface {
	Name() string
	Evaluate(ctx context.Context, pkg domain.EvaluationPackage) domain.AgentResponse
}

// CommandAgent runs an external provider process. The process receives
// the evaluation package as JSON on stdin and must print one JSON
// response object on stdout before the deadline.
type CommandAgent struct {
	AgentName string
	Command   string
	Args      []string
	Timeout   time.Duration
}

func (a CommandAgent) Name() string { return a.AgentName }

func (a CommandAgent) Evaluate(ctx context.Context, pkg domain.EvaluationPackage) domain.AgentResponse {
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	input, err := json.Marshal(pkg)
	if err != nil {
		return a.failed(fmt.Sprintf("marshal package: %v", err))
	}

	cmd := exec.CommandContext(ctx, a.Command, a.Args...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return a.failed(fmt.Sprintf("timeout after %s", timeout))
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return a.failed(msg)
	}

	var resp domain.AgentResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return a.failed(fmt.Sprintf("parse response: %v", err))
	}
	if resp.Error != "" {
		resp.Agent = a.AgentName
		return resp
	}
	resp.Agent = a.AgentName
	if resp.Valuation < 0 {
		return a.failed(fmt.Sprintf("negative valuation %v", resp.Valuation))
	}
	if resp.Confidence < 0 || resp.Confidence > 100 {
		return a.failed(fmt.Sprintf("confidence %d out of range", resp.Confidence))
	}
	return resp
}

func (a CommandAgent) failed(msg string) domain.AgentResponse {
	return domain.AgentResponse{Agent: a.AgentName, Error: msg}
}
