package agents

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/AustinJeremiah05/Prop99/internal/domain"
)

// Pool fans one evaluation package out to every agent concurrently and
// waits for all of them, successful or not. Deciding whether the
// surviving responses are enough to proceed belongs to the consensus
// engine, not the pool.
type Pool struct {
	Agents []Agent

	// Currency is the unit every agent is expected to report in.
	// A response in a different unit is demoted to a failed response
	// rather than silently mixed into consensus.
	Currency string
}

// Evaluate returns exactly one response per agent, in agent order.
// Each invocation carries its own deadline; cancelling or losing one
// agent never affects the others.
func (p Pool) Evaluate(ctx context.Context, pkg domain.EvaluationPackage) []domain.AgentResponse {
	responses := make([]domain.AgentResponse, len(p.Agents))
	var wg sync.WaitGroup
	for i, agent := range p.Agents {
		wg.Add(1)
		go func(i int, agent Agent) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					responses[i] = domain.AgentResponse{Agent: agent.Name(), Error: fmt.Sprintf("agent panic: %v", r)}
				}
			}()
			responses[i] = p.check(agent.Evaluate(ctx, pkg))
		}(i, agent)
	}
	wg.Wait()
	return responses
}

func (p Pool) check(resp domain.AgentResponse) domain.AgentResponse {
	if resp.Error != "" || p.Currency == "" || resp.Currency == "" {
		return resp
	}
	if !strings.EqualFold(resp.Currency, p.Currency) {
		return domain.AgentResponse{
			Agent: resp.Agent,
			Error: fmt.Sprintf("currency mismatch: got %s, want %s", resp.Currency, p.Currency),
		}
	}
	return resp
}

// Split partitions responses into consensus-eligible and failed ones.
func Split(responses []domain.AgentResponse) (valid, failed []domain.AgentResponse) {
	for _, r := range responses {
		if r.Valid() {
			valid = append(valid, r)
		} else {
			failed = append(failed, r)
		}
	}
	return valid, failed
}
