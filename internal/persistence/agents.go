package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ariacorp/ariarun/internal/domain"
)

// UpsertAgentConfig inserts or replaces an agent configuration by name.
func (s *Store) UpsertAgentConfig(ctx context.Context, a domain.AgentConfig) error {
	tools, err := json.Marshal(a.Tools)
	if err != nil {
		return err
	}
	subAgents, err := json.Marshal(a.SubAgents)
	if err != nil {
		return err
	}
	caps, err := json.Marshal(a.Capabilities)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agent_configs (
			name, system_prompt, tools_json, sub_agents_json, capabilities_json,
			provider, model, temperature, max_tokens, max_iterations, memory_limit,
			memory_enabled, agent_type, reflection_on, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			system_prompt = excluded.system_prompt,
			tools_json = excluded.tools_json,
			sub_agents_json = excluded.sub_agents_json,
			capabilities_json = excluded.capabilities_json,
			provider = excluded.provider,
			model = excluded.model,
			temperature = excluded.temperature,
			max_tokens = excluded.max_tokens,
			max_iterations = excluded.max_iterations,
			memory_limit = excluded.memory_limit,
			memory_enabled = excluded.memory_enabled,
			agent_type = excluded.agent_type,
			reflection_on = excluded.reflection_on,
			updated_at = excluded.updated_at`,
		a.Name, a.SystemPrompt, string(tools), string(subAgents), string(caps),
		a.Provider, a.Model, a.Temperature, a.MaxTokens, a.MaxIterations, a.MemoryLimit,
		a.MemoryEnabled, a.AgentType, a.ReflectionOn, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("persistence: upsert agent config: %w", err)
	}
	return nil
}

// GetAgentConfig fetches an agent configuration by name.
func (s *Store) GetAgentConfig(ctx context.Context, name string) (domain.AgentConfig, error) {
	var a domain.AgentConfig
	var toolsJSON, subAgentsJSON, capsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT name, system_prompt, tools_json, sub_agents_json, capabilities_json,
		        provider, model, temperature, max_tokens, max_iterations, memory_limit,
		        memory_enabled, agent_type, reflection_on
		 FROM agent_configs WHERE name = ?`, name,
	).Scan(&a.Name, &a.SystemPrompt, &toolsJSON, &subAgentsJSON, &capsJSON,
		&a.Provider, &a.Model, &a.Temperature, &a.MaxTokens, &a.MaxIterations, &a.MemoryLimit,
		&a.MemoryEnabled, &a.AgentType, &a.ReflectionOn)
	if err == sql.ErrNoRows {
		return domain.AgentConfig{}, fmt.Errorf("persistence: agent config %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return domain.AgentConfig{}, fmt.Errorf("persistence: get agent config: %w", err)
	}
	if err := json.Unmarshal([]byte(toolsJSON), &a.Tools); err != nil {
		return domain.AgentConfig{}, err
	}
	if err := json.Unmarshal([]byte(subAgentsJSON), &a.SubAgents); err != nil {
		return domain.AgentConfig{}, err
	}
	if err := json.Unmarshal([]byte(capsJSON), &a.Capabilities); err != nil {
		return domain.AgentConfig{}, err
	}
	return a, nil
}

// ListAgentConfigs returns every registered agent configuration.
func (s *Store) ListAgentConfigs(ctx context.Context) ([]domain.AgentConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM agent_configs`)
	if err != nil {
		return nil, fmt.Errorf("persistence: list agent configs: %w", err)
	}
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return nil, err
		}
		names = append(names, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.AgentConfig, 0, len(names))
	for _, n := range names {
		a, err := s.GetAgentConfig(ctx, n)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
