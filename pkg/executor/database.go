package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sagaforge/sagaforge/pkg/breaker"
	"github.com/sagaforge/sagaforge/pkg/saga"
)

// DatabaseExecutor performs DATABASE_OP steps against Postgres, guarded by
// the circuit breaker under the "postgres" service identity unless the step
// overrides it.
type DatabaseExecutor struct {
	pool     *pgxpool.Pool
	breakers *breaker.Manager
}

// NewDatabaseExecutor creates the database adapter.
func NewDatabaseExecutor(pool *pgxpool.Pool, breakers *breaker.Manager) *DatabaseExecutor {
	return &DatabaseExecutor{pool: pool, breakers: breakers}
}

// Type implements Executor.
func (e *DatabaseExecutor) Type() saga.StepType { return saga.StepTypeDatabaseOp }

// Execute runs the configured query with named arguments. String parameter
// values are rendered against the saga input before binding.
func (e *DatabaseExecutor) Execute(ctx context.Context, step *saga.Step, input map[string]any) (map[string]any, error) {
	if e.pool == nil {
		return nil, Permanent(fmt.Errorf("database step %q: no database configured", step.Name))
	}
	cfg := step.Config
	if cfg.Query == "" {
		return nil, Permanent(fmt.Errorf("database step %q: query cannot be empty", step.Name))
	}

	service := cfg.ServiceName
	if service == "" {
		service = "postgres"
	}
	if e.breakers != nil {
		if err := e.breakers.Allow(service); err != nil {
			return nil, fmt.Errorf("service %s: %w", service, err)
		}
	}

	output, err := e.run(ctx, step, input)
	if e.breakers != nil {
		if err != nil {
			e.breakers.RecordFailure(service)
		} else {
			e.breakers.RecordSuccess(service)
		}
	}
	return output, err
}

func (e *DatabaseExecutor) run(ctx context.Context, step *saga.Step, input map[string]any) (map[string]any, error) {
	cfg := step.Config
	args := pgx.NamedArgs{}
	for name, value := range cfg.QueryParameters {
		if s, ok := value.(string); ok {
			args[name] = renderTemplate(s, input)
		} else {
			args[name] = value
		}
	}

	if isReadQuery(cfg.Query) {
		rows, err := e.pool.Query(ctx, cfg.Query, args)
		if err != nil {
			return nil, fmt.Errorf("database step %q: %w", step.Name, err)
		}
		collected, err := pgx.CollectRows(rows, pgx.RowToMap)
		if err != nil {
			return nil, fmt.Errorf("database step %q: %w", step.Name, err)
		}
		results := make([]any, len(collected))
		for i, row := range collected {
			results[i] = map[string]any(row)
		}
		return map[string]any{
			"rows":      results,
			"row_count": len(results),
		}, nil
	}

	tag, err := e.pool.Exec(ctx, cfg.Query, args)
	if err != nil {
		return nil, fmt.Errorf("database step %q: %w", step.Name, err)
	}
	return map[string]any{
		"rows_affected": tag.RowsAffected(),
	}, nil
}

func isReadQuery(query string) bool {
	trimmed := strings.ToUpper(strings.TrimSpace(query))
	return strings.HasPrefix(trimmed, "SELECT") || strings.HasPrefix(trimmed, "WITH")
}
