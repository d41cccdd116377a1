package postgresql

// migrations returns the schema migrations for the execution store, keyed by
// version.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflow_executions (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL,
				transaction_id TEXT NOT NULL,
				state TEXT NOT NULL,
				payload JSONB,
				step_states JSONB NOT NULL DEFAULT '{}'::jsonb,
				retention_ms BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE,
				UNIQUE (workflow_id, transaction_id)
			);

			CREATE INDEX IF NOT EXISTS idx_workflow_executions_workflow_id
				ON workflow_executions (workflow_id);
			CREATE INDEX IF NOT EXISTS idx_workflow_executions_state
				ON workflow_executions (state);
			CREATE INDEX IF NOT EXISTS idx_workflow_executions_created_at
				ON workflow_executions (created_at);
		`,
	}
}
