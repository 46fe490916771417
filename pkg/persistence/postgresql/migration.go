package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id TEXT NOT NULL,
				version INTEGER NOT NULL,
				tenant_id TEXT NOT NULL,
				schedule TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE,
				document JSONB NOT NULL,
				PRIMARY KEY (id, version)
			);

			CREATE INDEX idx_workflows_tenant_id ON workflows(tenant_id);
			CREATE INDEX idx_workflows_schedule ON workflows(schedule) WHERE schedule <> '';

			CREATE TABLE workflow_templates (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				category TEXT NOT NULL,
				published_at TIMESTAMP WITH TIME ZONE NOT NULL,
				document JSONB NOT NULL
			);

			CREATE INDEX idx_workflow_templates_category ON workflow_templates(category);
		`,
		2: `
			CREATE TABLE workflow_executions (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL,
				tenant_id TEXT NOT NULL,
				status TEXT NOT NULL CHECK (status IN ('pending', 'running', 'retrying', 'success', 'failed', 'cancelled')),
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				document JSONB NOT NULL
			);

			CREATE INDEX idx_workflow_executions_workflow_id ON workflow_executions(workflow_id);
			CREATE INDEX idx_workflow_executions_tenant_status ON workflow_executions(tenant_id, status);

			CREATE TABLE execution_logs (
				execution_id TEXT NOT NULL,
				sequence BIGINT NOT NULL CHECK (sequence > 0),
				node_id TEXT NOT NULL DEFAULT '',
				level TEXT NOT NULL,
				message TEXT NOT NULL,
				payload JSONB,
				logged_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (execution_id, sequence)
			);
		`,
		3: `
			CREATE TABLE agents (
				tenant_id TEXT NOT NULL,
				id TEXT NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				document JSONB NOT NULL,
				PRIMARY KEY (tenant_id, id)
			);

			CREATE TABLE agent_orchestrations (
				tenant_id TEXT PRIMARY KEY,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				document JSONB NOT NULL
			);
		`,
	}
}
