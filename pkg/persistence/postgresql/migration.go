package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflow_definitions (
				id UUID PRIMARY KEY,
				account_id VARCHAR(255),
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'active', 'paused', 'archived')),
				version INT NOT NULL DEFAULT 1,
				trigger_type VARCHAR(50) NOT NULL,
				trigger_config JSONB DEFAULT '{}',
				steps JSONB NOT NULL DEFAULT '[]',
				settings JSONB NOT NULL DEFAULT '{}',
				total_executions BIGINT NOT NULL DEFAULT 0,
				successful_executions BIGINT NOT NULL DEFAULT 0,
				failed_executions BIGINT NOT NULL DEFAULT 0,
				last_execution_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				archived_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflow_definitions_status ON workflow_definitions(status);
			CREATE INDEX idx_workflow_definitions_account ON workflow_definitions(account_id);
			CREATE INDEX idx_workflow_definitions_created_at ON workflow_definitions(created_at);

			CREATE TABLE workflow_executions (
				id UUID PRIMARY KEY,
				definition_id UUID NOT NULL REFERENCES workflow_definitions(id),
				snapshot JSONB NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'running', 'retrying', 'completed', 'failed', 'cancelled')),
				current_step_id VARCHAR(255) NOT NULL DEFAULT '',
				current_step_index INT NOT NULL DEFAULT 0,
				current_attempt INT NOT NULL DEFAULT 1,
				step_visits JSONB NOT NULL DEFAULT '{}',
				total_steps INT NOT NULL DEFAULT 0,
				retry_count INT NOT NULL DEFAULT 0,
				max_retries INT NOT NULL DEFAULT 0,
				next_retry_at TIMESTAMP WITH TIME ZONE,
				trigger_type VARCHAR(50) NOT NULL,
				triggered_by VARCHAR(255),
				schedule_id UUID,
				input_data JSONB DEFAULT '{}',
				step_results JSONB DEFAULT '{}',
				output JSONB,
				error_message TEXT,
				version BIGINT NOT NULL DEFAULT 1,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflow_executions_definition ON workflow_executions(definition_id);
			CREATE INDEX idx_workflow_executions_status ON workflow_executions(status);
			CREATE INDEX idx_workflow_executions_next_retry_at ON workflow_executions(next_retry_at);
			CREATE INDEX idx_workflow_executions_updated_at ON workflow_executions(updated_at);

			CREATE TABLE workflow_step_logs (
				id UUID PRIMARY KEY,
				execution_id UUID NOT NULL REFERENCES workflow_executions(id),
				step_id VARCHAR(255) NOT NULL,
				step_type VARCHAR(255) NOT NULL,
				step_name VARCHAR(255) NOT NULL,
				attempt INT NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('running', 'completed', 'failed')),
				input JSONB,
				output JSONB,
				error TEXT,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				finished_at TIMESTAMP WITH TIME ZONE,
				duration_ms BIGINT NOT NULL DEFAULT 0
			);

			CREATE INDEX idx_workflow_step_logs_execution ON workflow_step_logs(execution_id);
			CREATE UNIQUE INDEX idx_workflow_step_logs_attempt ON workflow_step_logs(execution_id, step_id, attempt);

			CREATE TABLE workflow_schedules (
				id UUID PRIMARY KEY,
				definition_id UUID NOT NULL REFERENCES workflow_definitions(id),
				cron_expression VARCHAR(255) NOT NULL,
				timezone VARCHAR(255) NOT NULL DEFAULT '',
				active BOOLEAN NOT NULL DEFAULT true,
				next_run_at TIMESTAMP WITH TIME ZONE NOT NULL,
				last_run_at TIMESTAMP WITH TIME ZONE,
				last_run_status VARCHAR(50),
				version BIGINT NOT NULL DEFAULT 1,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE UNIQUE INDEX idx_workflow_schedules_unique ON workflow_schedules(definition_id, cron_expression);
			CREATE INDEX idx_workflow_schedules_due ON workflow_schedules(active, next_run_at);
		`,
	}
}
