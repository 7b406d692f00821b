package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Create execution_history table
			CREATE TABLE execution_history (
				job_id VARCHAR(255) PRIMARY KEY,
				status VARCHAR(50) NOT NULL CHECK (status IN ('PENDING', 'RUNNING', 'COMPLETED', 'FAILED')),
				message TEXT NOT NULL DEFAULT '',
				result JSONB,
				run_name VARCHAR(255) NOT NULL DEFAULT '',
				group_id VARCHAR(255) NOT NULL DEFAULT '',
				group_email VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_execution_history_status ON execution_history(status);
			CREATE INDEX idx_execution_history_group_id ON execution_history(group_id);

			-- Create execution_trace table
			CREATE TABLE execution_trace (
				seq BIGSERIAL PRIMARY KEY,
				id UUID NOT NULL UNIQUE,
				job_id VARCHAR(255) NOT NULL,
				event_source VARCHAR(255) NOT NULL,
				event_context VARCHAR(255) NOT NULL DEFAULT '',
				event_type VARCHAR(100) NOT NULL,
				output TEXT NOT NULL DEFAULT '',
				trace_metadata JSONB,
				group_id VARCHAR(255) NOT NULL DEFAULT '',
				group_email VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_execution_trace_job_id ON execution_trace(job_id);
			CREATE INDEX idx_execution_trace_group_id ON execution_trace(group_id);
		`,
		2: `
			-- Create execution_logs table for flushed per-job log buffers
			CREATE TABLE execution_logs (
				seq BIGSERIAL PRIMARY KEY,
				job_id VARCHAR(255) NOT NULL,
				level VARCHAR(20) NOT NULL,
				content TEXT NOT NULL,
				group_id VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_execution_logs_job_id ON execution_logs(job_id);
		`,
	}
}
