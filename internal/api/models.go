package api

import (
	"time"

	"etl-web3/internal/config"
)

// JobRequest mirrors config.Config but is tagged for JSON decoding so a job
// can be submitted directly over HTTP without an on-disk manifest.
type JobRequest struct {
	RPCURL                  string                  `json:"rpc_url"`
	Contracts               []config.ContractConfig `json:"contracts"`
	Storage                 config.StorageConfig    `json:"storage"`
	Retry                   config.RetryConfig      `json:"retry"`
	Concurrency             config.ConcurrencyConfig `json:"concurrency"`
	MaxBlockRange           uint64                  `json:"max_block_range"`
	ExecuteInEventOrder     bool                    `json:"execute_in_event_order"`
	ExecuteEventLogsInOrder bool                    `json:"execute_event_logs_in_order"`
}

// JobResponse is returned after a successful job creation.
type JobResponse struct {
	JobID string `json:"job_id"`
}

// JobStatus represents the runtime state of a launched job.
type JobStatus struct {
	JobID      string     `json:"job_id"`
	Status     string     `json:"status"` // queued | running | finished | error | cancelled
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
