// Package controlplane implements the thin JSON HTTP client the core
// uses to reach the external REST control plane (§6.2): Recipient,
// Source, Model, Destination reads, and TransferRun create/update. The
// control plane's own CRUD surface is out of scope; this package only
// consumes it.
package controlplane

import (
	"time"

	"github.com/sp00nznet/pontoond/internal/connection"
)

// Recipient is a tenant the transfer runs on behalf of.
type Recipient struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
}

// Source is a configured upstream warehouse/connector.
type Source struct {
	ID             string           `json:"id"`
	VendorType     connection.VendorType `json:"vendor_type"`
	ConnectionInfo connection.Info  `json:"connection_info"`
}

// Model is one replicated table definition.
type Model struct {
	ID                   string `json:"id"`
	SourceID             string `json:"source_id"`
	SchemaName           string `json:"schema_name"`
	TableName            string `json:"table_name"`
	PrimaryKeyColumn     string `json:"primary_key_column"`
	LastModifiedAtColumn string `json:"last_modified_at_column"`
	TenantIDColumn       string `json:"tenant_id_column"`
}

// Destination is a configured downstream warehouse/connector.
type Destination struct {
	ID                string                `json:"id"`
	VendorType        connection.VendorType `json:"vendor_type"`
	ConnectionInfo    connection.Info       `json:"connection_info"`
	DropAfterComplete bool                  `json:"drop_after_complete"`
}

// RunStatus is a TransferRun's lifecycle state.
type RunStatus string

const (
	RunRunning RunStatus = "RUNNING"
	RunSuccess RunStatus = "SUCCESS"
	RunFailure RunStatus = "FAILURE"
)

// TransferRun is the control plane's record of one Transfer command
// execution, per §3 "TransferRun".
type TransferRun struct {
	ID         string                 `json:"id,omitempty"`
	TransferID string                 `json:"transfer_id"`
	Status     RunStatus              `json:"status"`
	Meta       map[string]any         `json:"meta,omitempty"`
	Output     map[string]any         `json:"output,omitempty"`
	CreatedAt  time.Time              `json:"created_at,omitempty"`
}

// RunUpdate is the partial PUT body for /runs/{run_id}.
type RunUpdate struct {
	Status *RunStatus     `json:"status,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
	Output map[string]any `json:"output,omitempty"`
}
