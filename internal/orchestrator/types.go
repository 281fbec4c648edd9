// Package orchestrator keeps the set of monitored workspaces in line with
// what operators asked for.
package orchestrator

import (
	"time"

	"github.com/KafClaw/wsagent/internal/processor"
	"github.com/KafClaw/wsagent/internal/store"
)

// Status is the orchestration state of one workspace.
type Status string

const (
	StatusMonitoring Status = "monitoring"
	StatusStopped    Status = "stopped"
)

// Meta is the orchestration record of one workspace.
type Meta struct {
	StoreID          string    `json:"storeId"`
	Status           Status    `json:"status"`
	Monitored        bool      `json:"monitored"`
	MonitoredSince   time.Time `json:"monitoredSince,omitempty"`
	FirstMonitoredAt time.Time `json:"firstMonitoredAt,omitempty"`
	LastEnsuredAt    time.Time `json:"lastEnsuredAt,omitempty"`
	LastStoppedAt    time.Time `json:"lastStoppedAt,omitempty"`
	Provisioned      int       `json:"provisioned"`
	Deprovisioned    int       `json:"deprovisioned"`
}

// Counters are process-wide provisioning totals.
type Counters struct {
	TotalProvisioned   int `json:"totalProvisioned"`
	TotalDeprovisioned int `json:"totalDeprovisioned"`
}

// Health is returned by the health endpoint.
type Health struct {
	Healthy        bool            `json:"healthy"`
	LedgerOK       bool            `json:"ledgerOk"`
	BreakerTripped bool            `json:"breakerTripped"`
	BreakerCause   string          `json:"breakerCause,omitempty"`
	Stores         []store.Info    `json:"stores"`
	Processor      processor.Stats `json:"processor"`
	Counters       Counters        `json:"counters"`
}
