package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/voxflow/voxflow/internal/models"
)

// nilIfZeroTime returns nil for the zero time, for nullable timestamp columns.
func nilIfZeroTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// scanFlow reads one flows row. The scan argument is row.Scan or rows.Scan,
// so both backends and both query shapes share the decoding.
func scanFlow(scan func(dest ...interface{}) error) (*models.FlowGraph, error) {
	var flow models.FlowGraph
	var nodes, edges string
	if err := scan(&flow.ID, &flow.Name, &nodes, &edges, &flow.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(nodes), &flow.Nodes); err != nil {
		return nil, fmt.Errorf("failed to decode nodes for flow %s: %w", flow.ID, err)
	}
	if err := json.Unmarshal([]byte(edges), &flow.Edges); err != nil {
		return nil, fmt.Errorf("failed to decode edges for flow %s: %w", flow.ID, err)
	}
	return &flow, nil
}

// scanCallSummary reads one call_summaries row.
func scanCallSummary(scan func(dest ...interface{}) error) (*models.CallSummary, error) {
	var summary models.CallSummary
	var visited string
	var endedAt sql.NullTime
	if err := scan(&summary.CallID, &summary.FlowID, &summary.CustomerPhone, &summary.StartedAt, &endedAt, &visited); err != nil {
		return nil, err
	}
	if endedAt.Valid {
		summary.EndedAt = endedAt.Time
	}
	if err := json.Unmarshal([]byte(visited), &summary.VisitedNodes); err != nil {
		return nil, fmt.Errorf("failed to decode visited nodes for call %s: %w", summary.CallID, err)
	}
	return &summary, nil
}
