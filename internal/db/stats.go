package db

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"
)

// StatusCount represents a status bucket with its record count.
type StatusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// TypeCount represents a context type with its record count.
type TypeCount struct {
	ContextType string `json:"context_type"`
	IsEpisode   bool   `json:"is_episode"`
	Count       int    `json:"count"`
}

// Stats summarizes table sizes for the stats command.
type Stats struct {
	ItemsByStatus []StatusCount
	Contexts      []TypeCount
	Artifacts     int
	TasksByStatus []StatusCount
}

// GetStats collects record counts across all tables.
func (c *Client) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	items, err := surrealdb.Query[[]StatusCount](ctx, c.db, `
		SELECT status, count() AS count FROM item GROUP BY status ORDER BY count DESC
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("count items: %w", err)
	}
	if items != nil && len(*items) > 0 {
		stats.ItemsByStatus = (*items)[0].Result
	}

	contexts, err := surrealdb.Query[[]TypeCount](ctx, c.db, `
		SELECT context_type, is_episode, count() AS count FROM mem_context
		GROUP BY context_type, is_episode ORDER BY count DESC
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("count contexts: %w", err)
	}
	if contexts != nil && len(*contexts) > 0 {
		stats.Contexts = (*contexts)[0].Result
	}

	type totalRow struct {
		Count int `json:"count"`
	}
	artifacts, err := surrealdb.Query[[]totalRow](ctx, c.db, `
		SELECT count() AS count FROM artifact GROUP ALL
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("count artifacts: %w", err)
	}
	if artifacts != nil && len(*artifacts) > 0 && len((*artifacts)[0].Result) > 0 {
		stats.Artifacts = (*artifacts)[0].Result[0].Count
	}

	tasks, err := surrealdb.Query[[]StatusCount](ctx, c.db, `
		SELECT status, count() AS count FROM task GROUP BY status ORDER BY count DESC
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	if tasks != nil && len(*tasks) > 0 {
		stats.TasksByStatus = (*tasks)[0].Result
	}

	return stats, nil
}
