package server

import "time"

// Summary is the point-in-time snapshot returned by the "summary" control
// command, grounded on original_source/src/server/summary.rs's Summary
// struct.
type Summary struct {
	Uptime            time.Duration `json:"uptime"`
	DateTime          time.Time     `json:"date_time"`
	BlocksProcessed   uint64        `json:"blocks_processed"`
	BestTipHash       string        `json:"best_tip_hash"`
	RootHash          string        `json:"root_hash"`
	RootHeight        uint32        `json:"root_height"`
	RootLength        int           `json:"root_length"`
	NumLeaves         int           `json:"num_leaves"`
	NumDangling       int           `json:"num_dangling"`
	MaxDanglingHeight uint32        `json:"max_dangling_height"`
	MaxDanglingLength int           `json:"max_dangling_length"`
	DBStats           string        `json:"db_stats,omitempty"`
}
