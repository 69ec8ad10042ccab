package id

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

// Node IDs per process kind. Server and worker run as separate processes
// against the same database, so each kind gets its own snowflake node to
// keep generated IDs disjoint.
const (
	NodeServer int64 = 1
	NodeWorker int64 = 2
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init sets up the process-wide snowflake node. Call once at startup with
// NodeServer or NodeWorker before any store writes.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New returns a time-ordered int64 ID unique across both processes.
func New() int64 {
	return node.Generate().Int64()
}
