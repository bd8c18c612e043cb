package idgen

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Initialize sets up the request ID generator with a node ID. Only the first
// call has any effect.
func Initialize(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// RequestID returns a new unique, time-ordered request identifier.
func RequestID() string {
	_ = Initialize(1)
	return node.Generate().String()
}
