package events

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node     *snowflake.Node
	nodeOnce sync.Once
	nodeErr  error
)

// InitIDs sets the snowflake node ID used for event IDs. It must be called
// before the first event is created; later calls have no effect.
func InitIDs(nodeID int64) error {
	nodeOnce.Do(func() {
		node, nodeErr = snowflake.NewNode(nodeID)
	})
	return nodeErr
}

// NewID returns a globally unique, time-ordered event ID.
func NewID() int64 {
	if err := InitIDs(1); err != nil || node == nil {
		return 0
	}
	return node.Generate().Int64()
}
