package utilities

import (
	"os"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

var (
	nodeOnce sync.Once
	node     *snowflake.Node
)

// NewKSUID generates a new globally unique KSUID string.
func NewKSUID() string {
	return ksuid.New().String()
}

// NewSnowflakeID generates a time-ordered snowflake ID string. The node
// number comes from SNOWFLAKE_NODE (default 1) and is resolved once per
// process; if the node cannot be created a KSUID is returned instead.
func NewSnowflakeID() string {
	nodeOnce.Do(func() {
		n, err := snowflake.NewNode(nodeFromEnv())
		if err == nil {
			node = n
		}
	})
	if node == nil {
		return NewKSUID()
	}
	return node.Generate().String()
}

// NewSnowflakeIDWithNode generates a snowflake ID string using the provided node ID.
// If the node cannot be initialized, it falls back to a KSUID string.
func NewSnowflakeIDWithNode(nodeID int64) string {
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return NewKSUID()
	}
	return n.Generate().String()
}

func nodeFromEnv() int64 {
	v := os.Getenv("SNOWFLAKE_NODE")
	if v == "" {
		return 1
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 1
	}
	return id
}
