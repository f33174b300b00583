// Package snowflake wraps bwmarrin/snowflake behind a process-wide
// node so every entity created by fleetkeeper (coordination server,
// subnet router, remote, exit node, sponsor, SSH host) gets a sortable,
// collision-free id without coordinating with the datastore.
package snowflake

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	once   sync.Once
	node   *snowflake.Node
	nodeID int64 = 1
)

// Init sets the node ID (0-1023) before first use. Single-operator
// deployments can leave the default.
func Init(id int64) error {
	if id < 0 || id > 1023 {
		return fmt.Errorf("node ID must be between 0 and 1023, got: %d", id)
	}
	nodeID = id

	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
		if err != nil {
			err = fmt.Errorf("failed to create snowflake node: %w", err)
		}
	})

	return err
}

// GenerateID returns a new ID in decimal string form.
func GenerateID() (string, error) {
	if node == nil {
		if err := Init(nodeID); err != nil {
			return "", fmt.Errorf("snowflake not initialized: %w", err)
		}
	}
	return strconv.FormatInt(node.Generate().Int64(), 10), nil
}
