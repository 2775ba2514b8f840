// Package mounts follows removable block devices so their filesystems can be
// watched while they are mounted.
package mounts

import (
	"context"

	"github.com/Hara602/treewatch/internal/model"
)

// Follower reports removable partitions as they are mounted ("add") and
// unplugged ("remove"). Partitions mounted before Start are reported as
// "add" too.
type Follower interface {
	Start(ctx context.Context) (<-chan model.MountEvent, error)
	Stop()
}

func New() Follower {
	return newFollower()
}
