//go:build !linux

package mounts

import (
	"context"
	"errors"

	"github.com/Hara602/treewatch/internal/model"
)

type unsupportedFollower struct{}

func newFollower() Follower { return unsupportedFollower{} }

func (unsupportedFollower) Start(context.Context) (<-chan model.MountEvent, error) {
	return nil, errors.New("mount following requires linux")
}

func (unsupportedFollower) Stop() {}
