//go:build !linux

package inotify

import "time"

type unsupportedFacility struct{}

// Native returns a facility whose every call fails with ErrUnsupported.
func Native() Facility { return unsupportedFacility{} }

func (unsupportedFacility) Init(bool) (int, error)                    { return -1, ErrUnsupported }
func (unsupportedFacility) AddWatch(int, string, Mask) (int32, error) { return -1, ErrUnsupported }
func (unsupportedFacility) RemoveWatch(int, int32) error              { return ErrUnsupported }
func (unsupportedFacility) Read(int, []byte) (int, error)             { return 0, ErrUnsupported }
func (unsupportedFacility) Wait(int, time.Duration) (bool, error)     { return false, ErrUnsupported }
func (unsupportedFacility) Close(int) error                           { return ErrUnsupported }
