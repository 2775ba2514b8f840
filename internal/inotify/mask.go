package inotify

import (
	"fmt"
	"strings"
)

// Mask is the inotify event bit mask, both as requested when adding a watch
// and as reported in an event record.
type Mask uint32

// User-space events.
const (
	InAccess       Mask = 0x00000001 // File was accessed.
	InModify       Mask = 0x00000002 // File was modified.
	InAttrib       Mask = 0x00000004 // Meta-data changed.
	InCloseWrite   Mask = 0x00000008 // Writable file was closed.
	InCloseNoWrite Mask = 0x00000010 // Unwritable file closed.
	InOpen         Mask = 0x00000020 // File was opened.
	InMovedFrom    Mask = 0x00000040 // File was moved from X.
	InMovedTo      Mask = 0x00000080 // File was moved to Y.
	InCreate       Mask = 0x00000100 // Subfile was created.
	InDelete       Mask = 0x00000200 // Subfile was deleted.
	InDeleteSelf   Mask = 0x00000400 // Self was deleted.
	InMoveSelf     Mask = 0x00000800 // Self was moved.
)

// Events sent by the kernel to a watch.
const (
	InUnmount   Mask = 0x00002000 // Backing file system was unmounted.
	InQOverflow Mask = 0x00004000 // Event queue overflowed.
	InIgnored   Mask = 0x00008000 // Watch was removed, explicitly or by the kernel.
)

// Request-time modifiers and the is-directory response flag.
const (
	InOnlyDir    Mask = 0x01000000 // Only watch the path if it is a directory.
	InDontFollow Mask = 0x02000000 // Do not follow a symbolic link.
	InExclUnlink Mask = 0x04000000 // Exclude events on unlinked objects.
	InMaskAdd    Mask = 0x20000000 // Add to the mask of an existing watch.
	InIsDir      Mask = 0x40000000 // Event occurred against a directory.
	InOneShot    Mask = 0x80000000 // Only send the event once.
)

const (
	InClose = InCloseWrite | InCloseNoWrite
	InMove  = InMovedFrom | InMovedTo

	InAllEvents = InAccess | InModify | InAttrib | InCloseWrite | InCloseNoWrite |
		InOpen | InMovedFrom | InMovedTo | InCreate | InDelete | InDeleteSelf | InMoveSelf

	// DefaultMask is what an emitter subscribes to unless told otherwise:
	// everything that maps onto a normalized event.
	DefaultMask = InModify | InAttrib | InMovedFrom | InMovedTo | InCreate |
		InDelete | InDeleteSelf | InMoveSelf
)

var maskNames = []struct {
	flag Mask
	name string
}{
	{InAccess, "IN_ACCESS"},
	{InModify, "IN_MODIFY"},
	{InAttrib, "IN_ATTRIB"},
	{InCloseWrite, "IN_CLOSE_WRITE"},
	{InCloseNoWrite, "IN_CLOSE_NOWRITE"},
	{InOpen, "IN_OPEN"},
	{InMovedFrom, "IN_MOVED_FROM"},
	{InMovedTo, "IN_MOVED_TO"},
	{InCreate, "IN_CREATE"},
	{InDelete, "IN_DELETE"},
	{InDeleteSelf, "IN_DELETE_SELF"},
	{InMoveSelf, "IN_MOVE_SELF"},
	{InUnmount, "IN_UNMOUNT"},
	{InQOverflow, "IN_Q_OVERFLOW"},
	{InIgnored, "IN_IGNORED"},
	{InOnlyDir, "IN_ONLYDIR"},
	{InDontFollow, "IN_DONT_FOLLOW"},
	{InExclUnlink, "IN_EXCL_UNLINK"},
	{InMaskAdd, "IN_MASK_ADD"},
	{InIsDir, "IN_ISDIR"},
	{InOneShot, "IN_ONESHOT"},
}

// Has reports whether any bit of flag is set in m.
func (m Mask) Has(flag Mask) bool { return m&flag != 0 }

func (m Mask) IsAccess() bool       { return m.Has(InAccess) }
func (m Mask) IsModify() bool       { return m.Has(InModify) }
func (m Mask) IsAttrib() bool       { return m.Has(InAttrib) }
func (m Mask) IsCloseWrite() bool   { return m.Has(InCloseWrite) }
func (m Mask) IsCloseNoWrite() bool { return m.Has(InCloseNoWrite) }
func (m Mask) IsOpen() bool         { return m.Has(InOpen) }
func (m Mask) IsMovedFrom() bool    { return m.Has(InMovedFrom) }
func (m Mask) IsMovedTo() bool      { return m.Has(InMovedTo) }
func (m Mask) IsMove() bool         { return m.Has(InMove) }
func (m Mask) IsCreate() bool       { return m.Has(InCreate) }
func (m Mask) IsDelete() bool       { return m.Has(InDelete) }
func (m Mask) IsDeleteSelf() bool   { return m.Has(InDeleteSelf) }
func (m Mask) IsMoveSelf() bool     { return m.Has(InMoveSelf) }
func (m Mask) IsUnmount() bool      { return m.Has(InUnmount) }
func (m Mask) IsOverflow() bool     { return m.Has(InQOverflow) }
func (m Mask) IsIgnored() bool      { return m.Has(InIgnored) }
func (m Mask) IsDirectory() bool    { return m.Has(InIsDir) }

func (m Mask) String() string {
	if m == 0 {
		return "0"
	}
	var names []string
	rest := m
	for _, n := range maskNames {
		if m&n.flag != 0 {
			names = append(names, n.name)
			rest &^= n.flag
		}
	}
	if rest != 0 {
		names = append(names, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(names, "|")
}
