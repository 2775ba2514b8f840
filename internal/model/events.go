package model

import "time"

// Kind is the normalized type of a filesystem event.
type Kind int

const (
	Created Kind = iota + 1
	Deleted
	Modified
	AttributesChanged
	MovedFrom
	MovedTo
	Moved
	DeletedSelf
	MovedSelf
)

var kindNames = map[Kind]string{
	Created:           "created",
	Deleted:           "deleted",
	Modified:          "modified",
	AttributesChanged: "attributes_changed",
	MovedFrom:         "moved_from",
	MovedTo:           "moved_to",
	Moved:             "moved",
	DeletedSelf:       "deleted_self",
	MovedSelf:         "moved_self",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// Event is a normalized filesystem event. DestPath is only set for Moved.
type Event struct {
	Kind        Kind
	SrcPath     string
	DestPath    string
	IsDirectory bool
	TimeStamp   time.Time
}

// NewEvent stamps an event with the current time.
func NewEvent(kind Kind, path string, isDir bool) Event {
	return Event{Kind: kind, SrcPath: path, IsDirectory: isDir, TimeStamp: time.Now()}
}

// NewMoveEvent builds a Moved event carrying both ends of a rename.
func NewMoveEvent(src, dest string, isDir bool) Event {
	return Event{Kind: Moved, SrcPath: src, DestPath: dest, IsDirectory: isDir, TimeStamp: time.Now()}
}

// Paths returns every path the event touches.
func (e Event) Paths() []string {
	if e.DestPath != "" {
		return []string{e.SrcPath, e.DestPath}
	}
	return []string{e.SrcPath}
}

// MountEvent reports removable media appearing or going away.
type MountEvent struct {
	Action     string // "add", "remove"
	DevicePath string // e.g., /dev/sdb1
	MountPoint string // e.g., /media/usb
	VendorID   string
	ProductID  string
	Product    string
	Serial     string
	TimeStamp  time.Time
}
