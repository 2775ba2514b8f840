package inotify

import (
	"bytes"
	"encoding/binary"
	"iter"
)

// HeaderSize is the fixed part of struct inotify_event:
//
//	struct inotify_event {
//	    __s32 wd;       /* watch descriptor */
//	    __u32 mask;     /* watch mask */
//	    __u32 cookie;   /* cookie to synchronize two events */
//	    __u32 len;      /* length (including nulls) of name */
//	    char  name[0];  /* stub for possible name */
//	};
const HeaderSize = 16

// DefaultBufferSize fits 1024 records with short names in a single read.
const DefaultBufferSize = 1024 * (HeaderSize + 16)

// Record is one decoded inotify_event. Cookie links a MovedFrom record to its
// MovedTo counterpart; zero means no correlation. Name is relative to the
// watched directory and empty for events on the watched path itself.
type Record struct {
	Wd     int32
	Mask   Mask
	Cookie uint32
	Name   string
}

// Records iterates over the records packed in buf. Iteration ends quietly at
// a truncated trailing record.
func Records(buf []byte) iter.Seq[Record] {
	return func(yield func(Record) bool) {
		var offset int
		for len(buf)-offset >= HeaderSize {
			hdr := buf[offset : offset+HeaderSize]
			nameLen := int(binary.NativeEndian.Uint32(hdr[12:16]))
			if nameLen < 0 || nameLen > len(buf)-offset-HeaderSize {
				return
			}
			rec := Record{
				Wd:     int32(binary.NativeEndian.Uint32(hdr[0:4])),
				Mask:   Mask(binary.NativeEndian.Uint32(hdr[4:8])),
				Cookie: binary.NativeEndian.Uint32(hdr[8:12]),
			}
			name := buf[offset+HeaderSize : offset+HeaderSize+nameLen]
			if idx := bytes.IndexByte(name, 0); idx != -1 {
				name = name[:idx]
			}
			rec.Name = string(name)
			offset += HeaderSize + nameLen
			if !yield(rec) {
				return
			}
		}
	}
}

// Decode returns every complete record in buf.
func Decode(buf []byte) []Record {
	var out []Record
	for rec := range Records(buf) {
		out = append(out, rec)
	}
	return out
}

// Encode packs rec the way the kernel does, the name NUL terminated and padded
// to a multiple of HeaderSize.
func Encode(rec Record) []byte {
	nameLen := 0
	if rec.Name != "" {
		nameLen = (len(rec.Name)/HeaderSize + 1) * HeaderSize
	}
	buf := make([]byte, HeaderSize+nameLen)
	binary.NativeEndian.PutUint32(buf[0:4], uint32(rec.Wd))
	binary.NativeEndian.PutUint32(buf[4:8], uint32(rec.Mask))
	binary.NativeEndian.PutUint32(buf[8:12], rec.Cookie)
	binary.NativeEndian.PutUint32(buf[12:16], uint32(nameLen))
	copy(buf[HeaderSize:], rec.Name)
	return buf
}
