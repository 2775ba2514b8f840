package emitter

import (
	"context"
	"io/fs"
	"path/filepath"

	"github.com/Hara602/treewatch/internal/inotify"
	"github.com/Hara602/treewatch/internal/model"
	"go.uber.org/zap"
)

// heldMove is the first half of a rename whose other half is later in the
// same batch.
type heldMove struct {
	path  string
	from  bool
	isDir bool
}

// pairedCookies returns the non-zero cookies that appear on both a MovedFrom
// and a MovedTo record of the batch.
func pairedCookies(records []inotify.Record) map[uint32]bool {
	from := make(map[uint32]bool)
	to := make(map[uint32]bool)
	for _, rec := range records {
		if rec.Cookie == 0 {
			continue
		}
		if rec.Mask.IsMovedFrom() {
			from[rec.Cookie] = true
		}
		if rec.Mask.IsMovedTo() {
			to[rec.Cookie] = true
		}
	}
	paired := make(map[uint32]bool)
	for cookie := range from {
		if to[cookie] {
			paired[cookie] = true
		}
	}
	return paired
}

// handleBatch normalizes the records of one read, keeping the watch table in
// step with the tree, and queues the results in record order. Paths are
// resolved one record at a time so that a rename earlier in the batch is
// reflected in later records.
func (e *Emitter) handleBatch(ctx context.Context, records []inotify.Record) error {
	paired := pairedCookies(records)
	held := make(map[uint32]heldMove)

	for _, rec := range records {
		m := rec.Mask
		if m.IsOverflow() {
			e.overflows.Add(1)
			e.logger.Warn("inotify queue overflowed, events were lost")
			continue
		}

		if m.IsIgnored() {
			path, ok := e.session.ForgetHandle(rec.Wd)
			if ok && e.session.IsRoot(path) {
				return inotify.ErrRootInvalidated
			}
			continue
		}
		ev := e.session.Resolve(rec)
		if ev.Path == "" {
			e.logger.Debug("event for unknown watch", zap.Int32("wd", rec.Wd), zap.Stringer("mask", m))
			continue
		}
		isDir := m.IsDirectory()

		var err error
		switch {
		case m.IsMovedFrom() || m.IsMovedTo():
			if paired[rec.Cookie] {
				err = e.pairMove(ctx, held, rec, ev.Path, isDir)
			} else if m.IsMovedFrom() {
				err = e.movedOut(ctx, ev.Path, isDir)
			} else {
				err = e.created(ctx, ev.Path, isDir)
			}
		case m.IsCreate():
			err = e.created(ctx, ev.Path, isDir)
		case m.IsDelete():
			if isDir {
				e.session.ForgetTree(ev.Path)
			}
			err = e.emit(ctx, model.NewEvent(model.Deleted, ev.Path, isDir))
		case m.IsModify():
			err = e.emit(ctx, model.NewEvent(model.Modified, ev.Path, isDir))
		case m.IsAttrib():
			err = e.emit(ctx, model.NewEvent(model.AttributesChanged, ev.Path, isDir))
		case m.IsDeleteSelf():
			// Deleted subdirectories are already reported by their parent.
			if e.session.IsRoot(ev.Path) {
				err = e.emit(ctx, model.NewEvent(model.DeletedSelf, ev.Path, true))
			}
		case m.IsMoveSelf():
			if e.session.IsRoot(ev.Path) {
				err = e.emit(ctx, model.NewEvent(model.MovedSelf, ev.Path, true))
			}
		case m.IsUnmount():
			e.logger.Warn("backing filesystem unmounted", zap.String("path", ev.Path))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// pairMove holds the first half of a rename and emits a single Moved event
// when the second half arrives, whichever order the two come in.
func (e *Emitter) pairMove(ctx context.Context, held map[uint32]heldMove, rec inotify.Record, path string, isDir bool) error {
	other, ok := held[rec.Cookie]
	if !ok {
		held[rec.Cookie] = heldMove{path: path, from: rec.Mask.IsMovedFrom(), isDir: isDir}
		return nil
	}
	delete(held, rec.Cookie)

	src, dest := other.path, path
	if !other.from {
		src, dest = path, other.path
	}
	if isDir || other.isDir {
		e.session.RenameTree(src, dest)
	}
	return e.emit(ctx, model.NewMoveEvent(src, dest, isDir || other.isDir))
}

// movedOut reports an entry renamed to somewhere outside the watched tree.
// For the watcher it is gone, so it is reported as deleted and any watches
// below it are dropped.
func (e *Emitter) movedOut(ctx context.Context, path string, isDir bool) error {
	if isDir && e.watch.Recursive {
		if err := e.session.RemoveTree(path); err != nil {
			e.logger.Warn("dropping watches of moved directory", zap.String("path", path), zap.Error(err))
		}
	}
	return e.emit(ctx, model.NewEvent(model.Deleted, path, isDir))
}

// created reports a new entry. A new directory in recursive mode is watched
// before the event is queued, then its existing contents are reported.
func (e *Emitter) created(ctx context.Context, path string, isDir bool) error {
	if !isDir || !e.watch.Recursive {
		return e.emit(ctx, model.NewEvent(model.Created, path, isDir))
	}

	if err := e.session.AddDirectoryWatch(path, true); err != nil {
		if !inotify.IsVanished(err) {
			return err
		}
		// Gone again before it could be watched.
		e.logger.Debug("new directory vanished", zap.String("path", path))
	}
	if err := e.emit(ctx, model.NewEvent(model.Created, path, true)); err != nil {
		return err
	}
	return e.emitContents(ctx, path)
}

// emitContents queues a Created event for every entry already below dir.
// Duplicates of events the kernel also reports are possible.
func (e *Emitter) emitContents(ctx context.Context, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return nil
			}
			return filepath.SkipDir
		}
		if p == dir {
			return nil
		}
		return e.emit(ctx, model.NewEvent(model.Created, p, d.IsDir()))
	})
}

func (e *Emitter) emit(ctx context.Context, ev model.Event) error {
	return e.queue.Put(ctx, ev)
}
