package watch

// sizeTracker remembers how much of a file the last cycle saw. It is owned
// by a single handle goroutine and needs no locking.
type sizeTracker struct {
	pos int64
}

// observe compares the current size with the last known position. A file
// smaller than what was already read has been truncated or recreated, so the
// position goes back to 0 instead of skipping content.
func (t *sizeTracker) observe(size int64) (from int64, truncated bool) {
	if size < t.pos {
		t.pos = 0
		return 0, true
	}
	return t.pos, false
}

// advance records that the file has been read up to n bytes.
func (t *sizeTracker) advance(n int64) {
	t.pos = n
}

// reset forgets the file, e.g. after it disappeared.
func (t *sizeTracker) reset() {
	t.pos = 0
}

func (t *sizeTracker) position() int64 {
	return t.pos
}
