package gcode

// Queue is the immutable command list of one job plus the cursor of the
// next unsent command. The cursor always stays within [0, Len()].
type Queue struct {
	cmds   []Command
	cursor int
}

// NewQueue creates a Queue over cmds with the cursor at 0.
func NewQueue(cmds []Command) *Queue {
	return &Queue{cmds: cmds}
}

// Len returns the number of commands.
func (q *Queue) Len() int {
	if q == nil {
		return 0
	}

	return len(q.cmds)
}

// Cursor returns the index of the next unsent command.
func (q *Queue) Cursor() int {
	if q == nil {
		return 0
	}

	return q.cursor
}

// At returns the command at index i.
func (q *Queue) At(i int) (Command, bool) {
	if q == nil || i < 0 || i >= len(q.cmds) {
		return Command{}, false
	}

	return q.cmds[i], true
}

// Next returns the command at the cursor and advances the cursor.
func (q *Queue) Next() (Command, bool) {
	cmd, ok := q.At(q.Cursor())
	if ok {
		q.cursor++
	}

	return cmd, ok
}

// Rewind moves the cursor to pos, clamped to [0, Len()], and returns the
// resulting cursor.
func (q *Queue) Rewind(pos int) int {
	if q == nil {
		return 0
	}
	q.cursor = min(max(pos, 0), len(q.cmds))

	return q.cursor
}

// Reset moves the cursor back to the first command.
func (q *Queue) Reset() {
	if q != nil {
		q.cursor = 0
	}
}

// Done reports whether every command has been sent.
func (q *Queue) Done() bool {
	return q.Cursor() >= q.Len()
}
