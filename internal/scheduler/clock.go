package scheduler

// Clock issues the strictly increasing sequence numbers that order the
// replay log. All scheduling runs on a single consumer goroutine, so a
// plain counter suffices; replay resumes from the log's last sequence
// via NewClockAt.
type Clock struct {
	seq int64
}

// NewClockAt returns a clock whose next value is start+1.
func NewClockAt(start int64) *Clock {
	return &Clock{seq: start}
}

// Next increments the clock and returns the new sequence number.
func (c *Clock) Next() int64 {
	c.seq++
	return c.seq
}

// Current returns the last issued sequence number.
func (c *Clock) Current() int64 {
	return c.seq
}

// rewind backs out the last issued number after a failed append, so the
// in-memory clock stays contiguous with the durable log.
func (c *Clock) rewind() {
	c.seq--
}
