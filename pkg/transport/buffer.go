package transport

// OutboundBuffer is an ordered queue of encoded frames waiting for an open socket.
// It is not safe for concurrent use; SocketTransport guards it with its own lock.
type OutboundBuffer struct {
	frames []string
}

// Push appends a frame at the back
func (b *OutboundBuffer) Push(frame string) {
	b.frames = append(b.frames, frame)
}

// PushFront returns a frame to the head of the queue
func (b *OutboundBuffer) PushFront(frame string) {
	b.frames = append([]string{frame}, b.frames...)
}

// Pop removes and returns the head frame
func (b *OutboundBuffer) Pop() (string, bool) {
	if len(b.frames) == 0 {
		return "", false
	}
	frame := b.frames[0]
	b.frames[0] = ""
	b.frames = b.frames[1:]
	return frame, true
}

// Len returns the number of queued frames
func (b *OutboundBuffer) Len() int {
	return len(b.frames)
}

// Frames returns a copy of the queued frames in send order
func (b *OutboundBuffer) Frames() []string {
	out := make([]string, len(b.frames))
	copy(out, b.frames)
	return out
}

// Flush writes frames in order until the buffer is empty or a write fails.
// A failed frame goes back to the head and the remaining frames stay queued
// behind it. It returns how many frames were written.
func (b *OutboundBuffer) Flush(write func(frame string) error) (int, error) {
	sent := 0
	for {
		frame, ok := b.Pop()
		if !ok {
			return sent, nil
		}
		if err := write(frame); err != nil {
			b.PushFront(frame)
			return sent, err
		}
		sent++
	}
}
