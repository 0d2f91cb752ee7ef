package kernel

import (
	"io"
	"sync"
)

const consoleHistory = 8192

// Console is the machine console: everything environments print goes to
// the output writer and to every subscriber, and bytes fed from the
// keyboard side are returned one at a time by cgetc.
type Console struct {
	mu      sync.Mutex
	out     io.Writer
	in      []byte
	history []byte
	subs    map[int]chan []byte
	nextSub int
}

// NewConsole creates a console writing to out, which may be nil.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out, subs: make(map[int]chan []byte)}
}

// Write prints p on the console.
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, p...)
	if n := len(c.history); n > consoleHistory {
		c.history = append(c.history[:0], c.history[n-consoleHistory:]...)
	}
	for _, ch := range c.subs {
		b := append([]byte(nil), p...)
		select {
		case ch <- b:
		default:
			// slow subscriber, drop
		}
	}
	if c.out == nil {
		return len(p), nil
	}
	return c.out.Write(p)
}

// Feed queues input bytes for cgetc.
func (c *Console) Feed(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.in = append(c.in, p...)
}

// Getc returns the next input byte without blocking.
func (c *Console) Getc() (byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.in) == 0 {
		return 0, false
	}
	b := c.in[0]
	c.in = c.in[1:]
	return b, true
}

// History returns the most recent console output.
func (c *Console) History() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.history...)
}

// Subscribe registers a receiver of future output. The returned function
// unsubscribes and closes the channel.
func (c *Console) Subscribe(buffer int) (<-chan []byte, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	ch := make(chan []byte, buffer)
	c.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			close(ch)
		})
	}
}
