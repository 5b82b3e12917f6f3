package gpucompute

// ChannelCapacity is the number of undelivered messages a Channel holds.
// The producer is at most one message ahead of the consumer, so a full
// channel means the consumer stopped draining.
const ChannelCapacity = 2

// ImageBytes is the read-back, de-padded pixels of one image.
type ImageBytes struct {
	ID    ImageID
	Bytes []byte
}

// Message carries one dispatch result from the device context to the owner.
type Message[T any] struct {
	// Data is the decoded value, or nil when no slot was staged.
	Data *T

	Images []ImageBytes
}

// Channel is the bounded single-producer, single-consumer hand-off of
// dispatch results. Messages are delivered in send order.
type Channel[T any] struct {
	ch chan Message[T]
}

// NewChannel returns an empty channel of capacity ChannelCapacity.
func NewChannel[T any]() *Channel[T] {
	return &Channel[T]{ch: make(chan Message[T], ChannelCapacity)}
}

// Send enqueues msg without blocking. A full channel returns ErrChannelFull
// and msg is not enqueued.
func (c *Channel[T]) Send(msg Message[T]) error {
	select {
	case c.ch <- msg:
		return nil
	default:
		return ErrChannelFull
	}
}

// TryRecv returns the oldest message, if any.
func (c *Channel[T]) TryRecv() (Message[T], bool) {
	select {
	case msg := <-c.ch:
		return msg, true
	default:
		return Message[T]{}, false
	}
}

// Len returns the number of undelivered messages.
func (c *Channel[T]) Len() int {
	return len(c.ch)
}
