package host

import "fmt"

// Convertor walks count elements of a datatype as a contiguous byte stream.
// Positions are offsets into that packed stream.
type Convertor struct {
	dt    *Datatype
	buf   []byte
	count int
	pos   int
	total int
	recv  bool
}

// Prepared reports whether the convertor is bound to a buffer.
func (c *Convertor) Prepared() bool { return c != nil && c.dt != nil }

// PrepareForSend binds the convertor for packing from buf.
func (c *Convertor) PrepareForSend(dt *Datatype, count int, buf []byte) error {
	return c.prepare(dt, count, buf, false)
}

// PrepareForRecv binds the convertor for unpacking into buf.
func (c *Convertor) PrepareForRecv(dt *Datatype, count int, buf []byte) error {
	return c.prepare(dt, count, buf, true)
}

func (c *Convertor) prepare(dt *Datatype, count int, buf []byte, recv bool) error {
	if !dt.Valid() {
		return ErrType
	}
	if count < 0 {
		return fmt.Errorf("%w: negative count %d", ErrArg, count)
	}
	if need := dt.Span(count); need > len(buf) {
		return fmt.Errorf("%w: %d bytes needed, buffer holds %d", ErrTruncate, need, len(buf))
	}
	c.dt = dt
	c.buf = buf
	c.count = count
	c.pos = 0
	c.total = count * dt.size
	c.recv = recv
	return nil
}

// Count is the number of elements bound.
func (c *Convertor) Count() int { return c.count }

// Buffer is the user buffer bound.
func (c *Convertor) Buffer() []byte { return c.buf }

// Datatype is the datatype bound.
func (c *Convertor) Datatype() *Datatype { return c.dt }

// PackedSize is the total stream length.
func (c *Convertor) PackedSize() int { return c.total }

// Position returns the current stream offset.
func (c *Convertor) Position() int { return c.pos }

// SetPosition moves the cursor to a stream offset.
func (c *Convertor) SetPosition(pos int) error {
	if pos < 0 || pos > c.total {
		return fmt.Errorf("%w: position %d outside [0,%d]", ErrArg, pos, c.total)
	}
	c.pos = pos
	return nil
}

// Pack copies the stream from the cursor into dst and advances the cursor.
func (c *Convertor) Pack(dst []byte) (int, error) {
	if !c.Prepared() || c.recv {
		return 0, ErrRequest
	}
	return c.walk(dst, func(user, stream []byte) { copy(stream, user) })
}

// Unpack copies src into the buffer at the cursor and advances the cursor.
func (c *Convertor) Unpack(src []byte) (int, error) {
	if !c.Prepared() || !c.recv {
		return 0, ErrRequest
	}
	return c.walk(src, func(user, stream []byte) { copy(user, stream) })
}

func (c *Convertor) walk(stream []byte, move func(user, stream []byte)) (int, error) {
	done := 0
	size := c.dt.size
	for done < len(stream) && c.pos < c.total {
		elem := c.pos / size
		within := c.pos % size
		base := elem * c.dt.extent
		for _, b := range c.dt.blocks {
			if within >= b.len {
				within -= b.len
				continue
			}
			n := min(b.len-within, len(stream)-done)
			start := base + b.off + within
			move(c.buf[start:start+n], stream[done:done+n])
			done += n
			c.pos += n
			within = 0
			if done == len(stream) {
				break
			}
		}
	}
	return done, nil
}

// Cleanup unbinds the convertor.
func (c *Convertor) Cleanup() {
	*c = Convertor{}
}
