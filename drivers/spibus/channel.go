package spibus

import "tinygo.org/x/drivers"

// Channel is one logical endpoint of an Arbiter. It satisfies drivers.SPI,
// so device drivers are written against the same interface tinygo drivers use.
type Channel struct {
	a   *Arbiter
	sel Selector
}

var _ drivers.SPI = (*Channel)(nil)

// Selector returns the channel this handle is bound to.
func (c *Channel) Selector() Selector { return c.sel }

// Tx performs one transaction. A nil r discards the received bytes.
func (c *Channel) Tx(w, r []byte) error {
	if r == nil {
		r = make([]byte, len(w))
	}
	return c.a.Tx(c.sel, w, r)
}

// Transfer exchanges a single byte as its own transaction.
func (c *Channel) Transfer(b byte) (byte, error) {
	var w, r [1]byte
	w[0] = b
	if err := c.a.Tx(c.sel, w[:], r[:]); err != nil {
		return 0, err
	}
	return r[0], nil
}
