package protocol

// Controller carries a node's lifetime cancellation signal through to its
// connection and message adapters.
type Controller struct {
	Cancellation chan struct{}
}

// NewController constructs a Controller with a fresh cancellation channel.
func NewController() *Controller {
	return &Controller{
		Cancellation: make(chan struct{}),
	}
}

// Cancel signals cancellation to anything selecting on Cancellation. Safe to
// call at most once.
func (c *Controller) Cancel() {
	close(c.Cancellation)
}
