// Package notify delivers one-time codes to an address the user controls.
// Delivery is best effort; callers treat a send error as fatal to the
// request but never retry inside this package.
package notify

import "context"

// Message is one outbound notification.
type Message struct {
	Address string
	Subject string
	Body    string
}

// Sender delivers a message over one channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}
