// Package channel abstracts the single external messaging channel the
// dispatch engine delivers through. The engine treats "send one message to
// one recipient" as an opaque operation; any transport works as long as it
// returns quickly or times out.
package channel

import "context"

// ChannelClient sends one message to one recipient. Implementations must be
// safe to call repeatedly from a single goroutine; callers bound each call
// with a context deadline so a hung provider cannot stall the pacing loop.
type ChannelClient interface {
	SendOne(ctx context.Context, recipient, message string) error
	Name() string
}
