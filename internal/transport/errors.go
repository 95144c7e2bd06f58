package transport

import "errors"

// ErrUnreachable marks a delivery that cannot succeed on retry, for example
// when the recipient blocked the bot or the chat no longer exists.
var ErrUnreachable = errors.New("recipient unreachable")
