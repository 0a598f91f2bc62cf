package lwp

import "errors"

// ErrMalformedMessage is returned by Decode when a frame's declared length does
// not match the bytes available, its type tag is not recognised, or its payload
// is too short for the message it claims to be.
var ErrMalformedMessage = errors.New("lwp: malformed message")
