package jsonrpc

import "errors"

// ErrFraming indicates malformed bytes on the wire. It is fatal for the
// stream: once raised, no further messages can be read.
var ErrFraming = errors.New("jsonrpc: malformed frame")

// ErrTimeout indicates a single request exceeded the client's request
// timeout. The client remains usable; the late response, if it ever
// arrives, is dropped.
var ErrTimeout = errors.New("jsonrpc: request timed out")

// ErrTransport indicates the underlying byte channel failed (the child
// process died or a pipe closed). Fatal for the client.
var ErrTransport = errors.New("jsonrpc: transport failed")

// ErrCancelled indicates the client was stopped while requests were in
// flight.
var ErrCancelled = errors.New("jsonrpc: client stopped")
