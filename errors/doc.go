// Package errors provides the coded error taxonomy shared by every flowkit
// primitive.
//
// Dedicated failures raised by the resilience layer (configuration problems,
// exceeded deadlines, exhausted retries, failed fan-outs) are AppErrors with a
// stable ErrorCode. Errors raised by wrapped operations are never converted:
// they travel through composition operators unchanged, and when a dedicated
// error carries one as its cause, errors.Is and errors.As still reach it.
package errors
