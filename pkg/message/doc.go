// Package message defines the DWN message envelope: the tagged
// (interface, method) descriptor variants, the authorization envelope
// that wraps them, and the signature-payload shape the authenticator
// verifies against. Every descriptor variant implements Descriptor so
// handlers can route on interface/method before decoding; the decode
// into a concrete variant happens in TypedDescriptor, which picks the
// variant by the (interface, method) pair.
package message
