// Package dmtp implements the core DMTP wire protocol.
//
// This includes the payload codec, the compact GPS encoding, the
// client-negotiated payload template system, the template-driven event
// decoder, packet framing, and the server NAK error codes.
package dmtp
