// Package transport provides an in-process implementation of the telephony
// boundary. The simulated transport records every command the engine emits
// and lets tests and examples inject patient speech, silence and disconnects
// as if they arrived from a real telephony provider.
package transport
