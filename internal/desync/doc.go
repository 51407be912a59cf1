// Package desync transmits the first payload of an outbound TCP stream in a
// way that makes on-path inspectors reassemble it differently from the real
// server.
//
// Three strategies are available, all cutting the payload at one position:
// split writes the two halves separately, disorder sends the first half
// with a TTL of one so the server only gets it through retransmission, and
// fake sends a decoy in place of the first half with a short TTL and then
// swaps the real bytes into the memory the kernel retransmits from.
package desync
