// Package netio implements the DMTP transport layer: the duplex TCP
// session loop and the simplex UDP datagram handler. Both feed decoded
// events through the policy gate into the configured store.
package netio
