// Package message parses and serializes HDF5 object header messages.
//
// Every message type the container writes round-trips through Parse and
// Serialize. Message types this package does not model are kept as
// [Unknown] with their raw bytes so rewriting an object header preserves
// them.
package message
