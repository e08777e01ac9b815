// Package capture records every received sensor notification, undecoded, to a
// compressed append-only log so a session can be replayed through the decoder
// later. A capture file is an 8-byte header followed by a stream of CBOR records
// compressed with zstd, lz4 or nothing.
package capture
