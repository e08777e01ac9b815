// Package catalog keeps a SQLite index of recording sessions: when each started
// and stopped, which sensors it recorded, any error it reported, and the size and
// BLAKE3 digest of every file it produced.
package catalog
