// Package database provides a generic, eventually-persisted record store.
//
// # Overview
//
// [DB] is a collection of records of one type bound to a directory. The
// in-memory map is authoritative: every mutation is visible to readers as
// soon as the call returns. The matching disk effect is queued and performed
// later by a single background goroutine, strictly in the order the
// mutations happened.
//
// # File Format
//
// Each record lives in its own file named "<index>.ddps" holding the
// [Serialize] text of the record. The file "index.ddps" holds the next index
// to assign, as decimal text.
//
// Fields in a record line are URL-escaped and joined with '|'. A nil string
// field is written as the token "%NULL%", which escaping never produces.
//
// # Recovery
//
// Records are read from disk once, the first time they are needed. A missing
// directory or an empty record file is not an error. A record file that
// cannot be deserialized fails the load with a [*DeserializationError]; a
// human has to repair or remove it.
package database
