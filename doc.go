/*
Package mediadb implements the persistence layer of a media server's session
metadata (live broadcasts, IP cameras and video-on-demand recordings) on top of
an embedded key-value store (Bolt by default; Badger, SQLite and an in-memory
store are also available).

We implement:

1. Ordered maps, durable string-keyed collections of encoded documents, with
pending mutations that become durable on an explicit Commit.

2. Two collections, “broadcast” and “vod”, created on Open if missing.

3. A facade on DB: saving, updating, listing and filtering broadcasts,
cameras and VODs.

4. Change notifications and an optional append-only journal of committed
changes (see package changelog).

# Technical Details

**Buckets.**
Each collection lives in its own bucket. Bolt supports them natively, Badger
simulates them with key prefixes, SQLite with a bucket column.

**Documents.**
Records are stored as JSON by default, so the store stays readable by other
tools; MsgPack can be selected for a more compact store. Both are lossless for
every field of Broadcast, Endpoint and Vod.

**Keys.**
Keys are opaque strings. By default new ids are random 24-digit decimal
strings, which makes the natural (lexicographic) key order used by all
listings unrelated to creation order.

**Commits.**
Every facade mutation is a read-modify-write cycle run under the
collection's write lock and committed before returning; a nil error means the
change is durable. Concurrent updates of the same record are serialized, so
none of them is lost.

**Errors.**
Operations never panic. Missing records are reported as ErrNotFound (or a nil
record for lookups), malformed documents as *DecodeError, and failures of the
store itself as *StorageError.
*/
package mediadb
