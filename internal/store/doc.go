// Package store is the authoritative entity store.
//
// Entities live in SQLite and are mirrored in an in-memory write-through
// cache, so reads never touch the database. Every entity belongs to one
// control; controls also carry the bitmap size advanced feedbacks render at.
//
// # Change notification
//
// Observers are told about every mutation synchronously, after the write
// committed and without the store lock held:
//   - ChangePut: an entity was created or overwritten
//   - ChangeReplace: an upgrade rewrote an entity in place
//   - ChangeRemove: an entity was deleted
//   - ChangeBitmap: a control's bitmap size changed
//
// ChangeRemove is the explicit forget path: whoever tracks entities must
// stop tracking on it. References handed out by Ref stay valid objects
// after removal but report the entity as gone.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Schema changes are applied through PRAGMA user_version migrations.
package store
