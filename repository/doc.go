// Package repository provides a generic repository built on Bun for CRUD,
// querying, pagination, transactions and upserts. Entities read or written
// through a repository are change-tracked: saves update only the columns
// that changed, and a belongs-to relation and the scalar column mirroring
// its key are merged into a single assignment of that column.
package repository
