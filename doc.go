// Package shadowfk exposes a generic Service over Bun models whose
// belongs-to relations are mirrored by a scalar key column. Saving such a
// model writes the key column once, whichever of the relation or the
// scalar was changed, and leaves both in agreement afterwards.
package shadowfk
