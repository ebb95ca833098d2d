package vfs

import "github.com/google/uuid"

// TempName builds a collision-free path for a scratch file inside dir
// from a random UUID, so two callers racing for a name cannot collide
// the way time-based names can. No other package in the module calls
// it.
func TempName(dir, prefix, suffix string) string {
	return dir + "/" + prefix + "-" + uuid.NewString() + suffix
}
