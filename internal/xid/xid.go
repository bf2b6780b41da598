package xid

import "github.com/google/uuid"

// New returns prefix_<uuid>.
func New(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
