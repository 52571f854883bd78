package xid

import (
	"fmt"

	"github.com/google/uuid"
)

// New returns a prefixed id whose middle segment sorts by creation time.
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return fmt.Sprintf("%s-%s", prefix, id.String())
}

// Token returns an opaque random token, used as a lock owner value.
func Token() string {
	return uuid.NewString()
}
