package httpx

import (
	"strings"

	"github.com/google/uuid"
)

// genID returns a random (v4) UUID without dashes.
func genID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
