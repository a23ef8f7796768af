package cluster

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewInstanceID builds the unique per-process identity
// "${hostname}-${startEpochMs}-${nonce}" data model.
func NewInstanceID(hostname string, startedAt time.Time) string {
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%d-%s", hostname, startedAt.UnixMilli(), nonce)
}
