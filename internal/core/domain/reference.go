package domain

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewTransactionReference builds a reference of the form
// txn-DDMMYY-HHMM-<last 6 of user id>-<4 random base36 chars>.
func NewTransactionReference(userID uuid.UUID, now time.Time) string {
	id := userID.String()
	return fmt.Sprintf("txn-%s-%s-%s-%s",
		now.Format("020106"), now.Format("1504"), id[len(id)-6:], randomBase36(4))
}

// NewPayoutReference builds a reference of the form ext-<unix ms>-<user id>.
func NewPayoutReference(userID uuid.UUID, now time.Time) string {
	return fmt.Sprintf("ext-%d-%s", now.UnixMilli(), userID)
}

func randomBase36(n int) string {
	out := make([]byte, n)
	for i := range out {
		out[i] = base36[rand.IntN(len(base36))]
	}
	return string(out)
}

// ReferenceLockKey returns the lock resource name claimed by every write
// that records reference, whichever wallet it touches.
func ReferenceLockKey(reference string) string {
	return "ref:" + reference
}
