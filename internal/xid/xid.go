package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}

// Hold returns a held-transaction id in the HOLD-<epoch millis> form the
// register UI sorts and displays by.
func Hold(at time.Time) string {
	return fmt.Sprintf("HOLD-%d", at.UnixMilli())
}
