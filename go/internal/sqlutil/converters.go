package sqlutil

import "time"

// ToUnixMillis converts t for an INTEGER timestamp column.
func ToUnixMillis(t time.Time) int64 {
	return t.UnixMilli()
}
