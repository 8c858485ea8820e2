package chain

import "time"

func timeFromUnix(ts uint64) time.Time {
	return time.Unix(int64(ts), 0).UTC()
}
