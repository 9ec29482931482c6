package socket

import "time"

func deadlineNow() time.Time {
	return time.Now().Add(time.Millisecond)
}

func noDeadline() time.Time {
	return time.Time{}
}
