package fsconn

import (
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func IsDocNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func IsDocExists(err error) bool {
	return status.Code(err) == codes.AlreadyExists
}

func UTCNow() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
