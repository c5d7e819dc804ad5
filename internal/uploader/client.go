package uploader

import (
	"context"
	"errors"
	"time"
)

// ErrAuthFailed indicates the gate password was rejected or no session token
// is held when one is required.
var ErrAuthFailed = errors.New("uploader authentication failed")

// ErrRemoteRejected indicates the remote API refused an upload or schedule
// request with a non-retryable response.
var ErrRemoteRejected = errors.New("remote api rejected request")

// Result describes a completed upload.
type Result struct {
	// ID is the remote video identifier used for subsequent schedule calls.
	ID string
}

// Client is the remote publishing surface the pipeline depends on. The
// production implementation talks HTTP to the gate service; the offline
// implementation fabricates deterministic identifiers for dry runs and tests.
type Client interface {
	// Authenticate establishes a session with the remote API. Implementations
	// must be safe to call more than once.
	Authenticate(ctx context.Context) error
	// UploadVideo pushes the file at path to the given account and returns
	// the remote identifier.
	UploadVideo(ctx context.Context, path string, account string) (Result, error)
	// ScheduleVideo sets the publish time for a previously uploaded video.
	ScheduleVideo(ctx context.Context, videoID string, at time.Time) error
}
