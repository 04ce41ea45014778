package port

import "context"

type StatusPublisher interface {
	PublishStatus(ctx context.Context, msg []byte) error
}

// FrameLogPublisher carries the per-frame log stream to the UI log view.
type FrameLogPublisher interface {
	PublishFrameLog(ctx context.Context, msg []byte) error
}

type DLQPublisher interface {
	PublishToDLQ(ctx context.Context, msg []byte, reason string) error
}
