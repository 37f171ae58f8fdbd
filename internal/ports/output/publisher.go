package output

import "context"

// ArtifactPublisher defines the secondary port for copying produced
// artifacts to durable object storage after a conversion completes.
type ArtifactPublisher interface {
	// Publish uploads the local file under the given object key.
	Publish(ctx context.Context, localPath, key string) error
}

// NoOpPublisher keeps artifacts on local scratch only.
type NoOpPublisher struct{}

// Publish implements ArtifactPublisher.
func (n *NoOpPublisher) Publish(_ context.Context, _, _ string) error { return nil }
