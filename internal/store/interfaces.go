package store

import (
	"context"

	"github.com/rudransh-shrivastava/peerdrop/internal/db"
)

// RegistrationRepository records which peer ids are held.
type RegistrationRepository interface {
	Claim(ctx context.Context, peerID, remoteAddr string) (bool, error)
	Release(ctx context.Context, peerID string) error
	Exists(ctx context.Context, peerID string) (bool, error)
	List(ctx context.Context) ([]db.Registration, error)
	DropAll(ctx context.Context) error
}
