package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/kilupskalvis/stackmig/internal/checksum"
	"github.com/kilupskalvis/stackmig/internal/models"
	"github.com/kilupskalvis/stackmig/internal/remote"
	"golang.org/x/sync/errgroup"
)

// RangeVerification is the comparison of one id range on both stacks.
type RangeVerification struct {
	Type        models.MigrationType
	MinID       int64
	MaxID       int64
	Source      string
	Destination string
}

// Match reports whether both stacks produced the same checksum.
func (v *RangeVerification) Match() bool {
	return v.Source == v.Destination
}

// Mismatch converts v to a reportable mismatch.
func (v *RangeVerification) Mismatch() models.RangeMismatch {
	return models.RangeMismatch{MinID: v.MinID, MaxID: v.MaxID, Source: v.Source, Destination: v.Destination}
}

// ChecksumVerifier compares range checksums of the source and destination stacks.
type ChecksumVerifier struct {
	source      remote.AdminClient
	destination remote.AdminClient
	batchSize   int64
	// Remote asks each stack to compute its checksum server-side with a shared salt
	// instead of paging the metadata through this process.
	Remote bool
}

// NewChecksumVerifier creates a verifier that pages metadata batchSize rows at a time.
func NewChecksumVerifier(source, destination remote.AdminClient, batchSize int64) *ChecksumVerifier {
	return &ChecksumVerifier{source: source, destination: destination, batchSize: batchSize}
}

// Checksum fingerprints the rows of t in [minID, maxID] on one stack by iterating its metadata.
func Checksum(ctx context.Context, client remote.AdminClient, t models.MigrationType, batchSize, minID, maxID int64) (string, error) {
	acc := checksum.New("")
	it := NewRangeMetadataIterator(client, t, batchSize, minID, maxID)
	for {
		row, err := it.Next(ctx)
		if err != nil {
			return "", err
		}
		if row == nil {
			return acc.Sum(), nil
		}
		acc.Add(row)
	}
}

func (v *ChecksumVerifier) checksum(ctx context.Context, client remote.AdminClient, t models.MigrationType, salt string, minID, maxID int64) (string, error) {
	if !v.Remote {
		return Checksum(ctx, client, t, v.batchSize, minID, maxID)
	}
	sum, err := client.GetChecksumForIDRange(ctx, t, salt, minID, maxID)
	if err != nil {
		return "", fmt.Errorf("checksum %s [%d, %d]: %w", t, minID, maxID, err)
	}
	return sum.Checksum, nil
}

// Verify computes the checksum of [minID, maxID] on both stacks concurrently.
func (v *ChecksumVerifier) Verify(ctx context.Context, t models.MigrationType, minID, maxID int64) (*RangeVerification, error) {
	res := &RangeVerification{Type: t, MinID: minID, MaxID: maxID}
	salt := uuid.NewString()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sum, err := v.checksum(gctx, v.source, t, salt, minID, maxID)
		if err != nil {
			return fmt.Errorf("source: %w", err)
		}
		res.Source = sum
		return nil
	})
	g.Go(func() error {
		sum, err := v.checksum(gctx, v.destination, t, salt, minID, maxID)
		if err != nil {
			return fmt.Errorf("destination: %w", err)
		}
		res.Destination = sum
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

// VerifyRanges splits [minID, maxID] into sub-ranges of rangeSize ids and returns
// every sub-range whose checksums differ. A rangeSize of zero or less verifies the
// whole range at once.
func (v *ChecksumVerifier) VerifyRanges(ctx context.Context, t models.MigrationType, minID, maxID, rangeSize int64) ([]*RangeVerification, error) {
	if rangeSize <= 0 || rangeSize > maxID-minID {
		res, err := v.Verify(ctx, t, minID, maxID)
		if err != nil {
			return nil, err
		}
		if res.Match() {
			return nil, nil
		}
		return []*RangeVerification{res}, nil
	}

	var mismatches []*RangeVerification
	for lo := minID; lo <= maxID; {
		hi := lo + rangeSize - 1
		if hi > maxID || hi < lo {
			hi = maxID
		}
		res, err := v.Verify(ctx, t, lo, hi)
		if err != nil {
			return nil, err
		}
		if !res.Match() {
			mismatches = append(mismatches, res)
		}
		if hi == maxID {
			break
		}
		lo = hi + 1
	}
	return mismatches, nil
}
