// internal/registry/registry.go
package registry

import (
	_ "crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"time"

	"patchpack/internal/compression"
	"patchpack/internal/container"
	"patchpack/internal/patch"
	"patchpack/internal/storage"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/opencontainers/go-digest"
	"go.uber.org/zap"
)

var (
	ErrNotFound         = storage.ErrNotFound
	ErrInvalidContainer = errors.New("invalid container")
)

const (
	blobPrefix = "container:"
	// maxConflictRetries bounds retries of transactions that lost a
	// conflict with a concurrent Put or Delete.
	maxConflictRetries = 5
)

// Release is a stored container and what it holds
type Release struct {
	ID          string                `json:"id"`
	Label       string                `json:"label"`
	Digest      digest.Digest         `json:"digest"`
	Size        int64                 `json:"size"`
	Compression compression.Algorithm `json:"compression"`
	Diffs       int                   `json:"diffs"`
	Snapshots   int                   `json:"snapshots"`
	PayloadSize int64                 `json:"payload_size"`
	CreatedAt   time.Time             `json:"created_at"`
}

func (r *Release) GetID() string { return r.ID }

// Entries is the total number of entries in the container
func (r *Release) Entries() int { return r.Diffs + r.Snapshots }

// Options configures a Registry
type Options struct {
	CacheSize int
	Logger    *zap.Logger
}

// Registry stores containers in BadgerDB, deduplicated by digest, with an
// in-memory cache of recently read containers.
type Registry struct {
	db       *badger.DB
	releases *storage.BadgerStore[*Release]
	cache    *lru.Cache[digest.Digest, []byte]
	logger   *zap.Logger
}

func New(db *badger.DB, opts Options) (*Registry, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 64
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	cache, err := lru.New[digest.Digest, []byte](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	return &Registry{
		db:       db,
		releases: storage.NewBadgerStore[*Release](db, "release"),
		cache:    cache,
		logger:   opts.Logger,
	}, nil
}

// Put validates data as a container and stores it under a new release ID.
// Containers with unreadable items or unsafe paths are refused.
func (r *Registry) Put(label string, data []byte) (*Release, error) {
	alg, err := compression.Detect(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContainer, err)
	}

	decoded, err := container.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContainer, err)
	}
	if len(decoded.Failures) > 0 {
		return nil, fmt.Errorf("%w: %d unreadable items, first: %v",
			ErrInvalidContainer, len(decoded.Failures), decoded.Failures[0])
	}
	if err := decoded.Set.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContainer, err)
	}

	rel := &Release{
		ID:          uuid.New().String(),
		Label:       label,
		Digest:      digest.FromBytes(data),
		Size:        int64(len(data)),
		Compression: alg,
		PayloadSize: decoded.Set.Size(),
		CreatedAt:   time.Now().UTC(),
	}
	for _, e := range decoded.Set {
		if e.Kind == patch.Diff {
			rel.Diffs++
		} else {
			rel.Snapshots++
		}
	}

	// The blob is rewritten even when present so a concurrent Delete of
	// the last release sharing this digest conflicts with this Put.
	err = r.update(func(txn *badger.Txn) error {
		if err := txn.Set(blobKey(rel.Digest), data); err != nil {
			return fmt.Errorf("storing container: %w", err)
		}
		return r.releases.CreateTxn(txn, rel)
	})
	if err != nil {
		return nil, fmt.Errorf("storing release: %w", err)
	}

	r.cache.Add(rel.Digest, data)
	r.logger.Info("Stored release",
		zap.String("id", rel.ID),
		zap.String("label", label),
		zap.String("digest", rel.Digest.String()),
		zap.Int("entries", rel.Entries()))

	return rel, nil
}

func (r *Registry) Get(id string) (*Release, error) {
	rel := &Release{}
	if err := r.releases.Get(id, rel); err != nil {
		return nil, err
	}
	return rel, nil
}

// List returns all releases, oldest first
func (r *Registry) List() ([]*Release, error) {
	releases, err := r.releases.List(func() *Release { return &Release{} })
	if err != nil {
		return nil, err
	}
	sort.SliceStable(releases, func(i, j int) bool {
		return releases[i].CreatedAt.Before(releases[j].CreatedAt)
	})
	return releases, nil
}

// Container returns the stored bytes of a release after checking them
// against the recorded digest.
func (r *Registry) Container(id string) ([]byte, error) {
	rel, err := r.Get(id)
	if err != nil {
		return nil, err
	}

	if data, ok := r.cache.Get(rel.Digest); ok {
		return data, nil
	}

	var data []byte
	err = r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blobKey(rel.Digest))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("%w: container %s", ErrNotFound, rel.Digest)
	}
	if err != nil {
		return nil, fmt.Errorf("reading container: %w", err)
	}

	if err := rel.Digest.Validate(); err != nil {
		return nil, fmt.Errorf("release %s: %w", id, err)
	}
	verifier := rel.Digest.Verifier()
	if _, err := verifier.Write(data); err != nil {
		return nil, fmt.Errorf("verifying container: %w", err)
	}
	if !verifier.Verified() {
		return nil, fmt.Errorf("release %s: container digest mismatch", id)
	}

	r.cache.Add(rel.Digest, data)
	return data, nil
}

// Delete removes a release. The container bytes are dropped once no other
// release references the same digest. The reference check runs in the same
// transaction as the delete.
func (r *Registry) Delete(id string) error {
	var rel *Release
	shared := false

	err := r.update(func(txn *badger.Txn) error {
		rel, shared = &Release{}, false
		if err := r.releases.GetTxn(txn, id, rel); err != nil {
			return err
		}

		others, err := r.releases.ListTxn(txn, func() *Release { return &Release{} })
		if err != nil {
			return fmt.Errorf("listing releases: %w", err)
		}
		for _, o := range others {
			if o.ID != rel.ID && o.Digest == rel.Digest {
				shared = true
				break
			}
		}

		if err := r.releases.DeleteTxn(txn, id); err != nil {
			return err
		}
		if shared {
			return nil
		}

		key := blobKey(rel.Digest)
		if _, err := txn.Get(key); err == badger.ErrKeyNotFound {
			return nil
		} else if err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("deleting release: %w", err)
	}

	if !shared {
		r.cache.Remove(rel.Digest)
	}
	r.logger.Info("Deleted release", zap.String("id", id), zap.Bool("container_kept", shared))
	return nil
}

// update runs fn in a read-write transaction, retrying when it loses a
// conflict with another writer.
func (r *Registry) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = r.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		r.logger.Debug("Retrying conflicted transaction", zap.Int("attempt", attempt+1))
	}
	return err
}

func blobKey(d digest.Digest) []byte {
	return []byte(blobPrefix + d.String())
}
