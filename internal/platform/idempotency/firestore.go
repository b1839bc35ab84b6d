package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/giftcraft/experience/internal/platform/firestore"
)

const (
	defaultCollection = "giftReplays"

	// Claims sit on the request path; a slow claim fails fast with a retryable 503.
	claimTimeout     = 5 * time.Second
	completeAttempts = 3
)

type replayDocument struct {
	Key         string              `firestore:"key"`
	Fingerprint string              `firestore:"fingerprint"`
	Completed   bool                `firestore:"completed"`
	Status      int                 `firestore:"status"`
	Headers     map[string][]string `firestore:"headers"`
	Body        []byte              `firestore:"body"`
	CreatedAt   time.Time           `firestore:"createdAt"`
	ExpiresAt   time.Time           `firestore:"expiresAt"`
}

func (d replayDocument) entry() Entry {
	return Entry(d)
}

// FirestoreStore keeps claims in the giftReplays collection so that retries
// landing on another instance still replay.
type FirestoreStore struct {
	replays *pfirestore.Collection[replayDocument]
}

// NewFirestoreStore builds a store on the shared provider. An empty collection
// name uses giftReplays.
func NewFirestoreStore(provider *pfirestore.Provider, collection string) (*FirestoreStore, error) {
	if provider == nil {
		return nil, errors.New("idempotency: firestore provider is required")
	}
	if collection == "" {
		collection = defaultCollection
	}
	return &FirestoreStore{replays: pfirestore.NewCollection[replayDocument](provider, collection, nil)}, nil
}

func (s *FirestoreStore) Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	ref, err := s.replays.Ref(ctx, documentID(key))
	if err != nil {
		return Claim{}, err
	}

	var claim Claim
	err = s.replays.Provider().RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		fresh := replayDocument{Key: key, Fingerprint: fingerprint, CreatedAt: now, ExpiresAt: now.Add(ttl)}

		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			claim = Claim{Outcome: OutcomeClaimed, Entry: fresh.entry()}
			return tx.Set(ref, fresh)
		}
		if err != nil {
			return err
		}
		var doc replayDocument
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		entry := doc.entry()
		switch {
		case expired(entry, now):
			claim = Claim{Outcome: OutcomeClaimed, Entry: fresh.entry()}
			return tx.Set(ref, fresh)
		case entry.Fingerprint != fingerprint:
			return ErrKeyReused
		case entry.Completed:
			claim = Claim{Outcome: OutcomeReplay, Entry: entry}
		default:
			claim = Claim{Outcome: OutcomeInFlight, Entry: entry}
		}
		return nil
	}, pfirestore.WithTxTimeout(claimTimeout))
	if err != nil {
		if errors.Is(err, ErrKeyReused) {
			return Claim{}, ErrKeyReused
		}
		return Claim{}, pfirestore.WrapError("giftReplays.claim", err)
	}
	return claim, nil
}

func (s *FirestoreStore) Complete(ctx context.Context, key string, entry Entry, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	ref, err := s.replays.Ref(ctx, documentID(key))
	if err != nil {
		return err
	}

	err = s.replays.Provider().RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		createdAt := now
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			var current replayDocument
			if err := snap.DataTo(&current); err != nil {
				return err
			}
			if current.Fingerprint != entry.Fingerprint {
				return ErrKeyReused
			}
			if !current.CreatedAt.IsZero() {
				createdAt = current.CreatedAt
			}
		}
		return tx.Set(ref, replayDocument{
			Key:         key,
			Fingerprint: entry.Fingerprint,
			Completed:   true,
			Status:      entry.Status,
			Headers:     entry.Headers,
			Body:        entry.Body,
			CreatedAt:   createdAt,
			ExpiresAt:   now.Add(ttl),
		})
	}, pfirestore.WithTxAttempts(completeAttempts))
	if err != nil && !errors.Is(err, ErrKeyReused) {
		return pfirestore.WrapError("giftReplays.complete", err)
	}
	return err
}

func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	ref, err := s.replays.Ref(ctx, documentID(key))
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return pfirestore.WrapError("giftReplays.release", err)
	}
	return nil
}

// Sweep deletes up to limit expired documents; limit <= 0 uses 100.
func (s *FirestoreStore) Sweep(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	docs, err := s.replays.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("expiresAt", "<=", now.UTC()).Limit(limit)
	})
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, doc := range docs {
		if err := s.Release(ctx, doc.Data.Key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
