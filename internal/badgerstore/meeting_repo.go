package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"
	"github.com/cwrk-planet/meeting-service/internal/repository"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// txnAttempts bounds how often a read-write transaction is replayed after
// badger reports a conflicting commit.
const txnAttempts = 100

type MeetingRepository struct {
	db *badger.DB
}

var _ repository.MeetingRepository = (*MeetingRepository)(nil)

func NewMeetingRepository(db *DB) *MeetingRepository {
	return &MeetingRepository{db: db.DB}
}

func (r *MeetingRepository) Create(ctx context.Context, m *domain.Meeting) error {
	id := uuid.NewString()
	doc := *m
	doc.ID = id
	if doc.Version == 0 {
		doc.Version = 1
	}

	err := r.update(ctx, func(txn *badger.Txn) error {
		cur, err := latestByCode(txn, doc.Code)
		switch {
		case err == nil && cur.IsActive:
			return repository.ErrAlreadyExists
		case err != nil && !errors.Is(err, repository.ErrNotFound):
			return err
		}

		if err := putMeeting(txn, &doc); err != nil {
			return err
		}
		if err := txn.Set(codeKey(doc.Code), []byte(id)); err != nil {
			return err
		}
		if doc.IsActive {
			return txn.Set(hostKey(doc.HostID, doc.CreatedAt.UnixNano(), id), nil)
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.ID = doc.ID
	m.Version = doc.Version
	return nil
}

func (r *MeetingRepository) FindByCode(ctx context.Context, code string) (*domain.Meeting, error) {
	m, err := r.FindLatestByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !m.IsActive {
		return nil, repository.ErrNotFound
	}
	return m, nil
}

func (r *MeetingRepository) FindLatestByCode(ctx context.Context, code string) (*domain.Meeting, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out *domain.Meeting
	err := r.db.View(func(txn *badger.Txn) error {
		m, err := latestByCode(txn, code)
		out = m
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MeetingRepository) FindByHost(ctx context.Context, hostID string) ([]domain.Meeting, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.Meeting, 0, 8)
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := hostPrefix(hostID)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		// reverse iteration starts from the largest key under the prefix
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			id := string(key[lastSlash(key)+1:])

			m, err := getMeeting(txn, id)
			if err != nil {
				return err
			}
			if m.IsActive {
				out = append(out, *m)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MeetingRepository) Deactivate(ctx context.Context, code string, now time.Time) (bool, error) {
	var changed bool
	err := r.update(ctx, func(txn *badger.Txn) error {
		changed = false

		m, err := latestByCode(txn, code)
		if err != nil {
			return err
		}
		if !m.IsActive {
			return nil
		}

		m.IsActive = false
		touch(m, now)
		if err := putMeeting(txn, m); err != nil {
			return err
		}
		changed = true
		return txn.Delete(hostKey(m.HostID, m.CreatedAt.UnixNano(), m.ID))
	})
	return changed, err
}

func (r *MeetingRepository) IncrementCount(ctx context.Context, code string, now time.Time) (*domain.Meeting, error) {
	return r.mutateActive(ctx, code, func(m *domain.Meeting) bool {
		if m.IsFull() {
			return false
		}
		m.ParticipantCount++
		return true
	}, now)
}

func (r *MeetingRepository) DecrementCount(ctx context.Context, code string, now time.Time) (*domain.Meeting, error) {
	return r.mutateActive(ctx, code, func(m *domain.Meeting) bool {
		if m.ParticipantCount > 0 {
			m.ParticipantCount--
		}
		return true
	}, now)
}

func (r *MeetingRepository) SetCount(ctx context.Context, id string, count int, expectedVersion int64, now time.Time) (*domain.Meeting, error) {
	var out *domain.Meeting
	err := r.update(ctx, func(txn *badger.Txn) error {
		m, err := getMeeting(txn, id)
		if errors.Is(err, repository.ErrNotFound) {
			return repository.ErrConflict
		}
		if err != nil {
			return err
		}
		if !m.IsActive || m.Version != expectedVersion {
			return repository.ErrConflict
		}

		m.ParticipantCount = count
		touch(m, now)
		out = m
		return putMeeting(txn, m)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// mutateActive applies fn to the active meeting with code inside one
// transaction. fn returning false leaves the record untouched.
func (r *MeetingRepository) mutateActive(ctx context.Context, code string, fn func(*domain.Meeting) bool, now time.Time) (*domain.Meeting, error) {
	var out *domain.Meeting
	err := r.update(ctx, func(txn *badger.Txn) error {
		m, err := latestByCode(txn, code)
		if errors.Is(err, repository.ErrNotFound) {
			return repository.ErrNoMatch
		}
		if err != nil {
			return err
		}
		if !m.IsActive || !fn(m) {
			return repository.ErrNoMatch
		}

		touch(m, now)
		out = m
		return putMeeting(txn, m)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// update runs fn in a read-write transaction, replaying it when the commit
// conflicts with a concurrent one.
func (r *MeetingRepository) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for i := 0; i < txnAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := r.db.Update(fn)
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		return err
	}
	return repository.ErrConflict
}

func touch(m *domain.Meeting, now time.Time) {
	m.UpdatedAt = now.UTC()
	m.Version++
}

func latestByCode(txn *badger.Txn, code string) (*domain.Meeting, error) {
	item, err := txn.Get(codeKey(code))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	id, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return getMeeting(txn, string(id))
}

func getMeeting(txn *badger.Txn, id string) (*domain.Meeting, error) {
	item, err := txn.Get(meetingKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var m domain.Meeting
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &m)
	}); err != nil {
		return nil, err
	}
	return &m, nil
}

func putMeeting(txn *badger.Txn, m *domain.Meeting) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return txn.Set(meetingKey(m.ID), b)
}

func lastSlash(key []byte) int {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '/' {
			return i
		}
	}
	return -1
}
