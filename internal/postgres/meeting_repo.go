package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"
	"github.com/cwrk-planet/meeting-service/internal/repository"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

type MeetingRepository struct {
	q querier
}

var _ repository.MeetingRepository = (*MeetingRepository)(nil)

func NewMeetingRepository(q querier) *MeetingRepository {
	return &MeetingRepository{q: q}
}

func NewMeetingRepositoryFromTx(tx pgx.Tx) *MeetingRepository {
	return &MeetingRepository{q: tx}
}

func (r *MeetingRepository) Create(ctx context.Context, m *domain.Meeting) error {
	version := m.Version
	if version == 0 {
		version = 1
	}
	err := r.q.QueryRow(ctx, queryCreateMeeting,
		m.Code,
		m.HostID,
		m.ParticipantCount,
		m.MaxParticipants,
		m.IsActive,
		version,
		m.CreatedAt,
		m.UpdatedAt,
	).Scan(&m.ID, &m.Version, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return mapPgError(err)
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return nil
}

func (r *MeetingRepository) FindByCode(ctx context.Context, code string) (*domain.Meeting, error) {
	return r.getOne(ctx, queryFindActiveByCode, code)
}

func (r *MeetingRepository) FindLatestByCode(ctx context.Context, code string) (*domain.Meeting, error) {
	return r.getOne(ctx, queryFindLatestByCode, code)
}

func (r *MeetingRepository) FindByHost(ctx context.Context, hostID string) ([]domain.Meeting, error) {
	rows, err := r.q.Query(ctx, queryFindActiveByHost, hostID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	out := make([]domain.Meeting, 0, 8)
	for rows.Next() {
		var m domain.Meeting
		if err := scanMeeting(rows, &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Deactivate runs the update and the existence check in one transaction so
// a concurrent create cannot slip between them.
func (r *MeetingRepository) Deactivate(ctx context.Context, code string, now time.Time) (bool, error) {
	var changed bool
	err := pgx.BeginFunc(ctx, r.q, func(tx pgx.Tx) error {
		var err error
		changed, err = NewMeetingRepositoryFromTx(tx).deactivate(ctx, code, now)
		return err
	})
	return changed, err
}

func (r *MeetingRepository) deactivate(ctx context.Context, code string, now time.Time) (bool, error) {
	tag, err := r.q.Exec(ctx, queryDeactivate, code, now)
	if err != nil {
		return false, mapPgError(err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := r.q.QueryRow(ctx, queryExistsByCode, code).Scan(&exists); err != nil {
		return false, mapPgError(err)
	}
	if !exists {
		return false, repository.ErrNotFound
	}
	return false, nil
}

func (r *MeetingRepository) IncrementCount(ctx context.Context, code string, now time.Time) (*domain.Meeting, error) {
	return r.conditional(ctx, repository.ErrNoMatch, queryIncrementCount, code, now)
}

func (r *MeetingRepository) DecrementCount(ctx context.Context, code string, now time.Time) (*domain.Meeting, error) {
	return r.conditional(ctx, repository.ErrNoMatch, queryDecrementCount, code, now)
}

func (r *MeetingRepository) SetCount(ctx context.Context, id string, count int, expectedVersion int64, now time.Time) (*domain.Meeting, error) {
	return r.conditional(ctx, repository.ErrConflict, querySetCount, id, count, expectedVersion, now)
}

// conditional runs an UPDATE ... RETURNING and reports onMiss when the WHERE
// clause matched nothing.
func (r *MeetingRepository) conditional(ctx context.Context, onMiss error, sql string, args ...any) (*domain.Meeting, error) {
	var m domain.Meeting
	if err := scanMeeting(r.q.QueryRow(ctx, sql, args...), &m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, onMiss
		}
		return nil, mapPgError(err)
	}
	return &m, nil
}

func (r *MeetingRepository) getOne(ctx context.Context, sql string, arg any) (*domain.Meeting, error) {
	var m domain.Meeting
	if err := scanMeeting(r.q.QueryRow(ctx, sql, arg), &m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, mapPgError(err)
	}
	return &m, nil
}

func scanMeeting(row pgx.Row, m *domain.Meeting) error {
	err := row.Scan(
		&m.ID,
		&m.Code,
		&m.HostID,
		&m.ParticipantCount,
		&m.MaxParticipants,
		&m.IsActive,
		&m.Version,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return nil
}
