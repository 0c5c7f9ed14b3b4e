package postgres

const meetingColumns = `id, code, host_id, participant_count, max_participants, is_active, version, created_at, updated_at`

const (
	queryCreateMeeting = `
		INSERT INTO meetings (code, host_id, participant_count, max_participants, is_active, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, version, created_at, updated_at;
	`
	queryFindActiveByCode = `
		SELECT ` + meetingColumns + `
		FROM meetings
		WHERE code = $1 AND is_active
		LIMIT 1;
	`
	queryFindLatestByCode = `
		SELECT ` + meetingColumns + `
		FROM meetings
		WHERE code = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1;
	`
	queryFindActiveByHost = `
		SELECT ` + meetingColumns + `
		FROM meetings
		WHERE host_id = $1 AND is_active
		ORDER BY created_at DESC, id DESC;
	`
	queryDeactivate = `
		UPDATE meetings
		SET is_active = FALSE, version = version + 1, updated_at = $2
		WHERE code = $1 AND is_active;
	`
	queryExistsByCode = `SELECT EXISTS(SELECT 1 FROM meetings WHERE code = $1);`

	// single-statement conditional updates; the WHERE clause is the capacity check
	queryIncrementCount = `
		UPDATE meetings
		SET participant_count = participant_count + 1, version = version + 1, updated_at = $2
		WHERE code = $1 AND is_active AND participant_count < max_participants
		RETURNING ` + meetingColumns + `;
	`
	queryDecrementCount = `
		UPDATE meetings
		SET participant_count = GREATEST(participant_count - 1, 0), version = version + 1, updated_at = $2
		WHERE code = $1 AND is_active
		RETURNING ` + meetingColumns + `;
	`
	querySetCount = `
		UPDATE meetings
		SET participant_count = $2, version = version + 1, updated_at = $4
		WHERE id = $1 AND version = $3 AND is_active
		RETURNING ` + meetingColumns + `;
	`
)
