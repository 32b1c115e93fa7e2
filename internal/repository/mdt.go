package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/gel2mdt-server/internal/domain"
)

// MDTRepository handles MDT meeting persistence
type MDTRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewMDTRepository creates a new MDT repository
func NewMDTRepository(db *pgxpool.Pool, logger *logrus.Logger) *MDTRepository {
	return &MDTRepository{
		db:  db,
		log: logger,
	}
}

var _ domain.MDTRepository = (*MDTRepository)(nil)

const mdtColumns = `m.id, m.date_of_mdt, m.status, m.sample_type, m.description, m.gatb, m.sent_to_clinician, m.creator`

func scanMDT(row pgx.Row) (*domain.MDT, error) {
	var m domain.MDT
	var status, sampleType string
	if err := row.Scan(&m.ID, &m.DateOfMDT, &status, &sampleType, &m.Description, &m.GATB,
		&m.SentToClinician, &m.Creator); err != nil {
		return nil, err
	}
	m.Status = domain.MDTMeetingStatus(status)
	m.SampleType = domain.SampleType(sampleType)
	return &m, nil
}

// Create inserts a new MDT and fills in its ID
func (r *MDTRepository) Create(ctx context.Context, m *domain.MDT) error {
	if m.Status == "" {
		m.Status = domain.MeetingActive
	}
	query := `
		INSERT INTO mdts (date_of_mdt, status, sample_type, description, gatb, sent_to_clinician, creator)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err := r.db.QueryRow(ctx, query, m.DateOfMDT, string(m.Status), string(m.SampleType), m.Description,
		m.GATB, m.SentToClinician, m.Creator).Scan(&m.ID)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"sample_type": m.SampleType,
			"error":       err,
		}).Error("Failed to create MDT")
		return fmt.Errorf("creating MDT: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"mdt_id":      m.ID,
		"date":        m.DateOfMDT.Format("2006-01-02"),
		"sample_type": m.SampleType,
	}).Info("MDT created successfully")
	return nil
}

// Get retrieves an MDT with its attendees and cases
func (r *MDTRepository) Get(ctx context.Context, id int64) (*domain.MDT, error) {
	m, err := scanMDT(r.db.QueryRow(ctx, `SELECT `+mdtColumns+` FROM mdts m WHERE m.id = $1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, notFound("MDT", id)
		}
		return nil, fmt.Errorf("getting MDT: %w", err)
	}

	if m.Attendees, err = r.attendeesOf(ctx, id); err != nil {
		return nil, err
	}
	ids, err := r.ReportIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Reports, err = summariesByID(ctx, r.db, ids); err != nil {
		return nil, err
	}
	return m, nil
}

// List returns the MDTs of a sample type, newest first, without attendees or cases
func (r *MDTRepository) List(ctx context.Context, sampleType domain.SampleType) ([]domain.MDT, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+mdtColumns+` FROM mdts m
		WHERE m.sample_type = $1
		ORDER BY m.date_of_mdt DESC, m.id DESC`, string(sampleType))
	if err != nil {
		return nil, fmt.Errorf("listing MDTs: %w", err)
	}
	defer rows.Close()

	out := []domain.MDT{}
	for rows.Next() {
		m, err := scanMDT(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning MDT: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// Update applies the non-nil fields of update
func (r *MDTRepository) Update(ctx context.Context, id int64, update domain.MDTUpdate) (*domain.MDT, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}

	query := `
		UPDATE mdts SET
			date_of_mdt = COALESCE($2, date_of_mdt),
			status = COALESCE($3, status),
			description = COALESCE($4, description),
			gatb = COALESCE($5, gatb),
			sent_to_clinician = COALESCE($6, sent_to_clinician)
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, update.DateOfMDT, (*string)(update.Status), update.Description,
		update.GATB, update.SentToClinician)
	if err != nil {
		return nil, fmt.Errorf("updating MDT: %w", err)
	}
	if err := requireRow(tag, "MDT", id); err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

func (r *MDTRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM mdts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting MDT: %w", err)
	}
	if err := requireRow(tag, "MDT", id); err != nil {
		return err
	}
	r.log.WithField("mdt_id", id).Info("MDT deleted")
	return nil
}

// AddReport links a report to an MDT. Linking twice is a no-op.
func (r *MDTRepository) AddReport(ctx context.Context, mdtID, reportID int64) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO mdt_reports (mdt_id, report_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, mdtID, reportID)
	if err != nil {
		return linkError(err, "adding report to MDT", mdtID, reportID)
	}
	return nil
}

func (r *MDTRepository) RemoveReport(ctx context.Context, mdtID, reportID int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM mdt_reports WHERE mdt_id = $1 AND report_id = $2`, mdtID, reportID)
	if err != nil {
		return fmt.Errorf("removing report from MDT: %w", err)
	}
	return requireRow(tag, "MDT report link", fmt.Sprintf("%d/%d", mdtID, reportID))
}

// ReportIDs lists the report versions linked to an MDT
func (r *MDTRepository) ReportIDs(ctx context.Context, mdtID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT report_id FROM mdt_reports WHERE mdt_id = $1 ORDER BY report_id`, mdtID)
	if err != nil {
		return nil, fmt.Errorf("listing MDT reports: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning MDT report: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LatestForReport returns the most recent MDT a report was discussed at
func (r *MDTRepository) LatestForReport(ctx context.Context, reportID int64) (*domain.MDT, error) {
	query := `
		SELECT ` + mdtColumns + `
		FROM mdts m
		JOIN mdt_reports mr ON mr.mdt_id = m.id
		WHERE mr.report_id = $1
		ORDER BY m.date_of_mdt DESC
		LIMIT 1`

	m, err := scanMDT(r.db.QueryRow(ctx, query, reportID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, notFound("MDT for report", reportID)
		}
		return nil, fmt.Errorf("getting latest MDT for report: %w", err)
	}
	if m.Attendees, err = r.attendeesOf(ctx, m.ID); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *MDTRepository) AddAttendee(ctx context.Context, mdtID, attendeeID int64) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO mdt_attendees (mdt_id, attendee_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, mdtID, attendeeID)
	if err != nil {
		return linkError(err, "adding attendee to MDT", mdtID, attendeeID)
	}
	return nil
}

func (r *MDTRepository) RemoveAttendee(ctx context.Context, mdtID, attendeeID int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM mdt_attendees WHERE mdt_id = $1 AND attendee_id = $2`, mdtID, attendeeID)
	if err != nil {
		return fmt.Errorf("removing attendee from MDT: %w", err)
	}
	return requireRow(tag, "MDT attendee link", fmt.Sprintf("%d/%d", mdtID, attendeeID))
}

// CreateAttendee stores an attendee. An existing attendee with the same name and
// role is updated and reused.
func (r *MDTRepository) CreateAttendee(ctx context.Context, a *domain.Attendee) error {
	if !a.Role.IsValid() {
		return domain.NewValidationError("role", "must be clinician, clinical_scientist or other_staff", a.Role)
	}
	query := `
		INSERT INTO attendees (name, email, hospital, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name, role) DO UPDATE SET
			email = EXCLUDED.email,
			hospital = EXCLUDED.hospital
		RETURNING id`
	if err := r.db.QueryRow(ctx, query, a.Name, a.Email, a.Hospital, string(a.Role)).Scan(&a.ID); err != nil {
		return fmt.Errorf("creating attendee: %w", err)
	}
	return nil
}

// ListAttendees returns every attendee grouped by role
func (r *MDTRepository) ListAttendees(ctx context.Context) ([]domain.Attendee, error) {
	return r.queryAttendees(ctx, `
		SELECT a.id, a.name, a.email, a.hospital, a.role
		FROM attendees a
		ORDER BY a.role, a.name`)
}

func (r *MDTRepository) attendeesOf(ctx context.Context, mdtID int64) ([]domain.Attendee, error) {
	return r.queryAttendees(ctx, `
		SELECT a.id, a.name, a.email, a.hospital, a.role
		FROM attendees a
		JOIN mdt_attendees ma ON ma.attendee_id = a.id
		WHERE ma.mdt_id = $1
		ORDER BY a.role, a.name`, mdtID)
}

func (r *MDTRepository) queryAttendees(ctx context.Context, query string, args ...any) ([]domain.Attendee, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing attendees: %w", err)
	}
	defer rows.Close()

	out := []domain.Attendee{}
	for rows.Next() {
		var a domain.Attendee
		var role string
		if err := rows.Scan(&a.ID, &a.Name, &a.Email, &a.Hospital, &role); err != nil {
			return nil, fmt.Errorf("scanning attendee: %w", err)
		}
		a.Role = domain.AttendeeRole(role)
		out = append(out, a)
	}
	return out, rows.Err()
}

// MonthlySummaries counts, per calendar month and programme, the MDTs held in
// [from, to) and the cases they discussed. Months without an MDT are absent.
func (r *MDTRepository) MonthlySummaries(ctx context.Context, from, to time.Time) ([]domain.MonthlyMDTSummary, error) {
	query := `
		SELECT date_trunc('month', m.date_of_mdt AT TIME ZONE 'UTC') AS month, m.sample_type,
			COUNT(DISTINCT m.id),
			COUNT(DISTINCT mr.report_id),
			COUNT(DISTINCT mr.report_id) FILTER (WHERE r.case_status = 'C')
		FROM mdts m
		LEFT JOIN mdt_reports mr ON mr.mdt_id = m.id
		LEFT JOIN interpretation_reports r ON r.id = mr.report_id
		WHERE m.date_of_mdt >= $1 AND m.date_of_mdt < $2
		GROUP BY 1, 2
		ORDER BY 1, 2`

	rows, err := r.db.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("summarising MDT months: %w", err)
	}
	defer rows.Close()

	var out []domain.MonthlyMDTSummary
	index := make(map[string]int)
	for rows.Next() {
		var month time.Time
		var sampleType string
		s := domain.MonthlyMDTSummary{Outstanding: []domain.OutstandingCase{}}
		if err := rows.Scan(&month, &sampleType, &s.MDTCount, &s.CasesDiscussed, &s.Completed); err != nil {
			return nil, fmt.Errorf("scanning MDT month: %w", err)
		}
		s.Year, s.Month, s.SampleType = month.Year(), month.Month(), domain.SampleType(sampleType)
		s.NotCompleted = s.CasesDiscussed - s.Completed
		index[monthKey(month, s.SampleType)] = len(out)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Cases without a proband record are counted above but cannot be listed
	outstanding := `
		SELECT DISTINCT date_trunc('month', m.date_of_mdt AT TIME ZONE 'UTC'), m.sample_type,
			p.gel_id, COALESCE(c.name, ''), f.ir_family_id
		FROM mdts m
		JOIN mdt_reports mr ON mr.mdt_id = m.id
		JOIN interpretation_reports r ON r.id = mr.report_id
		JOIN ir_families f ON f.id = r.ir_family_id
		JOIN probands p ON p.family_id = f.family_id
		JOIN families fa ON fa.id = f.family_id
		LEFT JOIN clinicians c ON c.id = fa.clinician_id
		WHERE m.date_of_mdt >= $1 AND m.date_of_mdt < $2 AND r.case_status <> 'C'
		ORDER BY 1, 2, 3`

	rows, err = r.db.Query(ctx, outstanding, from, to)
	if err != nil {
		return nil, fmt.Errorf("listing outstanding MDT cases: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var month time.Time
		var sampleType string
		var oc domain.OutstandingCase
		if err := rows.Scan(&month, &sampleType, &oc.GELID, &oc.ClinicianName, &oc.IRFamilyID); err != nil {
			return nil, fmt.Errorf("scanning outstanding case: %w", err)
		}
		if i, ok := index[monthKey(month, domain.SampleType(sampleType))]; ok {
			out[i].Outstanding = append(out[i].Outstanding, oc)
		}
	}
	return out, rows.Err()
}

func monthKey(month time.Time, st domain.SampleType) string {
	return fmt.Sprintf("%04d-%02d/%s", month.Year(), month.Month(), st)
}

// linkError maps a foreign key violation on a link table to ErrNotFound
func linkError(err error, action string, a, b int64) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("%s: %w", action, notFound("MDT or linked record", fmt.Sprintf("%d/%d", a, b)))
	}
	return fmt.Errorf("%s: %w", action, err)
}
