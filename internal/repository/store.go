package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/mr1hm/civic-issues/internal/models"
	"github.com/mr1hm/civic-issues/internal/query"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Store struct {
	db     *sql.DB
	driver string
}

var _ IssueRepository = (*Store)(nil)

func Open(driver, dsn string) (*Store, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	if driver == DriverSQLite {
		// :memory: databases are per-connection
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &Store{
		db:     db,
		driver: driver,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error while migrating database: %w", err)
	}

	return s, nil
}

func NewSQLiteDB(path string) (*Store, error) {
	return Open(DriverSQLite, path)
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS issues (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL,
			status TEXT NOT NULL,
			severity TEXT NOT NULL,
			lat DOUBLE PRECISION NOT NULL,
			lng DOUBLE PRECISION NOT NULL,
			address TEXT NOT NULL DEFAULT '',
			images TEXT NOT NULL DEFAULT '[]',
			anonymous BOOLEAN NOT NULL DEFAULT FALSE,
			reporter_id TEXT,
			reporter_name TEXT,
			reporter_email TEXT,
			vote_count INTEGER NOT NULL DEFAULT 0,
			comment_count INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS issue_votes (
			issue_id TEXT NOT NULL REFERENCES issues(id),
			voter_id TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (issue_id, voter_id)
		);

		CREATE INDEX IF NOT EXISTS idx_issues_active_lat_lng ON issues(is_active, lat, lng);
		CREATE INDEX IF NOT EXISTS idx_issues_created_at ON issues(created_at);
		CREATE INDEX IF NOT EXISTS idx_issues_status_category ON issues(status, category);
	`

	_, err := s.db.Exec(schema)
	return err
}

// rebind rewrites ? placeholders for drivers that use $n.
func (s *Store) rebind(q string) string {
	if s.driver != DriverPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const issueColumns = `id, title, description, category, status, severity, lat, lng, address, images,
	anonymous, reporter_id, reporter_name, reporter_email, vote_count, comment_count, is_active,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIssue(row rowScanner) (*models.StoredIssue, error) {
	var (
		issue      models.StoredIssue
		lat, lng   float64
		address    string
		images     string
		reporterID sql.NullString
		name       sql.NullString
		email      sql.NullString
	)
	err := row.Scan(
		&issue.ID,
		&issue.Title,
		&issue.Description,
		&issue.Category,
		&issue.Status,
		&issue.Severity,
		&lat,
		&lng,
		&address,
		&images,
		&issue.Anonymous,
		&reporterID,
		&name,
		&email,
		&issue.VoteCount,
		&issue.CommentCount,
		&issue.Active,
		&issue.CreatedAt,
		&issue.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	issue.Location = models.GeoPoint{Type: "Point", Coordinates: [2]float64{lng, lat}, Address: address}
	if err := json.Unmarshal([]byte(images), &issue.Images); err != nil {
		return nil, fmt.Errorf("error decoding images for issue %s: %w", issue.ID, err)
	}
	if reporterID.Valid {
		issue.Reporter = &models.ReporterRef{ID: reporterID.String, Name: name.String, Email: email.String}
	}
	return &issue, nil
}

func reporterArgs(r *models.ReporterRef) (any, any, any) {
	if r == nil {
		return nil, nil, nil
	}
	return r.ID, r.Name, r.Email
}

func (s *Store) Create(ctx context.Context, issue *models.StoredIssue) error {
	images, err := json.Marshal(nonNil(issue.Images))
	if err != nil {
		return fmt.Errorf("error encoding images: %w", err)
	}
	rid, rname, remail := reporterArgs(issue.Reporter)

	q := s.rebind(`INSERT INTO issues (` + issueColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, q,
		issue.ID,
		issue.Title,
		issue.Description,
		string(issue.Category),
		string(issue.Status),
		string(issue.Severity),
		issue.Lat(),
		issue.Lng(),
		issue.Location.Address,
		string(images),
		issue.Anonymous,
		rid,
		rname,
		remail,
		issue.VoteCount,
		issue.CommentCount,
		issue.Active,
		issue.CreatedAt.UTC(),
		issue.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("error inserting issue: %w", err)
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*models.StoredIssue, error) {
	q := s.rebind(`SELECT ` + issueColumns + ` FROM issues WHERE id = ? AND is_active = ?`)
	issue, err := scanIssue(s.db.QueryRowContext(ctx, q, id, true))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error fetching issue: %w", err)
	}
	return issue, nil
}

func (s *Store) Update(ctx context.Context, issue *models.StoredIssue) error {
	images, err := json.Marshal(nonNil(issue.Images))
	if err != nil {
		return fmt.Errorf("error encoding images: %w", err)
	}

	q := s.rebind(`UPDATE issues SET title = ?, description = ?, category = ?, status = ?, severity = ?,
		lat = ?, lng = ?, address = ?, images = ?, anonymous = ?, updated_at = ?
		WHERE id = ? AND is_active = ?`)
	res, err := s.db.ExecContext(ctx, q,
		issue.Title,
		issue.Description,
		string(issue.Category),
		string(issue.Status),
		string(issue.Severity),
		issue.Lat(),
		issue.Lng(),
		issue.Location.Address,
		string(images),
		issue.Anonymous,
		issue.UpdatedAt.UTC(),
		issue.ID,
		true,
	)
	if err != nil {
		return fmt.Errorf("error updating issue: %w", err)
	}
	return expectRow(res)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	q := s.rebind(`UPDATE issues SET is_active = ?, updated_at = ? WHERE id = ? AND is_active = ?`)
	res, err := s.db.ExecContext(ctx, q, false, time.Now().UTC(), id, true)
	if err != nil {
		return fmt.Errorf("error deleting issue: %w", err)
	}
	return expectRow(res)
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Search pages in SQL when there is no center. With a center it narrows
// candidates with the bounding box in SQL, applies exact spherical
// containment here, then pages the sorted matches.
func (s *Store) Search(ctx context.Context, q query.Query) ([]models.StoredIssue, int, error) {
	if q.Near == nil {
		return s.searchPaged(ctx, q)
	}

	where, args := q.Where()
	stmt := s.rebind(`SELECT ` + issueColumns + ` FROM issues WHERE ` + where + ` ORDER BY ` + q.OrderBy())

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("error querying issues: %w", err)
	}
	defer rows.Close()

	var matched []models.StoredIssue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("error scanning issue: %w", err)
		}
		if !q.Near.Contains(models.Coordinate{Lat: issue.Lat(), Lng: issue.Lng()}) {
			continue
		}
		matched = append(matched, *issue)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating issues: %w", err)
	}

	total := len(matched)
	start := q.Offset()
	if start >= total {
		return []models.StoredIssue{}, total, nil
	}
	end := min(start+q.Limit, total)
	return matched[start:end], total, nil
}

func (s *Store) searchPaged(ctx context.Context, q query.Query) ([]models.StoredIssue, int, error) {
	where, args := q.Where()

	var total int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM issues WHERE `+where), args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("error counting issues: %w", err)
	}
	if q.Offset() >= total {
		return []models.StoredIssue{}, total, nil
	}

	stmt := s.rebind(`SELECT ` + issueColumns + ` FROM issues WHERE ` + where + ` ORDER BY ` + q.OrderBy() + ` LIMIT ? OFFSET ?`)
	rows, err := s.db.QueryContext(ctx, stmt, append(args, q.Limit, q.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("error querying issues: %w", err)
	}
	defer rows.Close()

	issues := make([]models.StoredIssue, 0, q.Limit)
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("error scanning issue: %w", err)
		}
		issues = append(issues, *issue)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating issues: %w", err)
	}
	return issues, total, nil
}

func (s *Store) AddVote(ctx context.Context, issueID, voterID string) (int, error) {
	return s.vote(ctx, issueID, voterID, `INSERT INTO issue_votes (issue_id, voter_id, created_at)
		VALUES (?, ?, ?) ON CONFLICT (issue_id, voter_id) DO NOTHING`, issueID, voterID, time.Now().UTC())
}

func (s *Store) RemoveVote(ctx context.Context, issueID, voterID string) (int, error) {
	return s.vote(ctx, issueID, voterID, `DELETE FROM issue_votes WHERE issue_id = ? AND voter_id = ?`, issueID, voterID)
}

func (s *Store) vote(ctx context.Context, issueID, voterID, change string, args ...any) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM issues WHERE id = ? AND is_active = ?`), issueID, true).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("error checking issue: %w", err)
	}
	if exists == 0 {
		return 0, ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, s.rebind(change), args...); err != nil {
		return 0, fmt.Errorf("error recording vote: %w", err)
	}

	var count int
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM issue_votes WHERE issue_id = ?`), issueID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("error counting votes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE issues SET vote_count = ? WHERE id = ?`), count, issueID); err != nil {
		return 0, fmt.Errorf("error updating vote count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("error committing vote: %w", err)
	}
	return count, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM issues WHERE is_active = ?`), true).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("error counting issues: %w", err)
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func nonNil(images []string) []string {
	if images == nil {
		return []string{}
	}
	return images
}
