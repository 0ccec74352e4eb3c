package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "xabar/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Store is the sqlite-backed persistence layer. All methods are single
// atomic statements (or a single transaction) so the bot surface and the
// scheduler can share one handle without coordination.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &Store{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// --- users ---

// EnsureUser inserts the user row if it does not exist yet.
func (s *Store) EnsureUser(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(user_id, created_at) VALUES(?,?)
		 ON CONFLICT(user_id) DO NOTHING`,
		userID, time.Now().Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) User(ctx context.Context, userID int64) (User, error) {
	var (
		u    User
		adm  int64
		paid sql.NullString
		ts   string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, is_admin, paid_until, balance, created_at FROM users WHERE user_id = ?`,
		userID,
	).Scan(&u.ID, &adm, &paid, &u.Balance, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.IsAdmin = adm != 0
	u.PaidUntil = parseTimeLoose(paid.String)
	u.CreatedAt = parseTimeLoose(ts)
	return u, nil
}

func (s *Store) Subscription(ctx context.Context, userID int64) (Subscription, error) {
	var (
		sub  Subscription
		paid sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, paid_until, balance FROM users WHERE user_id = ?`,
		userID,
	).Scan(&sub.Owner, &paid, &sub.Balance)
	if errors.Is(err, sql.ErrNoRows) {
		return Subscription{}, ErrNotFound
	}
	if err != nil {
		return Subscription{}, err
	}
	sub.PaidUntil = parseTimeLoose(paid.String)
	return sub, nil
}

func (s *Store) AddBalance(ctx context.Context, userID int64, delta int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET balance = balance + ? WHERE user_id = ?`, delta, userID)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s *Store) SetPaidUntil(ctx context.Context, userID int64, until time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET paid_until = ? WHERE user_id = ?`,
		until.Format(time.RFC3339Nano), userID)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

// ExpiringSubscriptions returns users whose paid_until falls inside
// (now, now+within]. Used by the billing expiry sweep.
func (s *Store) ExpiringSubscriptions(ctx context.Context, now time.Time, within time.Duration) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, paid_until, balance FROM users
		 WHERE paid_until IS NOT NULL AND paid_until > ? AND paid_until <= ?
		 ORDER BY user_id`,
		now.Format(time.RFC3339Nano), now.Add(within).Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		var (
			sub  Subscription
			paid sql.NullString
		)
		if err := rows.Scan(&sub.Owner, &paid, &sub.Balance); err != nil {
			return nil, err
		}
		sub.PaidUntil = parseTimeLoose(paid.String)
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) AdminStats(ctx context.Context, now time.Time) (AdminStats, error) {
	var st AdminStats
	cutoff := now.Format(time.RFC3339Nano)
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM users WHERE paid_until IS NOT NULL AND paid_until > ?),
			(SELECT COUNT(*) FROM jobs WHERE active = 1),
			(SELECT COALESCE(SUM(sent_count), 0) FROM jobs),
			(SELECT COUNT(*) FROM payments WHERE status = 'pending')`,
		cutoff,
	).Scan(&st.Users, &st.ActiveSubs, &st.ActiveJobs, &st.TotalSent, &st.PendingPayments)
	return st, err
}

// --- credentials ---

func (s *Store) CreateCredential(ctx context.Context, c Credential) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials(user_id, label, token, is_active, created_at)
		 VALUES(?,?,?,1,?)`,
		c.Owner, c.Label, c.Token, time.Now().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) Credentials(ctx context.Context, owner int64) ([]Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, label, token, is_active, created_at
		 FROM credentials WHERE user_id = ? ORDER BY id`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCredentials(rows)
}

// ActiveCredential returns the owner's oldest active credential. The
// scheduler sends every destination of a pass through this one.
func (s *Store) ActiveCredential(ctx context.Context, owner int64) (Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, label, token, is_active, created_at
		 FROM credentials WHERE user_id = ? AND is_active = 1
		 ORDER BY id LIMIT 1`, owner)
	var (
		c   Credential
		act int64
		ts  string
	)
	err := row.Scan(&c.ID, &c.Owner, &c.Label, &c.Token, &act, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return Credential{}, ErrNotFound
	}
	if err != nil {
		return Credential{}, err
	}
	c.Active = act != 0
	c.CreatedAt = parseTimeLoose(ts)
	return c, nil
}

func (s *Store) DeactivateCredential(ctx context.Context, owner, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET is_active = 0 WHERE id = ? AND user_id = ?`, id, owner)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func scanCredentials(rows *sql.Rows) ([]Credential, error) {
	var out []Credential
	for rows.Next() {
		var (
			c   Credential
			act int64
			ts  string
		)
		if err := rows.Scan(&c.ID, &c.Owner, &c.Label, &c.Token, &act, &ts); err != nil {
			return nil, err
		}
		c.Active = act != 0
		c.CreatedAt = parseTimeLoose(ts)
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- destinations ---

func (s *Store) CreateDestination(ctx context.Context, d Destination) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO destinations(user_id, chat_ref, title, is_active, created_at)
		 VALUES(?,?,?,1,?)`,
		d.Owner, d.ChatRef, d.Title, time.Now().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ActiveDestinations returns the owner's active destinations in
// registration order.
func (s *Store) ActiveDestinations(ctx context.Context, owner int64) ([]Destination, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, chat_ref, title, is_active, created_at
		 FROM destinations WHERE user_id = ? AND is_active = 1 ORDER BY id`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Destination
	for rows.Next() {
		var (
			d   Destination
			act int64
			ts  string
		)
		if err := rows.Scan(&d.ID, &d.Owner, &d.ChatRef, &d.Title, &act, &ts); err != nil {
			return nil, err
		}
		d.Active = act != 0
		d.CreatedAt = parseTimeLoose(ts)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) DeactivateDestination(ctx context.Context, owner, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE destinations SET is_active = 0 WHERE id = ? AND user_id = ?`, id, owner)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

// --- jobs ---

func (s *Store) CreateJob(ctx context.Context, j Job) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(user_id, body, photo_id, interval_sec, active, created_at)
		 VALUES(?,?,?,?,?,?)`,
		j.Owner, j.Body, j.PhotoID, int64(j.Interval.Seconds()), j.Active,
		time.Now().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) Jobs(ctx context.Context, owner int64) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, body, photo_id, interval_sec, last_run, sent_count, active, created_at
		 FROM jobs WHERE user_id = ? ORDER BY id`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *Store) Job(ctx context.Context, id int64) (Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, body, photo_id, interval_sec, last_run, sent_count, active, created_at
		 FROM jobs WHERE id = ?`, id)
	if err != nil {
		return Job{}, err
	}
	defer rows.Close()
	jobs, err := scanJobs(rows)
	if err != nil {
		return Job{}, err
	}
	if len(jobs) == 0 {
		return Job{}, ErrNotFound
	}
	return jobs[0], nil
}

// ListActiveJobs returns every active job across all owners, oldest
// first. One call per scheduler tick.
func (s *Store) ListActiveJobs(ctx context.Context) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, body, photo_id, interval_sec, last_run, sent_count, active, created_at
		 FROM jobs WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (s *Store) SetJobActive(ctx context.Context, owner, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET active = ? WHERE id = ? AND user_id = ?`, active, id, owner)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func (s *Store) DeleteJob(ctx context.Context, owner, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE id = ? AND user_id = ?`, id, owner)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

// RecordJobRun stamps the run time and bumps the delivery counter in one
// statement. Called exactly once per admitted pass.
func (s *Store) RecordJobRun(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET last_run = ?, sent_count = sent_count + 1 WHERE id = ?`,
		at.Format(time.RFC3339Nano), id)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func scanJobs(rows *sql.Rows) ([]Job, error) {
	var out []Job
	for rows.Next() {
		var (
			j    Job
			sec  int64
			last sql.NullString
			act  int64
			ts   string
		)
		if err := rows.Scan(&j.ID, &j.Owner, &j.Body, &j.PhotoID, &sec, &last, &j.SentCount, &act, &ts); err != nil {
			return nil, err
		}
		j.Interval = time.Duration(sec) * time.Second
		// A malformed timestamp reads as zero, which the due gate
		// treats the same as never-run.
		j.LastRun = parseTimeLoose(last.String)
		j.Active = act != 0
		j.CreatedAt = parseTimeLoose(ts)
		out = append(out, j)
	}
	return out, rows.Err()
}

// --- payments ---

func (s *Store) CreatePayment(ctx context.Context, p Payment) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO payments(user_id, amount, days, status, created_at, note)
		 VALUES(?,?,?,?,?,?)`,
		p.Owner, p.Amount, p.Days, string(PaymentPending),
		time.Now().Format(time.RFC3339Nano), p.Note,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) PendingPayments(ctx context.Context) ([]Payment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, amount, days, status, created_at, decided_at, note
		 FROM payments WHERE status = 'pending' ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		var (
			p       Payment
			status  string
			created string
			decided sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Owner, &p.Amount, &p.Days, &status, &created, &decided, &p.Note); err != nil {
			return nil, err
		}
		p.Status = PaymentStatus(status)
		p.CreatedAt = parseTimeLoose(created)
		p.DecidedAt = parseTimeLoose(decided.String)
		out = append(out, p)
	}
	return out, rows.Err()
}

// DecidePendingPayments moves all of the user's pending payments to the
// given status and returns how many rows changed.
func (s *Store) DecidePendingPayments(ctx context.Context, owner int64, status PaymentStatus) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE payments SET status = ?, decided_at = ?
		 WHERE user_id = ? AND status = 'pending'`,
		string(status), time.Now().Format(time.RFC3339Nano), owner)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- helpers ---

// parseTimeLoose returns the zero time for empty or malformed input.
func parseTimeLoose(v string) time.Time {
	if strings.TrimSpace(v) == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func mustAffect(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
