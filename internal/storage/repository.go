package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound indicates the addressed row does not exist.
	ErrNotFound = errors.New("storage: not found")
)

const alertColumns = `
        id,
        user_id,
        item_id,
        display_name,
        city,
        quality,
        target_price::text,
        expected_price::text,
        percent_below::text,
        use_ai_expected,
        ai_days,
        ai_resolution,
        ai_stat,
        ai_min_points,
        last_expected_price::text,
        last_expected_at,
        cooldown_minutes,
        last_triggered_at,
        is_active,
        created_at`

const (
	listActiveAlertsSQL = `SELECT` + alertColumns + `
    FROM price_alerts
    WHERE is_active
    ORDER BY id;`

	listAlertsSQL = `SELECT` + alertColumns + `
    FROM price_alerts
    ORDER BY id;`

	listUserAlertsSQL = `SELECT` + alertColumns + `
    FROM price_alerts
    WHERE user_id = $1
    ORDER BY id;`

	getAlertSQL = `SELECT` + alertColumns + `
    FROM price_alerts
    WHERE id = $1;`

	insertAlertSQL = `INSERT INTO price_alerts (
        user_id,
        item_id,
        display_name,
        city,
        quality,
        target_price,
        expected_price,
        percent_below,
        use_ai_expected,
        ai_days,
        ai_resolution,
        ai_stat,
        ai_min_points,
        cooldown_minutes,
        is_active
    ) VALUES (
        $1,$2,$3,$4,$5,$6::numeric,$7::numeric,$8::numeric,$9,$10,$11,$12,$13,$14,$15
    )
    RETURNING id, created_at;`

	saveExpectedPriceSQL = `UPDATE price_alerts
    SET last_expected_price = $2::numeric,
        last_expected_at    = $3
    WHERE id = $1;`

	markTriggeredSQL = `UPDATE price_alerts
    SET last_triggered_at = $2
    WHERE id = $1;`

	insertNotificationSQL = `INSERT INTO user_notifications (
        user_id,
        title,
        body,
        created_at
    ) VALUES (
        $1,$2,$3,$4
    )
    RETURNING id, created_at;`

	listNotificationsSQL = `SELECT id, user_id, title, body, is_read, created_at
    FROM user_notifications
    WHERE user_id = $1
      AND (NOT $2 OR NOT is_read)
    ORDER BY created_at DESC, id DESC
    LIMIT $3;`

	markNotificationReadSQL = `UPDATE user_notifications
    SET is_read = TRUE
    WHERE id = $1;`

	deleteAlertSQL    = `DELETE FROM price_alerts WHERE id = $1;`
	setAlertActiveSQL = `UPDATE price_alerts SET is_active = $2 WHERE id = $1;`

	upsertUserSQL = `INSERT INTO users (email)
    VALUES ($1)
    ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
    RETURNING id, email, created_at;`

	ownerEmailSQL = `SELECT email FROM users WHERE id = $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AlertReader lists alerts due for evaluation, in a stable order.
type AlertReader interface {
	ListActiveAlerts(ctx context.Context) ([]PriceAlert, error)
}

// BaselineWriter memoizes the latest computed baseline of an alert.
type BaselineWriter interface {
	SaveExpectedPrice(ctx context.Context, alertID int64, price decimal.Decimal, at time.Time) error
}

// TriggerRecorder commits a notification and the alert's last_triggered_at together.
type TriggerRecorder interface {
	RecordTrigger(ctx context.Context, alertID int64, n UserNotification, at time.Time) (UserNotification, error)
}

// OwnerDirectory resolves the email address of an alert owner.
type OwnerDirectory interface {
	OwnerEmail(ctx context.Context, userID int64) (string, error)
}

// EngineStore is everything one evaluation cycle touches.
type EngineStore interface {
	AlertReader
	BaselineWriter
	TriggerRecorder
	OwnerDirectory
}

// AdminStore covers operator managed state.
type AdminStore interface {
	UpsertUser(ctx context.Context, email string) (User, error)
	CreateAlert(ctx context.Context, alert PriceAlert) (PriceAlert, error)
	GetAlert(ctx context.Context, id int64) (PriceAlert, error)
	ListAlerts(ctx context.Context, userID int64) ([]PriceAlert, error)
	DeleteAlert(ctx context.Context, id int64) error
	SetAlertActive(ctx context.Context, id int64, active bool) error
	ListNotifications(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]UserNotification, error)
	MarkNotificationRead(ctx context.Context, id int64) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the PostgreSQL backed implementation of every store interface.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Pool exposes the underlying pool for migrations.
func (s *Store) Pool() *pgxpool.Pool {
	if s == nil {
		return nil
	}
	return s.pool
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// a failed unlock poisons the session lock, drop the connection instead
			_ = conn.Conn().Close(ctxUnlock)
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// ListActiveAlerts returns active alerts in primary key order.
func (s *Store) ListActiveAlerts(ctx context.Context) ([]PriceAlert, error) {
	return s.queryAlerts(ctx, "list active alerts", listActiveAlertsSQL)
}

// ListAlerts returns the alerts of one user, or every alert when userID is zero.
func (s *Store) ListAlerts(ctx context.Context, userID int64) ([]PriceAlert, error) {
	if userID == 0 {
		return s.queryAlerts(ctx, "list alerts", listAlertsSQL)
	}
	return s.queryAlerts(ctx, "list alerts", listUserAlertsSQL, userID)
}

// GetAlert loads one alert.
func (s *Store) GetAlert(ctx context.Context, id int64) (PriceAlert, error) {
	alerts, err := s.queryAlerts(ctx, "get alert", getAlertSQL, id)
	if err != nil {
		return PriceAlert{}, err
	}
	if len(alerts) == 0 {
		return PriceAlert{}, ErrNotFound
	}
	return alerts[0], nil
}

func (s *Store) queryAlerts(ctx context.Context, op, query string, args ...any) ([]PriceAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("%s: %w", op, queryErr)
	}
	defer rows.Close()

	alerts := make([]PriceAlert, 0)
	for rows.Next() {
		alert, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("%s: %w", op, scanErr)
		}
		alerts = append(alerts, alert)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("%s: %w", op, rows.Err())
	}
	return alerts, nil
}

// CreateAlert inserts an alert and returns it with id and creation time set.
func (s *Store) CreateAlert(ctx context.Context, alert PriceAlert) (PriceAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return PriceAlert{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.UserID,
		strings.ToUpper(alert.ItemID),
		alert.DisplayName,
		alert.City,
		alert.Quality,
		decimalArg(alert.TargetPrice),
		decimalArg(alert.ExpectedPrice),
		decimalArg(alert.PercentBelow),
		alert.UseAIExpected,
		alert.AIDays,
		alert.AIResolution,
		alert.AIStat,
		alert.AIMinPoints,
		alert.CooldownMinutes,
		alert.IsActive,
	)
	if scanErr := row.Scan(&alert.ID, &alert.CreatedAt); scanErr != nil {
		return PriceAlert{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	alert.ItemID = strings.ToUpper(alert.ItemID)
	return alert, nil
}

// SaveExpectedPrice memoizes the last computed baseline.
func (s *Store) SaveExpectedPrice(ctx context.Context, alertID int64, price decimal.Decimal, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, saveExpectedPriceSQL, alertID, price.String(), at); execErr != nil {
		return fmt.Errorf("save expected price: %w", execErr)
	}
	return nil
}

// RecordTrigger inserts the notification and advances last_triggered_at in one transaction.
func (s *Store) RecordTrigger(ctx context.Context, alertID int64, n UserNotification, at time.Time) (UserNotification, error) {
	pool, err := s.getPool()
	if err != nil {
		return UserNotification{}, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return UserNotification{}, fmt.Errorf("begin trigger tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, markTriggeredSQL, alertID, at)
	if err != nil {
		return UserNotification{}, fmt.Errorf("mark alert triggered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return UserNotification{}, fmt.Errorf("mark alert %d triggered: %w", alertID, ErrNotFound)
	}

	if err := tx.QueryRow(ctx, insertNotificationSQL, n.UserID, n.Title, n.Body, at).Scan(&n.ID, &n.CreatedAt); err != nil {
		return UserNotification{}, fmt.Errorf("insert notification: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return UserNotification{}, fmt.Errorf("commit trigger tx: %w", err)
	}
	return n, nil
}

// OwnerEmail returns the registered address of a user.
func (s *Store) OwnerEmail(ctx context.Context, userID int64) (string, error) {
	pool, err := s.getPool()
	if err != nil {
		return "", err
	}
	var email string
	if scanErr := pool.QueryRow(ctx, ownerEmailSQL, userID).Scan(&email); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("owner email: %w", scanErr)
	}
	return email, nil
}

// UpsertUser creates the user or returns the existing row for the email.
func (s *Store) UpsertUser(ctx context.Context, email string) (User, error) {
	pool, err := s.getPool()
	if err != nil {
		return User{}, err
	}
	var u User
	if scanErr := pool.QueryRow(ctx, upsertUserSQL, strings.ToLower(strings.TrimSpace(email))).Scan(&u.ID, &u.Email, &u.CreatedAt); scanErr != nil {
		return User{}, fmt.Errorf("upsert user: %w", scanErr)
	}
	return u, nil
}

// DeleteAlert hard-deletes an alert.
func (s *Store) DeleteAlert(ctx context.Context, id int64) error {
	return s.execOne(ctx, "delete alert", deleteAlertSQL, id)
}

// SetAlertActive toggles the soft-disable flag.
func (s *Store) SetAlertActive(ctx context.Context, id int64, active bool) error {
	return s.execOne(ctx, "set alert active", setAlertActiveSQL, id, active)
}

// MarkNotificationRead flags a notification as read.
func (s *Store) MarkNotificationRead(ctx context.Context, id int64) error {
	return s.execOne(ctx, "mark notification read", markNotificationReadSQL, id)
}

func (s *Store) execOne(ctx context.Context, op, query string, args ...any) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, query, args...)
	if execErr != nil {
		return fmt.Errorf("%s: %w", op, execErr)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListNotifications returns the newest notifications of a user first.
func (s *Store) ListNotifications(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]UserNotification, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	rows, queryErr := pool.Query(ctx, listNotificationsSQL, userID, unreadOnly, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list notifications: %w", queryErr)
	}
	defer rows.Close()

	out := make([]UserNotification, 0, limit)
	for rows.Next() {
		var n UserNotification
		if scanErr := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Body, &n.IsRead, &n.CreatedAt); scanErr != nil {
			return nil, fmt.Errorf("list notifications: %w", scanErr)
		}
		out = append(out, n)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func scanAlert(rows pgx.Rows) (PriceAlert, error) {
	var a PriceAlert
	var target, expected, percent, lastExp *string

	if err := rows.Scan(
		&a.ID,
		&a.UserID,
		&a.ItemID,
		&a.DisplayName,
		&a.City,
		&a.Quality,
		&target,
		&expected,
		&percent,
		&a.UseAIExpected,
		&a.AIDays,
		&a.AIResolution,
		&a.AIStat,
		&a.AIMinPoints,
		&lastExp,
		&a.LastExpectedAt,
		&a.CooldownMinutes,
		&a.LastTriggeredAt,
		&a.IsActive,
		&a.CreatedAt,
	); err != nil {
		return PriceAlert{}, err
	}

	var err error
	if a.TargetPrice, err = parseNullableDecimal(target); err != nil {
		return PriceAlert{}, fmt.Errorf("parse target price: %w", err)
	}
	if a.ExpectedPrice, err = parseNullableDecimal(expected); err != nil {
		return PriceAlert{}, fmt.Errorf("parse expected price: %w", err)
	}
	if a.PercentBelow, err = parseNullableDecimal(percent); err != nil {
		return PriceAlert{}, fmt.Errorf("parse percent below: %w", err)
	}
	if a.LastExpectedPrice, err = parseNullableDecimal(lastExp); err != nil {
		return PriceAlert{}, fmt.Errorf("parse last expected price: %w", err)
	}
	return a, nil
}

func parseNullableDecimal(raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func decimalArg(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

var (
	_ EngineStore    = (*Store)(nil)
	_ AdminStore     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
