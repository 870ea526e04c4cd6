package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"medvoll-identity/internal/policy"
)

const accountColumns = `id, email, normalized_email, password_hash, email_confirmed, lockout_enabled, failed_attempts, lockout_end, created_at, updated_at`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (Account, error) {
	var a Account
	var lockoutEnd sql.NullTime
	err := row.Scan(&a.ID, &a.Email, &a.NormalizedEmail, &a.PasswordHash, &a.EmailConfirmed,
		&a.LockoutEnabled, &a.Lockout.FailedAttempts, &lockoutEnd, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return Account{}, err
	}
	if lockoutEnd.Valid {
		a.Lockout.LockoutEnd = lockoutEnd.Time.UTC()
	}
	return a, nil
}

func (r *Repository) FindAccountByEmail(ctx context.Context, email string) (Account, error) {
	account, err := scanAccount(r.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE normalized_email = $1
	`, NormalizeEmail(email)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, unavailable("query account by email", err)
	}
	return account, nil
}

func (r *Repository) FindAccountByID(ctx context.Context, id string) (Account, error) {
	account, err := scanAccount(r.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, unavailable("query account by id", err)
	}
	return account, nil
}

func (r *Repository) CreateAccount(ctx context.Context, input NewAccount) (Account, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Account{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	now := time.Now().UTC()
	account := Account{
		ID:              id.String(),
		Email:           input.Email,
		NormalizedEmail: NormalizeEmail(input.Email),
		PasswordHash:    input.PasswordHash,
		EmailConfirmed:  input.EmailConfirmed,
		LockoutEnabled:  input.LockoutEnabled,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO accounts (id, email, normalized_email, password_hash, email_confirmed, lockout_enabled, failed_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7)
	`, account.ID, account.Email, account.NormalizedEmail, account.PasswordHash, account.EmailConfirmed, account.LockoutEnabled, now)
	if err != nil {
		if isUniqueViolation(err) {
			return Account{}, ErrConflict
		}
		return Account{}, unavailable("insert account", err)
	}

	return account, nil
}

func (r *Repository) RoleExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM roles WHERE normalized_name = $1)`, NormalizeRole(name)).Scan(&exists); err != nil {
		return false, unavailable("check role", err)
	}
	return exists, nil
}

func (r *Repository) CreateRole(ctx context.Context, name string) (Role, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Role{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	role := Role{ID: id.String(), Name: name, CreatedAt: time.Now().UTC()}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO roles (id, name, normalized_name, created_at)
		VALUES ($1, $2, $3, $4)
	`, role.ID, role.Name, NormalizeRole(name), role.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return Role{}, ErrConflict
		}
		return Role{}, unavailable("insert role", err)
	}

	return role, nil
}

func (r *Repository) AddAccountToRole(ctx context.Context, accountID, roleName string) error {
	var roleID string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM roles WHERE normalized_name = $1`, NormalizeRole(roleName)).Scan(&roleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return unavailable("query role", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO account_roles (account_id, role_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, role_id) DO NOTHING
	`, accountID, roleID, time.Now().UTC())
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return unavailable("insert account role", err)
	}

	return nil
}

func (r *Repository) IsInRole(ctx context.Context, accountID, roleName string) (bool, error) {
	var member bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1
			FROM account_roles ar
			JOIN roles r ON r.id = ar.role_id
			WHERE ar.account_id = $1 AND r.normalized_name = $2
		)
	`, accountID, NormalizeRole(roleName)).Scan(&member)
	if err != nil {
		return false, unavailable("check account role", err)
	}
	return member, nil
}

func (r *Repository) AccountRoles(ctx context.Context, accountID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT r.name
		FROM account_roles ar
		JOIN roles r ON r.id = ar.role_id
		WHERE ar.account_id = $1
		ORDER BY r.normalized_name ASC
	`, accountID)
	if err != nil {
		return nil, unavailable("query account roles", err)
	}
	defer rows.Close()

	roles := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, unavailable("scan account role", err)
		}
		roles = append(roles, name)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate account roles", err)
	}

	return roles, nil
}

func (r *Repository) GetAccountsInRole(ctx context.Context, roleName string) ([]Account, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.id, a.email, a.normalized_email, a.password_hash, a.email_confirmed, a.lockout_enabled, a.failed_attempts, a.lockout_end, a.created_at, a.updated_at
		FROM accounts a
		JOIN account_roles ar ON ar.account_id = a.id
		JOIN roles r ON r.id = ar.role_id
		WHERE r.normalized_name = $1
		ORDER BY a.normalized_email ASC
	`, NormalizeRole(roleName))
	if err != nil {
		return nil, unavailable("query accounts in role", err)
	}
	defer rows.Close()

	accounts := make([]Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, unavailable("scan account", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate accounts in role", err)
	}

	return accounts, nil
}

func (r *Repository) GetClaims(ctx context.Context, accountID string) ([]Claim, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT claim_type, claim_value
		FROM account_claims
		WHERE account_id = $1
		ORDER BY claim_type ASC, claim_value ASC
	`, accountID)
	if err != nil {
		return nil, unavailable("query claims", err)
	}
	defer rows.Close()

	claims := make([]Claim, 0)
	for rows.Next() {
		var c Claim
		if err := rows.Scan(&c.Type, &c.Value); err != nil {
			return nil, unavailable("scan claim", err)
		}
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate claims", err)
	}

	return claims, nil
}

func (r *Repository) RemoveClaims(ctx context.Context, accountID string, claims []Claim) error {
	if len(claims) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin remove claims tx", err)
	}
	defer tx.Rollback()

	for _, c := range claims {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM account_claims
			WHERE account_id = $1 AND claim_type = $2 AND claim_value = $3
		`, accountID, c.Type, c.Value); err != nil {
			return unavailable("delete claim", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit remove claims tx", err)
	}

	return nil
}

func (r *Repository) AddClaim(ctx context.Context, accountID string, claim Claim) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate uuid v7: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO account_claims (id, account_id, claim_type, claim_value, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id, claim_type, claim_value) DO NOTHING
	`, id.String(), accountID, claim.Type, claim.Value, time.Now().UTC())
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return unavailable("insert claim", err)
	}

	return nil
}

func (r *Repository) RegisterFailedAttempt(ctx context.Context, accountID string, rule policy.LockoutRule, now time.Time) (policy.LockoutState, error) {
	return r.updateLockout(ctx, accountID, now, rule.RegisterFailure)
}

func (r *Repository) RegisterSuccessfulLogin(ctx context.Context, accountID string, rule policy.LockoutRule, now time.Time) (policy.LockoutState, error) {
	return r.updateLockout(ctx, accountID, now, rule.RegisterSuccess)
}

// updateLockout reads the counter under FOR UPDATE so concurrent logins
// against one account are serialized by PostgreSQL, not by this process.
func (r *Repository) updateLockout(ctx context.Context, accountID string, now time.Time, next func(policy.LockoutState, time.Time) policy.LockoutState) (policy.LockoutState, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return policy.LockoutState{}, unavailable("begin lockout tx", err)
	}
	defer tx.Rollback()

	var current policy.LockoutState
	var lockoutEnd sql.NullTime
	var enabled bool
	err = tx.QueryRowContext(ctx, `
		SELECT failed_attempts, lockout_end, lockout_enabled
		FROM accounts
		WHERE id = $1
		FOR UPDATE
	`, accountID).Scan(&current.FailedAttempts, &lockoutEnd, &enabled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return policy.LockoutState{}, ErrNotFound
		}
		return policy.LockoutState{}, unavailable("lock account row", err)
	}
	if lockoutEnd.Valid {
		current.LockoutEnd = lockoutEnd.Time.UTC()
	}

	if !enabled {
		return current, nil
	}

	updated := next(current, now)
	if sameLockout(current, updated) {
		if err := tx.Commit(); err != nil {
			return policy.LockoutState{}, unavailable("commit lockout tx", err)
		}
		return updated, nil
	}

	var endValue any
	if !updated.LockoutEnd.IsZero() {
		endValue = updated.LockoutEnd
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET failed_attempts = $2, lockout_end = $3, updated_at = $4
		WHERE id = $1
	`, accountID, updated.FailedAttempts, endValue, now.UTC()); err != nil {
		return policy.LockoutState{}, unavailable("update lockout", err)
	}

	if err := tx.Commit(); err != nil {
		return policy.LockoutState{}, unavailable("commit lockout tx", err)
	}

	return updated, nil
}

func (r *Repository) ResetLockout(ctx context.Context, accountID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET failed_attempts = 0, lockout_end = NULL, updated_at = $2
		WHERE id = $1
	`, accountID, time.Now().UTC())
	if err != nil {
		return unavailable("reset lockout", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return unavailable("reset lockout rows affected", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *Repository) ClearExpiredLockouts(ctx context.Context, now time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	res, err := r.db.ExecContext(ctx, `
		WITH expired AS (
			SELECT id
			FROM accounts
			WHERE lockout_end IS NOT NULL AND lockout_end <= $1
			ORDER BY lockout_end ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE accounts a
		SET failed_attempts = 0, lockout_end = NULL, updated_at = $1
		FROM expired
		WHERE a.id = expired.id
	`, now.UTC(), batchSize)
	if err != nil {
		return 0, unavailable("clear expired lockouts", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("expired lockouts rows affected", err)
	}

	return affected, nil
}

func (r *Repository) CreateSession(ctx context.Context, accountID string, expiresAt time.Time) (Session, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Session{}, fmt.Errorf("generate session id: %w", err)
	}

	session := Session{
		ID:        id.String(),
		AccountID: accountID,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt.UTC(),
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, account_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
	`, session.ID, session.AccountID, session.CreatedAt, session.ExpiresAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return Session{}, ErrNotFound
		}
		return Session{}, unavailable("insert session", err)
	}

	return session, nil
}

func (r *Repository) GetSession(ctx context.Context, id string) (Session, error) {
	var s Session
	var revokedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT id, account_id, created_at, expires_at, revoked_at
		FROM sessions
		WHERE id = $1
	`, id).Scan(&s.ID, &s.AccountID, &s.CreatedAt, &s.ExpiresAt, &revokedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, unavailable("query session", err)
	}
	if revokedAt.Valid {
		value := revokedAt.Time.UTC()
		s.RevokedAt = &value
	}

	return s, nil
}

func (r *Repository) ExtendSession(ctx context.Context, id string, expiresAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET expires_at = $2
		WHERE id = $1 AND revoked_at IS NULL
	`, id, expiresAt.UTC())
	if err != nil {
		return unavailable("extend session", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return unavailable("extend session rows affected", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *Repository) RevokeSession(ctx context.Context, id string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET revoked_at = COALESCE(revoked_at, $2)
		WHERE id = $1
	`, id, now.UTC())
	if err != nil {
		return unavailable("revoke session", err)
	}

	return nil
}

func (r *Repository) DeleteStaleSessions(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM sessions
			WHERE expires_at < $1 OR (revoked_at IS NOT NULL AND revoked_at < $1)
			ORDER BY created_at ASC
			LIMIT $2
		)
		DELETE FROM sessions s
		USING stale
		WHERE s.id = stale.id
	`, cutoff.UTC(), batchSize)
	if err != nil {
		return 0, unavailable("delete stale sessions", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("stale sessions rows affected", err)
	}

	return affected, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
