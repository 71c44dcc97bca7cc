package oauth2

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Placeholder styles understood by SQLClientStore
const (
	PlaceholderQuestion = "question"
	PlaceholderDollar   = "dollar"
)

const (
	selectAuthorizedClientSQL = `SELECT client_registration_id, principal_name,
		access_token_type, access_token_value, access_token_issued_at, access_token_expires_at, access_token_scopes,
		refresh_token_value, refresh_token_issued_at
		FROM oauth2_authorized_client
		WHERE client_registration_id = ? AND principal_name = ?`

	upsertAuthorizedClientSQL = `INSERT INTO oauth2_authorized_client (client_registration_id, principal_name,
		access_token_type, access_token_value, access_token_issued_at, access_token_expires_at, access_token_scopes,
		refresh_token_value, refresh_token_issued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (client_registration_id, principal_name) DO UPDATE SET
			access_token_type = excluded.access_token_type,
			access_token_value = excluded.access_token_value,
			access_token_issued_at = excluded.access_token_issued_at,
			access_token_expires_at = excluded.access_token_expires_at,
			access_token_scopes = excluded.access_token_scopes,
			refresh_token_value = excluded.refresh_token_value,
			refresh_token_issued_at = excluded.refresh_token_issued_at`

	listPrincipalNamesSQL = `SELECT principal_name FROM oauth2_authorized_client
		WHERE client_registration_id = ?
		ORDER BY principal_name`

	deleteAuthorizedClientSQL = `DELETE FROM oauth2_authorized_client
		WHERE client_registration_id = ? AND principal_name = ?`

	authorizedClientSchemaSQL = `CREATE TABLE IF NOT EXISTS oauth2_authorized_client (
		client_registration_id VARCHAR(100) NOT NULL,
		principal_name VARCHAR(200) NOT NULL,
		access_token_type VARCHAR(100) NOT NULL,
		access_token_value TEXT NOT NULL,
		access_token_issued_at %[1]s,
		access_token_expires_at %[1]s,
		access_token_scopes VARCHAR(1000),
		refresh_token_value TEXT,
		refresh_token_issued_at %[1]s,
		created_at %[1]s NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (client_registration_id, principal_name)
	)`
)

// AuthorizedClientSchema returns the DDL creating the oauth2_authorized_client
// table for the dialect implied by the placeholder style
func AuthorizedClientSchema(placeholders string) string {
	timestamp := "TIMESTAMP"
	if placeholders == PlaceholderDollar {
		timestamp = "TIMESTAMPTZ"
	}
	return fmt.Sprintf(authorizedClientSchemaSQL, timestamp)
}

// SQLClientStore persists authorized clients in the oauth2_authorized_client
// table of SQLite or PostgreSQL. Token values are sealed when a Sealer is set.
type SQLClientStore struct {
	db     *sql.DB
	sealer Sealer

	selectSQL string
	upsertSQL string
	deleteSQL string
	listSQL   string
}

// NewSQLClientStore creates a store over db using the given placeholder style
func NewSQLClientStore(db *sql.DB, placeholders string, sealer Sealer) *SQLClientStore {
	return &SQLClientStore{
		db:        db,
		sealer:    sealer,
		selectSQL: rebind(placeholders, selectAuthorizedClientSQL),
		upsertSQL: rebind(placeholders, upsertAuthorizedClientSQL),
		deleteSQL: rebind(placeholders, deleteAuthorizedClientSQL),
		listSQL:   rebind(placeholders, listPrincipalNamesSQL),
	}
}

// rebind rewrites "?" placeholders to "$n" for the dollar style
func rebind(placeholders, query string) string {
	if placeholders != PlaceholderDollar {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// LoadAuthorizedClient returns nil, nil when no row matches
func (s *SQLClientStore) LoadAuthorizedClient(ctx context.Context, registrationID, principalName string) (*AuthorizedClient, error) {
	var (
		client                         AuthorizedClient
		tokenType, tokenValue          string
		issuedAt, expiresAt, refreshAt sql.NullTime
		scopes, refreshValue           sql.NullString
	)

	err := s.db.QueryRowContext(ctx, s.selectSQL, registrationID, principalName).Scan(
		&client.RegistrationID, &client.PrincipalName,
		&tokenType, &tokenValue, &issuedAt, &expiresAt, &scopes,
		&refreshValue, &refreshAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load authorized client: %w", err)
	}

	value, err := openValue(s.sealer, tokenValue)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	client.AccessToken = &AccessToken{
		TokenValue: value,
		TokenType:  tokenType,
		IssuedAt:   nullTime(issuedAt),
		ExpiresAt:  nullTime(expiresAt),
	}
	if scopes.Valid && scopes.String != "" {
		client.AccessToken.Scopes = strings.Split(scopes.String, ",")
	}

	if refreshValue.Valid && refreshValue.String != "" {
		value, err := openValue(s.sealer, refreshValue.String)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
		}
		client.RefreshToken = &RefreshToken{TokenValue: value, IssuedAt: nullTime(refreshAt)}
	}

	return &client, nil
}

// SaveAuthorizedClient inserts or replaces the row of client
func (s *SQLClientStore) SaveAuthorizedClient(ctx context.Context, client *AuthorizedClient) error {
	if client == nil {
		return fmt.Errorf("authorized client is required")
	}

	var (
		tokenType, tokenValue          string
		issuedAt, expiresAt, refreshAt sql.NullTime
		scopes, refreshValue           sql.NullString
	)

	if token := client.AccessToken; token != nil {
		sealed, err := sealValue(s.sealer, token.TokenValue)
		if err != nil {
			return fmt.Errorf("failed to encrypt access token: %w", err)
		}
		tokenType, tokenValue = token.TokenType, sealed
		issuedAt, expiresAt = toNullTime(token.IssuedAt), toNullTime(token.ExpiresAt)
		if len(token.Scopes) > 0 {
			scopes = sql.NullString{String: strings.Join(token.Scopes, ","), Valid: true}
		}
	}

	if client.HasRefreshToken() {
		sealed, err := sealValue(s.sealer, client.RefreshToken.TokenValue)
		if err != nil {
			return fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		refreshValue = sql.NullString{String: sealed, Valid: true}
		refreshAt = toNullTime(client.RefreshToken.IssuedAt)
	}

	_, err := s.db.ExecContext(ctx, s.upsertSQL,
		client.RegistrationID, client.PrincipalName,
		tokenType, tokenValue, issuedAt, expiresAt, scopes,
		refreshValue, refreshAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save authorized client: %w", err)
	}
	return nil
}

// RemoveAuthorizedClient deletes the row; a missing row is not an error
func (s *SQLClientStore) RemoveAuthorizedClient(ctx context.Context, registrationID, principalName string) error {
	if _, err := s.db.ExecContext(ctx, s.deleteSQL, registrationID, principalName); err != nil {
		return fmt.Errorf("failed to remove authorized client: %w", err)
	}
	return nil
}

// ListPrincipalNames returns the principals with a row for registrationID
func (s *SQLClientStore) ListPrincipalNames(ctx context.Context, registrationID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.listSQL, registrationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list authorized clients: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to list authorized clients: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
