package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/TenantForge/internal/domain"
	"github.com/Strob0t/TenantForge/internal/domain/tenant"
	"github.com/Strob0t/TenantForge/internal/port/registry"
)

var _ registry.Registry = (*Store)(nil)

// Store implements registry.Registry using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const tenantColumns = `username, subdomain, backend_kind, status, port, namespace, service_name,
	workload, storage, last_error, created_at, updated_at`

func scanTenant(row scannable) (tenant.Tenant, error) {
	var t tenant.Tenant
	var port *int32
	err := row.Scan(&t.Username, &t.Subdomain, &t.Backend, &t.Status, &port,
		&t.Endpoint.Namespace, &t.Endpoint.Service,
		&t.Handles.Workload, &t.Handles.Storage, &t.LastError, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	if port != nil {
		t.Endpoint.Port = int(*port)
	}
	t.Handles.Namespace = t.Endpoint.Namespace
	return t, nil
}

// InsertIfAbsent inserts t in a single statement so a concurrent insert for
// the same username cannot slip between check and write.
func (s *Store) InsertIfAbsent(ctx context.Context, t *tenant.Tenant) (*tenant.Tenant, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO tenants (username, subdomain, backend_kind, status, port, namespace, service_name, workload, storage, last_error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (username) DO NOTHING
		 RETURNING `+tenantColumns,
		t.Username, t.Subdomain, string(t.Backend), string(t.Status), nullPort(t.Endpoint.Port),
		t.Endpoint.Namespace, t.Endpoint.Service, t.Handles.Workload, t.Handles.Storage, t.LastError)

	out, err := scanTenant(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("insert tenant %s: %w", t.Username, domain.ErrConflict)
		}
		return nil, storeErr(err, "insert tenant %s", t.Username)
	}
	return &out, nil
}

func (s *Store) Find(ctx context.Context, username string) (*tenant.Tenant, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE username = $1`, username)
	t, err := scanTenant(row)
	if err != nil {
		return nil, storeErr(err, "find tenant %s", username)
	}
	return &t, nil
}

func (s *Store) Update(ctx context.Context, username string, req tenant.UpdateRequest) error {
	var status *string
	if req.Status != nil {
		v := string(*req.Status)
		status = &v
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenants
		 SET status = COALESCE($2, status), last_error = COALESCE($3, last_error), updated_at = now()
		 WHERE username = $1`,
		username, status, req.LastError)
	return execExpectOne(tag, err, "update tenant %s", username)
}

func (s *Store) Delete(ctx context.Context, username string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tenants WHERE username = $1`, username)
	return execExpectOne(tag, err, "delete tenant %s", username)
}

func (s *Store) List(ctx context.Context) ([]tenant.Tenant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tenantColumns+` FROM tenants ORDER BY created_at ASC, username ASC`)
	if err != nil {
		return nil, storeErr(err, "list tenants")
	}
	defer rows.Close()

	var tenants []tenant.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, storeErr(err, "scan tenant")
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "list tenants")
	}
	return orEmpty(tenants), nil
}

func (s *Store) UsedPorts(ctx context.Context, kind tenant.BackendKind) ([]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT port FROM tenants WHERE backend_kind = $1 AND port IS NOT NULL`, string(kind))
	if err != nil {
		return nil, storeErr(err, "used ports")
	}
	defer rows.Close()

	var ports []int
	for rows.Next() {
		var p int32
		if err := rows.Scan(&p); err != nil {
			return nil, storeErr(err, "scan port")
		}
		ports = append(ports, int(p))
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "used ports")
	}
	return ports, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping registry: %w: %w", domain.ErrPersistence, err)
	}
	return nil
}
