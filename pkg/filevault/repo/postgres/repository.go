// Package postgres implements filevault.Repository on PostgreSQL via pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stashd/filevault/pkg/filevault"
)

// DBTX is satisfied by both a pgx connection pool and a transaction.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements filevault.Repository using PostgreSQL.
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository.
func New(db DBTX) filevault.Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with a connection pool.
func NewWithPool(pool *pgxpool.Pool) filevault.Repository {
	return &Repository{db: pool}
}

func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("duplicate entry in %s", operation)
		case "23503": // foreign_key_violation
			return fmt.Errorf("referenced record not found in %s", operation)
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

const fileColumns = `
	id, tenant_id, owner_id, file_name, original_name, mime_type, size,
	checksum, category, storage_provider, storage_key, public_url, status,
	visibility, access_level, encryption_key_ref, tags, folder_path,
	extracted_text, metadata, thumbnails, created_at, updated_at, expires_at,
	last_accessed_at, deleted_at`

func scanFile(row pgx.Row) (*filevault.FileRecord, error) {
	var (
		record        filevault.FileRecord
		category      string
		status        string
		visibility    string
		metadataJSON  []byte
		thumbnailJSON []byte
	)
	err := row.Scan(
		&record.ID, &record.TenantID, &record.OwnerID, &record.FileName,
		&record.OriginalName, &record.MimeType, &record.Size, &record.Checksum,
		&category, &record.StorageProvider, &record.StorageKey,
		&record.PublicURL, &status, &visibility, &record.AccessLevel,
		&record.EncryptionKeyRef, &record.Tags, &record.FolderPath,
		&record.ExtractedText, &metadataJSON, &thumbnailJSON,
		&record.CreatedAt, &record.UpdatedAt, &record.ExpiresAt,
		&record.LastAccessedAt, &record.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Category = filevault.Category(category)
	record.Status = filevault.FileStatus(status)
	record.Visibility = filevault.Visibility(visibility)

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &record.Metadata); err != nil {
			return nil, fmt.Errorf("decode file metadata: %w", err)
		}
	}
	if len(thumbnailJSON) > 0 {
		if err := json.Unmarshal(thumbnailJSON, &record.Thumbnails); err != nil {
			return nil, fmt.Errorf("decode thumbnails: %w", err)
		}
	}
	return &record, nil
}

func encodeJSON(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// File record operations

func (r *Repository) CreateFile(ctx context.Context, record *filevault.FileRecord) error {
	metadataJSON, err := encodeJSON(record.Metadata)
	if err != nil {
		return fmt.Errorf("encode file metadata: %w", err)
	}
	thumbnailJSON, err := encodeJSON(record.Thumbnails)
	if err != nil {
		return fmt.Errorf("encode thumbnails: %w", err)
	}

	query := `
		INSERT INTO files (
			id, tenant_id, owner_id, file_name, original_name, mime_type, size,
			checksum, category, storage_provider, storage_key, public_url,
			status, visibility, access_level, encryption_key_ref, tags,
			folder_path, extracted_text, metadata, thumbnails, created_at,
			updated_at, expires_at, last_accessed_at, deleted_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26
		)`

	_, err = r.db.Exec(ctx, query,
		record.ID, record.TenantID, record.OwnerID, record.FileName,
		record.OriginalName, record.MimeType, record.Size, record.Checksum,
		string(record.Category), record.StorageProvider, record.StorageKey,
		record.PublicURL, string(record.Status), string(record.Visibility),
		record.AccessLevel, record.EncryptionKeyRef, record.Tags,
		record.FolderPath, record.ExtractedText, metadataJSON, thumbnailJSON,
		record.CreatedAt, record.UpdatedAt, record.ExpiresAt,
		record.LastAccessedAt, record.DeletedAt)
	if err != nil {
		return r.handlePostgresError("create file", err)
	}
	return nil
}

func (r *Repository) GetFile(ctx context.Context, tenantID, fileID uuid.UUID) (*filevault.FileRecord, error) {
	query := `SELECT` + fileColumns + `
		FROM files WHERE id = $1 AND tenant_id = $2 AND status <> 'deleted'`

	record, err := scanFile(r.db.QueryRow(ctx, query, fileID, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, filevault.ErrFileNotFound
		}
		return nil, r.handlePostgresError("get file", err)
	}
	return record, nil
}

func (r *Repository) GetFileIncludeDeleted(ctx context.Context, tenantID, fileID uuid.UUID) (*filevault.FileRecord, error) {
	query := `SELECT` + fileColumns + `
		FROM files WHERE id = $1 AND tenant_id = $2`

	record, err := scanFile(r.db.QueryRow(ctx, query, fileID, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, filevault.ErrFileNotFound
		}
		return nil, r.handlePostgresError("get file include deleted", err)
	}
	return record, nil
}

func (r *Repository) UpdateFile(ctx context.Context, record *filevault.FileRecord) error {
	metadataJSON, err := encodeJSON(record.Metadata)
	if err != nil {
		return fmt.Errorf("encode file metadata: %w", err)
	}
	thumbnailJSON, err := encodeJSON(record.Thumbnails)
	if err != nil {
		return fmt.Errorf("encode thumbnails: %w", err)
	}

	query := `
		UPDATE files SET
			file_name = $2, original_name = $3, mime_type = $4, size = $5,
			checksum = $6, category = $7, storage_provider = $8,
			storage_key = $9, public_url = $10, status = $11, visibility = $12,
			access_level = $13, encryption_key_ref = $14, tags = $15,
			folder_path = $16, extracted_text = $17, metadata = $18,
			thumbnails = $19, updated_at = $20, expires_at = $21,
			last_accessed_at = $22, deleted_at = $23
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		record.ID, record.FileName, record.OriginalName, record.MimeType,
		record.Size, record.Checksum, string(record.Category),
		record.StorageProvider, record.StorageKey, record.PublicURL,
		string(record.Status), string(record.Visibility), record.AccessLevel,
		record.EncryptionKeyRef, record.Tags, record.FolderPath,
		record.ExtractedText, metadataJSON, thumbnailJSON, record.UpdatedAt,
		record.ExpiresAt, record.LastAccessedAt, record.DeletedAt)
	if err != nil {
		return r.handlePostgresError("update file", err)
	}
	if tag.RowsAffected() == 0 {
		return filevault.ErrFileNotFound
	}
	return nil
}

func (r *Repository) SoftDeleteFile(ctx context.Context, tenantID, fileID uuid.UUID) error {
	// Idempotent: a second delete matches zero non-deleted rows but the
	// record exists, so it is treated as already done.
	query := `
		UPDATE files
		SET status = 'deleted', deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2 AND status <> 'deleted'`

	tag, err := r.db.Exec(ctx, query, fileID, tenantID)
	if err != nil {
		return r.handlePostgresError("soft delete file", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		err := r.db.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM files WHERE id = $1 AND tenant_id = $2)`,
			fileID, tenantID).Scan(&exists)
		if err != nil {
			return r.handlePostgresError("soft delete file", err)
		}
		if !exists {
			return filevault.ErrFileNotFound
		}
	}
	return nil
}

func (r *Repository) HardDeleteFile(ctx context.Context, tenantID, fileID uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM files WHERE id = $1 AND tenant_id = $2`, fileID, tenantID)
	if err != nil {
		return r.handlePostgresError("hard delete file", err)
	}
	if tag.RowsAffected() == 0 {
		return filevault.ErrFileNotFound
	}
	return nil
}

func (r *Repository) TouchLastAccessed(ctx context.Context, fileID uuid.UUID, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE files SET last_accessed_at = $2 WHERE id = $1`, fileID, at)
	if err != nil {
		return r.handlePostgresError("touch last accessed", err)
	}
	if tag.RowsAffected() == 0 {
		return filevault.ErrFileNotFound
	}
	return nil
}

// Search

func (r *Repository) SearchFiles(ctx context.Context, query filevault.SearchQuery) (*filevault.SearchResult, error) {
	start := time.Now()

	where, args := buildSearchWhere(query)

	result := &filevault.SearchResult{
		Aggregations: filevault.SearchAggregations{
			ByCategory: make(map[filevault.Category]int64),
			ByStatus:   make(map[filevault.FileStatus]int64),
		},
	}

	if err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM files `+where, args...).Scan(&result.Total); err != nil {
		return nil, r.handlePostgresError("count files", err)
	}

	if err := r.searchFacet(ctx, `category`, where, args, func(key string, n int64) {
		result.Aggregations.ByCategory[filevault.Category(key)] = n
	}); err != nil {
		return nil, err
	}
	if err := r.searchFacet(ctx, `status`, where, args, func(key string, n int64) {
		result.Aggregations.ByStatus[filevault.FileStatus(key)] = n
	}); err != nil {
		return nil, err
	}

	limit := query.Limit
	if limit <= 0 {
		limit = 50
	}
	pageSQL := fmt.Sprintf(`SELECT %s FROM files %s ORDER BY %s LIMIT %d OFFSET %d`,
		fileColumns, where, orderClause(query), limit, query.Offset)

	rows, err := r.db.Query(ctx, pageSQL, args...)
	if err != nil {
		return nil, r.handlePostgresError("search files", err)
	}
	defer rows.Close()

	for rows.Next() {
		record, err := scanFile(rows)
		if err != nil {
			return nil, r.handlePostgresError("scan file", err)
		}
		result.Files = append(result.Files, record)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("iterate file rows", err)
	}

	result.HasMore = int64(query.Offset+len(result.Files)) < result.Total
	result.SearchTime = time.Since(start)
	return result, nil
}

func (r *Repository) searchFacet(ctx context.Context, column, where string, args []interface{}, add func(string, int64)) error {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf(`SELECT %s, COUNT(*) FROM files %s GROUP BY %s`, column, where, column),
		args...)
	if err != nil {
		return r.handlePostgresError("aggregate "+column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key string
			n   int64
		)
		if err := rows.Scan(&key, &n); err != nil {
			return r.handlePostgresError("scan "+column+" facet", err)
		}
		add(key, n)
	}
	return rows.Err()
}

func buildSearchWhere(q filevault.SearchQuery) (string, []interface{}) {
	clauses := []string{"tenant_id = $1"}
	args := []interface{}{q.TenantID}

	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !q.IncludeDeleted {
		clauses = append(clauses, "status <> 'deleted'")
	}
	if q.NameContains != "" {
		clauses = append(clauses, "original_name ILIKE "+arg("%"+q.NameContains+"%"))
	}
	if q.MimeType != "" {
		clauses = append(clauses, "mime_type = "+arg(q.MimeType))
	}
	if q.Category != nil {
		clauses = append(clauses, "category = "+arg(string(*q.Category)))
	}
	if q.Status != nil {
		clauses = append(clauses, "status = "+arg(string(*q.Status)))
	}
	if q.Visibility != nil {
		clauses = append(clauses, "visibility = "+arg(string(*q.Visibility)))
	}
	if q.Tag != "" {
		clauses = append(clauses, arg(q.Tag)+" = ANY(tags)")
	}
	if q.FolderPath != "" {
		clauses = append(clauses, "folder_path = "+arg(q.FolderPath))
	}
	if q.FullText != "" {
		p := arg("%" + q.FullText + "%")
		clauses = append(clauses, fmt.Sprintf("(extracted_text ILIKE %s OR original_name ILIKE %s)", p, p))
	}
	if q.CreatedAfter != nil {
		clauses = append(clauses, "created_at >= "+arg(*q.CreatedAfter))
	}
	if q.CreatedBefore != nil {
		clauses = append(clauses, "created_at <= "+arg(*q.CreatedBefore))
	}
	if q.MinSize != nil {
		clauses = append(clauses, "size >= "+arg(*q.MinSize))
	}
	if q.MaxSize != nil {
		clauses = append(clauses, "size <= "+arg(*q.MaxSize))
	}

	return "WHERE " + strings.Join(clauses, " AND "), args
}

func orderClause(q filevault.SearchQuery) string {
	var column string
	switch q.SortBy {
	case filevault.SortByName:
		column = "LOWER(original_name)"
	case filevault.SortBySize:
		column = "size"
	case filevault.SortByModified:
		column = "updated_at"
	default:
		column = "created_at"
	}

	desc := q.SortBy != filevault.SortByName
	if q.SortDescending != nil {
		desc = *q.SortDescending
	}
	if desc {
		return column + " DESC"
	}
	return column + " ASC"
}

// Quota aggregation

func (r *Repository) GetTenantUsage(ctx context.Context, tenantID uuid.UUID) (*filevault.TenantUsage, error) {
	usage := &filevault.TenantUsage{
		ByCategory: make(map[filevault.Category]int64),
	}

	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(size), 0), COUNT(*)
		FROM files
		WHERE tenant_id = $1 AND status <> 'deleted'`,
		tenantID).Scan(&usage.UsedBytes, &usage.FileCount)
	if err != nil {
		return nil, r.handlePostgresError("tenant usage", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT category, COUNT(*)
		FROM files
		WHERE tenant_id = $1 AND status <> 'deleted'
		GROUP BY category`, tenantID)
	if err != nil {
		return nil, r.handlePostgresError("tenant usage by category", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			category string
			n        int64
		)
		if err := rows.Scan(&category, &n); err != nil {
			return nil, r.handlePostgresError("scan category usage", err)
		}
		usage.ByCategory[filevault.Category(category)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("iterate category usage", err)
	}

	return usage, nil
}

func (r *Repository) HasExpiredFiles(ctx context.Context, tenantID uuid.UUID, now time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM files
			WHERE tenant_id = $1 AND status <> 'deleted'
			  AND expires_at IS NOT NULL AND expires_at < $2
		)`, tenantID, now).Scan(&exists)
	if err != nil {
		return false, r.handlePostgresError("has expired files", err)
	}
	return exists, nil
}

// Processing job operations

const jobColumns = `
	id, file_id, tenant_id, type, status, config, output, error_detail,
	run_at, created_at, updated_at, completed_at`

func scanJob(row pgx.Row) (*filevault.ProcessingJob, error) {
	var (
		job        filevault.ProcessingJob
		jobType    string
		status     string
		configJSON []byte
		outputJSON []byte
	)
	err := row.Scan(
		&job.ID, &job.FileID, &job.TenantID, &jobType, &status,
		&configJSON, &outputJSON, &job.Error, &job.RunAt,
		&job.CreatedAt, &job.UpdatedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Type = filevault.JobType(jobType)
	job.Status = filevault.JobStatus(status)

	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &job.Config); err != nil {
			return nil, fmt.Errorf("decode job config: %w", err)
		}
	}
	if len(outputJSON) > 0 {
		if err := json.Unmarshal(outputJSON, &job.Output); err != nil {
			return nil, fmt.Errorf("decode job output: %w", err)
		}
	}
	return &job, nil
}

func (r *Repository) CreateJob(ctx context.Context, job *filevault.ProcessingJob) error {
	configJSON, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("encode job config: %w", err)
	}
	outputJSON, err := json.Marshal(job.Output)
	if err != nil {
		return fmt.Errorf("encode job output: %w", err)
	}

	query := `
		INSERT INTO processing_jobs (
			id, file_id, tenant_id, type, status, config, output, error_detail,
			run_at, created_at, updated_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = r.db.Exec(ctx, query,
		job.ID, job.FileID, job.TenantID, string(job.Type), string(job.Status),
		configJSON, outputJSON, job.Error, job.RunAt, job.CreatedAt,
		job.UpdatedAt, job.CompletedAt)
	if err != nil {
		return r.handlePostgresError("create job", err)
	}
	return nil
}

func (r *Repository) GetJob(ctx context.Context, jobID uuid.UUID) (*filevault.ProcessingJob, error) {
	query := `SELECT` + jobColumns + ` FROM processing_jobs WHERE id = $1`

	job, err := scanJob(r.db.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, filevault.ErrJobNotFound
		}
		return nil, r.handlePostgresError("get job", err)
	}
	return job, nil
}

func (r *Repository) UpdateJob(ctx context.Context, job *filevault.ProcessingJob) error {
	configJSON, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("encode job config: %w", err)
	}
	outputJSON, err := json.Marshal(job.Output)
	if err != nil {
		return fmt.Errorf("encode job output: %w", err)
	}

	query := `
		UPDATE processing_jobs SET
			status = $2, config = $3, output = $4, error_detail = $5,
			run_at = $6, updated_at = $7, completed_at = $8
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		job.ID, string(job.Status), configJSON, outputJSON, job.Error,
		job.RunAt, job.UpdatedAt, job.CompletedAt)
	if err != nil {
		return r.handlePostgresError("update job", err)
	}
	if tag.RowsAffected() == 0 {
		return filevault.ErrJobNotFound
	}
	return nil
}

func (r *Repository) ListJobsByFile(ctx context.Context, fileID uuid.UUID) ([]*filevault.ProcessingJob, error) {
	query := `SELECT` + jobColumns + `
		FROM processing_jobs WHERE file_id = $1 ORDER BY created_at ASC`

	rows, err := r.db.Query(ctx, query, fileID)
	if err != nil {
		return nil, r.handlePostgresError("list jobs by file", err)
	}
	defer rows.Close()

	var jobs []*filevault.ProcessingJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, r.handlePostgresError("scan job", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("iterate job rows", err)
	}
	return jobs, nil
}

func (r *Repository) PruneJobs(ctx context.Context, keepCompleted, keepFailed int) error {
	prune := func(status string, keep int) error {
		_, err := r.db.Exec(ctx, `
			DELETE FROM processing_jobs
			WHERE status = $1 AND id NOT IN (
				SELECT id FROM processing_jobs
				WHERE status = $1
				ORDER BY updated_at DESC
				LIMIT $2
			)`, status, keep)
		if err != nil {
			return r.handlePostgresError("prune "+status+" jobs", err)
		}
		return nil
	}

	if err := prune(string(filevault.JobStatusCompleted), keepCompleted); err != nil {
		return err
	}
	return prune(string(filevault.JobStatusFailed), keepFailed)
}
