package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/dexguard/internal/domain"
)

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the archiver.
//
// The archiver only needs time-ranged reads and the matching delete, not the
// full domain store interfaces. The Postgres stores satisfy these implicitly.
// ---------------------------------------------------------------------------

// DecisionArchiveStore provides the decision-history access the archiver
// needs: a time-ranged read and the matching delete.
type DecisionArchiveStore interface {
	// ListBefore returns all decisions created strictly before the given
	// cutoff time, oldest first.
	ListBefore(ctx context.Context, before time.Time) ([]domain.Decision, error)

	// DeleteBefore removes all decisions created strictly before the given
	// cutoff time and returns the number of rows deleted.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditArchiveStore provides the audit-log access the archiver needs.
type AuditArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.AuditEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ---------------------------------------------------------------------------
// ArchiveImpl
// ---------------------------------------------------------------------------

// ArchiveImpl implements domain.Archiver by querying the Postgres stores for
// aged records, serializing them to JSONL, and uploading the result to S3.
//
// Rows are deleted from the primary store only after the uploaded object has
// been confirmed to exist, so a failed upload never loses history.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	reader    domain.BlobReader
	decisions DecisionArchiveStore
	audit     AuditArchiveStore
	auditLog  domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	decisions DecisionArchiveStore,
	audit AuditArchiveStore,
	auditLog domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		reader:    reader,
		decisions: decisions,
		audit:     audit,
		auditLog:  auditLog,
	}
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// ArchiveDecisions uploads all decisions created before the cutoff to S3 at
// archive/decisions/YYYY-MM.jsonl, verifies the upload, deletes the archived
// rows, and records the event in the audit log. The count of archived
// decisions is returned.
func (a *ArchiveImpl) ArchiveDecisions(ctx context.Context, before time.Time) (int64, error) {
	decisions, err := a.decisions.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive decisions query: %w", err)
	}
	if len(decisions) == 0 {
		return 0, nil
	}

	path := archivePath("decisions", before)
	if err := upload(ctx, a, path, decisions); err != nil {
		return 0, fmt.Errorf("s3blob: archive decisions: %w", err)
	}

	deleted, err := a.decisions.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive decisions delete: %w", err)
	}

	if err := a.auditLog.Log(ctx, "archive.decisions", map[string]any{
		"path":    path,
		"count":   len(decisions),
		"deleted": deleted,
		"before":  before.Format(time.RFC3339),
	}); err != nil {
		return deleted, fmt.Errorf("s3blob: archive decisions audit log: %w", err)
	}

	return deleted, nil
}

// ArchiveAudit uploads all audit entries created before the cutoff to S3 at
// archive/audit/YYYY-MM.jsonl, verifies the upload, deletes the archived
// rows, and records the event in the audit log. The count of archived
// entries is returned.
func (a *ArchiveImpl) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	path := archivePath("audit", before)
	if err := upload(ctx, a, path, entries); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit: %w", err)
	}

	deleted, err := a.audit.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit delete: %w", err)
	}

	// Logged after the deletion so the entry itself survives this pass.
	if err := a.auditLog.Log(ctx, "archive.audit", map[string]any{
		"path":    path,
		"count":   len(entries),
		"deleted": deleted,
		"before":  before.Format(time.RFC3339),
	}); err != nil {
		return deleted, fmt.Errorf("s3blob: archive audit log: %w", err)
	}

	return deleted, nil
}

// upload serializes the records to JSONL, writes the object, and confirms it
// is retrievable before the caller deletes the source rows.
func upload[T any](ctx context.Context, a *ArchiveImpl, path string, records []T) error {
	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	if a.reader != nil {
		ok, err := a.reader.Exists(ctx, path)
		if err != nil {
			return fmt.Errorf("verify: %w", err)
		}
		if !ok {
			return fmt.Errorf("verify: object %s missing after upload", path)
		}
	}

	return nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/decisions/2026-08.jsonl
//	archive/audit/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
