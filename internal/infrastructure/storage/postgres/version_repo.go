package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"github.com/dougwmorrow/open-sc/internal/core/apperror"
	"github.com/dougwmorrow/open-sc/internal/domain/dimension"
	"github.com/dougwmorrow/open-sc/internal/domain/engine"
)

const versionTable = "scd_version"

// copyThreshold is the insert count above which the writer switches from a
// pipelined batch of INSERTs to the COPY protocol.
const copyThreshold = 50

// Compile-time check that VersionRepo implements engine.VersionStore.
var _ engine.VersionStore = (*VersionRepo)(nil)

// VersionRepo is the PostgreSQL version table. One row per version; rows are
// appended by the writer's insert phase and mutated only by the close phase
// (ValidTo set exactly once) and by compliance erasure.
type VersionRepo struct {
	txm      *TxManager
	inserter *BatchInserter
	executor *BatchExecutor
	cols     []string
}

// NewVersionRepo creates the version repository.
func NewVersionRepo(txm *TxManager) *VersionRepo {
	return &VersionRepo{
		txm:      txm,
		inserter: NewBatchInserter(txm),
		executor: NewBatchExecutor(txm),
		cols:     ExtractDBColumns[dimension.Version](),
	}
}

// Builder returns a squirrel builder with PostgreSQL placeholders.
func (r *VersionRepo) Builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func (r *VersionRepo) latestQuery(keys []string) squirrel.SelectBuilder {
	return r.Builder().
		Select(r.cols...).
		From(versionTable).
		Where(squirrel.Eq{"business_key": keys}).
		Where(squirrel.Eq{"state": []string{string(dimension.StateCurrent), string(dimension.StateDeleted)}})
}

func (r *VersionRepo) historyQuery(keys []string) squirrel.SelectBuilder {
	return r.Builder().
		Select(r.cols...).
		From(versionTable).
		Where(squirrel.Eq{"business_key": keys}).
		OrderBy("business_key", "valid_from", "valid_to")
}

// pointInTimeQuery selects the version covering asOf. A covering DELETED
// marker is excluded; zero-width intra-batch intervals never cover an
// instant, so at most one row qualifies.
func (r *VersionRepo) pointInTimeQuery(businessKey string, asOf time.Time) squirrel.SelectBuilder {
	return r.Builder().
		Select(r.cols...).
		From(versionTable).
		Where(squirrel.Eq{"business_key": businessKey}).
		Where(squirrel.LtOrEq{"valid_from": asOf}).
		Where(squirrel.Gt{"valid_to": asOf}).
		Where(squirrel.NotEq{"state": string(dimension.StateDeleted)}).
		Limit(1)
}

// LatestByKeys returns each key's single latest version (CURRENT or DELETED).
func (r *VersionRepo) LatestByKeys(ctx context.Context, keys []string) (map[string]dimension.Version, error) {
	if len(keys) == 0 {
		return map[string]dimension.Version{}, nil
	}

	sql, args, err := r.latestQuery(keys).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build latest query: %w", err)
	}

	var rows []dimension.Version
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("select latest versions: %w", err)
	}

	out := make(map[string]dimension.Version, len(rows))
	for _, v := range rows {
		if prev, dup := out[v.BusinessKey]; dup {
			// Two open rows for one key means the single-latest invariant is
			// already broken in storage; surface it instead of picking one.
			return nil, apperror.NewIntegrityViolation("multiple latest versions").
				WithDetail("business_key", v.BusinessKey).
				WithDetail("surrogate_keys", []string{prev.SurrogateKey.String(), v.SurrogateKey.String()})
		}
		out[v.BusinessKey] = v
	}
	return out, nil
}

// ApplyTransitions runs the two-phase apply: all closes as one set-oriented
// update, then all inserts. Requires an active transaction in context so both
// phases commit or roll back together.
func (r *VersionRepo) ApplyTransitions(ctx context.Context, closes []engine.Close, inserts []dimension.Version) error {
	if r.txm.GetTx(ctx) == nil {
		return fmt.Errorf("ApplyTransitions requires transaction context")
	}

	if len(closes) > 0 {
		if err := r.closeVersions(ctx, closes); err != nil {
			return err
		}
	}
	if len(inserts) > 0 {
		if err := r.insertVersions(ctx, inserts); err != nil {
			return err
		}
	}
	return nil
}

// closeVersions sets ValidTo and demotes state for all targeted rows in one
// statement. The state guard keeps an already-closed row from being closed a
// second time on retry.
func (r *VersionRepo) closeVersions(ctx context.Context, closes []engine.Close) error {
	keys := make([]string, 0, len(closes))
	validTos := make([]time.Time, 0, len(closes))
	for _, c := range closes {
		keys = append(keys, c.SurrogateKey.String())
		validTos = append(validTos, c.ValidTo)
	}

	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, `
		UPDATE `+versionTable+` AS v
		SET valid_to = c.valid_to,
		    state = 'HISTORICAL'
		FROM (
			SELECT unnest($1::uuid[]) AS surrogate_key,
			       unnest($2::timestamptz[]) AS valid_to
		) AS c
		WHERE v.surrogate_key = c.surrogate_key
		  AND v.state IN ('CURRENT', 'DELETED')
	`, keys, validTos)
	if err != nil {
		return fmt.Errorf("close versions: %w", err)
	}

	if int(tag.RowsAffected()) != len(closes) {
		return apperror.NewIntegrityViolation("close phase missed rows").
			WithDetail("expected", len(closes)).
			WithDetail("closed", tag.RowsAffected())
	}
	return nil
}

// insertVersions appends the new version rows. Small batches go through one
// pipelined round-trip, large ones through COPY.
func (r *VersionRepo) insertVersions(ctx context.Context, inserts []dimension.Version) error {
	if len(inserts) >= copyThreshold {
		rows := make([][]any, 0, len(inserts))
		for i := range inserts {
			data := StructToMap(&inserts[i])
			row := make([]any, 0, len(r.cols))
			for _, col := range r.cols {
				row = append(row, data[col])
			}
			rows = append(rows, row)
		}
		n, err := r.inserter.CopyFromSlice(ctx, versionTable, r.cols, rows)
		if err != nil {
			return fmt.Errorf("copy versions: %w", err)
		}
		if int(n) != len(inserts) {
			return fmt.Errorf("copy versions: inserted %d of %d rows", n, len(inserts))
		}
		return nil
	}

	queries := make([]BatchQuery, 0, len(inserts))
	for i := range inserts {
		sql, args, err := r.Builder().
			Insert(versionTable).
			SetMap(StructToMap(&inserts[i])).
			ToSql()
		if err != nil {
			return fmt.Errorf("build insert: %w", err)
		}
		queries = append(queries, BatchQuery{SQL: sql, Args: args})
	}
	if err := r.executor.ExecuteBatch(ctx, queries); err != nil {
		return fmt.Errorf("insert versions: %w", err)
	}
	return nil
}

// HistoryByKeys returns the full version chain per key.
func (r *VersionRepo) HistoryByKeys(ctx context.Context, keys []string) (map[string][]dimension.Version, error) {
	if len(keys) == 0 {
		return map[string][]dimension.Version{}, nil
	}

	sql, args, err := r.historyQuery(keys).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build history query: %w", err)
	}

	var rows []dimension.Version
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}

	out := make(map[string][]dimension.Version, len(keys))
	for _, v := range rows {
		out[v.BusinessKey] = append(out[v.BusinessKey], v)
	}
	return out, nil
}

// AllKeys lists every distinct business key.
func (r *VersionRepo) AllKeys(ctx context.Context) ([]string, error) {
	var keys []string
	err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &keys,
		`SELECT DISTINCT business_key FROM `+versionTable+` ORDER BY business_key`)
	if err != nil {
		return nil, fmt.Errorf("select keys: %w", err)
	}
	return keys, nil
}

// PointInTime returns the version whose interval covers asOf, or nil.
func (r *VersionRepo) PointInTime(ctx context.Context, businessKey string, asOf time.Time) (*dimension.Version, error) {
	sql, args, err := r.pointInTimeQuery(businessKey, asOf).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build point-in-time query: %w", err)
	}

	var v dimension.Version
	err = pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &v, sql, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select point-in-time: %w", err)
	}
	return &v, nil
}

// CurrentSnapshot streams all CURRENT versions ordered by business key.
func (r *VersionRepo) CurrentSnapshot(ctx context.Context, fn func(dimension.Version) error) error {
	sql, args, err := r.Builder().
		Select(r.cols...).
		From(versionTable).
		Where(squirrel.Eq{"state": string(dimension.StateCurrent)}).
		OrderBy("business_key").
		ToSql()
	if err != nil {
		return fmt.Errorf("build snapshot query: %w", err)
	}

	rows, err := r.txm.GetQuerier(ctx).Query(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("query snapshot: %w", err)
	}
	defer rows.Close()

	rs := pgxscan.NewRowScanner(rows)
	for rows.Next() {
		var v dimension.Version
		if err := rs.Scan(&v); err != nil {
			return fmt.Errorf("scan snapshot row: %w", err)
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return rows.Err()
}

// RewriteVersions overwrites attribute values in place for compliance
// erasure. The temporal columns are deliberately untouched.
func (r *VersionRepo) RewriteVersions(ctx context.Context, rewrites []engine.Rewrite) error {
	if len(rewrites) == 0 {
		return nil
	}
	if r.txm.GetTx(ctx) == nil {
		return fmt.Errorf("RewriteVersions requires transaction context")
	}

	queries := make([]BatchQuery, 0, len(rewrites))
	for _, rw := range rewrites {
		sql, args, err := r.Builder().
			Update(versionTable).
			Set("attributes", rw.Attributes).
			Set("content_hash", rw.ContentHash).
			Where(squirrel.Eq{"surrogate_key": rw.SurrogateKey}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build rewrite: %w", err)
		}
		queries = append(queries, BatchQuery{SQL: sql, Args: args})
	}
	if err := r.executor.ExecuteBatch(ctx, queries); err != nil {
		return fmt.Errorf("rewrite versions: %w", err)
	}
	return nil
}
