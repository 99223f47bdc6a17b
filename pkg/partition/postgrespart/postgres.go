// Package postgrespart implements a Partition backed by PostgreSQL via
// pgx. Entries live in one table keyed by normalized DN, with attributes
// stored as jsonb and a btree index on parent_dn for one-level enumeration.
package postgrespart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dirsrv/pkg/cursor"
	"dirsrv/pkg/dirserrors"
	"dirsrv/pkg/dn"
	"dirsrv/pkg/entry"
	"dirsrv/pkg/filter"
	"dirsrv/pkg/metrics"
	"dirsrv/pkg/opctx"
	"dirsrv/pkg/partition"
	"dirsrv/pkg/schema"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS entries (
	dn        TEXT PRIMARY KEY,
	parent_dn TEXT NOT NULL,
	attrs     JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS entries_parent_dn_idx ON entries (parent_dn);
`

// Partition is a PostgreSQL-backed subtree store.
type Partition struct {
	suffix dn.DN
	schema *schema.Schema
	m      *metrics.DirectoryMetrics
	pool   *pgxpool.Pool
}

// Open connects to the database at dsn and ensures the entries table
// exists.
func Open(ctx context.Context, dsn string, suffix dn.DN, s *schema.Schema, m *metrics.DirectoryMetrics) (*Partition, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, dirserrors.Wrap(dirserrors.Other, err, "connecting to postgres")
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, dirserrors.Wrap(dirserrors.Other, err, "creating entries table")
	}
	return &Partition{suffix: suffix, schema: s, m: m, pool: pool}, nil
}

// Close releases the connection pool.
func (p *Partition) Close() { p.pool.Close() }

// Suffix returns the normalized suffix DN this partition serves.
func (p *Partition) Suffix() dn.DN { return p.suffix }

func (p *Partition) Add(ctx context.Context, e *entry.Entry) error {
	p.m.RecordPartitionOp("postgres", "add")
	key := e.DN
	parent, err := partition.ParentOf(key)
	if err != nil {
		return err
	}

	return p.withTx(ctx, func(tx pgx.Tx) error {
		if key != p.suffix.Normalized() {
			var one int
			err := tx.QueryRow(ctx, `SELECT 1 FROM entries WHERE dn = $1`, parent).Scan(&one)
			if errors.Is(err, pgx.ErrNoRows) {
				return dirserrors.NoSuchObjectErr(parent)
			}
			if err != nil {
				return dirserrors.Wrap(dirserrors.Other, err, "checking parent entry")
			}
		}
		attrs, err := json.Marshal(e)
		if err != nil {
			return dirserrors.Wrap(dirserrors.Other, err, "encoding entry")
		}
		tag, err := tx.Exec(ctx,
			`INSERT INTO entries (dn, parent_dn, attrs) VALUES ($1, $2, $3) ON CONFLICT (dn) DO NOTHING`,
			key, parent, attrs)
		if err != nil {
			return dirserrors.Wrap(dirserrors.Other, err, "inserting entry")
		}
		if tag.RowsAffected() == 0 {
			return dirserrors.AlreadyExistsErr(key)
		}
		return nil
	})
}

func (p *Partition) Lookup(ctx context.Context, target dn.DN, attrs []string) (*entry.Entry, error) {
	p.m.RecordPartitionOp("postgres", "lookup")
	e, err := p.get(ctx, target.Normalized())
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, dirserrors.NoSuchObjectErr(target.String())
	}
	return partition.Project(e, attrs), nil
}

func (p *Partition) Delete(ctx context.Context, target dn.DN) error {
	p.m.RecordPartitionOp("postgres", "delete")
	key := target.Normalized()
	return p.withTx(ctx, func(tx pgx.Tx) error {
		var children int
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM entries WHERE parent_dn = $1`, key).Scan(&children); err != nil {
			return dirserrors.Wrap(dirserrors.Other, err, "counting subordinates")
		}
		if children > 0 {
			return dirserrors.Newf(dirserrors.UnwillingToPerform, "entry %q has subordinates", target.String())
		}
		tag, err := tx.Exec(ctx, `DELETE FROM entries WHERE dn = $1`, key)
		if err != nil {
			return dirserrors.Wrap(dirserrors.Other, err, "deleting entry")
		}
		if tag.RowsAffected() == 0 {
			return dirserrors.NoSuchObjectErr(target.String())
		}
		return nil
	})
}

func (p *Partition) Modify(ctx context.Context, target dn.DN, mods []opctx.Modification) error {
	p.m.RecordPartitionOp("postgres", "modify")
	key := target.Normalized()
	return p.withTx(ctx, func(tx pgx.Tx) error {
		e, err := getForUpdate(ctx, tx, key)
		if err != nil {
			return err
		}
		if e == nil {
			return dirserrors.NoSuchObjectErr(target.String())
		}
		partition.ApplyMods(e, mods, p.schema)
		attrs, err := json.Marshal(e)
		if err != nil {
			return dirserrors.Wrap(dirserrors.Other, err, "encoding entry")
		}
		if _, err := tx.Exec(ctx, `UPDATE entries SET attrs = $2 WHERE dn = $1`, key, attrs); err != nil {
			return dirserrors.Wrap(dirserrors.Other, err, "updating entry")
		}
		return nil
	})
}

func (p *Partition) Rename(ctx context.Context, target dn.DN, newRDN string, deleteOldRDN bool) error {
	p.m.RecordPartitionOp("postgres", "rename")
	parent, ok := target.Parent()
	if !ok {
		return dirserrors.New(dirserrors.UnwillingToPerform, "cannot rename the root DSE")
	}
	return p.relocate(ctx, target, parent, newRDN, deleteOldRDN)
}

func (p *Partition) Move(ctx context.Context, target dn.DN, newParent dn.DN) error {
	p.m.RecordPartitionOp("postgres", "move")
	return p.relocate(ctx, target, newParent, "", false)
}

func (p *Partition) MoveAndRename(ctx context.Context, target dn.DN, newParent dn.DN, newRDN string, deleteOldRDN bool) error {
	p.m.RecordPartitionOp("postgres", "moveAndRename")
	return p.relocate(ctx, target, newParent, newRDN, deleteOldRDN)
}

func (p *Partition) relocate(ctx context.Context, target, newParent dn.DN, newRDN string, deleteOldRDN bool) error {
	return p.withTx(ctx, func(tx pgx.Tx) error {
		oldKey := target.Normalized()
		e, err := getForUpdate(ctx, tx, oldKey)
		if err != nil {
			return err
		}
		if e == nil {
			return dirserrors.NoSuchObjectErr(target.String())
		}
		if newParent.Normalized() != p.suffix.Normalized() {
			var one int
			err := tx.QueryRow(ctx, `SELECT 1 FROM entries WHERE dn = $1`, newParent.Normalized()).Scan(&one)
			if errors.Is(err, pgx.ErrNoRows) {
				return dirserrors.NoSuchObjectErr(newParent.String())
			}
			if err != nil {
				return dirserrors.Wrap(dirserrors.Other, err, "checking destination parent")
			}
		}

		leading := target.Leading(1)
		oldRDN := target.RDN()
		if newRDN != "" {
			parsed, err := dn.Parse(newRDN, p.schema.CanonicalName, p.schema.NormalizeValue)
			if err != nil {
				return err
			}
			if parsed.Len() != 1 {
				return dirserrors.Newf(dirserrors.NamingViolation, "new RDN %q must be a single RDN", newRDN)
			}
			leading = parsed
		}
		newDN := dn.Join(leading, newParent)
		newKey := newDN.Normalized()
		if newKey == oldKey {
			return nil
		}
		if existing, err := getInTx(ctx, tx, newKey); err != nil {
			return err
		} else if existing != nil {
			return dirserrors.AlreadyExistsErr(newDN.String())
		}

		if newRDN != "" {
			for _, c := range leading.RDN().Components {
				eq := func(a, b string) bool { return p.schema.Equal(c.NormType, a, b) }
				if a, ok := e.Get(c.NormType); !ok || !a.Contains(c.Value, eq) {
					e.Add(c.NormType, c.Value)
				}
			}
			if deleteOldRDN {
				for _, c := range oldRDN.Components {
					eq := func(a, b string) bool { return p.schema.Equal(c.NormType, a, b) }
					e.RemoveValues(c.NormType, eq, c.Value)
				}
			}
			attrs, err := json.Marshal(e)
			if err != nil {
				return dirserrors.Wrap(dirserrors.Other, err, "encoding entry")
			}
			if _, err := tx.Exec(ctx, `UPDATE entries SET attrs = $2 WHERE dn = $1`, oldKey, attrs); err != nil {
				return dirserrors.Wrap(dirserrors.Other, err, "updating naming attributes")
			}
		}

		// Rekey the target and its whole subtree in SQL: every descendant's
		// dn carries oldKey as a suffix.
		rewriteDN := func(col string) string {
			return fmt.Sprintf(`left(%s, length(%s) - length($1)) || $2`, col, col)
		}
		_, err = tx.Exec(ctx, fmt.Sprintf(
			`UPDATE entries
			 SET dn = %s,
			     parent_dn = CASE WHEN parent_dn = $3 THEN $4
			                 WHEN parent_dn = $1 OR parent_dn LIKE '%%,' || $1 THEN %s
			                 ELSE parent_dn END,
			     attrs = jsonb_set(attrs, '{dn}', to_jsonb(%s))
			 WHERE dn = $1 OR dn LIKE '%%,' || $1`,
			rewriteDN("dn"), rewriteDN("parent_dn"), rewriteDN("dn")),
			oldKey, newKey, oldParent(target), newParent.Normalized())
		if err != nil {
			return dirserrors.Wrap(dirserrors.Other, err, "rekeying subtree")
		}
		return nil
	})
}

func oldParent(target dn.DN) string {
	parent, ok := target.Parent()
	if !ok {
		return ""
	}
	return parent.Normalized()
}

func (p *Partition) Search(ctx context.Context, base dn.DN, scope opctx.Scope, filterStr string, sizeLimit int) (cursor.Cursor, error) {
	p.m.RecordPartitionOp("postgres", "search")

	var node *filter.Node
	if filterStr != "" {
		var err error
		node, err = filter.Parse(filterStr)
		if err != nil {
			return nil, err
		}
	}

	baseKey := base.Normalized()
	baseEntry, err := p.get(ctx, baseKey)
	if err != nil {
		return nil, err
	}
	if baseEntry == nil {
		return nil, dirserrors.NoSuchObjectErr(base.String())
	}

	var rows pgx.Rows
	switch scope {
	case opctx.ScopeBaseObject:
		rows, err = p.pool.Query(ctx, `SELECT attrs FROM entries WHERE dn = $1`, baseKey)
	case opctx.ScopeSingleLevel:
		rows, err = p.pool.Query(ctx, `SELECT attrs FROM entries WHERE parent_dn = $1 ORDER BY dn`, baseKey)
	default: // ScopeSubtree
		rows, err = p.pool.Query(ctx,
			`SELECT attrs FROM entries WHERE dn = $1 OR dn LIKE '%,' || $1 ORDER BY dn`, baseKey)
	}
	if err != nil {
		return nil, dirserrors.Wrap(dirserrors.Other, err, "querying entries")
	}
	defer rows.Close()

	var hits []*entry.Entry
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, dirserrors.Wrap(dirserrors.Other, err, "decoding entry row")
		}
		e := &entry.Entry{}
		if err := json.Unmarshal(raw, e); err != nil {
			return nil, dirserrors.Wrap(dirserrors.Other, err, "decoding entry attributes")
		}
		if node != nil && !filter.Matches(node, e, p.schema) {
			continue
		}
		hits = append(hits, e)
		if sizeLimit > 0 && len(hits) >= sizeLimit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, dirserrors.Wrap(dirserrors.Other, err, "iterating entry rows")
	}
	p.m.RecordCursorOpened()
	return cursor.FromSlice(hits), nil
}

func (p *Partition) HasEntry(ctx context.Context, target dn.DN) (bool, error) {
	e, err := p.get(ctx, target.Normalized())
	if err != nil {
		return false, err
	}
	return e != nil, nil
}

func (p *Partition) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return dirserrors.Wrap(dirserrors.Other, err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return dirserrors.Wrap(dirserrors.Other, err, "committing transaction")
	}
	return nil
}

func (p *Partition) get(ctx context.Context, normDN string) (*entry.Entry, error) {
	row := p.pool.QueryRow(ctx, `SELECT attrs FROM entries WHERE dn = $1`, normDN)
	return scanEntry(row)
}

func getInTx(ctx context.Context, tx pgx.Tx, normDN string) (*entry.Entry, error) {
	return scanEntry(tx.QueryRow(ctx, `SELECT attrs FROM entries WHERE dn = $1`, normDN))
}

func getForUpdate(ctx context.Context, tx pgx.Tx, normDN string) (*entry.Entry, error) {
	return scanEntry(tx.QueryRow(ctx, `SELECT attrs FROM entries WHERE dn = $1 FOR UPDATE`, normDN))
}

func scanEntry(row pgx.Row) (*entry.Entry, error) {
	var raw []byte
	err := row.Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dirserrors.Wrap(dirserrors.Other, err, "reading entry")
	}
	e := &entry.Entry{}
	if err := json.Unmarshal(raw, e); err != nil {
		return nil, dirserrors.Wrap(dirserrors.Other, err, "decoding entry attributes")
	}
	return e, nil
}
