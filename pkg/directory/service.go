// Package directory assembles the operation pipeline: the interceptor
// chain (normalization, authorization, referral, operational attributes,
// change-log) terminated by the partition nexus, plus the entry points the
// wire adapters, the LDIF harness, and embedded callers drive.
package directory

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"dirsrv/internal/telemetry"
	"dirsrv/pkg/changelog"
	"dirsrv/pkg/cursor"
	"dirsrv/pkg/dirserrors"
	"dirsrv/pkg/dn"
	"dirsrv/pkg/entry"
	"dirsrv/pkg/interceptor"
	"dirsrv/pkg/ldif"
	"dirsrv/pkg/metrics"
	"dirsrv/pkg/opctx"
	"dirsrv/pkg/partition"
	"dirsrv/pkg/referral"
	"dirsrv/pkg/schema"
	"dirsrv/pkg/session"
)

// Config carries the service's construction parameters.
type Config struct {
	Schema  *schema.Schema
	Metrics *metrics.DirectoryMetrics
	Logger  *slog.Logger

	// AdminDN is the normalized DN whose entry only its own session may
	// modify; empty disables the rule.
	AdminDN string

	// ChangelogEnabled turns on reverse-op recording from startup;
	// EnableChangelog can flip it later.
	ChangelogEnabled bool

	// Kerberos and PrincipalMapper configure GSSAPI binds; both nil
	// disables the mechanism.
	Kerberos        *session.KerberosProvider
	PrincipalMapper *session.PrincipalMapper

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time

	// ExtraStages are appended between the referral and operational
	// stages, in order: the slot where value-transforming stages (blob
	// offload) belong, after protocol semantics but before server
	// stamping.
	ExtraStages []NamedStage
}

// NamedStage pairs a stage with its chain registration name.
type NamedStage struct {
	Name  string
	Stage interceptor.Stage
}

// Service is the directory core: one frozen interceptor chain over one
// partition nexus, with the referral manager, change-log, and session
// binder wired in.
type Service struct {
	schema    *schema.Schema
	nexus     *partition.Nexus
	chain     *interceptor.Chain
	log       *changelog.Log
	referrals *referral.Manager
	binder    *session.Binder
	logger    *slog.Logger
	metrics   *metrics.DirectoryMetrics

	changelogOn atomic.Bool
}

// New builds and freezes the pipeline. Partitions are registered
// afterwards with RegisterPartition; the chain itself never changes once
// the service exists.
func New(cfg Config) (*Service, error) {
	if cfg.Schema == nil {
		cfg.Schema = schema.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Service{
		schema:  cfg.Schema,
		nexus:   partition.NewNexus(),
		chain:   interceptor.New(),
		log:     changelog.New(),
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
	s.changelogOn.Store(cfg.ChangelogEnabled)
	s.chain.SetMetrics(cfg.Metrics)

	// The nexus-backed raw reader used by the referral manager, the
	// change-log pre-image snapshot, and simple binds. It deliberately
	// skips the chain: these are internal reads, not client operations.
	rawLookup := func(ctx context.Context, target dn.DN) (*entry.Entry, error) {
		return s.nexus.Lookup(ctx, target, nil)
	}

	s.referrals = referral.NewManager(rawLookup, cfg.Logger, cfg.Metrics)
	s.binder = session.NewBinder(rawLookup, cfg.Kerberos, cfg.PrincipalMapper)

	stamp := func(ctx context.Context, target dn.DN, mods []opctx.Modification) error {
		return s.nexus.Modify(ctx, target, mods)
	}

	stages := []NamedStage{
		{StageNormalization, &schemaStage{schema: cfg.Schema}},
		{StageAuthorization, &authzStage{adminDN: cfg.AdminDN}},
		{referral.StageName, referral.NewStage(s.referrals, cfg.Schema)},
	}
	stages = append(stages, cfg.ExtraStages...)
	stages = append(stages,
		NamedStage{StageOperational, &operationalStage{schema: cfg.Schema, stamp: stamp, now: cfg.Now}},
		NamedStage{StageChangelog, &changelogStage{
			log:     s.log,
			schema:  cfg.Schema,
			lookup:  rawLookup,
			enabled: &s.changelogOn,
			m:       cfg.Metrics,
			now:     cfg.Now,
		}},
	)
	for _, st := range stages {
		if err := s.chain.Append(st.Name, st.Stage); err != nil {
			return nil, err
		}
	}
	s.chain.Freeze()
	return s, nil
}

// Schema returns the schema the pipeline validates against.
func (s *Service) Schema() *schema.Schema { return s.schema }

// Referrals returns the referral manager, used by the response adapter and
// diagnostics.
func (s *Service) Referrals() *referral.Manager { return s.referrals }

// StageNames returns the chain's configured stage order.
func (s *Service) StageNames() []string { return s.chain.Names() }

// RegisterPartition adds a partition to the nexus and seeds the referral
// set from a subtree search under its suffix.
func (s *Service) RegisterPartition(ctx context.Context, p partition.Partition) error {
	if err := s.nexus.Register(p); err != nil {
		return err
	}
	searcher := func(ctx context.Context, base dn.DN, filter string) ([]*entry.Entry, error) {
		cur, err := p.Search(ctx, base, opctx.ScopeSubtree, filter, 0)
		if err != nil {
			if dirserrors.CodeOf(err) == dirserrors.NoSuchObject {
				// An empty partition has no suffix entry yet, and so no
				// referrals either.
				return nil, nil
			}
			return nil, err
		}
		defer func() { _ = cur.Close() }()
		var out []*entry.Entry
		for {
			ok, err := cur.Next()
			if err != nil {
				return nil, err
			}
			if !ok {
				return out, nil
			}
			e, err := cur.Get()
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
	}
	return s.referrals.Populate(ctx, p.Suffix(), searcher)
}

// NewHeader builds an operation header for target (raw DN text) under
// sess. The DN is syntax-checked here and normalized by the schema stage.
func (s *Service) NewHeader(ctx context.Context, sess *opctx.Session, kind opctx.Kind, target string) (opctx.Header, error) {
	parsed, err := dn.ParseRaw(target)
	if err != nil {
		return opctx.Header{}, err
	}
	if sess == nil {
		sess = s.binder.Anonymous()
	}
	return opctx.Header{Context: ctx, Kind: kind, Session: *sess, Target: parsed}, nil
}

// Bind establishes a session through the chain.
func (s *Service) Bind(ctx context.Context, op *opctx.BindContext) (*opctx.Session, error) {
	ctx, span := telemetry.StartOperationSpan(ctx, "bind", op.Target.String())
	defer span.End()
	return s.chain.Bind(ctx, op, s.binder.Bind)
}

// Unbind discards a session.
func (s *Service) Unbind(id string) { s.binder.Unbind(id) }

// AnonymousSession mints an unauthenticated session for embedded callers.
func (s *Service) AnonymousSession() *opctx.Session { return s.binder.Anonymous() }

// Lookup reads a single entry.
func (s *Service) Lookup(ctx context.Context, op *opctx.LookupContext) (*entry.Entry, error) {
	ctx, span := telemetry.StartOperationSpan(ctx, "lookup", op.Target.String())
	defer span.End()
	e, err := s.chain.Lookup(ctx, op, s.nexus.LookupTerminal)
	s.observe("lookup", err)
	return e, err
}

// Add creates an entry.
func (s *Service) Add(ctx context.Context, op *opctx.AddContext) error {
	ctx, span := telemetry.StartOperationSpan(ctx, "add", op.Target.String())
	defer span.End()
	err := s.chain.Add(ctx, op, s.nexus.AddTerminal)
	s.observe("add", err)
	return err
}

// Delete removes an entry.
func (s *Service) Delete(ctx context.Context, op *opctx.DeleteContext) error {
	ctx, span := telemetry.StartOperationSpan(ctx, "delete", op.Target.String())
	defer span.End()
	err := s.chain.Delete(ctx, op, s.nexus.DeleteTerminal)
	s.observe("delete", err)
	return err
}

// Modify changes an entry's attributes.
func (s *Service) Modify(ctx context.Context, op *opctx.ModifyContext) error {
	ctx, span := telemetry.StartOperationSpan(ctx, "modify", op.Target.String())
	defer span.End()
	err := s.chain.Modify(ctx, op, s.nexus.ModifyTerminal)
	s.observe("modify", err)
	return err
}

// ModifyDN renames and/or moves an entry.
func (s *Service) ModifyDN(ctx context.Context, op *opctx.ModifyDNContext) error {
	ctx, span := telemetry.StartOperationSpan(ctx, "modifyDN", op.Target.String())
	defer span.End()
	err := s.chain.ModifyDN(ctx, op, s.nexus.ModifyDNTerminal)
	s.observe("modifyDN", err)
	return err
}

// Search opens a cursor over the matching entries.
func (s *Service) Search(ctx context.Context, op *opctx.SearchContext) (cursor.Cursor, error) {
	ctx, span := telemetry.StartOperationSpan(ctx, "search", op.Target.String())
	defer span.End()
	cur, err := s.chain.Search(ctx, op, s.nexus.SearchTerminal)
	s.observe("search", err)
	return cur, err
}

// SearchMessages runs a search and adapts the cursor into protocol
// messages: zero or more SearchResultEntry/SearchResultReference followed
// by exactly one SearchResultDone.
func (s *Service) SearchMessages(ctx context.Context, op *opctx.SearchContext) []Message {
	var out []Message
	cur, err := s.Search(ctx, op)
	if err != nil {
		out = append(out, done(op, err))
		return out
	}
	Respond(op, cur, s.referrals, func(m Message) { out = append(out, m) })
	return out
}

// Compare tests one attribute value on an entry.
func (s *Service) Compare(ctx context.Context, op *opctx.CompareContext) (bool, error) {
	ctx, span := telemetry.StartOperationSpan(ctx, "compare", op.Target.String())
	defer span.End()
	ok, err := s.chain.Compare(ctx, op, s.nexus.CompareTerminal)
	s.observe("compare", err)
	return ok, err
}

func (s *Service) observe(op string, err error) {
	if err == nil {
		return
	}
	code := dirserrors.CodeOf(err)
	s.metrics.RecordOperationError(code.String())
	if code == dirserrors.Other {
		s.logger.Error("operation failed", "op", op, "error", err)
	}
}

// EnableChangelog switches reverse-op recording on or off.
func (s *Service) EnableChangelog(on bool) { s.changelogOn.Store(on) }

// CurrentRevision returns the change-log head, the value a caller saves
// before a tagged block of mutations.
func (s *Service) CurrentRevision() uint64 { return s.log.CurrentRevision() }

// Revert replays reverse-ops from the head down to toRevision+1. The
// replay re-enters the chain with every stage bypassed, so reverts are
// neither change-logged nor referral-checked: they restore raw state.
func (s *Service) Revert(ctx context.Context, toRevision uint64) error {
	ctx, span := telemetry.StartChangelogSpan(ctx, "revert", telemetry.RevertToRevision(toRevision))
	defer span.End()

	err := s.log.Revert(ctx, toRevision, s.applyReverse)
	if err == nil {
		s.metrics.SetChangelogRevision(toRevision)
	}
	return err
}

// applyReverse replays one logged reverse operation through the chain with
// BYPASS_ALL, then reconciles the referral set for the touched DNs.
func (s *Service) applyReverse(ctx context.Context, logEntry changelog.Entry) error {
	header := opctx.Header{
		Context: ctx,
		Session: opctx.Session{ID: "changelog-revert", DN: "cn=changelog", AuthMethod: "internal"},
		Bypass:  map[string]struct{}{opctx.BypassAll: {}},
	}
	rev := logEntry.Reverse
	target, err := dn.ParseNormalized(rev.DN)
	if err != nil {
		return err
	}
	header.Target = target

	switch rev.Kind {
	case changelog.Add:
		header.Kind = opctx.Add
		err = s.chain.Add(ctx, &opctx.AddContext{Header: header, Entry: rev.Entry}, s.nexus.AddTerminal)
	case changelog.Delete:
		header.Kind = opctx.Delete
		err = s.chain.Delete(ctx, &opctx.DeleteContext{Header: header}, s.nexus.DeleteTerminal)
	case changelog.Modify:
		header.Kind = opctx.Modify
		mods := make([]opctx.Modification, len(rev.Mods))
		for i, m := range rev.Mods {
			mods[i] = opctx.Modification{Op: m.Op, Type: m.Type, Values: m.Values}
		}
		err = s.chain.Modify(ctx, &opctx.ModifyContext{Header: header, Mods: mods}, s.nexus.ModifyTerminal)
	case changelog.Rename, changelog.Move, changelog.MoveAndRename:
		header.Kind = opctx.ModifyDN
		op := &opctx.ModifyDNContext{Header: header, NewRDN: rev.NewRDN, DeleteOldRDN: rev.DeleteOldRDN}
		if rev.NewParent != "" {
			parent, perr := dn.ParseNormalized(rev.NewParent)
			if perr != nil {
				return perr
			}
			op.NewSuperior = &parent
		}
		err = s.chain.ModifyDN(ctx, op, s.nexus.ModifyDNTerminal)
	default:
		return dirserrors.Newf(dirserrors.Unrevertable, "log entry %d has no reverse operation", logEntry.Revision)
	}
	if err != nil {
		return err
	}
	// The bypassed replay skipped the referral stage; reconcile directly.
	return s.referrals.Reconcile(ctx, target)
}

// Apply ingests an LDIF document through the chain with every stage except
// normalization bypassed: the idempotent test-harness entry point. Records
// that fail with entry-already-exists (add) or no-such-object (delete) are
// treated as already applied.
func (s *Service) Apply(ctx context.Context, doc string, sess *opctx.Session) error {
	records, err := ldif.Parse(strings.NewReader(doc))
	if err != nil {
		return err
	}
	if sess == nil {
		sess = &opctx.Session{ID: "ldif-ingest", DN: "cn=ldif", AuthMethod: "internal"}
	}

	bypass := make(map[string]struct{})
	for _, name := range s.chain.Names() {
		if name == StageNormalization {
			continue
		}
		bypass[name] = struct{}{}
	}

	for _, rec := range records {
		target, err := dn.ParseRaw(rec.DN)
		if err != nil {
			return err
		}
		header := opctx.Header{Context: ctx, Session: *sess, Target: target, Bypass: bypass}
		var touched []dn.DN

		switch rec.Change {
		case ldif.ChangeAdd:
			header.Kind = opctx.Add
			e := entry.New(rec.DN)
			for _, a := range rec.Attrs {
				e.Add(a.Type, a.Value)
			}
			addOp := &opctx.AddContext{Header: header, Entry: e}
			err = s.chain.Add(ctx, addOp, s.nexus.AddTerminal)
			if dirserrors.CodeOf(err) == dirserrors.EntryAlreadyExists {
				err = nil
			}
			touched = append(touched, addOp.Target)
		case ldif.ChangeDelete:
			header.Kind = opctx.Delete
			delOp := &opctx.DeleteContext{Header: header}
			err = s.chain.Delete(ctx, delOp, s.nexus.DeleteTerminal)
			if dirserrors.CodeOf(err) == dirserrors.NoSuchObject {
				err = nil
			}
			touched = append(touched, delOp.Target)
		case ldif.ChangeModify:
			header.Kind = opctx.Modify
			modOp := &opctx.ModifyContext{Header: header, Mods: rec.Mods}
			err = s.chain.Modify(ctx, modOp, s.nexus.ModifyTerminal)
			touched = append(touched, modOp.Target)
		case ldif.ChangeModRDN:
			header.Kind = opctx.ModifyDN
			op := &opctx.ModifyDNContext{Header: header, NewRDN: rec.NewRDN, DeleteOldRDN: rec.DeleteOldRDN}
			if rec.NewSuperior != "" {
				parent, perr := dn.Parse(rec.NewSuperior, s.schema.CanonicalName, s.schema.NormalizeValue)
				if perr != nil {
					return perr
				}
				op.NewSuperior = &parent
			}
			err = s.chain.ModifyDN(ctx, op, s.nexus.ModifyDNTerminal)
			if err == nil {
				touched = append(touched, op.Target)
				if moved, derr := renamedDN(op, s.schema); derr == nil {
					touched = append(touched, moved)
				}
			}
		}
		if err != nil {
			return err
		}
		// The bypassed chain skipped the referral stage; reconcile the
		// referral set for every DN this record touched.
		for _, d := range touched {
			if rerr := s.referrals.Reconcile(ctx, d); rerr != nil {
				return rerr
			}
		}
	}
	return nil
}
