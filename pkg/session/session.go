// Package session implements bind identity establishment: anonymous,
// simple (DN + password), and SASL/GSSAPI binds, plus the session registry
// the wire adapters consult per connection.
package session

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"dirsrv/pkg/dirserrors"
	"dirsrv/pkg/dn"
	"dirsrv/pkg/entry"
	"dirsrv/pkg/opctx"
)

// EntryLookup reads one entry by normalized DN, bypassing the interceptor
// chain; the directory service supplies the nexus-backed implementation.
type EntryLookup func(ctx context.Context, target dn.DN) (*entry.Entry, error)

// Binder is the chain terminal for bind operations: it authenticates the
// credentials in a BindContext and mints the resulting session.
type Binder struct {
	lookup   EntryLookup
	kerberos *KerberosProvider // nil when GSSAPI is not configured
	mapper   *PrincipalMapper

	mu       sync.RWMutex
	sessions map[string]*opctx.Session
}

// NewBinder creates a binder. kerberos and mapper may be nil; GSSAPI binds
// then fail with UnwillingToPerform.
func NewBinder(lookup EntryLookup, kerberos *KerberosProvider, mapper *PrincipalMapper) *Binder {
	return &Binder{
		lookup:   lookup,
		kerberos: kerberos,
		mapper:   mapper,
		sessions: make(map[string]*opctx.Session),
	}
}

// Bind authenticates op's credentials. It is passed to the interceptor
// chain as the bind terminal, so every bind still traverses the configured
// stages. The referral stage does not check bind DNs.
func (b *Binder) Bind(ctx context.Context, op *opctx.BindContext) (*opctx.Session, error) {
	var sess *opctx.Session
	var err error
	switch op.Mechanism {
	case "", "simple":
		sess, err = b.simpleBind(ctx, op)
	case "GSSAPI":
		sess, err = b.gssapiBind(ctx, op)
	default:
		return nil, dirserrors.Newf(dirserrors.UnwillingToPerform, "unsupported SASL mechanism %q", op.Mechanism)
	}
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.sessions[sess.ID] = sess
	b.mu.Unlock()
	return sess, nil
}

func (b *Binder) simpleBind(ctx context.Context, op *opctx.BindContext) (*opctx.Session, error) {
	if op.Target.Empty() && len(op.Credentials) == 0 {
		return b.newSession("", "anonymous"), nil
	}
	if op.Target.Empty() || len(op.Credentials) == 0 {
		// RFC 4513 prohibits unauthenticated binds carrying only one of
		// DN/password.
		return nil, dirserrors.New(dirserrors.InsufficientAccessRights, "unauthenticated bind rejected")
	}

	e, err := b.lookup(ctx, op.Target)
	if err != nil {
		if dirserrors.CodeOf(err) == dirserrors.NoSuchObject {
			return nil, dirserrors.New(dirserrors.InsufficientAccessRights, "invalid credentials")
		}
		return nil, err
	}
	if err := VerifyPassword(e, op.Credentials); err != nil {
		return nil, err
	}
	return b.newSession(op.Target.Normalized(), "simple"), nil
}

func (b *Binder) gssapiBind(ctx context.Context, op *opctx.BindContext) (*opctx.Session, error) {
	if b.kerberos == nil || b.mapper == nil {
		return nil, dirserrors.New(dirserrors.UnwillingToPerform, "GSSAPI bind is not configured")
	}
	principal, err := b.kerberos.VerifyToken(op.Credentials)
	if err != nil {
		return nil, err
	}
	bindDN, err := b.mapper.Map(principal)
	if err != nil {
		return nil, err
	}
	sess := b.newSession(bindDN, "GSSAPI")
	sess.Environment["krb5Principal"] = principal
	return sess, nil
}

func (b *Binder) newSession(bindDN, method string) *opctx.Session {
	return &opctx.Session{
		ID:          uuid.NewString(),
		DN:          bindDN,
		AuthMethod:  method,
		Environment: make(map[string]string),
	}
}

// Get returns an active session by ID.
func (b *Binder) Get(id string) (*opctx.Session, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sessions[id]
	return s, ok
}

// Unbind forgets a session; subsequent operations on it are anonymous.
func (b *Binder) Unbind(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, id)
}

// Anonymous mints an unauthenticated session, used by embedded callers and
// the LDIF test harness.
func (b *Binder) Anonymous() *opctx.Session {
	return b.newSession("", "anonymous")
}
