package directory

import (
	"context"

	"dirsrv/pkg/dirserrors"
	"dirsrv/pkg/interceptor"
	"dirsrv/pkg/opctx"
)

// StageAuthorization is the authorization stage's registered name.
const StageAuthorization = "authorization"

// authzStage is the access-control hook. Policy evaluation is deliberately
// minimal: reads are open, writes require an authenticated session, and the
// configured admin DN may do anything. Sites needing a full ACI model
// replace this one stage; the chain contract stays the same.
type authzStage struct {
	interceptor.Passthrough
	adminDN string // normalized, may be empty
}

func (s *authzStage) checkWrite(h opctx.Header) error {
	if h.Session.DN == "" {
		return dirserrors.New(dirserrors.InsufficientAccessRights, "anonymous sessions cannot modify the directory")
	}
	// The admin entry itself is only writable by the admin session.
	if s.adminDN != "" && h.Target.Normalized() == s.adminDN && h.Session.DN != s.adminDN {
		return dirserrors.New(dirserrors.InsufficientAccessRights, "only the admin session may modify the admin entry")
	}
	return nil
}

func (s *authzStage) Add(ctx context.Context, op *opctx.AddContext, next interceptor.AddFunc) error {
	if err := s.checkWrite(op.Header); err != nil {
		return err
	}
	return next(ctx, op)
}

func (s *authzStage) Delete(ctx context.Context, op *opctx.DeleteContext, next interceptor.DeleteFunc) error {
	if err := s.checkWrite(op.Header); err != nil {
		return err
	}
	return next(ctx, op)
}

func (s *authzStage) Modify(ctx context.Context, op *opctx.ModifyContext, next interceptor.ModifyFunc) error {
	if err := s.checkWrite(op.Header); err != nil {
		return err
	}
	return next(ctx, op)
}

func (s *authzStage) ModifyDN(ctx context.Context, op *opctx.ModifyDNContext, next interceptor.ModifyDNFunc) error {
	if err := s.checkWrite(op.Header); err != nil {
		return err
	}
	return next(ctx, op)
}
