package directory

import (
	"errors"

	"dirsrv/pkg/cursor"
	"dirsrv/pkg/dirserrors"
	"dirsrv/pkg/entry"
	"dirsrv/pkg/opctx"
	"dirsrv/pkg/referral"
)

// ResultCode is the RFC 4511 numeric result code a response message
// carries. Only the codes the core can actually produce are enumerated.
type ResultCode int

const (
	ResultSuccess                  ResultCode = 0
	ResultReferral                 ResultCode = 10
	ResultInvalidAttributeSyntax   ResultCode = 21
	ResultNoSuchObject             ResultCode = 32
	ResultInvalidDNSyntax          ResultCode = 34
	ResultInsufficientAccessRights ResultCode = 50
	ResultUnwillingToPerform       ResultCode = 53
	ResultEntryAlreadyExists       ResultCode = 68
	ResultAffectsMultipleDSAs      ResultCode = 71
	ResultOther                    ResultCode = 80
)

// ResultCodeOf maps a pipeline error to its wire result code. A nil error
// maps to success. Conversions that would widen a specific code to "other"
// happen only here, at the protocol boundary.
func ResultCodeOf(err error) ResultCode {
	if err == nil {
		return ResultSuccess
	}
	switch dirserrors.CodeOf(err) {
	case dirserrors.NoSuchObject:
		return ResultNoSuchObject
	case dirserrors.EntryAlreadyExists:
		return ResultEntryAlreadyExists
	case dirserrors.Referral:
		return ResultReferral
	case dirserrors.InvalidAttributeSyntax:
		return ResultInvalidAttributeSyntax
	case dirserrors.NamingViolation:
		return ResultInvalidDNSyntax
	case dirserrors.InsufficientAccessRights:
		return ResultInsufficientAccessRights
	case dirserrors.UnwillingToPerform:
		return ResultUnwillingToPerform
	case dirserrors.AffectsMultipleDSAs:
		return ResultAffectsMultipleDSAs
	default:
		return ResultOther
	}
}

// Message is a search response protocol message: SearchResultEntry,
// SearchResultReference, or SearchResultDone.
type Message interface{ message() }

// SearchResultEntry carries one matching entry back to the client.
type SearchResultEntry struct {
	MessageID  int
	DN         string
	Attributes []entry.Attribute
}

// SearchResultReference is a continuation reference for a referral entry
// encountered inside the searched subtree.
type SearchResultReference struct {
	MessageID int
	URLs      []string
}

// SearchResultDone terminates the response sequence, successful or not.
type SearchResultDone struct {
	MessageID    int
	ResultCode   ResultCode
	MatchedDN    string
	Diagnostic   string
	ReferralURLs []string
}

func (SearchResultEntry) message()     {}
func (SearchResultReference) message() {}
func (SearchResultDone) message()      {}

// Respond drains cur into protocol messages via emit: one
// SearchResultEntry per ordinary entry, one SearchResultReference per
// referral entry in the result set (unless ManageDsaIT), and exactly one
// terminal SearchResultDone. The cursor is closed before Respond returns.
func Respond(op *opctx.SearchContext, cur cursor.Cursor, refs *referral.Manager, emit func(Message)) {
	defer func() { _ = cur.Close() }()

	for {
		ok, err := cur.Next()
		if err != nil {
			emit(done(op, err))
			return
		}
		if !ok {
			break
		}
		e, err := cur.Get()
		if err != nil {
			emit(done(op, err))
			return
		}
		if urls := refs.ContinuationURLs(e, op); urls != nil {
			emit(SearchResultReference{MessageID: op.MessageID, URLs: urls})
			continue
		}
		emit(SearchResultEntry{MessageID: op.MessageID, DN: e.DN, Attributes: e.Attributes()})
	}
	emit(done(op, nil))
}

func done(op *opctx.SearchContext, err error) SearchResultDone {
	d := SearchResultDone{MessageID: op.MessageID, ResultCode: ResultCodeOf(err)}
	if err == nil {
		return d
	}
	var e *dirserrors.Error
	if errors.As(err, &e) {
		d.MatchedDN = e.MatchedDN
		d.Diagnostic = e.Message
		d.ReferralURLs = e.URLs
	} else {
		d.Diagnostic = err.Error()
	}
	return d
}
