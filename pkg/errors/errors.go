package errors

import (
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
	grpccodes "google.golang.org/grpc/codes"
)

// Code is the type representing a namespace error code.
type Code[MT any] struct {
	Code     uint16
	Name     string
	GrpcCode grpccodes.Code
}

// New creates a new error with the given code and the message
func (c Code[MT]) New(msg string, args ...any) TypedError[MT] {
	return &ErrorImpl[MT]{
		code:  c,
		cause: fmt.Errorf(msg, args...),
	}
}

// Wrap creates a new Error with the given code and the cause error
func (c Code[MT]) Wrap(cause error) TypedError[MT] {
	return &ErrorImpl[MT]{
		code:  c,
		cause: cause,
	}
}

func (c Code[MT]) String() string {
	return fmt.Sprintf("%s (%d)", c.Name, c.Code)
}

type Error interface {
	error
	Log() *log.Entry
	Code() uint16
	CodeName() string
	GrpcCode() grpccodes.Code
	Metadata() map[string]string
}

type TypedError[MT any] interface {
	Error
	WithMetadata(MT) TypedError[MT]
}

// ErrorImpl is the default concrete implementation of TypedError.
type ErrorImpl[MT any] struct {
	code     Code[MT]
	cause    error
	metadata MT
}

func (e *ErrorImpl[MT]) Log() *log.Entry {
	return log.WithField("name", e.code.Name).
		WithField("code", e.code.Code).
		WithField("metadata", e.metadata)
}

func (e *ErrorImpl[MT]) Metadata() map[string]string {
	metadata := make(map[string]string)
	buf, err := json.Marshal(e.metadata)
	if err == nil {
		var genericMap map[string]any
		if err := json.Unmarshal(buf, &genericMap); err == nil {
			for k, v := range genericMap {
				vStr := ""
				if v != nil {
					vStr = fmt.Sprintf("%v", v)
				}
				metadata[k] = vStr
			}
		}
	}
	return metadata
}

func (e *ErrorImpl[MT]) GrpcCode() grpccodes.Code {
	return e.code.GrpcCode
}

func (e *ErrorImpl[MT]) Code() uint16 {
	return e.code.Code
}

func (e *ErrorImpl[MT]) CodeName() string {
	return e.code.Name
}

func (e *ErrorImpl[MT]) Error() string {
	return fmt.Sprintf("%s: %s", e.code.String(), e.cause.Error())
}

func (e *ErrorImpl[MT]) WithMetadata(metadata MT) TypedError[MT] {
	e.metadata = metadata
	return e
}

// FailureKind mirrors domain.FailureKind but lives in this package so the
// orchestrator and the relay-facing failure event can both import it
// without a dependency back on the core domain package.
type FailureKind string

const (
	FailureKindValidation         FailureKind = "validation"
	FailureKindBackendUnavailable FailureKind = "backend_unavailable"
	FailureKindSignatureMissing   FailureKind = "signature_missing"
	FailureKindSignatureInvalid   FailureKind = "signature_invalid"
	FailureKindConflict           FailureKind = "conflict"
	FailureKindTimeout            FailureKind = "timeout"
	FailureKindCancelled          FailureKind = "cancelled"
	FailureKindExpired            FailureKind = "expired"
	FailureKindInternal           FailureKind = "internal"
)

type AuthorMetadata struct {
	AuthorPubkey string `json:"author_pubkey"`
}

type BalanceMetadata struct {
	UserPubkey string `json:"user_pubkey"`
	AssetID    string `json:"asset_id"`
	Needed     uint64 `json:"needed"`
	Spendable  uint64 `json:"spendable"`
}

type VtxoConflictMetadata struct {
	VtxoOutpoints []string `json:"vtxo_outpoints"`
}

type RecipientMetadata struct {
	Recipient string `json:"recipient"`
}

type ValidationMetadata struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

type BackendMetadata struct {
	Adapter string `json:"adapter"`
	Op      string `json:"op"`
}

type StepTimeoutMetadata struct {
	SessionID string `json:"session_id"`
	Step      int    `json:"step"`
}

type FeeOutputMetadata struct {
	Expected uint64 `json:"expected"`
	Actual   uint64 `json:"actual"`
}

type SignatureMetadata struct {
	ChallengeID string `json:"challenge_id"`
	PayloadRef  string `json:"payload_ref"`
}

type SessionRefMetadata struct {
	SessionID string `json:"session_id"`
}

// Error-code set from the external-interfaces contract. Numeric codes are
// stable across releases and travel verbatim in the "failure" relay event.
var (
	InvalidAuthorSignature = Code[AuthorMetadata]{1001, "INVALID_AUTHOR_SIGNATURE", grpccodes.Unauthenticated}
	InsufficientBalance    = Code[BalanceMetadata]{2001, "INSUFFICIENT_BALANCE", grpccodes.FailedPrecondition}
	InputAlreadySpent      = Code[VtxoConflictMetadata]{2002, "INPUT_ALREADY_SPENT", grpccodes.AlreadyExists}
	RecipientInvalid       = Code[RecipientMetadata]{2003, "RECIPIENT_INVALID", grpccodes.InvalidArgument}
	ValidationFailed       = Code[ValidationMetadata]{3001, "VALIDATION_FAILED", grpccodes.InvalidArgument}
	BackendUnavailable     = Code[BackendMetadata]{3002, "BACKEND_UNAVAILABLE", grpccodes.Unavailable}
	StepTimeout            = Code[StepTimeoutMetadata]{3003, "STEP_TIMEOUT", grpccodes.DeadlineExceeded}
	FeeOutputInvalid       = Code[FeeOutputMetadata]{4001, "FEE_OUTPUT_INVALID", grpccodes.InvalidArgument}
	SignatureMissing       = Code[SignatureMetadata]{4002, "SIGNATURE_MISSING", grpccodes.FailedPrecondition}
	SignatureInvalid       = Code[SignatureMetadata]{4003, "SIGNATURE_INVALID", grpccodes.InvalidArgument}
	Cancelled              = Code[SessionRefMetadata]{5001, "CANCELLED", grpccodes.Canceled}
	Expired                = Code[SessionRefMetadata]{5002, "EXPIRED", grpccodes.DeadlineExceeded}

	InternalError = Code[map[string]any]{0, "INTERNAL_ERROR", grpccodes.Internal}
)

// KindForCode maps a stable numeric code to its FailureKind; codes outside
// the set above map to FailureKindInternal.
func KindForCode(code uint16) FailureKind {
	switch code {
	case InvalidAuthorSignature.Code, RecipientInvalid.Code, ValidationFailed.Code, FeeOutputInvalid.Code:
		return FailureKindValidation
	case InsufficientBalance.Code:
		return FailureKindValidation
	case InputAlreadySpent.Code:
		return FailureKindConflict
	case BackendUnavailable.Code:
		return FailureKindBackendUnavailable
	case StepTimeout.Code:
		return FailureKindTimeout
	case SignatureMissing.Code:
		return FailureKindSignatureMissing
	case SignatureInvalid.Code:
		return FailureKindSignatureInvalid
	case Cancelled.Code:
		return FailureKindCancelled
	case Expired.Code:
		return FailureKindExpired
	default:
		return FailureKindInternal
	}
}
