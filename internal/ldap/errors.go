package ldap

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Sentinel errors returned by the 389-DS managers.
var (
	// ErrNoSuchEntry reports that a lookup matched no entry.
	ErrNoSuchEntry = errors.New("no such entry")

	// ErrMalformedRUV reports an RUV entry that was found but could not be parsed.
	ErrMalformedRUV = errors.New("malformed replica update vector")

	// ErrMalformedCSN reports a change sequence number that could not be parsed.
	ErrMalformedCSN = errors.New("malformed change sequence number")

	// ErrInvalidSchedule reports a replication schedule that is not "HHMM-HHMM D...".
	ErrInvalidSchedule = errors.New("invalid replication schedule")

	// ErrNoReplica reports that no replica is configured for a suffix.
	ErrNoReplica = errors.New("no replica configured for suffix")

	// ErrReplicaBusy reports that total initialization kept failing with "replica busy".
	ErrReplicaBusy = errors.New("consumer replica busy")

	// ErrInitFailed reports a terminal total initialization failure.
	ErrInitFailed = errors.New("total update failed")

	// ErrInvalidWaitOptions reports poll or retry settings the init poller cannot use.
	ErrInvalidWaitOptions = errors.New("invalid init wait options")

	// ErrUnrecognizedInitStatus reports a last-init status string we cannot classify.
	ErrUnrecognizedInitStatus = errors.New("unrecognized init status")
)

// ErrorCategory represents different categories of LDAP errors.
type ErrorCategory string

const (
	ErrorCategoryConnection     ErrorCategory = "connection"
	ErrorCategoryAuthentication ErrorCategory = "authentication"
	ErrorCategoryPermission     ErrorCategory = "permission"
	ErrorCategoryNotFound       ErrorCategory = "not_found"
	ErrorCategoryConflict       ErrorCategory = "conflict"
	ErrorCategoryValidation     ErrorCategory = "validation"
	ErrorCategoryServer         ErrorCategory = "server"
	ErrorCategoryReferral       ErrorCategory = "referral"
	ErrorCategoryUnknown        ErrorCategory = "unknown"
)

// LDAPError is a failed directory operation with its result decoded.
type LDAPError struct {
	Operation string
	Category  ErrorCategory
	LDAPCode  uint16
	Message   string
	ServerMsg string // diagnostic message returned by the server
	DN        string
	Retryable bool
	Cause     error
}

func (e *LDAPError) Error() string {
	var b strings.Builder
	b.WriteString("LDAP " + e.Operation + " failed")
	if e.LDAPCode > 0 {
		fmt.Fprintf(&b, " (code %d)", e.LDAPCode)
	}
	if e.Message != "" {
		b.WriteString(" - " + e.Message)
	}
	if e.ServerMsg != "" && e.ServerMsg != e.Message {
		b.WriteString(" - server: " + e.ServerMsg)
	}
	if e.DN != "" {
		b.WriteString(" - DN: " + e.DN)
	}
	return b.String()
}

func (e *LDAPError) IsRetryable() bool { return e.Retryable }

func (e *LDAPError) Unwrap() error { return e.Cause }

// NewLDAPError decodes err into an LDAPError for operation. It returns nil
// for a nil err.
func NewLDAPError(operation string, err error) *LDAPError {
	if err == nil {
		return nil
	}

	class, code, serverMsg := classify(err)
	if class.message == "" {
		class.message = err.Error()
	}
	return &LDAPError{
		Operation: operation,
		Category:  class.category,
		LDAPCode:  code,
		Message:   class.message,
		ServerMsg: serverMsg,
		Retryable: class.retryable,
		Cause:     err,
	}
}

// NewNoSuchEntryError reports that dn does not exist. It matches ErrNoSuchEntry.
func NewNoSuchEntryError(operation, dn string) *LDAPError {
	return &LDAPError{
		Operation: operation,
		Category:  ErrorCategoryNotFound,
		LDAPCode:  ldap.LDAPResultNoSuchObject,
		Message:   ErrNoSuchEntry.Error(),
		DN:        dn,
		Cause:     ErrNoSuchEntry,
	}
}

// resultClass describes how a directory result code is reported and handled.
type resultClass struct {
	category  ErrorCategory
	retryable bool
	message   string
}

// resultClasses covers the result codes 389-DS returns to administrative
// operations. Codes missing here are reported under their RFC 4511 name.
var resultClasses = map[uint16]resultClass{
	ldap.LDAPResultInvalidCredentials:          {category: ErrorCategoryAuthentication, message: "Invalid credentials"},
	ldap.LDAPResultInappropriateAuthentication: {category: ErrorCategoryAuthentication, message: "Inappropriate authentication method"},
	ldap.LDAPResultStrongAuthRequired:          {category: ErrorCategoryAuthentication, message: "Strong authentication required"},
	ldap.LDAPResultConfidentialityRequired:     {category: ErrorCategoryAuthentication, message: "Confidentiality required (use LDAPS or StartTLS)"},

	ldap.LDAPResultInsufficientAccessRights: {category: ErrorCategoryPermission, message: "Insufficient access rights"},
	ldap.LDAPResultUnwillingToPerform:       {category: ErrorCategoryPermission, message: "Server is unwilling to perform the operation (read-only backend or replica?)"},

	ldap.LDAPResultReferral: {category: ErrorCategoryReferral, message: "Referral returned (write sent to a read-only replica?)"},

	ldap.LDAPResultNoSuchObject:    {category: ErrorCategoryNotFound, message: "Requested object does not exist"},
	ldap.LDAPResultNoSuchAttribute: {category: ErrorCategoryNotFound, message: "Requested attribute does not exist"},

	ldap.LDAPResultEntryAlreadyExists:     {category: ErrorCategoryConflict, message: "Entry already exists"},
	ldap.LDAPResultAttributeOrValueExists: {category: ErrorCategoryConflict, message: "Attribute or value already exists"},
	ldap.LDAPResultNotAllowedOnNonLeaf:    {category: ErrorCategoryConflict, message: "Operation not allowed on non-leaf entry"},

	ldap.LDAPResultInvalidAttributeSyntax: {category: ErrorCategoryValidation, message: "Invalid attribute syntax"},
	ldap.LDAPResultConstraintViolation:    {category: ErrorCategoryValidation, message: "Constraint violation"},
	ldap.LDAPResultInvalidDNSyntax:        {category: ErrorCategoryValidation, message: "Invalid DN syntax"},
	ldap.LDAPResultNamingViolation:        {category: ErrorCategoryValidation, message: "Naming violation"},
	ldap.LDAPResultObjectClassViolation:   {category: ErrorCategoryValidation, message: "Object class violation"},
	ldap.LDAPResultUndefinedAttributeType: {category: ErrorCategoryValidation, message: "Attribute type is not defined"},
	ldap.LDAPResultFilterError:            {category: ErrorCategoryValidation, message: "Invalid search filter"},

	ldap.LDAPResultBusy:               {category: ErrorCategoryServer, retryable: true, message: "Server is busy"},
	ldap.LDAPResultUnavailable:        {category: ErrorCategoryServer, retryable: true, message: "Server is unavailable"},
	ldap.LDAPResultServerDown:         {category: ErrorCategoryServer, retryable: true, message: "Server is down"},
	ldap.LDAPResultTimeLimitExceeded:  {category: ErrorCategoryServer, retryable: true, message: "Time limit exceeded"},
	ldap.LDAPResultAdminLimitExceeded: {category: ErrorCategoryServer, message: "Administrative limit exceeded"},
	ldap.LDAPResultOperationsError:    {category: ErrorCategoryServer, message: "Operations error (check the server errors log)"},

	ldap.LDAPResultConnectError:  {category: ErrorCategoryConnection, retryable: true, message: "Connection error"},
	ldap.LDAPResultProtocolError: {category: ErrorCategoryConnection, message: "Protocol error"},
}

// classifyCode describes a result code, naming unlisted codes after RFC 4511.
func classifyCode(code uint16) resultClass {
	class, ok := resultClasses[code]
	if !ok {
		class.category = ErrorCategoryUnknown
		class.message = ldap.LDAPResultCodeMap[code]
		if class.message == "" {
			class.message = fmt.Sprintf("LDAP error (code %d)", code)
		}
	}
	return class
}

// textClasses classify errors that carry no result code, such as dial and
// Kerberos failures, by their text. First match wins.
var textClasses = []struct {
	substr string
	resultClass
}{
	{"temporary failure", resultClass{category: ErrorCategoryConnection, retryable: true}},
	{"server temporarily unavailable", resultClass{category: ErrorCategoryConnection, retryable: true}},
	{"connection", resultClass{category: ErrorCategoryConnection, retryable: true}},
	{"network", resultClass{category: ErrorCategoryConnection, retryable: true}},
	{"timeout", resultClass{category: ErrorCategoryConnection, retryable: true}},
	{"broken pipe", resultClass{category: ErrorCategoryConnection, retryable: true}},
	{"authentication", resultClass{category: ErrorCategoryAuthentication}},
	{"credentials", resultClass{category: ErrorCategoryAuthentication}},
	{"password", resultClass{category: ErrorCategoryAuthentication}},
	{"permission", resultClass{category: ErrorCategoryPermission}},
	{"access", resultClass{category: ErrorCategoryPermission}},
	{"denied", resultClass{category: ErrorCategoryPermission}},
}

func classifyText(err error) resultClass {
	text := strings.ToLower(err.Error())
	for _, tc := range textClasses {
		if strings.Contains(text, tc.substr) {
			return tc.resultClass
		}
	}
	return resultClass{category: ErrorCategoryUnknown}
}

// classify decodes err. The message is empty for errors classified by
// sentinel or text.
func classify(err error) (class resultClass, code uint16, serverMsg string) {
	var ldapErr *LDAPError
	var resultErr *ldap.Error
	switch {
	case errors.As(err, &ldapErr):
		return resultClass{category: ldapErr.Category, retryable: ldapErr.Retryable, message: ldapErr.Message}, ldapErr.LDAPCode, ldapErr.ServerMsg
	case errors.As(err, &resultErr):
		if resultErr.Err != nil {
			serverMsg = resultErr.Err.Error()
		}
		return classifyCode(resultErr.ResultCode), resultErr.ResultCode, serverMsg
	case errors.Is(err, ErrNoSuchEntry), errors.Is(err, ErrNoReplica):
		return resultClass{category: ErrorCategoryNotFound}, 0, ""
	case errors.Is(err, ErrMalformedRUV), errors.Is(err, ErrMalformedCSN), errors.Is(err, ErrInvalidSchedule), errors.Is(err, ErrInvalidWaitOptions):
		return resultClass{category: ErrorCategoryValidation}, 0, ""
	default:
		return classifyText(err), 0, ""
	}
}

// WrapError attaches operation to err. An *LDAPError is returned as is,
// taking operation only when it has none.
func WrapError(operation string, err error) error {
	if ldapErr, ok := err.(*LDAPError); ok && ldapErr != nil {
		if ldapErr.Operation == "" {
			ldapErr.Operation = operation
		}
		return ldapErr
	}
	if err == nil {
		return nil
	}
	return NewLDAPError(operation, err)
}

// WrapErrorWithDN is WrapError recording dn unless a DN is already set.
func WrapErrorWithDN(operation, dn string, err error) error {
	wrapped := WrapError(operation, err)
	if ldapErr, ok := wrapped.(*LDAPError); ok && ldapErr.DN == "" {
		ldapErr.DN = dn
	}
	return wrapped
}

// IsRetryableError reports whether retrying the operation behind err can succeed.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}
	return classifyText(err).retryable
}

// GetErrorCategory returns the category of err, ErrorCategoryUnknown for nil.
func GetErrorCategory(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryUnknown
	}
	class, _, _ := classify(err)
	return class.category
}

func IsNotFoundError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryNotFound
}

func IsConflictError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryConflict
}

func IsAuthenticationError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryAuthentication
}

func IsPermissionError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryPermission
}

func hasResultCode(err error, code uint16) bool {
	if err == nil {
		return false
	}
	_, got, _ := classify(err)
	return got == code
}

// IsAlreadyExistsError reports an entryAlreadyExists result.
func IsAlreadyExistsError(err error) bool {
	return hasResultCode(err, ldap.LDAPResultEntryAlreadyExists)
}

// IsNoSuchObjectError reports a noSuchObject result.
func IsNoSuchObjectError(err error) bool {
	return hasResultCode(err, ldap.LDAPResultNoSuchObject)
}
