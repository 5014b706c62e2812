package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"sync"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于告警和审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 为错误码提供默认行为。Hint 是面向调用方的修复建议。
type Attributes struct {
	Message    string
	Hint       string
	Severity   Severity
	Retryable  bool
	Alert      bool
	HTTPStatus int
}

const (
	CodeUnknown                Code = "UNKNOWN"
	CodeInputInvalid           Code = "INPUT_INVALID"
	CodeAnalysisUnavailable    Code = "ANALYSIS_UNAVAILABLE"
	CodePayloadTooLarge        Code = "PAYLOAD_TOO_LARGE"
	CodeNoWalletAvailable      Code = "NO_WALLET_AVAILABLE"
	CodeUserRejected           Code = "USER_REJECTED"
	CodeChainNotRegistered     Code = "CHAIN_NOT_REGISTERED"
	CodeSubmissionRejected     Code = "SUBMISSION_REJECTED"
	CodeNetworkMismatch        Code = "NETWORK_MISMATCH"
	CodeRegistryUnreachable    Code = "REGISTRY_UNREACHABLE"
	CodeInvalidStateTransition Code = "INVALID_STATE_TRANSITION"
	CodeNotFound               Code = "NOT_FOUND"
	CodeStorageFailure         Code = "STORAGE_FAILURE"
	CodeQueueFailure           Code = "QUEUE_FAILURE"
	CodeInitializationFailure  Code = "INITIALIZATION_FAILURE"
	CodeTimeout                Code = "TIMEOUT"
)

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown: {
			Message:    "unknown error",
			Hint:       "retry later; contact the operator if the problem persists",
			Severity:   SeverityCritical,
			Alert:      true,
			HTTPStatus: http.StatusInternalServerError,
		},
		CodeInputInvalid: {
			Message:    "input invalid",
			Hint:       "check the submitted content or request fields and resubmit",
			Severity:   SeverityInfo,
			HTTPStatus: http.StatusBadRequest,
		},
		CodeAnalysisUnavailable: {
			Message:    "analysis unavailable",
			Hint:       "the analyzer could not process this content; retry or submit a supported item",
			Severity:   SeverityWarning,
			Alert:      true,
			HTTPStatus: http.StatusInternalServerError,
		},
		CodePayloadTooLarge: {
			Message:    "payload too large",
			Hint:       "reduce the content size below the configured ceiling",
			Severity:   SeverityInfo,
			HTTPStatus: http.StatusRequestEntityTooLarge,
		},
		CodeNoWalletAvailable: {
			Message:    "no wallet available",
			Hint:       "install or configure a signing provider and connect again",
			Severity:   SeverityInfo,
			HTTPStatus: http.StatusInternalServerError,
		},
		CodeUserRejected: {
			Message:    "user rejected the request",
			Hint:       "approve the wallet permission prompt to continue",
			Severity:   SeverityInfo,
			HTTPStatus: http.StatusInternalServerError,
		},
		CodeChainNotRegistered: {
			Message:    "chain not registered in wallet",
			Hint:       "add the target network to the wallet before switching",
			Severity:   SeverityInfo,
			HTTPStatus: http.StatusInternalServerError,
		},
		CodeSubmissionRejected: {
			Message:    "submission rejected by signer",
			Hint:       "approve the signature request to publish the proof",
			Severity:   SeverityInfo,
			HTTPStatus: http.StatusInternalServerError,
		},
		CodeNetworkMismatch: {
			Message:    "wallet network does not match registry network",
			Hint:       "switch the wallet to the registry chain and publish again",
			Severity:   SeverityWarning,
			HTTPStatus: http.StatusInternalServerError,
		},
		CodeRegistryUnreachable: {
			Message:    "registry unreachable",
			Hint:       "the proof registry did not respond; retry later",
			Severity:   SeverityCritical,
			Retryable:  true,
			Alert:      true,
			HTTPStatus: http.StatusInternalServerError,
		},
		CodeInvalidStateTransition: {
			Message:    "invalid state transition",
			Hint:       "wait for the current step to finish, or submit new content to start over",
			Severity:   SeverityWarning,
			HTTPStatus: http.StatusConflict,
		},
		CodeNotFound: {
			Message:    "resource not found",
			Hint:       "check the identifier",
			Severity:   SeverityInfo,
			HTTPStatus: http.StatusNotFound,
		},
		CodeStorageFailure: {
			Message:    "storage failure",
			Hint:       "retry later",
			Severity:   SeverityCritical,
			Retryable:  true,
			Alert:      true,
			HTTPStatus: http.StatusInternalServerError,
		},
		CodeQueueFailure: {
			Message:    "queue failure",
			Hint:       "retry later",
			Severity:   SeverityCritical,
			Retryable:  true,
			Alert:      true,
			HTTPStatus: http.StatusInternalServerError,
		},
		CodeInitializationFailure: {
			Message:    "service not initialized",
			Hint:       "the service is misconfigured; contact the operator",
			Severity:   SeverityWarning,
			Alert:      true,
			HTTPStatus: http.StatusServiceUnavailable,
		},
		CodeTimeout: {
			Message:    "operation timed out",
			Hint:       "retry later",
			Severity:   SeverityWarning,
			Retryable:  true,
			Alert:      true,
			HTTPStatus: http.StatusGatewayTimeout,
		},
	}
)

// Register 允许业务模块在初始化阶段注册新的错误码描述。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是系统内统一的错误类型。
type Error struct {
	code      Code
	message   string
	cause     error
	metadata  map[string]string
	retryable *bool
	severity  *Severity
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithStage 记录出错的流程阶段。
func WithStage(stage string) Option {
	return WithMetadata("stage", stage)
}

// WithRetryable 指定错误是否可重试。
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithSeverity 覆盖默认严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) {
		e.severity = &sev
	}
}

// New 创建一个新的错误实例。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	prefix := fmt.Sprintf("[%s]", e.code)
	if stage, ok := e.metadata["stage"]; ok {
		prefix = fmt.Sprintf("[%s@%s]", e.code, stage)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s %s", prefix, e.message)
}

// Unwrap 实现 errors.Unwrap。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 允许通过 errors.Is 判断是否相同错误码。
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回错误信息。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// Retryable 判断是否可重试。
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	if e.retryable != nil {
		return *e.retryable
	}
	return AttributesOf(e.code).Retryable
}

// Severity 返回错误严重程度。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	if e.severity != nil {
		return *e.severity
	}
	return AttributesOf(e.code).Severity
}

// From 尝试从 error 中解析统一错误类型。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// HasCode 判断错误链中是否存在指定错误码。
func HasCode(err error, code Code) bool {
	return stdErrors.Is(err, New(code, ""))
}

// RetryableError 判断任意 error 是否可重试。
func RetryableError(err error) bool {
	if e, ok := From(err); ok {
		return e.Retryable()
	}
	return false
}

// ShouldAlert 判断是否需要触发告警。
func ShouldAlert(err error) bool {
	return AttributesOf(CodeOf(err)).Alert
}

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}

// Hint 返回错误码对应的修复建议。
func Hint(err error) string {
	return AttributesOf(CodeOf(err)).Hint
}

// HTTPStatus 返回错误对应的 HTTP 状态码。
func HTTPStatus(err error) int {
	status := AttributesOf(CodeOf(err)).HTTPStatus
	if status == 0 {
		return http.StatusInternalServerError
	}
	return status
}
