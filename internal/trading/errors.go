package trading

import (
	"errors"
	"net/http"

	"github.com/ksred/klear-options/pkg/response"
)

// Error kinds. Match with errors.Is; the *Error carrying them holds the user-facing message.
var (
	ErrInvalidAccountType = errors.New("invalid account type")
	ErrInvalidDuration    = errors.New("invalid duration")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidDirection   = errors.New("invalid direction")
	ErrInvalidAsset       = errors.New("invalid asset")
	ErrInvalidQuery       = errors.New("invalid query")

	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAssetInactive       = errors.New("asset inactive")
	ErrPriceUnavailable    = errors.New("price unavailable")

	ErrAssetNotFound = errors.New("asset not found")
	ErrOrderNotFound = errors.New("order not found")
	ErrForbidden     = errors.New("order belongs to another user")

	ErrCreditFailed = errors.New("settlement credit failed")
)

type kindInfo struct {
	status int
	code   string
	reason string
}

var kinds = map[error]kindInfo{
	ErrInvalidAccountType:  {http.StatusBadRequest, response.ErrCodeValidationFailed, "invalid_account_type"},
	ErrInvalidDuration:     {http.StatusBadRequest, response.ErrCodeValidationFailed, "invalid_duration"},
	ErrInvalidAmount:       {http.StatusBadRequest, response.ErrCodeValidationFailed, "invalid_amount"},
	ErrInvalidDirection:    {http.StatusBadRequest, response.ErrCodeValidationFailed, "invalid_direction"},
	ErrInvalidAsset:        {http.StatusBadRequest, response.ErrCodeValidationFailed, "invalid_asset"},
	ErrInvalidQuery:        {http.StatusBadRequest, response.ErrCodeValidationFailed, "invalid_query"},
	ErrInsufficientBalance: {http.StatusUnprocessableEntity, response.ErrCodeBusinessRule, "insufficient_balance"},
	ErrAssetInactive:       {http.StatusUnprocessableEntity, response.ErrCodeBusinessRule, "asset_inactive"},
	ErrPriceUnavailable:    {http.StatusUnprocessableEntity, response.ErrCodeBusinessRule, "price_unavailable"},
	ErrAssetNotFound:       {http.StatusNotFound, response.ErrCodeNotFound, "asset_not_found"},
	ErrOrderNotFound:       {http.StatusNotFound, response.ErrCodeNotFound, "order_not_found"},
	ErrForbidden:           {http.StatusForbidden, response.ErrCodeForbidden, "forbidden"},
	ErrCreditFailed:        {http.StatusInternalServerError, response.ErrCodeInternalError, "credit_failed"},
}

// Error is a domain failure of the order lifecycle
type Error struct {
	Kind    error
	Message string
}

func newError(kind error, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// HTTPStatus implements response.StatusError
func (e *Error) HTTPStatus() int {
	if info, ok := kinds[e.Kind]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// ErrorCode implements response.StatusError
func (e *Error) ErrorCode() string {
	if info, ok := kinds[e.Kind]; ok {
		return info.code
	}
	return response.ErrCodeInternalError
}

// rejectionReason labels a failed creation for metrics
func rejectionReason(err error) string {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		if info, ok := kinds[domainErr.Kind]; ok {
			return info.reason
		}
	}
	return "internal"
}
