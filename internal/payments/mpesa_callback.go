package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/conceptdash/api/internal/domain"
)

// ErrMalformedCallback marks a provider callback that cannot be trusted.
// Handlers respond with a failure acknowledgement so the provider retries.
var ErrMalformedCallback = errors.New("payments: malformed provider callback")

// Daraja timestamps are local Nairobi time without an offset.
var eastAfricaTime = time.FixedZone("EAT", 3*3600)

type stkCallbackEnvelope struct {
	Body struct {
		StkCallback *stkCallbackBody `json:"stkCallback"`
	} `json:"Body"`
}

type stkCallbackBody struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        *int   `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CallbackMetadata  *struct {
		Item []stkCallbackItem `json:"Item"`
	} `json:"CallbackMetadata"`
}

type stkCallbackItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value"`
}

// ParseSTKCallback turns a raw Daraja callback into a reconciliation event.
// It fails closed: a payload missing the correlation handle, the result code,
// or (for successes) the amount and receipt number is rejected rather than
// recorded with defaulted values.
func ParseSTKCallback(payload []byte) (domain.ReconciliationEvent, error) {
	var envelope stkCallbackEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return domain.ReconciliationEvent{}, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}

	callback := envelope.Body.StkCallback
	if callback == nil {
		return domain.ReconciliationEvent{}, fmt.Errorf("%w: missing stkCallback body", ErrMalformedCallback)
	}

	handle := strings.TrimSpace(callback.CheckoutRequestID)
	if handle == "" {
		return domain.ReconciliationEvent{}, fmt.Errorf("%w: missing CheckoutRequestID", ErrMalformedCallback)
	}
	if callback.ResultCode == nil {
		return domain.ReconciliationEvent{}, fmt.Errorf("%w: missing ResultCode", ErrMalformedCallback)
	}

	event := domain.ReconciliationEvent{
		CorrelationHandle: handle,
		Rail:              domain.RailMpesa,
	}

	if *callback.ResultCode != 0 {
		event.Outcome = domain.OutcomeFailure
		event.FailureReason = strings.TrimSpace(callback.ResultDesc)
		if event.FailureReason == "" {
			event.FailureReason = fmt.Sprintf("provider result code %d", *callback.ResultCode)
		}
		return event, nil
	}

	items := map[string]json.RawMessage{}
	if callback.CallbackMetadata != nil {
		for _, item := range callback.CallbackMetadata.Item {
			items[item.Name] = item.Value
		}
	}

	amount, ok, err := metadataInt(items, "Amount")
	if err != nil {
		return domain.ReconciliationEvent{}, err
	}
	if !ok {
		return domain.ReconciliationEvent{}, fmt.Errorf("%w: success callback missing Amount", ErrMalformedCallback)
	}

	receipt, err := metadataString(items, "MpesaReceiptNumber")
	if err != nil {
		return domain.ReconciliationEvent{}, err
	}
	if receipt == "" {
		return domain.ReconciliationEvent{}, fmt.Errorf("%w: success callback missing MpesaReceiptNumber", ErrMalformedCallback)
	}

	event.Outcome = domain.OutcomeSuccess
	event.Amount = amount
	event.ProviderReference = receipt

	if phone, phoneErr := metadataString(items, "PhoneNumber"); phoneErr == nil {
		event.PayerPhone = phone
	}
	if raw, found := items["TransactionDate"]; found {
		if ts, tsErr := parseTransactionDate(raw); tsErr == nil {
			event.OccurredAt = ts
		}
	}
	return event, nil
}

func metadataInt(items map[string]json.RawMessage, name string) (int64, bool, error) {
	raw, ok := items[name]
	if !ok {
		return 0, false, nil
	}
	var asFloat float64
	if err := json.Unmarshal(raw, &asFloat); err == nil {
		return wholeNumber(asFloat, name)
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		parsed, parseErr := strconv.ParseFloat(strings.TrimSpace(asString), 64)
		if parseErr != nil {
			return 0, false, fmt.Errorf("%w: %s is not numeric", ErrMalformedCallback, name)
		}
		return wholeNumber(parsed, name)
	}
	return 0, false, fmt.Errorf("%w: %s has unexpected type", ErrMalformedCallback, name)
}

// wholeNumber rejects fractional values rather than truncating them. Daraja
// amounts are whole shillings; a fractional one means the payload cannot be
// trusted.
func wholeNumber(value float64, name string) (int64, bool, error) {
	if value != math.Trunc(value) {
		return 0, false, fmt.Errorf("%w: %s is not a whole number", ErrMalformedCallback, name)
	}
	return int64(value), true, nil
}

func metadataString(items map[string]json.RawMessage, name string) (string, error) {
	raw, ok := items[name]
	if !ok {
		return "", nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return strings.TrimSpace(asString), nil
	}
	var asNumber json.Number
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return asNumber.String(), nil
	}
	return "", fmt.Errorf("%w: %s has unexpected type", ErrMalformedCallback, name)
}

func parseTransactionDate(raw json.RawMessage) (time.Time, error) {
	var numeric int64
	if err := json.Unmarshal(raw, &numeric); err != nil {
		var asString string
		if strErr := json.Unmarshal(raw, &asString); strErr != nil {
			return time.Time{}, err
		}
		parsed, parseErr := strconv.ParseInt(strings.TrimSpace(asString), 10, 64)
		if parseErr != nil {
			return time.Time{}, parseErr
		}
		numeric = parsed
	}
	ts, err := time.ParseInLocation(mpesaTimestampLayout, strconv.FormatInt(numeric, 10), eastAfricaTime)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}
