package domain

import "encoding/json"

// ProviderEventType is a webhook event name sent by the payment provider.
type ProviderEventType string

const (
	EventTransferSuccess  ProviderEventType = "transfer.success"
	EventTransferFailed   ProviderEventType = "transfer.failed"
	EventTransferReversed ProviderEventType = "transfer.reversed"
)

// Known reports whether the event drives a reconciliation transition.
func (e ProviderEventType) Known() bool {
	switch e {
	case EventTransferSuccess, EventTransferFailed, EventTransferReversed:
		return true
	}
	return false
}

// ProviderEvent is an asynchronous notification about a payout.
type ProviderEvent struct {
	Event ProviderEventType `json:"event"`
	Data  ProviderEventData `json:"data"`
}

// ProviderEventData carries the fields used for reconciliation.
// Anything else the provider sends is kept in Raw.
type ProviderEventData struct {
	Reference     string          `json:"reference"`
	TransferCode  string          `json:"transfer_code"`
	Status        string          `json:"status"`
	Reason        string          `json:"reason"`
	FailureReason string          `json:"failure_reason"`
	Recipient     json.RawMessage `json:"recipient,omitempty"`
	Raw           json.RawMessage `json:"-"`
}

// FailureMessage returns the best available explanation for a failure.
func (d ProviderEventData) FailureMessage() string {
	if d.FailureReason != "" {
		return d.FailureReason
	}
	return d.Reason
}

// RecipientCode extracts recipient.recipient_code when the provider sent it.
func (d ProviderEventData) RecipientCode() string {
	if len(d.Recipient) == 0 {
		return ""
	}
	var r struct {
		RecipientCode string `json:"recipient_code"`
	}
	if err := json.Unmarshal(d.Recipient, &r); err != nil {
		return ""
	}
	return r.RecipientCode
}

// ParseProviderEvent decodes a webhook body, keeping the raw data object.
func ParseProviderEvent(body []byte) (ProviderEvent, error) {
	var envelope struct {
		Event ProviderEventType `json:"event"`
		Data  json.RawMessage   `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ProviderEvent{}, err
	}
	evt := ProviderEvent{Event: envelope.Event}
	if len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		if err := json.Unmarshal(envelope.Data, &evt.Data); err != nil {
			return ProviderEvent{}, err
		}
		evt.Data.Raw = envelope.Data
	}
	return evt, nil
}
