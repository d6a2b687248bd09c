package mpesa

import "context"

// Gateway initiates push payments. The orders service depends on this
// interface; Client is the Daraja implementation and tests substitute a
// recording fake.
type Gateway interface {
	STKPush(ctx context.Context, req STKPushRequest) (*STKPushResponse, error)
}

// STKPushRequest describes one push-payment initiation.
type STKPushRequest struct {
	PhoneNumber string  // payer, any of +254..., 254..., 07... forms
	Amount      float64 // order total in KES; must round to a positive whole amount
	OrderID     string  // used as AccountReference and in the description
}

// STKPushResponse is the gateway's accepted/queued response.
type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// CallbackEnvelope is the Daraja STK callback wire format.
type CallbackEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []CallbackItem `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// CallbackItem is one name/value pair of the callback metadata.
type CallbackItem struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value"`
}

// MetadataValue returns the string form of a named metadata item
// (e.g. MpesaReceiptNumber, PhoneNumber), or "" when absent.
func (e *CallbackEnvelope) MetadataValue(name string) string {
	md := e.Body.StkCallback.CallbackMetadata
	if md == nil {
		return ""
	}
	for _, item := range md.Item {
		if item.Name == name {
			switch v := item.Value.(type) {
			case string:
				return v
			case float64:
				return trimFloat(v)
			}
		}
	}
	return ""
}
