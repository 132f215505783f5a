package validation

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Ramsey-B/intake/pkg/models"
)

// Conditional requirements between sibling fields. Each predicate reports whether
// the value satisfies its rule; the struct-level validators below attach them to
// the step schemas so they run on every step validation.

// LineIDRequiredForLineChannel: contact.lineId must be set when contact.channel is "line".
func LineIDRequiredForLineChannel(c models.Contact) bool {
	return c.Channel != models.ContactChannelLine || strings.TrimSpace(c.LineID) != ""
}

// SampleTypeOtherRequired: sampleTypeOther must be set when sampleType is "other".
func SampleTypeOtherRequired(s models.Sample) bool {
	return s.SampleType != models.SampleTypeOther || strings.TrimSpace(s.SampleTypeOther) != ""
}

// PurposeOtherRequired: purposeOther must be set when purpose is "other".
func PurposeOtherRequired(r models.TestRequest) bool {
	return r.Purpose != models.PurposeOther || strings.TrimSpace(r.PurposeOther) != ""
}

// ShippingAddressRequiredForPost: shippingAddress must be set when deliveryMethod is "post".
func ShippingAddressRequiredForPost(c models.Confirmation) bool {
	return c.DeliveryMethod != models.DeliveryPost || strings.TrimSpace(c.ShippingAddress) != ""
}

const (
	tagRequiredForLine  = "required_for_line"
	tagRequiredForOther = "required_for_other"
	tagRequiredForPost  = "required_for_post"
)

// current unwraps the struct under validation whether it was passed by value or pointer
func current[T any](sl validator.StructLevel) (T, bool) {
	switch v := sl.Current().Interface().(type) {
	case T:
		return v, true
	case *T:
		if v != nil {
			return *v, true
		}
	}
	var zero T
	return zero, false
}

func validateContact(sl validator.StructLevel) {
	c, ok := current[models.Contact](sl)
	if ok && !LineIDRequiredForLineChannel(c) {
		sl.ReportError(c.LineID, "lineId", "LineID", tagRequiredForLine, "")
	}
}

func validateSample(sl validator.StructLevel) {
	s, ok := current[models.Sample](sl)
	if ok && !SampleTypeOtherRequired(s) {
		sl.ReportError(s.SampleTypeOther, "sampleTypeOther", "SampleTypeOther", tagRequiredForOther, "")
	}
}

func validateTestRequest(sl validator.StructLevel) {
	r, ok := current[models.TestRequest](sl)
	if ok && !PurposeOtherRequired(r) {
		sl.ReportError(r.PurposeOther, "purposeOther", "PurposeOther", tagRequiredForOther, "")
	}
}

func validateConfirmation(sl validator.StructLevel) {
	c, ok := current[models.Confirmation](sl)
	if ok && !ShippingAddressRequiredForPost(c) {
		sl.ReportError(c.ShippingAddress, "shippingAddress", "ShippingAddress", tagRequiredForPost, "")
	}
}

func registerRules(v *validator.Validate) {
	v.RegisterStructValidation(validateContact, models.Contact{})
	v.RegisterStructValidation(validateSample, models.Sample{})
	v.RegisterStructValidation(validateTestRequest, models.TestRequest{})
	v.RegisterStructValidation(validateConfirmation, models.Confirmation{})
}
