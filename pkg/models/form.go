package models

import (
	"encoding/json"
	"fmt"
)

// StepKey names a top-level field group of the application form.
type StepKey string

const (
	StepOneInfo     StepKey = "stepOneInfo"
	StepTwoSamples  StepKey = "stepTwoSamples"
	StepThreeTests  StepKey = "stepThreeTests"
	StepFourConfirm StepKey = "stepFourConfirm"
)

// StepKeys lists every known step key in form order.
var StepKeys = []StepKey{StepOneInfo, StepTwoSamples, StepThreeTests, StepFourConfirm}

// IsValid reports whether k is one of the known step keys.
func (k StepKey) IsValid() bool {
	for _, known := range StepKeys {
		if k == known {
			return true
		}
	}
	return false
}

// ContactChannel is how the laboratory reaches the applicant.
type ContactChannel string

const (
	ContactChannelLine  ContactChannel = "line"
	ContactChannelEmail ContactChannel = "email"
	ContactChannelPhone ContactChannel = "phone"
)

// Contact holds the preferred contact channel of the applicant
type Contact struct {
	Channel ContactChannel `json:"channel" validate:"required,oneof=line email phone"`
	LineID  string         `json:"lineId"`
}

// ApplicantInfo is the stepOneInfo group.
type ApplicantInfo struct {
	OrganizationName string  `json:"organizationName" validate:"required,max=200"`
	ApplicantName    string  `json:"applicantName" validate:"required,max=200"`
	Email            string  `json:"email" validate:"required,email"`
	Phone            string  `json:"phone" validate:"omitempty,min=6,max=20"`
	Address          string  `json:"address" validate:"required"`
	Contact          Contact `json:"contact"`
}

// SampleType enumerates the sample categories the laboratory accepts.
type SampleType string

const (
	SampleTypeFood  SampleType = "food"
	SampleTypeWater SampleType = "water"
	SampleTypeSoil  SampleType = "soil"
	SampleTypeFeed  SampleType = "feed"
	SampleTypeOther SampleType = "other"
)

// Sample describes one submitted sample
type Sample struct {
	Name            string     `json:"name" validate:"required"`
	SampleType      SampleType `json:"sampleType" validate:"required,oneof=food water soil feed other"`
	SampleTypeOther string     `json:"sampleTypeOther"`
	Quantity        float64    `json:"quantity" validate:"gt=0"`
	Unit            string     `json:"unit" validate:"required"`
}

// SampleDetails is the stepTwoSamples group.
type SampleDetails struct {
	Samples          []Sample `json:"samples" validate:"min=1,dive"`
	StorageCondition string   `json:"storageCondition" validate:"omitempty,oneof=ambient chilled frozen"`
}

// Purpose is why the applicant requests testing.
type Purpose string

const (
	PurposeRegistration   Purpose = "registration"
	PurposeExport         Purpose = "export"
	PurposeQualityControl Purpose = "quality_control"
	PurposeResearch       Purpose = "research"
	PurposeOther          Purpose = "other"
)

// TestRequest is the stepThreeTests group.
type TestRequest struct {
	Tests          []string `json:"tests" validate:"min=1,dive,required"`
	Purpose        Purpose  `json:"purpose" validate:"required,oneof=registration export quality_control research other"`
	PurposeOther   string   `json:"purposeOther"`
	ReportLanguage string   `json:"reportLanguage" validate:"required,oneof=th en"`
	Urgent         bool     `json:"urgent"`
}

// DeliveryMethod is how the final report reaches the applicant.
type DeliveryMethod string

const (
	DeliveryPickup DeliveryMethod = "pickup"
	DeliveryPost   DeliveryMethod = "post"
	DeliveryEmail  DeliveryMethod = "email"
)

// Confirmation is the stepFourConfirm group.
type Confirmation struct {
	AcceptTerms     bool           `json:"acceptTerms" validate:"required"`
	SignerName      string         `json:"signerName" validate:"required"`
	DeliveryMethod  DeliveryMethod `json:"deliveryMethod" validate:"required,oneof=pickup post email"`
	ShippingAddress string         `json:"shippingAddress"`
}

// FormDraft is the partial, possibly incomplete application keyed by step.
// Unknown keys are dropped on decode, so a draft only ever carries known step groups.
type FormDraft struct {
	StepOneInfo     *ApplicantInfo `json:"stepOneInfo,omitempty"`
	StepTwoSamples  *SampleDetails `json:"stepTwoSamples,omitempty"`
	StepThreeTests  *TestRequest   `json:"stepThreeTests,omitempty"`
	StepFourConfirm *Confirmation  `json:"stepFourConfirm,omitempty"`
}

// IsEmpty reports whether no step group has been set.
func (d FormDraft) IsEmpty() bool {
	return d.StepOneInfo == nil && d.StepTwoSamples == nil && d.StepThreeTests == nil && d.StepFourConfirm == nil
}

// Merge returns d with every non-nil group of partial replacing the matching group.
func (d FormDraft) Merge(partial FormDraft) FormDraft {
	if partial.StepOneInfo != nil {
		d.StepOneInfo = partial.StepOneInfo
	}
	if partial.StepTwoSamples != nil {
		d.StepTwoSamples = partial.StepTwoSamples
	}
	if partial.StepThreeTests != nil {
		d.StepThreeTests = partial.StepThreeTests
	}
	if partial.StepFourConfirm != nil {
		d.StepFourConfirm = partial.StepFourConfirm
	}
	return d
}

// Clone deep-copies the draft so callers cannot mutate shared groups.
func (d FormDraft) Clone() FormDraft {
	b, err := json.Marshal(d)
	if err != nil {
		return FormDraft{}
	}
	var out FormDraft
	if err := json.Unmarshal(b, &out); err != nil {
		return FormDraft{}
	}
	return out
}

// Step returns the group stored under key, or nil when it has not been set.
func (d FormDraft) Step(key StepKey) any {
	switch key {
	case StepOneInfo:
		if d.StepOneInfo != nil {
			return d.StepOneInfo
		}
	case StepTwoSamples:
		if d.StepTwoSamples != nil {
			return d.StepTwoSamples
		}
	case StepThreeTests:
		if d.StepThreeTests != nil {
			return d.StepThreeTests
		}
	case StepFourConfirm:
		if d.StepFourConfirm != nil {
			return d.StepFourConfirm
		}
	}
	return nil
}

// StepOrZero returns the group stored under key, or a pointer to its zero value.
func (d FormDraft) StepOrZero(key StepKey) (any, error) {
	switch key {
	case StepOneInfo:
		if d.StepOneInfo == nil {
			return &ApplicantInfo{}, nil
		}
		return d.StepOneInfo, nil
	case StepTwoSamples:
		if d.StepTwoSamples == nil {
			return &SampleDetails{}, nil
		}
		return d.StepTwoSamples, nil
	case StepThreeTests:
		if d.StepThreeTests == nil {
			return &TestRequest{}, nil
		}
		return d.StepThreeTests, nil
	case StepFourConfirm:
		if d.StepFourConfirm == nil {
			return &Confirmation{}, nil
		}
		return d.StepFourConfirm, nil
	}
	return nil, fmt.Errorf("unknown step key %q", key)
}

// PartialFor decodes raw step data into a draft containing only that step's group.
func PartialFor(key StepKey, raw json.RawMessage) (FormDraft, error) {
	var partial FormDraft
	var err error
	switch key {
	case StepOneInfo:
		partial.StepOneInfo = &ApplicantInfo{}
		err = json.Unmarshal(raw, partial.StepOneInfo)
	case StepTwoSamples:
		partial.StepTwoSamples = &SampleDetails{}
		err = json.Unmarshal(raw, partial.StepTwoSamples)
	case StepThreeTests:
		partial.StepThreeTests = &TestRequest{}
		err = json.Unmarshal(raw, partial.StepThreeTests)
	case StepFourConfirm:
		partial.StepFourConfirm = &Confirmation{}
		err = json.Unmarshal(raw, partial.StepFourConfirm)
	default:
		return FormDraft{}, fmt.Errorf("unknown step key %q", key)
	}
	if err != nil {
		return FormDraft{}, fmt.Errorf("invalid %s data: %w", key, err)
	}
	return partial, nil
}

// ContactLineID extracts the contact channel identifier from the applicant group.
func (d FormDraft) ContactLineID() string {
	if d.StepOneInfo == nil {
		return ""
	}
	return d.StepOneInfo.Contact.LineID
}
