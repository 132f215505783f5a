package validation

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/intake/pkg/metrics"
	"github.com/Ramsey-B/intake/pkg/models"
)

func validApplicant() *models.ApplicantInfo {
	return &models.ApplicantInfo{
		OrganizationName: "Acme Foods",
		ApplicantName:    "Somchai Jaidee",
		Email:            "somchai@acme.co.th",
		Address:          "99 Rama IV Rd, Bangkok",
		Contact:          models.Contact{Channel: models.ContactChannelLine, LineID: "@acmefoods"},
	}
}

func validSamples() *models.SampleDetails {
	return &models.SampleDetails{
		Samples: []models.Sample{{Name: "Jasmine rice", SampleType: models.SampleTypeFood, Quantity: 2, Unit: "kg"}},
	}
}

func validTests() *models.TestRequest {
	return &models.TestRequest{Tests: []string{"aflatoxin"}, Purpose: models.PurposeExport, ReportLanguage: "en"}
}

func validConfirmation() *models.Confirmation {
	return &models.Confirmation{AcceptTerms: true, SignerName: "Somchai Jaidee", DeliveryMethod: models.DeliveryEmail}
}

func validDraft() models.FormDraft {
	return models.FormDraft{
		StepOneInfo:     validApplicant(),
		StepTwoSamples:  validSamples(),
		StepThreeTests:  validTests(),
		StepFourConfirm: validConfirmation(),
	}
}

func TestValidateStepIsScopedToOwnedFields(t *testing.T) {
	gate := NewGate()
	draft := models.FormDraft{
		StepOneInfo:    validApplicant(),
		StepTwoSamples: &models.SampleDetails{Samples: []models.Sample{{Name: ""}}},
	}

	first := gate.ValidateStep(draft, 1)
	assert.True(t, first.Valid)
	assert.Empty(t, first.Errors)

	second := gate.ValidateStep(draft, 2)
	assert.False(t, second.Valid)
	assert.Contains(t, second.Errors, "stepTwoSamples.samples[0].name")
	for path := range second.Errors {
		assert.NotContains(t, path, "stepOneInfo")
	}
}

func TestValidateStepTreatsMissingGroupAsEmpty(t *testing.T) {
	outcome := NewGate().ValidateStep(models.FormDraft{}, 3)

	assert.False(t, outcome.Valid)
	assert.Contains(t, outcome.Errors, "stepThreeTests.tests")
	assert.Contains(t, outcome.Errors, "stepThreeTests.purpose")
	assert.Equal(t, "tests must contain at least 1 item(s)", outcome.Errors["stepThreeTests.tests"])
}

func TestValidateStepRejectsUnknownStep(t *testing.T) {
	outcome := NewGate().ValidateStep(validDraft(), 9)

	assert.False(t, outcome.Valid)
	assert.Contains(t, outcome.Errors, "step")
}

func TestSampleTypeOtherConditionalRequirement(t *testing.T) {
	gate := NewGate()

	notOther := models.FormDraft{StepTwoSamples: &models.SampleDetails{
		Samples: []models.Sample{{Name: "Pond water", SampleType: models.SampleTypeWater, Quantity: 1, Unit: "L"}},
	}}
	assert.True(t, gate.ValidateStep(notOther, 2).Valid)

	other := models.FormDraft{StepTwoSamples: &models.SampleDetails{
		Samples: []models.Sample{{Name: "Mystery", SampleType: models.SampleTypeOther, Quantity: 1, Unit: "g"}},
	}}
	outcome := gate.ValidateStep(other, 2)
	assert.False(t, outcome.Valid)
	assert.Equal(t, `sampleTypeOther is required when "other" is selected`, outcome.Errors["stepTwoSamples.samples[0].sampleTypeOther"])

	other.StepTwoSamples.Samples[0].SampleTypeOther = "cosmetic"
	assert.True(t, gate.ValidateStep(other, 2).Valid)
}

func TestPurposeOtherConditionalRequirement(t *testing.T) {
	gate := NewGate()
	draft := models.FormDraft{StepThreeTests: validTests()}
	assert.True(t, gate.ValidateStep(draft, 3).Valid)

	draft.StepThreeTests.Purpose = models.PurposeOther
	outcome := gate.ValidateStep(draft, 3)
	assert.False(t, outcome.Valid)
	assert.Contains(t, outcome.Errors, "stepThreeTests.purposeOther")
}

func TestLineIDConditionalRequirement(t *testing.T) {
	gate := NewGate()
	draft := models.FormDraft{StepOneInfo: validApplicant()}

	draft.StepOneInfo.Contact = models.Contact{Channel: models.ContactChannelEmail}
	assert.True(t, gate.ValidateStep(draft, 1).Valid)

	draft.StepOneInfo.Contact = models.Contact{Channel: models.ContactChannelLine}
	outcome := gate.ValidateStep(draft, 1)
	assert.False(t, outcome.Valid)
	assert.Equal(t, "lineId is required when the contact channel is line", outcome.Errors["stepOneInfo.contact.lineId"])
}

func TestShippingAddressConditionalRequirement(t *testing.T) {
	gate := NewGate()
	draft := models.FormDraft{StepFourConfirm: validConfirmation()}
	draft.StepFourConfirm.DeliveryMethod = models.DeliveryPost

	outcome := gate.ValidateStep(draft, 4)
	assert.False(t, outcome.Valid)
	assert.Contains(t, outcome.Errors, "stepFourConfirm.shippingAddress")

	draft.StepFourConfirm.ShippingAddress = "PO Box 12"
	assert.True(t, gate.ValidateStep(draft, 4).Valid)
}

func TestPredicates(t *testing.T) {
	assert.True(t, LineIDRequiredForLineChannel(models.Contact{Channel: models.ContactChannelPhone}))
	assert.False(t, LineIDRequiredForLineChannel(models.Contact{Channel: models.ContactChannelLine, LineID: "  "}))
	assert.True(t, SampleTypeOtherRequired(models.Sample{SampleType: models.SampleTypeSoil}))
	assert.False(t, SampleTypeOtherRequired(models.Sample{SampleType: models.SampleTypeOther}))
	assert.True(t, PurposeOtherRequired(models.TestRequest{Purpose: models.PurposeOther, PurposeOther: "audit"}))
	assert.False(t, ShippingAddressRequiredForPost(models.Confirmation{DeliveryMethod: models.DeliveryPost}))
}

func TestCheckReturnsStructuredError(t *testing.T) {
	gate := NewGate()
	require.NoError(t, gate.Check(validDraft()))

	draft := validDraft()
	draft.StepOneInfo.Email = "not-an-email"
	draft.StepFourConfirm.AcceptTerms = false

	err := gate.Check(draft)
	var verr *Error
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Fields, 2)
	assert.Equal(t, "email must be a valid email address", verr.Fields["stepOneInfo.email"])
	assert.Contains(t, verr.Fields, "stepFourConfirm.acceptTerms")
	assert.Equal(t, "2 fields are invalid", err.Error())
}

func TestFirstInvalidFieldFollowsFormOrder(t *testing.T) {
	_, ok := FirstInvalidField(models.ValidationOutcome{Valid: true})
	assert.False(t, ok)

	path, ok := FirstInvalidField(models.ValidationOutcome{Errors: map[string]string{
		"stepThreeTests.tests":      "x",
		"stepOneInfo.email":         "x",
		"stepOneInfo.applicantName": "x",
	}})
	require.True(t, ok)
	assert.Equal(t, "stepOneInfo.applicantName", path)
}

func TestFieldsReturnsCopy(t *testing.T) {
	gate := NewGate()
	fields := gate.Fields(2)
	require.Equal(t, []models.StepKey{models.StepTwoSamples}, fields)

	fields[0] = models.StepOneInfo
	assert.Equal(t, []models.StepKey{models.StepTwoSamples}, gate.Fields(2))
	assert.Equal(t, TotalSteps, gate.Total())
}

func TestOnlyStepValidationsAreCounted(t *testing.T) {
	gate := NewGate()
	invalid := metrics.StepValidationsTotal.WithLabelValues("1", "invalid")
	before := testutil.ToFloat64(invalid)

	require.Error(t, gate.Check(models.FormDraft{}))
	assert.False(t, gate.ValidateAll(models.FormDraft{}).Valid)
	assert.Equal(t, before, testutil.ToFloat64(invalid))

	assert.False(t, gate.ValidateStep(models.FormDraft{}, 1).Valid)
	assert.Equal(t, before+1, testutil.ToFloat64(invalid))
}
