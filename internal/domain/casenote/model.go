package casenote

import (
	"strings"
	"time"
)

type Gender string

const (
	GenderUnspecified Gender = ""
	GenderMale        Gender = "Male"
	GenderFemale      Gender = "Female"
	GenderOther       Gender = "Other"
)

var validGenders = map[Gender]bool{
	GenderUnspecified: true, GenderMale: true, GenderFemale: true, GenderOther: true,
}

// CaseInput is the submitted patient case. It has no setters; a new case
// replaces the old one.
type CaseInput struct {
	patientName string
	phone       string
	age         *int
	gender      Gender
	caseSummary string
}

// CaseRequest is the wire form of a case submission.
type CaseRequest struct {
	PatientName string `json:"patient_name,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Age         *int   `json:"age,omitempty"`
	Gender      string `json:"gender,omitempty"`
	CaseSummary string `json:"case_summary"`
}

// NewCaseInput validates r and returns the immutable case. The summary is
// kept verbatim; only the emptiness check trims it.
func NewCaseInput(r CaseRequest) (CaseInput, error) {
	if strings.TrimSpace(r.CaseSummary) == "" {
		return CaseInput{}, &ValidationError{Field: "case_summary", Message: "case summary is required"}
	}
	if r.Age != nil && *r.Age < 0 {
		return CaseInput{}, &ValidationError{Field: "age", Message: "age must not be negative"}
	}
	g := Gender(strings.TrimSpace(r.Gender))
	if !validGenders[g] {
		return CaseInput{}, &ValidationError{Field: "gender", Message: "gender must be Male, Female or Other"}
	}

	in := CaseInput{
		patientName: strings.TrimSpace(r.PatientName),
		phone:       strings.TrimSpace(r.Phone),
		gender:      g,
		caseSummary: r.CaseSummary,
	}
	if r.Age != nil {
		age := *r.Age
		in.age = &age
	}
	return in, nil
}

func (c CaseInput) PatientName() string { return c.patientName }
func (c CaseInput) Phone() string       { return c.phone }
func (c CaseInput) Gender() Gender      { return c.gender }
func (c CaseInput) CaseSummary() string { return c.caseSummary }

// Age returns the age and whether it was given.
func (c CaseInput) Age() (int, bool) {
	if c.age == nil {
		return 0, false
	}
	return *c.age, true
}

// IsZero reports whether no case has been submitted.
func (c CaseInput) IsZero() bool {
	return c.caseSummary == ""
}

func (c CaseInput) request() CaseRequest {
	r := CaseRequest{
		PatientName: c.patientName,
		Phone:       c.phone,
		Gender:      string(c.gender),
		CaseSummary: c.caseSummary,
	}
	if c.age != nil {
		age := *c.age
		r.Age = &age
	}
	return r
}

// ClinicalNote is the model's SOAP note and differential list, stored as
// returned.
type ClinicalNote struct {
	RawText     string    `json:"raw_text"`
	GeneratedAt time.Time `json:"generated_at"`
}

// DischargeSummary is the model's discharge text together with the inputs it
// was generated from.
type DischargeSummary struct {
	RawText        string    `json:"raw_text"`
	Diagnosis      string    `json:"diagnosis"`
	SecondLanguage string    `json:"second_language,omitempty"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// DischargeOptions tune the discharge prompt.
type DischargeOptions struct {
	// SecondLanguage, when set, asks for the summary again in that language.
	SecondLanguage string `json:"second_language,omitempty"`
}
