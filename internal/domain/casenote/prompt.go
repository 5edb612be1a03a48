package casenote

import (
	"strconv"
	"strings"
)

// Stage names the generation step a prompt belongs to.
type Stage string

const (
	StageNote      Stage = "note"
	StageDischarge Stage = "discharge"
)

const (
	NoteSystemInstruction      = "You are a clinical AI assistant helping doctors generate structured medical notes."
	DischargeSystemInstruction = "You are a clinical AI assistant helping doctors write discharge summaries for patients and their families."
)

// SystemInstruction returns the fixed system message for a stage.
func SystemInstruction(s Stage) string {
	if s == StageDischarge {
		return DischargeSystemInstruction
	}
	return NoteSystemInstruction
}

// ComposeNotePrompt builds the note-stage prompt. The output depends only on
// c. Clinician text is inserted verbatim; nothing here guards against text
// that reads as instructions to the model, and the clinical content is never
// rewritten to try.
func ComposeNotePrompt(c CaseInput) string {
	var sb strings.Builder
	sb.WriteString("You are an expert clinical assistant AI. Given this patient presentation, generate:\n")
	sb.WriteString("1. A SOAP note.\n")
	sb.WriteString("2. A list of 3–5 differential diagnoses with reasoning.\n")
	sb.WriteString("\n")
	writePatientBlock(&sb, c)
	sb.WriteString("\nPatient Case:\n")
	sb.WriteString(c.CaseSummary())
	return sb.String()
}

// ComposeDischargePrompt builds the discharge-stage prompt from the case, the
// clinician's final diagnosis and, when present, the previously generated
// note. Same verbatim insertion rules as ComposeNotePrompt.
func ComposeDischargePrompt(c CaseInput, diagnosis string, prior *ClinicalNote, opts DischargeOptions) string {
	var sb strings.Builder
	sb.WriteString("You are an expert clinical assistant AI. Write a discharge summary for the patient below.\n")
	sb.WriteString("The summary must state:\n")
	sb.WriteString("1. The final diagnosis.\n")
	sb.WriteString("2. Medications, each with name, dose, frequency and duration.\n")
	sb.WriteString("3. When to return for follow-up.\n")
	sb.WriteString("4. Warning symptoms that mean the patient should return immediately.\n")
	sb.WriteString("Use plain language a patient can follow.\n")
	if lang := strings.TrimSpace(opts.SecondLanguage); lang != "" {
		sb.WriteString("After the summary, repeat the complete summary in ")
		sb.WriteString(lang)
		sb.WriteString(" under the heading \"")
		sb.WriteString(lang)
		sb.WriteString(":\".\n")
	}
	sb.WriteString("\n")
	writePatientBlock(&sb, c)
	sb.WriteString("\nFinal Diagnosis:\n")
	sb.WriteString(diagnosis)
	sb.WriteString("\n\nPatient Case:\n")
	sb.WriteString(c.CaseSummary())
	if prior != nil && prior.RawText != "" {
		sb.WriteString("\n\nClinical Note:\n")
		sb.WriteString(prior.RawText)
	}
	return sb.String()
}

// writePatientBlock writes one labelled line per demographic field that was
// supplied. Nothing is written for an anonymous case.
func writePatientBlock(sb *strings.Builder, c CaseInput) {
	var lines []string
	if name := c.PatientName(); name != "" {
		lines = append(lines, "Name: "+name)
	}
	if age, ok := c.Age(); ok {
		lines = append(lines, "Age: "+strconv.Itoa(age))
	}
	if g := c.Gender(); g != GenderUnspecified {
		lines = append(lines, "Gender: "+string(g))
	}
	if len(lines) == 0 {
		return
	}
	sb.WriteString("Patient Details:\n")
	for _, l := range lines {
		sb.WriteString(l)
		sb.WriteString("\n")
	}
}
