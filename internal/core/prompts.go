package core

// prompts.go holds the Hindi kiosk prompts and assembles the model requests.

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"globule-intake/pkg"
)

const (
	// TriagePrompt greets the patient and asks for the visit type.
	TriagePrompt = "नमस्ते! इलाज शुरू करने के लिए चुनें।"

	// RegistrationPrompt asks a new or acute patient for name and mobile.
	RegistrationPrompt = "नाम और नंबर बताएं"

	// LookupPrompt asks a returning patient for the registration number.
	LookupPrompt = "रजिस्ट्रेशन नंबर लिखें"

	// NotFoundMessage is shown when a follow-up lookup finds nothing.
	NotFoundMessage = "Patient Not Found"

	TonguePhotoPrompt = "जीभ या चेहरे की फोटो (Tongue/Face)"
	LesionPhotoPrompt = "त्वचा या घाव की फोटो (Skin/Lesion)"

	// GeneralUpdateQuestion is the first follow-up question.
	GeneralUpdateQuestion = "दवा लेने के बाद कैसा महसूस हुआ? (General Update)"

	// FallbackFollowUpQuestion replaces the differential question whenever the
	// diagnostic response cannot be parsed.
	FallbackFollowUpQuestion = "क्या कोई और लक्षण है जो आप बताना चाहेंगे? (Any other symptom you want to share?)"

	// ThinkingPrompt is shown while the analysis runs.
	ThinkingPrompt = "Dr. Robot Thinking..."

	// ReadyPrefix is voiced before the prescription.
	ReadyPrefix = "इलाज तैयार है। "

	// SystemPrompt frames every model call.
	SystemPrompt = "You are an expert Homeopath assisting at a clinic intake kiosk. " +
		"Patients speak Hindi. Keep patient-facing sentences short and simple."

	spokenLimit = 100
	notesLimit  = 200
)

// questions maps scripted slots to their prompt.
var questions = map[int]string{
	2: "मुख्य समस्या क्या है? (Chief Complaint)",
	3: "यह कब शुरू हुआ? (Onset)",
	4: "कब बढ़ता या घटता है? (Modalities)",
	5: "कोई और तकलीफ? (Concomitants)",
	6: "पुरानी बीमारी या इतिहास? (History)",
	7: "प्यास और भूख कैसी है? (Generals)",
	8: "स्वभाव कैसा है? (Mentals)",
}

// QuestionText returns the prompt for a scripted slot.
func QuestionText(slot int) string {
	return questions[slot]
}

// PhotoPrompt returns the capture instruction for a category.
func PhotoPrompt(c pkg.ImageCategory) string {
	if c == pkg.ImageLesion {
		return LesionPhotoPrompt
	}
	return TonguePhotoPrompt
}

// KeynoteQuestionPrompt renders the follow-up keynote check for display.
func KeynoteQuestionPrompt(q string) string {
	return "Specific Check: " + q
}

type caseView struct {
	PatientType   pkg.PatientType   `json:"patient_type"`
	Answers       map[string]string `json:"answers,omitempty"`
	LastRemedy    string            `json:"last_remedy,omitempty"`
	FollowUp      string            `json:"follow_up_report,omitempty"`
	ImageCategory pkg.ImageCategory `json:"image_category,omitempty"`
}

func caseJSON(rec *pkg.CaseRecord) string {
	v := caseView{
		PatientType: rec.PatientType,
		LastRemedy:  rec.LastRemedy,
		FollowUp:    rec.FollowUpReport(),
	}
	if rec.ImageCategory != nil {
		v.ImageCategory = *rec.ImageCategory
	}
	if rec.PatientType != pkg.PatientFollowUp && len(rec.Answers) > 0 {
		v.Answers = make(map[string]string, len(rec.Answers))
		for _, slot := range rec.Slots() {
			label := questions[slot]
			if label == "" {
				label = "Q" + strconv.Itoa(slot)
			}
			v.Answers[label] = rec.Answers[slot]
		}
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		// only plain strings go in, so this cannot fail in practice
		return fmt.Sprintf("%+v", v)
	}
	return string(b)
}

// DiagnosticPrompt builds the first, analysing request.
func DiagnosticPrompt(rec *pkg.CaseRecord, hasPhoto bool) string {
	var b strings.Builder
	b.WriteString("Analyze this case carefully.\n\nPATIENT DATA:\n")
	b.WriteString(caseJSON(rec))
	b.WriteString("\n\nTASK:\n")
	if hasPhoto {
		b.WriteString("- A photo is attached; use visible signs together with the reported symptoms.\n")
	} else {
		b.WriteString("- No photo is attached. Rely solely on the reported symptoms.\n")
	}
	switch rec.PatientType {
	case pkg.PatientAcute:
		b.WriteString("- This is an acute case: focus on causation, modalities and concomitants.\n")
	case pkg.PatientFollowUp:
		b.WriteString("- This is a follow-up: judge whether the last remedy acted, using the keynote check answer.\n")
	default:
		b.WriteString("- This is a chronic case: focus on constitution, history, mental and physical generals.\n")
	}
	b.WriteString("- Write a brief analysis of the competing remedies.\n")
	b.WriteString("- Write ONE short question in simple spoken Hindi that would distinguish between them.\n\n")
	b.WriteString(`Reply with JSON only: {"analysis": "...", "followup_question": "..."}`)
	return b.String()
}

// ParseDiagnosis extracts the two-field diagnostic result.  Anything that does
// not yield a follow-up question becomes the generic fallback with an empty
// analysis.
func ParseDiagnosis(text string) pkg.Diagnosis {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		var out struct {
			Analysis         string `json:"analysis"`
			FollowUpQuestion string `json:"followup_question"`
		}
		if err := json.Unmarshal([]byte(text[start:end+1]), &out); err == nil {
			q := strings.TrimSpace(out.FollowUpQuestion)
			if q != "" {
				return pkg.Diagnosis{Analysis: strings.TrimSpace(out.Analysis), FollowUpQuestion: q}
			}
		}
	}
	return pkg.Diagnosis{FollowUpQuestion: FallbackFollowUpQuestion, Fallback: true}
}

// PrescriptionPrompt builds the second request from the stored analysis and
// the patient's last answer.
func PrescriptionPrompt(rec *pkg.CaseRecord) string {
	var b strings.Builder
	b.WriteString("Based on the analysis below, suggest ONE final remedy.\n\n")
	b.WriteString("ANALYSIS:\n")
	if rec.Diagnosis != nil && rec.Diagnosis.Analysis != "" {
		b.WriteString(rec.Diagnosis.Analysis)
	} else {
		b.WriteString("(no analysis available)\n")
		b.WriteString(caseJSON(rec))
	}
	b.WriteString("\n\n")
	if rec.PatientType == pkg.PatientFollowUp {
		b.WriteString("FOLLOW-UP REPORT:\n")
		b.WriteString(rec.FollowUpReport())
		b.WriteString("\nLast remedy: " + rec.LastRemedy)
		b.WriteString("\nDecide if the remedy should be repeated (Placebo/SL) or changed.\n\n")
	} else {
		q := ""
		if rec.Diagnosis != nil {
			q = rec.Diagnosis.FollowUpQuestion
		}
		b.WriteString("DIFFERENTIAL QUESTION: " + q + "\n")
		b.WriteString("PATIENT ANSWER: " + rec.DiagnosticAnswer + "\n\n")
	}
	b.WriteString("FORMAT:\n")
	b.WriteString("Line 1: remedy name and potency only.\n")
	b.WriteString("Then the dosage.\n")
	b.WriteString("Then explain WHY in simple Hindi/English mix, in two or three sentences.")
	return b.String()
}

// KeynotePrompt asks for a yes/no check of the last remedy's keynote symptom.
func KeynotePrompt(lastRemedy string) string {
	return fmt.Sprintf("Patient took %s. Create 1 simple 'Yes/No' question in Hindi based on the Keynote of this remedy "+
		"to check if the symptom still exists. Reply with the question only.", lastRemedy)
}

// RemedyLabel returns the first non-empty line of a prescription.
func RemedyLabel(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if l := strings.TrimSpace(line); l != "" {
			return l
		}
	}
	return ""
}

// Notes trims a prescription to what the store keeps.
func Notes(text string) string {
	return truncateRunes(text, notesLimit)
}

// SpokenSummary shortens text for playback: a fixed prefix plus the first
// sentence of the opening characters.
func SpokenSummary(text string) string {
	s := ReadyPrefix + truncateRunes(text, spokenLimit)
	if i := strings.Index(s, "."); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
