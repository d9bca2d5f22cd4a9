package analysis

import (
	"fmt"
	"strings"
)

// patternClass groups diagnoses the synthesis engine can emit. Each class
// binds severity and confidence to a clinically self-consistent range so a
// severe finding never pairs with an implausibly low or perfect confidence.
type patternClass string

const (
	patternNormal          patternClass = "normal"
	patternPneumonia       patternClass = "pneumonia"
	patternTuberculosis    patternClass = "tuberculosis"
	patternCardiomegaly    patternClass = "cardiomegaly"
	patternPleuralEffusion patternClass = "pleural_effusion"
	patternCOPD            patternClass = "copd"
)

type patternProfile struct {
	Class       patternClass
	Diagnosis   string
	Respiratory bool

	MinSeverity   int
	MaxSeverity   int
	MinConfidence float64
	MaxConfidence float64

	// Baseline clinical indicators for the class; the engine adds jitter.
	HeartSize   float64
	LungOpacity float64
	Abnormality float64

	AffectedAreas []string
}

var patternProfiles = map[patternClass]patternProfile{
	patternNormal: {
		Class:         patternNormal,
		Diagnosis:     "No Acute Cardiopulmonary Abnormality",
		MinSeverity:   0,
		MaxSeverity:   0,
		MinConfidence: 95,
		MaxConfidence: 99,
		HeartSize:     45,
		LungOpacity:   8,
		Abnormality:   4,
	},
	patternPneumonia: {
		Class:         patternPneumonia,
		Diagnosis:     "Community-Acquired Pneumonia",
		Respiratory:   true,
		MinSeverity:   2,
		MaxSeverity:   4,
		MinConfidence: 75,
		MaxConfidence: 92,
		HeartSize:     48,
		LungOpacity:   62,
		Abnormality:   58,
		AffectedAreas: []string{"right lower lobe", "left lower lobe", "right middle lobe"},
	},
	patternTuberculosis: {
		Class:         patternTuberculosis,
		Diagnosis:     "Pulmonary Tuberculosis (suspected)",
		Respiratory:   true,
		MinSeverity:   3,
		MaxSeverity:   5,
		MinConfidence: 70,
		MaxConfidence: 92,
		HeartSize:     47,
		LungOpacity:   55,
		Abnormality:   66,
		AffectedAreas: []string{"right upper lobe", "left upper lobe", "apical segments"},
	},
	patternCardiomegaly: {
		Class:         patternCardiomegaly,
		Diagnosis:     "Cardiomegaly with Pulmonary Congestion",
		MinSeverity:   2,
		MaxSeverity:   4,
		MinConfidence: 75,
		MaxConfidence: 90,
		HeartSize:     68,
		LungOpacity:   40,
		Abnormality:   52,
		AffectedAreas: []string{"cardiac silhouette", "perihilar regions", "lung bases"},
	},
	patternPleuralEffusion: {
		Class:         patternPleuralEffusion,
		Diagnosis:     "Pleural Effusion",
		Respiratory:   true,
		MinSeverity:   3,
		MaxSeverity:   4,
		MinConfidence: 75,
		MaxConfidence: 90,
		HeartSize:     50,
		LungOpacity:   58,
		Abnormality:   55,
		AffectedAreas: []string{"right costophrenic angle", "left costophrenic angle"},
	},
	patternCOPD: {
		Class:         patternCOPD,
		Diagnosis:     "Chronic Obstructive Pulmonary Disease",
		Respiratory:   true,
		MinSeverity:   1,
		MaxSeverity:   3,
		MinConfidence: 80,
		MaxConfidence: 95,
		HeartSize:     42,
		LungOpacity:   30,
		Abnormality:   38,
		AffectedAreas: []string{"bilateral upper lobes", "hyperinflated lung fields"},
	},
}

// selectionRule raises a pattern's score when every keyword in the group
// appears in the combined clinical text. Keeping selection as a data table
// keeps the engine auditable and testable apart from string matching.
type selectionRule struct {
	Keywords []string
	Target   patternClass
	Boost    int
}

var selectionRules = []selectionRule{
	{Keywords: []string{"cough", "fever"}, Target: patternPneumonia, Boost: 40},
	{Keywords: []string{"cough"}, Target: patternPneumonia, Boost: 15},
	{Keywords: []string{"fever"}, Target: patternPneumonia, Boost: 10},
	{Keywords: []string{"pneumonia"}, Target: patternPneumonia, Boost: 45},
	{Keywords: []string{"sputum"}, Target: patternPneumonia, Boost: 15},

	{Keywords: []string{"night sweats", "travel", "contact"}, Target: patternTuberculosis, Boost: 55},
	{Keywords: []string{"night sweats"}, Target: patternTuberculosis, Boost: 25},
	{Keywords: []string{"tuberculosis"}, Target: patternTuberculosis, Boost: 50},
	{Keywords: []string{"weight loss", "cough"}, Target: patternTuberculosis, Boost: 20},
	{Keywords: []string{"hemoptysis"}, Target: patternTuberculosis, Boost: 25},

	{Keywords: []string{"cardiac"}, Target: patternCardiomegaly, Boost: 30},
	{Keywords: []string{"swelling"}, Target: patternCardiomegaly, Boost: 20},
	{Keywords: []string{"hypertension"}, Target: patternCardiomegaly, Boost: 20},
	{Keywords: []string{"heart failure"}, Target: patternCardiomegaly, Boost: 50},
	{Keywords: []string{"orthopnea"}, Target: patternCardiomegaly, Boost: 25},

	{Keywords: []string{"effusion"}, Target: patternPleuralEffusion, Boost: 45},
	{Keywords: []string{"pleuritic"}, Target: patternPleuralEffusion, Boost: 25},

	{Keywords: []string{"copd"}, Target: patternCOPD, Boost: 50},
	{Keywords: []string{"emphysema"}, Target: patternCOPD, Boost: 45},
	{Keywords: []string{"wheez"}, Target: patternCOPD, Boost: 20},
}

var smokingKeywords = []string{"smok", "tobacco", "pack-year", "pack year"}

const (
	normalBaseWeight   = 50
	abnormalBaseWeight = 5
	elderlyBoost       = 10 // applied to high-severity classes when age > 65
	smokingBoost       = 15 // applied to respiratory classes
)

// selectPattern scores every pattern class against the patient context and
// returns the best-scoring profile. With no clinical signal the normal class
// dominates; any matched rule collapses the normal weight so a documented
// complaint is never shadowed by the default.
func selectPattern(patient PatientContext) patternProfile {
	text := strings.ToLower(patient.ClinicalHistory + " " + patient.SuspectedCondition)

	scores := map[patternClass]int{
		patternNormal:          normalBaseWeight,
		patternPneumonia:       abnormalBaseWeight,
		patternTuberculosis:    abnormalBaseWeight,
		patternCardiomegaly:    abnormalBaseWeight,
		patternPleuralEffusion: abnormalBaseWeight,
		patternCOPD:            abnormalBaseWeight,
	}

	matched := false
	for _, rule := range selectionRules {
		if containsAll(text, rule.Keywords) {
			scores[rule.Target] += rule.Boost
			matched = true
		}
	}

	smoker := false
	for _, kw := range smokingKeywords {
		if strings.Contains(text, kw) {
			smoker = true
			break
		}
	}
	if smoker {
		for class, profile := range patternProfiles {
			if profile.Respiratory {
				scores[class] += smokingBoost
			}
		}
		matched = true
	}

	if patient.Age > 65 {
		for class, profile := range patternProfiles {
			if profile.MinSeverity >= 3 {
				scores[class] += elderlyBoost
			}
		}
	}

	if matched {
		scores[patternNormal] = abnormalBaseWeight
	}

	best := patternNormal
	for _, class := range patternOrder {
		if scores[class] > scores[best] {
			best = class
		}
	}
	return patternProfiles[best]
}

// patternOrder fixes tie-breaking so selection is reproducible.
var patternOrder = []patternClass{
	patternNormal,
	patternPneumonia,
	patternTuberculosis,
	patternCardiomegaly,
	patternPleuralEffusion,
	patternCOPD,
}

func containsAll(text string, keywords []string) bool {
	for _, kw := range keywords {
		if !strings.Contains(text, kw) {
			return false
		}
	}
	return true
}

// urgencyForSeverity maps severity to clinical priority. Pure and total.
func urgencyForSeverity(severity int) Urgency {
	switch {
	case severity <= 1:
		return UrgencyLow
	case severity <= 3:
		return UrgencyMedium
	case severity == 4:
		return UrgencyHigh
	default:
		return UrgencyCritical
	}
}

// findingsText renders the narrative findings for a pattern, interpolating
// patient-specific facts so the text is not generic.
func findingsText(profile patternProfile, patient PatientContext, severity int) string {
	view := patient.View
	if view == "" {
		view = "frontal"
	}

	var b strings.Builder
	switch profile.Class {
	case patternNormal:
		fmt.Fprintf(&b, "The %s radiograph of this %d-year-old patient demonstrates clear lung fields bilaterally. ", view, patient.Age)
		b.WriteString("Cardiomediastinal silhouette is within normal limits. No focal consolidation, effusion or pneumothorax.")
	case patternPneumonia:
		fmt.Fprintf(&b, "The %s radiograph demonstrates focal airspace consolidation, most pronounced in the %s. ", view, profile.AffectedAreas[0])
		fmt.Fprintf(&b, "Appearance in this %d-year-old patient is consistent with an infectious process of severity grade %d.", patient.Age, severity)
	case patternTuberculosis:
		fmt.Fprintf(&b, "The %s radiograph shows fibronodular opacities involving the %s with possible cavitation. ", view, profile.AffectedAreas[0])
		fmt.Fprintf(&b, "Given the reported history, reactivation tuberculosis should be excluded in this %d-year-old patient.", patient.Age)
	case patternCardiomegaly:
		fmt.Fprintf(&b, "The %s radiograph shows an enlarged cardiac silhouette with vascular redistribution toward the %s. ", view, profile.AffectedAreas[1])
		fmt.Fprintf(&b, "Findings in this %d-year-old patient suggest decompensating cardiac function, severity grade %d.", patient.Age, severity)
	case patternPleuralEffusion:
		fmt.Fprintf(&b, "The %s radiograph demonstrates blunting of the %s with a meniscus sign, consistent with pleural fluid. ", view, profile.AffectedAreas[0])
		fmt.Fprintf(&b, "Volume is moderate for a patient aged %d.", patient.Age)
	case patternCOPD:
		fmt.Fprintf(&b, "The %s radiograph shows hyperinflated lung fields with flattened hemidiaphragms in this %d-year-old patient. ", view, patient.Age)
		b.WriteString("Attenuated peripheral vascular markings are in keeping with chronic obstructive changes.")
	}

	if cond := strings.TrimSpace(patient.SuspectedCondition); cond != "" {
		fmt.Fprintf(&b, " Clinical suspicion of %s was noted on the request.", cond)
	}
	return b.String()
}

func recommendationsText(profile patternProfile, patient PatientContext, severity int) string {
	urgent := ""
	if severity >= 4 {
		urgent = " Urgent clinical correlation is advised."
	}
	switch profile.Class {
	case patternNormal:
		return "No acute findings. Routine follow-up as clinically indicated."
	case patternPneumonia:
		return "Recommend clinical correlation, inflammatory markers and empiric antibiotic therapy per local guidelines. Follow-up radiograph in 4-6 weeks to confirm resolution." + urgent
	case patternTuberculosis:
		return "Recommend sputum sampling for acid-fast bacilli, respiratory isolation pending results, and referral to the tuberculosis service." + urgent
	case patternCardiomegaly:
		return "Recommend echocardiography, BNP measurement and cardiology review. Optimize volume status and blood-pressure control." + urgent
	case patternPleuralEffusion:
		return "Recommend lateral decubitus views or ultrasound to quantify the effusion; consider diagnostic thoracentesis." + urgent
	case patternCOPD:
		return "Recommend pulmonary function testing and smoking-cessation counselling. Compare with prior imaging to assess progression." + urgent
	}
	return "Clinical correlation recommended."
}
