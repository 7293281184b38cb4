package domain

// Treatment outcome vocabulary. The normalizer maps spelling and punctuation
// variants onto these tokens; the evaluator checks token equality only.
const (
	OutcomeFailed             = "failed"
	OutcomeInadequateResponse = "inadequate_response"
	OutcomePartialResponse    = "partial_response"
	OutcomeSteroidDependent   = "steroid_dependent"
	OutcomeIntolerant         = "intolerant"
	OutcomeContraindicated    = "contraindicated"
)

// Screening type tokens.
const (
	ScreeningTB         = "tb"
	ScreeningHepatitisB = "hepatitis_b"
	ScreeningHepatitisC = "hepatitis_c"
)

// NormalizedTreatment is a prior treatment record in evaluator-friendly form.
type NormalizedTreatment struct {
	MedicationName string `json:"medication_name"`
	DrugClass      string `json:"drug_class,omitempty"`
	DurationWeeks  *int   `json:"duration_weeks,omitempty"`
	Outcome        string `json:"outcome,omitempty"`
	AdequateTrial  bool   `json:"adequate_trial"`
}

// NormalizedLabResult is a flattened lab result. Value is set only when the
// raw value parsed as a number.
type NormalizedLabResult struct {
	TestName  string   `json:"test_name"`
	LOINCCode string   `json:"loinc_code,omitempty"`
	Value     *float64 `json:"value,omitempty"`
	Unit      string   `json:"unit,omitempty"`
	Date      string   `json:"date,omitempty"`
	Flag      string   `json:"flag,omitempty"`
}

// NormalizedScreening is a safety screening with canonical type token.
// Completed requires an explicit completion marker in the source record.
type NormalizedScreening struct {
	ScreeningType  string `json:"screening_type"`
	Completed      bool   `json:"completed"`
	ResultNegative *bool  `json:"result_negative,omitempty"`
	Date           string `json:"date,omitempty"`
}

// NormalizedBiomarker is a biomarker result (cross-therapeutic extension).
type NormalizedBiomarker struct {
	BiomarkerName string   `json:"biomarker_name"`
	Result        string   `json:"result,omitempty"`
	Value         *float64 `json:"value,omitempty"`
	Unit          string   `json:"unit,omitempty"`
	Positive      *bool    `json:"positive,omitempty"`
}

// NormalizedFunctionalScore is a functional or performance score (CDAI, ECOG,
// NYHA, EDSS and similar).
type NormalizedFunctionalScore struct {
	ScoreType      string   `json:"score_type"`
	ScoreValue     *float64 `json:"score_value,omitempty"`
	Interpretation string   `json:"interpretation,omitempty"`
}

// NormalizedImagingResult is an imaging or endoscopic procedure result.
type NormalizedImagingResult struct {
	Modality        string   `json:"modality"`
	Date            string   `json:"date,omitempty"`
	FindingsSummary string   `json:"findings_summary,omitempty"`
	ScoreType       string   `json:"score_type,omitempty"`
	ScoreValue      *float64 `json:"score_value,omitempty"`
}

// NormalizedGeneticTest is a genetic test result.
type NormalizedGeneticTest struct {
	TestName   string `json:"test_name"`
	Gene       string `json:"gene,omitempty"`
	Result     string `json:"result,omitempty"`
	Pathogenic *bool  `json:"pathogenic,omitempty"`
}

// NormalizedPatientData is the evaluator's input shape: flat by design, no
// free text. Undefined fields stay unset, never zero-defaulted.
type NormalizedPatientData struct {
	PatientID string `json:"patient_id,omitempty"`

	AgeYears *int   `json:"age_years,omitempty"`
	Gender   string `json:"gender,omitempty"`

	DiagnosisCodes  []string `json:"diagnosis_codes,omitempty"`
	DiseaseSeverity string   `json:"disease_severity,omitempty"`

	PriorTreatments []NormalizedTreatment `json:"prior_treatments,omitempty"`
	LabResults      []NormalizedLabResult `json:"lab_results,omitempty"`

	CompletedScreenings []NormalizedScreening `json:"completed_screenings,omitempty"`

	PrescriberSpecialty string `json:"prescriber_specialty,omitempty"`
	PrescriberNPI       string `json:"prescriber_npi,omitempty"`

	// Cross-therapeutic extensions.
	Biomarkers             []NormalizedBiomarker       `json:"biomarkers,omitempty"`
	FunctionalScores       []NormalizedFunctionalScore `json:"functional_scores,omitempty"`
	Staging                map[string]any              `json:"staging,omitempty"`
	ImagingResults         []NormalizedImagingResult   `json:"imaging_results,omitempty"`
	GeneticTests           []NormalizedGeneticTest     `json:"genetic_tests,omitempty"`
	ProgramEnrollments     []string                    `json:"program_enrollments,omitempty"`
	SiteOfCare             string                      `json:"site_of_care,omitempty"`
	InsuranceFormularyTier *int                        `json:"insurance_formulary_tier,omitempty"`
}
