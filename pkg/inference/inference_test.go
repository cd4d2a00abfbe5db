package inference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/logger"
	"github.com/synaptica-ai/mdm-pipeline/pkg/mdm"
)

func init() {
	logger.Silence()
}

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   string
	}{
		{
			name:   "plain object",
			answer: `{"a": 1}`,
			want:   `{"a": 1}`,
		},
		{
			name:   "reasoning and fence",
			answer: "<think>let me see {not json}</think>\n```json\n{\"a\": [1, 2,]}\n```",
			want:   `{"a": [1, 2]}`,
		},
		{
			name:   "comments and trailing comma",
			answer: "Here you go:\n{\n  \"a\": 1, // the count\n  \"b\": \"x\",\n}\nThanks",
			want:   `{"a": 1, "b": "x"}`,
		},
		{
			name:   "slashes inside strings survive",
			answer: `{"url": "http://example.com/a,}", "n": 2}`,
			want:   `{"url": "http://example.com/a,}", "n": 2}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CleanJSON(tt.answer)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestCleanJSONRejectsProse(t *testing.T) {
	_, err := CleanJSON("I could not find anything relevant.")
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = CleanJSON("{this is not: json}")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestClientInfer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, 0.0, req.Temperature)
		if assert.Len(t, req.Messages, 2) {
			assert.Equal(t, "system", req.Messages[0].Role)
			assert.Equal(t, "rules", req.Messages[0].Content)
			assert.Equal(t, "user", req.Messages[1].Role)
			assert.Equal(t, "chart", req.Messages[1].Content)
		}

		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"ok\":true}"}}]}`))
	}))
	defer server.Close()

	client := NewClient(server.Client(), "secret", server.URL+"/", "test-model")
	answer, err := client.Infer(context.Background(), "chart", "rules")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, answer)
}

func TestClientInferErrors(t *testing.T) {
	status := http.StatusOK
	body := `{"choices":[]}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	client := NewClient(server.Client(), "", server.URL, "m")

	_, err := client.Infer(context.Background(), "chart", "rules")
	assert.ErrorIs(t, err, ErrEmptyAnswer)

	status, body = http.StatusBadGateway, "upstream down"
	_, err = client.Infer(context.Background(), "chart", "rules")
	assert.Error(t, err)

	_, err = NewClient(server.Client(), "", "", "").Infer(context.Background(), "chart", "rules")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

type fakeInferer struct {
	answers map[string]string
	errs    map[string]error
	hang    map[string]bool
}

func (f *fakeInferer) Infer(ctx context.Context, _ string, instructions string) (string, error) {
	if f.hang[instructions] {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err := f.errs[instructions]; err != nil {
		return "", err
	}
	return f.answers[instructions], nil
}

func twoAcuteAnswers() map[string]string {
	return map[string]string{
		visitInstructions: `{"visit_type": "Office", "age": 34, "cpt_code": "00000"}`,
		problemsInstructions: "```json\n" + `{
			"patientType": "established",
			"conditions": [
				{"condition": "Sinusitis", "category": "aui", "exact_sentence": "acute sinusitis", "page": "2"},
				{"condition": "Otitis media", "category": "AUI", "exact_sentence": "otitis media", "page": 2},
				{"condition": "Mystery", "category": "XYZ", "exact_sentence": "unclear", "page": 2},
			]
		}` + "\n```",
		dataInstructions: `{
			"RENOTE": {"answer": 0, "exact_sentence": "", "page": null},
			"RTEST": {"answer": "0", "exact_sentence": "", "page": null},
			"OTEST": {"answer": 0, "exact_sentence": "", "page": null},
			"IHIST": {"answer": "no", "exact_sentence": "", "page": null},
			"IINTERP": {"answer": false, "exact_sentence": "", "page": null},
			"DMEXT": {"answer": "no", "exact_sentence": "", "page": null}
		}`,
		riskInstructions: `{
			"MIN_RISK": {"answer": "yes", "exact_sentence": "rest and fluids", "page": 3},
			"RX_MGMT": {"answer": "no", "exact_sentence": "", "page": null}
		}`,
		demographicsInstructions: `{"name": "Jane Roe", "insuranceName": "Acme Health", "patientType": "NEW"}`,
	}
}

func TestExtractorJoinsSections(t *testing.T) {
	inferer := &fakeInferer{answers: twoAcuteAnswers()}

	x := NewExtractor(inferer, time.Second).Extract(context.Background(), "chart text")

	assert.Empty(t, x.Failures)
	assert.Equal(t, mdm.VisitOffice, x.Facts.Visit.Type)
	assert.Equal(t, "34", x.Facts.Visit.Age)
	assert.Equal(t, "00000", x.Facts.Visit.CPTCode)
	assert.Equal(t, mdm.PatientEstablished, x.Facts.PatientType)

	require.NotNil(t, x.Facts.Problems)
	require.Len(t, x.Facts.Problems.Findings, 2)
	assert.Equal(t, mdm.AcuteUncomplicated, x.Facts.Problems.Findings[0].Category)
	require.NotNil(t, x.Facts.Problems.Findings[0].Page)
	assert.Equal(t, 2, *x.Facts.Problems.Findings[0].Page)

	require.NotNil(t, x.Facts.Data)
	assert.Equal(t, 0, x.Facts.Data.RTEST.N())
	assert.False(t, x.Facts.Data.IINTERP.Value)

	assert.True(t, x.Facts.Risk.Has(mdm.RiskMinimal))
	assert.Equal(t, "rest and fluids", x.Facts.Risk[mdm.RiskMinimal].Evidence)
	assert.False(t, x.Facts.Risk.Has(mdm.RiskPrescriptionManagement))

	require.NotNil(t, x.Demographics)
	assert.Equal(t, "Acme Health", x.Demographics.InsuranceName)

	assessment := mdm.NewEngine(mdm.DefaultTables()).Score(context.Background(), x.Facts)
	assert.Equal(t, "99212", assessment.CPTCode)
}

func TestExtractorIsolatesFailures(t *testing.T) {
	answers := twoAcuteAnswers()
	answers[riskInstructions] = "no idea"
	inferer := &fakeInferer{
		answers: answers,
		errs:    map[string]error{dataInstructions: errors.New("connection reset")},
		hang:    map[string]bool{visitInstructions: true},
	}

	x := NewExtractor(inferer, 50*time.Millisecond).Extract(context.Background(), "chart text")

	assert.Equal(t, []string{SectionData, SectionRisk, SectionVisit}, x.Failed())
	assert.Nil(t, x.Facts.Data)
	assert.Nil(t, x.Facts.Risk)
	assert.Equal(t, mdm.VisitUnknown, x.Facts.Visit.Type)
	assert.NotNil(t, x.Facts.Problems)
	assert.NotNil(t, x.Demographics)
	assert.ErrorIs(t, x.Errors[SectionRisk], ErrMalformed)
	assert.True(t, x.Transient())
}

func TestExtractionTransient(t *testing.T) {
	answers := twoAcuteAnswers()
	answers[problemsInstructions] = "I could not find any problems."
	answers[dataInstructions] = "```json\n{\"RENOTE\": \n```"
	answers[riskInstructions] = ""
	x := NewExtractor(&fakeInferer{answers: answers}, time.Second).Extract(context.Background(), "chart")

	assert.Equal(t, []string{SectionData, SectionProblems, SectionRisk}, x.Failed())
	assert.False(t, x.Transient())

	assert.True(t, (&Extraction{Failures: map[string]string{SectionRisk: "timeout"}}).Transient())
	assert.False(t, (&Extraction{Failures: map[string]string{SectionVisit: "timeout"}}).Transient())
}

func TestExtractorFallsBackToDemographicPatientType(t *testing.T) {
	answers := twoAcuteAnswers()
	answers[problemsInstructions] = `{"patientType": "", "conditions": []}`
	x := NewExtractor(&fakeInferer{answers: answers}, time.Second).Extract(context.Background(), "chart")

	assert.Equal(t, mdm.PatientNew, x.Facts.PatientType)
}

func TestWireFactCounts(t *testing.T) {
	var f wireFact
	require.NoError(t, json.Unmarshal([]byte(`{"answer": "yes", "exact_sentence": "CBC ordered"}`), &f))
	assert.Equal(t, 1, f.countFact().N())

	require.NoError(t, json.Unmarshal([]byte(`{"count": "3", "answer": "yes"}`), &f))
	assert.Equal(t, 3, f.countFact().N())

	var none wireFact
	assert.Nil(t, none.countFact().Count)
	assert.False(t, none.boolFact().Value)
}
