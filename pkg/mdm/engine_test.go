package mdm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/httpclient"
)

func TestScoreTwoAcuteEstablishedVisit(t *testing.T) {
	engine := NewEngine(DefaultTables())

	got := engine.Score(context.Background(), ClinicalFacts{
		Problems: &ProblemFacts{Counts: map[ProblemCategory]CountFact{
			AcuteUncomplicated: count(2, "URI, otitis", 1),
		}},
		Data:        &DataFacts{OTEST: count(1, "rapid strep", 2)},
		Risk:        RiskFacts{},
		PatientType: PatientEstablished,
		Visit:       VisitFacts{Type: VisitOffice},
	})

	assert.Equal(t, Moderate, got.ProblemsLevel)
	assert.Equal(t, Straightforward, got.DataLevel)
	assert.Equal(t, Straightforward, got.RiskLevel)
	assert.Equal(t, Straightforward, got.FinalLevel)
	assert.Equal(t, "99212", got.CPTCode)
	assert.False(t, got.VisitOverride)
	assert.Empty(t, got.Degraded)
	assert.Equal(t, "table", got.Evaluator)
}

func TestScoreDefaultsMissingAxes(t *testing.T) {
	engine := NewEngine(DefaultTables())

	got := engine.Score(context.Background(), ClinicalFacts{
		Risk: RiskFacts{RiskDNR: yes("DNR", 2)},
	})

	assert.Equal(t, Straightforward, got.ProblemsLevel)
	assert.Equal(t, Straightforward, got.DataLevel)
	assert.Equal(t, High, got.RiskLevel)
	assert.Equal(t, Straightforward, got.FinalLevel)
	assert.Equal(t, "99202", got.CPTCode)
	assert.Equal(t, []string{"problems", "data"}, got.Degraded)
}

func TestScoreVisitOverrideReplacesCode(t *testing.T) {
	engine := NewEngine(DefaultTables())

	got := engine.Score(context.Background(), ClinicalFacts{
		PatientType: PatientNew,
		Visit:       VisitFacts{Type: "EMERGENCY", CPTCode: "99284"},
	})

	assert.True(t, got.VisitOverride)
	assert.Equal(t, "99284", got.CPTCode)
	assert.Equal(t, "99202", got.ComputedCPTCode)
}

func TestAssessmentJSONUsesLevelNames(t *testing.T) {
	got := NewEngine(DefaultTables()).Score(context.Background(), ClinicalFacts{})
	raw, err := json.Marshal(got)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "straightforward", decoded["finalLevel"])
}

func TestRemoteEvaluator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ruleRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "mdm_levels", req.Query)
		w.Write([]byte(`{"problems":"High","data":"moderate","risk":"low"}`))
	}))
	defer srv.Close()

	remote := NewRemoteEvaluator(httpclient.New(time.Second), srv.URL, httpclient.Policy{Attempts: 1})
	engine := NewEngine(DefaultTables(), WithEvaluator(remote))

	got := engine.Score(context.Background(), ClinicalFacts{
		Problems: &ProblemFacts{}, Data: &DataFacts{}, Risk: RiskFacts{}, PatientType: PatientEstablished,
	})
	assert.Equal(t, "remote", got.Evaluator)
	assert.Equal(t, Moderate, got.FinalLevel)
	assert.Equal(t, "99214", got.CPTCode)
}

func TestRemoteEvaluatorFailureFallsBackToTables(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "prolog down", http.StatusBadGateway)
	}))
	defer srv.Close()

	remote := NewRemoteEvaluator(httpclient.New(time.Second), srv.URL, httpclient.Policy{Attempts: 2, Interval: time.Millisecond})
	engine := NewEngine(DefaultTables(), WithEvaluator(remote))

	got := engine.Score(context.Background(), ClinicalFacts{
		Problems: &ProblemFacts{Counts: map[ProblemCategory]CountFact{StableChronic: count(2, "DM2, HTN", 1)}},
		Data:     &DataFacts{IINTERP: yes("CXR read", 1)},
		Risk:     RiskFacts{},
	})
	assert.Equal(t, "table", got.Evaluator)
	assert.Equal(t, Moderate, got.FinalLevel)
}

func TestLoadTables(t *testing.T) {
	tables, err := LoadTables("")
	require.NoError(t, err)
	assert.Equal(t, DefaultTables(), tables)

	path := filepath.Join(t.TempDir(), "tables.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
problems:
  SLM: {single: low, multiple: moderate}
risk:
  sdohLimit: high
cpt:
  established:
    straightforward: "99211"
`), 0o600))

	tables, err = LoadTables(path)
	require.NoError(t, err)
	assert.Equal(t, LevelPair{Single: Low, Multiple: Moderate}, tables.Problems[SelfLimited])
	assert.Equal(t, High, tables.Risk[RiskSocialDeterminants])
	assert.Equal(t, "99211", tables.LookupCPT(Straightforward, PatientEstablished))
	assert.Equal(t, "99213", tables.LookupCPT(Low, PatientEstablished))
}

func TestLoadTablesRejectsUnknownEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.yaml")
	require.NoError(t, os.WriteFile(path, []byte("risk:\n  madeUp: high\n"), 0o600))

	_, err := LoadTables(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("risk:\n  dnr: extreme\n"), 0o600))
	_, err = LoadTables(path)
	assert.Error(t, err)
}

func TestLoadTablesRejectsNonMonotoneRisk(t *testing.T) {
	require.NoError(t, DefaultTables().Validate())

	path := filepath.Join(t.TempDir(), "tables.yaml")
	require.NoError(t, os.WriteFile(path, []byte("risk:\n  dnr: low\n"), 0o600))

	_, err := LoadTables(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dnr")
}

func TestLoadTablesMissingFileKeepsDefaults(t *testing.T) {
	tables, err := LoadTables(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
	assert.Equal(t, DefaultTables(), tables)
}
