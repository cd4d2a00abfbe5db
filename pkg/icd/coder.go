// Package icd assigns diagnosis codes to a chart. Conditions named by the
// language model are resolved through the reference catalog when possible
// and otherwise keep the model's own code.
package icd

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/mdm-pipeline/pkg/common/logger"
	"github.com/synaptica-ai/mdm-pipeline/pkg/inference"
)

const (
	SourceCatalog = "database"
	SourceModel   = "model"
)

type HyperLink struct {
	ExactSentence string `json:"exact_sentence"`
	Page          *int   `json:"page"`
}

type Condition struct {
	Condition      string     `json:"condition"`
	ICDCode        string     `json:"icd_code"`
	ICDDescription string     `json:"icd_description"`
	IsPrimary      bool       `json:"is_primary"`
	HyperLink      *HyperLink `json:"hyperLink,omitempty"`
	Source         string     `json:"source"`
}

// Coding is the diagnosis section of the EM result.
type Coding struct {
	PrimaryCondition   *Condition  `json:"primary_condition"`
	SecondaryCondition []Condition `json:"secondary_condition"`
	Error              string      `json:"error,omitempty"`
}

type wireCondition struct {
	Condition      string          `json:"condition"`
	ICDCode        string          `json:"icd_code"`
	ICDDescription string          `json:"icd_description"`
	ExactSentence  string          `json:"exact_sentence"`
	Page           json.RawMessage `json:"page"`
}

type wireCoding struct {
	PrimaryCondition   *wireCondition  `json:"primary_condition"`
	SecondaryCondition []wireCondition `json:"secondary_condition"`
}

type Coder struct {
	inferer inference.Inferer
	catalog Catalog
	timeout time.Duration
}

// NewCoder accepts a nil catalog, in which case the model's codes are used as-is.
func NewCoder(inferer inference.Inferer, catalog Catalog, timeout time.Duration) *Coder {
	return &Coder{inferer: inferer, catalog: catalog, timeout: timeout}
}

// Code never fails the chart: extraction problems are reported in Coding.Error.
func (c *Coder) Code(ctx context.Context, document string) *Coding {
	var wire wireCoding
	if err := inference.AskJSON(ctx, c.inferer, c.timeout, document, inference.DiagnosisInstructions, &wire); err != nil {
		logger.Log.WithError(err).Warn("diagnosis extraction failed")
		return &Coding{Error: err.Error()}
	}
	if wire.PrimaryCondition == nil {
		return &Coding{Error: "missing primary_condition in model answer"}
	}

	out := &Coding{SecondaryCondition: []Condition{}}
	if primary, ok := c.resolve(ctx, *wire.PrimaryCondition); ok {
		primary.IsPrimary = true
		out.PrimaryCondition = &primary
	}
	for _, w := range wire.SecondaryCondition {
		if secondary, ok := c.resolve(ctx, w); ok {
			out.SecondaryCondition = append(out.SecondaryCondition, secondary)
		}
	}
	return out
}

// resolve reports false when no code could be assigned.
func (c *Coder) resolve(ctx context.Context, w wireCondition) (Condition, bool) {
	cond := Condition{
		Condition:      strings.TrimSpace(w.Condition),
		ICDCode:        Compact(w.ICDCode),
		ICDDescription: w.ICDDescription,
		Source:         SourceModel,
	}
	if w.ExactSentence != "" {
		cond.HyperLink = &HyperLink{ExactSentence: w.ExactSentence, Page: inference.ParsePage(w.Page)}
	}

	if c.catalog != nil && cond.Condition != "" {
		log := logger.WithFields(logrus.Fields{"condition": cond.Condition})
		if code, found, err := c.lookup(ctx, cond.Condition); err != nil {
			log.WithError(err).Warn("catalog lookup failed, using model code")
		} else if found {
			cond.ICDCode = code.Compact
			cond.ICDDescription = code.Description
			cond.Source = SourceCatalog
		} else {
			log.Debug("condition not in catalog, using model code")
		}
	}

	return cond, cond.ICDCode != ""
}

func (c *Coder) lookup(ctx context.Context, condition string) (*Code, bool, error) {
	synonym, found, err := c.catalog.LookupSynonym(ctx, condition)
	if err != nil || !found {
		return nil, false, err
	}
	return c.catalog.LookupCode(ctx, synonym)
}
