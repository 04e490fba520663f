package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundwatch/etp-tracker/internal/model"
)

func TestFormatStatuses(t *testing.T) {
	eff := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	statuses := []model.ProductStatus{
		{
			ProductID:      "C000180001",
			Name:           "Fixture Treasury ETF",
			Ticker:         "FIXT",
			Status:         model.StatusEffective,
			EffectiveDate:  &eff,
			DateConfidence: model.ConfidenceHeader,
			LatestForm:     "485BPOS",
		},
		{
			ProductID:  "S000090002",
			Name:       "Fixture Crypto Income ETF",
			Status:     model.StatusDelayed,
			LatestForm: "485BXT",
		},
	}

	var buf bytes.Buffer
	formatStatuses(&buf, statuses)

	output := buf.String()
	assert.Contains(t, output, "PRODUCT")
	assert.Contains(t, output, "C000180001")
	assert.Contains(t, output, "FIXT")
	assert.Contains(t, output, "EFFECTIVE")
	assert.Contains(t, output, "2026-03-15")
	assert.Contains(t, output, "HEADER")
	assert.Contains(t, output, "DELAYED")
	assert.Contains(t, output, "485BXT")
}

func TestFormatRunsList(t *testing.T) {
	started := time.Date(2026, 6, 15, 10, 30, 0, 0, time.UTC)
	runs := []model.RunSummary{
		{
			ID:          "abc12345-6789-0000-0000-000000000000",
			StartedAt:   started,
			Duration:    92 * time.Second,
			Filers:      78,
			NewDocs:     14,
			SkippedDocs: 3120,
			ErroredDocs: 1,
			Errors:      []model.FilerError{{FilerCIK: "1424958", Step: "discovery", Message: "boom"}},
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "abc12345")
	assert.Contains(t, output, "2026-06-15 10:30")
	assert.Contains(t, output, "1m32s")
	assert.Contains(t, output, "78")
	assert.Contains(t, output, "3120")
}

func TestFindRun(t *testing.T) {
	runs := []model.RunSummary{
		{ID: "abc12345-0000"},
		{ID: "abd99999-0000"},
	}

	got, err := findRun(runs, "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc12345-0000", got.ID)

	_, err = findRun(runs, "ab")
	require.Error(t, err)

	_, err = findRun(runs, "zzz")
	require.Error(t, err)
}

func TestFormatHistory(t *testing.T) {
	history := []model.NameChange{
		{FilingDate: time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), Form: "485APOS", Accession: "0009-26-000001", Name: "Fixture Treasury ETF"},
		{FilingDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), Form: "485BPOS", Accession: "0009-26-000003", Name: "Fixture US Treasury ETF"},
	}

	var buf bytes.Buffer
	formatHistory(&buf, history)

	output := buf.String()
	assert.Contains(t, output, "2026-01-10")
	assert.Contains(t, output, "Fixture Treasury ETF")
	assert.Contains(t, output, "Fixture US Treasury ETF")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
}
