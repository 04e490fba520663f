package extract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundwatch/etp-tracker/internal/model"
)

func TestFindEffectiveDateHighConfidence(t *testing.T) {
	texts := []string{
		"shall become effective on March 15, 2026 pursuant to paragraph (b) of rule 485",
		"designating March 15, 2026 as the new effective date for the registration statement",
		"the effective date of March 15, 2026 applies to all classes",
	}
	for _, txt := range texts {
		d, conf, _ := findEffectiveDate(txt)
		require.NotNil(t, d, txt)
		assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), *d)
		assert.Equal(t, model.ConfidenceHighText, conf)
	}
}

func TestFindEffectiveDateLowConfidence(t *testing.T) {
	d, conf, _ := findEffectiveDate("The Fund will become effective on March 15, 2026.")
	require.NotNil(t, d)
	assert.Equal(t, model.ConfidenceLowText, conf)

	d, conf, _ = findEffectiveDate("effective as of 3/15/2026 per the prior filing")
	require.NotNil(t, d)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), *d)
	assert.Equal(t, model.ConfidenceLowText, conf)
}

func TestFindEffectiveDateDelaying(t *testing.T) {
	d, conf, delaying := findEffectiveDate(
		"The Registrant hereby amends this registration statement under rule 485(a); this is a delaying amendment.")
	assert.Nil(t, d)
	assert.Equal(t, model.ConfidenceNone, conf)
	assert.True(t, delaying)

	// Delaying detection works alongside a found date.
	_, _, delaying = findEffectiveDate(
		"Filed to delay the effective date; will become effective on June 1, 2026.")
	assert.True(t, delaying)
}

func TestFindEffectiveDateNone(t *testing.T) {
	d, conf, delaying := findEffectiveDate("nothing relevant in this supplement")
	assert.Nil(t, d)
	assert.Equal(t, model.ConfidenceNone, conf)
	assert.False(t, delaying)

	d, _, _ = findEffectiveDate("")
	assert.Nil(t, d)
}

func TestParseDatePhrase(t *testing.T) {
	want := time.Date(2025, 11, 7, 0, 0, 0, 0, time.UTC)
	for _, s := range []string{"November 7, 2025", "November 7 2025", "11/7/2025", "2025-11-07"} {
		d := parseDatePhrase(s)
		require.NotNil(t, d, s)
		assert.Equal(t, want, *d, s)
	}
	assert.Nil(t, parseDatePhrase("Smarch 1, 2026"))
	assert.Nil(t, parseDatePhrase(""))
}
