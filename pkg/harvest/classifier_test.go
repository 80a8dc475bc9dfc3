package harvest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		token    string
		ext      string
		want     bool
	}{
		{"token then suffix", "voltage_EH_ts.txt", "EH", ".txt", true},
		{"token at end of stem", "run3_EH.txt", "EH", ".txt", true},
		{"token followed by digit", "run_EH2.txt", "EH", "txt", true},
		{"token runs into letters", "run_EHX.txt", "EH", ".txt", false},
		{"token inside word", "voltage_buzzerEH.txt", "EH", ".txt", false},
		{"no underscore before token", "EH_ts.txt", "EH", ".txt", false},
		{"wrong extension", "voltage_EH_ts.csv", "EH", ".txt", false},
		{"extension case insensitive", "voltage_EH_ts.TXT", "EH", ".txt", true},
		{"empty token", "voltage_EH_ts.txt", "", ".txt", false},
		{"directory part ignored", "data_EH/run.txt", "EH", ".txt", false},
		{"later occurrence matches", "a_EHX_EH_1.txt", "EH", ".txt", true},
		{"summary token", "run_summary.txt", "summary", ".txt", true},
		{"empty name", "", "EH", ".txt", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.filename, tt.token, tt.ext))
		})
	}
}

func TestNewClassifierValidation(t *testing.T) {
	_, err := NewClassifier(".txt", "", []RoleSpec{{Name: "EH", Token: "EH"}})
	assert.Error(t, err)

	_, err = NewClassifier(".txt", "summary", nil)
	assert.Error(t, err)

	_, err = NewClassifier(".txt", "summary", []RoleSpec{
		{Name: "EH", Token: "EH"},
		{Name: "other", Token: "EH"},
	})
	assert.Error(t, err, "duplicate token")

	_, err = NewClassifier(".txt", "summary", []RoleSpec{
		{Name: "EH", Token: "EH"},
		{Name: "EH", Token: "MFC"},
	})
	assert.Error(t, err, "duplicate name")

	_, err = NewClassifier(".txt", "summary", []RoleSpec{{Name: "x", Token: "summary"}})
	assert.Error(t, err, "token clashes with summary")
}

func TestClassifierResolveAndGroup(t *testing.T) {
	c, err := NewClassifier("txt", "summary", []RoleSpec{
		{Name: "EH", Token: "EH"},
		{Name: "MFC", Token: "MFC"},
		{Name: "buzzer", Token: "BZ"},
	})
	require.NoError(t, err)
	// extension is normalized to ".txt" and matched case-insensitively
	assert.Equal(t, SummaryRole(), c.Resolve("run_summary.TXT"))

	assert.Equal(t, SummaryRole(), c.Resolve("run_summary.txt"))
	assert.Equal(t, ChannelRole("EH"), c.Resolve("voltage_EH_ts.txt"))
	assert.Equal(t, ChannelRole("buzzer"), c.Resolve("voltage_BZ_ts.txt"))
	assert.Equal(t, RoleUnknown, c.Resolve("notes.md").Kind)
	assert.Equal(t, RoleUnknown, c.Resolve("voltage_EH_MFC.txt").Kind, "two tokens is ambiguous")

	summary, channels, unknown := c.Group([]string{
		"run_summary.txt",
		"voltage_EH_ts.txt",
		"voltage_MFC_1.txt",
		"voltage_MFC_2.txt",
		"readme.txt",
	})
	assert.Equal(t, []string{"run_summary.txt"}, summary)
	assert.Equal(t, []string{"voltage_EH_ts.txt"}, channels["EH"])
	assert.Equal(t, []string{"voltage_MFC_1.txt", "voltage_MFC_2.txt"}, channels["MFC"])
	assert.Empty(t, channels["buzzer"])
	assert.Equal(t, []string{"readme.txt"}, unknown)
}

func TestFileRoleString(t *testing.T) {
	assert.Equal(t, "summary", SummaryRole().String())
	assert.Equal(t, "MFC", ChannelRole("MFC").String())
	assert.Equal(t, "unknown", FileRole{}.String())
}
