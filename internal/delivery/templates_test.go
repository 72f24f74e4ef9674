package delivery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTemplates(t *testing.T) {
	tpl, err := NewTemplates(TemplateSet{})
	require.NoError(t, err)

	subject, body, err := tpl.Group(GroupMail{GroupID: "Grup_1", GroupName: "NURHAN", FileName: "NURHAN-0309_1405.xlsx", RowCount: 12, Sender: "Excel Bot"})
	require.NoError(t, err)
	assert.Equal(t, "NURHAN report - NURHAN-0309_1405.xlsx", subject)
	assert.Contains(t, body, "12-row report for group NURHAN")
	assert.Contains(t, body, "Excel Bot")

	subject, body, err = tpl.Bundle(BundleMail{SourceFile: "musteri.xlsx", Time: "14:05", FileCount: 3})
	require.NoError(t, err)
	assert.Equal(t, "Data report 14:05 - musteri.xlsx: input and output files", subject)
	assert.Contains(t, body, "all 3 produced")
}

func TestTemplateOverrides(t *testing.T) {
	tpl, err := NewTemplates(TemplateSet{
		GroupSubject: "{{ group_name | upcase }} Raporu ({{ row_count }})",
	})
	require.NoError(t, err)

	subject, body, err := tpl.Group(GroupMail{GroupName: "nurhan", RowCount: 3})
	require.NoError(t, err)
	assert.Equal(t, "NURHAN Raporu (3)", subject)
	assert.Contains(t, body, "3-row report")
}

func TestTemplateParseError(t *testing.T) {
	_, err := NewTemplates(TemplateSet{BundleBody: "{% if %}"})
	assert.ErrorContains(t, err, "bundle body")
}
