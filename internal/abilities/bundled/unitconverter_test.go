package bundled

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riyogarta/synebot/internal/abilities"
)

func TestUnitConverterExecuteLength(t *testing.T) {
	u := NewUnitConverter()
	res, err := u.Execute(context.Background(), map[string]interface{}{
		"value": 5.0,
		"from":  "km",
		"to":    "mi",
	}, abilities.Context{})
	require.NoError(t, err)
	require.True(t, res.Success, "expected success, got error %q", res.Error)
}

func TestUnitConverterExecuteTemperature(t *testing.T) {
	u := NewUnitConverter()
	res, err := u.Execute(context.Background(), map[string]interface{}{
		"value": 100.0,
		"from":  "c",
		"to":    "f",
	}, abilities.Context{})
	require.NoError(t, err)
	require.True(t, res.Success, "expected success, got error %q", res.Error)
}

func TestUnitConverterExecuteMismatchedDimensions(t *testing.T) {
	u := NewUnitConverter()
	res, _ := u.Execute(context.Background(), map[string]interface{}{
		"value": 5.0,
		"from":  "kg",
		"to":    "mi",
	}, abilities.Context{})
	assert.False(t, res.Success, "expected failure converting weight to length")
}

func TestUnitConverterPreProcessRecognizesPlainLanguage(t *testing.T) {
	u := NewUnitConverter()
	out, err := u.PreProcess(context.Background(), abilities.InputText, "convert 10 km to mi", "", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, out, "expected a direct answer for a recognizable conversion question")
}

func TestUnitConverterPreProcessDeclinesUnrelatedText(t *testing.T) {
	u := NewUnitConverter()
	out, err := u.PreProcess(context.Background(), abilities.InputText, "what's the weather like today", "", nil)
	require.NoError(t, err)
	assert.Empty(t, out, "expected no match")
}

func TestUnitConverterSchemaIsValid(t *testing.T) {
	u := NewUnitConverter()
	assert.True(t, u.GetSchema().Valid())
}
