package fetcher

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efdreinf/reinf-cli/internal/model"
)

func TestKeyRows(t *testing.T) {
	rows := KeyRows([][]string{
		{" nome ", "CPF", "", "DEPENDENCIA"},
		{"JOAO", "111", "ignored", "TITULAR"},
		{"", "", "", ""},
		{"MARIA", "222"},
	})

	require.Len(t, rows, 2)
	assert.Equal(t, model.Row{"NOME": "JOAO", "CPF": "111", "DEPENDENCIA": "TITULAR"}, rows[0])
	assert.Equal(t, "", rows[1].Get("DEPENDENCIA"))
	assert.Equal(t, "MARIA", rows[1].Get("NOME"))
}

func TestKeyRows_Empty(t *testing.T) {
	assert.Nil(t, KeyRows(nil))
	assert.Empty(t, KeyRows([][]string{{"NOME"}}))
}

func TestLoadRows_XLSX(t *testing.T) {
	path := createTestXLSX(t, testSheet{"MAR 2025", [][]string{
		{"PLANILHA MARCO 2025"},
		{"NOME", "CPF", "DEPENDENCIA", "TOTAL"},
		{"JOAO", "111.111.111-11", "TITULAR", "100,00"},
	}})

	rows, err := LoadRows(path, SheetOptions{SheetName: "MAR 2025", SkipRows: 1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "100,00", rows[0].Get("TOTAL"))
}

func TestLoadRows_CSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dados.csv")
	require.NoError(t, writeTestFile(path, "NOME;CPF;DEPENDENCIA\nJOAO;111;TITULAR\n"))

	rows, err := LoadRows(path, SheetOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "TITULAR", rows[0].Get("DEPENDENCIA"))
}

func TestLoadRows_UnsupportedExtension(t *testing.T) {
	_, err := LoadRows("dados.ods", SheetOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported sheet format")
}
