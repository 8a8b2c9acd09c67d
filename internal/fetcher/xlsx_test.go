package fetcher

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

type testSheet struct {
	name string
	rows [][]string
}

func createTestXLSX(t *testing.T, sheets ...testSheet) string {
	t.Helper()
	f := xlsx.NewFile()
	for _, s := range sheets {
		sheet, err := f.AddSheet(s.name)
		require.NoError(t, err)
		for _, rowData := range s.rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				cell := row.AddCell()
				cell.SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "dados.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadXLSX_Basic(t *testing.T) {
	path := createTestXLSX(t, testSheet{"MAR 2025", [][]string{
		{"NOME", "CPF", "DEPENDENCIA"},
		{"JOAO", "111.111.111-11", "TITULAR"},
		{"MARIA", "222.222.222-22", "ESPOSA"},
	}})

	rows, err := ReadXLSX(path, XLSXOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"NOME", "CPF", "DEPENDENCIA"}, rows[0])
	assert.Equal(t, []string{"MARIA", "222.222.222-22", "ESPOSA"}, rows[2])
}

func TestReadXLSX_SkipRows(t *testing.T) {
	path := createTestXLSX(t, testSheet{"Sheet1", [][]string{
		{"RELATORIO MARCO"},
		{"NOME", "CPF"},
		{"a", "b"},
	}})

	rows, err := ReadXLSX(path, XLSXOptions{SkipRows: 1})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"NOME", "CPF"}, rows[0])
	assert.Equal(t, []string{"a", "b"}, rows[1])
}

func TestReadXLSX_SheetName(t *testing.T) {
	path := createTestXLSX(t,
		testSheet{"FEV 2025", [][]string{{"a", "b"}}},
		testSheet{"MAR 2025", [][]string{{"x", "y"}, {"1", "2"}}},
	)

	rows, err := ReadXLSX(path, XLSXOptions{SheetName: "MAR 2025"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"x", "y"}, rows[0])
}

func TestReadXLSX_SheetNameNotFound(t *testing.T) {
	path := createTestXLSX(t, testSheet{"Sheet1", [][]string{{"a"}}})

	_, err := ReadXLSX(path, XLSXOptions{SheetName: "Missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestReadXLSX_SheetIndexOutOfRange(t *testing.T) {
	path := createTestXLSX(t, testSheet{"Sheet1", [][]string{{"a"}}})

	_, err := ReadXLSX(path, XLSXOptions{SheetIndex: 5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestReadXLSX_MissingFile(t *testing.T) {
	_, err := ReadXLSX(filepath.Join(t.TempDir(), "nope.xlsx"), XLSXOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xlsx: open file")
}

func TestSheetNames(t *testing.T) {
	path := createTestXLSX(t,
		testSheet{"FEV 2025", [][]string{{"a"}}},
		testSheet{"MAR 2025", [][]string{{"b"}}},
	)

	names, err := SheetNames(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"FEV 2025", "MAR 2025"}, names)
}
