package fetcher

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

func TestParseCSV_Comma(t *testing.T) {
	input := "NOME,CPF\nJOAO,111\n"
	rows, err := ParseCSV(strings.NewReader(input), CSVOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"JOAO", "111"}, rows[1])
}

func TestParseCSV_SniffsSemicolon(t *testing.T) {
	input := "NOME;CPF;TOTAL\nJOAO;111;1.234,56\n"
	rows, err := ParseCSV(strings.NewReader(input), CSVOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"JOAO", "111", "1.234,56"}, rows[1])
}

func TestParseCSV_ExplicitDelimiter(t *testing.T) {
	input := "a|b\n1|2\n"
	rows, err := ParseCSV(strings.NewReader(input), CSVOptions{Delimiter: '|'})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, rows[1])
}

func TestParseCSV_SkipRowsAndTrim(t *testing.T) {
	input := "titulo\n NOME , CPF \n JOAO , 111 \n"
	rows, err := ParseCSV(strings.NewReader(input), CSVOptions{SkipRows: 1})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"NOME", "CPF"}, rows[0])
	assert.Equal(t, []string{"JOAO", "111"}, rows[1])
}

func TestParseCSV_StripsBOM(t *testing.T) {
	input := "\ufeffNOME,CPF\nA,1\n"
	rows, err := ParseCSV(strings.NewReader(input), CSVOptions{})
	require.NoError(t, err)
	assert.Equal(t, "NOME", rows[0][0])
}

func TestParseCSV_Latin1(t *testing.T) {
	encoded, err := charmap.ISO8859_1.NewEncoder().String("NOME;DEPENDENCIA\nANA;MÃE\n")
	require.NoError(t, err)

	rows, err := ParseCSV(bytes.NewReader([]byte(encoded)), CSVOptions{Encoding: "latin1"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "MÃE", rows[1][1])
}

func TestParseCSV_UnknownEncoding(t *testing.T) {
	_, err := ParseCSV(strings.NewReader("a"), CSVOptions{Encoding: "ebcdic"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported encoding")
}

func TestReadCSV_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dados.csv")
	require.NoError(t, writeTestFile(path, "NOME,CPF\nA,1\n"))

	rows, err := ReadCSV(path, CSVOptions{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
