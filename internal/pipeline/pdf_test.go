package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakePages is a synthetic PageSource, one entry per page.
type fakePages struct {
	words  [][]Word
	tables [][]PageTable
}

func (f *fakePages) NumPages() int { return len(f.words) }

func (f *fakePages) PageWords(page int) ([]Word, error) { return f.words[page-1], nil }

func (f *fakePages) PageTables(page int) ([]PageTable, error) {
	if f.tables == nil {
		return nil, nil
	}
	return f.tables[page-1], nil
}

func TestAssembleLines(t *testing.T) {
	words := []Word{
		{Text: "world", X0: 50, Y0: 10.2},
		{Text: "hello", X0: 10, Y0: 9.8},
		{Text: "below", X0: 10, Y0: 30},
	}

	// 9.8 and 10.2 round to the same line; order within it follows x.
	assert.Equal(t, "hello world\nbelow", assembleLines(words))
}

func TestFilterWordsExcludesTableRegion(t *testing.T) {
	words := []Word{
		{Text: "outside", X0: 0, Y0: 0, X1: 30, Y1: 10},
		{Text: "inside", X0: 100, Y0: 100, X1: 130, Y1: 110},
		{Text: "margin", X0: 149, Y0: 100, X1: 160, Y1: 110}, // grazes box + 2pt margin
	}
	boxes := []Box{{X0: 90, Y0: 90, X1: 150, Y1: 150}}

	kept := filterWords(words, boxes)
	require.Len(t, kept, 1)
	assert.Equal(t, "outside", kept[0].Text)
}

func TestPDFExtractorPagesAndTables(t *testing.T) {
	src := &fakePages{
		words: [][]Word{
			{
				{Text: "page", X0: 0, Y0: 10, X1: 20, Y1: 20},
				{Text: "one", X0: 25, Y0: 10, X1: 40, Y1: 20},
				{Text: "cellish", X0: 100, Y0: 100, X1: 120, Y1: 110},
			},
			{{Text: "second", X0: 0, Y0: 10, X1: 30, Y1: 20}},
		},
		tables: [][]PageTable{
			{{
				Box:      Box{X0: 90, Y0: 90, X1: 200, Y1: 200},
				Accuracy: 95.5,
				Cells:    [][]string{{"h"}, {"v"}},
			}},
			nil,
		},
	}

	e := NewPDFExtractor(true, 80, zap.NewNop())
	docs, err := e.Load(src, "/data/report.pdf")
	require.NoError(t, err)
	require.Len(t, docs, 3)

	assert.Equal(t, "page one", docs[0].PageContent)
	assert.Equal(t, 1, docs[0].Metadata.Page)
	assert.Equal(t, ContentText, docs[0].Metadata.ContentType)

	assert.Equal(t, ContentTable, docs[1].Metadata.ContentType)
	assert.Equal(t, 95.5, docs[1].Metadata.Extensions["table_accuracy"])
	assert.Equal(t, 2, docs[1].Metadata.Extensions["table_rows"])

	assert.Equal(t, "second", docs[2].PageContent)
	assert.Equal(t, 2, docs[2].Metadata.Page)
}

func TestPDFExtractorDropsLowAccuracyTables(t *testing.T) {
	src := &fakePages{
		words: [][]Word{{{Text: "text", X0: 0, Y0: 10, X1: 20, Y1: 20}}},
		tables: [][]PageTable{{{
			Box:      Box{X0: 0, Y0: 0, X1: 50, Y1: 50},
			Accuracy: 40,
			Cells:    [][]string{{"junk"}},
		}}},
	}

	e := NewPDFExtractor(true, 80, zap.NewNop())
	docs, err := e.Load(src, "x.pdf")
	require.NoError(t, err)

	// The low-confidence table is gone and its box no longer masks words.
	require.Len(t, docs, 1)
	assert.Equal(t, "text", docs[0].PageContent)
}

func TestPDFExtractorTablesDisabled(t *testing.T) {
	src := &fakePages{
		words: [][]Word{{{Text: "only", X0: 0, Y0: 0, X1: 10, Y1: 10}}},
	}

	e := NewPDFExtractor(false, 80, zap.NewNop())
	docs, err := e.Load(src, "x.pdf")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "only", docs[0].PageContent)
}
