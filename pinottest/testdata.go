package pinottest

import (
	"embed"
	"fmt"
)

//go:embed testdata/*.json testdata/*.csv
var testdata embed.FS

// Names of the bundled sample files
const (
	TranscriptSchemaFile      = "transcript-schema.json"
	TranscriptTableFile       = "transcript-table-offline.json"
	TranscriptMinionTableFile = "transcript-table-offline-minion.json"
	TranscriptsCSVFile        = "transcripts.csv"
)

// TranscriptTable is the name of the sample table with its type suffix
const TranscriptTable = "transcript_OFFLINE"

// Asset returns a bundled sample file
func Asset(name string) ([]byte, error) {
	data, err := testdata.ReadFile("testdata/" + name)
	if err != nil {
		return nil, fmt.Errorf("unknown asset %s: %w", name, err)
	}
	return data, nil
}

// MustAsset is Asset for names known to exist
func MustAsset(name string) []byte {
	data, err := Asset(name)
	if err != nil {
		panic(err)
	}
	return data
}
