package client

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PostResponse is the body returned by controller write endpoints
type PostResponse struct {
	Status string `json:"status"`
}

// BatchIngestConfig is sent as the batchConfigMapStr of /ingestFromFile
type BatchIngestConfig struct {
	InputFormat string `json:"inputFormat"`
	Delimiter   string `json:"recordReader.prop.delimiter,omitempty"`
}

// CSV returns a batch config for delimiter separated files
func CSV(delimiter string) BatchIngestConfig {
	return BatchIngestConfig{InputFormat: "csv", Delimiter: delimiter}
}

// QueryException is one error reported by the broker for a query
type QueryException struct {
	Message   string `json:"message"`
	ErrorCode int    `json:"errorCode"`
}

func (e QueryException) Error() string {
	return fmt.Sprintf("query error %d: %s", e.ErrorCode, e.Message)
}

// DataSchema describes the columns of a ResultTable
type DataSchema struct {
	ColumnNames     []string `json:"columnNames"`
	ColumnDataTypes []string `json:"columnDataTypes"`
}

// ResultTable is the tabular result of a query
type ResultTable struct {
	DataSchema DataSchema `json:"dataSchema"`
	Rows       [][]any    `json:"rows"`
}

// Column returns the index of the named column, or -1
func (t *ResultTable) Column(name string) int {
	for i, n := range t.DataSchema.ColumnNames {
		if strings.EqualFold(n, name) {
			return i
		}
	}
	return -1
}

// QueryResponse is the broker's answer to a query
type QueryResponse struct {
	Exceptions                  []QueryException `json:"exceptions"`
	ResultTable                 *ResultTable     `json:"resultTable,omitempty"`
	NumRowsResultSet            int64            `json:"numRowsResultSet"`
	MinConsumingFreshnessTimeMs int64            `json:"minConsumingFreshnessTimeMs"`
	NumConsumingSegmentsQueried int64            `json:"numConsumingSegmentsQueried"`
	NumDocsScanned              int64            `json:"numDocsScanned"`
	NumEntriesScannedInFilter   int64            `json:"numEntriesScannedInFilter"`
	NumEntriesScannedPostFilter int64            `json:"numEntriesScannedPostFilter"`
	NumGroupsLimitReached       bool             `json:"numGroupsLimitReached"`
	NumSegmentsMatched          int64            `json:"numSegmentsMatched"`
	NumSegmentsProcessed        int64            `json:"numSegmentsProcessed"`
	NumSegmentsQueried          int64            `json:"numSegmentsQueried"`
	NumServersQueried           int64            `json:"numServersQueried"`
	NumServersResponded         int64            `json:"numServersResponded"`
	TimeUsedMs                  int64            `json:"timeUsedMs"`
	TotalDocs                   int64            `json:"totalDocs"`
}

// HasExceptions reports whether the broker returned any query errors
func (r *QueryResponse) HasExceptions() bool {
	return len(r.Exceptions) > 0
}

type sqlQuery struct {
	SQL string `json:"sql"`
}

func marshalQuery(sql string) ([]byte, error) {
	return json.Marshal(sqlQuery{SQL: sql})
}
