// Package fakepinot is an in-process stand-in for the controller and broker
// HTTP APIs, used by tests that should not need Docker.
package fakepinot

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/mux"
)

// Query is a query received by the fake broker
type Query struct {
	SQL          string
	MultiStage   bool
	QueryOptions string
}

// Ingestion is a file received by /ingestFromFile
type Ingestion struct {
	Table       string
	BatchConfig map[string]string
	FileName    string
	Content     string
}

// QueryHandler produces the JSON body returned for a query. Returning a
// status other than 200 makes the broker fail the request.
type QueryHandler func(q Query) (status int, body any)

// Server serves both the controller and the broker endpoints
type Server struct {
	server *httptest.Server

	mu         sync.Mutex
	schemas    map[string]json.RawMessage
	tables     map[string]json.RawMessage
	tasks      []string
	ingestions []Ingestion
	queries    []Query
	onQuery    QueryHandler
}

// NewServer starts a fake listening on a loopback port. Close it when done.
func NewServer() *Server {
	s := &Server{
		schemas: make(map[string]json.RawMessage),
		tables:  make(map[string]json.RawMessage),
	}
	s.server = httptest.NewServer(s.Router())
	return s
}

// URL is the base URL of the fake
func (s *Server) URL() string {
	return s.server.URL
}

// Close shuts the listener down
func (s *Server) Close() {
	s.server.Close()
}

// Router returns the routes of the fake, for mounting elsewhere
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/schemas", s.handleCreateSchema).Methods(http.MethodPost)
	router.HandleFunc("/tables", s.handleCreateTable).Methods(http.MethodPost)
	router.HandleFunc("/tasks/schedule", s.handleScheduleTask).Methods(http.MethodPost)
	router.HandleFunc("/ingestFromFile", s.handleIngestFromFile).Methods(http.MethodPost)
	router.HandleFunc("/query", s.handleQuery(true)).Methods(http.MethodPost)
	router.HandleFunc("/query/sql", s.handleQuery(false)).Methods(http.MethodPost)
	return router
}

// OnQuery replaces the default query answer
func (s *Server) OnQuery(h QueryHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onQuery = h
}

// Schemas returns the names of the schemas created so far
func (s *Server) Schemas() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return keys(s.schemas)
}

// Tables returns the names of the tables created so far, with type suffix
func (s *Server) Tables() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return keys(s.tables)
}

// Tasks returns the ids of the tasks scheduled so far
func (s *Server) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tasks...)
}

// Ingestions returns the files ingested so far
func (s *Server) Ingestions() []Ingestion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Ingestion(nil), s.ingestions...)
}

// Queries returns the queries received so far
func (s *Server) Queries() []Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Query(nil), s.queries...)
}

func keys(m map[string]json.RawMessage) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, "OK")
}

func (s *Server) handleCreateSchema(w http.ResponseWriter, r *http.Request) {
	var schema struct {
		SchemaName string `json:"schemaName"`
	}
	raw, err := decodeBody(r, &schema)
	if err != nil || schema.SchemaName == "" {
		writeError(w, http.StatusBadRequest, "invalid schema: %v", err)
		return
	}

	s.mu.Lock()
	s.schemas[schema.SchemaName] = raw
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{
		"unrecognizedProperties": "{}",
		"status":                 fmt.Sprintf("%s successfully added", schema.SchemaName),
	})
}

func (s *Server) handleCreateTable(w http.ResponseWriter, r *http.Request) {
	var table struct {
		TableName string `json:"tableName"`
		TableType string `json:"tableType"`
	}
	raw, err := decodeBody(r, &table)
	if err != nil || table.TableName == "" || table.TableType == "" {
		writeError(w, http.StatusBadRequest, "invalid table config: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schemas[table.TableName]; !ok {
		writeError(w, http.StatusBadRequest, "Invalid TableConfigs: %s. Schema for table: %s not found", table.TableName, table.TableName)
		return
	}
	name := table.TableName + "_" + strings.ToUpper(table.TableType)
	if _, ok := s.tables[name]; ok {
		writeError(w, http.StatusConflict, "Table %s already exists", name)
		return
	}
	s.tables[name] = raw

	writeJSON(w, http.StatusOK, map[string]string{
		"unrecognizedProperties": "{}",
		"status":                 fmt.Sprintf("Table %s successfully added", name),
	})
}

func (s *Server) handleScheduleTask(w http.ResponseWriter, r *http.Request) {
	taskType := r.URL.Query().Get("taskType")
	tableName := r.URL.Query().Get("tableName")
	if taskType == "" {
		writeError(w, http.StatusBadRequest, "taskType is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tableName != "" && !s.hasTable(tableName) {
		writeError(w, http.StatusNotFound, "Table %s does not exist", tableName)
		return
	}
	id := fmt.Sprintf("Task_%s_%d", taskType, len(s.tasks)+1)
	s.tasks = append(s.tasks, id)

	writeJSON(w, http.StatusOK, map[string]string{taskType: id})
}

func (s *Server) hasTable(name string) bool {
	for table := range s.tables {
		if table == name || strings.TrimSuffix(strings.TrimSuffix(table, "_OFFLINE"), "_REALTIME") == name {
			return true
		}
	}
	return false
}

func (s *Server) handleIngestFromFile(w http.ResponseWriter, r *http.Request) {
	table := r.URL.Query().Get("tableNameWithType")

	var batchConfig map[string]string
	if err := json.Unmarshal([]byte(r.URL.Query().Get("batchConfigMapStr")), &batchConfig); err != nil {
		writeError(w, http.StatusBadRequest, "invalid batchConfigMapStr: %v", err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file part: %v", err)
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading file: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tables[table]; !ok {
		writeError(w, http.StatusNotFound, "Table %s not found", table)
		return
	}
	s.ingestions = append(s.ingestions, Ingestion{
		Table:       table,
		BatchConfig: batchConfig,
		FileName:    header.Filename,
		Content:     string(content),
	})

	writeJSON(w, http.StatusOK, map[string]string{
		"status": fmt.Sprintf("Successfully ingested file into table: %s as segment: %s_%d", table, table, len(s.ingestions)),
	})
}

func (s *Server) handleQuery(multiStage bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			SQL          string `json:"sql"`
			QueryOptions string `json:"queryOptions"`
		}
		if _, err := decodeBody(r, &body); err != nil || body.SQL == "" {
			writeError(w, http.StatusBadRequest, "invalid query: %v", err)
			return
		}

		// query/sql switches engines through the useMultistageEngine option
		q := Query{
			SQL:          body.SQL,
			MultiStage:   multiStage || strings.Contains(body.QueryOptions, "useMultistageEngine=true"),
			QueryOptions: body.QueryOptions,
		}
		s.mu.Lock()
		s.queries = append(s.queries, q)
		handler := s.onQuery
		s.mu.Unlock()

		if handler == nil {
			handler = s.countRows
		}
		status, resp := handler(q)
		writeJSON(w, status, resp)
	}
}

// countRows answers every query with the number of data rows ingested so
// far, one header line per file excluded.
func (s *Server) countRows(q Query) (int, any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := 0
	for _, in := range s.ingestions {
		lines := strings.Split(strings.TrimSpace(in.Content), "\n")
		if len(lines) > 1 {
			rows += len(lines) - 1
		}
	}
	return http.StatusOK, map[string]any{
		"exceptions": []any{},
		"resultTable": map[string]any{
			"dataSchema": map[string]any{
				"columnNames":     []string{"count(*)"},
				"columnDataTypes": []string{"LONG"},
			},
			"rows": [][]any{{rows}},
		},
		"numRowsResultSet": 1,
		"numDocsScanned":   rows,
		"totalDocs":        rows,
		"timeUsedMs":       1,
	}
}

func decodeBody(r *http.Request, v any) (json.RawMessage, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, err
	}
	return raw, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]any{
		"code":  status,
		"error": fmt.Sprintf(format, args...),
	})
}
