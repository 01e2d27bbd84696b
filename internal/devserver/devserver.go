// Package devserver is a self-contained remote data service for local
// development and tests. It keeps tables in memory, assigns server ids,
// and pushes change events to websocket subscribers, mirroring the wire
// protocol of the production service.
package devserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/piyusht2411/chatting-app/internal/chat"
	"github.com/piyusht2411/chatting-app/internal/logger"
)

type subscriber struct {
	table  string
	filter chat.Filter
	events chan chat.ChangeEvent
}

type Server struct {
	mu      sync.Mutex
	tables  map[string][]chat.Row
	seq     int64
	nextSub int64
	subs    map[int64]*subscriber

	// Now is swappable for deterministic timestamps in tests.
	Now func() time.Time
}

func New() *Server {
	return &Server{
		tables: map[string][]chat.Row{},
		subs:   map[int64]*subscriber{},
		Now:    time.Now,
	}
}

// Handler returns the HTTP surface of the dev server.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/v1/query", s.handleQuery).Methods(http.MethodPost)
	r.HandleFunc("/v1/insert", s.handleInsert).Methods(http.MethodPost)
	r.HandleFunc("/v1/upsert", s.handleUpsert).Methods(http.MethodPost)
	r.HandleFunc("/v1/subscribe", s.handleSubscribe).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

// Seed loads rows into a table without broadcasting events.
func (s *Server) Seed(table string, rows ...chat.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[table] = append(s.tables[table], rows...)
}

// Rows returns a copy of one table, for test assertions.
func (s *Server) Rows(table string) []chat.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.Row, len(s.tables[table]))
	copy(out, s.tables[table])
	return out
}

type queryRequest struct {
	Table  string      `json:"table"`
	Filter chat.Filter `json:"filter"`
}

type insertRequest struct {
	Table string   `json:"table"`
	Row   chat.Row `json:"row"`
}

type upsertRequest struct {
	Table       string   `json:"table"`
	Row         chat.Row `json:"row"`
	ConflictKey string   `json:"conflictKey"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Table == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	var rows []chat.Row
	for _, row := range s.tables[req.Table] {
		if len(req.Filter) == 0 || req.Filter.Matches(row) {
			rows = append(rows, row)
		}
	}
	s.mu.Unlock()
	writeJSON(w, map[string]any{"rows": rows})
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	var req insertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Table == "" || req.Row == nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.seq++
	row := cloneRow(req.Row)
	if _, ok := row["id"]; !ok {
		row["id"] = strconv.FormatInt(s.seq, 10)
	}
	if _, ok := row["created_at"]; !ok {
		row["created_at"] = s.Now().UTC().Format(time.RFC3339Nano)
	}
	s.tables[req.Table] = append(s.tables[req.Table], row)
	s.broadcastLocked(chat.ChangeEvent{Kind: chat.EventInsert, Table: req.Table, Row: row})
	s.mu.Unlock()
	writeJSON(w, map[string]any{"row": row})
}

func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Table == "" || req.Row == nil || req.ConflictKey == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	keys := splitCSV(req.ConflictKey)
	row := cloneRow(req.Row)

	s.mu.Lock()
	replaced := false
	for i, existing := range s.tables[req.Table] {
		if rowsMatchOn(existing, row, keys) {
			s.tables[req.Table][i] = row
			replaced = true
			break
		}
	}
	if !replaced {
		s.tables[req.Table] = append(s.tables[req.Table], row)
	}
	s.broadcastLocked(chat.ChangeEvent{Kind: chat.EventUpdate, Table: req.Table, Row: row})
	s.mu.Unlock()
	writeJSON(w, map[string]any{"status": "ok"})
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	table := r.URL.Query().Get("table")
	if table == "" {
		http.Error(w, "missing table", http.StatusBadRequest)
		return
	}
	var filter chat.Filter
	if raw := r.URL.Query().Get("filter"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &filter); err != nil {
			http.Error(w, "bad filter", http.StatusBadRequest)
			return
		}
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	sub := &subscriber{table: table, filter: filter, events: make(chan chat.ChangeEvent, 64)}
	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = sub
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-sub.events:
			if err := wsjson.Write(ctx, conn, event); err != nil {
				return
			}
		}
	}
}

func (s *Server) broadcastLocked(event chat.ChangeEvent) {
	for _, sub := range s.subs {
		if sub.table != event.Table {
			continue
		}
		if len(sub.filter) > 0 && !sub.filter.Matches(event.Row) {
			continue
		}
		select {
		case sub.events <- event:
		default:
			logger.Warn("slow subscriber, event dropped", "table", event.Table)
		}
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("response write failed", "err", err)
	}
}

func cloneRow(row chat.Row) chat.Row {
	out := make(chat.Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if part := s[start:i]; part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	return out
}

func rowsMatchOn(a, b chat.Row, keys []string) bool {
	if len(keys) == 0 {
		return false
	}
	for _, key := range keys {
		av, aok := a[key]
		bv, bok := b[key]
		if !aok || !bok || fmt.Sprint(av) != fmt.Sprint(bv) {
			return false
		}
	}
	return true
}
