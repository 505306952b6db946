package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/R3E-Network/settlement_layer/internal/logging"
)

// requestRecord is one settlement request as seen at the HTTP boundary.
type requestRecord struct {
	Time       time.Time `json:"time"`
	Wallet     string    `json:"wallet,omitempty"`
	Action     string    `json:"action"`
	Path       string    `json:"path"`
	Method     string    `json:"method"`
	Status     int       `json:"status"`
	TraceID    string    `json:"trace_id,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
}

type auditLog struct {
	mu      sync.Mutex
	entries []requestRecord
	max     int
	sink    auditSink
}

type auditSink interface {
	Write(entry requestRecord) error
}

func newAuditLog(max int, sink auditSink) *auditLog {
	if max <= 0 {
		max = 200
	}
	return &auditLog{max: max, sink: sink}
}

func (l *auditLog) add(entry requestRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
	if l.sink != nil {
		// Best effort; the request already completed.
		_ = l.sink.Write(entry)
	}
}

func (l *auditLog) list() []requestRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]requestRecord, len(l.entries))
	copy(out, l.entries)
	return out
}

// listLimit returns the newest limit records, newest first.
func (l *auditLog) listLimit(limit int) []requestRecord {
	if limit <= 0 || limit > l.max {
		limit = l.max
	}
	all := l.list()
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all
}

type walletKey struct{}

// noteWallet attaches the decoded wallet to the audit record of r.
func noteWallet(r *http.Request, wallet string) {
	if holder, ok := r.Context().Value(walletKey{}).(*string); ok {
		*holder = wallet
	}
}

// record wraps a settlement action so its outcome lands in the audit log.
func (l *auditLog) record(action string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wallet := new(string)
		r = r.WithContext(context.WithValue(r.Context(), walletKey{}, wallet))
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)
		l.add(requestRecord{
			Time:       time.Now().UTC(),
			Wallet:     *wallet,
			Action:     action,
			Path:       r.URL.Path,
			Method:     r.Method,
			Status:     sw.status,
			TraceID:    logging.TraceIDFromContext(r.Context()),
			RemoteAddr: r.RemoteAddr,
			UserAgent:  r.UserAgent(),
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// fileAuditSink appends audit records as JSONL.
type fileAuditSink struct {
	mu   sync.Mutex
	file *os.File
}

func newFileAuditSink(path string) (*fileAuditSink, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	return &fileAuditSink{file: f}, nil
}

func (s *fileAuditSink) Write(entry requestRecord) error {
	if s == nil || s.file == nil {
		return nil
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.file.Write(append(b, '\n'))
	return err
}

func (s *fileAuditSink) Close() error {
	if s == nil || s.file == nil {
		return nil
	}
	return s.file.Close()
}
