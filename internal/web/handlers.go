package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shaheenhirany/moodle-csv-user-sync/internal/logging"
	"github.com/shaheenhirany/moodle-csv-user-sync/internal/roster"
	syncpkg "github.com/shaheenhirany/moodle-csv-user-sync/internal/sync"
)

// handleIndex serves the upload page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data, err := staticFiles.ReadFile("static/index.html")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "page unavailable")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// handlePing verifies Moodle connectivity and token validity.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	siteName, err := s.moodle.SiteInfo(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("moodle unreachable: %v", err))
		return
	}
	writeJSON(w, map[string]string{"sitename": siteName})
}

// handleStatus reports job-slot usage.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.service.LimiterStatus())
}

// handleRuns lists recent persisted sync runs.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "run history is not configured")
		return
	}
	limit := parseIntParam(r, "limit", 20)
	runs, err := s.store.RecentRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, runs)
}

// previewRecord is one roster row as it would be synced.
type previewRecord struct {
	Row       int    `json:"row"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	CourseIDs []int  `json:"courseIds,omitempty"`
	Invalid   string `json:"invalid,omitempty"`
}

// previewResponse is the result of analyzing a roster without syncing it.
type previewResponse struct {
	Columns []string        `json:"columns"`
	Rows    int             `json:"rows"`
	Invalid int             `json:"invalid"`
	Records []previewRecord `json:"records"`
}

// handlePreview parses a roster and reports the usernames that would be
// generated, without contacting Moodle. Because the registry is not seeded
// from remote accounts here, usernames may differ once a real sync runs.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	data, ok := s.readRosterFile(w, r)
	if !ok {
		return
	}

	ros, err := roster.ParseRoster(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reg := roster.NewRegistry()
	processor := roster.Processor{MaxUsernameLen: s.cfg.Moodle.MaxUsernameLen}

	resp := previewResponse{Columns: ros.Header.Columns, Rows: len(ros.Rows)}
	for _, row := range ros.Rows {
		rec := processor.Process(row, reg)
		if rec.Invalid != "" {
			resp.Invalid++
		}
		resp.Records = append(resp.Records, previewRecord{
			Row:       rec.Index,
			FirstName: rec.FirstName,
			LastName:  rec.LastName,
			Email:     rec.Email,
			Username:  rec.Username,
			CourseIDs: rec.CourseIDs,
			Invalid:   rec.Invalid,
		})
	}

	writeJSON(w, resp)
}

// handleStartSync accepts a roster upload and begins an asynchronous sync job.
func (s *Server) handleStartSync(w http.ResponseWriter, r *http.Request) {
	data, ok := s.readRosterFile(w, r)
	if !ok {
		return
	}

	jobID, err := s.service.Start(r.Context(), data)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, syncpkg.ErrTooManyJobs) {
			status = http.StatusTooManyRequests
		}
		writeError(w, status, err.Error())
		return
	}

	logging.FromContext(r.Context()).Info("sync job accepted", "job_id", jobID)
	writeJSON(w, map[string]string{"jobId": jobID})
}

// sseRetryMillis is the reconnect delay hint sent at the top of each stream.
const sseRetryMillis = 1500

// sseKeepAliveInterval is how often an idle stream writes a comment line so
// intermediaries do not drop the connection during slow remote calls.
// Variable so tests can shorten it.
var sseKeepAliveInterval = 25 * time.Second

// handleSyncEvents streams outcome events via Server-Sent Events.
//
// Event ids are positions in the job's replay buffer; EventSource sends the
// last one back as Last-Event-ID on reconnect and the stream resumes from
// the buffered replay without duplication.
func (s *Server) handleSyncEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	from := 0
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		from, _ = strconv.Atoi(v)
	} else if v := r.URL.Query().Get("lastEventId"); v != "" {
		from, _ = strconv.Atoi(v)
	}

	replay, events, err := s.service.Subscribe(jobID, from)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	fmt.Fprintf(w, "retry: %d\n\n", sseRetryMillis)
	flusher.Flush()

	send := func(seq int, ev syncpkg.Event) {
		data, _ := json.Marshal(ev)
		fmt.Fprintf(w, "id: %d\nevent: outcome\ndata: %s\n\n", seq, data)
		flusher.Flush()
	}

	for i, ev := range replay {
		send(from+i+1, ev)
	}

	keepalive := time.NewTicker(sseKeepAliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case se, open := <-events:
			if !open {
				status, err := s.service.Progress(jobID)
				data := []byte("{}")
				if err == nil {
					data, _ = json.Marshal(status)
				}
				fmt.Fprintf(w, "event: complete\ndata: %s\n\n", data)
				flusher.Flush()
				return
			}
			send(se.Seq, se.Event)

		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// handleSyncProgress returns a point-in-time job snapshot.
func (s *Server) handleSyncProgress(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.Progress(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, status)
}

// handleSyncResult blocks until the job finishes, then returns its summary.
func (s *Server) handleSyncResult(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.Result(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, status)
}

// handleCancelSync requests cooperative cancellation of a running job.
func (s *Server) handleCancelSync(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := s.service.Cancel(jobID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, map[string]string{"jobId": jobID, "status": "cancelling"})
}

// handleExport downloads the cleaned roster CSV with the Username column.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "roster_"+jobID+".csv"))

	if err := s.service.WriteExport(jobID, w); err != nil {
		// Headers may already be sent; reset what we can.
		w.Header().Del("Content-Disposition")
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
}

// readRosterFile extracts the uploaded CSV from a multipart form, enforcing
// the configured size limit. Writes the error response itself on failure.
func (s *Server) readRosterFile(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		writeError(w, http.StatusBadRequest, "file too large or invalid form")
		return nil, false
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file provided")
		return nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read file")
		return nil, false
	}
	return data, true
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}
