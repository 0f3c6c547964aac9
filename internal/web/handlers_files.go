package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"filebridge/internal/pipeline"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// handleListFiles returns recent jobs, newest first.
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			s.badRequest(w, r, "invalid_limit", "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	jobs, err := s.jobs.ListRecent(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []pipeline.FileJob{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"files": jobs})
}

// handleUploadFile accepts a multipart CSV upload, spools it and registers a
// job. With ?sync=1 the file is processed before the response is written;
// otherwise the dispatcher picks it up.
func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.maxFileSize); err != nil {
		s.badRequest(w, r, "invalid_multipart", "request is not valid multipart form data")
		return
	}

	clientCode := strings.TrimSpace(r.FormValue("client_code"))
	if clientCode == "" {
		s.badRequest(w, r, "missing_client_code", "client_code form field is required")
		return
	}
	if _, err := s.registry.Resolve(clientCode); err != nil {
		s.respondError(w, r, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.badRequest(w, r, "missing_file", "file form field is required")
		return
	}
	defer file.Close()

	if header.Size > s.maxFileSize {
		s.badRequest(w, r, "file_too_large",
			fmt.Sprintf("file exceeds the %d byte limit", s.maxFileSize))
		return
	}

	job := &pipeline.FileJob{
		ID:         uuid.New(),
		ClientCode: clientCode,
		FileName:   filepath.Base(header.Filename),
	}
	spoolPath, err := s.spool(job.ID, job.FileName, file)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("spool upload: %w", err))
		return
	}
	job.SpoolPath = spoolPath

	if err := s.jobs.Create(r.Context(), job); err != nil {
		os.Remove(spoolPath)
		s.respondError(w, r, err)
		return
	}

	s.log.Info("file received",
		"file_id", job.ID,
		"client_code", clientCode,
		"file_name", job.FileName,
		"size", header.Size,
	)

	if r.URL.Query().Get("sync") == "1" {
		s.runNow(w, r, job.ID)
		return
	}

	respondJSON(w, http.StatusAccepted, job)
}

// spool copies the upload into the spool directory under the job id.
func (s *Server) spool(id uuid.UUID, fileName string, src io.Reader) (string, error) {
	if err := os.MkdirAll(s.spoolDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(s.spoolDir, id.String()+"_"+fileName)

	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// handleProcessFile triggers one processing attempt and waits for it.
func (s *Server) handleProcessFile(w http.ResponseWriter, r *http.Request) {
	fileID, err := uuid.Parse(chi.URLParam(r, "fileID"))
	if err != nil {
		s.badRequest(w, r, "invalid_file_id", "file id must be a UUID")
		return
	}
	s.runNow(w, r, fileID)
}

// runNow runs one attempt synchronously, bounded by the file timeout. The
// run occupies a slot in the same limiter the dispatcher uses, so
// HTTP-triggered processing counts against the concurrent-files cap and is
// seen by the shutdown drain.
func (s *Server) runNow(w http.ResponseWriter, r *http.Request, fileID uuid.UUID) {
	if err := s.limiter.Acquire(r.Context()); err != nil {
		s.respondError(w, r, err)
		return
	}
	defer s.limiter.Release()

	ctx, cancel := context.WithTimeout(r.Context(), s.fileTimeout)
	defer cancel()

	res, err := s.proc.Process(ctx, fileID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// handleGetFile returns job state and counts.
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	fileID, err := uuid.Parse(chi.URLParam(r, "fileID"))
	if err != nil {
		s.badRequest(w, r, "invalid_file_id", "file id must be a UUID")
		return
	}

	job, err := s.jobs.Get(r.Context(), fileID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// handleFileReport returns the ledger-backed processing report.
func (s *Server) handleFileReport(w http.ResponseWriter, r *http.Request) {
	fileID, err := uuid.Parse(chi.URLParam(r, "fileID"))
	if err != nil {
		s.badRequest(w, r, "invalid_file_id", "file id must be a UUID")
		return
	}

	report, err := s.reporter.Report(r.Context(), fileID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// handleFileOutcomes returns row outcomes for the latest attempt, optionally
// filtered by status and stage.
func (s *Server) handleFileOutcomes(w http.ResponseWriter, r *http.Request) {
	fileID, err := uuid.Parse(chi.URLParam(r, "fileID"))
	if err != nil {
		s.badRequest(w, r, "invalid_file_id", "file id must be a UUID")
		return
	}

	job, err := s.jobs.Get(r.Context(), fileID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	outcomes, err := s.ledger.ListRowOutcomes(r.Context(), fileID, job.Attempt)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	status := pipeline.RowStatus(r.URL.Query().Get("status"))
	stage := pipeline.Stage(r.URL.Query().Get("stage"))
	filtered := make([]pipeline.RowOutcome, 0, len(outcomes))
	for _, o := range outcomes {
		if status != "" && o.Status != status {
			continue
		}
		if stage != "" && o.Stage != stage {
			continue
		}
		filtered = append(filtered, o)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"file_id":  fileID,
		"attempt":  job.Attempt,
		"outcomes": filtered,
	})
}
