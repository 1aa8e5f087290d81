package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/healthingest/internal/core"
	"github.com/JonMunkholm/healthingest/internal/logging"
	"github.com/JonMunkholm/healthingest/internal/pipeline"
)

// formOverhead is allowed on top of the file size limit for multipart
// framing and option fields.
const formOverhead = 1 << 20

// maxFieldSize caps one non-file form field.
const maxFieldSize = 4 << 10

// handleHealth reports liveness, and store connectivity when configured.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			logging.FromContext(r.Context()).Error("health check failed", "error", err)
			writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// handleIngest runs one uploaded file through the pipeline. Failed
// reports, oversized uploads included, come back as 422 with the full
// report; anything else is kept as a pending batch.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	limit := s.service.Pipeline().MaxFileSize()
	r.Body = http.MaxBytesReader(w, r.Body, limit+formOverhead)

	raw, form, err := readUpload(r, limit)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, fmt.Errorf("%w: form exceeds %d bytes", errBadForm, tooLarge.Limit), http.StatusRequestEntityTooLarge)
			return
		}
		respondError(w, r, err, http.StatusBadRequest)
		return
	}

	opts, err := s.ingestOptions(form)
	if err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return
	}

	ctx := WithRequestMetadata(r.Context(), r)
	view, err := s.service.Submit(ctx, raw, opts)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}

	status := http.StatusOK
	if view.Report.Status == core.StatusFailed {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, r, status, view)
}

// readUpload streams the multipart form. The file part is read up to
// limit+1 bytes; a larger file comes back without content and with that
// size, so the pre-scan rejects it before anything else runs. Fields
// after an oversized file are not read.
func readUpload(r *http.Request, limit int64) (core.RawFile, url.Values, error) {
	var raw core.RawFile
	form := url.Values{}

	mr, err := r.MultipartReader()
	if err != nil {
		return raw, nil, fmt.Errorf("%w: %v", errBadForm, err)
	}
	found := false
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return raw, nil, fmt.Errorf("%w: %w", errBadForm, err)
		}

		name := part.FormName()
		if name == "file" && !found {
			found = true
			data, err := io.ReadAll(io.LimitReader(part, limit+1))
			if err != nil {
				return raw, nil, fmt.Errorf("%w: %w", errBadForm, err)
			}
			raw = core.NewRawFile(data, part.FileName(), part.Header.Get("Content-Type"))
			if raw.Size > limit {
				raw.Content = nil
				return raw, form, nil
			}
			continue
		}

		v, err := io.ReadAll(io.LimitReader(part, maxFieldSize))
		if err != nil {
			return raw, nil, fmt.Errorf("%w: %w", errBadForm, err)
		}
		if name != "" {
			form.Add(name, string(v))
		}
	}
	if !found {
		return raw, nil, errNoFile
	}
	return raw, form, nil
}

// ingestOptions reads the form options, defaulting to the configured
// policies.
func (s *Server) ingestOptions(form url.Values) (pipeline.Options, error) {
	cfg := s.cfg.Ingest
	opts := pipeline.Options{
		Strict:          cfg.Strict,
		AllowQuarantine: cfg.AllowQuarantine,
		DeepScan:        cfg.DeepScan,
		EncodingHint:    form.Get("encoding"),
	}

	for name, dst := range map[string]*bool{
		"strict":     &opts.Strict,
		"quarantine": &opts.AllowQuarantine,
		"deep_scan":  &opts.DeepScan,
	} {
		v := form.Get(name)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, fmt.Errorf("invalid %s option %q: must be true or false", name, v)
		}
		*dst = b
	}

	domain, ok := core.ParseDomainType(form.Get("domain"))
	if !ok {
		return opts, fmt.Errorf("unknown domain %q", form.Get("domain"))
	}
	opts.ExpectedDomain = domain
	return opts, nil
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.service.List())
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Get(chi.URLParam(r, "batchID"))
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, r, http.StatusOK, view)
}

func (s *Server) handleDiscardBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "batchID")
	if err := s.service.Discard(id); err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	logging.FromContext(r.Context()).Info("batch discarded", "batch_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleResolve sets one candidate's resolution from {"resolution": "..."}.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		respondError(w, r, errBadIndex, http.StatusBadRequest)
		return
	}

	var body struct {
		Resolution string `json:"resolution"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, fmt.Errorf("%w: %v", errBadBody, err), http.StatusBadRequest)
		return
	}

	res, _ := core.ParseResolution(body.Resolution)
	view, err := s.service.Resolve(chi.URLParam(r, "batchID"), index, res)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, r, http.StatusOK, view)
}

// handleResolveAll applies {"action": "skip_all"|"force"}.
func (s *Server) handleResolveAll(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, r, fmt.Errorf("%w: %v", errBadBody, err), http.StatusBadRequest)
		return
	}

	view, err := s.service.ResolveAll(r.Context(), chi.URLParam(r, "batchID"), body.Action)
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, r, http.StatusOK, view)
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Commit(r.Context(), chi.URLParam(r, "batchID"))
	if err != nil {
		respondError(w, r, err, statusFor(err))
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// handleSchemas lists the validation schemas in declaration order.
func (s *Server) handleSchemas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.schemas.All())
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Ingest         pipeline.LimiterStatus `json:"ingest"`
	PendingBatches int                    `json:"pending_batches"`
	Schemas        int                    `json:"schemas"`
	MaxFileSize    int64                  `json:"max_file_size"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, StatusResponse{
		Ingest:         s.service.Limiter().Status(),
		PendingBatches: len(s.service.List()),
		Schemas:        s.schemas.Len(),
		MaxFileSize:    s.service.Pipeline().MaxFileSize(),
	})
}
