package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/fda483-pipeline/internal/analysis"
	"github.com/JakeFAU/fda483-pipeline/internal/inspection"
	"github.com/JakeFAU/fda483-pipeline/internal/queue/memory"
)

const maxBodyBytes = 8 << 20

// timeAnalysis handles GET /api/timeAnalysis?startDate=&endDate=.
func (s *Server) timeAnalysis(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	startRaw, endRaw := strings.TrimSpace(q.Get("startDate")), strings.TrimSpace(q.Get("endDate"))
	if startRaw == "" || endRaw == "" {
		writeError(w, http.StatusBadRequest, "startDate and endDate are required", "")
		return
	}
	start, err := inspection.ParseRecordDate(startRaw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid startDate", err.Error())
		return
	}
	end, err := inspection.ParseRecordDate(endRaw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid endDate", err.Error())
		return
	}
	if end.Before(start) {
		writeError(w, http.StatusBadRequest, "endDate is before startDate", "")
		return
	}
	res, err := s.querier.ByDateRange(r.Context(), start, end)
	s.writeResult(w, "time analysis", res, err)
}

type browseRequest struct {
	FEINumbers json.RawMessage `json:"feiNumbers"`
}

// browseDocuments handles POST /api/browseDocuments {"feiNumbers": [...]}.
func (s *Server) browseDocuments(w http.ResponseWriter, r *http.Request) {
	var req browseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", err.Error())
		return
	}
	ids, err := parseSourceIDs(req.FEINumbers)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid feiNumbers", err.Error())
		return
	}
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "feiNumbers is required", "")
		return
	}
	res, err := s.querier.BySourceIDs(r.Context(), ids)
	s.writeResult(w, "browse documents", res, err)
}

// firebaseData handles GET /api/firebaseData.
func (s *Server) firebaseData(w http.ResponseWriter, r *http.Request) {
	records, err := s.querier.Records(r.Context())
	if err != nil {
		s.logger.Error("list records failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list records", err.Error())
		return
	}
	if records == nil {
		records = []inspection.NormalizedRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(records), "records": records})
}

type chatRequest struct {
	Message  string `json:"message"`
	Question string `json:"question"`
}

// chat handles POST /api/chat {"message": "..."}.
func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", err.Error())
		return
	}
	question := req.Message
	if question == "" {
		question = req.Question
	}
	answer, err := s.querier.Ask(r.Context(), question)
	switch {
	case errors.Is(err, analysis.ErrEmptyQuestion):
		writeError(w, http.StatusBadRequest, "message is required", "")
	case err != nil:
		s.logger.Error("chat failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to answer question", err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"response": answer})
	}
}

// submitRun handles POST /v1/runs with either a record array or {"records": [...]}.
func (s *Server) submitRun(w http.ResponseWriter, r *http.Request) {
	records, err := decodeRecords(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", err.Error())
		return
	}
	if len(records) == 0 {
		writeError(w, http.StatusBadRequest, "at least one record required", "")
		return
	}
	run, err := s.runs.Submit(r.Context(), records)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, memory.ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, "failed to queue run", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": run.ID, "status": string(run.Status)})
}

// getRun handles GET /v1/runs/{run_id}.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.Status(r.Context(), chi.URLParam(r, "run_id"))
	if err != nil {
		if errors.Is(err, inspection.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found", "")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load run", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func (s *Server) writeResult(w http.ResponseWriter, op string, res analysis.Result, err error) {
	switch {
	case errors.Is(err, analysis.ErrNoDocuments):
		writeError(w, http.StatusNotFound, "no documents found", "no stored records match the query")
	case err != nil:
		s.logger.Error(op+" failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, op+" failed", err.Error())
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func decodeRecords(r *http.Request) ([]inspection.SourceRecord, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return inspection.DecodeSourceRecords(body)
}

// parseSourceIDs accepts a JSON array of numbers or numeric strings, or a
// string holding such an array or a comma-separated list.
func parseSourceIDs(raw json.RawMessage) ([]int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		asString = strings.TrimSpace(asString)
		if strings.HasPrefix(asString, "[") {
			return parseSourceIDs(json.RawMessage(asString))
		}
		var out []int64
		for _, part := range strings.Split(asString, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("fei number %q is not an integer", part)
			}
			out = append(out, id)
		}
		return out, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("feiNumbers must be an array: %w", err)
	}
	out := make([]int64, 0, len(items))
	for _, item := range items {
		text := strings.Trim(string(bytes.TrimSpace(item)), `"`)
		id, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("fei number %s is not an integer", item)
		}
		out = append(out, id)
	}
	return out, nil
}
