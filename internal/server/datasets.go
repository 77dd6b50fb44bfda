package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/dharsanguruparan/VoteDrop/internal/model"
	"github.com/dharsanguruparan/VoteDrop/internal/processing"
	"github.com/dharsanguruparan/VoteDrop/internal/results"
)

// datasetView adds the actions the admin screen may offer for a dataset.
type datasetView struct {
	model.PendingDataset
	Actions []model.Action `json:"actions"`
}

func viewOf(ds model.PendingDataset) datasetView {
	return datasetView{PendingDataset: ds, Actions: model.AvailableActions(ds.Status)}
}

type jobAccepted struct {
	ID     string              `json:"id"`
	Job    processing.Kind     `json:"job"`
	Status model.DatasetStatus `json:"status"`
}

func (s *Server) handleDatasets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleList(w, r)
	case http.MethodPost:
		s.handleUpload(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	status := model.DatasetStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		respondError(w, http.StatusBadRequest, "unknown status "+string(status))
		return
	}
	datasets, err := s.pipeline.List(r.Context(), status)
	if err != nil {
		s.respondPipelineError(w, err)
		return
	}
	views := make([]datasetView, 0, len(datasets))
	for _, ds := range datasets {
		views = append(views, viewOf(ds))
	}
	respondJSON(w, http.StatusOK, views)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// http.MaxBytesReader wraps the Body to protect against oversized payloads.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+1024)
	mr, err := r.MultipartReader()
	if err != nil {
		respondError(w, http.StatusBadRequest, "expecting multipart form")
		return
	}
	for {
		// NextPart streams one part at a time; io.EOF means no more parts.
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			respondError(w, http.StatusBadRequest, "failed to read upload")
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}
		// Read one byte past the limit so oversized files are detected.
		data, err := io.ReadAll(io.LimitReader(part, s.cfg.MaxFileSize+1))
		part.Close()
		if err != nil {
			respondError(w, http.StatusBadRequest, "failed to read upload")
			return
		}
		if int64(len(data)) > s.cfg.MaxFileSize {
			respondError(w, http.StatusRequestEntityTooLarge, "file exceeds limit")
			return
		}
		name := part.FileName()
		if name == "" {
			name = "upload.json"
		}
		ds, err := s.pipeline.Upload(r.Context(), name, data)
		if err != nil {
			s.respondPipelineError(w, err)
			return
		}
		respondJSON(w, http.StatusCreated, viewOf(*ds))
		return
	}
	respondError(w, http.StatusBadRequest, "missing file part")
}

func (s *Server) handleDatasetRoute(w http.ResponseWriter, r *http.Request) {
	// The /datasets/ prefix supports nested resources like /datasets/{id}/verify.
	parts := splitPath(r.URL.Path, "/datasets/")
	if len(parts) == 0 || len(parts) > 2 {
		http.NotFound(w, r)
		return
	}
	id := parts[0]
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.handleShow(w, r, id)
		case http.MethodDelete:
			s.handleDelete(w, r, id)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}
	switch parts[1] {
	case "issues":
		s.handleIssues(w, r, id)
	case "verify":
		s.handleJob(w, r, id, processing.KindVerify, model.ActionVerify)
	case "apply":
		s.handleJob(w, r, id, processing.KindApply, model.ActionApply)
	case "source":
		s.handleSource(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleShow(w http.ResponseWriter, r *http.Request, id string) {
	ds, err := s.pipeline.Get(r.Context(), id)
	if err != nil {
		s.respondPipelineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewOf(*ds))
}

func (s *Server) handleIssues(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	level := model.IssueLevel(r.URL.Query().Get("level"))
	if level != "" && level != model.LevelError && level != model.LevelWarning {
		respondError(w, http.StatusBadRequest, "unknown level "+string(level))
		return
	}
	ds, err := s.pipeline.Get(r.Context(), id)
	if err != nil {
		s.respondPipelineError(w, err)
		return
	}
	issues := make([]model.DataIssue, 0, len(ds.Issues))
	for _, issue := range ds.Issues {
		if level == "" || issue.Level == level {
			issues = append(issues, issue)
		}
	}
	respondJSON(w, http.StatusOK, issues)
}

// handleJob checks the action is offered right now and hands the work to the
// dispatcher. The job re-checks the status when it runs.
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request, id string, kind processing.Kind, action model.Action) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ds, err := s.pipeline.Get(r.Context(), id)
	if err != nil {
		s.respondPipelineError(w, err)
		return
	}
	if !model.Allows(ds.Status, action) {
		respondError(w, http.StatusConflict, string(action)+" is not available for "+string(ds.Status)+" datasets")
		return
	}
	if err := s.dispatcher.Dispatch(r.Context(), processing.Job{Kind: kind, DatasetID: id}); err != nil {
		s.respondPipelineError(w, err)
		return
	}
	s.log.WithField("dataset_id", id).WithField("job", kind).Info("job dispatched")
	respondJSON(w, http.StatusAccepted, jobAccepted{ID: id, Job: kind, Status: ds.Status})
}

// sourceLinkTTL is how long a link to an archived upload stays valid.
const sourceLinkTTL = 15 * time.Minute

type sourceLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Server) handleSource(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.links == nil {
		respondError(w, http.StatusNotFound, "upload archive is not configured")
		return
	}
	ds, err := s.pipeline.Get(r.Context(), id)
	if err != nil {
		s.respondPipelineError(w, err)
		return
	}
	url, err := s.links.PresignUploadURL(r.Context(), ds.ID, ds.Name, sourceLinkTTL)
	if err != nil {
		s.log.WithError(err).WithField("dataset_id", id).Error("presign upload")
		respondError(w, http.StatusBadGateway, "archived upload unavailable")
		return
	}
	respondJSON(w, http.StatusOK, sourceLink{URL: url, ExpiresAt: time.Now().Add(sourceLinkTTL).UTC()})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.pipeline.Delete(r.Context(), id); err != nil {
		s.respondPipelineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVotes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	votes, err := s.pipeline.AppliedVotes(r.Context())
	if err != nil {
		s.respondPipelineError(w, err)
		return
	}
	if votes == nil {
		votes = []model.AppliedVote{}
	}
	respondJSON(w, http.StatusOK, votes)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	votes, err := s.pipeline.AppliedVotes(r.Context())
	if err != nil {
		s.respondPipelineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, results.Tally(votes))
}
