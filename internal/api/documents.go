package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/AleenDhar/dealsense/internal/identity"
	"github.com/AleenDhar/dealsense/internal/ingest"
	"github.com/AleenDhar/dealsense/internal/storage"
)

// UploadRequest attaches a file to a project. Content is the raw file body;
// base64 is accepted for binary formats like PDF.
type UploadRequest struct {
	ProjectID     string `json:"projectId"`
	Name          string `json:"name"`
	Content       string `json:"content"`
	ContentBase64 bool   `json:"contentBase64,omitempty"`
}

func handleUploadDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		defer r.Body.Close()

		var projectID, name string
		var data []byte

		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			if err := r.ParseMultipartForm(maxUploadBodySize); err != nil {
				httpError(w, http.StatusBadRequest, "invalid multipart body: %v", err)
				return
			}
			file, header, err := r.FormFile("file")
			if err != nil {
				httpError(w, http.StatusBadRequest, "file is required")
				return
			}
			defer file.Close()
			data, err = io.ReadAll(file)
			if err != nil {
				httpError(w, http.StatusBadRequest, "reading file: %v", err)
				return
			}
			projectID = r.FormValue("projectId")
			name = header.Filename
		} else {
			var req UploadRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
				return
			}
			projectID = req.ProjectID
			name = req.Name
			if req.ContentBase64 {
				decoded, err := base64.StdEncoding.DecodeString(req.Content)
				if err != nil {
					httpError(w, http.StatusBadRequest, "invalid base64 content")
					return
				}
				data = decoded
			} else {
				data = []byte(req.Content)
			}
		}

		if name == "" {
			httpError(w, http.StatusBadRequest, "name is required")
			return
		}
		if len(data) == 0 {
			httpError(w, http.StatusBadRequest, "content is required")
			return
		}

		resolved, err := identity.ResolveProjectID(r.Context(), projectID, deps.Store)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "resolving project: %v", err)
			return
		}
		if resolved == "" {
			httpError(w, http.StatusBadRequest, "project %q not found", projectID)
			return
		}

		text, err := ingest.ExtractText(name, data)
		if err != nil {
			httpError(w, http.StatusBadRequest, "extracting text from %s: %v", name, err)
			return
		}

		doc := storage.Document{
			ID:        uuid.New().String(),
			ProjectID: resolved,
			Name:      name,
			Content:   text,
			CreatedAt: time.Now().UTC(),
		}
		if err := deps.Store.SaveDocument(r.Context(), doc); err != nil {
			httpError(w, http.StatusInternalServerError, "saving document: %v", err)
			return
		}

		if err := ingest.EnqueueDocument(r.Context(), deps.Store, doc.ID); err != nil {
			httpError(w, http.StatusInternalServerError, "queueing embedding: %v", err)
			return
		}

		writeJSON(w, map[string]string{"id": doc.ID, "status": "queued"})
	}
}

func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, err := identity.ResolveProjectID(r.Context(), r.URL.Query().Get("projectId"), deps.Store)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "resolving project: %v", err)
			return
		}
		if projectID == "" {
			httpError(w, http.StatusBadRequest, "projectId is required")
			return
		}

		docs, err := deps.Store.ListDocuments(r.Context(), projectID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "listing documents: %v", err)
			return
		}

		type docSummary struct {
			ID        string `json:"id"`
			Name      string `json:"name"`
			CreatedAt string `json:"created_at"`
		}
		out := make([]docSummary, 0, len(docs))
		for _, d := range docs {
			out = append(out, docSummary{ID: d.ID, Name: d.Name, CreatedAt: d.CreatedAt.Format(time.RFC3339)})
		}
		writeJSON(w, out)
	}
}

func handleDeleteDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := deps.Store.DeleteDocument(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "deleting document: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

// handleBackfill queues embedding jobs for documents that have no chunks,
// catching uploads whose pipeline run was lost.
func handleBackfill(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := deps.Store.ListDocumentsWithoutChunks(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "finding unembedded documents: %v", err)
			return
		}

		queued := 0
		for _, doc := range docs {
			if strings.TrimSpace(doc.Content) == "" {
				continue
			}
			if err := ingest.EnqueueDocument(r.Context(), deps.Store, doc.ID); err != nil {
				httpError(w, http.StatusInternalServerError, "queueing document %s: %v", doc.ID, err)
				return
			}
			queued++
		}

		writeJSON(w, map[string]int{"queued": queued})
	}
}
