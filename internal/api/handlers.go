package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/1905060202/image-ai-processor/internal/auth"
	"github.com/1905060202/image-ai-processor/internal/models"
	"github.com/1905060202/image-ai-processor/internal/repository"
	"github.com/1905060202/image-ai-processor/internal/service"
)

// maxUploadBytes bounds a whole multipart upload (up to 10 source images).
const maxUploadBytes = 64 << 20

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid json")
		return
	}
	user, err := s.users.Register(r.Context(), req.Username, req.Password, models.Role(req.Role))
	if err != nil {
		if errors.Is(err, service.ErrUsernameTaken) {
			s.writeJSON(w, http.StatusConflict, errorResponse{Error: "username-taken"})
			return
		}
		s.badRequest(w, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"user_id": user.ID, "username": user.Username})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid json")
		return
	}
	user, err := s.users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			s.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid-credentials"})
			return
		}
		s.writeError(w, err)
		return
	}
	token, err := s.auth.IssueToken(user)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"token":    token,
		"user_id":  user.ID,
		"username": user.Username,
		"role":     user.Role,
	})
}

type generateTextRequest struct {
	Prompt   string `json:"prompt"`
	Provider string `json:"provider"`
	Size     string `json:"size"`
}

type generateResponse struct {
	Success  bool   `json:"success"`
	URL      string `json:"generated_url"`
	Filename string `json:"filename"`
	Credits  int    `json:"credits"`
	Cost     int    `json:"cost"`
	IsFree   bool   `json:"is_free"`
	Cached   bool   `json:"cached,omitempty"`
}

func (s *Server) handleGenerateText(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())
	var req generateTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid json")
		return
	}

	out, err := s.generation.Generate(r.Context(), service.GenerateInput{
		Kind:     models.OperationTextToImage,
		Prompt:   req.Prompt,
		Provider: req.Provider,
		Size:     req.Size,
		UserID:   identity.UserID,
		IsAdmin:  identity.IsAdmin(),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, generateResponse{
		Success:  true,
		URL:      out.Image.URL,
		Filename: out.Image.Filename,
		Credits:  out.Credits,
		Cost:     out.Charged,
		IsFree:   out.UsedFree,
		Cached:   out.Cached,
	})
}

// handleGenerateFromImages accepts a multipart form with up to 10 source
// images under the "images" field plus prompt/provider/size fields.
func (s *Server) handleGenerateFromImages(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.badRequest(w, "invalid multipart form")
		return
	}

	var images []service.InputImage
	if r.MultipartForm != nil {
		files := r.MultipartForm.File["images"]
		if len(files) > 10 {
			files = files[:10]
		}
		for _, header := range files {
			file, err := header.Open()
			if err != nil {
				s.badRequest(w, "unreadable image upload")
				return
			}
			data, err := io.ReadAll(file)
			file.Close()
			if err != nil {
				s.badRequest(w, "unreadable image upload")
				return
			}
			mime := header.Header.Get("Content-Type")
			if mime == "" {
				mime = "image/jpeg"
			}
			images = append(images, service.InputImage{Data: data, Mime: mime})
		}
	}

	out, err := s.generation.Generate(r.Context(), service.GenerateInput{
		Kind:     models.OperationImageToImage,
		Prompt:   r.FormValue("prompt"),
		Images:   images,
		Provider: r.FormValue("provider"),
		Size:     r.FormValue("size"),
		UserID:   identity.UserID,
		IsAdmin:  identity.IsAdmin(),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, generateResponse{
		Success:  true,
		URL:      out.Image.URL,
		Filename: out.Image.Filename,
		Credits:  out.Credits,
		Cost:     out.Charged,
		IsFree:   out.UsedFree,
		Cached:   out.Cached,
	})
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageData, err := s.images.List(r.Context(), identity.UserID, identity.IsAdmin(), r.URL.Query().Get("q"), page)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pageData)
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())
	filename := chi.URLParam(r, "filename")
	deleted, err := s.images.Delete(r.Context(), filename, identity.UserID, identity.IsAdmin())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !deleted {
		s.writeJSON(w, http.StatusForbidden, errorResponse{Error: "not-owned", Message: "image not found or not owned"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type renameRequest struct {
	NewFilename string `json:"new_filename"`
}

func (s *Server) handleRenameImage(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())
	filename := chi.URLParam(r, "filename")
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid json")
		return
	}
	newFilename, err := s.images.Rename(r.Context(), filename, req.NewFilename, identity.UserID, identity.IsAdmin())
	if err != nil {
		if errors.Is(err, repository.ErrFilenameTaken) {
			s.writeJSON(w, http.StatusConflict, errorResponse{Error: "filename-taken"})
			return
		}
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "new_filename": newFilename})
}

func (s *Server) handleCreditsInfo(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())
	info, err := s.credits.Info(r.Context(), identity.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if info == nil {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "user-not-found"})
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleCreditsUsage(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, total, err := s.credits.UsageRecords(r.Context(), identity.UserID, page, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"total":   total,
	})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	users, total, err := s.users.List(r.Context(), r.URL.Query().Get("search"), page, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	type userView struct {
		ID       int64       `json:"id"`
		Username string      `json:"username"`
		Role     models.Role `json:"role"`
		Credits  int         `json:"credits"`
		FreeUsed int         `json:"free_used"`
	}
	views := make([]userView, 0, len(users))
	for _, u := range users {
		views = append(views, userView{ID: u.ID, Username: u.Username, Role: u.Role, Credits: u.Credits, FreeUsed: u.FreeT2ICount})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"users": views, "total": total})
}

type rechargeRequest struct {
	UserID int64  `json:"user_id"`
	Amount int    `json:"amount"`
	Reason string `json:"reason"`
}

func (s *Server) handleRecharge(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())
	var req rechargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid json")
		return
	}
	if req.UserID <= 0 || req.Amount <= 0 {
		s.badRequest(w, "user_id and a positive amount are required")
		return
	}
	operatorID := identity.UserID
	credits, err := s.credits.Recharge(r.Context(), req.UserID, req.Amount, &operatorID, req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "credits": credits})
}
