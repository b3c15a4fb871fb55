package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/noctua/internal/common"
	"github.com/ternarybob/noctua/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetFullVersion(),
	})
}

// statusHandler reports queue depth, account supply, and the dispatch gate.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tasks := s.app.StorageManager.TaskStorage()

	counts := make(map[string]int)
	for _, status := range []models.TaskStatus{
		models.TaskStatusQueued,
		models.TaskStatusProcessing,
		models.TaskStatusCompleted,
		models.TaskStatusFailed,
		models.TaskStatusCancelled,
	} {
		count, err := tasks.CountTasksByStatus(ctx, status)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to count tasks")
			return
		}
		counts[string(status)] = count
	}

	available, err := s.app.AccountPool.AvailableCount(ctx, time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count accounts")
		return
	}

	records, err := s.app.StorageManager.GraphStorage().CountRecords(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count graph records")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tasks":              counts,
		"running_tasks":      s.app.SchedulerService.RunningTasks(),
		"available_accounts": available,
		"graph_records":      records,
		"processing_enabled": s.app.StorageManager.KeyValueStorage().GetBool(ctx, "processing_enabled", true),
		"ws_clients":         s.wsHandler.ClientCount(),
	})
}

// tasksHandler lists tasks (GET) or enqueues one (POST).
func (s *Server) tasksHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		status := models.TaskStatus(r.URL.Query().Get("status"))
		tasks, err := s.app.StorageManager.TaskStorage().ListTasks(r.Context(), status, 200)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list tasks")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks, "count": len(tasks)})

	case http.MethodPost:
		var task models.Task
		if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
			writeError(w, http.StatusBadRequest, "invalid task body")
			return
		}
		if err := s.app.SchedulerService.EnqueueTask(r.Context(), &task); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, &task)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// taskRoutes handles /api/tasks/{id} and /api/tasks/{id}/cancel.
func (s *Server) taskRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	if rest == "" {
		writeError(w, http.StatusNotFound, "task id required")
		return
	}

	if taskID, ok := strings.CutSuffix(rest, "/cancel"); ok {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if err := s.app.SchedulerService.CancelTask(r.Context(), taskID); err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"task_id": taskID, "action": "cancelled"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		task, err := s.app.StorageManager.TaskStorage().GetTask(r.Context(), rest)
		if err != nil {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeJSON(w, http.StatusOK, task)

	case http.MethodDelete:
		if err := s.app.SchedulerService.ForceDeleteTask(r.Context(), rest); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"task_id": rest, "action": "deleted"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// createAccountRequest is the POST body for registering an account. The
// plaintext credential is encrypted at the boundary and never stored.
type createAccountRequest struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Credential  string `json:"credential,omitempty"`
}

func (s *Server) accountsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		all, err := s.app.StorageManager.AccountStorage().ListAccounts(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list accounts")
			return
		}
		masked := make([]*models.Account, 0, len(all))
		for _, account := range all {
			masked = append(masked, account.MaskSensitiveData())
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": masked, "count": len(masked)})

	case http.MethodPost:
		var req createAccountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid account body")
			return
		}

		account := &models.Account{
			ID:          common.NewAccountID(),
			DisplayName: req.DisplayName,
			Email:       req.Email,
			IsActive:    true,
			CreatedAt:   time.Now(),
		}
		if req.Credential != "" {
			encrypted, err := common.EncryptString(s.app.Config.Accounts.CredentialKey, req.Credential)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to encrypt credential")
				return
			}
			account.EncryptedCredential = encrypted
		}
		if err := s.app.StorageManager.AccountStorage().SaveAccount(r.Context(), account); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to save account")
			return
		}
		writeJSON(w, http.StatusCreated, account.MaskSensitiveData())

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) resetAccountsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	count, err := s.app.SchedulerService.ResetAccounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"reset_count": count})
}

// processingHandler reads (GET) or toggles (POST) the dispatch gate.
func (s *Server) processingHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		enabled := s.app.StorageManager.KeyValueStorage().GetBool(r.Context(), "processing_enabled", true)
		writeJSON(w, http.StatusOK, map[string]bool{"enabled": enabled})

	case http.MethodPost:
		var req struct {
			Enabled bool `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		if err := s.app.SchedulerService.SetProcessing(r.Context(), req.Enabled); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) recentLogsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var (
		logs = s.app.StorageManager.LogStorage()
		err  error
		out  []*models.LogEvent
	)
	if taskID := r.URL.Query().Get("task_id"); taskID != "" {
		out, err = logs.EventsForTask(r.Context(), taskID, 500)
	} else {
		out, err = logs.RecentEvents(r.Context(), 200)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to retrieve logs")
		return
	}
	if out == nil {
		out = []*models.LogEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": out, "count": len(out)})
}

// graphsHandler lists extracted records for one entity.
func (s *Server) graphsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	entityType := models.EntityType(r.URL.Query().Get("entity_type"))
	entityID := r.URL.Query().Get("entity_id")
	if entityType == "" || entityID == "" {
		writeError(w, http.StatusBadRequest, "entity_type and entity_id are required")
		return
	}

	records, err := s.app.StorageManager.GraphStorage().ListRecordsByEntity(r.Context(), entityType, entityID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list graph records")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": records, "count": len(records)})
}
