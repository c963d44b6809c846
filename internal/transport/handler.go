// Package transport exposes the task HTTP surface: submit, inspect, list,
// and delete. Grounded on the teacher's api/internal/transport package —
// same handler-struct-plus-Usecase-interface shape, same request-scoped
// logger with a generated request ID, same writeJSON/writeError helpers.
package transport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/audiostory/orchestrator/internal/domain"
)

// Usecase is the orchestrator-facing contract the handler depends on.
type Usecase interface {
	CreateTask(name string, inputs domain.Inputs) (*domain.Task, error)
	GetTask(taskID string) (*domain.Task, error)
	ListTasks() []*domain.Task
	DeleteTask(taskID string) error
}

type handler struct {
	uc Usecase
}

func NewHandler(uc Usecase) *handler {
	return &handler{uc: uc}
}

type generateRequest struct {
	Name          string `json:"name"`
	SpeakerWav    string `json:"speaker_wav"`
	DialogueJSON  string `json:"dialogue_json"`
	EmotionFolder string `json:"emotion_folder"`
	SourceAudio   string `json:"source_audio"`
	ScriptJSON    string `json:"script_json"`
	BGMPath       string `json:"bgm_path"`
}

type generateResponse struct {
	TaskID    string `json:"task_id"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

type taskView struct {
	TaskID         string              `json:"task_id"`
	Status         string              `json:"status"`
	Progress       string              `json:"progress"`
	CurrentStep    int                 `json:"current_step"`
	TotalSteps     int                 `json:"total_steps"`
	Steps          []domain.StepRecord `json:"steps"`
	OutputWav      string              `json:"output_wav,omitempty"`
	ArchiveObject  string              `json:"archive_object,omitempty"`
	Error          string              `json:"error,omitempty"`
	CreatedAt      string              `json:"created_at"`
	UpdatedAt      string              `json:"updated_at"`
}

func toTaskView(t *domain.Task) taskView {
	return taskView{
		TaskID:        t.TaskID,
		Status:        string(t.Status),
		Progress:      t.ProgressMessage,
		CurrentStep:   t.CurrentStep,
		TotalSteps:    t.TotalSteps,
		Steps:         t.Steps,
		OutputWav:     t.OutputPath,
		ArchiveObject: t.ArchiveObject,
		Error:         t.Error,
		CreatedAt:     t.CreatedAt.Format(timeLayout),
		UpdatedAt:     t.UpdatedAt.Format(timeLayout),
	}
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func (h *handler) generate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "")
		return
	}

	requestID := uuid.NewString()
	logger := slog.With(
		slog.String("request_id", requestID),
		slog.String("handler", "generate"),
		slog.String("remote_addr", r.RemoteAddr),
	)

	defer r.Body.Close()

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("decode request body", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	inputs := domain.Inputs{
		SpeakerWav:    req.SpeakerWav,
		DialogueJSON:  req.DialogueJSON,
		EmotionFolder: req.EmotionFolder,
		SourceAudio:   req.SourceAudio,
		ScriptJSON:    req.ScriptJSON,
		BGMPath:       req.BGMPath,
	}

	if err := validateInputs(inputs); err != nil {
		logger.Warn("invalid inputs", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	task, err := h.uc.CreateTask(req.Name, inputs)
	if err != nil {
		if errors.Is(err, domain.ErrQueueFull) {
			logger.Warn("CreateTask: queue full")
			w.Header().Set("Retry-After", "5")
			writeError(w, http.StatusServiceUnavailable, "scheduler queue is full, retry shortly")
			return
		}
		logger.Error("CreateTask", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "cannot create task")
		return
	}

	writeJSON(w, http.StatusAccepted, generateResponse{
		TaskID:    task.TaskID,
		Status:    string(task.Status),
		CreatedAt: task.CreatedAt.Format(timeLayout),
	})
}

func (h *handler) getTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "")
		return
	}

	taskID := strings.TrimPrefix(r.URL.Path, "/api/task/")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "missing task id")
		return
	}

	task, err := h.uc.GetTask(taskID)
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		slog.Error("GetTask", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "")
		return
	}

	writeJSON(w, http.StatusOK, toTaskView(task))
}

func (h *handler) listTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "")
		return
	}

	status := r.URL.Query().Get("status")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	all := h.uc.ListTasks()

	views := make([]taskView, 0, len(all))
	for _, t := range all {
		if status != "" && string(t.Status) != status {
			continue
		}
		views = append(views, toTaskView(t))
		if limit > 0 && len(views) >= limit {
			break
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tasks": views,
		"total": len(views),
	})
}

func (h *handler) deleteTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "")
		return
	}

	taskID := strings.TrimPrefix(r.URL.Path, "/api/task/")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "missing task id")
		return
	}

	if err := h.uc.DeleteTask(taskID); err != nil {
		switch {
		case errors.Is(err, domain.ErrTaskNotFound):
			writeError(w, http.StatusNotFound, "task not found")
		case errors.Is(err, domain.ErrConflict):
			writeError(w, http.StatusConflict, "task is processing")
		default:
			slog.Error("DeleteTask", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func validateInputs(in domain.Inputs) error {
	missing := map[string]string{
		"speaker_wav":    in.SpeakerWav,
		"dialogue_json":  in.DialogueJSON,
		"emotion_folder": in.EmotionFolder,
		"source_audio":   in.SourceAudio,
		"script_json":    in.ScriptJSON,
		"bgm_path":       in.BGMPath,
	}
	for field, val := range missing {
		if strings.TrimSpace(val) == "" {
			return errors.New("field `" + field + "` is required")
		}
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writeJSON", slog.String("error", err.Error()))
	}
}
