package transport

import "net/http"

type Router struct {
	h *handler
}

func NewRouter(uc Usecase) *Router {
	return &Router{h: NewHandler(uc)}
}

// MountRoutes registers the task HTTP surface (§6.1) on mux and returns it.
func (rt *Router) MountRoutes(mux *http.ServeMux) *http.ServeMux {
	mux.HandleFunc("/api/generate", rt.h.generate)
	mux.HandleFunc("/api/tasks", rt.h.listTasks)
	mux.HandleFunc("/api/task/", rt.taskByID)
	return mux
}

// taskByID dispatches GET/DELETE on /api/task/{id} to the right handler,
// since both share the same path prefix.
func (rt *Router) taskByID(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rt.h.getTask(w, r)
	case http.MethodDelete:
		rt.h.deleteTask(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "")
	}
}
