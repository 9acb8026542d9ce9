package transport

import "net/http"

type Handler interface {
	generateMusic(w http.ResponseWriter, r *http.Request)
	fetchTask(w http.ResponseWriter, r *http.Request)
	health(w http.ResponseWriter, r *http.Request)
	webhook(w http.ResponseWriter, r *http.Request)
	taskResult(w http.ResponseWriter, r *http.Request)
	tasks(w http.ResponseWriter, r *http.Request)
}

type router struct {
	h           Handler
	diagnostics bool
}

// NewRouter mounts the task listing and clearing route only when diagnostics
// is set.
func NewRouter(h Handler, diagnostics bool) *router {
	return &router{h: h, diagnostics: diagnostics}
}

func (r *router) MountRoutes(mux *http.ServeMux) *http.ServeMux {
	mux.HandleFunc("/api/generate-music", r.h.generateMusic)
	mux.HandleFunc("/api/fetch-task", r.h.fetchTask)
	mux.HandleFunc("/api/health", r.h.health)
	mux.HandleFunc("/api/webhook", r.h.webhook)
	mux.HandleFunc("/api/task-result", r.h.taskResult)
	if r.diagnostics {
		mux.HandleFunc("/api/tasks", r.h.tasks)
	}

	return mux
}
