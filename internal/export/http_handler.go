package export

import (
	"fmt"
	"net/http"
	"strings"
)

type Handler struct {
	service *Service
}

func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

// ServeHTTP handles GET /exports/projects/{id}/history.xlsx.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	projectID := projectIDFromPath(r.URL.Path)
	if projectID == "" {
		http.Error(w, "missing project identifier", http.StatusBadRequest)
		return
	}

	filename := fmt.Sprintf("%s-history.xlsx", projectID)
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	if err := h.service.WriteProjectHistory(r.Context(), w, projectID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func projectIDFromPath(path string) string {
	path = strings.TrimSuffix(path, "/history.xlsx")
	idx := strings.LastIndex(path, "/")
	if idx == -1 || idx == len(path)-1 {
		return ""
	}
	return path[idx+1:]
}
