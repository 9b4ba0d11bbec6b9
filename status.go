package ssevents

import (
	"net/http"
)

// StatusHandler serves the most recent attempt Summary as JSON, using the
// summary's own status code. Before the first attempt it answers 200 with a
// short liveness message.
//
// Example:
//
//	sup := ssevents.NewSupervisor(client)
//	http.Handle("/status", ssevents.StatusHandler(sup))
func StatusHandler(sup *Supervisor) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			writeJSON(rw, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
			return
		}
		last := sup.Last()
		if last == nil {
			writeJSON(rw, http.StatusOK, map[string]any{
				"message":  "events client is running",
				"attempts": 0,
			})
			return
		}
		writeJSON(rw, last.Status, struct {
			*Summary
			Attempts int `json:"attempts"`
		}{last, sup.Attempts()})
	})
}
