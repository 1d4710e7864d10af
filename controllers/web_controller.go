package controllers

import (
	"fmt"
	"net/http"
	"time"
)

// RootHandler answers with a plain text banner.
func (c *Controller) RootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "FISD Counselor Backend is running")
}

// HelloHandler echoes the caller's origin, for checking CORS from a browser.
func (c *Controller) HelloHandler(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = "no-origin"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":        true,
		"msg":       "Hello from the FISD Counselor Backend",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"origin":    origin,
	})
}

// PingHandler is a keep-alive endpoint
func (c *Controller) PingHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
