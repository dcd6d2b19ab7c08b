package handler

import (
	"net/http"

	"autolist-backend/bootstrap"
)

var app = bootstrap.NewLazy(bootstrap.Build)

// Handler is the serverless entry point. All requests are rewritten here.
func Handler(w http.ResponseWriter, r *http.Request) {
	app.ServeHTTP(w, r)
}
