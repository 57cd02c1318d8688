package handlers

import (
	"encoding/json"
	"net/http"
)

// APIResponse is the uniform envelope for every endpoint.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func sendJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func sendSuccess(w http.ResponseWriter, data interface{}, message string) {
	sendJSON(w, http.StatusOK, APIResponse{Success: true, Data: data, Message: message})
}

func sendError(w http.ResponseWriter, statusCode int, message string) {
	sendJSON(w, statusCode, APIResponse{Success: false, Error: message, Message: message})
}

func sendBadRequest(w http.ResponseWriter, message string) {
	sendError(w, http.StatusBadRequest, message)
}

func sendNotFound(w http.ResponseWriter, message string) {
	sendError(w, http.StatusNotFound, message)
}

func sendConflict(w http.ResponseWriter, message string) {
	sendError(w, http.StatusConflict, message)
}

func sendForbidden(w http.ResponseWriter, message string) {
	sendError(w, http.StatusForbidden, message)
}

func sendInternalError(w http.ResponseWriter) {
	sendError(w, http.StatusInternalServerError, "internal server error")
}
