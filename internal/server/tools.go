// internal/server/tools.go
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"

	"github.com/hoonseung2/aidietdiary/internal/auth"
	"github.com/hoonseung2/aidietdiary/internal/pipeline"
	"github.com/hoonseung2/aidietdiary/internal/recognition"
	"github.com/hoonseung2/aidietdiary/internal/session"
)

const maxRequestBytes = 16 << 20

var errBadParams = errors.New("invalid parameters")

type toolHandler func(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error)

type SessionParams struct {
	SessionID string `json:"session_id" description:"Session id returned by start_session"`
}

type RegisterParams struct {
	SessionParams
	Username string `json:"username" description:"Login name, used as the user id"`
	Name     string `json:"name" description:"Display name"`
	Password string `json:"password" description:"Password"`
}

type LoginParams struct {
	SessionParams
	Username string `json:"username" description:"Login name"`
	Password string `json:"password" description:"Password"`
}

type RecognizeFoodParams struct {
	SessionParams
	Filename    string `json:"filename" description:"Name of the uploaded file"`
	ImageBase64 string `json:"image_base64" description:"Image bytes, base64 or data URI"`
}

type LogFoodParams struct {
	SessionParams
	Index *int `json:"index" description:"Position of the chosen candidate"`
}

type GetLogsParams struct {
	SessionParams
	StartDate string `json:"start_date,omitempty" description:"Start date (YYYY-MM-DD)"`
	EndDate   string `json:"end_date,omitempty" description:"End date (YYYY-MM-DD)"`
	Limit     int    `json:"limit,omitempty" description:"Maximum number of entries to return"`
}

// extractParams safely extracts parameters from the request arguments
func extractParams(req *protocol.CallToolRequest, target interface{}) error {
	jsonBytes, err := json.Marshal(req.Arguments)
	if err != nil {
		return fmt.Errorf("%w: %v", errBadParams, err)
	}

	if err := json.Unmarshal(jsonBytes, target); err != nil {
		return fmt.Errorf("%w: %v", errBadParams, err)
	}

	return nil
}

func (s *DiaryServer) registerTools() {
	s.tools = map[string]toolHandler{
		"start_session":  s.handleStartSession,
		"register":       s.handleRegister,
		"login":          s.handleLogin,
		"logout":         s.handleLogout,
		"recognize_food": s.handleRecognizeFood,
		"log_food":       s.handleLogFood,
		"get_summary":    s.handleGetSummary,
		"get_ratio":      s.handleGetRatio,
		"get_logs":       s.handleGetLogs,
	}
	for name := range s.tools {
		s.logger.Debug("registered tool", "tool", name)
	}
}

func authResponse(st *session.State) map[string]interface{} {
	return map[string]interface{}{
		"session_id": st.ID,
		"state":      st.Auth.String(),
		"message":    st.Auth.Message(),
		"username":   st.UserID,
		"name":       st.DisplayName,
	}
}

func (s *DiaryServer) handleStartSession(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	id := s.sessions.Create()

	var resp map[string]interface{}
	err := s.sessions.Do(id, func(st *session.State) error {
		resp = authResponse(st)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(resp)
}

func (s *DiaryServer) handleRegister(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params RegisterParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}

	// Registration needs a live session so the client has somewhere to log in.
	err := s.sessions.Do(params.SessionID, func(st *session.State) error { return nil })
	if err != nil {
		return nil, err
	}

	user, err := s.auth.Register(ctx, params.Username, params.Name, params.Password)
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(map[string]interface{}{
		"username": user.Username,
		"name":     user.Name,
		"message":  "Registration complete. Please log in.",
	})
}

func (s *DiaryServer) handleLogin(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params LoginParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}

	var resp map[string]interface{}
	err := s.sessions.Do(params.SessionID, func(st *session.State) error {
		if _, err := s.auth.Login(ctx, st, params.Username, params.Password); err != nil {
			return err
		}
		resp = authResponse(st)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(resp)
}

func (s *DiaryServer) handleLogout(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params SessionParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}

	var resp map[string]interface{}
	err := s.sessions.Do(params.SessionID, func(st *session.State) error {
		s.auth.Logout(st)
		resp = authResponse(st)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(resp)
}

// handleRecognizeFood runs one upload through recognition and lookup
func (s *DiaryServer) handleRecognizeFood(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params RecognizeFoodParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}

	image, err := decodeImage(params.ImageBase64)
	if err != nil {
		return nil, err
	}
	filename := params.Filename
	if filename == "" {
		filename = "upload"
	}

	var result pipeline.UploadResult
	err = s.sessions.Do(params.SessionID, func(st *session.State) error {
		var err error
		result, err = s.pipeline.Upload(ctx, st, filename, image)
		return err
	})
	if err != nil {
		return nil, err
	}

	message := "Choose an item below and log it."
	if len(result.Candidates) == 0 {
		message = "No matching foods were found in the database."
	}
	return s.createJSONResponse(map[string]interface{}{
		"keywords":   result.Keywords,
		"candidates": result.Candidates,
		"cached":     result.Cached,
		"message":    message,
	})
}

// handleLogFood commits the chosen candidate to the user's diet log
func (s *DiaryServer) handleLogFood(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params LogFoodParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if params.Index == nil {
		return nil, fmt.Errorf("%w: index is required", errBadParams)
	}

	var resp map[string]interface{}
	err := s.sessions.Do(params.SessionID, func(st *session.State) error {
		entry, err := s.pipeline.Commit(ctx, st, *params.Index)
		if err != nil {
			return err
		}
		resp = map[string]interface{}{
			"entry":   entry,
			"message": fmt.Sprintf("Logged %s.", entry.FoodName),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(resp)
}

func (s *DiaryServer) handleGetSummary(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params SessionParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}

	userID, err := s.authenticatedUser(params.SessionID)
	if err != nil {
		return nil, err
	}

	summary, err := s.pipeline.Summary(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(summary)
}

// handleGetRatio returns today's carbs/protein/fat split
func (s *DiaryServer) handleGetRatio(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params SessionParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}

	userID, err := s.authenticatedUser(params.SessionID)
	if err != nil {
		return nil, err
	}

	ratio, err := s.pipeline.Ratio(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(ratio)
}

// handleGetLogs retrieves diet log entries from storage
func (s *DiaryServer) handleGetLogs(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params GetLogsParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}

	userID, err := s.authenticatedUser(params.SessionID)
	if err != nil {
		return nil, err
	}

	entries, err := s.pipeline.Logs(ctx, userID, params.StartDate, params.EndDate, params.Limit)
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(entries)
}

func (s *DiaryServer) authenticatedUser(sessionID string) (string, error) {
	var userID string
	err := s.sessions.Do(sessionID, func(st *session.State) error {
		if !st.Authenticated() {
			return pipeline.NotAuthenticated(st)
		}
		userID = st.UserID
		return nil
	})
	return userID, err
}

func decodeImage(encoded string) ([]byte, error) {
	if i := strings.Index(encoded, ";base64,"); i >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[i+len(";base64,"):]
	}
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, pipeline.ErrEmptyImage
	}

	image, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: image_base64: %v", errBadParams, err)
	}
	return image, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadParams),
		errors.Is(err, pipeline.ErrEmptyImage),
		errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrInvalidSelection),
		errors.Is(err, pipeline.ErrNoCandidates),
		errors.Is(err, auth.ErrUserExists):
		return http.StatusConflict
	case errors.Is(err, recognition.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, recognition.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, pipeline.ErrRecognition):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, errBadParams):
		return err.Error()
	case errors.Is(err, pipeline.ErrEmptyImage):
		return "Please upload a photo."
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrUserExists):
		return err.Error()
	case errors.Is(err, pipeline.ErrNotAuthenticated):
		var authErr *session.AuthRequiredError
		if errors.As(err, &authErr) {
			return authErr.State.Message()
		}
		return session.AuthNotAttempted.Message()
	case errors.Is(err, session.ErrSessionNotFound):
		return "Session expired. Please start a new session."
	case errors.Is(err, pipeline.ErrNoCandidates):
		return "Nothing to log yet. Upload a photo first."
	case errors.Is(err, pipeline.ErrInvalidSelection):
		return "The selected item is not in the current list. Please choose again."
	case errors.Is(err, recognition.ErrRateLimited):
		return "The recognition service is busy. Please try again in a moment."
	case errors.Is(err, recognition.ErrNotConfigured):
		return "Photo recognition is not configured."
	case errors.Is(err, pipeline.ErrRecognition):
		return "Could not analyse the photo. Please try again."
	default:
		return "Something went wrong. Please try again."
	}
}
