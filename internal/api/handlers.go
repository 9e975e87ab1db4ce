package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-typerace/internal/database"
	"github.com/npezzotti/go-typerace/internal/server"
	"github.com/npezzotti/go-typerace/internal/statscache"
	"github.com/npezzotti/go-typerace/internal/submission"
	"github.com/npezzotti/go-typerace/internal/types"
	"github.com/npezzotti/go-typerace/internal/window"
	"github.com/samber/lo"
)

const (
	defaultHistoryLimit     = 50
	maxHistoryLimit         = 500
	defaultLeaderboardLimit = 50
	maxLeaderboardLimit     = 100
)

type UpdateAccountRequest struct {
	Username  string `json:"username"`
	AvatarUrl string `json:"avatar_url"`
	// Password is optional; an empty value keeps the current one.
	Password string `json:"password"`
}

type ProgressRequest struct {
	CharsTyped int `json:"chars_typed"`
}

func (s *TypeRaceApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

// parseLimit reads the limit query parameter, falling back to def and
// clamping to maxLimit.
func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return def, nil
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		return 0, errors.New("invalid limit")
	}
	return min(limit, maxLimit), nil
}

func (s *TypeRaceApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.log.Println("health check:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *TypeRaceApp) account(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	switch r.Method {
	case http.MethodGet:
		user, err := s.db.GetAccountById(r.Context(), userId)
		if err != nil {
			errResp := errorFor(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		s.writeJson(w, http.StatusOK, toUser(user))
	case http.MethodPut:
		var updateAccountReq UpdateAccountRequest
		if err := json.NewDecoder(r.Body).Decode(&updateAccountReq); err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		if updateAccountReq.Username == "" {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		params := database.UpdateAccountParams{
			UserId:    userId,
			Username:  updateAccountReq.Username,
			AvatarUrl: updateAccountReq.AvatarUrl,
		}

		if updateAccountReq.Password != "" {
			pwdHash, err := hashPassword(updateAccountReq.Password)
			if err != nil {
				errResp := NewInternalServerError(err)
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
			params.PasswordHash = pwdHash
		}

		var dbUser database.User
		err := s.db.InUserTx(r.Context(), userId, func(q database.Queries) error {
			var err error
			dbUser, err = q.UpdateAccount(r.Context(), params)
			if err != nil {
				return err
			}

			return s.cache.SyncIdentity(r.Context(), q, userId, dbUser.Username, dbUser.AvatarUrl)
		})
		if err != nil {
			errResp := errorFor(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		s.writeJson(w, http.StatusOK, toUser(dbUser))
	default:
		errResp := NewMethodNotAllowedError()
		s.writeJson(w, errResp.StatusCode, errResp)
	}
}


func (s *TypeRaceApp) startSession(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sess := s.sessions.Start(userId)
	s.writeJson(w, http.StatusCreated, sess)
}

// resumeSession hands an interrupted session back to its owner after a page
// refresh, as long as its last activity is within the resume grace.
func (s *TypeRaceApp) resumeSession(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sessionId := r.URL.Query().Get("id")
	if sessionId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sess, err := s.sessions.Resume(sessionId, userId)
	if err != nil {
		errResp := errorFor(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, sess)
}

func (s *TypeRaceApp) recordProgress(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sessionId := r.URL.Query().Get("id")
	if sessionId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req ProgressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CharsTyped < 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.sessions.Record(sessionId, userId, req.CharsTyped); err != nil {
		errResp := errorFor(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}


func (s *TypeRaceApp) submitResult(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req submission.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	res, err := s.pipeline.Submit(r.Context(), userId, req)
	if err != nil {
		s.log.Println("submit result:", err)
		errResp := errorFor(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, res)
}

func (s *TypeRaceApp) deleteResult(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.pipeline.Delete(r.Context(), userId, id); err != nil {
		errResp := errorFor(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *TypeRaceApp) listResults(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	limit, err := parseLimit(r, defaultHistoryLimit, maxHistoryLimit)
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	subs, err := s.pipeline.History(r.Context(), userId, limit)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, lo.Map(subs, func(sub database.Submission, _ int) types.TestResult {
		return types.TestResult{
			Id:             sub.Id,
			Wpm:            sub.Wpm,
			Accuracy:       sub.Accuracy,
			Mode:           sub.Mode,
			Duration:       sub.Duration,
			WordCount:      sub.WordCount,
			Difficulty:     sub.Difficulty,
			Punctuation:    sub.Punctuation,
			Numbers:        sub.Numbers,
			Capitalization: sub.Capitalization,
			WordsCorrect:   sub.WordsCorrect,
			WordsIncorrect: sub.WordsIncorrect,
			CharsMissed:    sub.CharsMissed,
			CharsExtra:     sub.CharsExtra,
			CreatedAt:      sub.CreatedAt,
			IsValid:        sub.Valid(),
		}
	}))
}

func (s *TypeRaceApp) userStats(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	us, err := s.db.GetUserStats(r.Context(), userId)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, statscache.Summarize(us))
}

func (s *TypeRaceApp) leaderboard(w http.ResponseWriter, r *http.Request) {
	rng, err := window.ParseRange(r.URL.Query().Get("range"))
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	limit, err := parseLimit(r, defaultLeaderboardLimit, maxLeaderboardLimit)
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	entries, err := s.cache.Leaderboard(r.Context(), s.db, rng, limit)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, lo.Map(entries, func(e database.LeaderboardEntry, i int) types.LeaderboardEntry {
		return types.LeaderboardEntry{
			Rank:      i + 1,
			UserId:    e.UserId,
			Username:  e.Username,
			AvatarUrl: e.AvatarUrl,
			BestWpm:   e.BestWpm,
			BestWpmAt: e.BestWpmAt,
			TimeRange: e.TimeRange,
		}
	}))
}

func (s *TypeRaceApp) serveWs(w http.ResponseWriter, r *http.Request) {
	// anonymous players are allowed; samples are only recorded for users
	userId, _ := UserId(r.Context())

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return lo.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(userId, conn, s.rooms, s.log)
	client.Register()
	go client.Write()
	go client.Read()
}
