package server

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/guildkeys/keysync/internal/roster"
	"github.com/guildkeys/keysync/internal/schema"
	"github.com/guildkeys/keysync/internal/syncclient"
)

// maxSyncBody bounds an ingest request body.
const maxSyncBody = 4 << 20

// RosterResponse is the body of GET /api/guilds/{id}/roster.
type RosterResponse struct {
	GuildID int64          `json:"guildId"`
	Entries []roster.Entry `json:"entries"`
	Summary roster.Summary `json:"summary"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		ingestCounter.WithLabelValues("unauthorized").Inc()
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	batch := r.Header.Get(syncclient.BatchHeader)
	logger := s.logger.With(zap.String("batch", batch))

	var req syncclient.Request
	dec := json.NewDecoder(io.LimitReader(r.Body, maxSyncBody))
	if err := dec.Decode(&req); err != nil {
		ingestCounter.WithLabelValues("bad_request").Inc()
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}

	records, dropped := sanitize(req.Keys)
	for _, d := range dropped {
		logger.Debug("dropping invalid record", zap.String("record", d))
	}

	upserted, err := s.store.ReplaceBagKeys(r.Context(), records)
	if err != nil {
		ingestCounter.WithLabelValues("error").Inc()
		logger.Error("failed to store batch", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store keys")
		return
	}

	ingestCounter.WithLabelValues("ok").Inc()
	ingestRecords.Add(float64(upserted))

	ack := syncclient.Ack{OK: true, Received: len(req.Keys), Upserted: upserted}
	if len(dropped) > 0 {
		ack.Message = fmt.Sprintf("dropped %d invalid records", len(dropped))
	}
	logger.Info("batch stored",
		zap.Int("received", ack.Received), zap.Int("upserted", upserted), zap.Int("dropped", len(dropped)))

	characters := make([]string, len(records))
	for i, rec := range records {
		characters[i] = rec.Identity().String()
	}
	if data, err := json.Marshal(SyncData{
		Batch:      batch,
		Received:   ack.Received,
		Upserted:   upserted,
		Characters: characters,
	}); err == nil {
		s.Broadcast(Message{Type: MessageTypeSync, Data: data})
	}

	writeJSON(w, http.StatusOK, ack)
}

// sanitize normalizes identities and drops records that fail validation.
// It returns the kept records and a description of each dropped one.
func sanitize(in []schema.Keystone) ([]schema.Keystone, []string) {
	kept := make([]schema.Keystone, 0, len(in))
	var dropped []string
	for _, rec := range in {
		rec.CharacterName = schema.NormalizeName(rec.CharacterName)
		rec.RealmSlug = schema.Slugify(rec.RealmSlug)
		rec.IsFromBag = true
		if err := rec.Validate(); err != nil {
			dropped = append(dropped, fmt.Sprintf("%s: %v", rec.Identity(), err))
			continue
		}
		kept = append(kept, rec)
	}
	return kept, dropped
}

func (s *Server) handleRoster(w http.ResponseWriter, r *http.Request) {
	guildID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || guildID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid guild id")
		return
	}

	characters, err := s.store.GuildRoster(r.Context(), guildID)
	if err != nil {
		s.logger.Error("failed to load roster", zap.Int64("guild", guildID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load roster")
		return
	}

	entries := roster.Aggregate(characters)
	summary := roster.Summarize(entries)
	s.logger.Debug("roster served",
		zap.Int64("guild", guildID),
		zap.Int("players", summary.Players),
		zap.Int("orphans", summary.Orphans))

	writeJSON(w, http.StatusOK, RosterResponse{GuildID: guildID, Entries: entries, Summary: summary})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]interface{}{
		"status":  "ok",
		"clients": s.ClientCount(),
	}
	if n, err := s.store.CharacterCountContext(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["error"] = err.Error()
	} else {
		body["characters"] = n
	}
	writeJSON(w, status, body)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.token == "" {
		return true
	}
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) == 1
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Hijacked connections have no meaningful status or duration.
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		timer := newRequestTimer()
		next.ServeHTTP(rec, r)
		timer.observe(r.Pattern, rec.status)
	})
}
