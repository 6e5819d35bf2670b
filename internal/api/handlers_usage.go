package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/nestline/chatnest/internal/usage"
)

// handleChildUsage serves the parent dashboard view of one child's day:
// the accumulated minutes, the verdict against the limit and the
// individual login/logout intervals.
func (s *Server) handleChildUsage(w http.ResponseWriter, r *http.Request) {
	childID := mux.Vars(r)["id"]

	child, ok := s.ownedChild(w, r, childID)
	if !ok {
		return
	}

	window, verdict, err := s.meter.Check(r.Context(), child.ID, child.DailyLimitMinutes)
	if err != nil {
		s.logger.Error().Err(err).Str("child_id", child.ID).Msg("Failed to compute usage")
		WriteError(w, http.StatusInternalServerError, "Failed to compute usage")
		return
	}

	sessions := make([]UsageSessionInfo, 0, len(window.Sessions))
	for _, sess := range window.Sessions {
		sessions = append(sessions, UsageSessionInfo{
			Start:   sess.Start,
			End:     sess.End,
			Minutes: sess.Minutes,
			Active:  sess.Active,
		})
	}

	info := usageInfo(window, verdict, child.DailyLimitMinutes)
	if info.Day == "" {
		info.Day = usage.Day(s.meter.Now())
	}

	WriteJSON(w, http.StatusOK, UsageReport{
		ChildID:  child.ID,
		Usage:    info,
		Sessions: sessions,
	})
}
