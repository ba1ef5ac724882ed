package servers

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/tidwall/gjson"

	"github.com/rematch-coach/rematch-coach/src/configs"
	"github.com/rematch-coach/rematch-coach/src/consts"
	"github.com/rematch-coach/rematch-coach/src/instance"
	applog "github.com/rematch-coach/rematch-coach/src/log"
	"github.com/rematch-coach/rematch-coach/src/matchsession"
	"github.com/rematch-coach/rematch-coach/src/matchstore"
	"github.com/rematch-coach/rematch-coach/src/orchestrator"
	"github.com/rematch-coach/rematch-coach/src/types"
)

func trackerOf(r *http.Request) matchsession.Tracker {
	inst := instance.GetInstance(r.Context())
	if inst == nil || inst.SessionTracker == nil {
		return nil
	}
	return inst.SessionTracker.(matchsession.Tracker)
}

func storeOf(r *http.Request) matchstore.Store {
	inst := instance.GetInstance(r.Context())
	if inst == nil || inst.MatchStore == nil {
		return nil
	}
	return inst.MatchStore.(matchstore.Store)
}

func getAppInfo(writer http.ResponseWriter, r *http.Request) {
	writeJSON(writer, consts.GetAppInfo())
}

func getCurrentMatch(writer http.ResponseWriter, r *http.Request) {
	tracker := trackerOf(r)
	if tracker == nil {
		writeError(writer, http.StatusServiceUnavailable, "tracker not ready")
		return
	}
	match := tracker.CurrentMatch()
	if match == nil {
		writeJsonWithStatusCode(writer, http.StatusNotFound, commonResp{
			ErrNo:  http.StatusNotFound,
			ErrMsg: "no match in progress",
		})
		return
	}
	writeJSON(writer, match)
}

// postMatchStart opens a match manually, outside of game telemetry. Used by
// the overlay's debug panel and by tests against a live process.
func postMatchStart(writer http.ResponseWriter, r *http.Request) {
	tracker := trackerOf(r)
	if tracker == nil {
		writeError(writer, http.StatusServiceUnavailable, "tracker not ready")
		return
	}
	b, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(writer, http.StatusBadRequest, err.Error())
		return
	}
	data := gjson.ParseBytes(b)
	info := matchsession.PlayerInfo{
		Name:     data.Get("player_name").Str,
		ID:       data.Get("player_id").Str,
		GameMode: data.Get("game_mode").Str,
	}
	match := tracker.StartMatch(r.Context(), info, data.Get("with_recording").Bool())
	writeJSON(writer, match)
}

func postMatchGoal(writer http.ResponseWriter, r *http.Request) {
	tracker := trackerOf(r)
	if tracker == nil {
		writeError(writer, http.StatusServiceUnavailable, "tracker not ready")
		return
	}
	if tracker.CurrentMatch() == nil {
		writeError(writer, http.StatusConflict, "no match in progress")
		return
	}
	b, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(writer, http.StatusBadRequest, err.Error())
		return
	}
	data := gjson.ParseBytes(b)
	goalType := types.GoalType(data.Get("type").Str)
	switch goalType {
	case types.GoalTeam, types.GoalOpponent:
	default:
		writeError(writer, http.StatusBadRequest, "type must be team_goal or opponent_goal")
		return
	}
	score := types.Score{
		Left:  int(data.Get("score.left").Int()),
		Right: int(data.Get("score.right").Int()),
	}
	tracker.AddGoalEvent(r.Context(), goalType, score)
	writeJSON(writer, commonResp{Data: "OK"})
}

func postMatchEnd(writer http.ResponseWriter, r *http.Request) {
	tracker := trackerOf(r)
	if tracker == nil {
		writeError(writer, http.StatusServiceUnavailable, "tracker not ready")
		return
	}
	b, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(writer, http.StatusBadRequest, err.Error())
		return
	}
	data := gjson.ParseBytes(b)
	var finalScore *types.Score
	if data.Get("score").Exists() {
		finalScore = &types.Score{
			Left:  int(data.Get("score.left").Int()),
			Right: int(data.Get("score.right").Int()),
		}
	}
	record := tracker.EndMatch(r.Context(), data.Get("outcome").Str, finalScore)
	if record == nil {
		// Ending twice is fine; the second call just has nothing to do.
		writeJSON(writer, commonResp{Data: "no match in progress"})
		return
	}
	writeJSON(writer, record)
}

func postMatchRecord(writer http.ResponseWriter, r *http.Request) {
	tracker := trackerOf(r)
	if tracker == nil {
		writeError(writer, http.StatusServiceUnavailable, "tracker not ready")
		return
	}
	if tracker.CurrentMatch() == nil {
		writeError(writer, http.StatusConflict, "no match in progress")
		return
	}
	tracker.StartRecordingForCurrentMatch(r.Context())
	writeJSON(writer, commonResp{Data: "OK"})
}

func getRecords(writer http.ResponseWriter, r *http.Request) {
	store := storeOf(r)
	if store == nil {
		writeError(writer, http.StatusServiceUnavailable, "store not ready")
		return
	}
	records, err := store.All(r.Context())
	if err != nil {
		writeError(writer, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(writer, records)
}

func getRecord(writer http.ResponseWriter, r *http.Request) {
	store := storeOf(r)
	if store == nil {
		writeError(writer, http.StatusServiceUnavailable, "store not ready")
		return
	}
	vars := mux.Vars(r)
	record, err := store.Get(r.Context(), types.MatchID(vars["id"]))
	if err == matchstore.ErrRecordNotFound {
		writeError(writer, http.StatusNotFound, "record not found: "+vars["id"])
		return
	}
	if err != nil {
		writeError(writer, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(writer, record)
}

func postPromptReply(writer http.ResponseWriter, r *http.Request) {
	inst := instance.GetInstance(r.Context())
	if inst == nil || inst.Orchestrator == nil {
		writeError(writer, http.StatusServiceUnavailable, "orchestrator not ready")
		return
	}
	b, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(writer, http.StatusBadRequest, err.Error())
		return
	}
	choice := orchestrator.PromptChoice(gjson.ParseBytes(b).Get("choice").Str)
	if err := inst.Orchestrator.(orchestrator.Orchestrator).ReplyToPrompt(r.Context(), choice); err != nil {
		writeError(writer, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(writer, commonResp{Data: "OK"})
}

func getSettings(writer http.ResponseWriter, r *http.Request) {
	cfg := configs.GetCurrentConfig()
	if cfg == nil {
		writeError(writer, http.StatusServiceUnavailable, "config not ready")
		return
	}
	writeJSON(writer, map[string]interface{}{
		"recording": cfg.Recording,
		"capture":   cfg.Capture,
	})
}

// putSettings updates the recording mode. Every change is written through to
// the config file.
func putSettings(writer http.ResponseWriter, r *http.Request) {
	b, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(writer, http.StatusBadRequest, err.Error())
		return
	}
	data := gjson.ParseBytes(b)
	modeValue := data.Get("recording.mode")
	if !modeValue.Exists() {
		writeError(writer, http.StatusBadRequest, "recording.mode is required")
		return
	}
	mode := configs.ParseRecordingMode(modeValue.Str)
	if err := configs.UpdateRecordingMode(mode); err != nil {
		applog.GetLogger().WithError(err).Error("failed to persist settings")
		writeError(writer, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(writer, commonResp{Data: "OK"})
}
