package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"stagectl/lib/device"
	"stagectl/lib/events"
	"stagectl/lib/midictl"
	"stagectl/lib/router"
	"stagectl/lib/sequence"
	"stagectl/lib/show"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cur := s.deps.Live.Current()
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"show":       cur.ID,
		"midi_input": s.deps.Dispatcher.Selected(),
		"ws_clients": s.deps.Hub.Clients(),
	})
}

func (s *Server) handleShow(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.deps.Live.Current())
}

func (s *Server) ctrl() *device.Controller {
	return s.deps.Router.Controller()
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.ctrl().Devices(r.Context()))
}

func (s *Server) handleDeviceState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.ctrl().Tracker().Snapshot())
}

func (s *Server) handleRefreshDevices(w http.ResponseWriter, r *http.Request) {
	devs, err := s.ctrl().Refresh(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, devs)
}

func (s *Server) handleDeviceOp(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	var (
		on  bool
		err error
	)
	switch chi.URLParam(r, "op") {
	case "on":
		on = true
		err = s.ctrl().TurnOn(ctx, id)
	case "off":
		err = s.ctrl().TurnOff(ctx, id)
	case "toggle":
		on, err = s.deps.Router.DeviceToggle(ctx, id)
	default:
		respondError(w, http.StatusNotFound, "unknown device operation")
		return
	}

	res := device.Result{DeviceID: id, On: on, Err: err}
	switch {
	case errors.Is(err, device.ErrUnknownDevice):
		respondError(w, http.StatusNotFound, err.Error())
	case err != nil:
		respondJSON(w, http.StatusBadGateway, res)
	default:
		respondJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleGroupOp(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	var (
		rs  device.Results
		err error
	)
	switch chi.URLParam(r, "op") {
	case "on":
		rs, err = s.deps.Router.GroupOn(ctx, id)
	case "off":
		rs, err = s.deps.Router.GroupOff(ctx, id)
	case "toggle":
		rs, err = s.deps.Router.GroupToggle(ctx, id)
	default:
		respondError(w, http.StatusNotFound, "unknown group operation")
		return
	}
	if errors.Is(err, router.ErrNotFound) {
		respondError(w, http.StatusNotFound, "group not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"group":   id,
		"results": resultsOrEmpty(rs),
		"failed":  len(rs.Failed()),
	})
}

func resultsOrEmpty(rs device.Results) device.Results {
	if rs == nil {
		return device.Results{}
	}
	return rs
}

func (s *Server) handlePlaying(w http.ResponseWriter, r *http.Request) {
	playing := s.deps.Router.Playing()
	if playing == nil {
		playing = []sequence.Progress{}
	}
	respondJSON(w, http.StatusOK, playing)
}

func (s *Server) handleSequenceProgress(w http.ResponseWriter, r *http.Request) {
	pr, err := s.deps.Router.SequenceProgress(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "sequence not found")
		return
	}
	respondJSON(w, http.StatusOK, pr)
}

func (s *Server) handleSequenceOp(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rt := s.deps.Router

	var ok bool
	switch chi.URLParam(r, "op") {
	case "play":
		err := rt.PlaySequence(id)
		switch {
		case errors.Is(err, router.ErrNotFound):
			respondError(w, http.StatusNotFound, "sequence not found")
			return
		case errors.Is(err, sequence.ErrBusy):
			respondError(w, http.StatusConflict, "sequence already playing")
			return
		case err != nil:
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		ok = true
	case "pause":
		ok = rt.PauseSequence(id)
	case "resume":
		ok = rt.ResumeSequence(id)
	case "stop":
		ok = rt.StopSequence(id)
	default:
		respondError(w, http.StatusNotFound, "unknown sequence operation")
		return
	}

	pr, err := rt.SequenceProgress(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "sequence not found")
		return
	}
	if !ok {
		respondJSON(w, http.StatusConflict, pr)
		return
	}
	respondJSON(w, http.StatusOK, pr)
}

func (s *Server) handleActivateScene(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Router.ActivateScene(chi.URLParam(r, "id")); err != nil {
		respondError(w, http.StatusNotFound, "scene not found")
		return
	}
	respondJSON(w, http.StatusOK, s.deps.Router.ActiveScene())
}

// handleSceneIndex selects a scene by its 1-based position, the way the
// number keys do.
func (s *Server) handleSceneIndex(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil || n < 1 {
		respondError(w, http.StatusBadRequest, "scene index must be a positive number")
		return
	}
	if err := s.deps.Router.SelectSceneIndex(n - 1); err != nil {
		respondError(w, http.StatusNotFound, "no scene at that index")
		return
	}
	respondJSON(w, http.StatusOK, s.deps.Router.ActiveScene())
}

func (s *Server) handleActiveScene(w http.ResponseWriter, r *http.Request) {
	scene := s.deps.Router.ActiveScene()
	if scene == nil {
		respondError(w, http.StatusNotFound, "show has no scenes")
		return
	}
	respondJSON(w, http.StatusOK, scene)
}

func (s *Server) handleBlackout(w http.ResponseWriter, r *http.Request) {
	rs := s.deps.Router.Blackout(r.Context())
	respondJSON(w, http.StatusOK, map[string]any{
		"results": resultsOrEmpty(rs),
		"failed":  len(rs.Failed()),
	})
}

func (s *Server) handleMIDIInputs(w http.ResponseWriter, r *http.Request) {
	inputs := s.deps.Dispatcher.Inputs()
	if inputs == nil {
		inputs = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"inputs":   inputs,
		"selected": s.deps.Dispatcher.Selected(),
	})
}

func (s *Server) handleSelectInput(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		s.deps.Dispatcher.Disconnect()
		respondJSON(w, http.StatusOK, map[string]string{"selected": ""})
		return
	}
	if err := s.deps.Dispatcher.SelectInput(req.Name); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"selected": s.deps.Dispatcher.Selected()})
}

func (s *Server) handleLastNote(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.deps.Dispatcher.Last()
	if !ok {
		respondError(w, http.StatusNotFound, "no note received yet")
		return
	}
	respondJSON(w, http.StatusOK, ev)
}

// handleLearn blocks until the next press. ?timeout= overrides the default
// wait.
func (s *Server) handleLearn(w http.ResponseWriter, r *http.Request) {
	timeout := s.opts.LearnTimeout
	if v := r.URL.Query().Get("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			respondError(w, http.StatusBadRequest, "invalid timeout")
			return
		}
		timeout = d
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	ev, err := s.deps.Dispatcher.Learn(ctx)
	if err != nil {
		respondError(w, http.StatusRequestTimeout, "no note received")
		return
	}
	resp := map[string]any{"note": ev, "name": midictl.NoteName(ev.Note)}
	if m := s.deps.Live.Current().FindMapping(ev.Note, ev.Channel); m != nil {
		resp["mapping"] = m
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListMappings(w http.ResponseWriter, r *http.Request) {
	cur := s.deps.Live.Current()
	respondJSON(w, http.StatusOK, map[string]any{
		"mappings": cur.MIDIMappings,
		"stale":    cur.StaleMappings(),
	})
}

// handleUpsertMapping stores a mapping, replacing whatever was bound to the
// same note and channel, and persists the show.
func (s *Server) handleUpsertMapping(w http.ResponseWriter, r *http.Request) {
	var m show.Mapping
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if m.ActionType.NeedsTarget() && m.Target() == "" {
		respondError(w, http.StatusBadRequest, "mapping needs a target_id")
		return
	}

	var replaced *show.Mapping
	next, err := s.deps.Live.Update(func(sh *show.Show) error {
		replaced = sh.UpsertMapping(&m)
		return sh.Validate()
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.persist(w, r.Context(), next) {
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"mapping": m, "replaced": replaced})
}

func (s *Server) handleDeleteMapping(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	next, err := s.deps.Live.Update(func(sh *show.Show) error {
		if !sh.DeleteMapping(id) {
			return router.ErrNotFound
		}
		return nil
	})
	if err != nil {
		respondError(w, http.StatusNotFound, "mapping not found")
		return
	}
	if !s.persist(w, r.Context(), next) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) persist(w http.ResponseWriter, ctx context.Context, sh *show.Show) bool {
	if s.deps.Store == nil {
		return true
	}
	if err := s.deps.Store.Save(ctx, sh); err != nil {
		log.Error().Err(err).Str("show", sh.ID).Msg("save show")
		respondError(w, http.StatusInternalServerError, "failed to save show")
		return false
	}
	return true
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	var initial []events.Event
	for _, st := range s.ctrl().Tracker().Snapshot() {
		initial = append(initial, events.New(events.DeviceState, st))
	}
	if scene := s.deps.Router.ActiveScene(); scene != nil {
		initial = append(initial, events.New(events.SceneActive, scene))
	}
	for _, pr := range s.deps.Router.Playing() {
		initial = append(initial, events.New(events.SequenceProgress, pr))
	}
	s.deps.Hub.Serve(w, r, initial)
}
