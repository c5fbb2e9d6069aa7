package api

import (
	"net/http"
	"strings"

	app "github.com/okian/kicker/internal/app"
	"github.com/okian/kicker/internal/domain/model"
	"github.com/okian/kicker/internal/domain/types"
)

// PlayersHandler serves player registration and lookups.
type PlayersHandler struct {
	deps Dependencies
	errs errorWriter
}

// NewPlayersHandler creates a players handler.
func NewPlayersHandler(deps Dependencies, errs errorWriter) *PlayersHandler {
	return &PlayersHandler{deps: deps, errs: errs}
}

// HandleCreate handles POST /players.
func (h *PlayersHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	const op = "create player"
	var req createPlayerRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		h.errs.write(w, r, err)
		return
	}
	p, err := h.deps.Register(r.Context(), req.Name)
	if err != nil {
		h.errs.write(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, types.NewPlayer(p))
}

// HandleList handles GET /players. With ?name= it returns the single
// player of that name.
func (h *PlayersHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "list players"
	if name := r.URL.Query().Get("name"); strings.TrimSpace(name) != "" {
		p, err := h.deps.Player(r.Context(), app.PlayerRef{Name: name})
		if err != nil {
			h.errs.write(w, r, Wrap(op, err))
			return
		}
		writeJSON(w, http.StatusOK, types.NewPlayer(p))
		return
	}
	ps, err := h.deps.Players(r.Context())
	if err != nil {
		h.errs.write(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, types.NewPlayers(ps))
}

// HandleGet handles GET /players/{id}.
func (h *PlayersHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	const op = "get player"
	id, err := pathID(r, op)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	p, err := h.deps.Player(r.Context(), app.PlayerRef{ID: id})
	if err != nil {
		h.errs.write(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, types.NewPlayer(p))
}

// HandleMatches handles GET /players/{id}/matches.
func (h *PlayersHandler) HandleMatches(w http.ResponseWriter, r *http.Request) {
	const op = "player matches"
	id, err := pathID(r, op)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	f, err := pageFilter(r, op)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	if _, err := h.deps.Player(r.Context(), app.PlayerRef{ID: id}); err != nil {
		h.errs.write(w, r, Wrap(op, err))
		return
	}
	f.PlayerID = id
	writeMatchPage(w, r, h.deps, h.errs, op, f)
}

// pageFilter reads ?limit= and ?after=.
func pageFilter(r *http.Request, op string) (model.MatchFilter, error) {
	limit, err := queryInt64(r, op, "limit")
	if err != nil {
		return model.MatchFilter{}, err
	}
	after, err := queryInt64(r, op, "after")
	if err != nil {
		return model.MatchFilter{}, err
	}
	return model.MatchFilter{After: after, Limit: int(limit)}, nil
}

func writeMatchPage(w http.ResponseWriter, r *http.Request, deps Dependencies, errs errorWriter, op string, f model.MatchFilter) {
	ms, next, err := deps.Matches(r.Context(), f)
	if err != nil {
		errs.write(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, types.MatchPage{Matches: types.NewMatches(ms), Next: next})
}
