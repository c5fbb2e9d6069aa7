package api

import (
	"fmt"
	"net/http"

	app "github.com/okian/kicker/internal/app"
	"github.com/okian/kicker/internal/domain/rating"
	"github.com/okian/kicker/internal/domain/types"
)

// MatchesHandler serves match submission and the ledger.
type MatchesHandler struct {
	deps Dependencies
	errs errorWriter
}

// NewMatchesHandler creates a matches handler.
func NewMatchesHandler(deps Dependencies, errs errorWriter) *MatchesHandler {
	return &MatchesHandler{deps: deps, errs: errs}
}

// HandleSubmit handles POST /matches. A replayed submission id answers 200
// with the recorded match flagged as a duplicate.
func (h *MatchesHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	const op = "submit match"
	var req submitMatchRequest
	if err := decodeJSON(w, r, op, &req); err != nil {
		h.errs.write(w, r, err)
		return
	}
	sub, err := req.submission()
	if err != nil {
		h.errs.write(w, r, WrapKind(op, ErrBadRequest, err))
		return
	}
	res, err := h.deps.Submit(r.Context(), sub)
	if err != nil {
		h.errs.write(w, r, Wrap(op, err))
		return
	}
	view := types.NewMatch(res.Match)
	view.Duplicate = res.Duplicate
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, view)
}

// HandleList handles GET /matches.
func (h *MatchesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "list matches"
	f, err := pageFilter(r, op)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	writeMatchPage(w, r, h.deps, h.errs, op, f)
}

// HandleGet handles GET /matches/{id}.
func (h *MatchesHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	const op = "get match"
	id, err := pathID(r, op)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}
	m, err := h.deps.Match(r.Context(), id)
	if err != nil {
		h.errs.write(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, types.NewMatch(m))
}

// HandlePreview handles GET /matches/preview?a=..&a=..&b=..&b=..
func (h *MatchesHandler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	const op = "preview match"
	q := r.URL.Query()
	a, b := q["a"], q["b"]
	if len(a) != rating.TeamSize || len(b) != rating.TeamSize {
		h.errs.write(w, r, WrapKind(op, ErrBadRequest,
			fmt.Errorf("%w: need %d players per team in a and b", rating.ErrInvalidInput, rating.TeamSize)))
		return
	}
	var ta, tb [rating.TeamSize]app.PlayerRef
	for i := range rating.TeamSize {
		ta[i], tb[i] = parseRef(a[i]), parseRef(b[i])
	}
	p, err := h.deps.Preview(r.Context(), ta, tb)
	if err != nil {
		h.errs.write(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, types.Preview{
		TeamA:      types.NewPlayers(p.TeamA[:]),
		TeamB:      types.NewPlayers(p.TeamB[:]),
		Prediction: p.Prediction,
	})
}
