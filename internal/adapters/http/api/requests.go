package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	app "github.com/okian/kicker/internal/app"
	"github.com/okian/kicker/internal/domain/rating"
)

type createPlayerRequest struct {
	Name string `json:"name"`
}

// playerRef accepts {"id":n}, {"name":"x"}, a bare name or a bare id.
type playerRef app.PlayerRef

func (p *playerRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		return fmt.Errorf("%w: empty player reference", rating.ErrInvalidInput)
	case b[0] == '"':
		var name string
		if err := json.Unmarshal(b, &name); err != nil {
			return err
		}
		*p = playerRef{Name: name}
		return nil
	case b[0] == '{':
		var obj struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		*p = playerRef{ID: obj.ID, Name: obj.Name}
		return nil
	default:
		id, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: player reference %s", rating.ErrInvalidInput, b)
		}
		*p = playerRef{ID: id}
		return nil
	}
}

// parseRef reads a query value: digits name an id, anything else a name.
func parseRef(raw string) app.PlayerRef {
	raw = strings.TrimSpace(raw)
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
		return app.PlayerRef{ID: id}
	}
	return app.PlayerRef{Name: raw}
}

type submitMatchRequest struct {
	TeamA        []playerRef    `json:"team_a"`
	TeamB        []playerRef    `json:"team_b"`
	Outcome      rating.Outcome `json:"outcome"`
	SubmissionID string         `json:"submission_id"`
}

func (m submitMatchRequest) submission() (app.Submission, error) {
	if len(m.TeamA) != rating.TeamSize || len(m.TeamB) != rating.TeamSize {
		return app.Submission{}, fmt.Errorf("%w: each team needs exactly %d players", rating.ErrInvalidInput, rating.TeamSize)
	}
	if !m.Outcome.Valid() {
		return app.Submission{}, fmt.Errorf("%w: missing", rating.ErrInvalidOutcome)
	}
	sub := app.Submission{Outcome: m.Outcome, SubmissionID: m.SubmissionID}
	for i := range rating.TeamSize {
		sub.TeamA[i] = app.PlayerRef(m.TeamA[i])
		sub.TeamB[i] = app.PlayerRef(m.TeamB[i])
	}
	return sub, nil
}
