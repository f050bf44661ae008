package httpapi

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mesh-intelligence/zeromonos/pkg/types"
)

// Datetime layouts accepted on input. Output always uses wireLayout.
const wireLayout = "2006-01-02T15:04:05"

var inputLayouts = []string{wireLayout, "2006-01-02T15:04", time.RFC3339Nano}

// wireTime encodes as a UTC wall-clock datetime without zone.
type wireTime time.Time

func (t wireTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UTC().Format(wireLayout))
}

func (t *wireTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: datetime must be a string", types.ErrValidation)
	}
	parsed, err := ParseDatetime(s)
	if err != nil {
		return err
	}
	*t = wireTime(parsed)
	return nil
}

// ParseDatetime accepts the wire layout, the same without seconds, or
// RFC 3339. Errors wrap types.ErrValidation.
func ParseDatetime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range inputLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognized datetime %q", types.ErrValidation, s)
}

// wireStatus renders a status the way clients display it: RECEIVED,
// IN_PROGRESS, and so on.
func wireStatus(s types.Status) string {
	return strings.ToUpper(string(s))
}

type residueJSON struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Description  string  `json:"desc"`
	Weight       float64 `json:"weight"`
	Volume       float64 `json:"volume"`
	RequestToken *string `json:"requestToken"`
}

func toResidueJSON(r *types.Residue) residueJSON {
	return residueJSON{
		ID:           r.ID,
		Name:         r.Name,
		Description:  r.Description,
		Weight:       r.Weight,
		Volume:       r.Volume,
		RequestToken: r.RequestToken,
	}
}

func toResiduesJSON(rs []*types.Residue) []residueJSON {
	out := make([]residueJSON, 0, len(rs))
	for _, r := range rs {
		out = append(out, toResidueJSON(r))
	}
	return out
}

type statusJSON struct {
	ID           int64    `json:"id"`
	Status       string   `json:"requestStatus"`
	Datetime     wireTime `json:"datetime"`
	RequestToken string   `json:"requestToken,omitempty"`
}

func toStatusesJSON(entries []types.StatusEntry) []statusJSON {
	out := make([]statusJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, statusJSON{
			ID:           e.ID,
			Status:       wireStatus(e.Status),
			Datetime:     wireTime(e.Timestamp),
			RequestToken: e.RequestToken,
		})
	}
	return out
}

type requestJSON struct {
	Token        string        `json:"token"`
	Municipality string        `json:"municipality"`
	Datetime     wireTime      `json:"datetime"`
	Status       string        `json:"requestStatus"`
	Residues     []residueJSON `json:"residues"`
	Statuses     []statusJSON  `json:"statuses"`
}

func toRequestJSON(r *types.Request) requestJSON {
	residues := make([]residueJSON, 0, len(r.Residues))
	for i := range r.Residues {
		residues = append(residues, toResidueJSON(&r.Residues[i]))
	}
	statuses := toStatusesJSON(r.Statuses)
	// The request already names its token.
	for i := range statuses {
		statuses[i].RequestToken = ""
	}
	return requestJSON{
		Token:        r.Token,
		Municipality: r.Municipality,
		Datetime:     wireTime(r.Datetime),
		Status:       wireStatus(r.Status),
		Residues:     residues,
		Statuses:     statuses,
	}
}

func toRequestsJSON(rs []*types.Request) []requestJSON {
	out := make([]requestJSON, 0, len(rs))
	for _, r := range rs {
		out = append(out, toRequestJSON(r))
	}
	return out
}

type createResidueBody struct {
	Name        string  `json:"name"`
	Description string  `json:"desc"`
	Weight      float64 `json:"weight"`
	Volume      float64 `json:"volume"`
}

type createRequestBody struct {
	Municipality string    `json:"municipality"`
	Datetime     *wireTime `json:"datetime"`
	Residues     []struct {
		ID int64 `json:"id"`
	} `json:"residues"`
}

func (b createRequestBody) toNewRequest() types.NewRequest {
	n := types.NewRequest{Municipality: b.Municipality}
	if b.Datetime != nil {
		n.Datetime = time.Time(*b.Datetime)
	}
	for _, r := range b.Residues {
		n.ResidueIDs = append(n.ResidueIDs, r.ID)
	}
	return n
}
