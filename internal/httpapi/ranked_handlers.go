package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"agora.org/internal/ranked"
)

// ordinalFields accepts the ordinal under its generic name or under the
// kind's own label.
type ordinalFields struct {
	Ordinal  *int `json:"ordinal,omitempty"`
	Level    *int `json:"level,omitempty"`
	Priority *int `json:"priority,omitempty"`
}

func (o ordinalFields) resolve(spec ranked.KindSpec) (int, error) {
	labelled := map[string]*int{"level": o.Level, "priority": o.Priority}
	var value *int
	for label, v := range labelled {
		if v == nil {
			continue
		}
		if label != spec.OrdinalLabel {
			return 0, fmt.Errorf("%w: %s has no %s", ranked.ErrInvalidInput, spec.Kind, label)
		}
		value = v
	}
	if o.Ordinal != nil {
		if value != nil && *value != *o.Ordinal {
			return 0, fmt.Errorf("%w: ordinal and %s disagree", ranked.ErrInvalidInput, spec.OrdinalLabel)
		}
		value = o.Ordinal
	}
	if value == nil {
		return 0, fmt.Errorf("%w: %s is required", ranked.ErrInvalidInput, spec.OrdinalLabel)
	}
	return *value, nil
}

type createPayload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	RoleID      string `json:"role_id"`
	ordinalFields
}

func (p createPayload) request(spec ranked.KindSpec) (ranked.CreateRequest, error) {
	ord, err := p.resolve(spec)
	if err != nil {
		return ranked.CreateRequest{}, err
	}
	return ranked.CreateRequest{
		Name:        p.Name,
		Ordinal:     ord,
		Description: p.Description,
		OwnerID:     p.RoleID,
	}, nil
}

type updatePayload struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
	ordinalFields
}

func (p updatePayload) request(spec ranked.KindSpec, id string) (ranked.UpdateRequest, error) {
	ord, err := p.resolve(spec)
	if err != nil {
		return ranked.UpdateRequest{}, err
	}
	if id == "" {
		id = p.ID
	} else if p.ID != "" && p.ID != id {
		return ranked.UpdateRequest{}, fmt.Errorf("%w: body id %s does not match path", ranked.ErrInvalidInput, p.ID)
	}
	return ranked.UpdateRequest{
		ID:          id,
		Name:        p.Name,
		Ordinal:     ord,
		Description: p.Description,
	}, nil
}

type movePayload struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
}

type batchPayload struct {
	Deletes []string        `json:"deletes"`
	Moves   []movePayload   `json:"moves"`
	Updates []updatePayload `json:"updates"`
	Creates []createPayload `json:"creates"`
}

func (p batchPayload) request(spec ranked.KindSpec) (ranked.BatchRequest, error) {
	req := ranked.BatchRequest{Deletes: p.Deletes}
	for _, mv := range p.Moves {
		req.Moves = append(req.Moves, ranked.MoveRequest{SourceID: mv.SourceID, TargetID: mv.TargetID})
	}
	for i, up := range p.Updates {
		u, err := up.request(spec, "")
		if err != nil {
			return ranked.BatchRequest{}, fmt.Errorf("updates[%d]: %w", i, err)
		}
		req.Updates = append(req.Updates, u)
	}
	for i, cr := range p.Creates {
		c, err := cr.request(spec)
		if err != nil {
			return ranked.BatchRequest{}, fmt.Errorf("creates[%d]: %w", i, err)
		}
		req.Creates = append(req.Creates, c)
	}
	return req, nil
}

type listResponse struct {
	Items []ranked.View `json:"items"`
}

func collectionPath(kind ranked.Kind) string {
	return "/v1/" + string(kind) + "s"
}

// handleKind routes /v1/{kind}s, /v1/{kind}s/batch, /v1/{kind}s/{id} and
// /v1/{kind}s/{id}/move.
func (a *API) handleKind(kind ranked.Kind) http.HandlerFunc {
	spec, err := ranked.SpecFor(kind)
	if err != nil {
		panic(err)
	}
	prefix := collectionPath(kind)
	return func(w http.ResponseWriter, r *http.Request) {
		if a.ranked == nil {
			writeError(w, r, http.StatusServiceUnavailable, "ranked service unavailable")
			return
		}
		rest := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
		if rest == "" {
			switch r.Method {
			case http.MethodGet:
				a.list(w, r, spec)
			case http.MethodPost:
				a.create(w, r, spec)
			default:
				methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
			}
			return
		}
		parts := strings.Split(rest, "/")
		switch {
		case len(parts) == 1 && parts[0] == "batch":
			if r.Method != http.MethodPost {
				methodNotAllowed(w, r, http.MethodPost)
				return
			}
			a.batch(w, r, spec)
		case len(parts) == 1:
			switch r.Method {
			case http.MethodPut:
				a.update(w, r, spec, parts[0])
			case http.MethodDelete:
				a.remove(w, r, spec, parts[0])
			default:
				methodNotAllowed(w, r, http.MethodPut, http.MethodDelete)
			}
		case len(parts) == 2 && parts[1] == "move":
			if r.Method != http.MethodPost {
				methodNotAllowed(w, r, http.MethodPost)
				return
			}
			a.move(w, r, spec, parts[0])
		default:
			writeError(w, r, http.StatusNotFound, "resource not found")
		}
	}
}

func (a *API) list(w http.ResponseWriter, r *http.Request, spec ranked.KindSpec) {
	views, err := a.ranked.List(r.Context(), spec.Kind)
	if err != nil {
		handleRankedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: nonNil(views)})
}

func (a *API) create(w http.ResponseWriter, r *http.Request, spec ranked.KindSpec) {
	var payload createPayload
	if !decodeOrReject(w, r, &payload) {
		return
	}
	req, err := payload.request(spec)
	if err != nil {
		handleRankedError(w, r, err)
		return
	}
	view, err := a.ranked.Create(r.Context(), spec.Kind, req)
	if err != nil {
		handleRankedError(w, r, err)
		return
	}
	a.audit(r.Context(), "ranked.create", spec.Kind, view.ID, map[string]any{
		"name":    view.Name,
		"ordinal": view.Ordinal,
	})
	a.publish(r.Context(), spec.Kind, "create", 0, view.ID)
	w.Header().Set("Location", collectionPath(spec.Kind)+"/"+view.ID)
	writeJSON(w, http.StatusCreated, view)
}

func (a *API) update(w http.ResponseWriter, r *http.Request, spec ranked.KindSpec, id string) {
	var payload updatePayload
	if !decodeOrReject(w, r, &payload) {
		return
	}
	req, err := payload.request(spec, id)
	if err != nil {
		handleRankedError(w, r, err)
		return
	}
	view, err := a.ranked.Update(r.Context(), spec.Kind, req)
	if err != nil {
		handleRankedError(w, r, err)
		return
	}
	a.audit(r.Context(), "ranked.update", spec.Kind, view.ID, map[string]any{
		"name":    view.Name,
		"ordinal": view.Ordinal,
	})
	a.publish(r.Context(), spec.Kind, "update", 0, view.ID)
	writeJSON(w, http.StatusOK, view)
}

func (a *API) remove(w http.ResponseWriter, r *http.Request, spec ranked.KindSpec, id string) {
	if err := a.ranked.Delete(r.Context(), spec.Kind, id); err != nil {
		handleRankedError(w, r, err)
		return
	}
	a.audit(r.Context(), "ranked.delete", spec.Kind, id, map[string]any{
		"policy": spec.OnDelete.String(),
	})
	a.publish(r.Context(), spec.Kind, "delete", 0, id)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) move(w http.ResponseWriter, r *http.Request, spec ranked.KindSpec, id string) {
	var payload movePayload
	if !decodeOrReject(w, r, &payload) {
		return
	}
	if payload.SourceID != "" && payload.SourceID != id {
		writeError(w, r, http.StatusBadRequest, "source_id does not match path")
		return
	}
	view, err := a.ranked.DeleteAndMove(r.Context(), spec.Kind, id, payload.TargetID)
	if err != nil {
		handleRankedError(w, r, err)
		return
	}
	a.audit(r.Context(), "ranked.move", spec.Kind, id, map[string]any{
		"target_id":  view.ID,
		"dependents": view.DependentCount,
	})
	a.publish(r.Context(), spec.Kind, "move", 0, id, view.ID)
	writeJSON(w, http.StatusOK, view)
}

func (a *API) batch(w http.ResponseWriter, r *http.Request, spec ranked.KindSpec) {
	var payload batchPayload
	if !decodeOrReject(w, r, &payload) {
		return
	}
	req, err := payload.request(spec)
	if err != nil {
		handleRankedError(w, r, err)
		return
	}
	views, err := a.ranked.BatchReconcile(r.Context(), spec.Kind, req)
	if err != nil {
		handleRankedError(w, r, err)
		return
	}
	a.audit(r.Context(), "ranked.batch", spec.Kind, "", map[string]any{
		"deletes": len(req.Deletes),
		"moves":   len(req.Moves),
		"updates": len(req.Updates),
		"creates": len(req.Creates),
	})
	a.publish(r.Context(), spec.Kind, "batch", len(views))
	writeJSON(w, http.StatusOK, listResponse{Items: nonNil(views)})
}

func decodeOrReject(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := decodeJSON(r, dst)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	writeError(w, r, http.StatusBadRequest, err.Error())
	return false
}

func nonNil(views []ranked.View) []ranked.View {
	if views == nil {
		return []ranked.View{}
	}
	return views
}

func parseKindParam(raw string) (string, error) {
	kind, err := ranked.ParseKind(raw)
	if err != nil {
		return "", err
	}
	return string(kind), nil
}
