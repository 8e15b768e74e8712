package main

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net/http"

	alarm "github.com/caarlos0/homekit-verisure"
)

//go:embed index.html
var index []byte

var indexTemplate = template.Must(template.New("index").Parse(string(index)))

// Registry is what the bridge needs from the alarm registry.
type Registry interface {
	Panels() []alarm.Panel
	Resolve(ids ...string) []alarm.Panel
	Attributes() map[string]map[string]any
	Dispatch(ctx context.Context, cmd alarm.Command) error
}

// Handler is implemented by the hap server mux.
type Handler interface {
	Handle(pattern string, handler http.Handler)
}

// entityIDs accepts either a single ID or a list of IDs.
// null is the same as no IDs at all.
type entityIDs []string

func (e *entityIDs) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*e = nil
		return nil
	}
	var id string
	if err := json.Unmarshal(b, &id); err == nil {
		*e = entityIDs{id}
		return nil
	}
	var ids []string
	if err := json.Unmarshal(b, &ids); err != nil {
		return err
	}
	*e = ids
	return nil
}

type serviceRequest struct {
	Code     *string   `json:"code"`
	EntityID entityIDs `json:"entity_id"`
}

type serviceResponse struct {
	Targets []string `json:"targets"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func registerAPI(mux Handler, registry Registry) {
	for _, kind := range alarm.Kinds {
		mux.Handle("/api/services/"+kind.String(), serviceHandler(registry, kind))
	}
	mux.Handle("/api/states", statesHandler(registry))
}

// serviceHandler calls the given service.
// Command failures are only logged, just like HomeKit commands, the caller
// should look at the states to know whether it worked.
func serviceHandler(registry Registry, kind alarm.Kind) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, errorResponse{"method not allowed"})
			return
		}

		var req serviceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, errorResponse{"invalid request: " + err.Error()})
			return
		}

		cmd := alarm.Command{
			Kind:    kind,
			Code:    req.Code,
			Targets: req.EntityID,
		}

		targets := []string{}
		if cmd.Code != nil {
			for _, p := range registry.Resolve(cmd.Targets...) {
				targets = append(targets, p.ID())
			}
		}

		log.Info("service called", "service", kind, "targets", targets)
		if err := registry.Dispatch(r.Context(), cmd); err != nil {
			log.Error("service failed", "service", kind, "err", err)
		}
		writeJSON(w, http.StatusOK, serviceResponse{targets})
	})
}

func statesHandler(registry Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, errorResponse{"method not allowed"})
			return
		}
		writeJSON(w, http.StatusOK, registry.Attributes())
	})
}

type PageItem struct {
	ID         string
	Name       string
	State      string
	CodeFormat string
}

func indexHandler(registry Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			writeJSON(w, http.StatusNotFound, errorResponse{"not found"})
			return
		}
		var items []PageItem
		for _, p := range registry.Panels() {
			item := PageItem{
				ID:    p.ID(),
				Name:  p.Name(),
				State: p.State().String(),
			}
			if re := p.CodeFormat(); re != nil {
				item.CodeFormat = re.String()
			}
			items = append(items, item)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := indexTemplate.Execute(w, struct {
			Panels []PageItem
		}{
			Panels: items,
		}); err != nil {
			log.Error("could not render index", "err", err)
		}
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("could not write response", "err", err)
	}
}
