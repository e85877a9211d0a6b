package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/mikaelliljedahl/PRFactory-sub003/id"
	"github.com/mikaelliljedahl/PRFactory-sub003/item"
	"github.com/mikaelliljedahl/PRFactory-sub003/state"
)

// TriggerRequest is the body of POST /v1/items.
type TriggerRequest struct {
	ExternalKey string `json:"external_key"`
}

// CancelRequest is the body of POST /v1/items/{itemID}/cancel.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// ImplementResponse is the body returned by POST /v1/items/{itemID}/implement.
type ImplementResponse struct {
	RequestID id.RequestID `json:"request_id"`
	GraphID   string       `json:"graph_id"`
}

func (a *API) triggerItem(w http.ResponseWriter, r *http.Request) {
	tenant, ok := a.tenant(w, r)
	if !ok {
		return
	}

	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ExternalKey == "" {
		a.writeError(w, http.StatusBadRequest, "body must carry a non-empty external_key")
		return
	}

	wi, err := a.eng.Trigger(r.Context(), tenant, req.ExternalKey)
	if err != nil {
		a.storeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, wi)
}

func (a *API) listItems(w http.ResponseWriter, r *http.Request) {
	tenant, ok := a.tenant(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	opts := item.ListOpts{
		Phase:           state.Phase(q.Get("phase")),
		IncludeArchived: q.Get("include_archived") == "true",
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			a.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			a.writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		opts.Offset = n
	}

	items, err := a.eng.ListWorkItems(r.Context(), tenant, opts)
	if err != nil {
		a.storeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, items)
}

func (a *API) getItem(w http.ResponseWriter, r *http.Request) {
	tenant, ok := a.tenant(w, r)
	if !ok {
		return
	}
	itemID, err := id.ParseWorkItemID(r.PathValue("itemID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid work item ID")
		return
	}

	wi, err := a.eng.WorkItem(r.Context(), tenant, itemID)
	if err != nil {
		a.storeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, wi)
}

func (a *API) cancelItem(w http.ResponseWriter, r *http.Request) {
	tenant, ok := a.tenant(w, r)
	if !ok {
		return
	}
	itemID, err := id.ParseWorkItemID(r.PathValue("itemID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid work item ID")
		return
	}

	var req CancelRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Reason == "" {
		req.Reason = "cancelled via API"
	}

	if err := a.eng.Cancel(r.Context(), tenant, itemID, req.Reason); err != nil {
		a.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) implementItem(w http.ResponseWriter, r *http.Request) {
	tenant, ok := a.tenant(w, r)
	if !ok {
		return
	}
	itemID, err := id.ParseWorkItemID(r.PathValue("itemID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid work item ID")
		return
	}

	wi, err := a.eng.WorkItem(r.Context(), tenant, itemID)
	if err != nil {
		a.storeError(w, err)
		return
	}
	if wi.Phase != state.PlanApproved {
		a.writeError(w, http.StatusConflict, "work item is in phase "+string(wi.Phase)+", want "+string(state.PlanApproved))
		return
	}

	req, err := a.eng.StartImplementation(r.Context(), tenant, itemID)
	if err != nil {
		a.storeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusAccepted, ImplementResponse{RequestID: req.ID, GraphID: req.GraphID})
}

func (a *API) itemCheckpoints(w http.ResponseWriter, r *http.Request) {
	tenant, ok := a.tenant(w, r)
	if !ok {
		return
	}
	itemID, err := id.ParseWorkItemID(r.PathValue("itemID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid work item ID")
		return
	}

	ckpts, err := a.eng.CheckpointHistory(r.Context(), tenant, itemID, r.URL.Query().Get("graph"))
	if err != nil {
		a.storeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, ckpts)
}
