package daemon

import (
	"encoding/json"
	"errors"
	"time"

	"inboxd/internal/engine"
	"inboxd/internal/model"
	"inboxd/internal/store"
	"inboxd/internal/uds"
)

// registerHandlers wires the control socket command set.
func (d *Daemon) registerHandlers() {
	d.server.Handle(uds.CmdPing, func(req *uds.Request) *uds.Response {
		return uds.SuccessResponse(map[string]string{"status": "ok"})
	})

	d.server.Handle(uds.CmdRequest, d.handleRequest)
	d.server.Handle(uds.CmdUndo, d.handleUndo)
	d.server.Handle(uds.CmdGet, d.handleGet)
	d.server.Handle(uds.CmdAction, d.handleAction)
	d.server.Handle(uds.CmdSeed, d.handleSeed)

	d.server.Handle(uds.CmdStats, func(req *uds.Request) *uds.Response {
		return uds.SuccessResponse(d.presenter.Stats())
	})

	d.server.Handle(uds.CmdShutdown, func(req *uds.Request) *uds.Response {
		d.log(engine.LogLevelInfo, "shutdown requested via UDS")
		go d.Shutdown()
		return uds.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
	})
}

func (d *Daemon) handleRequest(req *uds.Request) *uds.Response {
	var params uds.RequestParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, "invalid request params: "+err.Error())
	}
	if !model.IsEntityID(params.EntityID) {
		return uds.ErrorResponse(uds.ErrCodeValidation, "malformed entity_id: "+params.EntityID)
	}

	mutate, err := model.MutatorFor(params.Kind, params.Params)
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
	}

	var actionID string
	if params.GraceMs != nil {
		grace := time.Duration(*params.GraceMs) * time.Millisecond
		actionID, err = d.presenter.RequestWithGrace(params.EntityID, params.Kind, mutate, grace)
	} else {
		actionID, err = d.presenter.Request(params.EntityID, params.Kind, mutate)
	}
	if err != nil {
		return mutationError(err)
	}

	view, err := d.presenter.Action(actionID)
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}
	return uds.SuccessResponse(uds.RequestResult{
		ActionID: actionID,
		Deadline: view.Deadline,
		Entity:   view.NewState,
		Version:  view.AppliedVersion,
	})
}

func (d *Daemon) handleUndo(req *uds.Request) *uds.Response {
	var params uds.UndoParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, "invalid undo params: "+err.Error())
	}
	if !model.IsActionID(params.ActionID) {
		return uds.ErrorResponse(uds.ErrCodeValidation, "malformed action_id: "+params.ActionID)
	}

	if err := d.presenter.Undo(params.ActionID); err != nil {
		return mutationError(err)
	}
	return uds.SuccessResponse(map[string]string{"status": "cancelled", "action_id": params.ActionID})
}

func (d *Daemon) handleGet(req *uds.Request) *uds.Response {
	var params uds.GetParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, "invalid get params: "+err.Error())
	}

	if !model.IsEntityID(params.EntityID) {
		return uds.ErrorResponse(uds.ErrCodeValidation, "malformed entity_id: "+params.EntityID)
	}

	ent, err := d.presenter.Entity(params.EntityID)
	if err != nil {
		return mutationError(err)
	}
	return uds.SuccessResponse(ent)
}

func (d *Daemon) handleAction(req *uds.Request) *uds.Response {
	var params uds.ActionParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, "invalid action params: "+err.Error())
	}

	if !model.IsActionID(params.ActionID) {
		return uds.ErrorResponse(uds.ErrCodeValidation, "malformed action_id: "+params.ActionID)
	}

	view, err := d.presenter.Action(params.ActionID)
	if err != nil {
		return mutationError(err)
	}
	return uds.SuccessResponse(view)
}

func (d *Daemon) handleSeed(req *uds.Request) *uds.Response {
	var params uds.SeedParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, "invalid seed params: "+err.Error())
	}
	if !model.IsEntityID(params.EntityID) {
		return uds.ErrorResponse(uds.ErrCodeValidation, "malformed entity_id: "+params.EntityID)
	}

	ent := d.presenter.Seed(params.EntityID, params.State)
	return uds.SuccessResponse(ent)
}

// mutationError maps engine and store errors to protocol error codes.
func mutationError(err error) *uds.Response {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, engine.ErrUnknownAction):
		return uds.ErrorResponse(uds.ErrCodeNotFound, err.Error())
	case errors.Is(err, engine.ErrCancelTooLate):
		return uds.ErrorResponse(uds.ErrCodeTooLate, err.Error())
	case errors.Is(err, engine.ErrStaleUndo):
		return uds.ErrorResponse(uds.ErrCodeStaleUndo, err.Error())
	case errors.Is(err, engine.ErrSlotOccupied), errors.Is(err, store.ErrVersionConflict):
		return uds.ErrorResponse(uds.ErrCodeConflict, err.Error())
	default:
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}
}
