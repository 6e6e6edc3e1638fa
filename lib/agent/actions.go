// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"

	"github.com/bureau-foundation/genop/lib/api"
	"github.com/bureau-foundation/genop/lib/codec"
	"github.com/bureau-foundation/genop/lib/fault"
	"github.com/bureau-foundation/genop/lib/ref"
	"github.com/bureau-foundation/genop/lib/service"
	"github.com/bureau-foundation/genop/lib/session"
	"github.com/bureau-foundation/genop/lib/token"
	"github.com/bureau-foundation/genop/lib/version"
)

// registerActions registers every socket action on the server.
func (a *Agent) registerActions(server *service.SocketServer) {
	server.Handle(api.ActionStatus, a.handleStatus)
	server.Handle(api.ActionDescribe, a.handleDescribe)
	server.Handle(api.ActionDevices, a.handleDevices)

	server.Handle(api.ActionOpenSession, a.handleOpenSession)
	server.Handle(api.ActionCloseSession, a.handleCloseSession)
	server.Handle(api.ActionPing, a.handlePing)
	server.Handle(api.ActionSessionInfo, a.handleSessionInfo)

	server.Handle(api.ActionRegister, a.handleRegister)
	server.Handle(api.ActionRelease, a.handleRelease)
	server.Handle(api.ActionShare, a.handleShare)
	server.Handle(api.ActionInfo, a.handleInfo)

	server.Handle(api.ActionDispatch, a.handleDispatch)

	server.HandleStream(api.ActionUpload, a.handleUpload)
	server.HandleStream(api.ActionRead, a.handleRead)
}

// decode unmarshals a request into v. A malformed request is the
// caller's contract violation.
func decode(raw []byte, v any) error {
	if err := codec.Unmarshal(raw, v); err != nil {
		return fault.New(fault.InvalidArgument, "malformed request: %v", err)
	}
	return nil
}

// begin validates a session and holds it in flight, so the reaper
// cannot close it while the action runs.
func (a *Agent) begin(id ref.Session) (func(), error) {
	if id.IsZero() {
		return nil, fault.New(fault.UnknownSession, "missing required field: session")
	}
	return a.sessions.Begin(id)
}

func (a *Agent) handleStatus(context.Context, []byte) (any, error) {
	return api.StatusResponse{
		Version:        version.Info(),
		UptimeSeconds:  a.clock.Now().Sub(a.startedAt).Seconds(),
		Sessions:       a.sessions.Len(),
		Resources:      a.registry.CountByType(),
		Workers:        a.pool.Size(),
		WorkersRunning: a.pool.Running(),
		StagedBlobs:    a.staging.Len(),
		StagedBytes:    a.staging.Bytes(),
		Plugins:        a.plugins.Names(),
		Operations:     a.dispatcher.Kinds(),
	}, nil
}

func (a *Agent) handleDescribe(context.Context, []byte) (any, error) {
	return api.DescribeResponse{Operations: a.dispatcher.Describe()}, nil
}

func (a *Agent) handleDevices(context.Context, []byte) (any, error) {
	return a.probe(), nil
}

func (a *Agent) handleOpenSession(_ context.Context, raw []byte) (any, error) {
	var request api.OpenSessionRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	options := session.Options{Profiling: request.Profiling, Label: request.Label}
	if a.publicKey != nil {
		if len(request.Token) == 0 {
			return nil, fault.New(fault.InvalidArgument, "this agent requires a session token")
		}
		verified, err := token.Verify(a.publicKey, request.Token, a.config.Auth.Audience, a.clock.Now())
		if err != nil {
			a.logger.Warn("session token rejected", "error", err)
			return nil, fault.New(fault.InvalidArgument, "session token rejected: %v", err)
		}
		options.Subject = verified.Subject
	}
	id, err := a.sessions.Open(options)
	if err != nil {
		return nil, err
	}
	return api.OpenSessionResponse{Session: id}, nil
}

func (a *Agent) handleCloseSession(_ context.Context, raw []byte) (any, error) {
	var request api.SessionRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	return nil, a.sessions.Close(request.Session)
}

func (a *Agent) handlePing(_ context.Context, raw []byte) (any, error) {
	var request api.SessionRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	return nil, a.sessions.Touch(request.Session)
}

func (a *Agent) handleSessionInfo(_ context.Context, raw []byte) (any, error) {
	var request api.SessionRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	if err := a.sessions.Touch(request.Session); err != nil {
		return nil, err
	}
	return a.sessions.Info(request.Session)
}

func (a *Agent) handleRegister(_ context.Context, raw []byte) (any, error) {
	var request api.RegisterRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	done, err := a.begin(request.Session)
	if err != nil {
		return nil, err
	}
	defer done()

	payload := request.Data
	if request.Blob != nil {
		if len(request.Data) > 0 {
			return nil, fault.New(fault.InvalidArgument, "data and blob are mutually exclusive")
		}
		payload, err = a.staging.Take(request.Session, *request.Blob)
		if err != nil {
			return nil, err
		}
	}

	id, err := a.registry.RegisterBytes(request.Session, request.Type, payload)
	if err != nil {
		return nil, err
	}
	if err := a.sessions.Attach(request.Session, id); err != nil {
		// The session closed while registering.
		a.registry.Drop(request.Session, id)
		return nil, err
	}
	return api.RegisterResponse{Resource: id}, nil
}

func (a *Agent) handleRelease(_ context.Context, raw []byte) (any, error) {
	var request api.ResourceRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	done, err := a.begin(request.Session)
	if err != nil {
		return nil, err
	}
	defer done()

	if err := a.registry.Drop(request.Session, request.Resource); err != nil {
		return nil, err
	}
	a.sessions.Detach(request.Session, request.Resource)
	return nil, nil
}

func (a *Agent) handleShare(_ context.Context, raw []byte) (any, error) {
	var request api.ShareRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	done, err := a.begin(request.Session)
	if err != nil {
		return nil, err
	}
	defer done()
	if err := a.sessions.Validate(request.Target); err != nil {
		return nil, err
	}

	granted, err := a.registry.Share(request.Session, request.Resource, request.Target)
	if err != nil {
		return nil, err
	}
	if granted {
		if err := a.sessions.Attach(request.Target, request.Resource); err != nil {
			a.registry.Drop(request.Target, request.Resource)
			return nil, err
		}
	}
	return api.ShareResponse{Granted: granted}, nil
}

func (a *Agent) handleInfo(_ context.Context, raw []byte) (any, error) {
	var request api.ResourceRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	done, err := a.begin(request.Session)
	if err != nil {
		return nil, err
	}
	defer done()
	return a.registry.Info(request.Session, request.Resource)
}

func (a *Agent) handleDispatch(ctx context.Context, raw []byte) (any, error) {
	var request api.DispatchRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	return a.dispatcher.Dispatch(ctx, request)
}
