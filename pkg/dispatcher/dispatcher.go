package dispatcher

import (
	"context"
	"fmt"
	"io"

	"github.com/nodeledger/dwn-core/pkg/dwnerrors"
	"github.com/nodeledger/dwn-core/pkg/handlers"
	"github.com/nodeledger/dwn-core/pkg/log"
	"github.com/nodeledger/dwn-core/pkg/message"
	"github.com/nodeledger/dwn-core/pkg/metrics"
)

// Dispatcher owns the process-wide registry of method handlers,
// passed in explicitly at construction rather than assembled through
// package-level init registration. It has no storage of its own:
// every handler call is routed straight to the *handlers.Handlers it
// was built with.
type Dispatcher struct {
	handlers *handlers.Handlers
}

// New builds a dispatcher over already-wired handlers.
func New(h *handlers.Handlers) *Dispatcher {
	return &Dispatcher{handlers: h}
}

// ProcessMessage is the in-process entrypoint: process_message(tenant, message,
// dataStream?). It resolves (interface, method), runs the matching
// handler, and translates any classified error (or, as a last resort,
// a recovered panic from a programming error the handler didn't
// anticipate) into a reply. Callers never see a raw Go
// error out of this surface.
func (d *Dispatcher) ProcessMessage(ctx context.Context, tenant string, msg message.Message, data io.Reader) (reply handlers.Reply) {
	defer func() {
		if r := recover(); r != nil {
			log.Logger.Error().Interface("panic", r).Str("tenant", tenant).Msg("process_message panicked")
			reply = errorReply(fmt.Errorf("dispatcher: internal error: %v", r))
		}
	}()

	ifc, meth, err := msg.InterfaceMethod()
	if err != nil {
		return errorReply(dwnerrors.Wrap(dwnerrors.CodeInvalidDescriptor, "resolve interface/method", err))
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.MessageProcessDuration, string(ifc), string(meth))

	out, err := d.route(ctx, tenant, ifc, meth, msg, data)
	if err != nil {
		log.Logger.Debug().Str("tenant", tenant).Str("interface", string(ifc)).Str("method", string(meth)).Err(err).Msg("message rejected")
		return errorReply(err)
	}
	return out
}

func (d *Dispatcher) route(ctx context.Context, tenant string, ifc message.Interface, meth message.Method, msg message.Message, data io.Reader) (handlers.Reply, error) {
	switch {
	case ifc == message.InterfaceRecords && meth == message.MethodWrite:
		return d.handlers.RecordsWrite(ctx, tenant, msg, data)
	case ifc == message.InterfaceRecords && meth == message.MethodRead:
		return d.handlers.RecordsRead(ctx, tenant, msg)
	case ifc == message.InterfaceRecords && meth == message.MethodQuery:
		return d.handlers.RecordsQuery(ctx, tenant, msg)
	case ifc == message.InterfaceRecords && meth == message.MethodSubscribe:
		return d.handlers.RecordsSubscribe(ctx, tenant, msg)
	case ifc == message.InterfaceRecords && meth == message.MethodDelete:
		return d.handlers.RecordsDelete(ctx, tenant, msg)
	case ifc == message.InterfaceProtocols && meth == message.MethodConfigure:
		return d.handlers.ProtocolsConfigure(ctx, tenant, msg)
	case ifc == message.InterfaceProtocols && meth == message.MethodQuery:
		return d.handlers.ProtocolsQuery(ctx, tenant, msg)
	case ifc == message.InterfaceMessages && meth == message.MethodGet:
		return d.handlers.MessagesGet(ctx, tenant, msg)
	case ifc == message.InterfaceMessages && meth == message.MethodSubscribe:
		return d.handlers.MessagesSubscribe(ctx, tenant, msg)
	case ifc == message.InterfacePermissions && meth == message.MethodRequest:
		return d.handlers.PermissionsRequest(ctx, tenant, msg, data)
	case ifc == message.InterfacePermissions && meth == message.MethodGrant:
		return d.handlers.PermissionsGrant(ctx, tenant, msg, data)
	case ifc == message.InterfacePermissions && meth == message.MethodRevoke:
		return d.handlers.PermissionsRevoke(ctx, tenant, msg, data)
	default:
		return handlers.Reply{}, dwnerrors.New(dwnerrors.CodeInvalidDescriptor,
			fmt.Sprintf("no handler registered for (interface=%s, method=%s)", ifc, meth))
	}
}

// errorReply mirrors handlers' own internal error-to-reply
// translation, duplicated here rather than exported from
// pkg/handlers because the dispatcher owns the final catch: known
// classified errors become reply status/detail, anything else
// becomes a 500 with no stack trace attached.
func errorReply(err error) handlers.Reply {
	if e, ok := dwnerrors.As(err); ok {
		return handlers.Reply{Status: handlers.Status{Code: e.Code.HTTPStatus(), Detail: e.Error()}}
	}
	return handlers.Reply{Status: handlers.Status{Code: 500, Detail: err.Error()}}
}
