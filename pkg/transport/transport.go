// Package transport implements the MessageBus external collaborator: a
// topic-addressed cast/call transport that FairnessAgent depends on
// without depending on any particular wire protocol.
package transport

import "context"

// ProtocolVersion is the fairness topic's wire version. GRPCBus carries it
// on every envelope; the receiving side neither checks nor logs it —
// spec.md §6 names a single version ("1.0") with no negotiation surface.
const ProtocolVersion = "1.0"

// Handler is invoked for casts and calls addressed to this host. Casts
// ignore the returned string; calls return it to the caller.
type Handler func(ctx context.Context, payload string) (string, error)

// HandlerRegistry is the receiving side of a MessageBus: the agent
// registers its RPC endpoints (set_metric, receive_host_supply,
// receive_heavinesses) here, breaking the agent/transport dependency
// cycle per spec.md DESIGN NOTES §9.
type HandlerRegistry interface {
	Register(method string, h Handler)
}

// Bus is the interface FairnessAgent depends on for peer communication.
// Cast is fire-and-forget: a dropped cast is tolerated, never surfaced as
// an error (spec.md §5/§7). Call waits for a reply.
type Bus interface {
	HandlerRegistry
	Cast(ctx context.Context, host, method, payload string) error
	Call(ctx context.Context, host, method, payload string) (string, error)
}
