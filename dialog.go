package main

import (
	"context"
	"strings"

	"github.com/go-telegram/bot/models"
)

// DialogResolver consumes a free-text answer for an open dialog.
type DialogResolver func(ctx context.Context, msg *models.Message, action PendingAction) error

// DialogRouter hands private free text to the engine that owns the user's open dialog.
type DialogRouter struct {
	pending   *PendingTracker
	order     []PendingKind
	resolvers map[PendingKind]DialogResolver
}

func NewDialogRouter(pending *PendingTracker) *DialogRouter {
	return &DialogRouter{
		pending:   pending,
		resolvers: make(map[PendingKind]DialogResolver),
	}
}

// Register adds the resolver of kind. Kinds are consulted in registration order.
func (r *DialogRouter) Register(kind PendingKind, resolver DialogResolver) {
	if _, exists := r.resolvers[kind]; !exists {
		r.order = append(r.order, kind)
	}
	r.resolvers[kind] = resolver
}

// Route resolves msg against the open dialog of its sender and reports whether
// a dialog took it. Commands and text without an open dialog are ignored.
func (r *DialogRouter) Route(ctx context.Context, msg *models.Message) (bool, error) {
	if msg.From == nil || msg.Text == "" || strings.HasPrefix(msg.Text, "/") {
		return false, nil
	}

	for _, kind := range r.order {
		action, ok := r.pending.Lookup(msg.From.ID, kind)
		if !ok {
			continue
		}
		return true, r.resolvers[kind](ctx, msg, action)
	}
	return false, nil
}
