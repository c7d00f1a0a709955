package ruleengine

import (
	"github.com/sirupsen/logrus"
)

// Registry holds the process-wide catalogue of rule handlers, keyed by
// rule id. Both hard-coded handlers and generic data-driven handlers
// loaded from the rules table register here under the same namespace; a
// collision is resolved in favor of the handler that registered first
// through RegisterBuiltin, with a warning logged rather than running both
// (an office_fee_validation table row must never shadow or duplicate the
// hard-coded office-fee handler).
type Registry struct {
	log      *logrus.Entry
	handlers map[string]Handler
	builtin  map[string]bool
}

func NewRegistry(log *logrus.Entry) *Registry {
	return &Registry{
		log:      log,
		handlers: make(map[string]Handler),
		builtin:  make(map[string]bool),
	}
}

// RegisterBuiltin adds an in-code handler. Builtins always win a later
// collision with a data-driven registration.
func (r *Registry) RegisterBuiltin(h Handler) {
	id := h.ID()
	if _, exists := r.handlers[id]; exists {
		r.log.WithField("ruleId", id).Warn("duplicate builtin rule registration, keeping the first")
		return
	}
	r.handlers[id] = h
	r.builtin[id] = true
}

// RegisterGeneric adds a data-driven handler loaded from the rules table.
// If a builtin already owns this id, the builtin wins and the generic
// registration is dropped with a warning.
func (r *Registry) RegisterGeneric(h Handler) {
	id := h.ID()
	if r.builtin[id] {
		r.log.WithField("ruleId", id).Warn("rule id has both a builtin and a data-driven registration; builtin wins")
		return
	}
	if _, exists := r.handlers[id]; exists {
		r.log.WithField("ruleId", id).Warn("duplicate data-driven rule registration, keeping the first")
		return
	}
	r.handlers[id] = h
}

// Handlers returns all registered handlers in a stable order (sorted by
// rule id), so progress reporting and log ordering are deterministic
// across runs with the same registered set.
func (r *Registry) Handlers() []Handler {
	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	sortStrings(ids)

	out := make([]Handler, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.handlers[id])
	}
	return out
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
