package order

import (
	"github.com/go-faster/errors"

	"github.com/xenking/kart-ledger/internal/domain/apperr"
	"github.com/xenking/kart-ledger/internal/domain/auth"
)

// Action is an operation on an existing order that needs authorization.
type Action string

const (
	ActionView          Action = "view"
	ActionCancel        Action = "cancel"
	ActionAdvance       Action = "advance"
	ActionRequestReturn Action = "request_return"
	ActionReviewReturn  Action = "review_return"
)

// Authorize checks that actor may perform action on o. Customers act on
// their own orders, sellers on orders containing their products and admins on
// everything. Failures match apperr.ErrForbidden, never apperr.ErrNotFound.
func Authorize(actor auth.Actor, o *Order, action Action) error {
	switch actor.Role {
	case auth.RoleAdmin:
		return nil
	case auth.RoleCustomer:
		if o.UserID != actor.ID {
			return errors.Wrapf(apperr.ErrForbidden, "order %s belongs to another customer", o.ID)
		}
		switch action {
		case ActionView, ActionCancel, ActionRequestReturn:
			return nil
		}
	case auth.RoleSeller:
		if !o.HasSeller(actor.ID) {
			return errors.Wrapf(apperr.ErrForbidden, "order %s has no items from seller", o.ID)
		}
		switch action {
		case ActionView, ActionCancel, ActionAdvance, ActionReviewReturn:
			return nil
		}
	}
	return errors.Wrapf(apperr.ErrForbidden, "%s may not %s orders", actor.Role, action)
}
