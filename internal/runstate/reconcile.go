package runstate

import "github.com/rewindhq/rewind/internal/event"

// Reconciler decides whether an arriving real event settles a pending
// synthetic placeholder. Consumers that issue optimistic local events
// can plug in a stricter policy (payload equality, producer-supplied
// correlation ids) without the store changing.
type Reconciler interface {
	// Matches reports whether real is the confirmed form of placeholder.
	Matches(placeholder, real event.Event) bool
}

// KindNodeReconciler is the default policy: a real event retires the
// first placeholder sharing its kind and node name.
type KindNodeReconciler struct{}

// Matches implements Reconciler.
func (KindNodeReconciler) Matches(placeholder, real event.Event) bool {
	return placeholder.Kind == real.Kind && placeholder.NodeName == real.NodeName
}

// ReconcilerFunc adapts a function to the Reconciler interface.
type ReconcilerFunc func(placeholder, real event.Event) bool

// Matches implements Reconciler.
func (f ReconcilerFunc) Matches(placeholder, real event.Event) bool {
	return f(placeholder, real)
}
