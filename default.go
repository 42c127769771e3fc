package brood

import "context"

// defaultGroup backs the package-level convenience API. Cleanup remains
// explicit: call Wait or Shutdown before the process exits.
var defaultGroup = NewGroup()

// Default returns the package-level group.
func Default() *Group {
	return defaultGroup
}

// Go spawns a function child in the package-level group.
func Go(ctx context.Context, name string, fn Func) *Proc {
	return defaultGroup.Go(ctx, name, fn)
}

// Command spawns a command child in the package-level group.
func Command(ctx context.Context, name string, argv []string, opts ...CommandOption) (*Proc, error) {
	return defaultGroup.Command(ctx, name, argv, opts...)
}

// Wait reaps every child of the package-level group.
func Wait(ctx context.Context) error {
	return defaultGroup.Wait(ctx)
}

// Shutdown terminates and reaps every child of the package-level group.
func Shutdown(ctx context.Context) error {
	return defaultGroup.Shutdown(ctx)
}

// Active returns the number of live children in the package-level group.
func Active() int {
	return defaultGroup.Active()
}
