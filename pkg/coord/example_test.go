package coord_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/keelframework/keel/pkg/coord"
)

// ExampleDetect demonstrates bounding the wait on a cross-scope call.
func ExampleDetect() {
	result, err := coord.Detect(context.Background(), time.Second, func(ctx context.Context) (string, error) {
		return "reply", nil
	})

	fmt.Println(result, err)
	// Output: reply <nil>
}

// ExampleDetect_timeout demonstrates how an unresponsive call surfaces.
func ExampleDetect_timeout() {
	_, err := coord.Detect(context.Background(), 20*time.Millisecond, func(ctx context.Context) (string, error) {
		// Never resolves on its own.
		<-ctx.Done()
		return "", ctx.Err()
	})

	fmt.Println(coord.IsDeadlock(err))
	// Output: true
}

// ExamplePriorityCoordinator demonstrates exclusive resource ownership.
func ExamplePriorityCoordinator() {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	pc := coord.NewPriorityCoordinator(logger, nil, nil)

	ctx := context.Background()
	pc.Acquire(ctx, "db-writer", "checkout", 10)

	owner, _ := pc.Owner("db-writer")
	fmt.Println(owner)

	// Releasing someone else's resource is an explicit error.
	err := pc.Release("db-writer", "catalog")
	fmt.Println(errors.Is(err, coord.ErrNotOwner))

	pc.Release("db-writer", "checkout")
	_, held := pc.Owner("db-writer")
	fmt.Println(held)
	// Output:
	// checkout
	// true
	// false
}

// ExampleCancellationCoordinator demonstrates scope-linked cancellation.
func ExampleCancellationCoordinator() {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	c := coord.NewCancellationCoordinator(logger, nil, nil)

	owner := coord.NewTask(context.Background())
	dep := coord.NewTask(context.Background())

	c.RegisterOwnerTask(owner, "checkout")
	c.RegisterDependentTask(dep, "checkout-worker", "checkout")

	// Cancelling the owner's unit of work reaches the dependent.
	owner.Cancel()
	<-dep.Done()

	fmt.Println(dep.State())
	// Output: cancelled
}
