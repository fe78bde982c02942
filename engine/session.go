package engine

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
)

// WithSession runs fn inside a driver session. Store calls made with the
// context fn receives join the session. With an injected store, fn runs on
// the plain context.
func (e *Engine) WithSession(ctx context.Context, fn func(ctx context.Context) error) error {
	if e.client == nil {
		if e.store != nil {
			return fn(ctx)
		}
		return errDisconnected()
	}
	return e.client.UseSession(ctx, func(sc mongo.SessionContext) error {
		return fn(sc)
	})
}

// WithTransaction runs fn inside a transaction, committing when fn returns
// nil and aborting otherwise. Cascade operations made with fn's context
// become atomic. With an injected store, fn runs on the plain context and
// no transaction semantics apply.
func (e *Engine) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if e.client == nil {
		if e.store != nil {
			return fn(ctx)
		}
		return errDisconnected()
	}
	session, err := e.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	})
	return err
}
