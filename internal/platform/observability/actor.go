package observability

import "context"

type actorHolder struct {
	actor string
}

type actorHolderKey struct{}

func withActorHolder(ctx context.Context, holder *actorHolder) context.Context {
	return context.WithValue(ctx, actorHolderKey{}, holder)
}

func actorHolderFrom(ctx context.Context) *actorHolder {
	holder, _ := ctx.Value(actorHolderKey{}).(*actorHolder)
	return holder
}
