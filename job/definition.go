package job

import (
	"context"
	"encoding/json"
	"fmt"
)

// RegisterFunc registers a typed handler. The job's keyword arguments are
// decoded into A before the typed handler runs, so job code stays free of
// map plumbing:
//
//	job.RegisterFunc(reg, "send_email", func(ctx context.Context, in EmailArgs) (any, error) {
//	    return nil, mailer.Send(in.To, in.Subject)
//	})
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterFunc[A any](r *Registry, name string, fn func(ctx context.Context, args A) (any, error)) {
	handler := func(ctx context.Context, j *Job) (any, error) {
		var a A
		if len(j.Kwargs) > 0 {
			raw, err := json.Marshal(j.Kwargs)
			if err != nil {
				return nil, fmt.Errorf("marshal kwargs for %q: %w", name, err)
			}
			if err := json.Unmarshal(raw, &a); err != nil {
				return nil, fmt.Errorf("unmarshal kwargs for %q: %w", name, err)
			}
		}
		return fn(ctx, a)
	}

	r.Register(name, handler)
}
