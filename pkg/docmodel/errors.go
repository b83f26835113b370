package docmodel

import (
	"errors"
	"fmt"
)

// ConfigError reports an ill-formed rule configuration: a bad scope, a
// duplicate table default, a duplicate user-attribute name. It is
// surfaced synchronously from Store rebuild; the caller keeps the prior
// store in force.
type ConfigError struct {
	Code    string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ErrNeedReload is the distinguished client-reload signal: the session's
// schema view has diverged (a column gained or lost accessibility) and a
// full resync is required instead of an incremental mutation.
var ErrNeedReload = errors.New("NEED_RELOAD")

// ErrNeedsRow is the distinguished signal a compiled rule predicate
// returns when it references record fields but no record was supplied.
var ErrNeedsRow = errors.New("rule needs row data")
