package lookahead

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrNoCheckpoint = errors.New("lookahead: no checkpoint found")
	ErrBadStateFile = errors.New("lookahead: bad state file")
)

// ErrInvalidArgument is returned by constructors when a hyperparameter or input is out of range.
type ErrInvalidArgument struct {
	Name    string
	Value   interface{}
	Message string
}

func (err *ErrInvalidArgument) Error() string {
	return fmt.Sprintf("lookahead: invalid argument %s=%v: %s", err.Name, err.Value, err.Message)
}

func invalidArgument(name string, value interface{}, format string, args ...interface{}) error {
	return errors.WithStack(&ErrInvalidArgument{
		Name:    name,
		Value:   value,
		Message: fmt.Sprintf(format, args...),
	})
}
