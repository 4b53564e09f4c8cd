package errors

import (
	goerrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type classified struct{ class string }

func (c classified) Error() string { return "classified" }
func (c classified) Class() string { return c.class }

type plainErr struct{}

func (plainErr) Error() string { return "plain" }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "classifier wins", err: fmt.Errorf("wrap: %w", classified{class: "recoverable"}), want: "recoverable"},
		{name: "empty class falls back to type", err: classified{}, want: "errors_classified"},
		{name: "innermost type", err: fmt.Errorf("outer: %w", plainErr{}), want: "errors_plainerr"},
		{name: "errors.New", err: goerrors.New("x"), want: "errors_errorstring"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
